// Package cli implements linedex's inspection commands: local ones that open
// index artifacts directly, and the "client" tree that talks to a running
// linedex server over HTTP.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"linedex/internal/server"
)

// NewClientCommand returns the "client" command with all subcommands wired in.
func NewClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Query a running linedex server",
	}

	cmd.PersistentFlags().String("addr", "http://localhost:8000", "server address")
	cmd.PersistentFlags().StringP("output", "o", "table", "output format: table or json")
	cmd.PersistentFlags().Bool("msgpack", false, "request msgpack responses instead of JSON")

	cmd.AddCommand(
		newClientMetaCmd(),
		newClientReadCmd(),
	)
	return cmd
}

// clientFromCmd builds a server client from the persistent flags on cmd.
func clientFromCmd(cmd *cobra.Command) *server.Client {
	addr, _ := cmd.Flags().GetString("addr")
	useMsgpack, _ := cmd.Flags().GetBool("msgpack")
	return server.NewClient(addr).UseMsgpack(useMsgpack)
}

// outputFormat returns "json" or "table" from the --output flag.
func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}

func validateOutput(cmd *cobra.Command, _ []string) error {
	switch f := outputFormat(cmd); f {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("unknown output format %q, want table or json", f)
	}
}

func newClientMetaCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "meta",
		Short:   "Show line count and bucket index",
		Args:    cobra.NoArgs,
		PreRunE: validateOutput,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := clientFromCmd(cmd).Meta(cmd.Context())
			if err != nil {
				return err
			}
			return newPrinter(cmd).meta(metaView{
				TotalItems:  m.TotalItems,
				LetterIndex: m.LetterIndex,
				BuildID:     m.BuildID,
				Stale:       m.Stale,
			})
		},
	}
}

func newClientReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "read",
		Short:   "Read a range of lines",
		Args:    cobra.NoArgs,
		PreRunE: validateOutput,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetInt("start")
			limit, _ := cmd.Flags().GetInt("limit")
			lines, err := clientFromCmd(cmd).Lines(cmd.Context(), start, limit)
			if err != nil {
				return err
			}
			return newPrinter(cmd).lines(start, lines)
		},
	}
	cmd.Flags().Int("start", 0, "first line number")
	cmd.Flags().Int("limit", 50, "number of lines")
	return cmd
}
