// Command linedex indexes large sorted text files and serves paginated line
// reads from them.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"linedex/cmd/linedex/cli"
	"linedex/internal/config"
	"linedex/internal/logging"
	"linedex/internal/server"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// Create base logger with ComponentFilterHandler for per-component level control.
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // Allow all levels; filtering done by ComponentFilterHandler
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	server.Version = version

	if err := newRootCmd(logger, filterHandler).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, filter *logging.ComponentFilterHandler) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "linedex",
		Short:         "Line index builder and range server for large sorted text files",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyLogLevels(cmd, filter); err != nil {
				return err
			}
			pprofAddr, _ := cmd.Flags().GetString("pprof")
			if pprofAddr != "" {
				go func() {
					logger.Info("pprof server listening", "addr", pprofAddr)
					if err := http.ListenAndServe(pprofAddr, nil); err != nil {
						logger.Error("pprof server error", "error", err)
					}
				}()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("log-level", "info", "default log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringSlice("log-component", nil, "per-component log level, e.g. builder=debug (repeatable)")
	rootCmd.PersistentFlags().String("pprof", "", "pprof HTTP server address (e.g. localhost:6060); bind to loopback only")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(
		newBuildCmd(logger),
		newServeCmd(logger, filter),
		newCompressCmd(logger),
		versionCmd,
		cli.NewClientCommand(),
	)
	rootCmd.AddCommand(cli.NewLocalCommands(logger)...)
	return rootCmd
}

// applyLogLevels sets the filter's default level from --log-level and the
// per-component overrides from --log-component.
func applyLogLevels(cmd *cobra.Command, filter *logging.ComponentFilterHandler) error {
	levelFlag, _ := cmd.Flags().GetString("log-level")
	level, err := config.ParseLevel(levelFlag)
	if err != nil {
		return err
	}
	filter.SetDefaultLevel(level)

	overrides, _ := cmd.Flags().GetStringSlice("log-component")
	for _, o := range overrides {
		component, name, ok := strings.Cut(o, "=")
		if !ok || component == "" {
			return fmt.Errorf("bad --log-component %q, want component=level", o)
		}
		l, err := config.ParseLevel(name)
		if err != nil {
			return err
		}
		filter.SetLevel(component, l)
	}
	return nil
}
