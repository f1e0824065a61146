package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/spf13/cobra"

	"linedex/internal/home"
	"linedex/internal/index"
	"linedex/internal/reader"
	"linedex/internal/source"
)

// NewLocalCommands returns meta, read, verify and export, which work on a
// source and its index directory without a server.
func NewLocalCommands(logger *slog.Logger) []*cobra.Command {
	cmds := []*cobra.Command{
		newMetaCmd(),
		newReadCmd(logger),
		newVerifyCmd(logger),
		newExportCmd(),
	}
	for _, c := range cmds {
		c.Flags().String("index-dir", "", "index directory (default: SOURCE.linedex)")
		c.Flags().StringP("output", "o", "table", "output format: table or json")
	}
	return cmds
}

// loadIndex opens the index for the source named in args.
func loadIndex(cmd *cobra.Command, args []string) (*index.Index, error) {
	indexDir, _ := cmd.Flags().GetString("index-dir")
	dir := home.Resolve(indexDir, args[0])
	ix, err := index.Load(dir, index.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w", dir.Root(), err)
	}
	return ix, nil
}

func newMetaCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "meta SOURCE",
		Short:   "Show line count and bucket index of a built index",
		Args:    cobra.ExactArgs(1),
		PreRunE: validateOutput,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := loadIndex(cmd, args)
			if err != nil {
				return err
			}
			defer ix.Close()
			return newPrinter(cmd).meta(metaView{
				TotalItems:  ix.TotalLines(),
				LetterIndex: ix.Buckets(),
				BuildID:     ix.BuildID().String(),
				Stale:       sourceSizeChanged(args[0], ix),
			})
		},
	}
}

func newReadCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "read SOURCE",
		Short:   "Read a range of lines through the index",
		Args:    cobra.ExactArgs(1),
		PreRunE: validateOutput,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetInt("start")
			limit, _ := cmd.Flags().GetInt("limit")
			label, _ := cmd.Flags().GetString("label")

			ix, err := loadIndex(cmd, args)
			if err != nil {
				return err
			}
			defer ix.Close()

			if label != "" {
				b, ok := ix.Bucket(label)
				if !ok {
					return fmt.Errorf("no bucket %q", label)
				}
				start = b.Start
				if !cmd.Flags().Changed("limit") {
					limit = min(limit, b.Len())
				}
			}

			rd := reader.New(ix.Offsets(), reader.Config{Path: args[0], Logger: logger})
			lines, err := rd.ReadRange(cmd.Context(), start, limit)
			if err != nil {
				return err
			}
			return newPrinter(cmd).lines(start, lines)
		},
	}
	cmd.Flags().Int("start", 0, "first line number")
	cmd.Flags().Int("limit", 50, "number of lines")
	cmd.Flags().String("label", "", "start at the first line of this bucket (e.g. B or SPECIAL); without --limit stops at the bucket end")
	return cmd
}

var errVerifyFailed = errors.New("index verification failed")

func newVerifyCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify SOURCE",
		Short: "Check an index against its source",
		Long: `Verify checks that the offset table is well formed and that the source still
has the size recorded at build time. With --deep it rebuilds the index in
memory and compares every offset and bucket.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: validateOutput,
		RunE: func(cmd *cobra.Command, args []string) error {
			deep, _ := cmd.Flags().GetBool("deep")
			ix, err := loadIndex(cmd, args)
			if err != nil {
				return err
			}
			defer ix.Close()

			var problems []string
			if err := index.Verify(ix.Offsets(), ix.SourceSize()); err != nil {
				problems = append(problems, err.Error())
			}
			if sourceSizeChanged(args[0], ix) {
				problems = append(problems, "source size differs from build time")
			}
			if deep && len(problems) == 0 {
				policyFlag, _ := cmd.Flags().GetString("bucket-policy")
				policy, err := index.ParsePolicy(policyFlag)
				if err != nil {
					return err
				}
				fresh, err := index.NewBuilder(index.BuilderConfig{Policy: policy, Logger: logger}).BuildFile(cmd.Context(), args[0])
				if err != nil && !errors.Is(err, index.ErrEmptySource) {
					return err
				}
				problems = append(problems, compareIndexes(ix, fresh)...)
			}

			p := newPrinter(cmd)
			if p.format == "json" {
				if err := p.json(map[string]any{"ok": len(problems) == 0, "problems": problems}); err != nil {
					return err
				}
			} else {
				if len(problems) == 0 {
					_, _ = fmt.Fprintf(p.w, "ok: %d lines, build %s\n", ix.TotalLines(), ix.BuildID())
				}
				for _, pr := range problems {
					_, _ = fmt.Fprintf(p.w, "problem: %s\n", pr)
				}
			}
			if len(problems) > 0 {
				return errVerifyFailed
			}
			return nil
		},
	}
	cmd.Flags().Bool("deep", false, "rebuild in memory and compare")
	cmd.Flags().String("bucket-policy", string(index.PolicyStrict), "bucket policy for the --deep rebuild")
	return cmd
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export SOURCE",
		Short: "Write line-offsets.json and letter-index.json into the index directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexDir, _ := cmd.Flags().GetString("index-dir")
			dir := home.Resolve(indexDir, args[0])
			ix, err := loadIndex(cmd, args)
			if err != nil {
				return err
			}
			defer ix.Close()
			if err := index.ExportLegacy(dir, ix); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", dir.LegacyOffsetsPath(), dir.LegacyBucketsPath())
			return nil
		},
	}
}

// sourceSizeChanged reports whether the source cannot be opened or differs
// in size from the recorded build.
func sourceSizeChanged(path string, ix *index.Index) bool {
	src, err := source.Open(path)
	if err != nil {
		return true
	}
	defer src.Close()
	return src.Size() != ix.SourceSize()
}

// compareIndexes lists differences between a stored index and a fresh build.
func compareIndexes(stored, fresh *index.Index) []string {
	var problems []string
	if stored.TotalLines() != fresh.TotalLines() {
		return append(problems, fmt.Sprintf("line count: index has %d, source has %d", stored.TotalLines(), fresh.TotalLines()))
	}
	for i := range stored.TotalLines() {
		if a, b := stored.Offsets().At(i), fresh.Offsets().At(i); a != b {
			problems = append(problems, fmt.Sprintf("line %d: index offset %d, source offset %d", i, a, b))
			break
		}
	}
	if !maps.Equal(stored.Buckets(), fresh.Buckets()) {
		problems = append(problems, "bucket index differs from a fresh build")
	}
	return problems
}
