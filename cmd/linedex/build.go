package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"

	"github.com/spf13/cobra"

	"linedex/internal/home"
	"linedex/internal/index"
	"linedex/internal/source"
)

// buildOptions are the inputs of one build invocation.
type buildOptions struct {
	sources   []string
	globs     []string
	indexDir  string
	indexRoot string
	policy    index.BucketPolicy
	parallel  int
	export    bool
}

func newBuildCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [SOURCE...]",
		Short: "Build the line index for one or more source files",
		Long: `Build scans each source once and writes its offset table and bucket index.

With a single SOURCE, --index-dir chooses the output directory (default: SOURCE.linedex).
With several sources or --glob patterns, each index goes to --index-root/<name>.linedex,
or next to its source when --index-root is not set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			policyFlag, _ := cmd.Flags().GetString("bucket-policy")
			policy, err := index.ParsePolicy(policyFlag)
			if err != nil {
				return err
			}
			opts := buildOptions{sources: args, policy: policy}
			opts.globs, _ = cmd.Flags().GetStringSlice("glob")
			opts.indexDir, _ = cmd.Flags().GetString("index-dir")
			opts.indexRoot, _ = cmd.Flags().GetString("index-root")
			opts.parallel, _ = cmd.Flags().GetInt("parallel")
			opts.export, _ = cmd.Flags().GetBool("export")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return runBuild(ctx, logger, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().String("index-dir", "", "index directory for a single source (default: SOURCE.linedex)")
	cmd.Flags().String("index-root", "", "directory holding one index per source for batch builds")
	cmd.Flags().StringSlice("glob", nil, "source glob pattern, ** allowed (repeatable)")
	cmd.Flags().String("bucket-policy", string(index.PolicyStrict), "non-contiguous label handling: strict, overwrite, merge")
	cmd.Flags().Int("parallel", runtime.GOMAXPROCS(0), "maximum concurrent builds")
	cmd.Flags().Bool("export", false, "also write line-offsets.json and letter-index.json")
	return cmd
}

// buildJobs resolves sources and globs into build jobs.
func buildJobs(opts buildOptions) ([]index.BuildJob, error) {
	sources := opts.sources
	if len(opts.globs) > 0 {
		matched, err := source.Discover(opts.globs)
		if err != nil {
			return nil, fmt.Errorf("expand globs: %w", err)
		}
		if len(matched) == 0 {
			return nil, fmt.Errorf("no files match %v", opts.globs)
		}
		sources = append(sources, matched...)
	}
	if len(sources) == 0 {
		return nil, errors.New("no source given")
	}
	if opts.indexDir != "" && len(sources) > 1 {
		return nil, errors.New("--index-dir applies to a single source; use --index-root for several")
	}

	jobs := make([]index.BuildJob, 0, len(sources))
	seen := make(map[string]string)
	for _, src := range sources {
		var dir home.Dir
		switch {
		case opts.indexRoot != "":
			dir = home.Under(opts.indexRoot, src)
		default:
			dir = home.Resolve(opts.indexDir, src)
		}
		if prev, dup := seen[dir.Root()]; dup {
			if prev == src {
				continue
			}
			return nil, fmt.Errorf("%s and %s would share index directory %s", prev, src, dir.Root())
		}
		seen[dir.Root()] = src
		jobs = append(jobs, index.BuildJob{Source: src, Dir: dir})
	}
	return jobs, nil
}

func runBuild(ctx context.Context, logger *slog.Logger, out io.Writer, opts buildOptions) error {
	jobs, err := buildJobs(opts)
	if err != nil {
		return err
	}

	helper := index.NewBuildHelper(index.NewBuilder(index.BuilderConfig{
		Policy: opts.policy,
		Logger: logger,
	}))
	results, err := helper.BuildAll(ctx, jobs, opts.parallel)
	if err != nil {
		return err
	}

	for _, r := range results {
		if opts.export {
			if err := index.ExportLegacy(r.Job.Dir, r.Index); err != nil {
				return err
			}
		}
		note := ""
		if r.Empty {
			note = " (empty source)"
		}
		_, _ = fmt.Fprintf(out, "%s -> %s: %d lines, %d buckets, build %s%s\n",
			r.Job.Source, r.Job.Dir.Root(), r.Index.TotalLines(), len(r.Index.Buckets()), r.Index.BuildID(), note)
	}
	return nil
}
