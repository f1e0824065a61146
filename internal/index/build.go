package index

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"linedex/internal/callgroup"
	"linedex/internal/home"
)

// BuildJob names one source and where its artifacts go.
type BuildJob struct {
	Source string
	Dir    home.Dir
}

// BuildResult summarizes a finished, persisted build.
type BuildResult struct {
	Job     BuildJob
	Index   *Index
	Empty   bool
	Deduped bool // joined a build of the same directory already in flight
}

// BuildHelper builds and saves indexes. It deduplicates concurrent builds
// targeting the same index directory and runs batches with bounded
// parallelism.
type BuildHelper struct {
	builder *Builder
	group   callgroup.Group[string, BuildResult]
}

func NewBuildHelper(b *Builder) *BuildHelper {
	return &BuildHelper{builder: b}
}

// Build indexes job.Source and saves the artifacts to job.Dir. An empty
// source is persisted as a valid empty index and reported via Empty. If a
// build into the same directory is already in flight, this call waits for it
// and shares its result. If the caller's context is cancelled while waiting,
// it returns the context error without cancelling the in-flight build.
func (h *BuildHelper) Build(ctx context.Context, job BuildJob) (BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return BuildResult{}, err
	}

	ch := h.group.DoChan(job.Dir.Root(), func() (BuildResult, error) {
		ix, err := h.builder.BuildFile(context.WithoutCancel(ctx), job.Source)
		empty := errors.Is(err, ErrEmptySource)
		if err != nil && !empty {
			return BuildResult{}, fmt.Errorf("build %s: %w", job.Source, err)
		}
		if err := Save(job.Dir, ix); err != nil {
			return BuildResult{}, fmt.Errorf("save %s: %w", job.Dir.Root(), err)
		}
		return BuildResult{Job: job, Index: ix, Empty: empty}, nil
	})

	select {
	case r := <-ch:
		r.Val.Deduped = r.Shared
		return r.Val, r.Err
	case <-ctx.Done():
		return BuildResult{}, ctx.Err()
	}
}

// BuildAll runs jobs with at most parallel builds at once (parallel <= 0
// means unbounded). Results are in job order. The first failure cancels
// builds that have not started yet.
func (h *BuildHelper) BuildAll(ctx context.Context, jobs []BuildJob, parallel int) ([]BuildResult, error) {
	results := make([]BuildResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, job := range jobs {
		g.Go(func() error {
			r, err := h.Build(gctx, job)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
