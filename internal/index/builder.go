package index

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"linedex/internal/logging"
	"linedex/internal/source"
)

// readBufferSize bounds the builder's buffer. Longer lines are consumed in
// several fragments and never held whole.
const readBufferSize = 64 << 10

// ctxCheckInterval is how many lines the scan reads between context checks.
const ctxCheckInterval = 1 << 14

// Builder performs the single sequential indexing pass.
type Builder struct {
	policy BucketPolicy
	logger *slog.Logger
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// Policy handles labels that reappear non-contiguously. Default: PolicyStrict.
	Policy BucketPolicy

	Logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyStrict
	}
	return &Builder{
		policy: policy,
		logger: logging.Default(cfg.Logger).With("component", "builder"),
	}
}

// BuildFile opens the source at path (plain or seekable zstd) and indexes it.
// Open and read failures wrap ErrSourceUnreadable. An empty source yields a
// valid empty Index together with ErrEmptySource.
func (b *Builder) BuildFile(ctx context.Context, path string) (*Index, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer src.Close()

	start := time.Now()
	b.logger.Info("building index", "source", path, "bytes", src.Size(), "compressed", src.Compressed())

	ix, err := b.Build(ctx, source.Stream(src))
	if err != nil && !errors.Is(err, ErrEmptySource) {
		return nil, err
	}
	if errors.Is(err, ErrEmptySource) {
		b.logger.Warn("source is empty", "source", path)
		return ix, err
	}
	b.logger.Info("index built",
		"source", path,
		"lines", ix.TotalLines(),
		"buckets", len(ix.buckets),
		"build_id", ix.buildID,
		"elapsed", time.Since(start))
	return ix, nil
}

// Build indexes everything r yields. Line lengths are measured in raw bytes;
// the terminator belongs to the line it ends. A final line without a
// terminator is still a line.
func (b *Builder) Build(ctx context.Context, r io.Reader) (*Index, error) {
	buildID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate build id: %w", err)
	}

	br := bufio.NewReaderSize(r, readBufferSize)
	tracker := newBucketTracker(b.policy)

	var (
		offsets   []int64
		offset    int64
		lineStart = true
	)

	for {
		frag, err := br.ReadSlice(Terminator)
		if len(frag) > 0 {
			if lineStart {
				line := len(offsets)
				if line%ctxCheckInterval == 0 {
					if cerr := ctx.Err(); cerr != nil {
						return nil, cerr
					}
				}
				offsets = append(offsets, offset)
				if terr := tracker.observe(LabelOf(frag), line); terr != nil {
					return nil, terr
				}
			}
			offset += int64(len(frag))
			lineStart = frag[len(frag)-1] == Terminator
		}
		if err == nil || errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		return nil, fmt.Errorf("%w: read at byte %d: %w", ErrSourceUnreadable, offset, err)
	}

	buckets := tracker.finish(len(offsets))
	ix := &Index{
		buildID:    buildID,
		sourceSize: offset,
		offsets:    SliceOffsets(offsets),
		buckets:    buckets,
	}
	if len(offsets) == 0 {
		return ix, ErrEmptySource
	}
	return ix, nil
}

// bucketTracker assigns lines to label ranges as they are scanned.
type bucketTracker struct {
	policy  BucketPolicy
	buckets BucketIndex
	current string
	open    bool
}

func newBucketTracker(policy BucketPolicy) *bucketTracker {
	return &bucketTracker{policy: policy, buckets: make(BucketIndex)}
}

func (t *bucketTracker) observe(label string, line int) error {
	if t.open && label == t.current {
		return nil
	}
	if t.open {
		t.close(line - 1)
	}

	if prev, seen := t.buckets[label]; seen {
		switch t.policy {
		case PolicyOverwrite:
			t.buckets[label] = Bucket{Start: line, End: line}
		case PolicyMerge:
			t.buckets[label] = Bucket{Start: prev.Start, End: line}
		default:
			return fmt.Errorf("%w: label %q at line %d was already used for lines %d-%d",
				ErrNonContiguousBucket, label, line, prev.Start, prev.End)
		}
	} else {
		t.buckets[label] = Bucket{Start: line, End: line}
	}
	t.current = label
	t.open = true
	return nil
}

func (t *bucketTracker) close(end int) {
	b := t.buckets[t.current]
	b.End = end
	t.buckets[t.current] = b
}

func (t *bucketTracker) finish(total int) BucketIndex {
	if t.open {
		t.close(total - 1)
		t.open = false
	}
	return t.buckets
}
