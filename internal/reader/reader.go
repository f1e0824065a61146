// Package reader serves line ranges of a source file using its offset table.
//
// A read resolves the byte span of the requested lines from the offset table,
// opens its own handle on the source, streams exactly that span and splits
// it on the terminator byte. Nothing mutable is shared between reads.
package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"linedex/internal/index"
	"linedex/internal/logging"
	"linedex/internal/source"
)

var (
	// ErrInvalidRange is returned for a negative start or a non-positive limit.
	ErrInvalidRange = errors.New("invalid line range")

	// ErrStaleIndex is returned when the source no longer covers the byte
	// span the index recorded, i.e. it was truncated or replaced after the build.
	ErrStaleIndex = errors.New("source does not match index")
)

// ctxCheckInterval is how many lines a read splits between context checks.
const ctxCheckInterval = 256

const splitBufferSize = 32 << 10

var bufReaderPool = sync.Pool{
	New: func() any {
		return bufio.NewReaderSize(nil, splitBufferSize)
	},
}

// Opener opens a fresh handle on the source for one read.
type Opener func() (source.Source, error)

// Config configures a Reader.
type Config struct {
	// Path of the source file. Ignored when Open is set.
	Path string

	// Open overrides how the source is opened.
	Open Opener

	Logger *slog.Logger
}

// Reader answers line range queries. It is safe for concurrent use.
type Reader struct {
	offsets index.Offsets
	open    Opener
	logger  *slog.Logger
}

// New creates a Reader over the given offset table.
func New(offsets index.Offsets, cfg Config) *Reader {
	open := cfg.Open
	if open == nil {
		path := cfg.Path
		open = func() (source.Source, error) { return source.Open(path) }
	}
	return &Reader{
		offsets: offsets,
		open:    open,
		logger:  logging.Default(cfg.Logger).With("component", "reader"),
	}
}

// TotalLines returns the number of lines addressable by the Reader.
func (r *Reader) TotalLines() int {
	return r.offsets.Len()
}

// ReadRange returns up to limit lines starting at line start, without their
// terminators. A start at or past the end of the data yields an empty,
// non-nil slice. A limit reaching past the end is truncated.
func (r *Reader) ReadRange(ctx context.Context, start, limit int) ([]string, error) {
	if start < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: start=%d limit=%d", ErrInvalidRange, start, limit)
	}
	total := r.offsets.Len()
	if start >= total {
		return []string{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The span ends where line start+limit begins, so the terminator of the
	// last wanted line is included. Past the last line there is no such
	// offset and the span runs to end of file.
	want := min(limit, total-start)
	startByte := r.offsets.At(start)
	endByte := int64(-1)
	if start+want < total {
		endByte = r.offsets.At(start + want)
	}

	src, err := r.open()
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	size := src.Size()
	if startByte >= size || endByte > size {
		return nil, fmt.Errorf("%w: lines %d+%d need bytes [%d, %d), source has %d",
			ErrStaleIndex, start, want, startByte, endByte, size)
	}

	lines, err := splitLines(ctx, newRangeReader(src, startByte, endByte), want)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: %w", ErrStaleIndex, err)
		}
		return nil, fmt.Errorf("read lines %d+%d: %w", start, want, err)
	}
	return lines, nil
}

// splitLines reads at most limit terminator-delimited lines from r. Splitting
// is done on raw bytes across buffer refills; each line becomes a string only
// once it is complete, so a multi-byte character is never cut. A trailing
// empty fragment after the final terminator is not a line.
func splitLines(ctx context.Context, r io.Reader, limit int) ([]string, error) {
	br := bufReaderPool.Get().(*bufio.Reader)
	br.Reset(r)
	defer func() {
		br.Reset(nil)
		bufReaderPool.Put(br)
	}()

	lines := make([]string, 0, limit)
	var partial []byte
	for len(lines) < limit {
		if len(lines)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		frag, err := br.ReadSlice(index.Terminator)
		switch {
		case err == nil:
			frag = frag[:len(frag)-1]
			if partial != nil {
				lines = append(lines, string(append(partial, frag...)))
				partial = nil
			} else {
				lines = append(lines, string(frag))
			}
		case errors.Is(err, bufio.ErrBufferFull):
			partial = append(partial, frag...)
		case errors.Is(err, io.EOF):
			if len(frag) > 0 || len(partial) > 0 {
				lines = append(lines, string(append(partial, frag...)))
			}
			return lines, nil
		default:
			return nil, err
		}
	}
	return lines, nil
}
