// Package source opens the line-delimited data file behind an index.
//
// A source is either a plain file or a seekable-zstd compressed copy of one.
// Both are exposed as an io.ReaderAt over the uncompressed bytes, so byte
// offsets recorded by the index builder are valid for either form.
package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// zstdMagic is the little-endian magic of a regular zstd frame.
const zstdMagic = 0xFD2FB528

// skippableMagicMask matches the 16 skippable-frame magics (0x184D2A50..5F).
// A seekable archive of an empty file consists of the seek table only.
const (
	skippableMagicMask = 0xFFFFFFF0
	skippableMagic     = 0x184D2A50
)

var ErrNotRegular = errors.New("source is not a regular file")

// Source is random-access, read-only view of a source file's uncompressed bytes.
type Source interface {
	io.ReaderAt
	io.Closer

	// Size is the uncompressed length in bytes.
	Size() int64

	// Compressed reports whether the file on disk is seekable zstd.
	Compressed() bool
}

// Open opens path, detecting seekable-zstd compression by its frame magic.
// The caller owns the returned Source and must close it.
func Open(path string) (Source, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	compressed, err := sniffZstd(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if compressed {
		s, err := openSeekable(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open seekable zstd %s: %w", path, err)
		}
		return s, nil
	}
	return &plainSource{file: f, size: info.Size()}, nil
}

// Stream returns a sequential reader over the whole source.
func Stream(s Source) io.Reader {
	return io.NewSectionReader(s, 0, s.Size())
}

func sniffZstd(f *os.File) (bool, error) {
	var magic [4]byte
	n, err := f.ReadAt(magic[:], 0)
	if n < len(magic) {
		if err == nil || err == io.EOF {
			return false, nil
		}
		return false, err
	}
	v := binary.LittleEndian.Uint32(magic[:])
	return v == zstdMagic || v&skippableMagicMask == skippableMagic, nil
}

type plainSource struct {
	file *os.File
	size int64
}

func (s *plainSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

func (s *plainSource) Size() int64      { return s.size }
func (s *plainSource) Compressed() bool { return false }

func (s *plainSource) Close() error {
	return s.file.Close()
}
