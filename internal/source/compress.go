package source

import (
	"io"
	"os"
	"path/filepath"

	seekable "github.com/SaveTheRbtz/zstd-seekable-format-go/pkg"
	"github.com/klauspost/compress/zstd"
)

// seekableFrameSize is the uncompressed frame size for seekable zstd.
// Each frame decompresses independently, so a range read touches only the
// frames that overlap it. Pages of a few hundred lines fit in one or two frames.
const seekableFrameSize = 256 << 10 // 256 KB

// zstdDec is a package-level decoder, concurrent-safe, shared by all sources.
var zstdDec *zstd.Decoder

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("zstd: init decoder: " + err.Error())
	}
}

type seekableSource struct {
	file   *os.File
	reader seekable.Reader
	size   int64
}

func openSeekable(f *os.File) (*seekableSource, error) {
	r, err := seekable.NewReader(f, zstdDec)
	if err != nil {
		return nil, err
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return &seekableSource{file: f, reader: r, size: size}, nil
}

func (s *seekableSource) ReadAt(p []byte, off int64) (int, error) {
	return s.reader.ReadAt(p, off)
}

func (s *seekableSource) Size() int64      { return s.size }
func (s *seekableSource) Compressed() bool { return true }

func (s *seekableSource) Close() error {
	err := s.reader.Close()
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Compress writes a seekable-zstd copy of the plain file at src to dst,
// atomically via temp-file-then-rename in dst's directory. src is streamed in
// seekableFrameSize pieces; it is never loaded whole.
func Compress(src, dst string, level zstd.EncoderLevel) (err error) {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return err
	}
	defer func() { _ = enc.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".compress-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	sw, err := seekable.NewWriter(tmp, enc)
	if err != nil {
		return err
	}
	buf := make([]byte, seekableFrameSize)
	for {
		n, rerr := io.ReadFull(in, buf)
		if n > 0 {
			if _, werr := sw.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	if err = sw.Close(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst) //nolint:gosec // G703: both paths come from the operator's command line
}
