package reader

import "io"

// rangeReader presents [off, end) of an io.ReaderAt as an io.Reader.
// A negative end reads to EOF. Hitting EOF before a non-negative end is
// reported as io.ErrUnexpectedEOF: the source is shorter than the index says.
type rangeReader struct {
	r   io.ReaderAt
	off int64
	end int64
}

func newRangeReader(r io.ReaderAt, off, end int64) *rangeReader {
	return &rangeReader{r: r, off: off, end: end}
}

func (rr *rangeReader) Read(p []byte) (int, error) {
	if rr.end >= 0 {
		remaining := rr.end - rr.off
		if remaining <= 0 {
			return 0, io.EOF
		}
		if remaining < int64(len(p)) {
			p = p[:remaining]
		}
	}

	n, err := rr.r.ReadAt(p, rr.off)
	rr.off += int64(n)
	if err == io.EOF && rr.end >= 0 && rr.off < rr.end {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
