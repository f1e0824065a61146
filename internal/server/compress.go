package server

import (
	"compress/gzip"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const (
	brotliQuality = 4

	// minCompressSize is the smallest body that gets compressed. Meta and
	// error bodies and short ranges are sent as is.
	minCompressSize = 1 << 10
)

// compressibleTypes are the media types the API produces. Probe responses
// carry no body and no type, so they never reach an encoder.
var compressibleTypes = map[string]bool{
	contentTypeJSON:    true,
	contentTypeMsgpack: true,
	"text/plain":       true,
}

var gzipPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return w
	},
}

var brotliPool = sync.Pool{
	New: func() any {
		return brotli.NewWriterLevel(io.Discard, brotliQuality)
	},
}

type resettableWriter interface {
	io.WriteCloser
	Reset(io.Writer)
	Flush() error
}

func acquireEncoder(encoding string, dst io.Writer) resettableWriter {
	var w resettableWriter
	if encoding == "br" {
		w = brotliPool.Get().(*brotli.Writer)
	} else {
		w = gzipPool.Get().(*gzip.Writer)
	}
	w.Reset(dst)
	return w
}

func releaseEncoder(encoding string, w resettableWriter) {
	w.Reset(io.Discard)
	if encoding == "br" {
		brotliPool.Put(w)
	} else {
		gzipPool.Put(w)
	}
}

// compressMiddleware compresses API bodies with brotli or gzip. The decision
// is made on the first minCompressSize bytes: smaller bodies and non-API
// content types go out unencoded.
func compressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, encoding: encoding}
		defer cw.finish()
		next.ServeHTTP(cw, r)
	})
}

// negotiateEncoding picks br over gzip among the codings the client accepts.
// A coding listed with q=0 is refused; "*" stands for any unlisted coding.
func negotiateEncoding(header string) string {
	if header == "" {
		return ""
	}
	accepted := map[string]bool{}
	wildcard, hasWildcard := false, false
	for part := range strings.SplitSeq(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		ok := true
		if q, found := strings.CutPrefix(strings.TrimSpace(params), "q="); found {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
				ok = false
			}
		}
		if name == "*" {
			wildcard, hasWildcard = ok, true
			continue
		}
		accepted[name] = ok
	}
	for _, enc := range []string{"br", "gzip"} {
		if ok, listed := accepted[enc]; listed {
			if ok {
				return enc
			}
			continue
		}
		if hasWildcard && wildcard {
			return enc
		}
	}
	return ""
}

// compressWriter holds back the status line until it knows whether the body
// is worth encoding.
type compressWriter struct {
	http.ResponseWriter
	encoding string

	status  int
	pending []byte
	enc     resettableWriter

	committed   bool
	compressing bool
}

func (cw *compressWriter) Unwrap() http.ResponseWriter { return cw.ResponseWriter }

func (cw *compressWriter) WriteHeader(code int) {
	if cw.status != 0 {
		return
	}
	cw.status = code
	if !cw.eligible() {
		cw.commit(false)
	}
}

// eligible reports whether the response as declared so far may be encoded.
func (cw *compressWriter) eligible() bool {
	switch cw.status {
	case http.StatusNoContent, http.StatusNotModified:
		return false
	}
	h := cw.Header()
	if h.Get("Content-Encoding") != "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && compressibleTypes[mt]
}

func (cw *compressWriter) commit(compress bool) error {
	cw.committed = true
	if compress {
		cw.compressing = true
		cw.Header().Set("Content-Encoding", cw.encoding)
		cw.Header().Del("Content-Length")
		cw.enc = acquireEncoder(cw.encoding, cw.ResponseWriter)
	} else if len(cw.pending) > 0 && cw.Header().Get("Content-Length") == "" {
		cw.Header().Set("Content-Length", strconv.Itoa(len(cw.pending)))
	}
	cw.ResponseWriter.WriteHeader(cw.status)

	if len(cw.pending) == 0 {
		return nil
	}
	buf := cw.pending
	cw.pending = nil
	var err error
	if compress {
		_, err = cw.enc.Write(buf)
	} else {
		_, err = cw.ResponseWriter.Write(buf)
	}
	return err
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	if cw.status == 0 {
		cw.WriteHeader(http.StatusOK)
	}
	if !cw.committed {
		cw.pending = append(cw.pending, b...)
		if len(cw.pending) < minCompressSize {
			return len(b), nil
		}
		if err := cw.commit(true); err != nil {
			return 0, err
		}
		return len(b), nil
	}
	if cw.compressing {
		return cw.enc.Write(b)
	}
	return cw.ResponseWriter.Write(b)
}

// Flush commits to compression even below the size threshold, since a
// flushing handler is streaming.
func (cw *compressWriter) Flush() {
	if cw.status == 0 {
		cw.WriteHeader(http.StatusOK)
	}
	if !cw.committed {
		_ = cw.commit(true)
	}
	if cw.compressing {
		_ = cw.enc.Flush()
	}
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (cw *compressWriter) finish() {
	if cw.status == 0 {
		return
	}
	if !cw.committed {
		_ = cw.commit(false)
		return
	}
	if cw.compressing {
		_ = cw.enc.Close()
		releaseEncoder(cw.encoding, cw.enc)
		cw.enc = nil
	}
}
