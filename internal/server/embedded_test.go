package server_test

import (
	"io"
	"net/http"
	"sync"
)

// embeddedTransport routes requests directly to an http.Handler using pipes
// for streaming support, so a Client can be tested without a listener.
type embeddedTransport struct {
	handler http.Handler
}

func (t *embeddedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	pr, pw := io.Pipe()
	rw := &pipeResponseWriter{
		pw:       pw,
		header:   make(http.Header),
		headerCh: make(chan struct{}),
	}

	go func() {
		defer pw.Close()
		t.handler.ServeHTTP(rw, req)
		rw.WriteHeader(http.StatusOK)
	}()

	<-rw.headerCh

	return &http.Response{
		StatusCode:    rw.statusCode,
		Status:        http.StatusText(rw.statusCode),
		Header:        rw.header,
		Body:          pr,
		ContentLength: -1,
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}, nil
}

type pipeResponseWriter struct {
	pw         *io.PipeWriter
	header     http.Header
	statusCode int
	headerOnce sync.Once
	headerCh   chan struct{}
}

func (w *pipeResponseWriter) Header() http.Header { return w.header }

func (w *pipeResponseWriter) WriteHeader(code int) {
	w.headerOnce.Do(func() {
		w.statusCode = code
		if w.headerCh != nil {
			close(w.headerCh)
		}
	})
}

func (w *pipeResponseWriter) Write(data []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.pw.Write(data)
}

func (w *pipeResponseWriter) Flush() {}
