package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"linedex/internal/index"
	"linedex/internal/reader"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"

	// headerLimitApplied carries the effective limit when a range query asked
	// for more than MaxLimit, so a short result can be told apart from EOF.
	headerLimitApplied = "X-Limit-Applied"
)

var errInvalidQuery = errors.New("invalid parameters")

// Meta is the /api/meta response.
type Meta struct {
	TotalItems  int               `json:"totalItems" msgpack:"totalItems"`
	LetterIndex index.BucketIndex `json:"letterIndex" msgpack:"letterIndex"`
	BuildID     string            `json:"buildId" msgpack:"buildId"`
	Stale       bool              `json:"stale" msgpack:"stale"`
	MaxLimit    int               `json:"maxLimit" msgpack:"maxLimit"`
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error" msgpack:"error"`
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	s.metrics.metaRequests.Add(1)
	s.writeResponse(w, r, http.StatusOK, Meta{
		TotalItems:  s.ix.TotalLines(),
		LetterIndex: s.ix.Buckets(),
		BuildID:     s.ix.BuildID().String(),
		Stale:       s.stale.Load(),
		MaxLimit:    s.cfg.MaxLimit,
	})
}

func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	s.metrics.rangeRequests.Add(1)

	start, limit, err := parseRange(r)
	if err != nil {
		s.metrics.invalidQueries.Add(1)
		s.logger.Debug("rejected range query", "query", r.URL.RawQuery, "error", err)
		s.writeResponse(w, r, http.StatusBadRequest, errorBody{Error: "Invalid parameters"})
		return
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
		w.Header().Set(headerLimitApplied, strconv.Itoa(limit))
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ReadTimeout)
	defer cancel()

	lines, err := s.rd.ReadRange(ctx, start, limit)
	if err != nil {
		s.metrics.readErrors.Add(1)
		switch {
		case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
			// Client went away; nobody is left to answer.
			s.logger.Debug("range read abandoned", "start", start, "limit", limit)
			return
		case errors.Is(err, context.DeadlineExceeded):
			s.logger.Warn("range read timed out", "start", start, "limit", limit, "timeout", s.cfg.ReadTimeout)
			s.writeResponse(w, r, http.StatusGatewayTimeout, errorBody{Error: "Read timed out"})
			return
		case errors.Is(err, reader.ErrStaleIndex):
			s.MarkStale()
		}
		s.logger.Error("range read failed", "start", start, "limit", limit, "error", err)
		s.writeResponse(w, r, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
		return
	}

	s.metrics.linesServed.Add(int64(len(lines)))
	var n int64
	for _, l := range lines {
		n += int64(len(l)) + 1
	}
	s.metrics.bytesServed.Add(n)
	s.writeResponse(w, r, http.StatusOK, lines)
}

// parseRange extracts start and limit. Both are required base-10 integers;
// start must be >= 0 and limit > 0.
func parseRange(r *http.Request) (start, limit int, err error) {
	q := r.URL.Query()
	start, err = parseParam(q.Get("start"), "start")
	if err != nil {
		return 0, 0, err
	}
	limit, err = parseParam(q.Get("limit"), "limit")
	if err != nil {
		return 0, 0, err
	}
	if start < 0 {
		return 0, 0, fmt.Errorf("%w: start must not be negative", errInvalidQuery)
	}
	if limit <= 0 {
		return 0, 0, fmt.Errorf("%w: limit must be positive", errInvalidQuery)
	}
	return start, limit, nil
}

func parseParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: missing %s", errInvalidQuery, name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", errInvalidQuery, name, err)
	}
	return v, nil
}

// wantsMsgpack reports whether the client asked for msgpack in Accept.
func wantsMsgpack(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if mt, _, _ := strings.Cut(strings.TrimSpace(part), ";"); strings.TrimSpace(mt) == contentTypeMsgpack {
			return true
		}
	}
	return false
}

func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Add("Vary", "Accept")
	if wantsMsgpack(r) {
		w.Header().Set("Content-Type", contentTypeMsgpack)
		w.WriteHeader(status)
		if err := msgpack.NewEncoder(w).Encode(v); err != nil {
			s.logger.Debug("write response", "error", err)
		}
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}
