// Package logging provides slog helpers shared by every linedex component.
//
// Loggers are passed in, never fetched from a global:
//   - main() builds the one base logger (handler, level, destination)
//   - each component scopes it once with logger.With("component", name)
//   - a nil logger means "discard", see Default
//
// Log at lifecycle boundaries only (build start/finish, index load, server
// start/stop, failed requests). Per-line scanning loops never log.
package logging

import (
	"context"
	"log/slog"
	"sync"
)

// discardHandler is a handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise a discard logger.
//
//	func NewServer(cfg Config) *Server {
//	    logger := logging.Default(cfg.Logger)
//	    return &Server{logger: logger.With("component", "server")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// componentKey is the attribute that selects a per-component level.
const componentKey = "component"

// levelTable is shared between a ComponentFilterHandler and all handlers
// derived from it via WithAttrs/WithGroup, so SetLevel applies everywhere.
type levelTable struct {
	mu     sync.RWMutex
	def    slog.Level
	levels map[string]slog.Level
}

func (t *levelTable) level(component string) slog.Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if component != "" {
		if l, ok := t.levels[component]; ok {
			return l
		}
	}
	return t.def
}

func (t *levelTable) min() slog.Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.def
	for _, l := range t.levels {
		if l < m {
			m = l
		}
	}
	return m
}

// ComponentFilterHandler filters records by a per-component minimum level.
// The component is read from a "component" attribute, either attached with
// logger.With or passed on the record itself. Records without a component
// use the default level.
type ComponentFilterHandler struct {
	next      slog.Handler
	table     *levelTable
	component string
}

// NewComponentFilterHandler wraps next with component-aware level filtering.
// next should itself accept every level; filtering happens here.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next: next,
		table: &levelTable{
			def:    defaultLevel,
			levels: make(map[string]slog.Level),
		},
	}
}

// SetLevel overrides the minimum level for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.table.mu.Lock()
	defer h.table.mu.Unlock()
	h.table.levels[component] = level
}

// ClearLevel removes a component override.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.table.mu.Lock()
	defer h.table.mu.Unlock()
	delete(h.table.levels, component)
}

// Level returns the effective level for component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	return h.table.level(component)
}

// DefaultLevel returns the level used for records without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	h.table.mu.RLock()
	defer h.table.mu.RUnlock()
	return h.table.def
}

// SetDefaultLevel changes the level used for records without an override.
func (h *ComponentFilterHandler) SetDefaultLevel(level slog.Level) {
	h.table.mu.Lock()
	defer h.table.mu.Unlock()
	h.table.def = level
}

// Enabled reports whether any record at level could pass. The final decision
// is made in Handle, once the record's own attributes are known.
func (h *ComponentFilterHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.component != "" {
		return level >= h.table.level(h.component)
	}
	return level >= h.table.min()
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == componentKey {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.table.level(component) {
		return nil
	}
	if h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == componentKey {
			component = a.Value.String()
		}
	}
	var next slog.Handler
	if h.next != nil {
		next = h.next.WithAttrs(attrs)
	}
	return &ComponentFilterHandler{next: next, table: h.table, component: component}
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	var next slog.Handler
	if h.next != nil {
		next = h.next.WithGroup(name)
	}
	return &ComponentFilterHandler{next: next, table: h.table, component: h.component}
}
