// Package callgroup provides call deduplication by key.
//
// If multiple goroutines request the same key concurrently, only one
// executes the function. The others wait and receive the same value and
// error. Once the function returns, the key is forgotten and future calls
// trigger a new execution.
package callgroup

import "sync"

// Result is the outcome of one deduplicated call.
type Result[V any] struct {
	Val    V
	Err    error
	Shared bool // true when the caller joined a call already in flight
}

// Group deduplicates concurrent function calls by key.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// DoChan executes fn if no call is in flight for key. If a call is
// already in flight, the returned channel will receive the result of
// that existing call. The channel receives exactly one value and is
// never closed.
func (g *Group[K, V]) DoChan(key K, fn func() (V, error)) <-chan Result[V] {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		return c.wait(true)
	}

	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	go func() {
		c.val, c.err = fn()

		// Forget the key before releasing waiters, so a caller that has
		// seen the result always starts a fresh call.
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)
	}()

	return c.wait(false)
}

func (c *call[V]) wait(shared bool) <-chan Result[V] {
	ch := make(chan Result[V], 1)
	go func() {
		<-c.done
		ch <- Result[V]{Val: c.val, Err: c.err, Shared: shared}
	}()
	return ch
}
