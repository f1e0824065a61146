package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"linedex/internal/source"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheck(t *testing.T) {
	path := writeSource(t, "apple\nbanana\n")
	w, err := New(Config{Path: path, SourceSize: 13})
	if err != nil {
		t.Fatal(err)
	}
	if reason := w.Check(); reason != "" {
		t.Fatalf("unchanged file reported %q", reason)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("cherry\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if reason := w.Check(); !strings.Contains(reason, "size changed") {
		t.Fatalf("appended file reported %q", reason)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if reason := w.Check(); reason != "source removed" {
		t.Fatalf("removed file reported %q", reason)
	}
}

func TestCheckCompressedSource(t *testing.T) {
	content := "apple\nbanana\nbanana2\n1zebra\n"
	plain := writeSource(t, content)
	packed := plain + ".zst"
	if err := source.Compress(plain, packed, zstd.SpeedFastest); err != nil {
		t.Fatalf("compress: %v", err)
	}

	w, err := New(Config{Path: packed, SourceSize: int64(len(content))})
	if err != nil {
		t.Fatal(err)
	}
	if reason := w.Check(); reason != "" {
		t.Fatalf("unchanged compressed file reported %q", reason)
	}

	// Recompress a longer source over the original in place.
	if err := os.WriteFile(plain, []byte(content+"zulu\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := source.Compress(plain, packed, zstd.SpeedFastest); err != nil {
		t.Fatalf("compress: %v", err)
	}
	reason := w.Check()
	if reason != "source replaced" && !strings.Contains(reason, "size changed") {
		t.Fatalf("recompressed file reported %q", reason)
	}
}

func TestCheckReplaced(t *testing.T) {
	path := writeSource(t, "apple\n")
	w, err := New(Config{Path: path, SourceSize: 6})
	if err != nil {
		t.Fatal(err)
	}

	// Same size, different file.
	tmp := path + ".new"
	if err := os.WriteFile(tmp, []byte("avast\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	if reason := w.Check(); reason != "source replaced" {
		t.Fatalf("replaced file reported %q", reason)
	}
}

func TestNewMissingSource(t *testing.T) {
	if _, err := New(Config{Path: filepath.Join(t.TempDir(), "missing.txt")}); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestRunFiresOnce(t *testing.T) {
	path := writeSource(t, "apple\n")

	var (
		mu      sync.Mutex
		reasons []string
	)
	fired := make(chan struct{}, 1)
	w, err := New(Config{
		Path:       path,
		SourceSize: 6,
		OnStale: func(reason string) {
			mu.Lock()
			reasons = append(reasons, reason)
			mu.Unlock()
			select {
			case fired <- struct{}{}:
			default:
			}
		},
		PollInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if err := os.WriteFile(path, []byte("apple\nbanana\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("OnStale not called")
	}

	// Further changes do not fire again.
	if err := os.WriteFile(path, []byte("apple\nbanana\ncherry\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 {
		t.Fatalf("OnStale called %d times: %v", len(reasons), reasons)
	}
}

func TestRunDetectsChangeBeforeStart(t *testing.T) {
	path := writeSource(t, "apple\nbanana\n")
	fired := make(chan string, 1)
	w, err := New(Config{Path: path, SourceSize: 6, OnStale: func(r string) { fired <- r }})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("size mismatch at start not reported")
	}
}
