package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"linedex/internal/home"
)

func writeSources(t *testing.T, contents map[string]string) (string, []BuildJob) {
	t.Helper()
	root := t.TempDir()
	var jobs []BuildJob
	for name, data := range contents {
		path := filepath.Join(root, name)
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, BuildJob{Source: path, Dir: home.Under(filepath.Join(root, "indexes"), path)})
	}
	return root, jobs
}

func TestBuildAll(t *testing.T) {
	_, jobs := writeSources(t, map[string]string{
		"users.txt":  exampleSource,
		"cities.txt": "Berlin\nBern\nOslo\n",
		"empty.txt":  "",
	})

	h := NewBuildHelper(NewBuilder(BuilderConfig{}))
	results, err := h.BuildAll(context.Background(), jobs, 2)
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if len(results) != len(jobs) {
		t.Fatalf("got %d results for %d jobs", len(results), len(jobs))
	}

	for i, r := range results {
		if r.Job != jobs[i] {
			t.Fatalf("result %d is for %v, want %v", i, r.Job, jobs[i])
		}
		wantEmpty := filepath.Base(r.Job.Source) == "empty.txt"
		if r.Empty != wantEmpty {
			t.Errorf("%s: Empty = %v", r.Job.Source, r.Empty)
		}

		loaded, err := Load(r.Job.Dir, LoadOptions{})
		if err != nil {
			t.Fatalf("load %s: %v", r.Job.Dir.Root(), err)
		}
		assertSameIndex(t, r.Index, loaded)
	}
}

func TestBuildAllStopsOnFailure(t *testing.T) {
	root, jobs := writeSources(t, map[string]string{"users.txt": exampleSource})
	missing := filepath.Join(root, "missing.txt")
	jobs = append(jobs, BuildJob{Source: missing, Dir: home.ForSource(missing)})

	h := NewBuildHelper(NewBuilder(BuilderConfig{}))
	_, err := h.BuildAll(context.Background(), jobs, 1)
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Fatalf("expected ErrSourceUnreadable, got %v", err)
	}
	if home.ForSource(missing).Exists() {
		t.Fatal("failed build left an index directory behind")
	}
}

func TestBuildHelperNonContiguousSavesNothing(t *testing.T) {
	_, jobs := writeSources(t, map[string]string{"unsorted.txt": "apple\nbanana\navocado\n"})

	h := NewBuildHelper(NewBuilder(BuilderConfig{Policy: PolicyStrict}))
	_, err := h.Build(context.Background(), jobs[0])
	if !errors.Is(err, ErrNonContiguousBucket) {
		t.Fatalf("expected ErrNonContiguousBucket, got %v", err)
	}
	if _, err := os.Stat(jobs[0].Dir.OffsetsPath()); !os.IsNotExist(err) {
		t.Fatalf("offset table written for failed build: %v", err)
	}
}

func TestBuildHelperCancelled(t *testing.T) {
	_, jobs := writeSources(t, map[string]string{"users.txt": exampleSource})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := NewBuildHelper(NewBuilder(BuilderConfig{}))
	if _, err := h.Build(ctx, jobs[0]); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
