package source

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{
		"users.txt",
		"archive/2024/users.txt",
		"archive/2025/users.txt.zst",
		"archive/notes.md",
	} {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("a\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	// A directory matching the pattern is skipped.
	if err := os.MkdirAll(filepath.Join(root, "dir.txt"), 0o750); err != nil {
		t.Fatal(err)
	}

	got, err := Discover([]string{
		filepath.Join(root, "**", "*.txt"),
		filepath.Join(root, "archive", "**", "*.zst"),
		filepath.Join(root, "users.txt"), // duplicate of a ** match
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(root, "archive/2024/users.txt"),
		filepath.Join(root, "archive/2025/users.txt.zst"),
		filepath.Join(root, "users.txt"),
	}
	if !slices.Equal(got, want) {
		t.Fatalf("Discover = %v, want %v", got, want)
	}
}

func TestDiscoverBadPattern(t *testing.T) {
	if _, err := Discover([]string{filepath.Join(t.TempDir(), "[")}); err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}
