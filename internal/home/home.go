// Package home manages the on-disk layout of a linedex index directory.
//
// An index directory holds the artifacts produced by one build of one
// source file:
//
//	<root>/
//	  offsets.idx          (line offset table, binary)
//	  buckets.json         (bucket index + build metadata)
//	  line-offsets.json    (legacy export, optional)
//	  letter-index.json    (legacy export, optional)
//
// By default the directory sits next to the source as "<source>.linedex".
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Suffix is appended to a source path to form its default index directory.
const Suffix = ".linedex"

// Dir represents a linedex index directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// ForSource returns the default index directory for a source file.
func ForSource(sourcePath string) Dir {
	return Dir{root: filepath.Clean(sourcePath) + Suffix}
}

// Resolve returns New(indexDir) when indexDir is set, else ForSource(sourcePath).
func Resolve(indexDir, sourcePath string) Dir {
	if indexDir != "" {
		return New(indexDir)
	}
	return ForSource(sourcePath)
}

// Under returns the index directory for sourcePath inside a shared index
// root, named after the source's base name. Used by batch builds.
func Under(indexRoot, sourcePath string) Dir {
	name := filepath.Base(sourcePath)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return Dir{root: filepath.Join(indexRoot, name+Suffix)}
}

// Root returns the index directory path.
func (d Dir) Root() string {
	return d.root
}

// OffsetsPath returns the path to the binary offset table.
func (d Dir) OffsetsPath() string {
	return filepath.Join(d.root, "offsets.idx")
}

// BucketsPath returns the path to the bucket index JSON file.
func (d Dir) BucketsPath() string {
	return filepath.Join(d.root, "buckets.json")
}

// LegacyOffsetsPath returns the path of the JSON array export of the offset table.
func (d Dir) LegacyOffsetsPath() string {
	return filepath.Join(d.root, "line-offsets.json")
}

// LegacyBucketsPath returns the path of the label map export.
func (d Dir) LegacyBucketsPath() string {
	return filepath.Join(d.root, "letter-index.json")
}

// EnsureExists creates the index directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create index directory %s: %w", d.root, err)
	}
	return nil
}

// Exists reports whether both primary artifacts are present.
func (d Dir) Exists() bool {
	for _, p := range []string{d.OffsetsPath(), d.BucketsPath()} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
