// Package index builds and loads the line index of a sorted, line-delimited
// source file.
//
// An index has two parts:
//   - an offset table: entry i is the byte offset at which line i begins
//   - a bucket index: label -> contiguous [start, end] range of line numbers,
//     where the label is the uppercased first character of the line when
//     that is an ASCII letter, or SentinelLabel for anything else (digits,
//     punctuation, other scripts, empty)
//
// The builder makes one sequential pass over the source. The resulting Index
// is immutable; a serving process loads it once and shares it between all
// requests.
package index

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// SentinelLabel is the bucket label for lines that do not start with an
// ASCII letter.
const SentinelLabel = "SPECIAL"

// Terminator is the single-byte line terminator.
const Terminator = '\n'

var (
	ErrSourceUnreadable    = errors.New("source unreadable")
	ErrEmptySource         = errors.New("source contains no lines")
	ErrNonContiguousBucket = errors.New("bucket label is not contiguous")
	ErrCorruptIndex        = errors.New("corrupt index")
	ErrBuildIDMismatch     = errors.New("offset table and bucket index come from different builds")
	ErrUnknownPolicy       = errors.New("unknown bucket policy")
)

// Bucket is an inclusive range of line numbers sharing one label.
type Bucket struct {
	Start int `json:"start" msgpack:"start"`
	End   int `json:"end" msgpack:"end"`
}

// Len returns the number of lines in the bucket.
func (b Bucket) Len() int {
	return b.End - b.Start + 1
}

// BucketIndex maps a label to its line range.
type BucketIndex map[string]Bucket

// Labels returns the labels ordered by the start of their range, which is
// scan order.
func (bi BucketIndex) Labels() []string {
	labels := slices.Collect(maps.Keys(bi))
	slices.SortFunc(labels, func(a, b string) int {
		return bi[a].Start - bi[b].Start
	})
	return labels
}

// BucketPolicy decides what happens when a label reappears after another
// label has been seen, i.e. the source is not grouped by label.
type BucketPolicy string

const (
	// PolicyStrict fails the build with ErrNonContiguousBucket.
	PolicyStrict BucketPolicy = "strict"
	// PolicyOverwrite replaces the earlier range with the new one.
	PolicyOverwrite BucketPolicy = "overwrite"
	// PolicyMerge keeps the earliest start and extends the end. The merged
	// range may then cover lines of other labels.
	PolicyMerge BucketPolicy = "merge"
)

// ParsePolicy validates a policy name. The empty string selects PolicyStrict.
func ParsePolicy(s string) (BucketPolicy, error) {
	switch BucketPolicy(s) {
	case "":
		return PolicyStrict, nil
	case PolicyStrict, PolicyOverwrite, PolicyMerge:
		return BucketPolicy(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Index is a loaded or freshly built line index. It is safe for concurrent
// use; nothing in it changes after construction.
type Index struct {
	buildID    uuid.UUID
	sourceSize int64
	offsets    Offsets
	buckets    BucketIndex
	closer     io.Closer
}

// New assembles an Index from parts. The bucket map is copied.
func New(buildID uuid.UUID, sourceSize int64, offsets Offsets, buckets BucketIndex) *Index {
	return &Index{
		buildID:    buildID,
		sourceSize: sourceSize,
		offsets:    offsets,
		buckets:    maps.Clone(buckets),
	}
}

// BuildID identifies the build that produced the index.
func (ix *Index) BuildID() uuid.UUID { return ix.buildID }

// SourceSize is the byte length of the source at build time.
func (ix *Index) SourceSize() int64 { return ix.sourceSize }

// TotalLines returns the number of lines in the source.
func (ix *Index) TotalLines() int { return ix.offsets.Len() }

// Offsets returns the read-only offset table.
func (ix *Index) Offsets() Offsets { return ix.offsets }

// Buckets returns a copy of the bucket index.
func (ix *Index) Buckets() BucketIndex { return maps.Clone(ix.buckets) }

// Bucket looks up one label.
func (ix *Index) Bucket(label string) (Bucket, bool) {
	b, ok := ix.buckets[label]
	return b, ok
}

// Close releases resources backing the offset table (an mmap, for loaded
// indexes). It is a no-op for built ones.
func (ix *Index) Close() error {
	if ix.closer == nil {
		return nil
	}
	err := ix.closer.Close()
	ix.closer = nil
	return err
}

// labels holds the 26 letter labels so LabelOf never allocates.
var labels = func() [26]string {
	var l [26]string
	for i := range l {
		l[i] = string(rune('A' + i))
	}
	return l
}()

// LabelOf returns the bucket label for a line's raw bytes: the first
// character, uppercased, if that is an ASCII letter. Uppercasing follows
// Unicode, so a dotless i or a long s maps to I or S. Any other first
// character, invalid UTF-8, or an empty line maps to SentinelLabel.
func LabelOf(line []byte) string {
	if len(line) == 0 {
		return SentinelLabel
	}
	c := line[0]
	if c < utf8.RuneSelf {
		switch {
		case c >= 'A' && c <= 'Z':
			return labels[c-'A']
		case c >= 'a' && c <= 'z':
			return labels[c-'a']
		}
		return SentinelLabel
	}
	r, _ := utf8.DecodeRune(line)
	if up := unicode.ToUpper(r); up >= 'A' && up <= 'Z' {
		return labels[up-'A']
	}
	return SentinelLabel
}
