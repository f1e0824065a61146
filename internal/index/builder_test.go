package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func build(t *testing.T, data string, policy BucketPolicy) *Index {
	t.Helper()
	ix, err := NewBuilder(BuilderConfig{Policy: policy}).Build(context.Background(), strings.NewReader(data))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return ix
}

// referenceLines splits data the obvious way: on '\n', dropping the empty
// fragment after a trailing terminator.
func referenceLines(data string) []string {
	if data == "" {
		return nil
	}
	lines := strings.Split(data, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func TestBuildExample(t *testing.T) {
	ix := build(t, "Apple\nBanana\nbanana2\n1zebra\n", PolicyStrict)

	if ix.TotalLines() != 4 {
		t.Fatalf("total lines: want 4 got %d", ix.TotalLines())
	}
	wantOffsets := []int64{0, 6, 13, 21}
	for i, want := range wantOffsets {
		if got := ix.Offsets().At(i); got != want {
			t.Errorf("offset %d: want %d got %d", i, want, got)
		}
	}

	wantBuckets := BucketIndex{
		"A":           {Start: 0, End: 0},
		"B":           {Start: 1, End: 2},
		SentinelLabel: {Start: 3, End: 3},
	}
	got := ix.Buckets()
	if len(got) != len(wantBuckets) {
		t.Fatalf("buckets: want %v got %v", wantBuckets, got)
	}
	for label, want := range wantBuckets {
		if got[label] != want {
			t.Errorf("bucket %q: want %+v got %+v", label, want, got[label])
		}
	}
	if ix.SourceSize() != 28 {
		t.Errorf("source size: want 28 got %d", ix.SourceSize())
	}
}

func TestBuildOffsetsMatchReferenceSplit(t *testing.T) {
	tests := map[string]string{
		"trailing newline":    "alpha\nbeta\ngamma\n",
		"no trailing newline": "alpha\nbeta\ngamma",
		"empty lines":         "alpha\n\n\nbeta\n",
		"multibyte":           "Ärger\nbär\nčaj\n日本\nzürich€\n",
		"crlf kept in line":   "one\r\ntwo\r\n",
		"single empty line":   "\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			ix := build(t, data, PolicyMerge)
			want := referenceLines(data)
			if ix.TotalLines() != len(want) {
				t.Fatalf("total lines: want %d got %d", len(want), ix.TotalLines())
			}
			for i, line := range want {
				start := ix.Offsets().At(i)
				if i > 0 && start <= ix.Offsets().At(i-1) {
					t.Fatalf("offset %d not increasing", i)
				}
				if got := data[start : start+int64(len(line))]; got != line {
					t.Errorf("line %d at offset %d: want %q got %q", i, start, line, got)
				}
			}
			if err := Verify(ix.Offsets(), ix.SourceSize()); err != nil {
				t.Fatalf("verify: %v", err)
			}
		})
	}
}

func TestBuildGroupsByUppercasedFirstCharacter(t *testing.T) {
	ix := build(t, "ıdris\nIvy\nislay\nſtrasse\nSam\n", PolicyStrict)
	if b, _ := ix.Bucket("I"); b != (Bucket{Start: 0, End: 2}) {
		t.Errorf("I bucket = %+v", b)
	}
	if b, _ := ix.Bucket("S"); b != (Bucket{Start: 3, End: 4}) {
		t.Errorf("S bucket = %+v", b)
	}
}

func TestBuildLongLines(t *testing.T) {
	long := strings.Repeat("x", 3*readBufferSize+17)
	data := "a\n" + long + "\nb\n"
	ix := build(t, data, PolicyMerge)

	if ix.TotalLines() != 3 {
		t.Fatalf("total lines: want 3 got %d", ix.TotalLines())
	}
	if got := ix.Offsets().At(2); got != int64(2+len(long)+1) {
		t.Fatalf("offset after long line: got %d", got)
	}
}

func TestBuildEmptySource(t *testing.T) {
	ix, err := NewBuilder(BuilderConfig{}).Build(context.Background(), strings.NewReader(""))
	if !errors.Is(err, ErrEmptySource) {
		t.Fatalf("expected ErrEmptySource, got %v", err)
	}
	if ix == nil {
		t.Fatal("expected an empty index alongside ErrEmptySource")
	}
	if ix.TotalLines() != 0 || len(ix.Buckets()) != 0 {
		t.Fatalf("expected empty index, got %d lines %d buckets", ix.TotalLines(), len(ix.Buckets()))
	}
}

func TestBuildPolicies(t *testing.T) {
	data := "apple\nbanana\navocado\n"

	t.Run("strict", func(t *testing.T) {
		_, err := NewBuilder(BuilderConfig{Policy: PolicyStrict}).Build(context.Background(), strings.NewReader(data))
		if !errors.Is(err, ErrNonContiguousBucket) {
			t.Fatalf("expected ErrNonContiguousBucket, got %v", err)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		ix := build(t, data, PolicyOverwrite)
		if b, _ := ix.Bucket("A"); b != (Bucket{Start: 2, End: 2}) {
			t.Fatalf("A: got %+v", b)
		}
		if b, _ := ix.Bucket("B"); b != (Bucket{Start: 1, End: 1}) {
			t.Fatalf("B: got %+v", b)
		}
	})

	t.Run("merge", func(t *testing.T) {
		ix := build(t, data, PolicyMerge)
		if b, _ := ix.Bucket("A"); b != (Bucket{Start: 0, End: 2}) {
			t.Fatalf("A: got %+v", b)
		}
	})
}

func TestBuildBucketsCoverEveryLine(t *testing.T) {
	data := "#hash\n1one\nAa\nab\nBb\nc\nC\nzz\n"
	ix := build(t, data, PolicyStrict)

	next := 0
	for _, label := range ix.Buckets().Labels() {
		b, _ := ix.Bucket(label)
		if b.Start != next {
			t.Fatalf("bucket %q starts at %d, want %d", label, b.Start, next)
		}
		next = b.End + 1
	}
	if next != ix.TotalLines() {
		t.Fatalf("buckets cover %d lines, want %d", next, ix.TotalLines())
	}
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(BuilderConfig{}).Build(ctx, strings.NewReader("a\nb\n"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestBuildReadError(t *testing.T) {
	boom := errors.New("disk on fire")
	_, err := NewBuilder(BuilderConfig{}).Build(context.Background(), &failingReader{data: []byte("a\nb"), err: boom})
	if !errors.Is(err, ErrSourceUnreadable) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrSourceUnreadable wrapping cause, got %v", err)
	}
}

func TestBuildFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	if err := os.WriteFile(path, []byte("Apple\nBanana\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ix, err := NewBuilder(BuilderConfig{}).BuildFile(context.Background(), path)
	if err != nil {
		t.Fatalf("build file: %v", err)
	}
	if ix.TotalLines() != 2 {
		t.Fatalf("total lines: want 2 got %d", ix.TotalLines())
	}
}

func TestBuildFileMissing(t *testing.T) {
	_, err := NewBuilder(BuilderConfig{}).BuildFile(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, ErrSourceUnreadable) {
		t.Fatalf("expected ErrSourceUnreadable, got %v", err)
	}
}

func TestBuildFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	ix, err := NewBuilder(BuilderConfig{}).BuildFile(context.Background(), path)
	if !errors.Is(err, ErrEmptySource) || ix == nil {
		t.Fatalf("expected empty index with ErrEmptySource, got %v, %v", ix, err)
	}
}

func TestBuildIDsDiffer(t *testing.T) {
	a := build(t, "x\n", PolicyStrict)
	b := build(t, "x\n", PolicyStrict)
	if a.BuildID() == b.BuildID() {
		t.Fatal("two builds share a build id")
	}
	if a.BuildID().Version() != 7 {
		t.Fatalf("build id version: want 7 got %d", a.BuildID().Version())
	}
}
