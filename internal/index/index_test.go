package index

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"
)

func TestLabelOf(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"Apple", "A"},
		{"banana", "B"},
		{"zed", "Z"},
		{"1zebra", SentinelLabel},
		{"_under", SentinelLabel},
		{"", SentinelLabel},
		{"\n", SentinelLabel},
		{"Édouard", SentinelLabel},
		{"ñandu", SentinelLabel},
		{"[bracket", SentinelLabel},
		{"`tick", SentinelLabel},
		{"ıdris", "I"},
		{"ſtrasse", "S"},
		{"\u212Aelvin", SentinelLabel},
		{"\xffbroken", SentinelLabel},
		{"\xc4", SentinelLabel},
	}
	for _, tt := range tests {
		if got := LabelOf([]byte(tt.line)); got != tt.want {
			t.Errorf("LabelOf(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestBucketIndexLabels(t *testing.T) {
	bi := BucketIndex{
		"C":           {Start: 5, End: 9},
		SentinelLabel: {Start: 0, End: 1},
		"A":           {Start: 2, End: 4},
	}
	got := bi.Labels()
	want := []string{SentinelLabel, "A", "C"}
	if !slices.Equal(got, want) {
		t.Fatalf("Labels() = %v, want %v", got, want)
	}
	if n := bi["C"].Len(); n != 5 {
		t.Fatalf("Len() = %d, want 5", n)
	}
}

func TestParsePolicy(t *testing.T) {
	for _, name := range []string{"", "strict", "overwrite", "merge"} {
		if _, err := ParsePolicy(name); err != nil {
			t.Errorf("ParsePolicy(%q): %v", name, err)
		}
	}
	if p, _ := ParsePolicy(""); p != PolicyStrict {
		t.Errorf("default policy = %q, want strict", p)
	}
	if _, err := ParsePolicy("sloppy"); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestNewCopiesBuckets(t *testing.T) {
	buckets := BucketIndex{"A": {Start: 0, End: 0}}
	ix := New(uuid.New(), 6, SliceOffsets{0}, buckets)

	buckets["B"] = Bucket{Start: 1, End: 1}
	if _, ok := ix.Bucket("B"); ok {
		t.Fatal("index bucket map aliased caller's map")
	}

	view := ix.Buckets()
	view["A"] = Bucket{Start: 9, End: 9}
	if b, _ := ix.Bucket("A"); b.Start != 0 {
		t.Fatal("Buckets() returned the internal map")
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
