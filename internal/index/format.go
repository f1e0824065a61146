package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"linedex/internal/format"
	"linedex/internal/home"
)

// offsets.idx layout:
//
//	header      (4 bytes, format.Header, type 'o')
//	build ID    (16 bytes, UUID)
//	line count  (8 bytes, uint64 LE)
//	source size (8 bytes, uint64 LE)
//	entries     (line count * 8 bytes, uint64 LE)
const (
	offsetsVersion = 0x01

	buildIDSize     = 16
	lineCountSize   = 8
	sourceSizeSize  = 8
	offsetEntrySize = 8

	offsetsHeaderSize = format.HeaderSize + buildIDSize + lineCountSize + sourceSizeSize
)

// bucketsVersion is the buckets.json envelope version.
const bucketsVersion = 1

type offsetsHeader struct {
	buildID    uuid.UUID
	count      uint64
	sourceSize int64
}

// bucketFile is the on-disk form of buckets.json.
type bucketFile struct {
	Version    int         `json:"version"`
	BuildID    uuid.UUID   `json:"buildId"`
	SourceSize int64       `json:"sourceSize"`
	TotalLines int         `json:"totalLines"`
	Buckets    BucketIndex `json:"buckets"`
}

func encodeOffsetsHeader(buf []byte, h offsetsHeader) {
	cursor := format.Header{Type: format.TypeOffsetTable, Version: offsetsVersion, Flags: format.FlagComplete}.EncodeInto(buf)
	copy(buf[cursor:cursor+buildIDSize], h.buildID[:])
	cursor += buildIDSize
	binary.LittleEndian.PutUint64(buf[cursor:cursor+lineCountSize], h.count)
	cursor += lineCountSize
	binary.LittleEndian.PutUint64(buf[cursor:cursor+sourceSizeSize], uint64(h.sourceSize))
}

// decodeOffsetsHeader validates the header of a complete offsets.idx image
// and checks that the entry area matches the recorded line count.
func decodeOffsetsHeader(data []byte) (offsetsHeader, error) {
	if len(data) < offsetsHeaderSize {
		return offsetsHeader{}, fmt.Errorf("%w: offset table too small", ErrCorruptIndex)
	}
	if _, err := format.DecodeAndValidate(data, format.TypeOffsetTable, offsetsVersion); err != nil {
		return offsetsHeader{}, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}

	cursor := format.HeaderSize
	var h offsetsHeader
	copy(h.buildID[:], data[cursor:cursor+buildIDSize])
	cursor += buildIDSize
	h.count = binary.LittleEndian.Uint64(data[cursor : cursor+lineCountSize])
	cursor += lineCountSize
	h.sourceSize = int64(binary.LittleEndian.Uint64(data[cursor : cursor+sourceSizeSize]))

	entryBytes := uint64(len(data) - offsetsHeaderSize)
	if entryBytes%offsetEntrySize != 0 || entryBytes/offsetEntrySize != h.count {
		return offsetsHeader{}, fmt.Errorf("%w: %d entry bytes for %d lines", ErrCorruptIndex, entryBytes, h.count)
	}
	return h, nil
}

// decodeOffsets reads a whole offsets.idx image into memory.
func decodeOffsets(data []byte) (offsetsHeader, SliceOffsets, error) {
	h, err := decodeOffsetsHeader(data)
	if err != nil {
		return offsetsHeader{}, nil, err
	}
	entries := make(SliceOffsets, h.count)
	cursor := offsetsHeaderSize
	for i := range entries {
		entries[i] = int64(binary.LittleEndian.Uint64(data[cursor : cursor+offsetEntrySize]))
		cursor += offsetEntrySize
	}
	return h, entries, nil
}

// Save persists ix into dir. Each artifact is written to a temp file and
// renamed into place, so a failed save never leaves a partial file; a crash
// between the two renames leaves artifacts whose build IDs disagree, which
// Load rejects.
func Save(dir home.Dir, ix *Index) error {
	if err := dir.EnsureExists(); err != nil {
		return err
	}

	err := writeAtomic(dir.OffsetsPath(), func(w io.Writer) error {
		hdr := make([]byte, offsetsHeaderSize)
		encodeOffsetsHeader(hdr, offsetsHeader{
			buildID:    ix.buildID,
			count:      uint64(ix.offsets.Len()),
			sourceSize: ix.sourceSize,
		})
		if _, err := w.Write(hdr); err != nil {
			return err
		}
		var entry [offsetEntrySize]byte
		for i := range ix.offsets.Len() {
			binary.LittleEndian.PutUint64(entry[:], uint64(ix.offsets.At(i)))
			if _, err := w.Write(entry[:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write offset table: %w", err)
	}

	err = writeAtomic(dir.BucketsPath(), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(bucketFile{
			Version:    bucketsVersion,
			BuildID:    ix.buildID,
			SourceSize: ix.sourceSize,
			TotalLines: ix.offsets.Len(),
			Buckets:    ix.buckets,
		})
	})
	if err != nil {
		return fmt.Errorf("write bucket index: %w", err)
	}
	return nil
}

// LoadOptions controls how Load materializes the offset table.
type LoadOptions struct {
	// Mmap serves the offset table from a read-only mapping instead of
	// decoding it into memory.
	Mmap bool
}

// Load reads the artifacts in dir. The returned Index must be closed when
// loaded with Mmap.
func Load(dir home.Dir, opts LoadOptions) (*Index, error) {
	bf, err := loadBucketFile(dir.BucketsPath())
	if err != nil {
		return nil, err
	}

	var (
		hdr     offsetsHeader
		offsets Offsets
		closer  io.Closer
	)
	if opts.Mmap {
		m, err := OpenMmapOffsets(dir.OffsetsPath())
		if err != nil {
			return nil, fmt.Errorf("open offset table: %w", err)
		}
		hdr, offsets, closer = m.header, m, m
	} else {
		data, err := os.ReadFile(dir.OffsetsPath())
		if err != nil {
			return nil, fmt.Errorf("read offset table: %w", err)
		}
		var entries SliceOffsets
		hdr, entries, err = decodeOffsets(data)
		if err != nil {
			return nil, err
		}
		offsets = entries
	}

	fail := func(err error) (*Index, error) {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	if hdr.buildID != bf.BuildID {
		return fail(fmt.Errorf("%w: offsets %s, buckets %s", ErrBuildIDMismatch, hdr.buildID, bf.BuildID))
	}
	if int(hdr.count) != bf.TotalLines {
		return fail(fmt.Errorf("%w: offset table has %d lines, bucket index says %d", ErrCorruptIndex, hdr.count, bf.TotalLines))
	}

	return &Index{
		buildID:    hdr.buildID,
		sourceSize: hdr.sourceSize,
		offsets:    offsets,
		buckets:    bf.Buckets,
		closer:     closer,
	}, nil
}

func loadBucketFile(path string) (bucketFile, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return bucketFile{}, fmt.Errorf("read bucket index: %w", err)
	}
	var bf bucketFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return bucketFile{}, fmt.Errorf("%w: parse bucket index: %w", ErrCorruptIndex, err)
	}
	if bf.Version != bucketsVersion {
		return bucketFile{}, fmt.Errorf("%w: bucket index version %d, want %d", ErrCorruptIndex, bf.Version, bucketsVersion)
	}
	if bf.Buckets == nil {
		bf.Buckets = make(BucketIndex)
	}
	return bf, nil
}

// ExportLegacy writes the plain JSON pair (an array of offsets and a
// label -> {start, end} map) that older tooling consumes.
func ExportLegacy(dir home.Dir, ix *Index) error {
	if err := dir.EnsureExists(); err != nil {
		return err
	}
	err := writeAtomic(dir.LegacyOffsetsPath(), func(w io.Writer) error {
		var num []byte
		if _, err := io.WriteString(w, "["); err != nil {
			return err
		}
		for i := range ix.offsets.Len() {
			num = num[:0]
			if i > 0 {
				num = append(num, ',')
			}
			num = strconv.AppendInt(num, ix.offsets.At(i), 10)
			if _, err := w.Write(num); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "]")
		return err
	})
	if err != nil {
		return fmt.Errorf("export offsets: %w", err)
	}
	err = writeAtomic(dir.LegacyBucketsPath(), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(ix.buckets)
	})
	if err != nil {
		return fmt.Errorf("export buckets: %w", err)
	}
	return nil
}

// writeAtomic streams fill into a temp file next to target and renames it
// into place once fill and the flush both succeed.
func writeAtomic(target string, fill func(io.Writer) error) (err error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		if err != nil {
			tmpFile.Close()
			os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriterSize(tmpFile, 256<<10)
	if err = fill(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmpFile.Sync(); err != nil {
		return err
	}
	if err = tmpFile.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}
