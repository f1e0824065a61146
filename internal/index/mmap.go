package index

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// MmapOffsets is an offset table served directly from a mapped offsets.idx
// file. Opening it costs one mmap regardless of line count.
type MmapOffsets struct {
	file    *os.File
	data    []byte
	header  offsetsHeader
	entries []byte
}

// OpenMmapOffsets maps the offset table file at path read-only and validates
// its header and size.
func OpenMmapOffsets(path string) (*MmapOffsets, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size() < offsetsHeaderSize {
		file.Close()
		return nil, fmt.Errorf("%w: offset table too small (%d bytes)", ErrCorruptIndex, info.Size())
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(info.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, err
	}

	hdr, err := decodeOffsetsHeader(data)
	if err != nil {
		_ = syscall.Munmap(data)
		file.Close()
		return nil, err
	}
	return &MmapOffsets{
		file:    file,
		data:    data,
		header:  hdr,
		entries: data[offsetsHeaderSize:],
	}, nil
}

func (m *MmapOffsets) Len() int {
	return int(m.header.count)
}

func (m *MmapOffsets) At(i int) int64 {
	pos := i * offsetEntrySize
	return int64(binary.LittleEndian.Uint64(m.entries[pos : pos+offsetEntrySize]))
}

// Close unmaps the file. The table must not be used afterwards.
func (m *MmapOffsets) Close() error {
	var err error
	if m.data != nil {
		if unmapErr := syscall.Munmap(m.data); unmapErr != nil {
			err = unmapErr
		}
		m.data = nil
		m.entries = nil
	}
	if m.file != nil {
		if closeErr := m.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		m.file = nil
	}
	return err
}
