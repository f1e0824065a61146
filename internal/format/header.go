// Package format provides the binary header shared by linedex artifacts.
package format

import "errors"

// Header layout (4 bytes):
//
//	signature (1 byte, 'x' = 0x78)
//	type (1 byte, identifies the artifact)
//	version (1 byte)
//	flags (1 byte)
//
// Type codes:
//
//	'o' = line offset table
//	'b' = bucket index (binary form, reserved)
const (
	Signature  = 'x'
	HeaderSize = 4

	TypeOffsetTable = 'o'
	TypeBucketIndex = 'b'

	// FlagComplete marks an artifact that was fully written before being
	// renamed into place.
	FlagComplete = 0x01
)

var (
	ErrHeaderTooSmall    = errors.New("header too small")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrVersionMismatch   = errors.New("version mismatch")
	ErrIncomplete        = errors.New("artifact not marked complete")
)

// Header represents the common 4-byte header.
type Header struct {
	Type    byte
	Version byte
	Flags   byte
}

// Encode writes the header to a 4-byte array.
func (h Header) Encode() [HeaderSize]byte {
	return [HeaderSize]byte{Signature, h.Type, h.Version, h.Flags}
}

// EncodeInto writes the header into buf at offset 0 and returns HeaderSize.
func (h Header) EncodeInto(buf []byte) int {
	buf[0] = Signature
	buf[1] = h.Type
	buf[2] = h.Version
	buf[3] = h.Flags
	return HeaderSize
}

// Complete reports whether FlagComplete is set.
func (h Header) Complete() bool {
	return h.Flags&FlagComplete != 0
}

// Decode reads a header from buf.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrHeaderTooSmall
	}
	if buf[0] != Signature {
		return Header{}, ErrSignatureMismatch
	}
	return Header{
		Type:    buf[1],
		Version: buf[2],
		Flags:   buf[3],
	}, nil
}

// DecodeAndValidate reads a header and checks type, version and the
// FlagComplete bit.
func DecodeAndValidate(buf []byte, expectedType, expectedVersion byte) (Header, error) {
	h, err := Decode(buf)
	if err != nil {
		return Header{}, err
	}
	if h.Type != expectedType {
		return Header{}, ErrTypeMismatch
	}
	if h.Version != expectedVersion {
		return Header{}, ErrVersionMismatch
	}
	if !h.Complete() {
		return Header{}, ErrIncomplete
	}
	return h, nil
}
