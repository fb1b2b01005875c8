package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// HeaderSize is the size of the frame header in bytes.
const HeaderSize = 16

var (
	// ErrInvalidMagic is returned when the magic number does not match.
	ErrInvalidMagic = errors.New("frame: invalid magic")

	// ErrUnsupportedVersion is returned for versions newer than the reader supports.
	ErrUnsupportedVersion = errors.New("frame: unsupported version")

	// ErrChecksumMismatch is returned when the payload checksum does not match.
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")

	// ErrPayloadTooLarge is returned when a payload does not fit the length field.
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32-Castagnoli checksum stored in frame headers.
func Checksum(payload []byte) uint32 {
	return crc32.Checksum(payload, castagnoli)
}

// Write writes payload framed with magic and version.
func Write(w io.Writer, magic, version uint32, payload []byte) error {
	if len(payload) > math.MaxUint32 {
		return ErrPayloadTooLarge
	}

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], version)
	binary.LittleEndian.PutUint32(header[8:12], Checksum(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// Read reads a frame and verifies magic, version (1..maxVersion) and checksum.
func Read(r io.Reader, magic, maxVersion uint32) (uint32, []byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	if m := binary.LittleEndian.Uint32(header[0:4]); m != magic {
		return 0, nil, fmt.Errorf("%w: %#x", ErrInvalidMagic, m)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version == 0 || version > maxVersion {
		return 0, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}

	if Checksum(payload) != checksum {
		return 0, nil, ErrChecksumMismatch
	}
	return version, payload, nil
}
