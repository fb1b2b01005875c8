package patch

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/segmerge/internal/compress"
	"github.com/hupe1980/segmerge/model"
)

const (
	// HeaderSize is the size of a patch file header in bytes.
	HeaderSize = 32

	magic         = 0x534d5054 // "SMPT"
	formatVersion = 1

	flagPacked = 1 << 0

	// MaxSubFields is the maximum number of sub-fields of a packed column.
	MaxSubFields = 32
)

// Header is the fixed header of a patch file.
type Header struct {
	Packed      bool
	Compression compress.Type
	// ID is the field id, or the pack group id for packed files.
	ID model.FieldID
	// SubFields is the member count of a pack group; zero for single fields.
	SubFields uint32
	// Version is the patch version token.
	Version model.Version
	// Records and MaxValueLen are filled in by the writer.
	Records     uint32
	MaxValueLen uint32
}

func (h Header) validate() error {
	if _, err := compress.ParseType(h.Compression.String()); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedHeader, err)
	}
	if h.Packed {
		if h.SubFields == 0 || h.SubFields > MaxSubFields {
			return fmt.Errorf("%w: packed file with %d sub-fields", ErrMalformedHeader, h.SubFields)
		}
	} else if h.SubFields != 0 {
		return fmt.Errorf("%w: single-field file with %d sub-fields", ErrMalformedHeader, h.SubFields)
	}
	return nil
}

// MarshalBinary encodes the header.
func (h Header) MarshalBinary() ([]byte, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	b := make([]byte, HeaderSize)
	var flags uint16
	if h.Packed {
		flags |= flagPacked
	}
	flags |= uint16(h.Compression) << 8

	binary.LittleEndian.PutUint32(b[0:4], magic)
	binary.LittleEndian.PutUint16(b[4:6], formatVersion)
	binary.LittleEndian.PutUint16(b[6:8], flags)
	binary.LittleEndian.PutUint32(b[8:12], uint32(h.ID))
	binary.LittleEndian.PutUint32(b[12:16], h.SubFields)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.Version))
	binary.LittleEndian.PutUint32(b[24:28], h.Records)
	binary.LittleEndian.PutUint32(b[28:32], h.MaxValueLen)
	return b, nil
}

// ParseHeader decodes and validates a header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(b))
	}
	if m := binary.LittleEndian.Uint32(b[0:4]); m != magic {
		return Header{}, fmt.Errorf("%w: magic %#x", ErrMalformedHeader, m)
	}
	if v := binary.LittleEndian.Uint16(b[4:6]); v != formatVersion {
		return Header{}, fmt.Errorf("%w: format version %d", ErrMalformedHeader, v)
	}
	flags := binary.LittleEndian.Uint16(b[6:8])
	if flags&^(flagPacked|0xFF00) != 0 {
		return Header{}, fmt.Errorf("%w: flags %#x", ErrMalformedHeader, flags)
	}
	h := Header{
		Packed:      flags&flagPacked != 0,
		Compression: compress.Type(flags >> 8),
		ID:          model.FieldID(binary.LittleEndian.Uint32(b[8:12])),
		SubFields:   binary.LittleEndian.Uint32(b[12:16]),
		Version:     model.Version(binary.LittleEndian.Uint64(b[16:24])),
		Records:     binary.LittleEndian.Uint32(b[24:28]),
		MaxValueLen: binary.LittleEndian.Uint32(b[28:32]),
	}
	if err := h.validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}
