package merge

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/hupe1980/segmerge/internal/attribute"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/pkhash"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

// ErrInvalidPrimaryKey is returned for a key value that does not fit the
// configured key width.
var ErrInvalidPrimaryKey = errors.New("invalid primary key")

// PKStats counts the inserts of a primary-key rebuild.
type PKStats struct {
	Keys int
	// Duplicates counts keys that replaced an earlier document.
	Duplicates int
	// Missing counts documents without a key value.
	Missing int
}

// Key64Of derives a 64-bit key: 8-byte values are taken as is, anything
// else is hashed.
func Key64Of(v []byte) (pkhash.Key64, error) {
	if len(v) == 8 {
		return pkhash.Key64(binary.LittleEndian.Uint64(v)), nil
	}
	return pkhash.Key64(xxhash.Sum64(v)), nil
}

// Key128Of derives a 128-bit key from a 16-byte value.
func Key128Of(v []byte) (pkhash.Key128, error) {
	if len(v) != 16 {
		return pkhash.Key128{}, fmt.Errorf("%w: %d bytes for a 128-bit key", ErrInvalidPrimaryKey, len(v))
	}
	var k pkhash.Key128
	return k.Get(v), nil
}

// WritePrimaryKey builds the primary-key table of a segment from its
// primary-key column and stores it in dir. Later documents win on duplicate
// keys. Nothing is written for a schema without a primary key or an empty
// column.
func WritePrimaryKey(dir fs.Directory, s *schema.Schema, c *attribute.Column) (PKStats, error) {
	pk := s.PrimaryKey
	if pk == nil || c == nil || c.Len() == 0 {
		return PKStats{}, nil
	}
	if pk.Width == 128 {
		return buildPK(dir, c, pk.Field, Key128Of)
	}
	return buildPK(dir, c, pk.Field, Key64Of)
}

func buildPK[K pkhash.Key[K]](dir fs.Directory, c *attribute.Column, field model.FieldID, keyOf func([]byte) (K, error)) (st PKStats, err error) {
	t, err := pkhash.NewMapped[K](int64(c.Len()))
	if err != nil {
		return st, err
	}
	defer func() {
		if cerr := t.Close(); err == nil {
			err = cerr
		}
	}()

	for doc := range c.Len() {
		v, err := c.Get(doc, field)
		if err != nil {
			return st, err
		}
		if len(v) == 0 {
			st.Missing++
			continue
		}
		key, err := keyOf(v)
		if err != nil {
			return st, fmt.Errorf("doc %d: %w", doc, err)
		}
		replaced, err := t.Insert(key, uint32(doc))
		if err != nil {
			return st, err
		}
		if replaced {
			st.Duplicates++
		} else {
			st.Keys++
		}
	}
	return st, pkhash.WriteFile(dir, segment.PKFile, t.Table)
}
