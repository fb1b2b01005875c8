package attribute

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"math"
	"strconv"

	"github.com/hupe1980/segmerge/internal/schema"
)

// Numeric values are stored as 8 little-endian bytes.

func EncodeInt64(v int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(v))
}

func EncodeUint64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func EncodeFloat64(v float64) []byte {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))
}

func decode(v []byte) (uint64, bool) {
	if len(v) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v), true
}

// Compare orders two values of type t. Empty or malformed numeric values sort
// before all valid ones.
func Compare(t schema.Type, a, b []byte) int {
	switch t {
	case schema.TypeInt64, schema.TypeUint64, schema.TypeFloat64:
		x, okA := decode(a)
		y, okB := decode(b)
		if !okA || !okB {
			return compareBool(okA, okB)
		}
		switch t {
		case schema.TypeInt64:
			return cmp.Compare(int64(x), int64(y))
		case schema.TypeUint64:
			return cmp.Compare(x, y)
		default:
			return cmp.Compare(math.Float64frombits(x), math.Float64frombits(y))
		}
	default:
		return bytes.Compare(a, b)
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// Format renders a value of type t for display.
func Format(t schema.Type, v []byte) string {
	switch t {
	case schema.TypeInt64, schema.TypeUint64, schema.TypeFloat64:
		x, ok := decode(v)
		if !ok {
			return strconv.Quote(string(v))
		}
		switch t {
		case schema.TypeInt64:
			return strconv.FormatInt(int64(x), 10)
		case schema.TypeUint64:
			return strconv.FormatUint(x, 10)
		default:
			return strconv.FormatFloat(math.Float64frombits(x), 'g', -1, 64)
		}
	case schema.TypeString:
		return strconv.Quote(string(v))
	default:
		return strconv.QuoteToASCII(string(v))
	}
}

// Parse converts the text form of a value of type t.
func Parse(t schema.Type, s string) ([]byte, error) {
	switch t {
	case schema.TypeInt64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return EncodeInt64(v), nil
	case schema.TypeUint64:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return EncodeUint64(v), nil
	case schema.TypeFloat64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return EncodeFloat64(v), nil
	default:
		return []byte(s), nil
	}
}
