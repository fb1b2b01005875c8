package pkhash

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	// HeaderSize is the size of the table header in bytes.
	HeaderSize = 16
	// EmptyDoc marks an unoccupied slot.
	EmptyDoc = ^uint32(0)
)

var (
	// ErrTableFull is returned when an insert probes every bucket without
	// finding the key or a free slot. Tables sized by CapacityFor never fill.
	ErrTableFull = errors.New("pkhash: table full")
	// ErrInvalidBuffer is returned when a buffer does not hold a table.
	ErrInvalidBuffer = errors.New("pkhash: invalid buffer")
	// ErrInvalidDocID is returned when inserting the reserved empty doc id.
	ErrInvalidDocID = errors.New("pkhash: invalid doc id")
)

// Table is an open-addressing hash table from K to doc ids over a flat buffer.
// It is not safe for concurrent writes; once built it may be read concurrently.
type Table[K Key[K]] struct {
	buf      []byte
	buckets  uint64
	docCount uint64
	keySize  int
	slotSize int
}

func keyWidth[K Key[K]]() int {
	var zero K
	return zero.Width()
}

// SlotSize returns the encoded size of one slot for key type K.
func SlotSize[K Key[K]]() int {
	return keyWidth[K]() + 4
}

// BufferSize returns the buffer size needed for a table with the given bucket count.
func BufferSize[K Key[K]](buckets uint64) int {
	return HeaderSize + int(buckets)*SlotSize[K]()
}

// New allocates an empty table sized for docCount keys.
func New[K Key[K]](docCount int64) (*Table[K], error) {
	buckets, err := CapacityFor(docCount)
	if err != nil {
		return nil, err
	}
	return Init[K](make([]byte, BufferSize[K](buckets)), buckets, uint64(docCount))
}

// Init builds an empty table over buf. The buffer must be exactly
// BufferSize(buckets) bytes and is owned by the table afterwards.
func Init[K Key[K]](buf []byte, buckets, docCount uint64) (*Table[K], error) {
	if buckets == 0 {
		return nil, fmt.Errorf("%w: zero buckets", ErrInvalidBuffer)
	}
	if want := BufferSize[K](buckets); len(buf) != want {
		return nil, fmt.Errorf("%w: size %d, want %d", ErrInvalidBuffer, len(buf), want)
	}
	t := newTable[K](buf, buckets, docCount)
	binary.LittleEndian.PutUint64(buf[0:8], buckets)
	binary.LittleEndian.PutUint64(buf[8:16], docCount)
	for i := range buckets {
		off := t.slot(i) + t.keySize
		binary.LittleEndian.PutUint32(buf[off:off+4], EmptyDoc)
	}
	return t, nil
}

// Open reopens a table previously built in buf without copying it.
func Open[K Key[K]](buf []byte) (*Table[K], error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidBuffer, len(buf))
	}
	buckets := binary.LittleEndian.Uint64(buf[0:8])
	docCount := binary.LittleEndian.Uint64(buf[8:16])
	if buckets == 0 || buckets > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: %d buckets in %d bytes", ErrInvalidBuffer, buckets, len(buf))
	}
	if want := BufferSize[K](buckets); len(buf) != want {
		return nil, fmt.Errorf("%w: size %d, want %d for %d buckets", ErrInvalidBuffer, len(buf), want, buckets)
	}
	return newTable[K](buf, buckets, docCount), nil
}

func newTable[K Key[K]](buf []byte, buckets, docCount uint64) *Table[K] {
	ks := keyWidth[K]()
	return &Table[K]{
		buf:      buf,
		buckets:  buckets,
		docCount: docCount,
		keySize:  ks,
		slotSize: ks + 4,
	}
}

func (t *Table[K]) slot(i uint64) int {
	return HeaderSize + int(i)*t.slotSize
}

func (t *Table[K]) start(key K) uint64 {
	var kb [16]byte
	key.Put(kb[:t.keySize])
	return xxhash.Sum64(kb[:t.keySize]) % t.buckets
}

// Insert maps key to doc. It reports whether key was already present, in
// which case its previous doc id is overwritten.
func (t *Table[K]) Insert(key K, doc uint32) (bool, error) {
	if doc == EmptyDoc {
		return false, ErrInvalidDocID
	}
	i := t.start(key)
	for range t.buckets {
		off := t.slot(i)
		d := binary.LittleEndian.Uint32(t.buf[off+t.keySize:])
		if d == EmptyDoc {
			key.Put(t.buf[off : off+t.keySize])
			binary.LittleEndian.PutUint32(t.buf[off+t.keySize:], doc)
			return false, nil
		}
		if key.Get(t.buf[off:off+t.keySize]) == key {
			binary.LittleEndian.PutUint32(t.buf[off+t.keySize:], doc)
			return true, nil
		}
		if i++; i == t.buckets {
			i = 0
		}
	}
	return false, ErrTableFull
}

// Find returns the doc id stored for key.
func (t *Table[K]) Find(key K) (uint32, bool) {
	i := t.start(key)
	for range t.buckets {
		off := t.slot(i)
		d := binary.LittleEndian.Uint32(t.buf[off+t.keySize:])
		if d == EmptyDoc {
			return 0, false
		}
		if key.Get(t.buf[off:off+t.keySize]) == key {
			return d, true
		}
		if i++; i == t.buckets {
			i = 0
		}
	}
	return 0, false
}

// ForEach calls fn for every occupied slot in bucket order until fn returns false.
func (t *Table[K]) ForEach(fn func(key K, doc uint32) bool) {
	var zero K
	for i := range t.buckets {
		off := t.slot(i)
		d := binary.LittleEndian.Uint32(t.buf[off+t.keySize:])
		if d == EmptyDoc {
			continue
		}
		if !fn(zero.Get(t.buf[off:off+t.keySize]), d) {
			return
		}
	}
}

// Len returns the number of occupied slots.
func (t *Table[K]) Len() int {
	n := 0
	t.ForEach(func(K, uint32) bool {
		n++
		return true
	})
	return n
}

// BucketCount returns the number of buckets.
func (t *Table[K]) BucketCount() uint64 { return t.buckets }

// DocCount returns the doc count the table was sized for.
func (t *Table[K]) DocCount() uint64 { return t.docCount }

// Bytes returns the backing buffer, which is the serialized table.
func (t *Table[K]) Bytes() []byte { return t.buf }
