package pkhash

import (
	"encoding/binary"
	"fmt"
)

// Key is the constraint for table keys. Width is the encoded size in bytes;
// Put and Get encode little-endian.
type Key[K any] interface {
	comparable
	Width() int
	Put(b []byte)
	Get(b []byte) K
}

// Key64 is a 64-bit primary key.
type Key64 uint64

func (Key64) Width() int { return 8 }

func (k Key64) Put(b []byte) { binary.LittleEndian.PutUint64(b, uint64(k)) }

func (Key64) Get(b []byte) Key64 { return Key64(binary.LittleEndian.Uint64(b)) }

// Key128 is a 128-bit primary key.
type Key128 struct {
	Lo, Hi uint64
}

func (Key128) Width() int { return 16 }

func (k Key128) Put(b []byte) {
	binary.LittleEndian.PutUint64(b[0:8], k.Lo)
	binary.LittleEndian.PutUint64(b[8:16], k.Hi)
}

func (Key128) Get(b []byte) Key128 {
	return Key128{Lo: binary.LittleEndian.Uint64(b[0:8]), Hi: binary.LittleEndian.Uint64(b[8:16])}
}

func (k Key128) String() string {
	return fmt.Sprintf("%016x%016x", k.Hi, k.Lo)
}
