package pkhash

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// LoadFactorPercent is the maximum fill of a table above the small-table threshold.
	LoadFactorPercent = 75
	// SmallTableThreshold is the largest doc count sized with the small-table formula.
	SmallTableThreshold = 16
	// MaxDocCount is the largest supported doc count. Doc id 0xFFFFFFFF marks empty slots.
	MaxDocCount = 1<<32 - 1
)

// ErrInvalidDocCount is returned when a table is sized for a non-positive or
// unsupported number of documents.
var ErrInvalidDocCount = errors.New("pkhash: invalid doc count")

// CapacityFor returns the bucket count for a table holding docCount keys.
//
// Small tables get 2*docCount+1 buckets. Larger ones get the smallest prime
// >= docCount*100/LoadFactorPercent + 1, which keeps the bucket count above
// docCount/0.75 and below 2*docCount.
func CapacityFor(docCount int64) (uint64, error) {
	if docCount <= 0 || docCount > MaxDocCount {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDocCount, docCount)
	}
	if docCount <= SmallTableThreshold {
		return uint64(2*docCount + 1), nil
	}
	return nextPrime(uint64(docCount)*100/LoadFactorPercent + 1), nil
}

func nextPrime(n uint64) uint64 {
	if n <= 2 {
		return 2
	}
	if n%2 == 0 {
		n++
	}
	var b big.Int
	for {
		// ProbablyPrime(0) is exact below 2^64.
		if b.SetUint64(n).ProbablyPrime(0) {
			return n
		}
		n += 2
	}
}
