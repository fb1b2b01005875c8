package queue

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeap_Order(t *testing.T) {
	h := New(func(a, b int) bool { return a < b }, 0)
	rng := rand.New(rand.NewPCG(1, 1))
	want := make([]int, 200)
	for i := range want {
		want[i] = rng.IntN(1000)
		h.Push(want[i])
	}
	slices.Sort(want)

	var got []int
	for h.Len() > 0 {
		v, ok := h.Pop()
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, want, got)

	_, ok := h.Pop()
	assert.False(t, ok)
	_, ok = h.Top()
	assert.False(t, ok)
}

func TestHeap_ReplaceTop(t *testing.T) {
	type item struct{ key, seq int }
	h := New(func(a, b item) bool {
		if a.key != b.key {
			return a.key < b.key
		}
		return a.seq < b.seq
	}, 4)
	h.Push(item{1, 0})
	h.Push(item{1, 1})
	h.Push(item{2, 2})

	top, _ := h.Top()
	assert.Equal(t, item{1, 0}, top)
	h.ReplaceTop(item{3, 0})
	top, _ = h.Top()
	assert.Equal(t, item{1, 1}, top)

	h.Reset()
	assert.Equal(t, 0, h.Len())
	h.ReplaceTop(item{9, 9})
	top, _ = h.Top()
	assert.Equal(t, item{9, 9}, top)
}
