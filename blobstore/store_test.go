package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampRange(t *testing.T) {
	tests := []struct {
		name         string
		size, off, n int64
		end          int64
		ok           bool
	}{
		{"inside", 10, 0, 4, 3, true},
		{"clipped", 10, 8, 100, 9, true},
		{"last byte", 10, 9, 1, 9, true},
		{"at end", 10, 10, 1, 0, false},
		{"negative offset", 10, -1, 1, 0, false},
		{"empty read", 10, 0, 0, 0, false},
		{"empty blob", 0, 0, 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end, ok := ClampRange(tt.size, tt.off, tt.n)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.end, end)
		})
	}
}
