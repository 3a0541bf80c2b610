package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleRoundTrip(t *testing.T) {
	locals := []int32{0, 1, 2, 0x7F, 0x100, 0xABCDE, MaxLocalHandle}
	for _, index := range []int{0, 1, 2, 17, 254, 255} {
		for _, local := range locals {
			merged := EncodeHandle(index, local)
			assert.Equal(t, index, BackendIndex(merged), "index of %#x", merged)
			assert.Equal(t, local, LocalHandle(merged), "local of %#x", merged)
		}
	}
}

func TestHandleDistinctBackends(t *testing.T) {
	a := EncodeHandle(0, 5)
	b := EncodeHandle(1, 5)

	assert.NotEqual(t, a, b)
	assert.Equal(t, int32(5), a)
	assert.Equal(t, int32(0x01000005), b)
	assert.Equal(t, 0, BackendIndex(a))
	assert.Equal(t, 1, BackendIndex(b))
}

func TestEncodeHandlePanics(t *testing.T) {
	tests := []struct {
		name  string
		index int
		local int32
	}{
		{"local handle uses high byte", 0, 0x01000000},
		{"negative local handle", 1, -1},
		{"index beyond one byte", 256, 1},
		{"negative index", -1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, func() { EncodeHandle(tt.index, tt.local) })
		})
	}
}
