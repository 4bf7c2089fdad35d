package arena

import (
	"errors"
	"testing"

	"github.com/dekarrin/stepgram/parseerr"
	"github.com/stretchr/testify/assert"
)

func Test_Arena_AllocAndBytes_Roundtrip(t *testing.T) {
	assert := assert.New(t)

	a := New(16, 0)
	h, err := a.Alloc(5, 1)
	assert.NoError(err)
	a.Write(h, []byte("hello"))

	assert.Equal("hello", string(a.Bytes(h)))
}

func Test_Arena_GrowsAcrossRegions_HandlesStayValid(t *testing.T) {
	assert := assert.New(t)

	a := New(4, 0)

	h1, err := a.Alloc(4, 1)
	assert.NoError(err)
	a.Write(h1, []byte("abcd"))

	// this allocation should force growth into a new region.
	h2, err := a.Alloc(8, 1)
	assert.NoError(err)
	a.Write(h2, []byte("12345678"))

	assert.Equal("abcd", string(a.Bytes(h1)))
	assert.Equal("12345678", string(a.Bytes(h2)))
}

func Test_Arena_HardCap_ReturnsArenaExhausted(t *testing.T) {
	assert := assert.New(t)

	a := New(8, 8)
	_, err := a.Alloc(4, 1)
	assert.NoError(err)

	_, err = a.Alloc(100, 1)
	assert.Error(err)

	var parseErr *parseerr.Error
	assert.True(errors.As(err, &parseErr))
	assert.True(errors.Is(err, parseerr.ArenaExhausted))
}

func Test_Arena_Reset_InvalidatesUsage(t *testing.T) {
	assert := assert.New(t)

	a := New(16, 0)
	_, err := a.Alloc(10, 1)
	assert.NoError(err)
	assert.Equal(int64(10), a.Used())

	a.Reset()
	assert.Equal(int64(0), a.Used())
}

func Test_Arena_Snapshot_Restore(t *testing.T) {
	assert := assert.New(t)

	a := New(16, 0)
	h, err := a.Alloc(5, 1)
	assert.NoError(err)
	a.Write(h, []byte("alpha"))

	snap := a.Snapshot()

	_, err = a.Alloc(5, 1)
	assert.NoError(err)

	a.Restore(snap)
	assert.Equal("alpha", string(a.Bytes(h)))
	assert.Equal(int64(5), a.Used())
}

func Test_Arena_Snapshot_EncodeDecode_Roundtrip(t *testing.T) {
	assert := assert.New(t)

	a := New(16, 0)
	h, err := a.Alloc(5, 1)
	assert.NoError(err)
	a.Write(h, []byte("alpha"))

	data := EncodeSnapshot(a.Snapshot())
	decoded, err := DecodeSnapshot(data)
	assert.NoError(err)

	a.Restore(decoded)
	assert.Equal("alpha", string(a.Bytes(h)))
}
