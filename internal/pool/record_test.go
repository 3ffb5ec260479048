package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	return &Record{
		Version:    1,
		PoolType:   2,
		ReserveA:   500_000_000,
		ReserveB:   10_000,
		FeeRateBps: 30,
		Active:     true,
		LastUpdate: 1700000000,
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	raw := Encode(sampleRecord())
	require.Len(t, raw, RecordSize)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), got.Version)
	assert.Equal(t, uint8(2), got.PoolType)
	assert.Equal(t, uint64(500_000_000), got.ReserveA)
	assert.Equal(t, uint64(10_000), got.ReserveB)
	assert.Equal(t, uint16(30), got.FeeRateBps)
	assert.True(t, got.Active)
	assert.Equal(t, uint64(1700000000), got.LastUpdate)
}

func TestDecode_FixedOffsets(t *testing.T) {
	raw := Encode(sampleRecord())

	assert.Equal(t, byte(1), raw[OffsetVersion])
	assert.Equal(t, byte(2), raw[OffsetPoolType])
	// 500_000_000 = 0x1DCD6500
	assert.Equal(t, []byte{0x00, 0x65, 0xCD, 0x1D, 0, 0, 0, 0}, raw[OffsetReserveA:OffsetReserveB])
	assert.Equal(t, []byte{0x10, 0x27, 0, 0, 0, 0, 0, 0}, raw[OffsetReserveB:OffsetFeeRate])
	assert.Equal(t, []byte{30, 0}, raw[OffsetFeeRate:OffsetActive])
	assert.Equal(t, byte(1), raw[OffsetActive])
	assert.Equal(t, make([]byte, 6), raw[2:8])
}

func TestDecode_TooShort(t *testing.T) {
	full := Encode(sampleRecord())

	for n := 0; n < RecordSize; n++ {
		rec, err := Decode(full[:n])
		assert.Nil(t, rec, "length %d", n)
		require.Error(t, err, "length %d", n)
		assert.True(t, errors.Is(err, ErrTooShort), "length %d", n)

		var decErr *DecodeError
		require.True(t, errors.As(err, &decErr))
		assert.Equal(t, TooShort, decErr.Kind)
		assert.Equal(t, n, decErr.Length)
	}
}

func TestDecode_LongerBufferIgnoresTail(t *testing.T) {
	raw := append(Encode(sampleRecord()), 0xFF, 0xFF, 0xFF)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, *sampleRecord(), *got)
}

func TestDecode_NonZeroActiveByte(t *testing.T) {
	raw := Encode(sampleRecord())
	raw[OffsetActive] = 7

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.True(t, got.Active)

	raw[OffsetActive] = 0
	got, err = Decode(raw)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestDecode_GarbageNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0xFF},
		make([]byte, RecordSize-1),
		make([]byte, RecordSize),
		[]byte("this is definitely not a pool account at all"),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _, _ = Decode(in) })
	}
}

func TestDecodeError_Messages(t *testing.T) {
	short := &DecodeError{Kind: TooShort, Length: 3}
	assert.Contains(t, short.Error(), "got 3 bytes")

	rng := &DecodeError{Kind: RangeError, Field: "reserve_a", Err: errors.New("eof")}
	assert.True(t, errors.Is(rng, ErrRange))
	assert.Contains(t, rng.Error(), "reserve_a")
	assert.Equal(t, "RangeError", RangeError.String())
}
