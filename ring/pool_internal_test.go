package ring

import (
	"testing"

	"github.com/nxfw/enet/dmamem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPool_Regions(t *testing.T) {
	region, err := dmamem.Alloc(4 * 256)
	require.NoError(t, err)
	defer region.Release()

	pool, err := NewBufferPool(region, 0, 4, 256)
	require.NoError(t, err)

	assert.Equal(t, 4, pool.Count())
	assert.Equal(t, 256, pool.BufferSize())

	// Regions are disjoint and one-to-one with slots.
	for slot := 0; slot < 4; slot++ {
		b := pool.RegionFor(slot)
		require.Len(t, b, 256)
		b[0] = byte(slot + 1)
		assert.Equal(t, uint32(slot*256), pool.DMAAddr(slot))
	}
	for slot := 0; slot < 4; slot++ {
		assert.Equal(t, byte(slot+1), pool.RegionFor(slot)[0])
	}

	assert.Panics(t, func() { pool.RegionFor(4) })
	assert.Panics(t, func() { pool.RegionFor(-1) })
}

func TestBufferPool_Validation(t *testing.T) {
	region, err := dmamem.Alloc(1024)
	require.NoError(t, err)
	defer region.Release()

	_, err = NewBufferPool(region, 0, 4, 100)
	assert.ErrorIs(t, err, ErrBufferSizeInvalid)

	_, err = NewBufferPool(region, 0, 1, 256)
	assert.ErrorIs(t, err, ErrRingSizeInvalid)

	// Does not fit the region.
	_, err = NewBufferPool(region, 0, 64, 256)
	assert.Error(t, err)
}

func TestCheckRingSize(t *testing.T) {
	assert.NoError(t, CheckRingSize(2))
	assert.NoError(t, CheckRingSize(1024))
	assert.ErrorIs(t, CheckRingSize(0), ErrRingSizeInvalid)
	assert.ErrorIs(t, CheckRingSize(1), ErrRingSizeInvalid)
	assert.ErrorIs(t, CheckRingSize(2048), ErrRingSizeInvalid)
}

func TestCheckBufferSize(t *testing.T) {
	assert.NoError(t, CheckBufferSize(16))
	assert.NoError(t, CheckBufferSize(1536))
	assert.ErrorIs(t, CheckBufferSize(0), ErrBufferSizeInvalid)
	assert.ErrorIs(t, CheckBufferSize(1518), ErrBufferSizeInvalid)
	assert.ErrorIs(t, CheckBufferSize(0x10000), ErrBufferSizeInvalid)
}
