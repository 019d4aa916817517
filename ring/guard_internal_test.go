//go:build ringdebug

package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_CatchesBufferAccessWhileHardwareOwned(t *testing.T) {
	r := newTestRx(t, 4)

	// All receive slots start out hardware-owned.
	assert.Panics(t, func() { r.pool.RegionFor(0) })

	r.complete(0, 60, 0)
	_, ok, err := r.TakeOne()
	require.NoError(t, err)
	require.True(t, ok)

	assert.NotPanics(t, func() { r.pool.RegionFor(0) })
	assert.Panics(t, func() { r.pool.RegionFor(1) })
}

func TestGuard_CatchesDoubleHandover(t *testing.T) {
	tx := newTestTx(t, 4)

	require.NoError(t, tx.SubmitTransmit(0, 60))
	assert.Panics(t, func() { tx.pool.toHardware(0) })
	assert.Panics(t, func() { tx.pool.toSoftware(1) })
}
