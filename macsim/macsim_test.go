package macsim_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxfw/enet/bd"
	"github.com/nxfw/enet/dmamem"
	"github.com/nxfw/enet/mac"
	"github.com/nxfw/enet/macsim"
	"github.com/nxfw/enet/mii"
	"github.com/nxfw/enet/ring"
	"github.com/nxfw/enet/util"
)

const (
	ringSize   = 4
	bufferSize = 1536
)

type fixture struct {
	sim *macsim.Simulator
	rx  *ring.Rx
	tx  *ring.Tx

	rxPool *ring.BufferPool
	txPool *ring.BufferPool
}

// newFixture lays rings and buffers out in one DMA region, the same way the
// device adapter does, and points a simulator at it.
func newFixture(t *testing.T, options ...macsim.Option) *fixture {
	t.Helper()

	descBytes := ringSize * bd.Size
	bufBytes := ringSize * bufferSize
	region, err := dmamem.Alloc(2*descBytes + 2*bufBytes)
	require.NoError(t, err)
	t.Cleanup(func() { _ = region.Release() })

	rxPool, err := ring.NewBufferPool(region, 2*descBytes, ringSize, bufferSize)
	require.NoError(t, err)
	txPool, err := ring.NewBufferPool(region, 2*descBytes+bufBytes, ringSize, bufferSize)
	require.NoError(t, err)

	rx, err := ring.NewRx(region.Slice(0, descBytes), rxPool)
	require.NoError(t, err)
	tx, err := ring.NewTx(region.Slice(descBytes, descBytes), txPool)
	require.NoError(t, err)

	sim := macsim.New(util.NewTestLogger(), region, options...)
	require.NoError(t, sim.Initialize(mac.RingAddrs{
		RxRing:       region.DMAAddr(0),
		TxRing:       region.DMAAddr(descBytes),
		RxBufferSize: bufferSize,
	}))

	return &fixture{sim: sim, rx: rx, tx: tx, rxPool: rxPool, txPool: txPool}
}

func TestSimulator_DeliverFrame(t *testing.T) {
	f := newFixture(t)

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	require.NoError(t, f.sim.DeliverFrame(payload, 0))

	c, ok, err := f.rx.TakeOne()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, c.Slot)
	assert.Equal(t, uint16(4), c.Length)
	assert.Equal(t, payload, f.rxPool.RegionFor(c.Slot)[:c.Length])

	assert.True(t, f.sim.InterruptStatus().Has(mac.StatusRxFrame))
	f.sim.AcknowledgeInterrupt(mac.StatusRxFrame)
	assert.Equal(t, mac.Status(0), f.sim.InterruptStatus())
}

func TestSimulator_DeliverWithErrorFlags(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.sim.DeliverFrame([]byte{1, 2, 3}, bd.RxErrCRC))

	c, ok, err := f.rx.TakeOne()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, c.Errored())
	assert.Equal(t, bd.RxErrCRC, c.Errors)
}

func TestSimulator_ReceiveRingExhaustion(t *testing.T) {
	f := newFixture(t)

	for _i := 0; _i < ringSize; _i++ {
		require.NoError(t, f.sim.DeliverFrame([]byte{1}, 0))
	}
	assert.ErrorIs(t, f.sim.DeliverFrame([]byte{1}, 0), macsim.ErrNoReceiveBuffer)

	// Consuming and re-arming one slot makes room again; the simulator
	// wrapped around to slot 0.
	c, ok, err := f.rx.TakeOne()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.rx.SubmitReceive(c.Slot))
	require.NoError(t, f.sim.DeliverFrame([]byte{2}, 0))
}

func TestSimulator_CompleteTransmits(t *testing.T) {
	f := newFixture(t)

	copy(f.txPool.RegionFor(0), []byte{1, 1, 1})
	require.NoError(t, f.tx.SubmitTransmit(0, 3))
	copy(f.txPool.RegionFor(1), []byte{2, 2})
	require.NoError(t, f.tx.SubmitTransmit(1, 2))

	n, err := f.sim.CompleteTransmits(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.sim.Sent(), 1)
	assert.Equal(t, []byte{1, 1, 1}, f.sim.Sent()[0])

	slot, ok, err := f.tx.ReclaimOne()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, slot)

	// The second frame is still pending until completed.
	_, ok, err = f.tx.ReclaimOne()
	require.NoError(t, err)
	assert.False(t, ok)

	n, err = f.sim.CompleteTransmits(-1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, [][]byte{{1, 1, 1}, {2, 2}}, f.sim.Sent())
	assert.True(t, f.sim.InterruptStatus().Has(mac.StatusTxFrame))
}

func TestSimulator_Loopback(t *testing.T) {
	f := newFixture(t, macsim.WithLoopback(), macsim.WithAutoComplete())

	payload := []byte{0xca, 0xfe, 0xba, 0xbe}
	copy(f.txPool.RegionFor(0), payload)
	require.NoError(t, f.tx.SubmitTransmit(0, uint16(len(payload))))
	f.sim.KickTransmit()

	c, ok, err := f.rx.TakeOne()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, f.rxPool.RegionFor(c.Slot)[:c.Length])
}

func TestSimulator_MDIO(t *testing.T) {
	f := newFixture(t)
	phy := mii.NewClient(f.sim, 0)

	ls, err := phy.LinkStatus()
	require.NoError(t, err)
	assert.True(t, ls.Up)
	assert.Equal(t, mac.LinkMode{}, ls.Mode)

	require.NoError(t, phy.Write(mii.RegControl, 0x1200))
	v, err := phy.Read(mii.RegControl)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1200), v)

	// Nothing answers on other addresses; the bus floats high.
	other := mii.NewClient(f.sim, 7)
	v, err = other.Read(mii.RegStatus)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xffff), v)
}

func TestSimulator_Uninitialized(t *testing.T) {
	region, err := dmamem.Alloc(4096)
	require.NoError(t, err)
	defer region.Release()

	sim := macsim.New(util.NewTestLogger(), region)
	assert.ErrorIs(t, sim.DeliverFrame([]byte{1}, 0), macsim.ErrNotInitialized)
	_, err = sim.CompleteTransmits(-1)
	assert.ErrorIs(t, err, macsim.ErrNotInitialized)
}
