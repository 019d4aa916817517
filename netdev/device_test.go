package netdev

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxfw/enet/bd"
	"github.com/nxfw/enet/config"
	"github.com/nxfw/enet/dmamem"
	"github.com/nxfw/enet/macsim"
	"github.com/nxfw/enet/util"
)

const testMTU = 1536

type fixture struct {
	sim *macsim.Simulator
	dev *Device
}

func newFixture(t *testing.T, ringSize int, options []Option, simOptions ...macsim.Option) *fixture {
	t.Helper()

	lay := computeLayout(ringSize, ringSize, testMTU)
	region, err := dmamem.Alloc(lay.total)
	require.NoError(t, err)
	t.Cleanup(func() { _ = region.Release() })

	sim := macsim.New(util.NewTestLogger(), region, simOptions...)
	dev, err := NewDevice(util.NewTestLogger(), append([]Option{
		WithController(sim),
		WithRingSize(ringSize),
		WithMTU(testMTU),
		WithRegion(region),
		WithMetricsRegistry(metrics.NewRegistry()),
	}, options...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	return &fixture{sim: sim, dev: dev}
}

// send loans a slot, fills it with payload and commits it.
func (f *fixture) send(t *testing.T, payload []byte) {
	t.Helper()
	txf, err := f.dev.Transmit(len(payload))
	require.NoError(t, err)
	require.NotNil(t, txf)
	copy(txf.Payload(), payload)
	require.NoError(t, txf.Commit())
}

func TestNewDevice_Validation(t *testing.T) {
	l := util.NewTestLogger()

	_, err := NewDevice(l, WithRingSize(4))
	assert.ErrorContains(t, err, "controller")

	region, err := dmamem.Alloc(4096)
	require.NoError(t, err)
	defer region.Release()
	sim := macsim.New(l, region)

	_, err = NewDevice(l, WithController(sim))
	assert.Error(t, err)

	_, err = NewDevice(l, WithController(sim), WithRingSize(4), WithMTU(100))
	assert.Error(t, err)

	// A caller-provided region must fit the whole layout.
	_, err = NewDevice(l, WithController(sim), WithRingSize(16), WithRegion(region))
	assert.ErrorContains(t, err, "too small")
}

func TestDevice_ReceiveInOrder(t *testing.T) {
	f := newFixture(t, 4, nil)

	require.NoError(t, f.sim.DeliverFrame([]byte{0xa, 0xa}, 0))
	require.NoError(t, f.sim.DeliverFrame([]byte{0xb, 0xb, 0xb}, 0))

	first, err := f.dev.Receive()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 0, first.Slot())
	assert.Equal(t, []byte{0xa, 0xa}, first.Payload())

	require.NoError(t, f.sim.DeliverFrame([]byte{0xc}, 0))

	second, err := f.dev.Receive()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 1, second.Slot())
	assert.Equal(t, []byte{0xb, 0xb, 0xb}, second.Payload())

	third, err := f.dev.Receive()
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, 2, third.Slot())

	// Nothing is ever yielded twice.
	none, err := f.dev.Receive()
	require.NoError(t, err)
	assert.Nil(t, none)

	kicks := f.sim.ReceiveKicks()
	require.NoError(t, first.Release())
	require.NoError(t, second.Release())
	require.NoError(t, third.Release())
	assert.Equal(t, kicks+3, f.sim.ReceiveKicks())
	assert.Equal(t, int64(3), f.dev.stats.rxFrames.Count())
}

func TestDevice_ReceiveReadyIsSideEffectFree(t *testing.T) {
	f := newFixture(t, 4, nil)

	for _i := 0; _i < 3; _i++ {
		assert.False(t, f.dev.ReceiveReady())
	}

	// A bad frame ahead of a good one does not hide it.
	require.NoError(t, f.sim.DeliverFrame([]byte{1, 2}, bd.RxErrCRC))
	require.NoError(t, f.sim.DeliverFrame([]byte{3, 4}, 0))
	for _i := 0; _i < 3; _i++ {
		assert.True(t, f.dev.ReceiveReady())
	}

	rxf, err := f.dev.Receive()
	require.NoError(t, err)
	require.NotNil(t, rxf)
	assert.Equal(t, []byte{3, 4}, rxf.Payload())
	require.NoError(t, rxf.Release())
	assert.False(t, f.dev.ReceiveReady())
}

func TestDevice_ErroredFramesNeverSurface(t *testing.T) {
	f := newFixture(t, 4, nil)

	require.NoError(t, f.sim.DeliverFrame([]byte{1}, bd.RxErrCRC))
	require.NoError(t, f.sim.DeliverFrame([]byte{2}, bd.RxErrOverrun|bd.RxErrTruncated))

	rxf, err := f.dev.Receive()
	require.NoError(t, err)
	assert.Nil(t, rxf)

	assert.Equal(t, int64(2), f.dev.stats.rxDropped.Count())
	assert.Equal(t, int64(1), f.dev.stats.rxErrCRC.Count())
	assert.Equal(t, int64(1), f.dev.stats.rxErrOverrun.Count())
	assert.Equal(t, int64(1), f.dev.stats.rxErrTruncated.Count())
	assert.Equal(t, int64(0), f.dev.stats.rxFrames.Count())

	// The bad slots were re-armed immediately: a full ring of deliveries
	// fits again.
	for i := 0; i < 4; i++ {
		require.NoError(t, f.sim.DeliverFrame([]byte{byte(i)}, 0), "delivery %d", i)
	}
}

func TestDevice_ReceiveLoanLimit(t *testing.T) {
	f := newFixture(t, 4, []Option{WithMaxLoans(1)})

	require.NoError(t, f.sim.DeliverFrame([]byte{1}, 0))
	require.NoError(t, f.sim.DeliverFrame([]byte{2}, 0))

	first, err := f.dev.Receive()
	require.NoError(t, err)
	require.NotNil(t, first)

	held, err := f.dev.Receive()
	require.NoError(t, err)
	assert.Nil(t, held)
	assert.Equal(t, int64(1), f.dev.stats.rxStalled.Count())

	require.NoError(t, first.Release())
	second, err := f.dev.Receive()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, []byte{2}, second.Payload())
}

func TestDevice_TransmitAndReclaim(t *testing.T) {
	f := newFixture(t, 4, nil)

	f.send(t, []byte{1, 1, 1})
	f.send(t, []byte{2, 2})

	n, err := f.sim.CompleteTransmits(-1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]byte{{1, 1, 1}, {2, 2}}, f.sim.Sent())

	// Each completion is reclaimed exactly once.
	n, err = f.dev.ReclaimTransmitted()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = f.dev.ReclaimTransmitted()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(2), f.dev.stats.txReclaimed.Count())
}

func TestDevice_TransmitExhaustion(t *testing.T) {
	f := newFixture(t, 4, nil)

	for i := 0; i < 4; i++ {
		f.send(t, []byte{byte(i)})
	}

	held, err := f.dev.Transmit(8)
	require.NoError(t, err)
	assert.Nil(t, held)
	assert.Equal(t, int64(1), f.dev.stats.txExhausted.Count())

	// Hardware progress makes Transmit succeed again without an explicit
	// reclaim call.
	_, err = f.sim.CompleteTransmits(1)
	require.NoError(t, err)
	txf, err := f.dev.Transmit(8)
	require.NoError(t, err)
	assert.NotNil(t, txf)
}

func TestDevice_CommitsFlushInLoanOrder(t *testing.T) {
	f := newFixture(t, 4, nil)

	first, err := f.dev.Transmit(2)
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := f.dev.Transmit(2)
	require.NoError(t, err)
	require.NotNil(t, second)

	copy(first.Payload(), []byte{1, 1})
	copy(second.Payload(), []byte{2, 2})

	// Committing out of loan order holds the submission back.
	require.NoError(t, second.Commit())
	assert.Equal(t, 0, f.sim.TransmitKicks())

	require.NoError(t, first.Commit())
	assert.Equal(t, 1, f.sim.TransmitKicks())

	_, err = f.sim.CompleteTransmits(-1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{1, 1}, {2, 2}}, f.sim.Sent())
}

func TestDevice_AbortedLoanIsReused(t *testing.T) {
	f := newFixture(t, 4, nil)

	first, err := f.dev.Transmit(2)
	require.NoError(t, err)
	second, err := f.dev.Transmit(2)
	require.NoError(t, err)
	copy(second.Payload(), []byte{2, 2})

	require.NoError(t, first.Release())
	assert.Equal(t, int64(1), f.dev.stats.txAborted.Count())

	// The committed frame behind the hole stays queued.
	require.NoError(t, second.Commit())
	assert.Equal(t, 0, f.sim.TransmitKicks())

	// The next loan fills the hole and unblocks the queue.
	reused, err := f.dev.Transmit(2)
	require.NoError(t, err)
	require.NotNil(t, reused)
	assert.Equal(t, first.Slot(), reused.Slot())
	copy(reused.Payload(), []byte{3, 3})
	require.NoError(t, reused.Commit())

	_, err = f.sim.CompleteTransmits(-1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{3, 3}, {2, 2}}, f.sim.Sent())
}

func TestDevice_TrailingAbortLeavesNoHole(t *testing.T) {
	f := newFixture(t, 4, nil)

	txf, err := f.dev.Transmit(2)
	require.NoError(t, err)
	require.NoError(t, txf.Release())
	assert.Empty(t, f.dev.txLoans)

	again, err := f.dev.Transmit(2)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, txf.Slot(), again.Slot())
}

func TestDevice_TransmitLengthValidation(t *testing.T) {
	f := newFixture(t, 4, nil)

	_, err := f.dev.Transmit(testMTU + 1)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	_, err = f.dev.Transmit(0)
	assert.Error(t, err)
}

func TestDevice_HandleMisuseIsCountedNotFatal(t *testing.T) {
	f := newFixture(t, 4, nil)

	require.NoError(t, f.sim.DeliverFrame([]byte{1}, 0))
	rxf, err := f.dev.Receive()
	require.NoError(t, err)
	require.NoError(t, rxf.Release())
	require.NoError(t, rxf.Release())
	assert.Equal(t, int64(1), f.dev.stats.misuse.Count())

	txf, err := f.dev.Transmit(4)
	require.NoError(t, err)
	require.NoError(t, txf.Commit())
	require.NoError(t, txf.Commit())
	require.NoError(t, txf.Release())
	assert.Equal(t, int64(3), f.dev.stats.misuse.Count())
}

func TestDevice_PendingWork(t *testing.T) {
	f := newFixture(t, 4, nil)

	assert.False(t, f.dev.PendingWork())

	require.NoError(t, f.sim.DeliverFrame([]byte{1}, 0))
	assert.True(t, f.dev.PendingWork())
	// The status was acknowledged; nothing new is pending.
	assert.False(t, f.dev.PendingWork())
}

func TestDevice_BusErrorLatchesUntilReset(t *testing.T) {
	f := newFixture(t, 4, nil)

	require.NoError(t, f.sim.DeliverFrame([]byte{1}, 0))
	rxf, err := f.dev.Receive()
	require.NoError(t, err)
	require.NotNil(t, rxf)

	f.sim.RaiseBusError()
	assert.True(t, f.dev.PendingWork())
	assert.ErrorIs(t, f.dev.Err(), ErrBusFault)

	_, err = f.dev.Receive()
	assert.ErrorIs(t, err, ErrBusFault)
	_, err = f.dev.Transmit(8)
	assert.ErrorIs(t, err, ErrBusFault)
	assert.False(t, f.dev.ReceiveReady())

	require.NoError(t, f.dev.Reset())
	assert.NoError(t, f.dev.Err())
	assert.Equal(t, 2, f.sim.Initializations())

	// Handles from before the reset are inert.
	require.NoError(t, rxf.Release())
	assert.Equal(t, 0, f.dev.rxLoans)

	require.NoError(t, f.sim.DeliverFrame([]byte{2}, 0))
	after, err := f.dev.Receive()
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, []byte{2}, after.Payload())
}

func TestDevice_Close(t *testing.T) {
	f := newFixture(t, 4, nil)

	require.NoError(t, f.dev.Close())
	require.NoError(t, f.dev.Close())

	_, err := f.dev.Receive()
	assert.ErrorIs(t, err, ErrDeviceClosed)
	_, err = f.dev.Transmit(8)
	assert.ErrorIs(t, err, ErrDeviceClosed)
	assert.ErrorIs(t, f.dev.Reset(), ErrDeviceClosed)
	assert.False(t, f.dev.ReceiveReady())
	assert.False(t, f.dev.PendingWork())
}

func TestDevice_LoopbackRoundTrip(t *testing.T) {
	f := newFixture(t, 4, nil, macsim.WithLoopback(), macsim.WithAutoComplete())

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	udp := layers.UDP{SrcPort: 5353, DstPort: 5353}
	require.NoError(t, udp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		&eth, &ip, &udp, gopacket.Payload("ping")))
	raw := buf.Bytes()

	f.send(t, raw)

	assert.True(t, f.dev.PendingWork())
	require.True(t, f.dev.ReceiveReady())
	rxf, err := f.dev.Receive()
	require.NoError(t, err)
	require.NotNil(t, rxf)
	assert.Equal(t, raw, rxf.Payload())

	pkt := gopacket.NewPacket(rxf.Payload(), layers.LayerTypeEthernet, gopacket.Default)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	require.NotNil(t, udpLayer)
	assert.Equal(t, []byte("ping"), udpLayer.(*layers.UDP).Payload)
	require.NoError(t, rxf.Release())
}

func TestNewFromConfig(t *testing.T) {
	lay := computeLayout(8, 8, 512)
	region, err := dmamem.Alloc(lay.total)
	require.NoError(t, err)
	defer region.Release()
	sim := macsim.New(util.NewTestLogger(), region)

	c := config.NewC(util.NewTestLogger())
	require.NoError(t, c.LoadString(`
ring:
  rx_size: 8
  tx_size: 8
mtu: 512
tx:
  max_loans: 2
`))

	dev, err := NewFromConfig(util.NewTestLogger(), c, sim,
		WithRegion(region), WithMetricsRegistry(metrics.NewRegistry()))
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, 512, dev.MTU())
	assert.Equal(t, 8, dev.rx.Len())
	assert.Equal(t, 2, dev.maxLoans)
}
