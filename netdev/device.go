package netdev

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/nxfw/enet/bd"
	"github.com/nxfw/enet/dmamem"
	"github.com/nxfw/enet/mac"
	"github.com/nxfw/enet/ring"
	"github.com/nxfw/enet/util"
)

var (
	// ErrDeviceClosed is returned by every operation after Close.
	ErrDeviceClosed = errors.New("device is closed")

	// ErrBusFault is returned after the controller reported a DMA bus error.
	// The peripheral has stopped; only [Device.Reset] recovers.
	ErrBusFault = errors.New("dma bus fault, device must be reset")

	// ErrFrameTooLarge is returned by Transmit for lengths beyond the MTU.
	ErrFrameTooLarge = errors.New("frame exceeds device mtu")
)

// layout describes where rings and buffers sit inside the DMA region.
type layout struct {
	rxRing int
	txRing int
	rxBufs int
	txBufs int
	total  int
}

func computeLayout(rxSize, txSize, mtu int) layout {
	var l layout
	l.rxRing = 0
	l.txRing = dmamem.Align(l.rxRing+rxSize*bd.Size, bd.Alignment)
	l.rxBufs = dmamem.Align(l.txRing+txSize*bd.Size, bd.Alignment)
	l.txBufs = dmamem.Align(l.rxBufs+rxSize*mtu, bd.Alignment)
	l.total = l.txBufs + txSize*mtu
	return l
}

// Device is the packet interface a polling network stack drives. It owns the
// descriptor rings and their buffers and speaks to the MAC only through the
// [mac.Controller] boundary.
//
// A Device is not safe for concurrent use; all methods must be called from
// the single polling goroutine, mirroring the main-loop discipline of the
// firmware this runs in.
type Device struct {
	l    *logrus.Logger
	ctrl mac.Controller

	region     *dmamem.Region
	ownsRegion bool
	layout     layout

	rx     *ring.Rx
	tx     *ring.Tx
	rxPool *ring.BufferPool
	txPool *ring.BufferPool

	mtu      int
	maxLoans int
	link     mac.LinkMode

	// rxLoans counts outstanding receive frames.
	rxLoans int
	// txLoans holds outstanding transmit loans, oldest first. Submission
	// happens from the front so the ring sees slots in loan order.
	txLoans []*TxFrame

	// gen invalidates frame handles that survived a Reset or Close.
	gen uint64

	stats  *stats
	fatal  error
	closed bool
}

// NewDevice builds a device over a fresh or caller-provided DMA region and
// initializes the controller with the resulting ring layout. At minimum
// [WithController] and a ring size option must be given.
func NewDevice(l *logrus.Logger, options ...Option) (*Device, error) {
	opts := optionDefaults
	opts.apply(options)
	if opts.maxLoans == 0 {
		opts.maxLoans = max(opts.rxRingSize, opts.txRingSize)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	d := &Device{
		l:        l,
		ctrl:     opts.controller,
		mtu:      opts.mtu,
		maxLoans: opts.maxLoans,
		link:     opts.link,
		layout:   computeLayout(opts.rxRingSize, opts.txRingSize, opts.mtu),
		stats:    newStats(opts.registry),
	}

	if opts.region != nil {
		if opts.region.Size() < d.layout.total {
			return nil, fmt.Errorf("dma region of %d bytes is too small for layout of %d bytes",
				opts.region.Size(), d.layout.total)
		}
		d.region = opts.region
	} else {
		region, err := dmamem.Alloc(d.layout.total)
		if err != nil {
			return nil, fmt.Errorf("allocate dma region: %w", err)
		}
		d.region = region
		d.ownsRegion = true
	}

	var err error
	d.rxPool, err = ring.NewBufferPool(d.region, d.layout.rxBufs, opts.rxRingSize, opts.mtu)
	if err == nil {
		d.txPool, err = ring.NewBufferPool(d.region, d.layout.txBufs, opts.txRingSize, opts.mtu)
	}
	if err == nil {
		d.rx, err = ring.NewRx(d.region.Slice(d.layout.rxRing, opts.rxRingSize*bd.Size), d.rxPool)
	}
	if err == nil {
		d.tx, err = ring.NewTx(d.region.Slice(d.layout.txRing, opts.txRingSize*bd.Size), d.txPool)
	}
	if err != nil {
		d.releaseRegion()
		return nil, err
	}

	if err := d.ctrl.Initialize(d.ringAddrs()); err != nil {
		d.releaseRegion()
		return nil, fmt.Errorf("initialize controller: %w", err)
	}
	d.ctrl.KickReceive()

	d.l.WithFields(logrus.Fields{
		"rxSlots": opts.rxRingSize,
		"txSlots": opts.txRingSize,
		"mtu":     opts.mtu,
	}).Info("network device is ready")

	runtime.SetFinalizer(d, func(d *Device) { _ = d.Close() })
	return d, nil
}

func (d *Device) ringAddrs() mac.RingAddrs {
	return mac.RingAddrs{
		RxRing:       d.region.DMAAddr(d.layout.rxRing),
		TxRing:       d.region.DMAAddr(d.layout.txRing),
		RxBufferSize: uint16(d.mtu),
		Link:         d.link,
	}
}

func (d *Device) releaseRegion() {
	if d.ownsRegion {
		_ = d.region.Release()
	}
}

// MTU returns the largest frame length the device moves in one buffer.
func (d *Device) MTU() int {
	return d.mtu
}

func (d *Device) usable() error {
	if d.closed {
		return ErrDeviceClosed
	}
	return d.fatal
}

// ReceiveReady reports whether a good frame is waiting. It never mutates
// ring state, so it is safe to call from lightweight "anything to do?"
// checks between poll iterations. Errored completions ahead of a good frame
// do not hide it.
func (d *Device) ReceiveReady() bool {
	if d.usable() != nil {
		return false
	}
	for i := 0; ; i++ {
		c, ok, err := d.rx.PeekAt(i)
		if err != nil || !ok {
			return false
		}
		if !c.Errored() {
			return true
		}
	}
}

// Receive returns the oldest good received frame, or nil when nothing is
// ready. Frames hardware flagged as bad are counted, their slots re-armed
// immediately, and never surface to the caller. The frame's buffer belongs
// to the caller until [RxFrame.Release].
func (d *Device) Receive() (*RxFrame, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	for {
		c, ok, err := d.rx.PeekAt(0)
		if err != nil {
			return nil, d.ringFailure("rx", err)
		}
		if !ok {
			return nil, nil
		}

		if c.Errored() {
			if _, _, err := d.rx.TakeOne(); err != nil {
				return nil, d.ringFailure("rx", err)
			}
			d.stats.countRxError(c.Errors)
			if err := d.rx.SubmitReceive(c.Slot); err != nil {
				return nil, d.ringFailure("rx", err)
			}
			d.ctrl.KickReceive()
			continue
		}

		if d.rxLoans >= d.maxLoans {
			d.stats.rxStalled.Inc(1)
			return nil, nil
		}

		if _, _, err := d.rx.TakeOne(); err != nil {
			return nil, d.ringFailure("rx", err)
		}
		d.rxLoans++
		d.stats.rxFrames.Inc(1)
		return &RxFrame{
			dev:     d,
			slot:    c.Slot,
			payload: d.rxPool.RegionFor(c.Slot)[:c.Length],
			gen:     d.gen,
		}, nil
	}
}

func (d *Device) releaseReceive(f *RxFrame) error {
	if f.gen != d.gen {
		// The handle outlived a reset; its slot was already recycled.
		return nil
	}
	if f.released {
		d.stats.misuse.Inc(1)
		d.l.WithField("slot", f.slot).Warn("receive frame released twice")
		return nil
	}
	if err := d.usable(); err != nil {
		return err
	}

	f.released = true
	d.rxLoans--
	if err := d.rx.SubmitReceive(f.slot); err != nil {
		return d.ringFailure("rx", err)
	}
	d.ctrl.KickReceive()
	return nil
}

// Transmit loans a buffer for a frame of the given length. It returns nil
// when the ring is exhausted or the loan limit is reached; the caller backs
// off and retries after the MAC drains. Slots whose previous loan was
// released uncommitted are handed out again before fresh ones.
func (d *Device) Transmit(length int) (*TxFrame, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}
	if length > d.mtu {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, d.mtu)
	}

	if _, err := d.ReclaimTransmitted(); err != nil {
		return nil, err
	}

	for _, f := range d.txLoans {
		if f.state != txAborted {
			continue
		}
		f.state = txPending
		f.length = length
		f.payload = d.txPool.RegionFor(f.slot)[:length]
		f.gen = d.gen
		return f, nil
	}

	if len(d.txLoans) >= d.maxLoans {
		d.stats.txExhausted.Inc(1)
		return nil, nil
	}
	slot, ok := d.tx.SlotAt(len(d.txLoans))
	if !ok {
		d.stats.txExhausted.Inc(1)
		return nil, nil
	}

	f := &TxFrame{
		dev:     d,
		slot:    slot,
		length:  length,
		payload: d.txPool.RegionFor(slot)[:length],
		gen:     d.gen,
		state:   txPending,
	}
	d.txLoans = append(d.txLoans, f)
	return f, nil
}

func (d *Device) commitTransmit(f *TxFrame) error {
	if f.gen != d.gen {
		return nil
	}
	if f.state != txPending {
		d.stats.misuse.Inc(1)
		d.l.WithField("slot", f.slot).Warn("transmit frame committed twice or after release")
		return nil
	}
	if err := d.usable(); err != nil {
		return err
	}

	f.state = txCommitted
	return d.flushTransmits()
}

// flushTransmits submits committed loans from the front of the queue. A
// pending or aborted loan at the front holds everything behind it back,
// preserving loan order on the ring.
func (d *Device) flushTransmits() error {
	kicked := false
	for len(d.txLoans) > 0 && d.txLoans[0].state == txCommitted {
		f := d.txLoans[0]
		if err := d.tx.SubmitTransmit(f.slot, uint16(f.length)); err != nil {
			return d.ringFailure("tx", err)
		}
		f.state = txSent
		d.txLoans = d.txLoans[1:]
		d.stats.txFrames.Inc(1)
		kicked = true
	}
	if kicked {
		d.ctrl.KickTransmit()
	}
	return nil
}

func (d *Device) releaseTransmit(f *TxFrame) error {
	if f.gen != d.gen {
		return nil
	}
	switch f.state {
	case txPending:
	default:
		d.stats.misuse.Inc(1)
		d.l.WithField("slot", f.slot).Warn("transmit frame released twice or after commit")
		return nil
	}
	if err := d.usable(); err != nil {
		return err
	}

	d.stats.txAborted.Inc(1)
	d.l.WithField("slot", f.slot).Warn("transmit frame released without commit")
	f.state = txAborted

	// Trailing aborts have nothing queued behind them and can be dropped
	// outright. An abort in the middle stays as a hole until Transmit hands
	// the slot out again.
	for n := len(d.txLoans); n > 0 && d.txLoans[n-1].state == txAborted; n = len(d.txLoans) {
		d.txLoans = d.txLoans[:n-1]
	}
	return nil
}

// ReclaimTransmitted recycles every transmit slot hardware has finished
// with and returns how many it recycled. Transmit does this implicitly;
// calling it from the poll loop keeps completion latency out of the
// transmit path.
func (d *Device) ReclaimTransmitted() (int, error) {
	if err := d.usable(); err != nil {
		return 0, err
	}

	n := 0
	for {
		_, ok, err := d.tx.ReclaimOne()
		if err != nil {
			return n, d.ringFailure("tx", err)
		}
		if !ok {
			return n, nil
		}
		n++
		d.stats.txReclaimed.Inc(1)
	}
}

// PendingWork drains the controller's interrupt status and reports whether
// the poll loop should run a service pass. A bus error latches the device
// into a fatal state that every subsequent operation returns until Reset.
func (d *Device) PendingWork() bool {
	if d.closed {
		return false
	}

	status := d.ctrl.InterruptStatus()
	if status == 0 {
		return false
	}
	d.ctrl.AcknowledgeInterrupt(status)

	if status.Has(mac.StatusBusError) {
		d.fatal = ErrBusFault
		d.l.WithField("status", status.String()).Error("controller reported a dma bus error")
	}
	return true
}

// Err returns the fatal error the device is latched on, if any.
func (d *Device) Err() error {
	if d.closed {
		return ErrDeviceClosed
	}
	return d.fatal
}

// Reset forces the device back to its initial state: both rings are
// reprogrammed, all outstanding loans are invalidated and the controller is
// reinitialized. This is the recovery path for bus faults and ring
// corruption. Frame handles from before the reset become inert.
func (d *Device) Reset() error {
	if d.closed {
		return ErrDeviceClosed
	}

	if d.rxLoans > 0 || len(d.txLoans) > 0 {
		d.l.WithFields(logrus.Fields{
			"rxLoans": d.rxLoans,
			"txLoans": len(d.txLoans),
		}).Warn("resetting with frames still loaned out")
	}
	d.gen++
	d.rxLoans = 0
	d.txLoans = nil
	d.fatal = nil

	d.rx.Reinit()
	d.tx.Reinit()

	if err := d.ctrl.Initialize(d.ringAddrs()); err != nil {
		d.fatal = fmt.Errorf("reinitialize controller: %w", err)
		return d.fatal
	}
	d.ctrl.KickReceive()
	d.l.Info("network device was reset")
	return nil
}

// Close quiesces the rings and releases the DMA region if the device
// allocated it. The controller must no longer touch the rings; on hardware
// that means the MAC was disabled first. Close is idempotent.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.gen++

	d.rx.Quiesce()
	d.tx.Quiesce()

	runtime.SetFinalizer(d, nil)
	if d.ownsRegion {
		if err := d.region.Release(); err != nil {
			return fmt.Errorf("release dma region: %w", err)
		}
	}
	return nil
}

// ringFailure latches ring corruption as a fatal device state and wraps the
// error with enough context for the caller to log it.
func (d *Device) ringFailure(which string, err error) error {
	if errors.Is(err, ring.ErrRingCorrupt) || errors.Is(err, ring.ErrRingHalted) {
		d.fatal = util.NewContextualError("descriptor ring failed",
			map[string]any{"ring": which}, err)
		return d.fatal
	}
	return err
}
