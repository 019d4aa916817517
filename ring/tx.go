package ring

import (
	"fmt"
	"unsafe"

	"github.com/nxfw/enet/bd"
)

// Tx tracks the transmit descriptor ring. Slots start out free; they are
// filled and submitted in ring order from the head, and hardware completes
// them in the same order at the tail. The MAC processes the ring strictly
// sequentially, so submissions must also happen in slot order.
type Tx struct {
	bds  []bd.TxDescriptor
	pool *BufferPool

	// head is the next slot to be submitted.
	head int
	// tail is the oldest submitted slot still awaiting completion.
	tail int
	// inFlight is the number of slots currently owned by hardware.
	inFlight int
	halted   bool
}

// NewTx builds a transmit ring over the given descriptor memory. The length
// of mem must match [bd.Size] times the pool's buffer count. All descriptors
// are programmed with their buffer addresses and start out software-owned.
func NewTx(mem []byte, pool *BufferPool) (*Tx, error) {
	count := pool.Count()
	if len(mem) != count*bd.Size {
		return nil, fmt.Errorf("descriptor memory size %d does not match %d slots",
			len(mem), count)
	}

	t := &Tx{
		bds:  unsafe.Slice((*bd.TxDescriptor)(unsafe.Pointer(&mem[0])), count),
		pool: pool,
	}
	t.Reinit()
	return t, nil
}

// Len returns the number of slots in the ring.
func (t *Tx) Len() int {
	return len(t.bds)
}

// Capacity returns the number of slots not currently owned by hardware.
// Zero means the ring is exhausted and the caller should retry after
// reclaiming completions.
func (t *Tx) Capacity() int {
	return len(t.bds) - t.inFlight
}

// SlotAt returns the ring index that is offset free slots beyond the head.
// Callers loan slots in this order and submit them in the same order.
func (t *Tx) SlotAt(offset int) (int, bool) {
	if offset < 0 || offset >= t.Capacity() {
		return 0, false
	}
	return (t.head + offset) % len(t.bds), true
}

// Reinit reprograms every descriptor, forcing all ownership back to
// software and resetting the cursors. It clears a halt.
func (t *Tx) Reinit() {
	for i := range t.bds {
		d := &t.bds[i]
		d.Reset()
		d.Buffer = t.pool.DMAAddr(i)
		if i == len(t.bds)-1 {
			d.SetWrap()
		}
	}
	t.pool.guard.init(len(t.bds))
	t.head = 0
	t.tail = 0
	t.inFlight = 0
	t.halted = false
}

// SubmitTransmit hands the head slot to hardware with the given frame
// length. The caller must have finished writing the frame bytes into the
// slot's buffer; no writer may touch it after this call. The slot must be
// the current head: the MAC consumes descriptors sequentially and a gap
// would stall the ring.
func (t *Tx) SubmitTransmit(slot int, length uint16) error {
	if t.halted {
		return ErrRingHalted
	}
	if slot != t.head {
		return fmt.Errorf("slot %d submitted out of order, head is %d", slot, t.head)
	}
	if t.inFlight == len(t.bds) {
		return fmt.Errorf("%w: submit with all %d slots in flight", ErrRingCorrupt, len(t.bds))
	}

	d := &t.bds[slot]
	if d.Ready() {
		return t.corrupt(fmt.Errorf("%w: slot %d submitted while hardware owns it",
			ErrRingCorrupt, slot))
	}

	t.pool.toHardware(slot)
	d.Submit(length)
	t.head = (t.head + 1) % len(t.bds)
	t.inFlight++
	return nil
}

// ReclaimOne returns the oldest slot hardware has finished sending, so its
// buffer can be reused. Each submitted slot is returned exactly once, in
// submission order. It reports false while the oldest slot is still in
// flight.
func (t *Tx) ReclaimOne() (int, bool, error) {
	if t.halted {
		return 0, false, ErrRingHalted
	}
	if t.inFlight == 0 {
		return 0, false, nil
	}

	slot := t.tail
	d := &t.bds[slot]
	if d.Ready() {
		return 0, false, nil
	}
	if err := t.check(slot, d.Flags()); err != nil {
		return 0, false, err
	}

	t.pool.toSoftware(slot)
	t.tail = (t.tail + 1) % len(t.bds)
	t.inFlight--
	return slot, true, nil
}

// Quiesce forces every slot back to software ownership. The MAC must have
// been disabled first. Used on teardown before descriptor memory is
// released.
func (t *Tx) Quiesce() {
	for i := range t.bds {
		t.bds[i].Reclaim()
	}
}

// check validates the structural invariants of a completed descriptor.
func (t *Tx) check(slot int, flags bd.TxFlags) error {
	last := slot == len(t.bds)-1
	if (flags&bd.TxWrap != 0) != last {
		return t.corrupt(fmt.Errorf("%w: wrap flag mismatch on slot %d of %d",
			ErrRingCorrupt, slot, len(t.bds)))
	}
	return nil
}

func (t *Tx) corrupt(err error) error {
	t.halted = true
	return err
}
