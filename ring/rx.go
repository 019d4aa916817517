package ring

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/nxfw/enet/bd"
)

var (
	// ErrRingCorrupt is returned when a descriptor is found in an impossible
	// state, such as a wrap flag on a non-last slot. This indicates memory
	// corruption or a hardware fault; the ring halts and must be
	// reinitialized before it can be used again.
	ErrRingCorrupt = errors.New("descriptor ring is corrupt")

	// ErrRingHalted is returned by every operation after corruption was
	// detected, until the ring is reinitialized.
	ErrRingHalted = errors.New("ring is halted pending reinitialization")
)

// Completion describes one slot that hardware has finished with.
type Completion struct {
	// Slot is the ring index of the completed descriptor.
	Slot int
	// Length is the number of frame bytes in the slot's buffer.
	Length uint16
	// Errors holds the receive error bits reported by hardware, if any.
	Errors bd.RxFlags
}

// Errored reports whether hardware flagged the frame as bad. The slot still
// completes in order; the caller discards the payload and recycles the slot.
func (c Completion) Errored() bool {
	return c.Errors != 0
}

// Rx tracks the receive descriptor ring. All slots start out hardware-owned
// so the MAC can receive immediately; completed slots are consumed from the
// tail in strict ring order and handed back one by one.
type Rx struct {
	bds  []bd.RxDescriptor
	pool *BufferPool

	// tail is the oldest hardware-owned slot, which is where the next
	// completion will appear.
	tail   int
	halted bool
}

// NewRx builds a receive ring over the given descriptor memory. The length
// of mem must match [bd.Size] times the pool's buffer count. All descriptors
// are programmed with their buffer addresses, the last slot gets the wrap
// flag, and every slot is armed for reception.
func NewRx(mem []byte, pool *BufferPool) (*Rx, error) {
	count := pool.Count()
	if len(mem) != count*bd.Size {
		return nil, fmt.Errorf("descriptor memory size %d does not match %d slots",
			len(mem), count)
	}

	r := &Rx{
		bds:  unsafe.Slice((*bd.RxDescriptor)(unsafe.Pointer(&mem[0])), count),
		pool: pool,
	}
	r.Reinit()
	return r, nil
}

// Len returns the number of slots in the ring.
func (r *Rx) Len() int {
	return len(r.bds)
}

// Reinit reprograms every descriptor and re-arms the whole ring, forcing any
// in-flight ownership back through a clean initial state. It clears a halt.
func (r *Rx) Reinit() {
	for i := range r.bds {
		d := &r.bds[i]
		d.Reset()
		d.Buffer = r.pool.DMAAddr(i)
		if i == len(r.bds)-1 {
			d.SetWrap()
		}
		d.Arm()
	}
	r.pool.guard.init(len(r.bds))
	for i := range r.bds {
		r.pool.toHardware(i)
	}
	r.tail = 0
	r.halted = false
}

// PeekAt inspects the completion that is offset slots beyond the oldest one
// without consuming anything. It reports false once the scan reaches a slot
// still owned by hardware. Repeated calls never change ring state.
func (r *Rx) PeekAt(offset int) (Completion, bool, error) {
	if r.halted {
		return Completion{}, false, ErrRingHalted
	}
	if offset < 0 || offset >= len(r.bds) {
		return Completion{}, false, nil
	}

	// Every slot between the tail and the probed one must be complete,
	// otherwise in-order delivery would be violated.
	for i := 0; i <= offset; i++ {
		slot := (r.tail + i) % len(r.bds)
		d := &r.bds[slot]
		if d.Empty() {
			return Completion{}, false, nil
		}
		if err := r.check(slot, d.Flags()); err != nil {
			return Completion{}, false, err
		}
	}

	slot := (r.tail + offset) % len(r.bds)
	d := &r.bds[slot]
	return Completion{
		Slot:   slot,
		Length: d.Length(),
		Errors: d.Flags() & bd.RxErrMask,
	}, true, nil
}

// TakeOne consumes the oldest completed slot and advances the tail. It does
// not release the slot's buffer: the caller decides whether to deliver or
// discard the payload and then recycles the slot with [Rx.SubmitReceive].
func (r *Rx) TakeOne() (Completion, bool, error) {
	c, ok, err := r.PeekAt(0)
	if err != nil || !ok {
		return Completion{}, false, err
	}

	r.pool.toSoftware(c.Slot)
	r.tail = (r.tail + 1) % len(r.bds)
	return c, true, nil
}

// SubmitReceive hands a slot back to hardware for the next reception. The
// slot's buffer must no longer be referenced by the caller. Slots may be
// recycled in any order; hardware waits at a non-empty descriptor until it
// is re-armed.
func (r *Rx) SubmitReceive(slot int) error {
	if r.halted {
		return ErrRingHalted
	}
	if slot < 0 || slot >= len(r.bds) {
		return fmt.Errorf("slot %d out of range for ring of %d slots", slot, len(r.bds))
	}

	d := &r.bds[slot]
	if d.Empty() {
		return r.corrupt(fmt.Errorf("%w: slot %d resubmitted while hardware owns it",
			ErrRingCorrupt, slot))
	}

	r.pool.toHardware(slot)
	d.Arm()
	return nil
}

// Quiesce forces every slot back to software ownership. The MAC must have
// been disabled first. Used on teardown before descriptor memory is
// released.
func (r *Rx) Quiesce() {
	for i := range r.bds {
		d := &r.bds[i]
		d.Complete(0, 0)
	}
}

// check validates the structural invariants of a completed descriptor.
func (r *Rx) check(slot int, flags bd.RxFlags) error {
	last := slot == len(r.bds)-1
	if (flags&bd.RxWrap != 0) != last {
		return r.corrupt(fmt.Errorf("%w: wrap flag mismatch on slot %d of %d",
			ErrRingCorrupt, slot, len(r.bds)))
	}
	// Buffers are MTU-sized, so hardware completes every frame within a
	// single descriptor and always sets the last flag.
	if flags&bd.RxLast == 0 {
		return r.corrupt(fmt.Errorf("%w: completed slot %d without last flag",
			ErrRingCorrupt, slot))
	}
	return nil
}

func (r *Rx) corrupt(err error) error {
	r.halted = true
	return err
}
