package bd

import "unsafe"

// TxFlags describes the flags word of a transmit descriptor.
type TxFlags uint16

const (
	// TxReady marks the descriptor as owned by hardware. The DMA engine
	// clears it once the frame has left the MAC.
	TxReady TxFlags = 1 << 15
	// TxWrap marks the last descriptor of the ring.
	TxWrap TxFlags = 1 << 13
	// TxLast marks the descriptor holding the final buffer of a frame.
	TxLast TxFlags = 1 << 11
	// TxCRC makes the MAC append the frame checksum on the wire.
	TxCRC TxFlags = 1 << 10
)

// TxDescriptor is the enhanced transmit buffer descriptor. Field offsets
// follow the hardware layout; do not reorder.
type TxDescriptor struct {
	ctrl
	// Buffer is the DMA address of the frame buffer bound to this slot.
	Buffer uint32
	// Errors carries the transmit error bits written by hardware.
	Errors  uint16
	Control uint16
	// LaunchTime is the time-based launch field. Unused by this driver.
	LaunchTime uint32
	_          uint16
	// BDU is set by hardware when it has updated the descriptor.
	BDU uint16
	// Timestamp is the 1588 capture of the frame. Unused by this driver.
	Timestamp uint32
	_         [4]uint16
}

// Ready reports whether the descriptor is still owned by hardware.
func (d *TxDescriptor) Ready() bool {
	return TxFlags(d.flags())&TxReady != 0
}

// Flags returns the current flags word.
func (d *TxDescriptor) Flags() TxFlags {
	return TxFlags(d.flags())
}

// Length returns the frame length programmed into the descriptor.
func (d *TxDescriptor) Length() uint16 {
	return d.length()
}

// Submit hands the descriptor to hardware for transmission. The caller must
// have finished writing the frame bytes into the buffer first; the atomic
// store publishes them together with the length. The wrap flag is preserved.
func (d *TxDescriptor) Submit(length uint16) {
	wrap := TxFlags(d.flags()) & TxWrap
	d.store(length, uint16(TxReady|TxLast|TxCRC|wrap))
}

// Finish clears the ready flag after transmission. Only the DMA engine (or a
// simulator standing in for it) may call this.
func (d *TxDescriptor) Finish() {
	length, flags := d.load()
	d.store(length, flags&^uint16(TxReady))
}

// Reclaim forces the descriptor back to software ownership, clearing length
// and all flags but wrap. Used on reset and teardown.
func (d *TxDescriptor) Reclaim() {
	wrap := TxFlags(d.flags()) & TxWrap
	d.store(0, uint16(wrap))
}

// SetWrap marks the descriptor as the last one of the ring.
func (d *TxDescriptor) SetWrap() {
	length, flags := d.load()
	d.store(length, flags|uint16(TxWrap))
}

// Reset zeroes the descriptor. Only valid while software owns the slot.
func (d *TxDescriptor) Reset() {
	d.store(0, 0)
	d.Buffer = 0
	d.Errors = 0
	d.Control = 0
	d.LaunchTime = 0
	d.BDU = 0
	d.Timestamp = 0
}

// TxRingAt interprets the memory at addr as a ring of count transmit
// descriptors. The address must point at descriptor memory that outlives the
// returned slice.
func TxRingAt(addr uintptr, count int) []TxDescriptor {
	// The address points to memory not managed by Go, so this conversion is
	// safe. See https://github.com/golang/go/issues/58625
	//goland:noinspection GoVetUnsafePointer
	return unsafe.Slice((*TxDescriptor)(unsafe.Pointer(addr)), count)
}
