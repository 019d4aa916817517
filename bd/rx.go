package bd

import "unsafe"

// RxFlags describes the flags word of a receive descriptor.
type RxFlags uint16

const (
	// RxEmpty marks the descriptor as owned by hardware. The DMA engine
	// clears it once it has written a received frame into the buffer.
	RxEmpty RxFlags = 1 << 15
	// RxWrap marks the last descriptor of the ring. The DMA engine returns
	// to the ring base after processing it.
	RxWrap RxFlags = 1 << 13
	// RxLast is set by hardware on the descriptor holding the final buffer
	// of a frame. With MTU-sized buffers every frame fits a single buffer,
	// so a completed descriptor always carries it.
	RxLast RxFlags = 1 << 11

	// RxErrLength reports a frame length violation.
	RxErrLength RxFlags = 1 << 5
	// RxErrAlign reports a non-octet aligned frame.
	RxErrAlign RxFlags = 1 << 4
	// RxErrCRC reports a frame checksum mismatch.
	RxErrCRC RxFlags = 1 << 2
	// RxErrOverrun reports a receive FIFO overrun.
	RxErrOverrun RxFlags = 1 << 1
	// RxErrTruncated reports a frame that was cut short.
	RxErrTruncated RxFlags = 1 << 0

	// RxErrMask covers all receive error bits.
	RxErrMask = RxErrLength | RxErrAlign | RxErrCRC | RxErrOverrun | RxErrTruncated
)

// RxDescriptor is the enhanced receive buffer descriptor. Field offsets
// follow the hardware layout; do not reorder.
type RxDescriptor struct {
	ctrl
	// Buffer is the DMA address of the frame buffer bound to this slot.
	Buffer uint32
	// Status carries the protocol status bits written by the receive
	// accelerator.
	Status   uint16
	Control  uint16
	Checksum uint16
	Header   uint16
	_        uint16
	// BDU is set by hardware when it has updated the descriptor.
	BDU uint16
	// Timestamp is the 1588 capture of the frame. Unused by this driver.
	Timestamp uint32
	_         [4]uint16
}

// Empty reports whether the descriptor is still owned by hardware.
func (d *RxDescriptor) Empty() bool {
	return RxFlags(d.flags())&RxEmpty != 0
}

// Flags returns the current flags word.
func (d *RxDescriptor) Flags() RxFlags {
	return RxFlags(d.flags())
}

// Length returns the number of frame bytes hardware wrote into the buffer.
func (d *RxDescriptor) Length() uint16 {
	return d.length()
}

// Arm hands the descriptor back to hardware for the next reception. The wrap
// flag is preserved; everything else, including a stale length, is cleared.
func (d *RxDescriptor) Arm() {
	wrap := RxFlags(d.flags()) & RxWrap
	d.store(0, uint16(RxEmpty|wrap))
}

// Complete publishes a finished reception. Only the DMA engine (or a
// simulator standing in for it) may call this: it clears the empty flag,
// making the buffer visible to software.
func (d *RxDescriptor) Complete(length uint16, flags RxFlags) {
	wrap := RxFlags(d.flags()) & RxWrap
	d.store(length, uint16((flags|wrap)&^RxEmpty))
}

// SetWrap marks the descriptor as the last one of the ring.
func (d *RxDescriptor) SetWrap() {
	length, flags := d.load()
	d.store(length, flags|uint16(RxWrap))
}

// Reset zeroes the descriptor. Only valid while software owns the slot.
func (d *RxDescriptor) Reset() {
	d.store(0, 0)
	d.Buffer = 0
	d.Status = 0
	d.Control = 0
	d.Checksum = 0
	d.Header = 0
	d.BDU = 0
	d.Timestamp = 0
}

// RxRingAt interprets the memory at addr as a ring of count receive
// descriptors. The address must point at descriptor memory that outlives the
// returned slice.
func RxRingAt(addr uintptr, count int) []RxDescriptor {
	// The address points to memory not managed by Go, so this conversion is
	// safe. See https://github.com/golang/go/issues/58625
	//goland:noinspection GoVetUnsafePointer
	return unsafe.Slice((*RxDescriptor)(unsafe.Pointer(addr)), count)
}
