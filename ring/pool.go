package ring

import (
	"fmt"

	"github.com/nxfw/enet/dmamem"
)

// BufferPool is a fixed set of fixed-size frame buffers, one per ring slot,
// carved out of a single DMA region at construction time. Nothing is ever
// allocated after that: when all slots are hardware-owned the pool is simply
// exhausted, which surfaces as backpressure, not as an error.
//
// Access discipline is the caller's responsibility: a slot's buffer may only
// be read or written while its descriptor is software-owned. Builds with the
// ringdebug tag enable an assertion mode that catches violations.
type BufferPool struct {
	region *dmamem.Region
	offset int
	stride int
	count  int

	guard guard
}

// NewBufferPool binds count buffers of the given size to the region starting
// at the given offset. The size must satisfy [CheckBufferSize].
func NewBufferPool(region *dmamem.Region, offset, count, size int) (*BufferPool, error) {
	if err := CheckRingSize(count); err != nil {
		return nil, err
	}
	if err := CheckBufferSize(size); err != nil {
		return nil, err
	}
	if offset < 0 || offset+count*size > region.Size() {
		return nil, fmt.Errorf("buffer pool [%d, %d) does not fit dma region of size %d",
			offset, offset+count*size, region.Size())
	}

	p := &BufferPool{
		region: region,
		offset: offset,
		stride: size,
		count:  count,
	}
	p.guard.init(count)
	return p, nil
}

// Count returns the number of buffers in the pool.
func (p *BufferPool) Count() int {
	return p.count
}

// BufferSize returns the size of each buffer in bytes.
func (p *BufferPool) BufferSize() int {
	return p.stride
}

// RegionFor returns the byte region bound to the given slot. The caller must
// hold software ownership of the slot.
func (p *BufferPool) RegionFor(slot int) []byte {
	p.checkSlot(slot)
	p.guard.assertSoftware(slot)
	return p.region.Slice(p.offset+slot*p.stride, p.stride)
}

// DMAAddr returns the DMA address of the given slot's buffer, as programmed
// into its descriptor.
func (p *BufferPool) DMAAddr(slot int) uint32 {
	p.checkSlot(slot)
	return p.region.DMAAddr(p.offset + slot*p.stride)
}

// toHardware records the handover of a slot's buffer to hardware. Only the
// debug guard observes this.
func (p *BufferPool) toHardware(slot int) {
	p.guard.toHardware(slot)
}

// toSoftware records the handover of a slot's buffer back to software. Only
// the debug guard observes this.
func (p *BufferPool) toSoftware(slot int) {
	p.guard.toSoftware(slot)
}

func (p *BufferPool) checkSlot(slot int) {
	if slot < 0 || slot >= p.count {
		panic(fmt.Sprintf("slot %d out of range for pool of %d buffers", slot, p.count))
	}
}
