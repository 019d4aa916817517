// Package dmamem allocates page-backed memory regions for descriptor rings
// and frame buffers. The DMA engine needs addresses that stay put for the
// lifetime of the driver, which rules out Go-managed memory: the garbage
// collector must never move or reclaim a buffer while hardware holds a
// pointer into it. Regions are therefore mapped outside the Go heap and
// released explicitly.
package dmamem

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrRegionReleased is returned when a released region is used.
var ErrRegionReleased = errors.New("dma region was released")

// Region is a page-aligned, fixed-address block of memory. Addresses within
// a region double as DMA addresses: hardware is given 32-bit offsets from
// the region base, so a region can span at most 4 GiB.
type Region struct {
	buf []byte
}

// Alloc maps a new region of at least size bytes. The size is rounded up to
// a whole number of pages.
func Alloc(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid dma region size %d", size)
	}
	size = Align(size, os.Getpagesize())

	buf, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("allocate dma region: %w", err)
	}

	return &Region{buf: buf}, nil
}

// Size returns the usable size of the region in bytes.
func (r *Region) Size() int {
	return len(r.buf)
}

// Addr returns the base address of the region. Do not hold on to memory
// derived from it past [Region.Release].
func (r *Region) Addr() uintptr {
	if r.buf == nil {
		panic("dma region was released")
	}
	return uintptr(unsafe.Pointer(&r.buf[0]))
}

// Bytes returns the whole region as a byte slice.
func (r *Region) Bytes() []byte {
	return r.buf
}

// Slice returns the sub-region [off, off+length).
func (r *Region) Slice(off, length int) []byte {
	if off < 0 || length < 0 || off+length > len(r.buf) {
		panic(fmt.Sprintf("dma region slice [%d, %d) out of range for size %d",
			off, off+length, len(r.buf)))
	}
	return r.buf[off : off+length : off+length]
}

// DMAAddr returns the DMA address of the given offset, as programmed into
// descriptors. The device-facing address space starts at the region base.
func (r *Region) DMAAddr(off int) uint32 {
	if off < 0 || off > len(r.buf) {
		panic(fmt.Sprintf("dma offset %d out of range for size %d", off, len(r.buf)))
	}
	return uint32(off)
}

// Release unmaps the region. Hardware must have been quiesced first; any
// descriptor still pointing into the region becomes dangling.
func (r *Region) Release() error {
	if r.buf == nil {
		return ErrRegionReleased
	}
	if err := unix.Munmap(r.buf); err != nil {
		return fmt.Errorf("release dma region: %w", err)
	}
	r.buf = nil
	return nil
}

// Align rounds n up to the next multiple of alignment.
func Align(n, alignment int) int {
	remainder := n % alignment
	if remainder == 0 {
		return n
	}
	return n + alignment - remainder
}
