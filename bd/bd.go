package bd

import "sync/atomic"

// Size is the number of bytes one enhanced buffer descriptor occupies in
// memory.
const Size = 32

// Alignment is the minimum alignment of a descriptor ring in memory, as
// required by the DMA engine.
const Alignment = 64

// ctrl is the first word of a descriptor: the data length in the low half
// and the flags in the high half. The DMA engine updates length and flags
// together when it completes a buffer, so software mirrors that by accessing
// the word atomically. The atomic store doubles as the publication barrier
// for the other descriptor fields.
type ctrl struct {
	word atomic.Uint32
}

func (c *ctrl) load() (length uint16, flags uint16) {
	w := c.word.Load()
	return uint16(w), uint16(w >> 16)
}

func (c *ctrl) store(length uint16, flags uint16) {
	c.word.Store(uint32(length) | uint32(flags)<<16)
}

func (c *ctrl) flags() uint16 {
	return uint16(c.word.Load() >> 16)
}

func (c *ctrl) length() uint16 {
	return uint16(c.word.Load())
}
