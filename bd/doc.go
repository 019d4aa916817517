// Package bd defines the enhanced buffer descriptor layout used by the ENET
// DMA engine. A descriptor is a 32-byte control/status record that points at
// one frame buffer and carries the ownership and status flags for it.
//
// The first 32-bit word of a descriptor holds the data length and the flags,
// including the ownership bit. Hardware and software hand buffers back and
// forth solely by flipping that bit, so the whole word is read and written
// with a single atomic access. All other fields may only be touched while the
// descriptor is software-owned.
package bd
