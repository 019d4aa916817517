// Package ring implements the receive and transmit descriptor rings of the
// ENET DMA engine, together with the buffer pool backing them.
//
// A ring is a fixed-size circular array of buffer descriptors with a software
// cursor. Each slot is owned by either software or hardware at any instant,
// tracked solely through the ownership bit in the descriptor's control word.
// There is no lock between the two sides: hardware cannot take part in one,
// so the atomic ownership handover is the entire coordination protocol.
// Software must never touch a slot's buffer while hardware owns it.
//
// Completions are observed in strict ring order. The wrap flag on the last
// slot is the only place circularity is implemented; hardware follows it and
// the software cursors use the same modulo arithmetic.
package ring
