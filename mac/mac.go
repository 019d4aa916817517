// Package mac defines the boundary to the ENET MAC controller. The ring
// engine only needs a handful of primitives from it: programming the ring
// base addresses, kicking the DMA engine, and reading interrupt status.
// Everything else about the peripheral (clocks, pin muxing, PHY bring-up,
// address filters) belongs to the platform initialization code that
// implements this interface.
package mac

import "strings"

// Status is the set of interrupt causes reported by the controller.
type Status uint32

const (
	// StatusRxFrame signals that at least one frame was received and its
	// descriptor handed back to software.
	StatusRxFrame Status = 1 << iota
	// StatusTxFrame signals that at least one transmit descriptor was
	// completed by hardware.
	StatusTxFrame
	// StatusBusError signals a DMA bus error. The peripheral stops on it;
	// only a full reinitialization recovers.
	StatusBusError
)

// Has reports whether all bits of f are set.
func (s Status) Has(f Status) bool {
	return s&f == f
}

func (s Status) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	if s.Has(StatusRxFrame) {
		parts = append(parts, "rx-frame")
	}
	if s.Has(StatusTxFrame) {
		parts = append(parts, "tx-frame")
	}
	if s.Has(StatusBusError) {
		parts = append(parts, "bus-error")
	}
	return strings.Join(parts, "|")
}

// LinkMode carries the negotiated link parameters the controller should
// program into the MAC datapath. The zero value is 100 Mbit/s full duplex
// over MII.
type LinkMode struct {
	// Speed10 throttles the link to 10 Mbit/s.
	Speed10 bool
	// HalfDuplex disables simultaneous transmit and receive.
	HalfDuplex bool
	// RMII selects the reduced pin-count MII variant.
	RMII bool
}

// RingAddrs describes the DMA layout the controller programs into the
// peripheral. Addresses are in the DMA engine's address space and must stay
// valid for the lifetime of the driver.
type RingAddrs struct {
	// RxRing is the DMA address of the receive descriptor ring.
	RxRing uint32
	// TxRing is the DMA address of the transmit descriptor ring.
	TxRing uint32
	// RxBufferSize is the size of each receive buffer. Hardware drops the
	// four low bits, so it must be a multiple of 16.
	RxBufferSize uint16
	// Link is the link mode to program.
	Link LinkMode
}

// Controller is the consumed hardware boundary. Implementations wrap the
// real peripheral registers on target hardware; tests use a simulator.
type Controller interface {
	// Initialize programs the ring base addresses and link mode and enables
	// the MAC datapaths. It is also used by the forced-reinitialization
	// path, so it must be callable more than once.
	Initialize(RingAddrs) error
	// KickTransmit tells the DMA engine that transmit descriptors were
	// made ready.
	KickTransmit()
	// KickReceive tells the DMA engine that receive descriptors were
	// re-armed.
	KickReceive()
	// InterruptStatus returns the pending interrupt causes without
	// clearing them.
	InterruptStatus() Status
	// AcknowledgeInterrupt clears the given interrupt causes.
	AcknowledgeInterrupt(Status)
}

// MDIO is implemented by controllers that expose the MII management
// interface for PHY register access. The control word layout is the
// clause-22 management frame, see package mii.
type MDIO interface {
	// MDIORead starts a read management frame and returns the data bits.
	MDIORead(ctrl uint16) (uint16, error)
	// MDIOWrite starts a write management frame.
	MDIOWrite(ctrl uint16, data uint16) error
}
