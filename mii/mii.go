// Package mii provides access to PHY registers over the MII management
// interface exposed by the MAC controller. Management frames follow IEEE
// 802.3 clause 22: a 16-bit control word carrying start, opcode, PHY
// address, register address and turnaround bits, followed by 16 data bits.
package mii

import (
	"errors"
	"fmt"

	"github.com/nxfw/enet/mac"
)

// Op is the management frame opcode.
type Op uint8

const (
	// OpWrite writes a PHY register.
	OpWrite Op = 0b01
	// OpRead reads a PHY register.
	OpRead Op = 0b10
)

// Standard clause-22 register addresses.
const (
	RegControl     = 0x00 // BMCR
	RegStatus      = 0x01 // BMSR
	RegPHYID1      = 0x02
	RegPHYID2      = 0x03
	RegAutoNegAdv  = 0x04 // ANAR
	RegLinkAbility = 0x05 // ANLPAR
)

// Status register bits.
const (
	StatusLinkUp          = 1 << 2
	StatusAutoNegComplete = 1 << 5
)

// Link partner ability bits.
const (
	Ability10Half  = 1 << 5
	Ability10Full  = 1 << 6
	Ability100Half = 1 << 7
	Ability100Full = 1 << 8
)

const (
	start      = 0b01
	turnaround = 0b10
)

// ErrInvalidFrame is returned when a control word is not a valid clause-22
// management frame.
var ErrInvalidFrame = errors.New("invalid clause-22 management frame")

// Encode builds the control word of a clause-22 management frame.
func Encode(op Op, phy, reg uint8) uint16 {
	return start<<14 | uint16(op)<<12 | uint16(phy&0x1f)<<7 | uint16(reg&0x1f)<<2 | turnaround
}

// Decode splits a control word into its opcode, PHY address and register
// address. It returns [ErrInvalidFrame] for anything that is not a valid
// clause-22 read or write frame.
func Decode(ctrl uint16) (op Op, phy, reg uint8, err error) {
	if ctrl>>14 != start {
		return 0, 0, 0, fmt.Errorf("%w: bad start bits %#x", ErrInvalidFrame, ctrl>>14)
	}
	op = Op(ctrl >> 12 & 0b11)
	if op != OpRead && op != OpWrite {
		return 0, 0, 0, fmt.Errorf("%w: bad opcode %#x", ErrInvalidFrame, uint8(op))
	}
	return op, uint8(ctrl >> 7 & 0x1f), uint8(ctrl >> 2 & 0x1f), nil
}

// LinkStatus is the result of interrogating a PHY.
type LinkStatus struct {
	// Up reports whether the link is established.
	Up bool
	// Mode holds the negotiated speed and duplex. Only meaningful when the
	// link is up and autonegotiation has completed.
	Mode mac.LinkMode
}

// Client reads and writes the registers of one PHY through the controller's
// management interface.
type Client struct {
	mdio mac.MDIO
	phy  uint8
}

// NewClient returns a client for the PHY at the given address (0-31).
func NewClient(mdio mac.MDIO, phy uint8) *Client {
	return &Client{mdio: mdio, phy: phy & 0x1f}
}

// Read returns the value of a PHY register.
func (c *Client) Read(reg uint8) (uint16, error) {
	v, err := c.mdio.MDIORead(Encode(OpRead, c.phy, reg))
	if err != nil {
		return 0, fmt.Errorf("mdio read phy %d reg %#x: %w", c.phy, reg, err)
	}
	return v, nil
}

// Write sets a PHY register.
func (c *Client) Write(reg uint8, value uint16) error {
	if err := c.mdio.MDIOWrite(Encode(OpWrite, c.phy, reg), value); err != nil {
		return fmt.Errorf("mdio write phy %d reg %#x: %w", c.phy, reg, err)
	}
	return nil
}

// LinkStatus interrogates the PHY status and link partner ability registers
// and derives the link mode to program into the MAC.
func (c *Client) LinkStatus() (LinkStatus, error) {
	status, err := c.Read(RegStatus)
	if err != nil {
		return LinkStatus{}, err
	}
	if status&StatusLinkUp == 0 {
		return LinkStatus{}, nil
	}

	ls := LinkStatus{Up: true}
	if status&StatusAutoNegComplete == 0 {
		return ls, nil
	}

	ability, err := c.Read(RegLinkAbility)
	if err != nil {
		return LinkStatus{}, err
	}
	switch {
	case ability&Ability100Full != 0:
	case ability&Ability100Half != 0:
		ls.Mode.HalfDuplex = true
	case ability&Ability10Full != 0:
		ls.Mode.Speed10 = true
	case ability&Ability10Half != 0:
		ls.Mode.Speed10 = true
		ls.Mode.HalfDuplex = true
	default:
		// No common ability advertised; fall back to the most conservative
		// mode.
		ls.Mode.Speed10 = true
		ls.Mode.HalfDuplex = true
	}
	return ls, nil
}
