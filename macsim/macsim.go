// Package macsim is a deterministic, in-process stand-in for the ENET MAC
// and its DMA engine. It implements the [mac.Controller] boundary against
// real descriptor memory: completions flip the same ownership bits real
// hardware would, which lets the ring engine and device adapter be exercised
// on a host without the peripheral.
//
// The simulator never runs on its own; tests drive it explicitly
// ([Simulator.DeliverFrame], [Simulator.CompleteTransmits]) so every
// interleaving with the polling side is reproducible.
package macsim

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/nxfw/enet/bd"
	"github.com/nxfw/enet/dmamem"
	"github.com/nxfw/enet/mac"
	"github.com/nxfw/enet/mii"
)

var (
	// ErrNotInitialized is returned when the simulator is used before
	// [Simulator.Initialize] programmed the ring addresses.
	ErrNotInitialized = errors.New("simulator was not initialized")

	// ErrNoReceiveBuffer is returned by [Simulator.DeliverFrame] when the
	// receive ring has no hardware-owned slot left. Real hardware would
	// drop the frame and count an overrun.
	ErrNoReceiveBuffer = errors.New("no empty receive descriptor")

	// ErrFrameTooLarge is returned when a delivered frame exceeds the
	// receive buffer size.
	ErrFrameTooLarge = errors.New("frame exceeds the receive buffer size")
)

// maxWalk caps descriptor ring walks. The ring length is discovered from
// the wrap flag, just like hardware does; the cap catches rings that lost
// it.
const maxWalk = 4096

// Simulator emulates the MAC controller and DMA engine over a DMA region.
type Simulator struct {
	l      *logrus.Logger
	region *dmamem.Region

	initialized bool
	addrs       mac.RingAddrs
	inits       int

	rxBase   uintptr
	txBase   uintptr
	rxCursor int
	txCursor int

	status   mac.Status
	loopback bool
	autoTx   bool

	rxKicks int
	txKicks int

	sent [][]byte

	phyAddr uint8
	phyRegs [32]uint16
}

// New returns a simulator operating on the given DMA region. The region
// must be the one the device adapter lays its rings and buffers out in;
// DMA addresses in descriptors are resolved against its base.
func New(l *logrus.Logger, region *dmamem.Region, options ...Option) *Simulator {
	s := &Simulator{
		l:      l,
		region: region,
	}
	// The PHY comes up with link established and 100 Mbit/s full duplex
	// negotiated, which is what most test setups want.
	s.phyRegs[mii.RegStatus] = mii.StatusLinkUp | mii.StatusAutoNegComplete
	s.phyRegs[mii.RegLinkAbility] = mii.Ability100Full | mii.Ability100Half
	for _, option := range options {
		option(s)
	}
	return s
}

// Option configures a [Simulator].
type Option func(*Simulator)

// WithLoopback makes every completed transmit frame reappear on the receive
// ring, like the MAC's internal loopback datapath.
func WithLoopback() Option {
	return func(s *Simulator) { s.loopback = true }
}

// WithAutoComplete makes [Simulator.KickTransmit] complete all ready
// transmit descriptors immediately instead of waiting for an explicit
// [Simulator.CompleteTransmits].
func WithAutoComplete() Option {
	return func(s *Simulator) { s.autoTx = true }
}

// WithPHYAddr sets the management address of the simulated PHY.
func WithPHYAddr(addr uint8) Option {
	return func(s *Simulator) { s.phyAddr = addr & 0x1f }
}

// Initialize implements [mac.Controller].
func (s *Simulator) Initialize(addrs mac.RingAddrs) error {
	rxBase, err := s.translate(addrs.RxRing, bd.Size)
	if err != nil {
		return fmt.Errorf("rx ring base: %w", err)
	}
	txBase, err := s.translate(addrs.TxRing, bd.Size)
	if err != nil {
		return fmt.Errorf("tx ring base: %w", err)
	}
	if addrs.RxBufferSize == 0 || addrs.RxBufferSize%16 != 0 {
		return fmt.Errorf("rx buffer size %d is not a non-zero multiple of 16", addrs.RxBufferSize)
	}

	s.addrs = addrs
	s.rxBase = rxBase
	s.txBase = txBase
	s.rxCursor = 0
	s.txCursor = 0
	s.status = 0
	s.initialized = true
	s.inits++

	s.l.WithFields(logrus.Fields{
		"rxRing": fmt.Sprintf("%#x", addrs.RxRing),
		"txRing": fmt.Sprintf("%#x", addrs.TxRing),
		"mtu":    addrs.RxBufferSize,
	}).Debug("simulated MAC initialized")
	return nil
}

// KickTransmit implements [mac.Controller].
func (s *Simulator) KickTransmit() {
	s.txKicks++
	if s.autoTx {
		_, _ = s.CompleteTransmits(-1)
	}
}

// KickReceive implements [mac.Controller].
func (s *Simulator) KickReceive() {
	s.rxKicks++
}

// InterruptStatus implements [mac.Controller].
func (s *Simulator) InterruptStatus() mac.Status {
	return s.status
}

// AcknowledgeInterrupt implements [mac.Controller].
func (s *Simulator) AcknowledgeInterrupt(st mac.Status) {
	s.status &^= st
}

// RaiseBusError injects a DMA bus fault.
func (s *Simulator) RaiseBusError() {
	s.status |= mac.StatusBusError
}

// DeliverFrame plays a frame arriving from the wire: it copies the payload
// into the buffer of the next hardware-owned receive descriptor, completes
// the descriptor with the given error flags and raises the receive
// interrupt.
func (s *Simulator) DeliverFrame(payload []byte, errFlags bd.RxFlags) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	if len(payload) > int(s.addrs.RxBufferSize) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), s.addrs.RxBufferSize)
	}

	d := s.rxDesc(s.rxCursor)
	if !d.Empty() {
		return ErrNoReceiveBuffer
	}

	buf, err := s.buffer(d.Buffer, len(payload))
	if err != nil {
		return fmt.Errorf("rx descriptor %d: %w", s.rxCursor, err)
	}
	copy(buf, payload)

	wrap := d.Flags()&bd.RxWrap != 0
	d.Complete(uint16(len(payload)), bd.RxLast|errFlags)
	s.rxCursor = s.advance(s.rxCursor, wrap)
	s.status |= mac.StatusRxFrame
	return nil
}

// CompleteTransmits plays the DMA engine sending out ready descriptors, in
// ring order, up to max frames (all of them when max is negative). The
// frame bytes are captured and can be inspected with [Simulator.Sent].
func (s *Simulator) CompleteTransmits(max int) (int, error) {
	if !s.initialized {
		return 0, ErrNotInitialized
	}

	var done int
	for max < 0 || done < max {
		d := s.txDesc(s.txCursor)
		if !d.Ready() {
			break
		}

		length := int(d.Length())
		buf, err := s.buffer(d.Buffer, length)
		if err != nil {
			return done, fmt.Errorf("tx descriptor %d: %w", s.txCursor, err)
		}
		frame := make([]byte, length)
		copy(frame, buf)
		s.sent = append(s.sent, frame)

		wrap := d.Flags()&bd.TxWrap != 0
		d.Finish()
		s.txCursor = s.advance(s.txCursor, wrap)
		s.status |= mac.StatusTxFrame
		done++

		if s.loopback {
			if err := s.DeliverFrame(frame, 0); err != nil {
				s.l.WithError(err).Warn("loopback frame dropped")
			}
		}
	}
	return done, nil
}

// Sent returns all frames completed so far, oldest first.
func (s *Simulator) Sent() [][]byte {
	return s.sent
}

// ReceiveKicks returns how often the receive datapath was kicked.
func (s *Simulator) ReceiveKicks() int {
	return s.rxKicks
}

// TransmitKicks returns how often the transmit datapath was kicked.
func (s *Simulator) TransmitKicks() int {
	return s.txKicks
}

// Initializations returns how often [Simulator.Initialize] was called,
// which tests use to observe forced reinitialization.
func (s *Simulator) Initializations() int {
	return s.inits
}

// MDIORead implements [mac.MDIO] against the simulated PHY.
func (s *Simulator) MDIORead(ctrl uint16) (uint16, error) {
	op, phy, reg, err := mii.Decode(ctrl)
	if err != nil {
		return 0, err
	}
	if op != mii.OpRead {
		return 0, fmt.Errorf("%w: read frame expected", mii.ErrInvalidFrame)
	}
	if phy != s.phyAddr {
		// No PHY at that address; the bus reads all ones.
		return 0xffff, nil
	}
	return s.phyRegs[reg], nil
}

// MDIOWrite implements [mac.MDIO] against the simulated PHY.
func (s *Simulator) MDIOWrite(ctrl uint16, data uint16) error {
	op, phy, reg, err := mii.Decode(ctrl)
	if err != nil {
		return err
	}
	if op != mii.OpWrite {
		return fmt.Errorf("%w: write frame expected", mii.ErrInvalidFrame)
	}
	if phy == s.phyAddr {
		s.phyRegs[reg] = data
	}
	return nil
}

// SetPHYRegister pokes a register of the simulated PHY, for tests that need
// a specific link state.
func (s *Simulator) SetPHYRegister(reg uint8, value uint16) {
	s.phyRegs[reg&0x1f] = value
}

func (s *Simulator) rxDesc(i int) *bd.RxDescriptor {
	return &bd.RxRingAt(s.rxBase, i+1)[i]
}

func (s *Simulator) txDesc(i int) *bd.TxDescriptor {
	return &bd.TxRingAt(s.txBase, i+1)[i]
}

// advance steps a ring cursor the way the DMA engine does: forward, until a
// descriptor carries the wrap flag, then back to the ring base.
func (s *Simulator) advance(cursor int, wrap bool) int {
	if wrap {
		return 0
	}
	if cursor+1 >= maxWalk {
		panic(fmt.Sprintf("no wrap flag within %d descriptors, ring is corrupt", maxWalk))
	}
	return cursor + 1
}

// translate resolves a DMA address to a host pointer, checking that length
// bytes fit the region.
func (s *Simulator) translate(addr uint32, length int) (uintptr, error) {
	if int(addr)+length > s.region.Size() {
		return 0, fmt.Errorf("dma address %#x+%d outside region of size %d",
			addr, length, s.region.Size())
	}
	return s.region.Addr() + uintptr(addr), nil
}

// buffer resolves a descriptor's buffer address to a byte slice.
func (s *Simulator) buffer(addr uint32, length int) ([]byte, error) {
	base, err := s.translate(addr, length)
	if err != nil {
		return nil, err
	}
	// The address points into the mmapped DMA region, not Go-managed
	// memory, so this conversion is safe.
	//goland:noinspection GoVetUnsafePointer
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), length), nil
}
