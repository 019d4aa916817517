package netdev

// RxFrame is a received frame loaned out of the receive ring. The payload
// aliases the slot's DMA buffer directly; it stays valid until Release hands
// the slot back to hardware.
type RxFrame struct {
	dev     *Device
	slot    int
	payload []byte
	gen     uint64

	released bool
}

// Payload returns the frame bytes, trimmed to the received length. Do not
// retain the slice past Release.
func (f *RxFrame) Payload() []byte {
	return f.payload
}

// Slot returns the ring slot backing the frame.
func (f *RxFrame) Slot() int {
	return f.slot
}

// Release recycles the slot for the next reception. The payload slice must
// not be touched afterwards. Releasing twice is a caller bug; it is counted
// and logged but otherwise ignored.
func (f *RxFrame) Release() error {
	return f.dev.releaseReceive(f)
}

type txState uint8

const (
	// The loan is out; its buffer may be written.
	txPending txState = iota
	// Commit was called but an earlier loan is still unresolved, so the
	// submission is held back to keep the ring in loan order.
	txCommitted
	// The slot was handed to hardware.
	txSent
	// Release was called without a commit. The slot sits in the loan queue
	// until it is handed out again or trimmed from the back.
	txAborted
)

// TxFrame is a transmit buffer loaned out of the transmit ring. Fill the
// payload and call Commit to send it, or Release to back out. The payload
// aliases the slot's DMA buffer; after Commit or Release it must not be
// touched.
type TxFrame struct {
	dev     *Device
	slot    int
	length  int
	payload []byte
	gen     uint64

	state txState
}

// Payload returns the writable frame bytes, sized to the length requested
// from [Device.Transmit].
func (f *TxFrame) Payload() []byte {
	return f.payload
}

// Slot returns the ring slot backing the frame.
func (f *TxFrame) Slot() int {
	return f.slot
}

// Commit hands the frame to hardware. Frames go out in the order they were
// loaned: committing out of loan order is fine, the submission is simply
// held until the earlier loans resolve.
func (f *TxFrame) Commit() error {
	return f.dev.commitTransmit(f)
}

// Release backs out of the loan without sending. A skipped commit is a
// protocol-stack bug worth surfacing, so it is logged and counted; the slot
// itself is recovered and handed out by a later [Device.Transmit].
func (f *TxFrame) Release() error {
	return f.dev.releaseTransmit(f)
}
