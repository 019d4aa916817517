// Package netdev exposes the ENET DMA rings to a polling network stack as a
// zero-copy packet device.
//
// The stack drives the device synchronously from its poll loop: check
// [Device.ReceiveReady], consume frames with [Device.Receive], loan transmit
// buffers with [Device.Transmit] and hand them to hardware with
// [TxFrame.Commit]. Nothing here blocks; an empty result means "try later"
// and exhaustion of transmit slots is backpressure, not an error. All ring
// state is mutated on the polling side only; interrupt context merely sets
// status bits that [Device.PendingWork] picks up.
package netdev
