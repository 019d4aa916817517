package netdev

import (
	"errors"

	"github.com/rcrowley/go-metrics"

	"github.com/nxfw/enet/dmamem"
	"github.com/nxfw/enet/mac"
	"github.com/nxfw/enet/ring"
)

type optionValues struct {
	controller mac.Controller
	region     *dmamem.Region
	registry   metrics.Registry

	rxRingSize int
	txRingSize int
	mtu        int
	maxLoans   int
	link       mac.LinkMode
}

func (o *optionValues) apply(options []Option) {
	for _, option := range options {
		option(o)
	}
}

func (o *optionValues) validate() error {
	if o.controller == nil {
		return errors.New("a mac controller is required")
	}
	if err := ring.CheckRingSize(o.rxRingSize); err != nil {
		return err
	}
	if err := ring.CheckRingSize(o.txRingSize); err != nil {
		return err
	}
	if err := ring.CheckBufferSize(o.mtu); err != nil {
		return err
	}
	if o.maxLoans < 1 {
		return errors.New("the loan limit must be at least 1")
	}
	return nil
}

var optionDefaults = optionValues{
	// Required.
	rxRingSize: -1,
	// Required.
	txRingSize: -1,
	mtu:        1536,
	// Derived from the ring sizes unless set.
	maxLoans: 0,
	registry: metrics.DefaultRegistry,
}

// Option can be passed to [NewDevice] to influence device creation.
type Option func(*optionValues)

// WithController returns an [Option] that sets the MAC controller behind
// the device. This is required; on target hardware it wraps the peripheral
// registers, in tests it is a simulator.
func WithController(ctrl mac.Controller) Option {
	return func(o *optionValues) { o.controller = ctrl }
}

// WithRingSize returns an [Option] that sets the number of slots of both
// descriptor rings. One of the ring size options is required; see
// [ring.CheckRingSize] for the valid range.
func WithRingSize(size int) Option {
	return func(o *optionValues) {
		o.rxRingSize = size
		o.txRingSize = size
	}
}

// WithReceiveRingSize returns an [Option] that sets the number of receive
// ring slots, overriding [WithRingSize] for that direction.
func WithReceiveRingSize(size int) Option {
	return func(o *optionValues) { o.rxRingSize = size }
}

// WithTransmitRingSize returns an [Option] that sets the number of transmit
// ring slots, overriding [WithRingSize] for that direction.
func WithTransmitRingSize(size int) Option {
	return func(o *optionValues) { o.txRingSize = size }
}

// WithMTU returns an [Option] that sets the buffer size of every ring slot,
// which bounds the largest frame the device can move. It must be a non-zero
// multiple of 16.
func WithMTU(mtu int) Option {
	return func(o *optionValues) { o.mtu = mtu }
}

// WithMaxLoans returns an [Option] that caps how many frame handles may be
// outstanding per direction at once. The default is the ring size, meaning
// the rings themselves are the only limit.
func WithMaxLoans(n int) Option {
	return func(o *optionValues) { o.maxLoans = n }
}

// WithRegion returns an [Option] that places rings and buffers into the
// given DMA region instead of allocating one. The region must be large
// enough for the configured geometry and is not released on
// [Device.Close].
func WithRegion(region *dmamem.Region) Option {
	return func(o *optionValues) { o.region = region }
}

// WithLinkMode returns an [Option] that sets the link parameters the
// controller programs into the MAC datapath.
func WithLinkMode(link mac.LinkMode) Option {
	return func(o *optionValues) { o.link = link }
}

// WithMetricsRegistry returns an [Option] that registers the device
// counters with the given registry instead of [metrics.DefaultRegistry].
func WithMetricsRegistry(r metrics.Registry) Option {
	return func(o *optionValues) { o.registry = r }
}
