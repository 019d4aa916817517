package netdev

import (
	"github.com/sirupsen/logrus"

	"github.com/nxfw/enet/config"
	"github.com/nxfw/enet/mac"
)

// NewFromConfig builds a device from loaded settings. Unset keys fall back
// to the same defaults NewDevice uses; explicit options override the
// configuration.
//
//	ring:
//	  rx_size: 16
//	  tx_size: 16
//	mtu: 1536
//	tx:
//	  max_loans: 8
//	link:
//	  speed10: no
//	  half_duplex: no
//	  rmii: yes
func NewFromConfig(l *logrus.Logger, c *config.C, ctrl mac.Controller, options ...Option) (*Device, error) {
	fromConfig := []Option{
		WithController(ctrl),
		WithReceiveRingSize(c.GetInt("ring.rx_size", 16)),
		WithTransmitRingSize(c.GetInt("ring.tx_size", 16)),
		WithMTU(c.GetInt("mtu", 1536)),
		WithLinkMode(mac.LinkMode{
			Speed10:    c.GetBool("link.speed10", false),
			HalfDuplex: c.GetBool("link.half_duplex", false),
			RMII:       c.GetBool("link.rmii", false),
		}),
	}
	if n := c.GetInt("tx.max_loans", 0); n > 0 {
		fromConfig = append(fromConfig, WithMaxLoans(n))
	}

	return NewDevice(l, append(fromConfig, options...)...)
}
