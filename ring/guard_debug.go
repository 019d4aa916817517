//go:build ringdebug

package ring

import "fmt"

// guard tracks which side owns each buffer and panics on protocol
// violations. It only exists in builds with the ringdebug tag; release
// builds rely on the ownership discipline alone.
type guard struct {
	hardware []bool
}

func (g *guard) init(count int) {
	g.hardware = make([]bool, count)
}

func (g *guard) toHardware(slot int) {
	if g.hardware[slot] {
		panic(fmt.Sprintf("slot %d handed to hardware twice", slot))
	}
	g.hardware[slot] = true
}

func (g *guard) toSoftware(slot int) {
	if !g.hardware[slot] {
		panic(fmt.Sprintf("slot %d reclaimed but hardware never owned it", slot))
	}
	g.hardware[slot] = false
}

func (g *guard) assertSoftware(slot int) {
	if g.hardware[slot] {
		panic(fmt.Sprintf("buffer access on slot %d while hardware owns it", slot))
	}
}
