//go:build !ringdebug

package ring

// guard is a no-op in release builds. Ownership discipline is enforced by
// protocol, not by runtime checks; build with the ringdebug tag to enable
// the checking variant.
type guard struct{}

func (guard) init(int)           {}
func (guard) toHardware(int)     {}
func (guard) toSoftware(int)     {}
func (guard) assertSoftware(int) {}
