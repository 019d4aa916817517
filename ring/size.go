package ring

import (
	"errors"
	"fmt"
)

// ErrRingSizeInvalid is returned when a ring size is invalid.
var ErrRingSizeInvalid = errors.New("ring size is invalid")

// ErrBufferSizeInvalid is returned when a frame buffer size is invalid.
var ErrBufferSizeInvalid = errors.New("buffer size is invalid")

// maxRingSize caps the number of slots per ring. The cursor arithmetic has
// no inherent limit; the cap just keeps descriptor memory bounded.
const maxRingSize = 1024

// CheckRingSize checks whether the given value is a valid number of slots
// for a descriptor ring and returns a wrapped [ErrRingSizeInvalid] if not.
func CheckRingSize(size int) error {
	if size < 2 {
		return fmt.Errorf("%w: %d is too small, need at least 2 slots", ErrRingSizeInvalid, size)
	}
	if size > maxRingSize {
		return fmt.Errorf("%w: %d is larger than the maximum ring size %d",
			ErrRingSizeInvalid, size, maxRingSize)
	}
	return nil
}

// CheckBufferSize checks whether the given value is a valid frame buffer
// size. The hardware receive buffer size register drops the four low bits,
// so buffers must be a non-zero multiple of 16. The size must also fit the
// 16-bit length field of a descriptor.
func CheckBufferSize(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d is too small", ErrBufferSizeInvalid, size)
	}
	if size%16 != 0 {
		return fmt.Errorf("%w: %d is not a multiple of 16", ErrBufferSizeInvalid, size)
	}
	if size > 0xffff {
		return fmt.Errorf("%w: %d does not fit the descriptor length field", ErrBufferSizeInvalid, size)
	}
	return nil
}
