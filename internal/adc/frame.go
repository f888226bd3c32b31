// Package adc provides sample sources for the two-channel analog front end
package adc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/teslashibe/go-aoa/internal/aoa"
)

// Bridge command bytes shared by the serial and USB firmware
const (
	cmdRead  = 'A' // Read a channel: 'A', ch
	cmdClock = 'T' // Read the device clock
)

// FrameSize is the length of a bridge reply: status, amplitude u16 LE,
// device micros u32 LE
const FrameSize = 7

// ErrShortFrame is returned when a reply is truncated
var ErrShortFrame = errors.New("short frame")

// Frame is a decoded bridge reply
type Frame struct {
	Status    byte
	Amplitude uint16
	Micros    uint32
}

// DecodeFrame parses a bridge reply
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < FrameSize {
		return Frame{}, fmt.Errorf("%w: got %d bytes, expected %d", ErrShortFrame, len(data), FrameSize)
	}

	f := Frame{
		Status:    data[0],
		Amplitude: binary.LittleEndian.Uint16(data[1:3]),
		Micros:    binary.LittleEndian.Uint32(data[3:7]),
	}

	if f.Status != 0 {
		return f, fmt.Errorf("device returned error status: %d", f.Status)
	}

	return f, nil
}

// AppendFrame encodes f onto b
func AppendFrame(b []byte, f Frame) []byte {
	b = append(b, f.Status)
	b = binary.LittleEndian.AppendUint16(b, f.Amplitude)
	return binary.LittleEndian.AppendUint32(b, f.Micros)
}

// clockExtender widens the bridge's 32-bit microsecond counter, which
// wraps about every 71 minutes, into a monotonic 64-bit instant
type clockExtender struct {
	last   uint32
	epochs int64
	primed bool
	base   aoa.Instant
}

func (c *clockExtender) extend(us uint32) aoa.Instant {
	if c.primed && us < c.last {
		c.epochs++
	}
	c.last = us
	c.primed = true
	return c.current()
}

func (c *clockExtender) current() aoa.Instant {
	return c.base + aoa.Instant(c.epochs<<32|int64(c.last))
}

// restart continues from the last instant after the device counter
// resets, keeping instants monotonic across a reconnect
func (c *clockExtender) restart() {
	*c = clockExtender{base: c.current()}
}
