package uart

import (
	"fmt"

	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/uart/hal"
)

// StopBits selects the length of the stop period.
type StopBits = hal.StopBits

// Parity selects the parity bit.
type Parity = hal.Parity

// Stop bit and parity settings.
const (
	StopBits1   = hal.StopBits1
	StopBits1_5 = hal.StopBits1_5
	StopBits2   = hal.StopBits2

	ParityNone = hal.ParityNone
	ParityOdd  = hal.ParityOdd
	ParityEven = hal.ParityEven
)

// Line coding defaults.
const (
	DefaultBaudrate = 9600
	DefaultDataBits = 8
)

// AliasBaudrate is a requested rate that selects [AliasedBaudrate].
// Some hosts cannot request rates above 4 Mbit/s directly.
const (
	AliasBaudrate   = 75
	AliasedBaudrate = 6000000
)

// Transmit chunk limits.
const (
	MinTxChunk = 16
	MaxTxChunk = 256
)

// LineCoding is the line configuration of the UART.
type LineCoding struct {
	Baudrate uint32 // bit/s
	DataBits uint8  // 5 to 8
	StopBits StopBits
	Parity   Parity
}

// DefaultLineCoding is 9600 baud 8N1.
var DefaultLineCoding = LineCoding{
	Baudrate: DefaultBaudrate,
	DataBits: DefaultDataBits,
	StopBits: StopBits1,
	Parity:   ParityNone,
}

// String returns the coding in the usual "9600 8N1" notation.
func (c LineCoding) String() string {
	parity := "N"
	switch c.Parity {
	case ParityOdd:
		parity = "O"
	case ParityEven:
		parity = "E"
	}
	return fmt.Sprintf("%d %d%s%s", c.Baudrate, c.DataBits, parity, c.StopBits)
}

// Validate checks the value ranges of the coding.
func (c LineCoding) Validate() error {
	switch {
	case c.Baudrate == 0:
		return fmt.Errorf("baud rate 0: %w", pkg.ErrInvalidParameter)
	case c.DataBits < 5 || c.DataBits > 8:
		return fmt.Errorf("%d data bits: %w", c.DataBits, pkg.ErrInvalidParameter)
	case c.StopBits > StopBits2:
		return fmt.Errorf("stop bits %d: %w", c.StopBits, pkg.ErrInvalidParameter)
	case c.Parity > ParityEven:
		return fmt.Errorf("parity %d: %w", c.Parity, pkg.ErrInvalidParameter)
	}
	return nil
}

// mask returns the AND mask emulating fewer than 8 data bits.
func (c LineCoding) mask() byte {
	if c.DataBits >= 8 {
		return 0xFF
	}
	return 0xFF >> (8 - c.DataBits)
}

// wordLength returns the hardware character length including parity.
func (c LineCoding) wordLength() int {
	if c.Parity == ParityNone {
		return int(c.DataBits)
	}
	return int(c.DataBits) + 1
}

// divider selects the baud rate register value for clock and the requested
// baud rate, preferring 16x oversampling. It returns the register value,
// whether 8x oversampling is needed, and the effective baud rate.
func divider(clock, baud uint32) (brr uint16, over8 bool, effective uint32) {
	effective = baud
	div := (clock + baud/2) / baud

	if div > 0xFFFF {
		// Too slow: run at the slowest rate the divider allows.
		div = 0xFFFF
		effective = (clock + 0x8FFF) / 0xFFFF
	}

	if div >= 16 {
		return uint16(div), false, effective
	}
	if div >= 8 {
		return uint16(0x10 | div&0x07), true, effective
	}
	// Too fast: select the fastest rate possible.
	return 0x10, true, clock / 8
}

// txChunk returns the transmit chunk limit for a baud rate: about a
// millisecond of data, within [MinTxChunk, MaxTxChunk].
func txChunk(baud uint32) int {
	return min(max(int(baud/10000), MinTxChunk), MaxTxChunk)
}
