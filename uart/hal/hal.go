package hal

import (
	"context"
)

// StopBits selects the length of the stop period.
type StopBits uint8

// Stop bit settings, numbered as in the CDC line coding structure.
const (
	StopBits1   StopBits = 0 // 1 stop bit
	StopBits1_5 StopBits = 1 // 1.5 stop bits
	StopBits2   StopBits = 2 // 2 stop bits
)

// String returns the stop period in bits.
func (s StopBits) String() string {
	switch s {
	case StopBits1:
		return "1"
	case StopBits1_5:
		return "1.5"
	case StopBits2:
		return "2"
	default:
		return "invalid"
	}
}

// Parity selects the parity bit.
type Parity uint8

// Parity settings, numbered as in the CDC line coding structure.
const (
	ParityNone Parity = 0
	ParityOdd  Parity = 1
	ParityEven Parity = 2
)

// String returns the parity name.
func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return "invalid"
	}
}

// FrameConfig is the register-level line setup of a UART.
type FrameConfig struct {
	Divider     uint16 // Baud rate register value
	Oversample8 bool   // 8x instead of 16x oversampling
	WordLength  int    // Bits per character including the parity bit
	StopBits    StopBits
	Parity      Parity

	// Baudrate is the effective line rate selected by Divider. Backends
	// without a divider register (e.g. a host serial port) use it directly.
	Baudrate uint32
}

// UART is the hardware collaborator of the UART driver: a peripheral with
// a circular receive DMA channel and a one-shot transmit DMA channel.
//
// Except Init, no method blocks.
type UART interface {
	// Init enables clocks and pins. The peripheral stays disabled.
	Init(ctx context.Context) error

	// ClockHz returns the peripheral input clock.
	ClockHz() uint32

	// Configure applies a frame configuration. Called while disabled.
	Configure(frame FrameConfig) error

	// Enable starts the transmitter and receiver.
	Enable() error

	// Disable stops the transmitter and receiver.
	Disable() error

	// ArmRx starts circular receive DMA into buf, beginning at offset 0.
	ArmRx(buf []byte)

	// RxRemaining returns the receive DMA transfer counter: the number
	// of bytes left until the DMA wraps around to the start of buf.
	RxRemaining() int

	// StartTx starts transmit DMA from chunk. chunk remains owned by the
	// caller and must not be modified until TxDone reports completion.
	StartTx(chunk []byte)

	// TxDone reports and clears the transfer complete flag of the
	// transmit DMA channel.
	TxDone() bool
}
