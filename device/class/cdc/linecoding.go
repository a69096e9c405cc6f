package cdc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/uart"
)

// LineCoding is the wire form of the PSTN line coding structure exchanged
// by SET_LINE_CODING and GET_LINE_CODING.
type LineCoding struct {
	DTERate    uint32 // Data terminal rate (baud rate)
	CharFormat uint8  // Stop bits: 0=1, 1=1.5, 2=2
	ParityType uint8  // Parity: 0=None, 1=Odd, 2=Even, 3=Mark, 4=Space
	DataBits   uint8  // Data bits: 5, 6, 7, 8, or 16
}

// LineCodingSize is the size of LineCoding in bytes.
const LineCodingSize = 7

// MarshalTo writes the LineCoding to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], lc.DTERate)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding parses LineCoding from data.
func ParseLineCoding(data []byte, out *LineCoding) error {
	if len(data) < LineCodingSize {
		return pkg.ErrBufferTooSmall
	}
	out.DTERate = binary.LittleEndian.Uint32(data[0:4])
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return nil
}

// Validate checks that the line coding is one the bridge supports:
// 8 data bits without parity, or 7 or 8 data bits with odd or even parity.
func (lc *LineCoding) Validate() error {
	if lc.CharFormat > uint8(uart.StopBits2) {
		return fmt.Errorf("char format %d: %w", lc.CharFormat, pkg.ErrInvalidParameter)
	}
	if lc.ParityType > uint8(uart.ParityEven) {
		return fmt.Errorf("parity type %d: %w", lc.ParityType, pkg.ErrInvalidParameter)
	}
	if lc.ParityType == uint8(uart.ParityNone) {
		if lc.DataBits != 8 {
			return fmt.Errorf("%d data bits without parity: %w", lc.DataBits, pkg.ErrInvalidParameter)
		}
	} else if lc.DataBits < 7 || lc.DataBits > 8 {
		return fmt.Errorf("%d data bits with parity: %w", lc.DataBits, pkg.ErrInvalidParameter)
	}
	return nil
}

// UART converts the wire form to driver parameters.
func (lc *LineCoding) UART() uart.LineCoding {
	return uart.LineCoding{
		Baudrate: lc.DTERate,
		DataBits: lc.DataBits,
		StopBits: uart.StopBits(lc.CharFormat),
		Parity:   uart.Parity(lc.ParityType),
	}
}

// FromUART returns the wire form of a driver line coding.
func FromUART(c uart.LineCoding) LineCoding {
	return LineCoding{
		DTERate:    c.Baudrate,
		CharFormat: uint8(c.StopBits),
		ParityType: uint8(c.Parity),
		DataBits:   c.DataBits,
	}
}

// String returns the line coding in the usual "9600 8N1" notation.
func (lc *LineCoding) String() string {
	return lc.UART().String()
}
