// Package serialport implements the UART hardware interface on top of a
// host serial port using go.bug.st/serial.
//
// The port stands in for the USART line. A receive goroutine emulates
// circular DMA by copying incoming bytes into the buffer passed to
// [Port.ArmRx] and advancing the transfer counter; every transmit chunk
// is written by a goroutine that sets the completion flag when the write
// returns. The driver still polls, so its overrun detection and chunking
// behave as they do on the microcontroller.
package serialport
