// Package hal defines the hardware interface consumed by the UART driver.
//
// The model follows a microcontroller USART with two DMA channels: receive
// DMA runs in circular mode over the driver's receive buffer, so the write
// position is owned by hardware and exposed only through the transfer
// counter ([UART.RxRemaining]); transmit DMA sends one contiguous chunk at
// a time and raises a completion flag ([UART.TxDone]).
//
// Implementations:
//
//   - [github.com/ardnew/usbserial/uart/hal/sim] is a deterministic
//     simulation for tests
//   - [github.com/ardnew/usbserial/uart/hal/serialport] uses a host serial
//     port as the line
package hal
