// Package uart implements a ring buffer UART driver for a USART served by
// two DMA channels.
//
// # Receive
//
// Receive DMA runs in circular mode over the receive buffer. The driver
// never writes the buffer's write position; it derives it from the DMA
// transfer counter whenever it needs it. Because circular DMA overwrites
// unread data without complaint, [Driver.Poll] samples the unread byte
// count: if it shrinks without an intervening [Driver.CopyRxData], the
// write position lapped the read position. The unread data is then
// discarded and [Driver.HasRxOverrunOccurred] reports true once.
//
// # Transmit
//
// [Driver.Transmit] appends to the transmit buffer and starts DMA if the
// line is idle. Each DMA transfer covers one contiguous chunk of at most
// [Driver.TxMaxChunk] bytes (about one millisecond of line time), so space
// frees up steadily. Poll confirms completed chunks and starts the next.
//
// # Line Coding
//
// [Driver.SetCoding] selects the baud rate divider, preferring 16x
// oversampling and falling back to 8x near the clock limit. Fewer than 8
// data bits are emulated by masking the high bits of every byte in both
// directions.
//
// # Concurrency
//
// The driver is meant for one cooperative main loop. Only the line coding
// accessors are safe to call from other goroutines.
package uart
