package uart

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/uart/hal"
)

// Default buffer capacities. One byte of each is never used.
const (
	DefaultTxBufferSize = 1024
	DefaultRxBufferSize = 1024
)

// Config holds the driver parameters.
type Config struct {
	TxBufferSize int // Transmit ring capacity (DefaultTxBufferSize if zero)
	RxBufferSize int // Receive ring capacity (DefaultRxBufferSize if zero)
}

// Driver moves bytes between a DMA driven UART and two ring buffers.
//
// The driver runs in a single cooperative context: Poll, Transmit,
// CopyRxData and SetCoding must not be called concurrently. The line
// coding accessors may be called from any goroutine.
type Driver struct {
	hw hal.UART

	tx      ring
	txSize  int // bytes handed to transmit DMA and not yet confirmed
	sending bool

	rx         ring // head is owned by receive DMA
	lastRxSize int
	overrun    bool

	coding     atomic.Pointer[LineCoding]
	mask       atomic.Uint32
	txMaxChunk int

	enabled bool
}

// New creates a driver for the UART hardware.
func New(hw hal.UART, cfg Config) *Driver {
	if cfg.TxBufferSize <= 1 {
		cfg.TxBufferSize = DefaultTxBufferSize
	}
	if cfg.RxBufferSize <= 1 {
		cfg.RxBufferSize = DefaultRxBufferSize
	}
	d := &Driver{
		hw:         hw,
		tx:         newRing(cfg.TxBufferSize),
		rx:         newRing(cfg.RxBufferSize),
		txMaxChunk: MinTxChunk,
	}
	coding := DefaultLineCoding
	d.coding.Store(&coding)
	d.mask.Store(0xFF)
	return d
}

// Init resets both buffers, selects the default line coding and prepares
// the hardware. The UART stays idle until [Driver.Enable].
func (d *Driver) Init(ctx context.Context) error {
	if err := d.hw.Init(ctx); err != nil {
		return fmt.Errorf("uart init: %w", err)
	}
	d.reset()
	coding := DefaultLineCoding
	d.coding.Store(&coding)
	d.mask.Store(uint32(coding.mask()))
	return nil
}

// Enable arms receive DMA, applies the default line coding and starts the
// UART. Calling it again while enabled has no effect.
func (d *Driver) Enable() error {
	if d.enabled {
		return nil
	}
	d.reset()
	d.hw.ArmRx(d.rx.buf)

	c := DefaultLineCoding
	if err := d.SetCoding(c.Baudrate, c.DataBits, c.StopBits, c.Parity); err != nil {
		return err
	}
	d.enabled = true
	pkg.LogDebug(pkg.ComponentUART, "enabled",
		"tx_buffer", len(d.tx.buf), "rx_buffer", len(d.rx.buf))
	return nil
}

// Enabled reports whether the UART is running.
func (d *Driver) Enabled() bool {
	return d.enabled
}

func (d *Driver) reset() {
	d.tx.reset()
	d.rx.reset()
	d.txSize = 0
	d.sending = false
	d.lastRxSize = 0
	d.overrun = false
}

// Poll completes the in-flight transmit chunk, starts the next one and
// checks for receive overrun.
//
// Poll must run at least every RxBufferSize*10/baud/2 seconds, so that
// receive DMA cannot advance by a full buffer between two calls.
func (d *Driver) Poll() {
	if !d.enabled {
		return
	}
	d.pollTxComplete()
	d.startTransmission()
	d.checkRxOverrun()
}

// Transmit appends data to the transmit buffer and returns the number of
// bytes accepted. Bytes that do not fit are discarded; check
// [Driver.TxDataAvail] first.
func (d *Driver) Transmit(data []byte) int {
	mask := byte(d.mask.Load())
	total := 0
	for len(data) > 0 {
		chunk := d.tx.writable()
		if len(chunk) == 0 {
			break
		}
		n := copy(chunk, data)
		if mask != 0xFF {
			clearHighBits(chunk[:n], mask)
		}
		d.tx.commit(n)
		data = data[n:]
		total += n
		d.startTransmission()
	}
	return total
}

// TxDataAvail returns the free space of the transmit buffer.
func (d *Driver) TxDataAvail() int {
	return d.tx.free()
}

// TxPending returns the number of bytes not yet confirmed transmitted.
func (d *Driver) TxPending() int {
	return d.tx.used(d.tx.head)
}

// CopyRxData moves up to len(buf) received bytes into buf and returns the
// number of bytes copied.
func (d *Driver) CopyRxData(buf []byte) int {
	head := d.rxHead()
	if head == d.rx.tail {
		return 0
	}

	mask := byte(d.mask.Load())
	total := 0
	for len(buf) > 0 {
		chunk := d.rx.readable(head)
		if len(chunk) == 0 {
			break
		}
		n := copy(buf, chunk)
		if mask != 0xFF {
			clearHighBits(buf[:n], mask)
		}
		d.rx.consume(n)
		buf = buf[n:]
		total += n
	}
	d.lastRxSize = d.rx.used(head)
	return total
}

// RxDataLen returns the number of received bytes waiting to be read.
func (d *Driver) RxDataLen() int {
	return d.rx.used(d.rxHead())
}

// HasRxOverrunOccurred reports whether receive data was lost since the
// last call. It returns true once per overrun.
func (d *Driver) HasRxOverrunOccurred() bool {
	if d.overrun {
		d.overrun = false
		return true
	}
	return false
}

// SetCoding reconfigures the line. The baud rate is limited to what the
// divider supports; [Driver.Baudrate] reports the effective rate. A
// requested rate of [AliasBaudrate] selects [AliasedBaudrate].
func (d *Driver) SetCoding(baud uint32, dataBits uint8, stopBits StopBits, parity Parity) error {
	if baud == AliasBaudrate {
		baud = AliasedBaudrate
	}
	coding := LineCoding{Baudrate: baud, DataBits: dataBits, StopBits: stopBits, Parity: parity}
	if err := coding.Validate(); err != nil {
		return err
	}

	brr, over8, effective := divider(d.hw.ClockHz(), baud)
	coding.Baudrate = effective

	if err := d.hw.Disable(); err != nil {
		return fmt.Errorf("uart disable: %w", err)
	}
	frame := hal.FrameConfig{
		Divider:     brr,
		Oversample8: over8,
		WordLength:  coding.wordLength(),
		StopBits:    stopBits,
		Parity:      parity,
		Baudrate:    effective,
	}
	if err := d.hw.Configure(frame); err != nil {
		// The previous frame is still applied; keep the line running on it.
		if d.enabled {
			if eerr := d.hw.Enable(); eerr != nil {
				pkg.LogWarn(pkg.ComponentUART, "restart after configure", "error", eerr)
			}
		}
		return fmt.Errorf("uart configure %s: %w", coding, err)
	}

	d.coding.Store(&coding)
	d.mask.Store(uint32(coding.mask()))
	d.txMaxChunk = txChunk(effective)

	if err := d.hw.Enable(); err != nil {
		return fmt.Errorf("uart enable: %w", err)
	}
	pkg.LogInfo(pkg.ComponentUART, "line coding", "coding", coding.String(),
		"brr", brr, "over8", over8)
	return nil
}

// Coding returns the current line coding.
func (d *Driver) Coding() LineCoding {
	return *d.coding.Load()
}

// Baudrate returns the effective baud rate.
func (d *Driver) Baudrate() uint32 {
	return d.Coding().Baudrate
}

// DataBits returns the number of data bits.
func (d *Driver) DataBits() uint8 {
	return d.Coding().DataBits
}

// StopBits returns the stop period setting.
func (d *Driver) StopBits() StopBits {
	return d.Coding().StopBits
}

// Parity returns the parity setting.
func (d *Driver) Parity() Parity {
	return d.Coding().Parity
}

// TxMaxChunk returns the largest chunk handed to transmit DMA at once.
func (d *Driver) TxMaxChunk() int {
	return d.txMaxChunk
}

func (d *Driver) pollTxComplete() {
	if !d.sending || !d.hw.TxDone() {
		return
	}
	d.tx.consume(d.txSize)
	d.txSize = 0
	d.sending = false
}

func (d *Driver) startTransmission() {
	if !d.enabled || d.sending || d.tx.head == d.tx.tail {
		return
	}
	chunk := d.tx.readable(d.tx.head)
	if len(chunk) > d.txMaxChunk {
		chunk = chunk[:d.txMaxChunk]
	}
	d.txSize = len(chunk)
	d.sending = true
	d.hw.StartTx(chunk)
}

// rxHead derives the receive DMA write position from its transfer counter.
func (d *Driver) rxHead() int {
	head := len(d.rx.buf) - d.hw.RxRemaining()
	if head >= len(d.rx.buf) || head < 0 {
		head = 0
	}
	return head
}

// checkRxOverrun detects that receive DMA overwrote unread data: the
// unread count can only shrink through CopyRxData, so a smaller count than
// the previous sample means the write position lapped the read position.
// The unread data is discarded.
func (d *Driver) checkRxOverrun() {
	head := d.rxHead()
	n := d.rx.used(head)
	if n < d.lastRxSize {
		d.rx.tail = head
		d.lastRxSize = 0
		d.overrun = true
		pkg.LogWarn(pkg.ComponentUART, "receive overrun", "discarded", n)
		return
	}
	d.lastRxSize = n
}

func clearHighBits(buf []byte, mask byte) {
	for idx := range buf {
		buf[idx] &= mask
	}
}
