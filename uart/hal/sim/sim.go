package sim

import (
	"context"
	"sync"

	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/uart/hal"
)

// DefaultClockHz is the peripheral clock of the simulated UART.
const DefaultClockHz = 48000000

// UART simulates a USART with circular receive DMA and one-shot transmit
// DMA. The line side is driven by the test: [UART.Receive] feeds bytes
// into the receive DMA and [UART.CompleteTx] finishes the current
// transmit chunk.
//
// All methods are safe for concurrent use.
type UART struct {
	mutex sync.Mutex

	clock   uint32
	inited  bool
	enabled bool
	frame   hal.FrameConfig
	frames  int

	rx    []byte
	rxPos int

	chunk  []byte
	busy   bool
	done   bool
	sent   []byte
	chunks []int

	// AutoComplete finishes every transmit chunk as soon as it starts.
	AutoComplete bool

	// ConfigureErr, if set, is returned by Configure without applying the
	// frame.
	ConfigureErr error
}

// New creates a simulated UART with the given peripheral clock
// (DefaultClockHz if zero).
func New(clockHz uint32) *UART {
	if clockHz == 0 {
		clockHz = DefaultClockHz
	}
	return &UART{clock: clockHz}
}

// Init marks the peripheral initialized.
func (u *UART) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.inited = true
	return nil
}

// ClockHz returns the peripheral clock.
func (u *UART) ClockHz() uint32 {
	return u.clock
}

// Configure records the frame configuration.
func (u *UART) Configure(frame hal.FrameConfig) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if u.enabled {
		return pkg.ErrInvalidState
	}
	if u.ConfigureErr != nil {
		return u.ConfigureErr
	}
	u.frame = frame
	u.frames++
	return nil
}

// Enable starts the simulated line.
func (u *UART) Enable() error {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if !u.inited {
		return pkg.ErrNotRunning
	}
	u.enabled = true
	return nil
}

// Disable stops the simulated line.
func (u *UART) Disable() error {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.enabled = false
	return nil
}

// ArmRx starts circular receive DMA into buf.
func (u *UART) ArmRx(buf []byte) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.rx = buf
	u.rxPos = 0
}

// RxRemaining returns the receive DMA transfer counter.
func (u *UART) RxRemaining() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return len(u.rx) - u.rxPos
}

// StartTx starts transmitting chunk.
func (u *UART) StartTx(chunk []byte) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.chunk = chunk
	u.busy = true
	u.done = false
	if u.AutoComplete {
		u.complete()
	}
}

// TxDone reports and clears the transfer complete flag.
func (u *UART) TxDone() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	done := u.done
	u.done = false
	return done
}

// Receive delivers bytes from the line into the receive DMA buffer,
// overwriting unread data as real DMA would. Returns the number of bytes
// stored (0 if the UART is disabled or DMA is not armed).
func (u *UART) Receive(data []byte) int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if !u.enabled || len(u.rx) == 0 {
		return 0
	}
	for _, b := range data {
		u.rx[u.rxPos] = b
		u.rxPos++
		if u.rxPos == len(u.rx) {
			u.rxPos = 0
		}
	}
	return len(data)
}

// CompleteTx finishes the current transmit chunk. Returns false if no
// chunk is in flight.
func (u *UART) CompleteTx() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if !u.busy {
		return false
	}
	u.complete()
	return true
}

// complete moves the chunk to the line; the caller holds the mutex.
func (u *UART) complete() {
	u.sent = append(u.sent, u.chunk...)
	u.chunks = append(u.chunks, len(u.chunk))
	u.chunk = nil
	u.busy = false
	u.done = true
}

// Busy reports whether a transmit chunk is in flight.
func (u *UART) Busy() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.busy
}

// Sent returns and clears the bytes transmitted so far.
func (u *UART) Sent() []byte {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	sent := u.sent
	u.sent = nil
	return sent
}

// Chunks returns and clears the sizes of the completed transmit chunks.
func (u *UART) Chunks() []int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	chunks := u.chunks
	u.chunks = nil
	return chunks
}

// Frame returns the last applied frame configuration.
func (u *UART) Frame() hal.FrameConfig {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.frame
}

// Enabled reports whether the line is running.
func (u *UART) Enabled() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.enabled
}

// Compile-time interface check
var _ hal.UART = (*UART)(nil)
