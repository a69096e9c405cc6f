package serialport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/uart/hal"
)

// ClockHz is the virtual peripheral clock reported to the driver.
const ClockHz = 48000000

// ReadTimeout bounds each blocking read so the receive goroutine notices
// Close.
const ReadTimeout = 10 * time.Millisecond

// OpenFunc opens a serial port.
type OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)

// Port drives a host serial port as UART hardware. A goroutine copies
// received bytes into the armed receive buffer the way circular DMA
// would, and each transmit chunk is written by its own goroutine that
// raises the completion flag when the write returns.
type Port struct {
	name string
	open OpenFunc

	mutex   sync.Mutex
	port    serial.Port
	mode    serial.Mode
	enabled bool
	err     error

	rx    []byte
	rxPos int

	txBusy bool
	txDone bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Port.
type Option func(*Port)

// WithOpener replaces serial.Open.
func WithOpener(open OpenFunc) Option {
	return func(p *Port) { p.open = open }
}

// New creates a UART backed by the named serial port. The port is opened
// by Init.
func New(name string, opts ...Option) *Port {
	p := &Port{
		name: name,
		open: serial.Open,
		mode: serial.Mode{
			BaudRate: 9600,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Init opens the serial port and starts the receive goroutine.
func (p *Port) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.port != nil {
		return pkg.ErrAlreadyRunning
	}

	mode := p.mode
	port, err := p.open(p.name, &mode)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrOpen, p.name, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set read timeout on %s: %w", p.name, err)
	}
	p.port = port
	p.done = make(chan struct{})

	p.wg.Add(1)
	go p.receive(port, p.done)

	pkg.LogInfo(pkg.ComponentHAL, "serial port opened", "port", p.name)
	return nil
}

// ClockHz returns the virtual peripheral clock.
func (p *Port) ClockHz() uint32 {
	return ClockHz
}

// Configure applies the frame configuration to the port.
func (p *Port) Configure(frame hal.FrameConfig) error {
	mode, err := modeOf(frame)
	if err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.mode = mode
	if p.port == nil {
		return nil
	}
	if err := p.port.SetMode(&mode); err != nil {
		return fmt.Errorf("set mode on %s: %w", p.name, err)
	}
	pkg.LogDebug(pkg.ComponentHAL, "serial port mode", "port", p.name,
		"baud", mode.BaudRate, "databits", mode.DataBits)
	return nil
}

// Enable starts accepting received bytes.
func (p *Port) Enable() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.port == nil {
		return pkg.ErrNotRunning
	}
	p.enabled = true
	return nil
}

// Disable drops received bytes until the next Enable.
func (p *Port) Disable() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.enabled = false
	return nil
}

// ArmRx starts storing received bytes into buf, beginning at offset 0.
func (p *Port) ArmRx(buf []byte) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.rx = buf
	p.rxPos = 0
}

// RxRemaining returns the number of bytes until the receive position
// wraps to the start of the buffer.
func (p *Port) RxRemaining() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.rx) - p.rxPos
}

// StartTx writes chunk to the port in the background.
func (p *Port) StartTx(chunk []byte) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.port == nil {
		return
	}
	p.txBusy = true
	p.txDone = false

	port := p.port
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_, err := port.Write(chunk)

		p.mutex.Lock()
		defer p.mutex.Unlock()
		if err != nil && p.err == nil {
			p.err = fmt.Errorf("write %s: %w", p.name, err)
		}
		p.txBusy = false
		p.txDone = true
	}()
}

// TxDone reports and clears the transmit completion flag.
func (p *Port) TxDone() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	done := p.txDone
	p.txDone = false
	return done
}

// Err returns the first I/O error of the background goroutines.
func (p *Port) Err() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.err
}

// Close closes the port and waits for the background goroutines.
func (p *Port) Close() error {
	p.mutex.Lock()
	port := p.port
	if port == nil {
		p.mutex.Unlock()
		return pkg.ErrNotRunning
	}
	p.port = nil
	p.enabled = false
	close(p.done)
	p.mutex.Unlock()

	err := port.Close()
	p.wg.Wait()
	return err
}

func (p *Port) receive(port serial.Port, done <-chan struct{}) {
	defer p.wg.Done()
	var buf [256]byte
	for {
		n, err := port.Read(buf[:])
		select {
		case <-done:
			return
		default:
		}
		if err != nil {
			p.mutex.Lock()
			if p.err == nil {
				p.err = fmt.Errorf("read %s: %w", p.name, err)
			}
			p.mutex.Unlock()
			pkg.LogError(pkg.ComponentHAL, "serial port read failed", "port", p.name, "error", err)
			return
		}
		if n > 0 {
			p.store(buf[:n])
		}
	}
}

// store writes received bytes circularly into the armed buffer.
func (p *Port) store(data []byte) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.enabled || len(p.rx) == 0 {
		return
	}
	for len(data) > 0 {
		n := copy(p.rx[p.rxPos:], data)
		data = data[n:]
		p.rxPos += n
		if p.rxPos == len(p.rx) {
			p.rxPos = 0
		}
	}
}

// ErrOpen is returned by Init when the serial port cannot be opened.
var ErrOpen = errors.New("cannot open serial port")

// ErrUnsupportedFrame is returned for frames a host serial port cannot
// represent.
var ErrUnsupportedFrame = errors.New("unsupported frame")

func modeOf(frame hal.FrameConfig) (serial.Mode, error) {
	mode := serial.Mode{BaudRate: int(frame.Baudrate)}
	if mode.BaudRate == 0 {
		mode.BaudRate = baudOf(frame)
	}

	mode.DataBits = frame.WordLength
	switch frame.Parity {
	case hal.ParityNone:
		mode.Parity = serial.NoParity
	case hal.ParityOdd:
		mode.Parity = serial.OddParity
		mode.DataBits--
	case hal.ParityEven:
		mode.Parity = serial.EvenParity
		mode.DataBits--
	default:
		return mode, fmt.Errorf("parity %d: %w", frame.Parity, ErrUnsupportedFrame)
	}
	if mode.DataBits < 5 || mode.DataBits > 8 {
		return mode, fmt.Errorf("%d data bits: %w", mode.DataBits, ErrUnsupportedFrame)
	}

	switch frame.StopBits {
	case hal.StopBits1:
		mode.StopBits = serial.OneStopBit
	case hal.StopBits1_5:
		mode.StopBits = serial.OnePointFiveStopBits
	case hal.StopBits2:
		mode.StopBits = serial.TwoStopBits
	default:
		return mode, fmt.Errorf("stop bits %d: %w", frame.StopBits, ErrUnsupportedFrame)
	}
	return mode, nil
}

// baudOf recovers the line rate from the divider register.
func baudOf(frame hal.FrameConfig) int {
	if frame.Oversample8 {
		return ClockHz / (8 + int(frame.Divider&0x07))
	}
	if frame.Divider == 0 {
		return 0
	}
	return ClockHz / int(frame.Divider)
}

// Compile-time interface check
var _ hal.UART = (*Port)(nil)
