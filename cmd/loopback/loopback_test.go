package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// wire is a loopback cable: writes become readable. Reads time out like
// a serial port with a read timeout, returning no data and no error.
type wire struct {
	mutex   sync.Mutex
	data    []byte
	arrived chan struct{}
	timeout time.Duration

	corrupt int // index of a byte to flip, or -1
	written int
	fail    error
}

func newWire() *wire {
	return &wire{arrived: make(chan struct{}, 1), timeout: 50 * time.Millisecond, corrupt: -1}
}

func (w *wire) Write(p []byte) (int, error) {
	if w.fail != nil {
		return 0, w.fail
	}
	w.mutex.Lock()
	for _, b := range p {
		if w.written == w.corrupt {
			b ^= 0x01
		}
		w.data = append(w.data, b)
		w.written++
	}
	w.mutex.Unlock()
	select {
	case w.arrived <- struct{}{}:
	default:
	}
	return len(p), nil
}

func (w *wire) Read(p []byte) (int, error) {
	deadline := time.After(w.timeout)
	for {
		w.mutex.Lock()
		if len(w.data) > 0 {
			n := copy(p, w.data)
			w.data = w.data[n:]
			w.mutex.Unlock()
			return n, nil
		}
		w.mutex.Unlock()
		select {
		case <-w.arrived:
		case <-deadline:
			return 0, nil
		}
	}
}

func TestRun(t *testing.T) {
	w := newWire()
	var progress int
	result, err := Run(context.Background(), w, w, Options{
		NumBytes: 1000,
		DataBits: 8,
		Progress: func(n int) { progress += n },
	})
	require.NoError(t, err)
	assert.Equal(t, 1000, result.Bytes)
	assert.Equal(t, 1000, progress)
}

func TestRun_SevenBits(t *testing.T) {
	w := newWire()
	_, err := Run(context.Background(), w, w, Options{NumBytes: 500, DataBits: 7})
	require.NoError(t, err)
}

func TestRun_Mismatch(t *testing.T) {
	w := newWire()
	w.corrupt = 300
	_, err := Run(context.Background(), w, w, Options{NumBytes: 1000, DataBits: 8})
	assert.ErrorIs(t, err, ErrMismatch)
	assert.ErrorContains(t, err, "at pos 300")
}

func TestRun_NoData(t *testing.T) {
	tx, rx := newWire(), newWire()
	_, err := Run(context.Background(), tx, rx, Options{NumBytes: 100, DataBits: 8})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRun_WriteFailure(t *testing.T) {
	w := newWire()
	w.fail = errors.New("unplugged")
	_, err := Run(context.Background(), w, w, Options{NumBytes: 100, DataBits: 8})
	assert.ErrorContains(t, err, "unplugged")
}

func TestRun_Cancelled(t *testing.T) {
	w := newWire()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, w, w, Options{NumBytes: 100, DataBits: 8})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult(t *testing.T) {
	r := Result{Bytes: 1000, Duration: time.Second}
	assert.InDelta(t, 8000, r.NetBitRate(8), 0.001)
	// 10000 baud 8N1 carries 8000 bps of payload.
	assert.InDelta(t, 0, r.Overhead(10000, 8, false), 0.001)
	assert.InDelta(t, 10, r.Overhead(11000, 8, false), 0.001)

	assert.Zero(t, Result{}.NetBitRate(8))
	assert.Zero(t, Result{}.Overhead(9600, 8, false))
}

func parse(t *testing.T, args ...string) *CLI {
	t.Helper()
	t.Setenv("USBSERIAL_CONFIG", "")
	var cli CLI
	parser, err := kong.New(&cli)
	require.NoError(t, err)
	_, err = parser.Parse(args)
	require.NoError(t, err)
	cli.normalize()
	return &cli
}

func TestCLI(t *testing.T) {
	cli := parse(t, "/dev/ttyACM0")
	assert.Equal(t, "/dev/ttyACM0", cli.RxPort, "rx defaults to tx")
	assert.Equal(t, 300000, cli.NumBytes)
	assert.Equal(t, 921600, cli.BitRate)
	assert.Equal(t, &serial.Mode{BaudRate: 921600, DataBits: 8, StopBits: serial.OneStopBit}, cli.mode())

	cli = parse(t, "-b", "300", "-d", "7", "-n", "0", "a", "b")
	assert.Equal(t, minBitRate, cli.BitRate)
	assert.Equal(t, 8, cli.DataBits, "7 data bits need parity")
	assert.Equal(t, 1, cli.NumBytes)
	assert.Equal(t, "b", cli.RxPort)

	cli = parse(t, "-p", "-d", "5", "--rx-sleep=2s", "a")
	assert.Equal(t, 7, cli.DataBits)
	assert.Equal(t, 2*time.Second, cli.RxSleep)
	assert.Equal(t, serial.EvenParity, cli.mode().Parity)
}
