package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ardnew/usbserial/internal/prng"
	"github.com/ardnew/usbserial/pkg"
)

// chunkSize is the size of every write and the largest read.
const chunkSize = 128

var (
	// ErrMismatch indicates received data differs from the sent data.
	ErrMismatch = errors.New("invalid data")

	// ErrNoData indicates the receive port went silent before all data
	// arrived.
	ErrNoData = errors.New("no more data")
)

// Options selects what the loopback test sends.
type Options struct {
	NumBytes int
	DataBits int
	RxSleep  time.Duration

	// Progress is called with the number of bytes verified by each read.
	Progress func(n int)
}

// Result summarizes a successful test.
type Result struct {
	Bytes    int
	Duration time.Duration
}

// NetBitRate returns the payload bit rate achieved.
func (r Result) NetBitRate(dataBits int) float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Bytes*dataBits) / r.Duration.Seconds()
}

// Overhead returns by how much the achieved rate falls short of the
// theoretical net rate of a line running at bitRate, in percent.
func (r Result) Overhead(bitRate, dataBits int, parity bool) float64 {
	frame := dataBits + 2
	if parity {
		frame++
	}
	expected := float64(bitRate*dataBits) / float64(frame)
	net := r.NetBitRate(dataBits)
	if net == 0 {
		return 0
	}
	return expected*100/net - 100
}

// drainer is implemented by ports that can wait until written data left
// the transmitter.
type drainer interface {
	Drain() error
}

// Run sends the pseudo random stream to tx while reading and verifying it
// from rx. A read returning no data ends the test with ErrNoData, so rx
// must have a read timeout.
func Run(ctx context.Context, tx io.Writer, rx io.Reader, opts Options) (Result, error) {
	mask := byte(0xFF)
	if opts.DataBits == 7 {
		mask = 0x7F
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sent := make(chan error, 1)
	go func() {
		err := send(ctx, tx, opts.NumBytes, mask)
		if err != nil {
			cancel(err)
		}
		sent <- err
	}()

	if opts.RxSleep > 0 {
		select {
		case <-time.After(opts.RxSleep):
		case <-ctx.Done():
		}
	}

	start := time.Now()
	n, err := receive(ctx, rx, opts.NumBytes, mask, opts.Progress)
	result := Result{Bytes: n, Duration: time.Since(start)}
	if err != nil {
		cancel(err)
		// A failed write usually is the reason the data stopped.
		select {
		case serr := <-sent:
			if serr != nil {
				return result, serr
			}
		default:
		}
		return result, err
	}
	return result, <-sent
}

func send(ctx context.Context, tx io.Writer, total int, mask byte) error {
	stream := prng.New(prng.Seed)
	var buf [chunkSize]byte

	for remaining := total; remaining > 0; {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		chunk := buf[:min(len(buf), remaining)]
		stream.Fill(chunk)
		if mask != 0xFF {
			for idx := range chunk {
				chunk[idx] &= mask
			}
		}
		k, err := tx.Write(chunk)
		if err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		if k != len(chunk) {
			return fmt.Errorf("write failed: %d of %d bytes: %w", k, len(chunk), io.ErrShortWrite)
		}
		remaining -= k
	}

	if d, ok := tx.(drainer); ok {
		if err := d.Drain(); err != nil {
			return fmt.Errorf("drain: %w", err)
		}
	}
	pkg.LogDebug(pkg.ComponentCLI, "all data sent", "bytes", total)
	return nil
}

func receive(ctx context.Context, rx io.Reader, total int, mask byte, progress func(int)) (int, error) {
	stream := prng.New(prng.Seed)
	var buf [chunkSize]byte

	n := 0
	for n < total {
		if err := ctx.Err(); err != nil {
			return n, context.Cause(ctx)
		}
		k, err := rx.Read(buf[:min(len(buf), total-n)])
		if err != nil && !errors.Is(err, io.EOF) {
			return n, fmt.Errorf("read failed after %d bytes: %w", n, err)
		}
		if k == 0 {
			return n, fmt.Errorf("after %d bytes: %w", n, ErrNoData)
		}
		if bad := stream.Verify(buf[:k], mask); bad >= 0 {
			return n, fmt.Errorf("at pos %d: %w", n+bad, ErrMismatch)
		}
		n += k
		if progress != nil {
			progress(k)
		}
	}
	return n, nil
}
