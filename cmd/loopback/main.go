// Command loopback sends pseudo random data through a serial port and
// verifies that it comes back unchanged.
//
// Either a single port with TX wired to RX, or two ports with the TX of
// the first wired to the RX of the second, are used:
//
//	loopback [flags] tx-port [rx-port]
//
// Exit codes: 1 for usage errors, 2 if a port cannot be opened, 3 if the
// test fails.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/schollz/progressbar/v3"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/ardnew/usbserial/internal/config"
	"github.com/ardnew/usbserial/pkg"
)

// Exit codes.
const (
	exitUsage     = 1
	exitOpen      = 2
	exitCancelled = 3
)

// Bounds applied to the numeric flags.
const (
	minBitRate  = 1200
	maxBitRate  = 99999999
	maxNumBytes = 1000000000
)

// rxTimeout ends the test when no data arrives for this long.
const rxTimeout = 100 * time.Millisecond

// CLI is the loopback command line.
type CLI struct {
	TxPort string `arg:"" name:"tx-port" help:"Serial port for transmission."`
	RxPort string `arg:"" name:"rx-port" optional:"" help:"Serial port for reception (default: same as tx-port)."`

	NumBytes int           `short:"n" name:"numbytes" default:"300000" help:"Number of bytes to transmit."`
	BitRate  int           `short:"b" name:"bitrate" default:"921600" help:"Bit rate (1200 .. 99,999,999 bps)."`
	Parity   bool          `short:"p" help:"Enable (even) parity bit."`
	DataBits int           `short:"d" name:"databits" default:"8" help:"Data bits (7 or 8, 7 requires parity)."`
	RxSleep  time.Duration `short:"s" name:"rx-sleep" default:"0s" help:"Sleep before reception."`
	Progress bool          `negatable:"" default:"true" help:"Show a progress bar when stderr is a terminal."`

	Config string     `help:"Config file (JSON, YAML or TOML)." type:"path" env:"USBSERIAL_CONFIG"`
	Log    config.Log `embed:"" prefix:"log-"`
}

// normalize clamps the numeric flags to the supported ranges.
func (c *CLI) normalize() {
	c.BitRate = min(max(c.BitRate, minBitRate), maxBitRate)
	c.NumBytes = min(max(c.NumBytes, 1), maxNumBytes)
	if c.Parity {
		c.DataBits = min(max(c.DataBits, 7), 8)
	} else {
		c.DataBits = 8
	}
	if c.RxPort == "" {
		c.RxPort = c.TxPort
	}
}

func (c *CLI) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: c.BitRate,
		DataBits: c.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if c.Parity {
		mode.Parity = serial.EvenParity
	}
	return mode
}

func openPort(name string, mode *serial.Mode) (serial.Port, error) {
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("unable to open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(rxTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("drain %s: %w", name, err)
	}
	return port, nil
}

// Run executes the loopback test and returns the process exit code.
func (c *CLI) Run(ctx context.Context) int {
	c.normalize()

	tx, err := openPort(c.TxPort, c.mode())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitOpen
	}
	defer tx.Close()
	rx := tx
	if c.RxPort != c.TxPort {
		if rx, err = openPort(c.RxPort, c.mode()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitOpen
		}
		defer rx.Close()
	}

	opts := Options{NumBytes: c.NumBytes, DataBits: c.DataBits, RxSleep: c.RxSleep}
	if c.Progress && term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.DefaultBytes(int64(c.NumBytes), "loopback")
		defer bar.Close()
		opts.Progress = func(n int) { _ = bar.Add(n) }
	}

	pkg.LogInfo(pkg.ComponentCLI, "loopback test", "tx", c.TxPort, "rx", c.RxPort,
		"bitrate", c.BitRate, "databits", c.DataBits, "parity", c.Parity, "bytes", c.NumBytes)

	result, err := Run(ctx, tx, rx, opts)
	_ = rx.ResetInputBuffer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n%s: %v\n", c.RxPort, err)
		return exitCancelled
	}

	fmt.Printf("Successfully sent %d bytes in %.1fs\n", result.Bytes, result.Duration.Seconds())
	fmt.Printf("Gross bit rate: %d bps\n", c.BitRate)
	fmt.Printf("Net bit rate:   %d bps\n", int(result.NetBitRate(c.DataBits)))
	fmt.Printf("Overhead: %.1f%%\n", result.Overhead(c.BitRate, c.DataBits, c.Parity))
	return 0
}

func main() {
	var cli CLI
	parser, err := kong.New(&cli, append([]kong.Option{
		kong.Name("loopback"),
		kong.Description("Serial port loopback test."),
		kong.UsageOnError(),
		kong.Exit(func(code int) {
			if code != 0 {
				code = exitUsage
			}
			os.Exit(code)
		}),
	}, config.Options("loopback", os.Args[1:])...)...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	if _, err := parser.Parse(os.Args[1:]); err != nil {
		parser.FatalIfErrorf(err)
	}
	if err := cli.Log.Apply(os.Stderr); err != nil {
		parser.FatalIfErrorf(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx)
	stop()
	os.Exit(code)
}
