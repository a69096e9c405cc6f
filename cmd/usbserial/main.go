// Command usbserial runs the USB to serial bridge against a host serial
// port. The USB side of the bridge is an in-memory controller whose host
// end is the terminal: keystrokes go to the bulk OUT endpoint and
// everything the device sends on bulk IN is printed.
//
//	usbserial [flags] port
//
// When stdin is a terminal it is put in raw mode; press Ctrl-] to exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/ardnew/usbserial/device"
	"github.com/ardnew/usbserial/device/class/cdc"
	"github.com/ardnew/usbserial/internal/config"
	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/uart"
	"github.com/ardnew/usbserial/uart/hal/serialport"
)

// Exit codes.
const (
	exitUsage  = 1
	exitOpen   = 2
	exitFailed = 3
)

// escapeKey ends an interactive session (Ctrl-]).
const escapeKey = 0x1D

// CLI is the usbserial command line.
type CLI struct {
	Port string `arg:"" help:"Serial port the bridge drives as its UART."`

	Baud         uint32 `short:"b" default:"115200" help:"Line coding requested by the host after enumeration."`
	DataBits     uint8  `short:"d" name:"databits" default:"8" help:"Data bits (7 or 8, 7 requires parity)."`
	Parity       string `short:"p" enum:"none,odd,even" default:"none" help:"Parity (none, odd, even)."`
	StopBits     string `name:"stopbits" enum:"1,1.5,2" default:"1" help:"Stop bits (1, 1.5, 2)."`
	SerialNumber string `name:"serial-number" help:"USB serial number (default: derived from the port name)."`
	TxBuffer     int    `name:"tx-buffer" default:"1024" help:"UART transmit buffer size."`
	RxBuffer     int    `name:"rx-buffer" default:"1024" help:"UART receive buffer size."`

	Config string     `help:"Config file (JSON, YAML or TOML)." type:"path" env:"USBSERIAL_CONFIG"`
	Log    config.Log `embed:"" prefix:"log-"`
}

// coding returns the line coding the host requests.
func (c *CLI) coding() cdc.LineCoding {
	lc := cdc.LineCoding{DTERate: c.Baud, DataBits: c.DataBits}
	switch c.Parity {
	case "odd":
		lc.ParityType = uint8(uart.ParityOdd)
	case "even":
		lc.ParityType = uint8(uart.ParityEven)
	}
	switch c.StopBits {
	case "1.5":
		lc.CharFormat = uint8(uart.StopBits1_5)
	case "2":
		lc.CharFormat = uint8(uart.StopBits2)
	}
	return lc
}

// serialNumber returns the configured serial number or one derived from
// a hash of the port name, stable across runs.
func (c *CLI) serialNumber() string {
	if c.SerialNumber != "" {
		return c.SerialNumber
	}
	h := fnv.New128a()
	_, _ = io.WriteString(h, c.Port)
	sum := h.Sum(nil)
	var uid [3]uint32
	for idx := range uid {
		for _, b := range sum[idx*4 : idx*4+4] {
			uid[idx] = uid[idx]<<8 | uint32(b)
		}
	}
	return device.SerialNumber(uid)
}

// Validate is called by kong after parsing.
func (c *CLI) Validate() error {
	lc := c.coding()
	return lc.Validate()
}

// Session runs the firmware and a host session until ctx is done or in
// fails.
func Session(ctx context.Context, fw *Firmware, coding cdc.LineCoding, in io.Reader, out io.Writer) error {
	if err := fw.Init(ctx); err != nil {
		return err
	}

	fwCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = fw.Run(fwCtx)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	host := NewHost(fw.HAL)
	if _, err := host.Enumerate(coding); err != nil {
		return fmt.Errorf("enumerate: %w", err)
	}
	return host.Pump(ctx, in, out)
}

// escapeReader reads a raw terminal and cancels the session when the
// escape key arrives.
type escapeReader struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (e *escapeReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	for idx := range p[:n] {
		if p[idx] == escapeKey {
			e.cancel()
			return idx, io.EOF
		}
	}
	return n, err
}

// Run executes the bridge and returns the process exit code.
func (c *CLI) Run(ctx context.Context) int {
	hw := serialport.New(c.Port)
	fw, err := NewFirmware(hw, c.serialNumber(), uart.Config{TxBufferSize: c.TxBuffer, RxBufferSize: c.RxBuffer})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var in io.Reader = os.Stdin
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitFailed
		}
		defer term.Restore(fd, state)
		in = &escapeReader{r: os.Stdin, cancel: cancel}
		fmt.Fprintf(os.Stderr, "Connected to %s, press Ctrl-] to exit\r\n", c.Port)
	}

	err = Session(ctx, fw, c.coding(), in, os.Stdout)
	if cerr := hw.Close(); cerr != nil && !errors.Is(cerr, pkg.ErrNotRunning) {
		pkg.LogWarn(pkg.ComponentCLI, "close port", "port", c.Port, "error", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\r\n", c.Port, err)
		if errors.Is(err, serialport.ErrOpen) {
			return exitOpen
		}
		return exitFailed
	}
	return 0
}

func main() {
	var cli CLI
	parser, err := kong.New(&cli, append([]kong.Option{
		kong.Name("usbserial"),
		kong.Description("USB CDC-ACM to UART bridge on a host serial port."),
		kong.UsageOnError(),
		kong.Exit(func(code int) {
			if code != 0 {
				code = exitUsage
			}
			os.Exit(code)
		}),
	}, config.Options("usbserial", os.Args[1:])...)...)
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
