package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/usbserial/device"
	"github.com/ardnew/usbserial/device/class/cdc"
	"github.com/ardnew/usbserial/device/hal/fifo"
	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/uart"
	uarthal "github.com/ardnew/usbserial/uart/hal"
)

// idleSleep is how long the main loop sleeps when a pass found no work.
const idleSleep = 100 * time.Microsecond

// Firmware is the device side: USB device, CDC bridge and UART driver
// sharing one cooperative main loop.
type Firmware struct {
	HAL    *fifo.HAL
	Device *device.Device
	Serial *cdc.Serial
	UART   *uart.Driver
}

// NewFirmware assembles the device around the UART hardware.
func NewFirmware(hw uarthal.UART, serialNumber string, cfg uart.Config) (*Firmware, error) {
	h := fifo.New(device.DefaultMaxPacketSize0)
	dev, err := device.NewBuilder(h).
		WithDescriptor(cdc.DeviceDescriptor()).
		WithConfiguration(cdc.Configuration()).
		WithStrings(cdc.Strings(serialNumber)...).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build device: %w", err)
	}

	drv := uart.New(hw, cfg)
	s, err := cdc.New(dev, drv)
	if err != nil {
		return nil, fmt.Errorf("create serial bridge: %w", err)
	}
	return &Firmware{HAL: h, Device: dev, Serial: s, UART: drv}, nil
}

// Init prepares the hardware and attaches the device to the bus.
func (f *Firmware) Init(ctx context.Context) error {
	if err := f.UART.Init(ctx); err != nil {
		return err
	}
	if err := f.Device.Init(ctx); err != nil {
		return fmt.Errorf("usb init: %w", err)
	}
	return f.Device.Start()
}

// Run polls until ctx is done.
func (f *Firmware) Run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentCLI, "firmware running")
	for {
		select {
		case <-ctx.Done():
			if err := f.Device.Stop(); err != nil {
				pkg.LogWarn(pkg.ComponentCLI, "detach", "error", err)
			}
			return nil
		default:
		}
		f.Serial.Poll()
		time.Sleep(idleSleep)
	}
}
