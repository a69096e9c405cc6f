package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ardnew/usbserial/device"
	"github.com/ardnew/usbserial/device/class/cdc"
	"github.com/ardnew/usbserial/device/hal"
	"github.com/ardnew/usbserial/device/hal/fifo"
	"github.com/ardnew/usbserial/pkg"
)

// retryDelay is how long the host waits before retrying a NAKed
// transaction.
const retryDelay = 200 * time.Microsecond

// hostAddress is the address the host assigns during enumeration.
const hostAddress = 5

// Host plays the USB host for the in-memory device.
type Host struct {
	bus *fifo.Host
}

// NewHost creates a host for a device polled by another goroutine.
func NewHost(h *fifo.HAL) *Host {
	return &Host{bus: fifo.NewHost(h, nil)}
}

func (h *Host) control(rt, req uint8, value, index, length uint16, data []byte) ([]byte, error) {
	setup := &hal.SetupPacket{RequestType: rt, Request: req, Value: value, Index: index, Length: length}
	resp, err := h.bus.Control(setup, data)
	if err != nil {
		return nil, fmt.Errorf("request 0x%02x: %w", req, err)
	}
	return resp, nil
}

// Enumerate resets the device, assigns an address, reads its descriptors,
// selects configuration 1, applies the line coding and raises DTR.
func (h *Host) Enumerate(coding cdc.LineCoding) (device.DeviceDescriptor, error) {
	var desc device.DeviceDescriptor
	if err := h.bus.Reset(); err != nil {
		return desc, fmt.Errorf("reset: %w", err)
	}

	const (
		stdIn    = device.RequestDirectionDeviceToHost | device.RequestTypeStandard | device.RequestRecipientDevice
		stdOut   = device.RequestDirectionHostToDevice | device.RequestTypeStandard | device.RequestRecipientDevice
		classOut = device.RequestDirectionHostToDevice | device.RequestTypeClass | device.RequestRecipientInterface
	)

	raw, err := h.control(stdIn, device.RequestGetDescriptor, device.DescriptorTypeDevice<<8, 0, 8, nil)
	if err != nil {
		return desc, err
	}
	if len(raw) < 8 {
		return desc, fmt.Errorf("device descriptor of %d bytes: %w", len(raw), pkg.ErrDescriptorTooShort)
	}
	if _, err := h.control(stdOut, device.RequestSetAddress, hostAddress, 0, 0, nil); err != nil {
		return desc, err
	}

	raw, err = h.control(stdIn, device.RequestGetDescriptor, device.DescriptorTypeDevice<<8, 0, device.DeviceDescriptorSize, nil)
	if err != nil {
		return desc, err
	}
	if err := device.ParseDeviceDescriptor(raw, &desc); err != nil {
		return desc, err
	}

	raw, err = h.control(stdIn, device.RequestGetDescriptor, device.DescriptorTypeConfiguration<<8, 0, device.ConfigurationDescriptorSize, nil)
	if err != nil {
		return desc, err
	}
	var config device.ConfigurationDescriptor
	if err := device.ParseConfigurationDescriptor(raw, &config); err != nil {
		return desc, err
	}
	if _, err := h.control(stdIn, device.RequestGetDescriptor, device.DescriptorTypeConfiguration<<8, 0, config.TotalLength, nil); err != nil {
		return desc, err
	}

	if _, err := h.control(stdOut, device.RequestSetConfiguration, uint16(config.ConfigurationValue), 0, 0, nil); err != nil {
		return desc, err
	}

	var buf [cdc.LineCodingSize]byte
	coding.MarshalTo(buf[:])
	if _, err := h.control(classOut, cdc.RequestSetLineCoding, 0, cdc.InterfaceComm, cdc.LineCodingSize, buf[:]); err != nil {
		return desc, fmt.Errorf("line coding %s: %w", coding.String(), err)
	}
	if _, err := h.control(classOut, cdc.RequestSetControlLineState, cdc.ControlLineDTR|cdc.ControlLineRTS, cdc.InterfaceComm, 0, nil); err != nil {
		return desc, err
	}

	pkg.LogInfo(pkg.ComponentCLI, "device enumerated",
		"vid", fmt.Sprintf("%04x", desc.VendorID), "pid", fmt.Sprintf("%04x", desc.ProductID),
		"config_length", config.TotalLength, "coding", coding.String())
	return desc, nil
}

// Send writes data to the bulk OUT endpoint in packets, retrying while the
// device NAKs.
func (h *Host) Send(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		n := min(len(data), cdc.PacketSize)
		ok, err := h.bus.Write(cdc.EndpointDataOut, data[:n])
		if err != nil {
			return fmt.Errorf("bulk out: %w", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			continue
		}
		data = data[n:]
	}
	return nil
}

// Pump copies in to the device and the device's data to out until ctx is
// done or in fails. EOF on in stops sending but not receiving.
func (h *Host) Pump(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		var buf [cdc.PacketSize * 4]byte
		for {
			n, err := in.Read(buf[:])
			if n > 0 {
				if err := h.Send(ctx, buf[:n]); err != nil {
					cancel(err)
					return
				}
			}
			if errors.Is(err, io.EOF) {
				pkg.LogDebug(pkg.ComponentCLI, "input closed")
				return
			}
			if err != nil {
				cancel(fmt.Errorf("read input: %w", err))
				return
			}
		}
	}()

	for {
		idle, err := h.receive(out)
		if err != nil {
			return err
		}
		if !idle {
			continue
		}
		select {
		case <-ctx.Done():
			if err := context.Cause(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case <-time.After(retryDelay):
		}
	}
}

// receive collects pending bulk IN data and notifications. Returns true if
// nothing was pending.
func (h *Host) receive(out io.Writer) (bool, error) {
	idle := true
	pkt, ok, err := h.bus.Read(cdc.EndpointDataIn)
	if err != nil {
		return false, fmt.Errorf("bulk in: %w", err)
	}
	if ok {
		idle = false
		if _, err := out.Write(pkt); err != nil {
			return false, fmt.Errorf("write output: %w", err)
		}
	}

	note, ok, err := h.bus.Read(cdc.EndpointCommIn)
	if err != nil {
		return false, fmt.Errorf("interrupt in: %w", err)
	}
	if ok && len(note) == cdc.SerialStateSize {
		idle = false
		state := uint16(note[8]) | uint16(note[9])<<8
		if state&cdc.SerialStateOverrun != 0 {
			pkg.LogWarn(pkg.ComponentCLI, "device reported receive overrun")
		} else {
			pkg.LogDebug(pkg.ComponentCLI, "serial state", "state", state)
		}
	}
	return idle, nil
}
