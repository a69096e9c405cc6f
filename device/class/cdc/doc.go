// Package cdc implements a USB to serial bridge as a CDC-ACM (Abstract
// Control Model) function.
//
// # Architecture
//
// A CDC-ACM function consists of two interfaces, tied together by an
// interface association:
//
//   - Communication interface: class requests on the control endpoint
//     (SET_LINE_CODING, GET_LINE_CODING, SET_CONTROL_LINE_STATE) and
//     SERIAL_STATE notifications on an interrupt IN endpoint
//   - Data interface: bulk OUT and IN endpoints carrying the serial data
//
// [Serial] registers with a [device.Device] and forwards the data to a
// [uart.Driver]. Class requests are handled only while the device is
// configured: the handler is registered again by every SET_CONFIGURATION.
//
// # Flow Control
//
// The host's data goes straight into the UART transmit buffer. When fewer
// than [TxHighWater] bytes are free, the bulk OUT endpoint NAKs until the
// UART catches up.
//
// In the other direction, received bytes are held back until at least
// [MinInPacket] bytes are available or [Holdback] has passed since the last
// IN packet, so slow lines do not flood the bus with single-byte packets.
//
// # Usage
//
//	h := fifo.New(64)
//	dev, _ := device.NewBuilder(h).
//	    WithDescriptor(cdc.DeviceDescriptor()).
//	    WithConfiguration(cdc.Configuration()).
//	    WithStrings(cdc.Strings(device.SerialNumber(uid))...).
//	    Build()
//
//	drv := uart.New(hw, uart.Config{})
//	serial, _ := cdc.New(dev, drv)
//
//	for {
//	    serial.Poll()
//	}
package cdc
