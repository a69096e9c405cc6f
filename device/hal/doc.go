// Package hal defines the Hardware Abstraction Layer interface for the USB
// device controller.
//
// The HAL sits between the device layer and the controller hardware. It is
// packet oriented and event driven, matching how a microcontroller USB
// peripheral raises interrupts:
//
//   - [EventSetup] when a SETUP packet lands in a control endpoint buffer
//   - [EventOut] when an OUT data packet has been received
//   - [EventIn] when a queued IN packet has been acknowledged by the host
//   - [EventReset] on bus reset
//
// # Interface Overview
//
// [Peripheral] holds the four primitives the control transfer engine needs:
// write one packet, read one packet, stall, and set the device address.
//
// [DeviceHAL] adds lifecycle, endpoint configuration, OUT flow control
// (NAK) and event polling for the data endpoints.
//
// # Implementing a HAL
//
//  1. Create a type that implements all [DeviceHAL] methods
//  2. Translate controller interrupts into [Event] values returned by PollEvent
//  3. Keep WritePacket and ReadPacket non-blocking
//
// # Example
//
//	var ev hal.Event
//	for h.PollEvent(&ev) {
//	    switch ev.Type {
//	    case hal.EventSetup:
//	        engine.OnSetup(ev.Endpoint, ev.Length)
//	    }
//	}
//
// An in-memory HAL for testing is available in
// [github.com/ardnew/usbserial/device/hal/fifo].
package hal
