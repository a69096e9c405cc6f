package hal

import (
	"context"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// EndpointConfig describes an endpoint configuration for the HAL.
// This is a minimal, platform-agnostic representation used to configure
// hardware endpoints when a configuration is activated.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt endpoints
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacket represents a USB SETUP packet in the HAL layer.
// Host-side drivers use it to build requests without importing the device stack.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// IsIn returns true if the request has a device-to-host data stage.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&0x80 != 0
}

// EventType identifies a peripheral event.
type EventType uint8

// Peripheral events raised by the USB controller.
const (
	EventNone  EventType = iota // No event pending
	EventReset                  // Bus reset detected
	EventSetup                  // SETUP packet received on a control endpoint
	EventOut                    // OUT data packet received
	EventIn                     // IN packet transmitted and acknowledged
)

// String returns the event name.
func (e EventType) String() string {
	switch e {
	case EventReset:
		return "reset"
	case EventSetup:
		return "setup"
	case EventOut:
		return "out"
	case EventIn:
		return "in"
	default:
		return "none"
	}
}

// Event is a single peripheral event.
type Event struct {
	Type     EventType
	Endpoint uint8 // Endpoint address including direction bit
	Length   int   // Bytes received (SETUP/OUT) or sent (IN)
}

// Peripheral is the packet-level interface the control transfer engine
// consumes. It mirrors the primitives a USB device controller exposes for a
// single packet buffer per endpoint.
//
// Implementations must not block: WritePacket queues at most one packet and
// returns the number of bytes accepted, ReadPacket returns what is already
// in the endpoint's receive buffer.
type Peripheral interface {
	// WritePacket queues one packet on an IN endpoint.
	// A nil or empty data slice sends a zero-length packet.
	WritePacket(ep uint8, data []byte) int

	// ReadPacket copies the pending OUT or SETUP packet into buf and
	// returns its length (truncated to len(buf)).
	ReadPacket(ep uint8, buf []byte) int

	// SetStall sets or clears the stall condition on an endpoint.
	SetStall(ep uint8, stalled bool)

	// SetAddress applies the device address in hardware.
	SetAddress(address uint8)
}

// DeviceHAL defines the Hardware Abstraction Layer interface for the USB
// device controller.
//
// The device layer polls for events, reacts to them, and uses the packet
// primitives of [Peripheral] to answer. Nothing in the interface blocks
// except Init, which may wait for the controller to come up.
type DeviceHAL interface {
	Peripheral

	// Init initializes the USB controller hardware.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Start enables the USB controller and attaches to the bus.
	Start() error

	// Stop detaches from the bus and disables the USB controller.
	Stop() error

	// ConfigureEndpoints configures hardware endpoints for the active
	// configuration. Pass nil to unconfigure all data endpoints.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// SetNAK pauses (true) or resumes (false) reception on an OUT endpoint.
	SetNAK(ep uint8, nak bool)

	// WriteAvail returns the number of bytes that can be queued on an IN
	// endpoint without waiting for the host.
	WriteAvail(ep uint8) int

	// PollEvent retrieves the next pending event into ev.
	// Returns false if no event is pending.
	PollEvent(ev *Event) bool
}
