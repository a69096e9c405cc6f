package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbserial/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00 // Endpoint halt feature
	FeatureDeviceRemoteWakeup = 0x01 // Device remote wakeup
)

// Request type masks (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80 // Direction bit mask
	RequestTypeTypeMask      = 0x60 // Type bits mask
	RequestTypeRecipientMask = 0x1F // Recipient bits mask
)

// Request type direction values.
const (
	RequestDirectionHostToDevice = 0x00 // Host to device
	RequestDirectionDeviceToHost = 0x80 // Device to host
)

// Request type values.
const (
	RequestTypeStandard = 0x00 // Standard request
	RequestTypeClass    = 0x20 // Class-specific request
	RequestTypeVendor   = 0x40 // Vendor-specific request
)

// Request recipient values.
const (
	RequestRecipientDevice    = 0x00 // Device recipient
	RequestRecipientInterface = 0x01 // Interface recipient
	RequestRecipientEndpoint  = 0x02 // Endpoint recipient
	RequestRecipientOther     = 0x03 // Other recipient
)

// SetupPacket represents an 8-byte USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // bmRequestType: direction, type, recipient
	Request     uint8  // bRequest: specific request code
	Value       uint16 // wValue: request-specific parameter
	Index       uint16 // wIndex: request-specific index
	Length      uint16 // wLength: number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses a setup packet from 8 bytes into out.
// Returns an error if the data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// MarshalTo serializes the setup packet to buf.
// Returns the number of bytes written (always 8 if buf is large enough).
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// IsDeviceToHost reports whether the data stage, if any, runs IN.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&RequestTypeDirectionMask == RequestDirectionDeviceToHost
}

// IsStandard reports whether the request is one of chapter 9's.
func (s *SetupPacket) IsStandard() bool {
	return s.RequestType&RequestTypeTypeMask == RequestTypeStandard
}

// Recipient returns the recipient bits of bmRequestType.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// Descriptor splits wValue of GET_DESCRIPTOR into type and index.
func (s *SetupPacket) Descriptor() (typ, index uint8) {
	return uint8(s.Value >> 8), uint8(s.Value)
}

// Target returns the interface number or endpoint address in wIndex.
func (s *SetupPacket) Target() uint8 {
	return uint8(s.Index)
}

var (
	typeNames      = [4]string{"std", "class", "vendor", "reserved"}
	recipientNames = [4]string{"device", "interface", "endpoint", "other"}
)

// String formats the packet for logs, e.g.
// "in class/interface req=0x21 val=0x0000 idx=0x0000 len=7".
func (s *SetupPacket) String() string {
	dir := "out"
	if s.IsDeviceToHost() {
		dir = "in"
	}
	recipient := "recipient" + fmt.Sprint(s.Recipient())
	if r := s.Recipient(); int(r) < len(recipientNames) {
		recipient = recipientNames[r]
	}
	return fmt.Sprintf("%s %s/%s req=0x%02x val=0x%04x idx=0x%04x len=%d",
		dir, typeNames[(s.RequestType&RequestTypeTypeMask)>>5], recipient,
		s.Request, s.Value, s.Index, s.Length)
}

// IsIn reports whether the request has no OUT data stage: either the
// direction is device-to-host or wLength is zero. The control engine stages
// the response buffer and dispatches immediately for these requests.
func (s *SetupPacket) IsIn() bool {
	return s.Length == 0 || s.IsDeviceToHost()
}

// Matches reports whether bmRequestType selected by mask equals typ.
func (s *SetupPacket) Matches(typ, mask uint8) bool {
	return s.RequestType&mask == typ
}

// Is reports whether the packet carries the given bmRequestType and bRequest.
func (s *SetupPacket) Is(requestType, request uint8) bool {
	return s.RequestType == requestType && s.Request == request
}
