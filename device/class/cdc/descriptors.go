package cdc

import (
	"github.com/ardnew/usbserial/device"
)

// Device identity.
const (
	VendorID      = 0x1209
	ProductID     = 0x8048
	DeviceVersion = 0x0120

	// MaxPower is the bus current draw in 2 mA units (500 mA).
	MaxPower = 0xFA
)

// String descriptor indexes.
const (
	StringManufacturer = 1
	StringProduct      = 2
	StringSerialNumber = 3
	StringFunction     = 4
	StringComm         = 5
	StringData         = 6
)

// HeaderDescriptor is the CDC Header Functional Descriptor.
type HeaderDescriptor struct {
	CDCVersion uint16 // CDC specification release number (0x0110 for 1.10)
}

// HeaderDescriptorSize is the size of the Header Functional Descriptor.
const HeaderDescriptorSize = 5

// MarshalTo writes the descriptor to buf.
func (d *HeaderDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < HeaderDescriptorSize {
		return 0
	}
	buf[0] = HeaderDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = SubtypeHeader
	buf[3] = byte(d.CDCVersion)
	buf[4] = byte(d.CDCVersion >> 8)
	return HeaderDescriptorSize
}

// CallManagementDescriptor is the Call Management Functional Descriptor.
type CallManagementDescriptor struct {
	Capabilities  uint8 // Call management capabilities
	DataInterface uint8 // Interface number of the Data Class interface
}

// CallManagementDescriptorSize is the size of the Call Management Descriptor.
const CallManagementDescriptorSize = 5

// MarshalTo writes the descriptor to buf.
func (d *CallManagementDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < CallManagementDescriptorSize {
		return 0
	}
	buf[0] = CallManagementDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = SubtypeCallManagement
	buf[3] = d.Capabilities
	buf[4] = d.DataInterface
	return CallManagementDescriptorSize
}

// ACMDescriptor is the Abstract Control Management Functional Descriptor.
type ACMDescriptor struct {
	Capabilities uint8 // ACM capabilities
}

// ACMDescriptorSize is the size of the ACM Functional Descriptor.
const ACMDescriptorSize = 4

// MarshalTo writes the descriptor to buf.
func (d *ACMDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ACMDescriptorSize {
		return 0
	}
	buf[0] = ACMDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = SubtypeACM
	buf[3] = d.Capabilities
	return ACMDescriptorSize
}

// UnionDescriptor is the Union Functional Descriptor with one subordinate
// interface.
type UnionDescriptor struct {
	ControlInterface     uint8
	SubordinateInterface uint8
}

// UnionDescriptorSize is the size of the Union Descriptor with one subordinate.
const UnionDescriptorSize = 5

// MarshalTo writes the descriptor to buf.
func (d *UnionDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < UnionDescriptorSize {
		return 0
	}
	buf[0] = UnionDescriptorSize
	buf[1] = device.DescriptorTypeCSInterface
	buf[2] = SubtypeUnion
	buf[3] = d.ControlInterface
	buf[4] = d.SubordinateInterface
	return UnionDescriptorSize
}

// DeviceDescriptor returns the descriptor of a composite device with a
// single CDC-ACM function.
func DeviceDescriptor() device.DeviceDescriptor {
	return device.DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       device.ClassMisc,
		DeviceSubClass:    device.SubClassCommon,
		DeviceProtocol:    device.ProtocolIAD,
		MaxPacketSize0:    device.DefaultMaxPacketSize0,
		VendorID:          VendorID,
		ProductID:         ProductID,
		DeviceVersion:     DeviceVersion,
		ManufacturerIndex: StringManufacturer,
		ProductIndex:      StringProduct,
		SerialNumberIndex: StringSerialNumber,
		NumConfigurations: 1,
	}
}

// Strings returns the string table in index order, starting at index 1.
func Strings(serial string) []string {
	return []string{
		"Codecrete",
		"USB Serial",
		serial,
		"Virtual Serial Port",
		"USB Serial COMM 1",
		"USB Serial DATA 1",
	}
}

// Configuration returns configuration 1: an interface association over
// the communication and data interfaces, the CDC functional descriptors,
// the notification endpoint and the bulk data endpoints.
func Configuration() *device.ConfigurationBuilder {
	return device.NewConfigurationBuilder(1, 0, MaxPower).
		Append(&device.InterfaceAssociationDescriptor{
			FirstInterface:   InterfaceComm,
			InterfaceCount:   2,
			FunctionClass:    device.ClassCDC,
			FunctionSubClass: SubclassACM,
			FunctionProtocol: ProtocolAT,
			FunctionIndex:    StringFunction,
		}).
		Append(&device.InterfaceDescriptor{
			InterfaceNumber:   InterfaceComm,
			NumEndpoints:      1,
			InterfaceClass:    device.ClassCDC,
			InterfaceSubClass: SubclassACM,
			InterfaceProtocol: ProtocolAT,
			InterfaceIndex:    StringComm,
		}).
		Append(&HeaderDescriptor{CDCVersion: 0x0110}).
		Append(&CallManagementDescriptor{DataInterface: InterfaceData}).
		Append(&ACMDescriptor{Capabilities: ACMCapLineCoding}).
		Append(&UnionDescriptor{ControlInterface: InterfaceComm, SubordinateInterface: InterfaceData}).
		Append(&device.EndpointDescriptor{
			EndpointAddress: EndpointCommIn,
			Attributes:      device.EndpointTypeInterrupt,
			MaxPacketSize:   NotificationPacketSize,
			Interval:        NotificationInterval,
		}).
		Append(&device.InterfaceDescriptor{
			InterfaceNumber: InterfaceData,
			NumEndpoints:    2,
			InterfaceClass:  device.ClassCDCData,
			InterfaceIndex:  StringData,
		}).
		Append(&device.EndpointDescriptor{
			EndpointAddress: EndpointDataOut,
			Attributes:      device.EndpointTypeBulk,
			MaxPacketSize:   PacketSize,
			Interval:        1,
		}).
		Append(&device.EndpointDescriptor{
			EndpointAddress: EndpointDataIn,
			Attributes:      device.EndpointTypeBulk,
			MaxPacketSize:   PacketSize,
			Interval:        1,
		})
}
