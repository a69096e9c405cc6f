package device

import (
	"encoding/binary"

	"github.com/ardnew/usbserial/pkg"
)

// Descriptor types.
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeInterfaceAssociation = 0x0B
	DescriptorTypeCSInterface          = 0x24
)

// Class codes used by the bridge and its tests.
const (
	ClassCDC     = 0x02
	ClassCDCData = 0x0A
	ClassMisc    = 0xEF
	ClassVendor  = 0xFF
)

// SubClassCommon and ProtocolIAD select interface association under
// ClassMisc.
const (
	SubClassCommon = 0x02
	ProtocolIAD    = 0x01
)

// Descriptor sizes in bytes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
	IADSize                     = 8
)

// Configuration attribute bits. Bit 7 is reserved and always set.
const (
	ConfigAttrBusPowered  = 0x80
	ConfigAttrSelfPowered = 0x40
)

// Endpoint transfer types and the IN direction bit of an address.
const (
	EndpointTypeBulk      = 0x02
	EndpointTypeInterrupt = 0x03
	EndpointDirectionIn   = 0x80
)

// LangIDUSEnglish is the only language the string table is served in.
const LangIDUSEnglish = 0x0409

// writer fills a descriptor field by field. The length and type header is
// written on creation; fields past the end of buf are dropped and reported
// by done.
type writer struct {
	buf []byte
	off int
}

func header(buf []byte, size int, typ uint8) *writer {
	if len(buf) < size {
		return &writer{off: -1}
	}
	buf[0], buf[1] = uint8(size), typ
	return &writer{buf: buf[:size], off: 2}
}

func (w *writer) u8(v ...uint8) *writer {
	if w.off >= 0 {
		w.off += copy(w.buf[w.off:], v)
	}
	return w
}

func (w *writer) u16(v ...uint16) *writer {
	for _, x := range v {
		if w.off < 0 {
			break
		}
		binary.LittleEndian.PutUint16(w.buf[w.off:], x)
		w.off += 2
	}
	return w
}

// done returns the descriptor length, or 0 if buf was too small.
func (w *writer) done() int {
	if w.off < 0 {
		return 0
	}
	return w.off
}

// reader is the inverse of writer for the descriptors a host parses.
type reader struct {
	data []byte
	off  int
}

func open(data []byte, size int, typ uint8) (*reader, error) {
	if len(data) < size {
		return nil, pkg.ErrDescriptorTooShort
	}
	if data[1] != typ {
		return nil, pkg.ErrDescriptorTypeMismatch
	}
	return &reader{data: data, off: 2}, nil
}

func (r *reader) u8(v ...*uint8) *reader {
	for _, p := range v {
		*p = r.data[r.off]
		r.off++
	}
	return r
}

func (r *reader) u16(v ...*uint16) *reader {
	for _, p := range v {
		*p = binary.LittleEndian.Uint16(r.data[r.off:])
		r.off += 2
	}
	return r
}

// DeviceDescriptor is the device descriptor without its length and type
// header.
type DeviceDescriptor struct {
	USBVersion        uint16 // BCD
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // BCD
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo writes the descriptor to buf and returns its length, or 0 if
// buf is too small.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	return header(buf, DeviceDescriptorSize, DescriptorTypeDevice).
		u16(d.USBVersion).
		u8(d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol, d.MaxPacketSize0).
		u16(d.VendorID, d.ProductID, d.DeviceVersion).
		u8(d.ManufacturerIndex, d.ProductIndex, d.SerialNumberIndex, d.NumConfigurations).
		done()
}

// ParseDeviceDescriptor decodes data into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	r, err := open(data, DeviceDescriptorSize, DescriptorTypeDevice)
	if err != nil {
		return err
	}
	r.u16(&out.USBVersion).
		u8(&out.DeviceClass, &out.DeviceSubClass, &out.DeviceProtocol, &out.MaxPacketSize0).
		u16(&out.VendorID, &out.ProductID, &out.DeviceVersion).
		u8(&out.ManufacturerIndex, &out.ProductIndex, &out.SerialNumberIndex, &out.NumConfigurations)
	return nil
}

// ConfigurationDescriptor is the header of a configuration descriptor set.
type ConfigurationDescriptor struct {
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	return header(buf, ConfigurationDescriptorSize, DescriptorTypeConfiguration).
		u16(c.TotalLength).
		u8(c.NumInterfaces, c.ConfigurationValue, c.ConfigurationIndex, c.Attributes, c.MaxPower).
		done()
}

// ParseConfigurationDescriptor decodes the first descriptor of data into
// out.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	r, err := open(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration)
	if err != nil {
		return err
	}
	r.u16(&out.TotalLength).
		u8(&out.NumInterfaces, &out.ConfigurationValue, &out.ConfigurationIndex, &out.Attributes, &out.MaxPower)
	return nil
}

type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	return header(buf, InterfaceDescriptorSize, DescriptorTypeInterface).
		u8(i.InterfaceNumber, i.AlternateSetting, i.NumEndpoints,
			i.InterfaceClass, i.InterfaceSubClass, i.InterfaceProtocol, i.InterfaceIndex).
		done()
}

type EndpointDescriptor struct {
	EndpointAddress uint8
	Attributes      uint8 // transfer type
	MaxPacketSize   uint16
	Interval        uint8
}

func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	return header(buf, EndpointDescriptorSize, DescriptorTypeEndpoint).
		u8(e.EndpointAddress, e.Attributes).
		u16(e.MaxPacketSize).
		u8(e.Interval).
		done()
}

// InterfaceAssociationDescriptor groups the interfaces of one function of
// a composite device.
type InterfaceAssociationDescriptor struct {
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    uint8
	FunctionSubClass uint8
	FunctionProtocol uint8
	FunctionIndex    uint8
}

func (i *InterfaceAssociationDescriptor) MarshalTo(buf []byte) int {
	return header(buf, IADSize, DescriptorTypeInterfaceAssociation).
		u8(i.FirstInterface, i.InterfaceCount,
			i.FunctionClass, i.FunctionSubClass, i.FunctionProtocol, i.FunctionIndex).
		done()
}

// Marshaler is implemented by every descriptor type.
type Marshaler interface {
	MarshalTo(buf []byte) int
}

// MaxConfigurationSize bounds the total length of a configuration
// descriptor set.
const MaxConfigurationSize = 256

// ConfigurationBuilder assembles a configuration descriptor and its
// subordinate descriptors into one contiguous block, patching wTotalLength
// and bNumInterfaces as descriptors are appended.
type ConfigurationBuilder struct {
	buf [MaxConfigurationSize]byte
	n   int
	err error
}

// NewConfigurationBuilder starts a configuration descriptor set.
// maxPower is in 2 mA units.
func NewConfigurationBuilder(value, attributes, maxPower uint8) *ConfigurationBuilder {
	b := &ConfigurationBuilder{}
	cfg := ConfigurationDescriptor{
		ConfigurationValue: value,
		Attributes:         attributes | ConfigAttrBusPowered,
		MaxPower:           maxPower,
	}
	b.n = cfg.MarshalTo(b.buf[:])
	b.patch()
	return b
}

// Append adds a descriptor. Interface descriptors with alternate setting 0
// increment bNumInterfaces.
func (b *ConfigurationBuilder) Append(d Marshaler) *ConfigurationBuilder {
	if b.err != nil {
		return b
	}
	n := d.MarshalTo(b.buf[b.n:])
	if n == 0 {
		b.err = pkg.ErrBufferTooSmall
		return b
	}
	if iface, ok := d.(*InterfaceDescriptor); ok && iface.AlternateSetting == 0 {
		b.buf[4]++
	}
	b.n += n
	b.patch()
	return b
}

// Bytes returns the assembled descriptor set.
func (b *ConfigurationBuilder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf[:b.n], nil
}

func (b *ConfigurationBuilder) patch() {
	binary.LittleEndian.PutUint16(b.buf[2:4], uint16(b.n))
}

// StringDescriptorTo encodes s as a UTF-16LE string descriptor in buf,
// truncated to 255 bytes. Returns 0 if buf is too small.
func StringDescriptorTo(buf []byte, s string) int {
	units := make([]uint16, 0, len(s))
	for _, r := range s {
		if len(units) == (255-2)/2 {
			break
		}
		units = append(units, uint16(r))
	}
	return stringDescriptor(buf, units)
}

// LanguageDescriptorTo writes string descriptor zero listing langIDs.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	return stringDescriptor(buf, langIDs)
}

func stringDescriptor(buf []byte, units []uint16) int {
	return header(buf, 2+2*len(units), DescriptorTypeString).u16(units...).done()
}
