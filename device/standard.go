package device

import (
	"encoding/binary"

	"github.com/ardnew/usbserial/pkg"
)

// HandleStandard serves the standard requests (USB 2.0 chapter 9) that no
// registered control handler decided. It implements [StandardHandler].
func (d *Device) HandleStandard(setup *SetupPacket, buf *ControlBuffer) bool {
	if !setup.IsStandard() {
		return false
	}

	var ok bool
	switch setup.Recipient() {
	case RequestRecipientDevice:
		ok = d.handleDeviceRequest(setup, buf)
	case RequestRecipientInterface:
		ok = d.handleInterfaceRequest(setup, buf)
	case RequestRecipientEndpoint:
		ok = d.handleEndpointRequest(setup, buf)
	}
	if !ok {
		pkg.LogDebug(pkg.ComponentDevice, "standard request rejected", "packet", setup.String())
	}
	return ok
}

// handleDeviceRequest handles device-level standard requests.
func (d *Device) handleDeviceRequest(setup *SetupPacket, buf *ControlBuffer) bool {
	switch setup.Request {
	case RequestGetStatus:
		var status uint16
		if d.configValue() != 0 && d.config[7]&ConfigAttrSelfPowered != 0 {
			status |= StatusSelfPowered
		}
		d.mutex.RLock()
		if d.remoteWakeup {
			status |= StatusRemoteWakeup
		}
		d.mutex.RUnlock()
		return respondStatus(buf, status)

	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureDeviceRemoteWakeup {
			return false
		}
		d.mutex.Lock()
		d.remoteWakeup = setup.Request == RequestSetFeature
		d.mutex.Unlock()
		return true

	case RequestSetAddress:
		// Applied by the engine once the status stage completes.
		return setup.Value < 128 && setup.Length == 0

	case RequestGetDescriptor:
		return d.getDescriptor(setup, buf)

	case RequestGetConfiguration:
		if len(buf.Data) < 1 {
			return false
		}
		buf.Data[0] = d.Configuration()
		buf.Data = buf.Data[:1]
		return true

	case RequestSetConfiguration:
		return d.setConfiguration(uint8(setup.Value))

	default:
		return false
	}
}

// handleInterfaceRequest handles interface-level standard requests.
// Every interface has exactly one alternate setting.
func (d *Device) handleInterfaceRequest(setup *SetupPacket, buf *ControlBuffer) bool {
	if !d.IsConfigured() || !d.hasInterface(setup.Target()) {
		return false
	}
	switch setup.Request {
	case RequestGetStatus:
		return respondStatus(buf, 0)
	case RequestGetInterface:
		if len(buf.Data) < 1 {
			return false
		}
		buf.Data[0] = 0
		buf.Data = buf.Data[:1]
		return true
	case RequestSetInterface:
		return setup.Value == 0
	default:
		return false
	}
}

// handleEndpointRequest handles endpoint-level standard requests.
func (d *Device) handleEndpointRequest(setup *SetupPacket, buf *ControlBuffer) bool {
	ep := setup.Target()
	if ep&0x0F != 0 && !d.hasEndpoint(ep) {
		return false
	}
	switch setup.Request {
	case RequestGetStatus:
		var status uint16
		if ep&0x0F != 0 && d.IsHalted(ep) {
			status = StatusHalt
		}
		return respondStatus(buf, status)
	case RequestClearFeature, RequestSetFeature:
		if setup.Value != FeatureEndpointHalt || ep&0x0F == 0 {
			return false
		}
		d.SetStall(ep, setup.Request == RequestSetFeature)
		return true
	default:
		return false
	}
}

// getDescriptor serves device, configuration and string descriptors.
// Responses longer than wLength are truncated by the engine.
func (d *Device) getDescriptor(setup *SetupPacket, buf *ControlBuffer) bool {
	typ, index := setup.Descriptor()
	switch typ {
	case DescriptorTypeDevice:
		n := d.desc.MarshalTo(buf.Area())
		if n == 0 {
			return false
		}
		buf.Data = buf.Area()[:n]
		return true

	case DescriptorTypeConfiguration:
		if index != 0 || d.config == nil {
			return false
		}
		buf.Data = d.config
		return true

	case DescriptorTypeString:
		var n int
		if index == 0 {
			n = LanguageDescriptorTo(buf.Area(), d.langID)
		} else {
			if index >= MaxStrings || d.strings[index] == "" || setup.Index != d.langID {
				return false
			}
			n = StringDescriptorTo(buf.Area(), d.strings[index])
		}
		if n == 0 {
			return false
		}
		buf.Data = buf.Area()[:n]
		return true

	default:
		return false
	}
}

func respondStatus(buf *ControlBuffer, status uint16) bool {
	if len(buf.Data) < 2 {
		return false
	}
	binary.LittleEndian.PutUint16(buf.Data[:2], status)
	buf.Data = buf.Data[:2]
	return true
}

// hasInterface reports whether the configuration declares interface num.
func (d *Device) hasInterface(num uint8) bool {
	found := false
	d.walkConfig(func(desc []byte) {
		if len(desc) > 2 && desc[1] == DescriptorTypeInterface && desc[2] == num {
			found = true
		}
	})
	return found
}

// hasEndpoint reports whether the configuration declares endpoint ep.
func (d *Device) hasEndpoint(ep uint8) bool {
	found := false
	d.walkConfig(func(desc []byte) {
		if len(desc) > 2 && desc[1] == DescriptorTypeEndpoint && desc[2] == ep {
			found = true
		}
	})
	return found
}

// walkConfig calls fn for every descriptor in the configuration set.
func (d *Device) walkConfig(fn func(desc []byte)) {
	data := d.config
	for len(data) >= 2 {
		n := int(data[0])
		if n < 2 || n > len(data) {
			return
		}
		fn(data[:n])
		data = data[n:]
	}
}
