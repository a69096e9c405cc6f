// Package device implements the device side of a small USB stack built
// around the endpoint 0 control transfer engine.
//
// # Control Transfers
//
// [Engine] sequences the SETUP, DATA and STATUS stages of control
// transfers. It is driven by three events raised by the peripheral:
//
//	engine.OnSetup(ep, n)      // SETUP packet received
//	engine.OnControlOut(ep, n) // OUT data or status packet received
//	engine.OnControlIn(ep, n)  // IN packet acknowledged
//
// The state machine moves through [ControlIdle], [ControlDataIn],
// [ControlLastDataIn], [ControlStatusIn], [ControlDataOut],
// [ControlLastDataOut] and [ControlStatusOut]. Every protocol violation
// stalls endpoint 0 and returns the engine to idle; the host recovers by
// sending a new SETUP packet.
//
// A SET_ADDRESS request takes effect only after its status stage, so the
// handshake completes on the old address.
//
// # Request Dispatch
//
// Class and vendor modules register handlers in a fixed table of
// [MaxControlCallbacks] entries:
//
//	err := dev.RegisterControlCallback(
//	    device.RequestTypeClass|device.RequestRecipientInterface,
//	    device.RequestTypeTypeMask|device.RequestTypeRecipientMask,
//	    handler)
//
// Handlers run in registration order. A handler that returns
// [pkg.RequestNext] passes the request on; when nobody decides, the
// standard request handler ([Device.HandleStandard]) answers.
//
// # Devices
//
// [Device] ties the engine to a [hal.DeviceHAL], serves the device,
// configuration and string descriptors, and routes data endpoint events to
// callbacks installed by [Device.SetupEndpoint]:
//
//	config := device.NewConfigurationBuilder(1, 0, 0xfa).
//	    Append(&iface).
//	    Append(&ep)
//
//	dev, err := device.NewBuilder(h).
//	    WithDescriptor(desc).
//	    WithConfiguration(config).
//	    WithStrings("Vendor", "Product", device.SerialNumber(uid)).
//	    Build()
//
//	for {
//	    dev.Poll()
//	}
package device
