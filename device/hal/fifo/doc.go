// Package fifo implements an in-memory USB device controller.
//
// The controller keeps a small packet FIFO per endpoint and direction and
// raises [hal.Event] values the way a microcontroller peripheral raises
// interrupts. It is intended for tests and simulation: a [Host] plays the
// bus side, injecting SETUP and OUT packets and collecting IN packets.
//
// # Endpoint Buffers
//
//   - EP0: one SETUP buffer, one OUT packet, [DefaultInDepth] IN packets
//   - Data OUT endpoints: one packet; the host sees a NAK while it is full
//     or while the device paused the endpoint with SetNAK
//   - Data IN endpoints: [DefaultInDepth] packets
//
// # Usage
//
//	h := fifo.New(64)
//	dev, _ := device.NewBuilder(h).WithConfiguration(cfg).Build()
//	host := fifo.NewHost(h, func() { dev.Poll() })
//
//	var setup hal.SetupPacket
//	setup.RequestType = 0x80
//	setup.Request = 0x06
//	setup.Value = 0x0100
//	setup.Length = 18
//	desc, err := host.Control(&setup, nil)
//
// Passing a nil poll function to [NewHost] lets the device poll from its
// own goroutine; the host then waits up to [DefaultTimeout] per stage.
package fifo
