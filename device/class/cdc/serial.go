package cdc

import (
	"sync/atomic"
	"time"

	"github.com/ardnew/usbserial/device"
	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/uart"
)

// Holdback is how long received data shorter than [MinInPacket] waits for
// more data before it is sent to the host.
const Holdback = 3 * time.Millisecond

// Serial bridges a CDC-ACM function to a UART.
//
// Data from the bulk OUT endpoint goes to the UART transmit buffer; the OUT
// endpoint is paused while that buffer is nearly full. Received UART data
// goes to the bulk IN endpoint, coalesced into larger packets at low data
// rates. Receive overruns are reported with a SERIAL_STATE notification.
//
// Serial is driven by [Serial.Poll] from a single goroutine.
type Serial struct {
	dev  *device.Device
	uart *uart.Driver

	now   func() time.Time
	modem func() (dcd, dsr bool)

	onLineCoding  func(uart.LineCoding)
	onControlLine func(dtr, rts bool)

	needsZLP    bool
	txHighWater bool
	lastState   uint16
	pending     uint16
	txTimestamp time.Time

	dtr atomic.Bool
	rts atomic.Bool

	out    [PacketSize]byte
	in     [2 * PacketSize]byte
	notify [SerialStateSize]byte
}

// Option configures a Serial.
type Option func(*Serial)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Serial) { s.now = now }
}

// WithModemLines sets the source of the DCD and DSR input lines reported in
// SERIAL_STATE notifications.
func WithModemLines(lines func() (dcd, dsr bool)) Option {
	return func(s *Serial) { s.modem = lines }
}

// WithOnLineCoding sets a callback that runs after the host changed the
// line coding.
func WithOnLineCoding(cb func(uart.LineCoding)) Option {
	return func(s *Serial) { s.onLineCoding = cb }
}

// WithOnControlLine sets a callback that runs after SET_CONTROL_LINE_STATE.
func WithOnControlLine(cb func(dtr, rts bool)) Option {
	return func(s *Serial) { s.onControlLine = cb }
}

// New creates the bridge and hooks it into the device's configuration
// sequence.
func New(dev *device.Device, u *uart.Driver, opts ...Option) (*Serial, error) {
	if dev == nil || u == nil {
		return nil, pkg.ErrInvalidParameter
	}
	s := &Serial{dev: dev, uart: u, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := dev.RegisterSetConfigCallback(s.onSetConfig); err != nil {
		return nil, err
	}
	return s, nil
}

// Connected reports whether the host configured the device.
func (s *Serial) Connected() bool {
	return s.dev.IsConfigured()
}

// DTR reports the Data Terminal Ready line last set by the host.
func (s *Serial) DTR() bool {
	return s.dtr.Load()
}

// RTS reports the Request To Send line last set by the host.
func (s *Serial) RTS() bool {
	return s.rts.Load()
}

// onSetConfig registers the class request handler, sets up the data
// endpoints and reports the initial serial state.
func (s *Serial) onSetConfig(value uint16) {
	err := s.dev.RegisterControlCallback(
		device.RequestTypeClass|device.RequestRecipientInterface,
		device.RequestTypeTypeMask|device.RequestTypeRecipientMask,
		s.handleControl)
	if err != nil {
		pkg.LogError(pkg.ComponentCDC, "register control callback", "error", err)
		return
	}

	s.needsZLP = false
	s.txHighWater = false
	s.lastState = 0
	s.pending = 0
	// Long enough ago that the first received bytes go out immediately.
	s.txTimestamp = s.now().Add(-100 * time.Millisecond)

	endpoints := []struct {
		address  uint8
		attr     uint8
		mps      uint16
		interval uint8
		cb       device.EndpointCallback
	}{
		{EndpointDataOut, device.EndpointTypeBulk, PacketSize, 0, s.onDataOut},
		{EndpointDataIn, device.EndpointTypeBulk, PacketSize, 0, nil},
		{EndpointCommIn, device.EndpointTypeInterrupt, NotificationPacketSize, NotificationInterval, s.onCommIn},
	}
	for _, ep := range endpoints {
		if err := s.dev.SetupEndpoint(ep.address, ep.attr, ep.mps, ep.interval, ep.cb); err != nil {
			pkg.LogError(pkg.ComponentCDC, "setup endpoint", "address", ep.address, "error", err)
			return
		}
	}

	if err := s.uart.Enable(); err != nil {
		pkg.LogError(pkg.ComponentCDC, "enable uart", "error", err)
	}
	s.dtr.Store(true)

	pkg.LogInfo(pkg.ComponentCDC, "serial connected", "configuration", value, "coding", s.uart.Coding())
	s.sendSerialState()
}

// onDataOut moves one packet from the host to the UART.
func (s *Serial) onDataOut(ep uint8, _ int) {
	n := s.dev.ReadPacket(ep, s.out[:])
	if accepted := s.uart.Transmit(s.out[:n]); accepted < n {
		pkg.LogWarn(pkg.ComponentCDC, "transmit buffer full", "dropped", n-accepted)
	}
	s.updateNAK()
}

// onCommIn runs when the host picked up a notification.
func (s *Serial) onCommIn(uint8, int) {
	if s.serialState() != s.lastState {
		s.sendSerialState()
	}
}

// updateNAK pauses the OUT endpoint while the UART transmit buffer cannot
// take another two packets.
func (s *Serial) updateNAK() {
	high := s.uart.TxDataAvail() < TxHighWater
	if high == s.txHighWater {
		return
	}
	s.txHighWater = high
	s.dev.SetNAK(EndpointDataOut, high)
}

// Poll runs one iteration of the main loop: peripheral events, UART
// buffers, flow control, notifications and received data.
func (s *Serial) Poll() {
	s.dev.Poll()
	s.uart.Poll()

	if !s.dev.IsConfigured() {
		return
	}

	s.updateNAK()

	if s.uart.HasRxOverrunOccurred() {
		s.pending |= SerialStateOverrun
		s.sendSerialState()
		return
	}
	if s.serialState() != s.lastState {
		s.sendSerialState()
	}

	s.sendReceived()
}

// sendReceived sends received UART data to the host. Short data is held
// back until it grows or the holdback time since the last packet passed.
// A transfer ending on a packet boundary is terminated with a zero length
// packet on the next call.
func (s *Serial) sendReceived() {
	now := s.now()
	if !s.needsZLP {
		n := s.uart.RxDataLen()
		if n == 0 {
			return
		}
		if n < MinInPacket && now.Sub(s.txTimestamp) < Holdback {
			return
		}
	}

	avail := s.dev.WriteAvail(EndpointDataIn)
	if avail == 0 {
		return
	}
	s.txTimestamp = now

	n := s.uart.CopyRxData(s.in[:min(avail, len(s.in))])
	s.needsZLP = n > 0 && n%PacketSize == 0

	if n == 0 {
		s.dev.WritePacket(EndpointDataIn, nil)
		return
	}
	for off := 0; off < n; off += PacketSize {
		s.dev.WritePacket(EndpointDataIn, s.in[off:min(off+PacketSize, n)])
	}
}

func (s *Serial) serialState() uint16 {
	state := s.pending
	if s.modem != nil {
		dcd, dsr := s.modem()
		if dcd {
			state |= SerialStateRxCarrier
		}
		if dsr {
			state |= SerialStateTxCarrier
		}
	}
	return state
}

func (s *Serial) sendSerialState() {
	s.notifySerialState(s.serialState())
}

// notifySerialState queues a SERIAL_STATE notification. Pending one-shot
// bits are cleared only once the notification was accepted.
func (s *Serial) notifySerialState(state uint16) {
	buf := s.notify[:]
	buf[0] = device.RequestDirectionDeviceToHost | device.RequestTypeClass | device.RequestRecipientInterface
	buf[1] = NotificationSerialState
	buf[2], buf[3] = 0, 0 // wValue
	buf[4], buf[5] = InterfaceComm, 0
	buf[6], buf[7] = 2, 0 // wLength
	buf[8] = byte(state)
	buf[9] = byte(state >> 8)

	if s.dev.WritePacket(EndpointCommIn, buf) != len(buf) {
		return
	}
	s.lastState = state & serialStateLines
	s.pending = 0
	pkg.LogDebug(pkg.ComponentCDC, "serial state", "state", state)
}
