package device

import (
	"github.com/ardnew/usbserial/device/hal"
	"github.com/ardnew/usbserial/pkg"
)

// Control endpoint addresses.
const (
	EndpointControlOut = 0x00
	EndpointControlIn  = 0x80
)

// Engine defaults.
const (
	DefaultControlBufferSize = 256
	DefaultMaxPacketSize0    = 64
)

// StandardHandler serves the standard requests no registered handler
// decided. It returns true if the request was accepted.
type StandardHandler interface {
	HandleStandard(setup *SetupPacket, buf *ControlBuffer) bool
}

// StandardHandlerFunc adapts a function to [StandardHandler].
type StandardHandlerFunc func(setup *SetupPacket, buf *ControlBuffer) bool

// HandleStandard calls f(setup, buf).
func (f StandardHandlerFunc) HandleStandard(setup *SetupPacket, buf *ControlBuffer) bool {
	return f(setup, buf)
}

// Engine sequences control transfers on endpoint 0.
//
// The three event methods are called from the peripheral's event context
// and are never reentered; the engine holds no locks. Protocol violations
// stall EP0 and return the engine to [ControlIdle].
type Engine struct {
	periph   hal.Peripheral
	standard StandardHandler
	registry Registry

	mps  int
	area []byte

	state ControlState
	setup SetupPacket

	// IN data stage: response bytes not yet sent and wLength not yet covered.
	pending   []byte
	requested int

	// OUT data stage: bytes received so far.
	received int

	complete CompletionFunc

	packet  [SetupPacketSize]byte
	scratch []byte
}

// NewEngine creates a control transfer engine.
// bufferSize bounds OUT data stages and staged IN responses; mps is the
// maximum packet size of endpoint 0. Zero values select the defaults.
func NewEngine(periph hal.Peripheral, standard StandardHandler, bufferSize, mps int) *Engine {
	if bufferSize <= 0 {
		bufferSize = DefaultControlBufferSize
	}
	if mps <= 0 {
		mps = DefaultMaxPacketSize0
	}
	return &Engine{
		periph:   periph,
		standard: standard,
		mps:      mps,
		area:     make([]byte, bufferSize),
		scratch:  make([]byte, bufferSize),
	}
}

// RegisterControlCallback adds a handler for requests whose bmRequestType
// masked with mask equals typ. Returns [pkg.ErrRegistryFull] if the table
// is full.
func (e *Engine) RegisterControlCallback(typ, mask uint8, handler ControlHandler) error {
	if err := e.registry.Register(typ, mask, handler); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "control callback not registered",
			"type", typ, "mask", mask, "error", err)
		return err
	}
	return nil
}

// ResetCallbacks removes every registered control handler.
func (e *Engine) ResetCallbacks() {
	e.registry.Reset()
}

// State returns the current control transfer state.
func (e *Engine) State() ControlState {
	return e.state
}

// Setup returns the setup packet of the current (or last) transfer.
func (e *Engine) Setup() SetupPacket {
	return e.setup
}

// BufferSize returns the control buffer capacity.
func (e *Engine) BufferSize() int {
	return len(e.area)
}

// MaxPacketSize returns the maximum packet size of endpoint 0.
func (e *Engine) MaxPacketSize() int {
	return e.mps
}

// Reset aborts any transfer without stalling. Called on bus reset.
func (e *Engine) Reset() {
	e.state = ControlIdle
	e.complete = nil
	e.pending = nil
	e.requested = 0
	e.received = 0
}

// OnSetup handles a SETUP packet waiting on ep.
func (e *Engine) OnSetup(ep uint8, n int) {
	e.complete = nil

	got := e.periph.ReadPacket(ep, e.packet[:])
	if got != SetupPacketSize || ParseSetupPacket(e.packet[:], &e.setup) != nil {
		pkg.LogDebug(pkg.ComponentControl, "short setup packet", "len", got, "event_len", n)
		e.stall()
		return
	}

	pkg.LogDebug(pkg.ComponentControl, "setup", "packet", e.setup.String())

	next, act := stepSetup(&e.setup, len(e.area), e.mps)
	if act.has(actStall) {
		e.stall()
		return
	}
	if !act.has(actDispatch) {
		e.received = 0
		e.state = next
		return
	}

	length := int(e.setup.Length)
	buf := ControlBuffer{Data: e.area[:min(length, len(e.area))], area: e.area}
	if !e.dispatch(&buf, false) {
		e.stall()
		return
	}
	e.complete = buf.Complete

	if length == 0 {
		e.periph.WritePacket(EndpointControlIn, nil)
		e.state = ControlStatusIn
		return
	}
	e.pending = buf.Data
	if len(e.pending) > length {
		e.pending = e.pending[:length]
	}
	e.requested = length
	e.sendDataIn()
}

// OnControlOut handles an OUT packet waiting on ep.
func (e *Engine) OnControlOut(ep uint8, n int) {
	next, act := stepOut(e.state)
	switch {
	case act.has(actStall):
		pkg.LogDebug(pkg.ComponentControl, "unexpected out", "state", e.state.String(), "len", n)
		e.stall()

	case act.has(actRead):
		length := int(e.setup.Length)
		want := outPacketSize(length, e.received, e.mps)
		got := e.periph.ReadPacket(ep, e.area[e.received:e.received+want])
		if got != want {
			pkg.LogDebug(pkg.ComponentControl, "short out packet",
				"state", e.state.String(), "want", want, "got", got)
			e.stall()
			return
		}
		e.received += got

		next, act = stepOutRead(e.state, length, e.received, e.mps)
		if !act.has(actDispatch) {
			e.state = next
			return
		}
		buf := ControlBuffer{Data: e.area[:e.received], area: e.area}
		if !e.dispatch(&buf, true) {
			e.stall()
			return
		}
		e.complete = buf.Complete
		e.periph.WritePacket(EndpointControlIn, nil)
		e.state = next

	default:
		var empty [0]byte
		e.periph.ReadPacket(ep, empty[:])
		e.state = next
		e.finish()
	}
}

// OnControlIn handles the acknowledgment of an IN packet on ep.
func (e *Engine) OnControlIn(ep uint8, n int) {
	next, act := stepIn(e.state)
	switch {
	case act.has(actStall):
		pkg.LogDebug(pkg.ComponentControl, "unexpected in", "state", e.state.String(), "ep", ep)
		e.stall()

	case act.has(actSend):
		e.sendDataIn()

	case act.has(actComplete):
		e.finish()
		if act.has(actAddress) && e.setup.Is(0, RequestSetAddress) {
			addr := uint8(e.setup.Value)
			e.periph.SetAddress(addr)
			pkg.LogDebug(pkg.ComponentControl, "address applied", "address", addr)
		}
		e.state = next

	default:
		e.state = next
	}
}

// sendDataIn writes the next IN chunk of the pending response.
func (e *Engine) sendDataIn() {
	n, next := chunkIn(len(e.pending), e.requested, e.mps)
	e.periph.WritePacket(EndpointControlIn, e.pending[:n])
	e.pending = e.pending[n:]
	e.requested -= n
	e.state = next
}

// finish runs and clears the completion callback.
func (e *Engine) finish() {
	cb := e.complete
	e.complete = nil
	if cb != nil {
		cb(&e.setup)
	}
}

// dispatch offers the request to the registered handlers and then to the
// standard handler. out reports whether buf holds received OUT data that
// deferring handlers must not corrupt.
func (e *Engine) dispatch(buf *ControlBuffer, out bool) bool {
	data := buf.Data
	if out {
		copy(e.scratch, data)
	}
	restore := func() {
		buf.Data = data
		buf.Complete = nil
		if out {
			copy(data, e.scratch[:len(data)])
		}
	}

	switch result := e.registry.dispatch(&e.setup, buf, restore); result {
	case pkg.RequestHandled:
		return true
	case pkg.RequestNotSupported:
		pkg.LogDebug(pkg.ComponentControl, "request not supported", "packet", e.setup.String())
		return false
	}

	if e.standard == nil {
		return false
	}
	return e.standard.HandleStandard(&e.setup, buf)
}

// stall aborts the current transfer.
func (e *Engine) stall() {
	pkg.LogDebug(pkg.ComponentControl, "stall", "state", e.state.String(), "packet", e.setup.String())
	e.periph.SetStall(EndpointControlOut, true)
	e.state = ControlIdle
	e.complete = nil
	e.pending = nil
}
