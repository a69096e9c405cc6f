package device

import "github.com/ardnew/usbserial/pkg"

// MaxControlCallbacks is the capacity of the control callback table.
const MaxControlCallbacks = 4

// MaxSetConfigCallbacks is the capacity of the set-configuration callback table.
const MaxSetConfigCallbacks = 4

// CompletionFunc runs once after the status stage of a control transfer
// completes successfully. It never runs for a stalled transfer.
type CompletionFunc func(setup *SetupPacket)

// ControlBuffer carries the data of a control transfer into a handler.
//
// For requests with an OUT data stage, Data holds the received payload.
// For IN and no-data requests, Data is the response area sized to wLength
// (bounded by the control buffer capacity); a handler writes its response
// into it and reslices Data to the response length, or points Data at
// another slice entirely. The engine never sends more than wLength bytes.
type ControlBuffer struct {
	Data     []byte
	Complete CompletionFunc

	area []byte
}

// Area returns the full control buffer, independent of the current length
// of Data. Handlers that build a response longer than wLength (for example
// a descriptor truncated by the host) write here.
func (b *ControlBuffer) Area() []byte {
	return b.area
}

// ControlHandler serves a control request. It returns
// [pkg.RequestHandled] to accept, [pkg.RequestNotSupported] to stall, or
// [pkg.RequestNext] to defer to the next matching handler. A deferring
// handler's changes to buf are discarded.
type ControlHandler func(setup *SetupPacket, buf *ControlBuffer) pkg.RequestResult

// SetConfigCallback runs after SET_CONFIGURATION selects a configuration.
type SetConfigCallback func(value uint16)

type controlEntry struct {
	typ     uint8
	mask    uint8
	handler ControlHandler
}

// Registry is a fixed-capacity ordered table of control handlers.
// Dispatch tries entries in registration order.
type Registry struct {
	entries [MaxControlCallbacks]controlEntry
}

// Register appends a handler for requests whose bmRequestType, masked with
// mask, equals typ. Returns [pkg.ErrRegistryFull] if every slot is taken.
func (r *Registry) Register(typ, mask uint8, handler ControlHandler) error {
	if handler == nil {
		return pkg.ErrInvalidParameter
	}
	for idx := range r.entries {
		if r.entries[idx].handler == nil {
			r.entries[idx] = controlEntry{typ: typ, mask: mask, handler: handler}
			return nil
		}
	}
	return pkg.ErrRegistryFull
}

// Reset removes all handlers.
func (r *Registry) Reset() {
	r.entries = [MaxControlCallbacks]controlEntry{}
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	n := 0
	for idx := range r.entries {
		if r.entries[idx].handler != nil {
			n++
		}
	}
	return n
}

// dispatch runs matching handlers in order until one decides.
// Returns RequestNext if none did. Changes made by deferring handlers are
// rolled back through restore before the next handler runs.
func (r *Registry) dispatch(setup *SetupPacket, buf *ControlBuffer, restore func()) pkg.RequestResult {
	for idx := range r.entries {
		entry := &r.entries[idx]
		if entry.handler == nil {
			break
		}
		if !setup.Matches(entry.typ, entry.mask) {
			continue
		}
		result := entry.handler(setup, buf)
		if result != pkg.RequestNext {
			return result
		}
		restore()
	}
	return pkg.RequestNext
}
