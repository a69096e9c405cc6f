package device

import "fmt"

// ControlState is the state of the endpoint 0 control transfer.
type ControlState uint8

// Control transfer states.
const (
	ControlIdle        ControlState = iota // Awaiting SETUP
	ControlDataIn                          // More IN data (or a closing ZLP) to send
	ControlLastDataIn                      // Final IN packet queued
	ControlStatusIn                        // Zero-length IN status packet queued
	ControlDataOut                         // More than one OUT packet still expected
	ControlLastDataOut                     // Exactly one OUT packet still expected
	ControlStatusOut                       // Awaiting host zero-length OUT status packet
)

// String returns the state name.
func (s ControlState) String() string {
	switch s {
	case ControlIdle:
		return "IDLE"
	case ControlDataIn:
		return "DATA_IN"
	case ControlLastDataIn:
		return "LAST_DATA_IN"
	case ControlStatusIn:
		return "STATUS_IN"
	case ControlDataOut:
		return "DATA_OUT"
	case ControlLastDataOut:
		return "LAST_DATA_OUT"
	case ControlStatusOut:
		return "STATUS_OUT"
	default:
		return fmt.Sprintf("ControlState(%d)", uint8(s))
	}
}

// action is a set of side effects requested by a transition.
type action uint8

const (
	actStall    action = 1 << iota // Stall EP0 and abort the transfer
	actDispatch                    // Run request dispatch
	actRead                        // Read the next OUT data packet
	actSend                        // Send the next IN chunk
	actAck                         // Consume the host's zero-length status packet
	actComplete                    // Run the completion callback
	actAddress                     // Apply a pending SET_ADDRESS
)

func (a action) has(b action) bool { return a&b != 0 }

// stepSetup decides how a freshly parsed SETUP packet is handled.
// Requests without an OUT data stage dispatch immediately. OUT requests are
// checked against the control buffer capacity and stage for reception.
func stepSetup(setup *SetupPacket, capacity, mps int) (ControlState, action) {
	if setup.IsIn() {
		return ControlIdle, actDispatch
	}
	length := int(setup.Length)
	if length > capacity {
		return ControlIdle, actStall
	}
	if length > mps {
		return ControlDataOut, 0
	}
	return ControlLastDataOut, 0
}

// stepOut maps an OUT event to the next state and actions.
func stepOut(state ControlState) (ControlState, action) {
	switch state {
	case ControlDataOut, ControlLastDataOut:
		return state, actRead
	case ControlStatusOut:
		return ControlIdle, actAck | actComplete
	default:
		return ControlIdle, actStall
	}
}

// stepOutRead advances the OUT data stage after a full packet was read.
// received includes the packet just read.
func stepOutRead(state ControlState, length, received, mps int) (ControlState, action) {
	if state == ControlDataOut {
		if length-received <= mps {
			return ControlLastDataOut, 0
		}
		return ControlDataOut, 0
	}
	return ControlStatusIn, actDispatch
}

// stepIn maps an IN event to the next state and actions.
func stepIn(state ControlState) (ControlState, action) {
	switch state {
	case ControlDataIn:
		return ControlDataIn, actSend
	case ControlLastDataIn:
		return ControlStatusOut, 0
	case ControlStatusIn:
		return ControlIdle, actComplete | actAddress
	default:
		return ControlIdle, actStall
	}
}

// outPacketSize returns the size of the next expected OUT data packet.
func outPacketSize(length, received, mps int) int {
	return min(mps, length-received)
}

// chunkIn returns the size of the next IN packet and the state that follows
// it. pending is the response data not yet sent and requested the part of
// wLength not yet covered. A final full-size packet shorter than the request
// keeps the engine in DATA_IN so a zero-length packet closes the stage.
func chunkIn(pending, requested, mps int) (int, ControlState) {
	if pending > mps {
		return mps, ControlDataIn
	}
	if pending == mps && pending < requested {
		return pending, ControlDataIn
	}
	return pending, ControlLastDataIn
}
