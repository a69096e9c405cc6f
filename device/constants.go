package device

import "fmt"

// Maximum limits for fixed-size tables.
const (
	// MaxEndpoints is the number of endpoint numbers per direction.
	MaxEndpoints = 16

	// MaxStrings is the maximum number of string descriptors per device,
	// including the language table at index 0.
	MaxStrings = 16
)

// Device states as defined in USB 2.0 specification section 9.1.
const (
	StateAttached   State = 0 // Device is attached but not powered
	StatePowered    State = 1 // Device is powered
	StateDefault    State = 2 // Device has been reset, using default address
	StateAddress    State = 3 // Device has been assigned a unique address
	StateConfigured State = 4 // Device is configured and operational
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateAttached:
		return "Attached"
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// Device status bits returned by GET_STATUS.
const (
	StatusSelfPowered  = 1 << 0 // Device is self-powered
	StatusRemoteWakeup = 1 << 1 // Remote wakeup enabled
	StatusHalt         = 1 << 0 // Endpoint halted
)
