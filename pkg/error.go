package pkg

import "errors"

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrProtocol indicates a malformed or out-of-sequence transaction.
	ErrProtocol = errors.New("protocol error")

	// ErrTimeout indicates an operation did not complete in time.
	ErrTimeout = errors.New("timeout")

	// ErrOverrun indicates unread receive data was overwritten.
	ErrOverrun = errors.New("data overrun")

	// ErrInvalidState indicates an operation is not valid in the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrRegistryFull indicates a fixed-capacity callback table has no free slot.
	ErrRegistryFull = errors.New("callback table full")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrAlreadyRunning indicates the component is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the component is not running.
	ErrNotRunning = errors.New("not running")

	// ErrClosed indicates the port or peripheral has been closed.
	ErrClosed = errors.New("closed")
)

// RequestResult is the verdict of a control request handler.
type RequestResult int

// Control request handler results.
const (
	RequestHandled      RequestResult = iota // Request served, stop dispatch
	RequestNotSupported                      // Request refused, stall
	RequestNext                              // Defer to the next matching handler
)

// String returns a string representation of the request result.
func (r RequestResult) String() string {
	switch r {
	case RequestHandled:
		return "handled"
	case RequestNotSupported:
		return "not supported"
	case RequestNext:
		return "next"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the request result.
func (r RequestResult) Error() error {
	switch r {
	case RequestHandled, RequestNext:
		return nil
	case RequestNotSupported:
		return ErrStall
	default:
		return ErrProtocol
	}
}
