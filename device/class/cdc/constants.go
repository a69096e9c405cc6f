package cdc

// CDC Functional Descriptor subtypes.
const (
	SubtypeHeader         = 0x00 // Header Functional Descriptor
	SubtypeCallManagement = 0x01 // Call Management Functional Descriptor
	SubtypeACM            = 0x02 // Abstract Control Model Functional Descriptor
	SubtypeUnion          = 0x06 // Union Functional Descriptor
)

// CDC Subclass codes.
const (
	SubclassNone = 0x00 // No subclass
	SubclassACM  = 0x02 // Abstract Control Model
)

// CDC Protocol codes.
const (
	ProtocolNone = 0x00 // No protocol
	ProtocolAT   = 0x01 // AT Commands: V.250
)

// CDC Request codes.
const (
	RequestSetLineCoding       = 0x20
	RequestGetLineCoding       = 0x21
	RequestSetControlLineState = 0x22
	RequestSendBreak           = 0x23
)

// CDC Notification codes.
const (
	NotificationSerialState = 0x20
)

// Control line state bits (for SET_CONTROL_LINE_STATE).
const (
	ControlLineDTR = 1 << 0 // Data Terminal Ready
	ControlLineRTS = 1 << 1 // Request To Send
)

// Serial state bits (for SERIAL_STATE notification).
const (
	SerialStateRxCarrier = 1 << 0 // DCD (Data Carrier Detect)
	SerialStateTxCarrier = 1 << 1 // DSR (Data Set Ready)
	SerialStateOverrun   = 1 << 6 // Overrun error

	// serialStateLines are the bits that reflect steady line levels rather
	// than one-shot events.
	serialStateLines = SerialStateRxCarrier | SerialStateTxCarrier
)

// ACM capability bits.
const (
	ACMCapCommFeature = 1 << 0 // Supports Set/Get/Clear Comm Feature
	ACMCapLineCoding  = 1 << 1 // Supports Set/Get Line Coding and Set Control Line State
	ACMCapSendBreak   = 1 << 2 // Supports Send Break
)

// Interface numbers. The communication interface must immediately precede
// the data interface so a single association covers both.
const (
	InterfaceComm = 0
	InterfaceData = 1
)

// Endpoint addresses and sizes.
const (
	EndpointDataOut = 0x01
	EndpointDataIn  = 0x81
	EndpointCommIn  = 0x82

	// PacketSize is the bulk endpoint maximum packet size.
	PacketSize = 64

	// NotificationPacketSize is the interrupt endpoint maximum packet size.
	NotificationPacketSize = 16

	// NotificationInterval is the interrupt endpoint polling interval in
	// frames.
	NotificationInterval = 255
)

// Bridge tuning.
const (
	// TxHighWater is the free transmit buffer space below which the bulk
	// OUT endpoint is paused.
	TxHighWater = 2 * PacketSize

	// MinInPacket is the amount of received data that is sent to the host
	// without waiting for the holdback time to pass.
	MinInPacket = 16
)

// SerialStateSize is the size of a SERIAL_STATE notification.
const SerialStateSize = 10
