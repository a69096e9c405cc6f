package fifo

import (
	"context"
	"sync"

	"github.com/ardnew/usbserial/device/hal"
	"github.com/ardnew/usbserial/pkg"
)

// MaxEndpoints is the number of endpoint numbers per direction, including EP0.
const MaxEndpoints = 16

// MaxPacketSize is the maximum packet size for any endpoint.
const MaxPacketSize = 64

// DefaultInDepth is the number of packets an IN endpoint buffers.
const DefaultInDepth = 2

// MaxEvents bounds the pending event queue.
const MaxEvents = 64

// packetQueue is a bounded FIFO of packets for one endpoint direction.
type packetQueue struct {
	packets [DefaultInDepth][MaxPacketSize]byte
	lengths [DefaultInDepth]int
	head    int
	count   int
	depth   int
}

func (q *packetQueue) full() bool { return q.count >= q.depth }

func (q *packetQueue) push(data []byte) int {
	if q.full() {
		return 0
	}
	slot := (q.head + q.count) % len(q.packets)
	n := copy(q.packets[slot][:], data)
	q.lengths[slot] = n
	q.count++
	return n
}

func (q *packetQueue) pop(buf []byte) (int, bool) {
	if q.count == 0 {
		return 0, false
	}
	n := copy(buf, q.packets[q.head][:q.lengths[q.head]])
	q.head = (q.head + 1) % len(q.packets)
	q.count--
	return n, true
}

func (q *packetQueue) reset() {
	q.head = 0
	q.count = 0
}

type endpoint struct {
	config     hal.EndpointConfig
	configured bool
	in         packetQueue
	out        packetQueue
	stalled    [2]bool // OUT, IN
	nak        bool
}

// HAL implements hal.DeviceHAL entirely in memory. Each endpoint has a
// small packet FIFO per direction; the bus side is driven by a [Host].
//
// All methods are safe for concurrent use.
type HAL struct {
	mutex sync.Mutex

	endpoints [MaxEndpoints]endpoint
	setup     [hal.SetupPacketSize]byte
	hasSetup  bool

	events     [MaxEvents]hal.Event
	eventHead  int
	eventCount int

	address uint8
	speed   hal.Speed
	mps0    int
	running bool
	inited  bool
}

// New creates an in-memory device controller with the given EP0 maximum
// packet size (64 if zero).
func New(mps0 int) *HAL {
	if mps0 <= 0 || mps0 > MaxPacketSize {
		mps0 = MaxPacketSize
	}
	h := &HAL{speed: hal.SpeedFull, mps0: mps0}
	h.resetEndpoints()
	return h
}

func (h *HAL) resetEndpoints() {
	for idx := range h.endpoints {
		ep := &h.endpoints[idx]
		*ep = endpoint{}
		ep.in.depth = DefaultInDepth
		ep.out.depth = 1
	}
	h.endpoints[0].configured = true
	h.endpoints[0].config = hal.EndpointConfig{MaxPacketSize: uint16(h.mps0)}
}

// Init initializes the controller.
func (h *HAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.inited {
		return pkg.ErrAlreadyRunning
	}
	h.inited = true
	return nil
}

// Start attaches to the bus.
func (h *HAL) Start() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.inited {
		return pkg.ErrNotRunning
	}
	h.running = true
	pkg.LogDebug(pkg.ComponentHAL, "fifo device attached")
	return nil
}

// Stop detaches from the bus.
func (h *HAL) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.running {
		return pkg.ErrNotRunning
	}
	h.running = false
	pkg.LogDebug(pkg.ComponentHAL, "fifo device detached")
	return nil
}

// Running reports whether the device is attached.
func (h *HAL) Running() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.running
}

// Speed returns the bus speed.
func (h *HAL) Speed() hal.Speed {
	return h.speed
}

// SetAddress records the device address.
func (h *HAL) SetAddress(address uint8) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.address = address
}

// Address returns the device address.
func (h *HAL) Address() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.address
}

// ConfigureEndpoints replaces the data endpoint configuration. Endpoints
// not listed are released and their FIFOs flushed.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var keep [MaxEndpoints]bool
	for _, cfg := range endpoints {
		num := cfg.Number()
		if num == 0 || cfg.MaxPacketSize > MaxPacketSize {
			return pkg.ErrInvalidEndpoint
		}
		keep[num] = true
	}
	for num := 1; num < MaxEndpoints; num++ {
		if !keep[num] {
			ep := &h.endpoints[num]
			ep.configured = false
			ep.in.reset()
			ep.out.reset()
			ep.stalled = [2]bool{}
			ep.nak = false
		}
	}
	for _, cfg := range endpoints {
		ep := &h.endpoints[cfg.Number()]
		ep.configured = true
		ep.config = cfg
	}
	return nil
}

// WritePacket queues one packet on an IN endpoint.
// Returns 0 if the endpoint FIFO is full or the endpoint is not configured.
func (h *HAL) WritePacket(ep uint8, data []byte) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	e := &h.endpoints[ep&0x0F]
	if !e.configured || e.in.full() {
		return 0
	}
	if len(data) > int(e.maxPacketSize()) {
		data = data[:e.maxPacketSize()]
	}
	return e.in.push(data)
}

// ReadPacket copies the pending packet of an OUT endpoint into buf.
// On EP0 a pending SETUP packet is returned first.
func (h *HAL) ReadPacket(ep uint8, buf []byte) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	num := ep & 0x0F
	if num == 0 && h.hasSetup {
		h.hasSetup = false
		return copy(buf, h.setup[:])
	}
	n, _ := h.endpoints[num].out.pop(buf)
	return n
}

// SetStall sets or clears the stall condition on an endpoint.
// Stalling EP0 stalls both directions.
func (h *HAL) SetStall(ep uint8, stalled bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	e := &h.endpoints[ep&0x0F]
	if ep&0x0F == 0 {
		e.stalled = [2]bool{stalled, stalled}
		if stalled {
			e.in.reset()
			e.out.reset()
		}
		return
	}
	e.stalled[ep>>7] = stalled
}

// SetNAK pauses or resumes reception on an OUT endpoint.
func (h *HAL) SetNAK(ep uint8, nak bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.endpoints[ep&0x0F].nak = nak
}

// WriteAvail returns the number of bytes that can be queued on an IN endpoint.
func (h *HAL) WriteAvail(ep uint8) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	e := &h.endpoints[ep&0x0F]
	if !e.configured {
		return 0
	}
	return (e.in.depth - e.in.count) * int(e.maxPacketSize())
}

// PollEvent retrieves the next pending event.
func (h *HAL) PollEvent(ev *hal.Event) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.eventCount == 0 {
		return false
	}
	*ev = h.events[h.eventHead]
	h.eventHead = (h.eventHead + 1) % MaxEvents
	h.eventCount--
	return true
}

// raise queues an event; the caller holds the mutex.
func (h *HAL) raise(typ hal.EventType, ep uint8, n int) error {
	if h.eventCount >= MaxEvents {
		return pkg.ErrBufferTooSmall
	}
	h.events[(h.eventHead+h.eventCount)%MaxEvents] = hal.Event{Type: typ, Endpoint: ep, Length: n}
	h.eventCount++
	return nil
}

func (e *endpoint) maxPacketSize() uint16 {
	if e.config.MaxPacketSize == 0 {
		return MaxPacketSize
	}
	return e.config.MaxPacketSize
}

// Compile-time interface check
var _ hal.DeviceHAL = (*HAL)(nil)
