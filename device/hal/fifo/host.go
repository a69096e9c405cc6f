package fifo

import (
	"fmt"
	"time"

	"github.com/ardnew/usbserial/device/hal"
	"github.com/ardnew/usbserial/pkg"
)

// DefaultTimeout is how long a Host waits for the device to answer.
const DefaultTimeout = time.Second

// Host drives the bus side of an in-memory controller: it injects SETUP
// and OUT packets, collects IN packets and raises the matching events.
//
// If poll is set, the host calls it whenever it waits for the device, which
// lets a test run host and device in one goroutine. Otherwise the device is
// expected to poll from another goroutine.
type Host struct {
	hal     *HAL
	poll    func()
	timeout time.Duration
}

// NewHost creates a host for the controller.
func NewHost(h *HAL, poll func()) *Host {
	return &Host{hal: h, poll: poll, timeout: DefaultTimeout}
}

// SetTimeout sets how long the host waits for the device.
func (b *Host) SetTimeout(d time.Duration) {
	b.timeout = d
}

// Reset signals a bus reset.
func (b *Host) Reset() error {
	b.hal.mutex.Lock()
	b.hal.hasSetup = false
	for idx := range b.hal.endpoints {
		b.hal.endpoints[idx].in.reset()
		b.hal.endpoints[idx].out.reset()
	}
	err := b.hal.raise(hal.EventReset, 0, 0)
	b.hal.mutex.Unlock()
	if err != nil {
		return err
	}
	return b.await(func() bool { return b.hal.eventCount == 0 })
}

// Control runs a complete control transfer. For OUT requests data is the
// payload; for IN requests the received data is returned. A stalled
// transfer returns an error wrapping [pkg.ErrStall].
func (b *Host) Control(setup *hal.SetupPacket, data []byte) ([]byte, error) {
	var raw [hal.SetupPacketSize]byte
	setup.MarshalTo(raw[:])

	b.hal.mutex.Lock()
	ep0 := &b.hal.endpoints[0]
	ep0.stalled = [2]bool{}
	ep0.in.reset()
	ep0.out.reset()
	b.hal.setup = raw
	b.hal.hasSetup = true
	err := b.hal.raise(hal.EventSetup, 0x00, hal.SetupPacketSize)
	mps := b.hal.mps0
	b.hal.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	if err := b.await(func() bool { return !b.hal.hasSetup || ep0.stalled[0] }); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	b.hal.mutex.Lock()
	stalled := ep0.stalled[0]
	b.hal.mutex.Unlock()
	if stalled {
		return nil, fmt.Errorf("setup: %w", pkg.ErrStall)
	}

	switch {
	case setup.IsIn() && setup.Length > 0:
		resp, err := b.controlIn(int(setup.Length), mps)
		if err != nil {
			return nil, err
		}
		// Status stage: zero-length OUT.
		if err := b.sendOut(0, nil); err != nil {
			return nil, fmt.Errorf("status out: %w", err)
		}
		return resp, b.settle()

	default:
		for off := 0; off < int(setup.Length); off += mps {
			end := min(off+mps, int(setup.Length), len(data))
			if err := b.sendOut(0, data[off:end]); err != nil {
				return nil, fmt.Errorf("data out at %d: %w", off, err)
			}
		}
		// Status stage: zero-length IN.
		pkt, err := b.receiveIn(0)
		if err != nil {
			return nil, fmt.Errorf("status in: %w", err)
		}
		if len(pkt) != 0 {
			return nil, fmt.Errorf("status in of %d bytes: %w", len(pkt), pkg.ErrProtocol)
		}
		return nil, b.settle()
	}
}

// controlIn collects data stage packets until a short packet arrives or
// length bytes were received.
func (b *Host) controlIn(length, mps int) ([]byte, error) {
	resp := make([]byte, 0, length)
	for {
		pkt, err := b.receiveIn(0)
		if err != nil {
			return nil, fmt.Errorf("data in at %d: %w", len(resp), err)
		}
		resp = append(resp, pkt...)
		if len(pkt) < mps || len(resp) >= length {
			return resp, nil
		}
	}
}

// Write sends one packet to an OUT endpoint. Returns false if the
// endpoint NAKs (paused or its buffer is still full).
func (b *Host) Write(ep uint8, data []byte) (bool, error) {
	b.hal.mutex.Lock()
	e := &b.hal.endpoints[ep&0x0F]
	switch {
	case !e.configured:
		b.hal.mutex.Unlock()
		return false, pkg.ErrNotConfigured
	case e.stalled[0]:
		b.hal.mutex.Unlock()
		return false, pkg.ErrStall
	case e.nak || e.out.full():
		b.hal.mutex.Unlock()
		return false, nil
	}
	if len(data) > int(e.maxPacketSize()) {
		b.hal.mutex.Unlock()
		return false, pkg.ErrBufferTooSmall
	}
	n := e.out.push(data)
	err := b.hal.raise(hal.EventOut, ep&0x0F, n)
	b.hal.mutex.Unlock()
	if err != nil {
		return false, err
	}
	if b.poll != nil {
		b.poll()
	}
	return true, nil
}

// Read takes one packet from an IN endpoint. Returns false if the device
// has not queued a packet.
func (b *Host) Read(ep uint8) ([]byte, bool, error) {
	b.hal.mutex.Lock()
	e := &b.hal.endpoints[ep&0x0F]
	if e.stalled[1] {
		b.hal.mutex.Unlock()
		return nil, false, pkg.ErrStall
	}
	var buf [MaxPacketSize]byte
	n, ok := e.in.pop(buf[:])
	var err error
	if ok {
		err = b.hal.raise(hal.EventIn, ep|0x80, n)
	}
	b.hal.mutex.Unlock()
	if !ok || err != nil {
		return nil, false, err
	}
	if b.poll != nil {
		b.poll()
	}
	return append([]byte(nil), buf[:n]...), true, nil
}

// sendOut pushes an OUT packet on a control endpoint and waits for the
// device to consume it.
func (b *Host) sendOut(ep uint8, data []byte) error {
	b.hal.mutex.Lock()
	e := &b.hal.endpoints[ep]
	if e.stalled[0] {
		b.hal.mutex.Unlock()
		return pkg.ErrStall
	}
	e.out.reset()
	n := e.out.push(data)
	err := b.hal.raise(hal.EventOut, ep, n)
	b.hal.mutex.Unlock()
	if err != nil {
		return err
	}
	return b.await(func() bool { return e.stalled[0] || e.out.count == 0 })
}

// receiveIn waits for the device to queue an IN packet on a control
// endpoint and acknowledges it.
func (b *Host) receiveIn(ep uint8) ([]byte, error) {
	e := &b.hal.endpoints[ep]
	if err := b.await(func() bool { return e.stalled[1] || e.in.count > 0 }); err != nil {
		return nil, err
	}

	b.hal.mutex.Lock()
	defer b.hal.mutex.Unlock()
	if e.stalled[1] {
		return nil, pkg.ErrStall
	}
	var buf [MaxPacketSize]byte
	n, _ := e.in.pop(buf[:])
	if err := b.hal.raise(hal.EventIn, ep|0x80, n); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf[:n]...), nil
}

// settle waits until the device consumed every event and reports a stall
// raised while doing so.
func (b *Host) settle() error {
	if err := b.await(func() bool { return b.hal.eventCount == 0 }); err != nil {
		return err
	}
	b.hal.mutex.Lock()
	defer b.hal.mutex.Unlock()
	if b.hal.endpoints[0].stalled[0] {
		return pkg.ErrStall
	}
	return nil
}

// await polls the device until cond (evaluated with the mutex held) is true.
func (b *Host) await(cond func() bool) error {
	deadline := time.Now().Add(b.timeout)
	for {
		if b.poll != nil {
			b.poll()
		}
		b.hal.mutex.Lock()
		done := cond()
		b.hal.mutex.Unlock()
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return pkg.ErrTimeout
		}
		if b.poll == nil {
			time.Sleep(50 * time.Microsecond)
		}
	}
}
