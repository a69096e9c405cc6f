package device

import (
	"context"
	"sync"

	"github.com/ardnew/usbserial/device/hal"
	"github.com/ardnew/usbserial/pkg"
)

// EndpointCallback runs when a data endpoint raises an event.
// For OUT endpoints n is the received packet length; for IN endpoints it is
// the length of the packet the host acknowledged.
type EndpointCallback func(ep uint8, n int)

// Device is a USB device built around the endpoint 0 control engine.
//
// Events are consumed from the HAL by [Device.Poll] in a single goroutine.
// Accessors may be called from other goroutines.
type Device struct {
	hal    hal.DeviceHAL
	engine *Engine

	desc    DeviceDescriptor
	config  []byte
	strings [MaxStrings]string
	langID  uint16

	setConfig [MaxSetConfigCallbacks]SetConfigCallback

	outCallbacks [MaxEndpoints]EndpointCallback
	inCallbacks  [MaxEndpoints]EndpointCallback
	halted       [2][MaxEndpoints]bool

	endpoints     [2 * MaxEndpoints]hal.EndpointConfig
	endpointCount int

	state         State
	address       uint8
	configuration uint8
	remoteWakeup  bool
	onReset       func()

	mutex sync.RWMutex
}

// Init initializes the controller hardware.
func (d *Device) Init(ctx context.Context) error {
	if err := d.hal.Init(ctx); err != nil {
		return err
	}
	d.mutex.Lock()
	d.state = StatePowered
	d.mutex.Unlock()
	return nil
}

// Start attaches the device to the bus.
func (d *Device) Start() error {
	return d.hal.Start()
}

// Stop detaches the device from the bus.
func (d *Device) Stop() error {
	return d.hal.Stop()
}

// Poll handles every pending peripheral event.
// Returns the number of events handled.
func (d *Device) Poll() int {
	var ev hal.Event
	n := 0
	for d.hal.PollEvent(&ev) {
		d.HandleEvent(&ev)
		n++
	}
	return n
}

// HandleEvent routes a single peripheral event.
func (d *Device) HandleEvent(ev *hal.Event) {
	num := ev.Endpoint & 0x0F
	switch ev.Type {
	case hal.EventReset:
		d.Reset()
	case hal.EventSetup:
		d.engine.OnSetup(ev.Endpoint, ev.Length)
	case hal.EventOut:
		if num == 0 {
			d.engine.OnControlOut(ev.Endpoint, ev.Length)
			return
		}
		if cb := d.outCallbacks[num]; cb != nil {
			cb(ev.Endpoint, ev.Length)
		}
	case hal.EventIn:
		if num == 0 {
			d.engine.OnControlIn(ev.Endpoint, ev.Length)
			return
		}
		if cb := d.inCallbacks[num]; cb != nil {
			cb(ev.Endpoint, ev.Length)
		}
	}
}

// Reset handles a bus reset: the control engine returns to idle, the
// address and configuration are cleared and data endpoints are released.
func (d *Device) Reset() {
	d.engine.Reset()

	d.mutex.Lock()
	d.state = StateDefault
	d.address = 0
	d.configuration = 0
	d.remoteWakeup = false
	d.halted = [2][MaxEndpoints]bool{}
	cb := d.onReset
	d.mutex.Unlock()

	d.releaseEndpoints()

	if cb != nil {
		cb()
	}
	pkg.LogDebug(pkg.ComponentDevice, "bus reset")
}

// SetOnReset sets the bus reset callback.
func (d *Device) SetOnReset(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onReset = cb
}

// RegisterControlCallback adds a control request handler. See
// [Engine.RegisterControlCallback].
func (d *Device) RegisterControlCallback(typ, mask uint8, handler ControlHandler) error {
	return d.engine.RegisterControlCallback(typ, mask, handler)
}

// RegisterSetConfigCallback adds a callback that runs after every
// successful SET_CONFIGURATION with a non-zero value. Returns
// [pkg.ErrRegistryFull] if the table is full.
func (d *Device) RegisterSetConfigCallback(cb SetConfigCallback) error {
	if cb == nil {
		return pkg.ErrInvalidParameter
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for idx := range d.setConfig {
		if d.setConfig[idx] == nil {
			d.setConfig[idx] = cb
			return nil
		}
	}
	return pkg.ErrRegistryFull
}

// SetupEndpoint configures a data endpoint and its event callback.
func (d *Device) SetupEndpoint(address, attributes uint8, maxPacketSize uint16, interval uint8, cb EndpointCallback) error {
	num := address & 0x0F
	if num == 0 {
		return pkg.ErrInvalidEndpoint
	}

	d.mutex.Lock()
	if d.endpointCount >= len(d.endpoints) {
		d.mutex.Unlock()
		return pkg.ErrRegistryFull
	}
	d.endpoints[d.endpointCount] = hal.EndpointConfig{
		Address:       address,
		Attributes:    attributes,
		MaxPacketSize: maxPacketSize,
		Interval:      interval,
	}
	d.endpointCount++
	if address&EndpointDirectionIn != 0 {
		d.inCallbacks[num] = cb
	} else {
		d.outCallbacks[num] = cb
	}
	endpoints := d.endpoints[:d.endpointCount]
	d.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentDevice, "endpoint configured",
		"address", address, "type", attributes&0x03, "mps", maxPacketSize)

	return d.hal.ConfigureEndpoints(endpoints)
}

func (d *Device) releaseEndpoints() {
	d.mutex.Lock()
	d.endpointCount = 0
	d.outCallbacks = [MaxEndpoints]EndpointCallback{}
	d.inCallbacks = [MaxEndpoints]EndpointCallback{}
	d.mutex.Unlock()

	if err := d.hal.ConfigureEndpoints(nil); err != nil {
		pkg.LogWarn(pkg.ComponentDevice, "release endpoints", "error", err)
	}
}

// WritePacket queues one packet on an IN endpoint.
func (d *Device) WritePacket(ep uint8, data []byte) int {
	return d.hal.WritePacket(ep, data)
}

// ReadPacket reads the pending packet of an OUT endpoint.
func (d *Device) ReadPacket(ep uint8, buf []byte) int {
	return d.hal.ReadPacket(ep, buf)
}

// SetStall sets or clears the stall condition on an endpoint.
func (d *Device) SetStall(ep uint8, stalled bool) {
	num := ep & 0x0F
	if num != 0 {
		d.mutex.Lock()
		d.halted[ep>>7][num] = stalled
		d.mutex.Unlock()
	}
	d.hal.SetStall(ep, stalled)
}

// SetNAK pauses or resumes reception on an OUT endpoint.
func (d *Device) SetNAK(ep uint8, nak bool) {
	d.hal.SetNAK(ep, nak)
}

// WriteAvail returns the number of bytes the IN endpoint can accept now.
func (d *Device) WriteAvail(ep uint8) int {
	return d.hal.WriteAvail(ep)
}

// SetAddress applies a device address. The control engine calls it once
// the status stage of SET_ADDRESS completes.
func (d *Device) SetAddress(address uint8) {
	d.mutex.Lock()
	d.address = address
	if address == 0 {
		d.state = StateDefault
	} else {
		d.state = StateAddress
	}
	d.mutex.Unlock()

	d.hal.SetAddress(address)
	pkg.LogDebug(pkg.ComponentDevice, "device address set", "address", address)
}

// Engine returns the control transfer engine.
func (d *Device) Engine() *Engine {
	return d.engine
}

// Descriptor returns a copy of the device descriptor.
func (d *Device) Descriptor() DeviceDescriptor {
	return d.desc
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// Address returns the device address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Configuration returns the active configuration value (0 if unconfigured).
func (d *Device) Configuration() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.configuration
}

// IsConfigured returns true if the device is configured.
func (d *Device) IsConfigured() bool {
	return d.State() == StateConfigured
}

// IsHalted reports whether a data endpoint is halted.
func (d *Device) IsHalted(ep uint8) bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.halted[ep>>7][ep&0x0F]
}

// setConfiguration selects a configuration. The control callback table is
// flushed first so set-config callbacks register afresh.
func (d *Device) setConfiguration(value uint8) bool {
	if value != 0 && value != d.configValue() {
		return false
	}

	d.engine.ResetCallbacks()
	d.releaseEndpoints()

	d.mutex.Lock()
	d.configuration = value
	d.halted = [2][MaxEndpoints]bool{}
	if value == 0 {
		d.state = StateAddress
		d.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentDevice, "device unconfigured")
		return true
	}
	d.state = StateConfigured
	callbacks := d.setConfig
	d.mutex.Unlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(uint16(value))
		}
	}

	pkg.LogDebug(pkg.ComponentDevice, "device configured", "configuration", value)
	return true
}

func (d *Device) configValue() uint8 {
	if len(d.config) < ConfigurationDescriptorSize {
		return 0
	}
	return d.config[5]
}

// Builder provides a fluent API for building devices.
type Builder struct {
	hal        hal.DeviceHAL
	desc       DeviceDescriptor
	config     []byte
	strings    []string
	langID     uint16
	bufferSize int
	errors     []error
}

// NewBuilder creates a device builder for the given controller.
func NewBuilder(h hal.DeviceHAL) *Builder {
	return &Builder{
		hal: h,
		desc: DeviceDescriptor{
			USBVersion:        0x0200,
			MaxPacketSize0:    DefaultMaxPacketSize0,
			NumConfigurations: 1,
		},
		langID:     LangIDUSEnglish,
		bufferSize: DefaultControlBufferSize,
	}
}

// WithDescriptor sets the device descriptor.
func (b *Builder) WithDescriptor(desc DeviceDescriptor) *Builder {
	b.desc = desc
	if b.desc.MaxPacketSize0 == 0 {
		b.desc.MaxPacketSize0 = DefaultMaxPacketSize0
	}
	return b
}

// WithConfiguration sets the configuration descriptor set.
func (b *Builder) WithConfiguration(config *ConfigurationBuilder) *Builder {
	data, err := config.Bytes()
	if err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.config = data
	return b
}

// WithStrings sets the string descriptors, starting at index 1.
func (b *Builder) WithStrings(strings ...string) *Builder {
	if len(strings) >= MaxStrings {
		b.errors = append(b.errors, pkg.ErrBufferTooSmall)
		return b
	}
	b.strings = strings
	return b
}

// WithControlBuffer sets the control buffer capacity.
func (b *Builder) WithControlBuffer(size int) *Builder {
	if size < int(b.desc.MaxPacketSize0) {
		b.errors = append(b.errors, pkg.ErrInvalidParameter)
		return b
	}
	b.bufferSize = size
	return b
}

// Build returns the constructed device.
func (b *Builder) Build() (*Device, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if b.hal == nil || b.config == nil {
		return nil, pkg.ErrInvalidState
	}

	d := &Device{
		hal:    b.hal,
		desc:   b.desc,
		config: b.config,
		langID: b.langID,
		state:  StateAttached,
	}
	copy(d.strings[1:], b.strings)
	d.engine = NewEngine(d, d, b.bufferSize, int(b.desc.MaxPacketSize0))
	return d, nil
}
