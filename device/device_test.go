package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbserial/device/hal"
	"github.com/ardnew/usbserial/device/hal/fifo"
	"github.com/ardnew/usbserial/pkg"
)

type testBench struct {
	dev  *Device
	hal  *fifo.HAL
	host *fifo.Host
}

func newTestBench(t *testing.T) *testBench {
	t.Helper()

	config := NewConfigurationBuilder(1, 0, 50).
		Append(&InterfaceDescriptor{InterfaceNumber: 0, NumEndpoints: 2, InterfaceClass: ClassVendor}).
		Append(&EndpointDescriptor{EndpointAddress: 0x81, Attributes: EndpointTypeBulk, MaxPacketSize: 64}).
		Append(&EndpointDescriptor{EndpointAddress: 0x01, Attributes: EndpointTypeBulk, MaxPacketSize: 64})

	h := fifo.New(64)
	dev, err := NewBuilder(h).
		WithDescriptor(DeviceDescriptor{
			USBVersion:        0x0200,
			MaxPacketSize0:    64,
			VendorID:          0x1209,
			ProductID:         0x0001,
			ManufacturerIndex: 1,
			ProductIndex:      2,
			NumConfigurations: 1,
		}).
		WithConfiguration(config).
		WithStrings("Maker", "Widget").
		Build()
	require.NoError(t, err)

	require.NoError(t, dev.Init(context.Background()))
	require.NoError(t, dev.Start())
	assert.Equal(t, StatePowered, dev.State())

	host := fifo.NewHost(h, func() { dev.Poll() })
	require.NoError(t, host.Reset())
	assert.Equal(t, StateDefault, dev.State())

	return &testBench{dev: dev, hal: h, host: host}
}

func (b *testBench) control(rt, req uint8, value, index, length uint16, data []byte) ([]byte, error) {
	return b.host.Control(&hal.SetupPacket{
		RequestType: rt,
		Request:     req,
		Value:       value,
		Index:       index,
		Length:      length,
	}, data)
}

// configure selects configuration 1 with a callback that opens the bulk
// endpoints and returns the values the callback observed.
func (b *testBench) configure(t *testing.T) *[]uint16 {
	t.Helper()
	var seen []uint16
	require.NoError(t, b.dev.RegisterSetConfigCallback(func(value uint16) {
		seen = append(seen, value)
		require.NoError(t, b.dev.SetupEndpoint(0x81, EndpointTypeBulk, 64, 0, nil))
		require.NoError(t, b.dev.SetupEndpoint(0x01, EndpointTypeBulk, 64, 0, nil))
	}))
	_, err := b.control(0x00, RequestSetConfiguration, 1, 0, 0, nil)
	require.NoError(t, err)
	return &seen
}

func TestDevice_GetDeviceDescriptor(t *testing.T) {
	b := newTestBench(t)

	data, err := b.control(0x80, RequestGetDescriptor, 0x0100, 0, 18, nil)
	require.NoError(t, err)
	require.Len(t, data, DeviceDescriptorSize)

	var desc DeviceDescriptor
	require.NoError(t, ParseDeviceDescriptor(data, &desc))
	assert.Equal(t, uint16(0x1209), desc.VendorID)
	assert.Equal(t, uint8(64), desc.MaxPacketSize0)

	short, err := b.control(0x80, RequestGetDescriptor, 0x0100, 0, 8, nil)
	require.NoError(t, err)
	assert.Equal(t, data[:8], short)
}

func TestDevice_SetAddress(t *testing.T) {
	b := newTestBench(t)

	_, err := b.control(0x00, RequestSetAddress, 7, 0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), b.dev.Address())
	assert.Equal(t, uint8(7), b.hal.Address())
	assert.Equal(t, StateAddress, b.dev.State())

	_, err = b.control(0x00, RequestSetAddress, 200, 0, 0, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)
	assert.Equal(t, uint8(7), b.dev.Address())
}

func TestDevice_GetConfigurationDescriptor(t *testing.T) {
	b := newTestBench(t)

	header, err := b.control(0x80, RequestGetDescriptor, 0x0200, 0, ConfigurationDescriptorSize, nil)
	require.NoError(t, err)

	var cfg ConfigurationDescriptor
	require.NoError(t, ParseConfigurationDescriptor(header, &cfg))
	assert.Equal(t, uint8(1), cfg.NumInterfaces)

	full, err := b.control(0x80, RequestGetDescriptor, 0x0200, 0, 255, nil)
	require.NoError(t, err)
	assert.Len(t, full, int(cfg.TotalLength))
	assert.Equal(t, header, full[:ConfigurationDescriptorSize])

	_, err = b.control(0x80, RequestGetDescriptor, 0x0201, 0, 255, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestDevice_GetStringDescriptor(t *testing.T) {
	b := newTestBench(t)

	lang, err := b.control(0x80, RequestGetDescriptor, 0x0300, 0, 255, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, DescriptorTypeString, 0x09, 0x04}, lang)

	product, err := b.control(0x80, RequestGetDescriptor, 0x0302, LangIDUSEnglish, 255, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{14, DescriptorTypeString,
		'W', 0, 'i', 0, 'd', 0, 'g', 0, 'e', 0, 't', 0}, product)

	tests := []struct {
		name  string
		value uint16
		index uint16
	}{
		{"wrong language", 0x0301, 0x0407},
		{"missing string", 0x0303, LangIDUSEnglish},
		{"out of range", 0x03FF, LangIDUSEnglish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.control(0x80, RequestGetDescriptor, tt.value, tt.index, 255, nil)
			assert.ErrorIs(t, err, pkg.ErrStall)
		})
	}
}

func TestDevice_SetConfiguration(t *testing.T) {
	b := newTestBench(t)

	flushed := false
	require.NoError(t, b.dev.RegisterControlCallback(RequestTypeVendor, RequestTypeTypeMask,
		func(*SetupPacket, *ControlBuffer) pkg.RequestResult {
			flushed = true
			return pkg.RequestHandled
		}))
	require.Equal(t, 1, b.dev.Engine().registry.Len())

	seen := b.configure(t)
	assert.Equal(t, []uint16{1}, *seen)
	assert.True(t, b.dev.IsConfigured())
	assert.Equal(t, uint8(1), b.dev.Configuration())
	assert.Zero(t, b.dev.Engine().registry.Len(), "control callbacks are flushed")

	_, err := b.control(0xC0, 0x01, 0, 0, 0, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)
	assert.False(t, flushed)

	value, err := b.control(0x80, RequestGetConfiguration, 0, 0, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, value)

	_, err = b.control(0x00, RequestSetConfiguration, 2, 0, 0, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)
	assert.Equal(t, uint8(1), b.dev.Configuration())

	_, err = b.control(0x00, RequestSetConfiguration, 0, 0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, StateAddress, b.dev.State())
	assert.Equal(t, []uint16{1}, *seen, "unconfigure runs no callbacks")
}

func TestDevice_RegisterSetConfigCallback_Full(t *testing.T) {
	b := newTestBench(t)
	for idx := 0; idx < MaxSetConfigCallbacks; idx++ {
		require.NoError(t, b.dev.RegisterSetConfigCallback(func(uint16) {}))
	}
	assert.ErrorIs(t, b.dev.RegisterSetConfigCallback(func(uint16) {}), pkg.ErrRegistryFull)
	assert.ErrorIs(t, b.dev.RegisterSetConfigCallback(nil), pkg.ErrInvalidParameter)
}

func TestDevice_GetStatus(t *testing.T) {
	b := newTestBench(t)

	status, err := b.control(0x80, RequestGetStatus, 0, 0, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, status)

	_, err = b.control(0x00, RequestSetFeature, FeatureDeviceRemoteWakeup, 0, 0, nil)
	require.NoError(t, err)
	status, err = b.control(0x80, RequestGetStatus, 0, 0, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{StatusRemoteWakeup, 0}, status)

	_, err = b.control(0x00, RequestClearFeature, FeatureDeviceRemoteWakeup, 0, 0, nil)
	require.NoError(t, err)
	status, err = b.control(0x80, RequestGetStatus, 0, 0, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, status)
}

func TestDevice_InterfaceRequests(t *testing.T) {
	b := newTestBench(t)

	_, err := b.control(0x81, RequestGetInterface, 0, 0, 1, nil)
	assert.ErrorIs(t, err, pkg.ErrStall, "unconfigured")

	b.configure(t)

	alt, err := b.control(0x81, RequestGetInterface, 0, 0, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, alt)

	_, err = b.control(0x01, RequestSetInterface, 0, 0, 0, nil)
	assert.NoError(t, err)
	_, err = b.control(0x01, RequestSetInterface, 1, 0, 0, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)
	_, err = b.control(0x81, RequestGetInterface, 0, 3, 1, nil)
	assert.ErrorIs(t, err, pkg.ErrStall, "unknown interface")
}

func TestDevice_EndpointHalt(t *testing.T) {
	b := newTestBench(t)
	b.configure(t)

	_, err := b.control(0x02, RequestSetFeature, FeatureEndpointHalt, 0x81, 0, nil)
	require.NoError(t, err)
	assert.True(t, b.dev.IsHalted(0x81))

	status, err := b.control(0x82, RequestGetStatus, 0, 0x81, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{StatusHalt, 0}, status)

	_, _, err = b.host.Read(0x81)
	assert.ErrorIs(t, err, pkg.ErrStall)

	_, err = b.control(0x02, RequestClearFeature, FeatureEndpointHalt, 0x81, 0, nil)
	require.NoError(t, err)
	assert.False(t, b.dev.IsHalted(0x81))

	_, err = b.control(0x02, RequestSetFeature, FeatureEndpointHalt, 0x83, 0, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestDevice_DataEndpoints(t *testing.T) {
	b := newTestBench(t)

	var received []byte
	var acked []int
	require.NoError(t, b.dev.RegisterSetConfigCallback(func(uint16) {
		require.NoError(t, b.dev.SetupEndpoint(0x01, EndpointTypeBulk, 64, 0, func(ep uint8, n int) {
			buf := make([]byte, n)
			received = append(received, buf[:b.dev.ReadPacket(ep, buf)]...)
		}))
		require.NoError(t, b.dev.SetupEndpoint(0x81, EndpointTypeBulk, 64, 0, func(_ uint8, n int) {
			acked = append(acked, n)
		}))
	}))
	_, err := b.control(0x00, RequestSetConfiguration, 1, 0, 0, nil)
	require.NoError(t, err)

	ok, err := b.host.Write(0x01, []byte("hello"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), received)

	assert.Equal(t, 2*64, b.dev.WriteAvail(0x81))
	require.Equal(t, 3, b.dev.WritePacket(0x81, []byte("abc")))
	assert.Equal(t, 64, b.dev.WriteAvail(0x81))

	pkt, ok, err := b.host.Read(0x81)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), pkt)
	assert.Equal(t, []int{3}, acked)

	_, ok, err = b.host.Read(0x81)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDevice_Reset(t *testing.T) {
	b := newTestBench(t)

	resets := 0
	b.dev.SetOnReset(func() { resets++ })

	_, err := b.control(0x00, RequestSetAddress, 9, 0, 0, nil)
	require.NoError(t, err)
	b.configure(t)
	require.True(t, b.dev.IsConfigured())

	require.NoError(t, b.host.Reset())
	assert.Equal(t, 1, resets)
	assert.Equal(t, StateDefault, b.dev.State())
	assert.Zero(t, b.dev.Address())
	assert.Zero(t, b.dev.Configuration())
	assert.Equal(t, ControlIdle, b.dev.Engine().State())

	_, err = b.host.Write(0x01, []byte{1})
	assert.ErrorIs(t, err, pkg.ErrNotConfigured)
}

func TestBuilder_Errors(t *testing.T) {
	_, err := NewBuilder(fifo.New(64)).Build()
	assert.ErrorIs(t, err, pkg.ErrInvalidState)

	_, err = NewBuilder(fifo.New(64)).
		WithConfiguration(NewConfigurationBuilder(1, 0, 50)).
		WithControlBuffer(8).
		Build()
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)

	dev, err := NewBuilder(fifo.New(64)).
		WithConfiguration(NewConfigurationBuilder(1, 0, 50)).
		WithControlBuffer(512).
		Build()
	require.NoError(t, err)
	assert.Equal(t, 512, dev.Engine().BufferSize())
	assert.Equal(t, DefaultMaxPacketSize0, dev.Engine().MaxPacketSize())
	assert.Equal(t, StateAttached, dev.State())
}
