package cdc_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbserial/device"
	"github.com/ardnew/usbserial/device/class/cdc"
	"github.com/ardnew/usbserial/device/hal"
	"github.com/ardnew/usbserial/device/hal/fifo"
	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/uart"
	"github.com/ardnew/usbserial/uart/hal/sim"
)

const (
	classOut = device.RequestDirectionHostToDevice | device.RequestTypeClass | device.RequestRecipientInterface
	classIn  = device.RequestDirectionDeviceToHost | device.RequestTypeClass | device.RequestRecipientInterface
)

type bench struct {
	serial *cdc.Serial
	dev    *device.Device
	host   *fifo.Host
	hw     *sim.UART
	drv    *uart.Driver
	now    time.Time
}

func newBench(t *testing.T, opts ...cdc.Option) *bench {
	t.Helper()

	h := fifo.New(64)
	dev, err := device.NewBuilder(h).
		WithDescriptor(cdc.DeviceDescriptor()).
		WithConfiguration(cdc.Configuration()).
		WithStrings(cdc.Strings("ABCDEFGHIJ")...).
		Build()
	require.NoError(t, err)

	hw := sim.New(0)
	drv := uart.New(hw, uart.Config{})
	require.NoError(t, drv.Init(context.Background()))

	b := &bench{dev: dev, hw: hw, drv: drv, now: time.Unix(1000, 0)}
	opts = append([]cdc.Option{cdc.WithClock(func() time.Time { return b.now })}, opts...)
	b.serial, err = cdc.New(dev, drv, opts...)
	require.NoError(t, err)

	require.NoError(t, dev.Init(context.Background()))
	require.NoError(t, dev.Start())
	b.host = fifo.NewHost(h, b.serial.Poll)
	require.NoError(t, b.host.Reset())
	_, err = b.control(device.RequestTypeStandard, device.RequestSetAddress, 7, 0, 0, nil)
	require.NoError(t, err)
	return b
}

// newConnected returns a configured bench with the initial notification
// already collected.
func newConnected(t *testing.T, opts ...cdc.Option) *bench {
	t.Helper()
	b := newBench(t, opts...)
	b.configure(t, 1)
	assert.Equal(t, uint16(0), b.notification(t))
	return b
}

func (b *bench) configure(t *testing.T, value uint16) {
	t.Helper()
	_, err := b.control(device.RequestTypeStandard, device.RequestSetConfiguration, value, 0, 0, nil)
	require.NoError(t, err)
}

func (b *bench) control(rt, req uint8, value, index, length uint16, data []byte) ([]byte, error) {
	return b.host.Control(&hal.SetupPacket{
		RequestType: rt,
		Request:     req,
		Value:       value,
		Index:       index,
		Length:      length,
	}, data)
}

// notification reads one SERIAL_STATE notification and returns its state.
func (b *bench) notification(t *testing.T) uint16 {
	t.Helper()
	pkt, ok, err := b.host.Read(cdc.EndpointCommIn)
	require.NoError(t, err)
	require.True(t, ok, "notification pending")
	require.Len(t, pkt, cdc.SerialStateSize)
	assert.Equal(t, []byte{0xA1, 0x20, 0, 0, 0, 0, 2, 0}, pkt[:8])
	return uint16(pkt[8]) | uint16(pkt[9])<<8
}

// packets reads every queued bulk IN packet.
func (b *bench) packets(t *testing.T) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		pkt, ok, err := b.host.Read(cdc.EndpointDataIn)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, pkt)
	}
}

// overrun laps the receive buffer between two polls.
func (b *bench) overrun() {
	b.hw.Receive(bytes.Repeat([]byte{0xAA}, 1000))
	b.serial.Poll()
	b.hw.Receive(bytes.Repeat([]byte{0xBB}, 1000))
	b.serial.Poll()
}

func TestSerial_Connect(t *testing.T) {
	b := newBench(t)
	assert.False(t, b.serial.Connected())
	assert.False(t, b.drv.Enabled())

	_, err := b.control(classIn, cdc.RequestGetLineCoding, 0, 0, 7, nil)
	assert.ErrorIs(t, err, pkg.ErrStall, "class requests need a configuration")

	b.configure(t, 1)
	assert.True(t, b.serial.Connected())
	assert.True(t, b.drv.Enabled())
	assert.True(t, b.serial.DTR())
	assert.Equal(t, uint16(0), b.notification(t), "initial serial state")

	_, ok, err := b.host.Read(cdc.EndpointCommIn)
	require.NoError(t, err)
	assert.False(t, ok, "state unchanged")
}

func TestSerial_Reconfigure(t *testing.T) {
	b := newConnected(t)

	b.configure(t, 0)
	assert.False(t, b.serial.Connected())
	_, err := b.control(classIn, cdc.RequestGetLineCoding, 0, 0, 7, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)

	b.configure(t, 1)
	assert.Equal(t, uint16(0), b.notification(t))
	resp, err := b.control(classIn, cdc.RequestGetLineCoding, 0, 0, 7, nil)
	require.NoError(t, err)
	assert.Len(t, resp, cdc.LineCodingSize)
}

func TestSerial_LineCoding(t *testing.T) {
	var applied []uart.LineCoding
	b := newConnected(t, cdc.WithOnLineCoding(func(c uart.LineCoding) { applied = append(applied, c) }))

	resp, err := b.control(classIn, cdc.RequestGetLineCoding, 0, 0, 64, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x25, 0, 0, 0, 0, 8}, resp, "9600 8N1")

	// 115200 7E1
	coding := []byte{0x00, 0xC2, 0x01, 0x00, 0, 2, 7}
	_, err = b.control(classOut, cdc.RequestSetLineCoding, 0, 0, 7, coding)
	require.NoError(t, err)
	assert.Equal(t, uint16(417), b.hw.Frame().Divider)
	assert.Equal(t, 8, b.hw.Frame().WordLength)
	assert.Equal(t, uart.ParityEven, b.drv.Parity())
	require.Len(t, applied, 1)
	assert.Equal(t, "115200 7E1", applied[0].String())

	resp, err = b.control(classIn, cdc.RequestGetLineCoding, 0, 0, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, coding, resp)
}

func TestSerial_LineCodingAlias(t *testing.T) {
	b := newConnected(t)

	_, err := b.control(classOut, cdc.RequestSetLineCoding, 0, 0, 7, []byte{75, 0, 0, 0, 0, 0, 8})
	require.NoError(t, err)

	resp, err := b.control(classIn, cdc.RequestGetLineCoding, 0, 0, 7, nil)
	require.NoError(t, err)
	var lc cdc.LineCoding
	require.NoError(t, cdc.ParseLineCoding(resp, &lc))
	assert.Equal(t, uint32(uart.AliasedBaudrate), lc.DTERate)
}

func TestSerial_LineCodingRejected(t *testing.T) {
	b := newConnected(t)

	tests := []struct {
		name   string
		index  uint16
		length uint16
		data   []byte
	}{
		{"7 data bits without parity", 0, 7, []byte{0x80, 0x25, 0, 0, 0, 0, 7}},
		{"6 data bits", 0, 7, []byte{0x80, 0x25, 0, 0, 0, 1, 6}},
		{"mark parity", 0, 7, []byte{0x80, 0x25, 0, 0, 0, 3, 8}},
		{"char format", 0, 7, []byte{0x80, 0x25, 0, 0, 3, 0, 8}},
		{"zero baud", 0, 7, []byte{0, 0, 0, 0, 0, 0, 8}},
		{"short", 0, 6, []byte{0x80, 0x25, 0, 0, 0, 0}},
		{"wrong interface", 1, 7, []byte{0x80, 0x25, 0, 0, 0, 0, 8}},
	}

	before := b.drv.Coding()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.control(classOut, cdc.RequestSetLineCoding, 0, tt.index, tt.length, tt.data)
			assert.ErrorIs(t, err, pkg.ErrStall)
			assert.Equal(t, before, b.drv.Coding())
		})
	}

	_, err := b.control(classIn, cdc.RequestGetLineCoding, 0, 0, 6, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)
	_, err = b.control(classOut, cdc.RequestSendBreak, 100, 0, 0, nil)
	assert.ErrorIs(t, err, pkg.ErrStall, "unhandled requests stall")
}

func TestSerial_ControlLineState(t *testing.T) {
	var calls int
	b := newConnected(t, cdc.WithOnControlLine(func(dtr, rts bool) { calls++ }))

	_, err := b.control(classOut, cdc.RequestSetControlLineState, 0, 0, 0, nil)
	require.NoError(t, err)
	assert.False(t, b.serial.DTR())
	assert.False(t, b.serial.RTS())

	_, err = b.control(classOut, cdc.RequestSetControlLineState, cdc.ControlLineDTR|cdc.ControlLineRTS, 0, 0, nil)
	require.NoError(t, err)
	assert.True(t, b.serial.DTR())
	assert.True(t, b.serial.RTS())
	assert.Equal(t, 2, calls)
}

func TestSerial_DataOut(t *testing.T) {
	b := newConnected(t)
	b.hw.AutoComplete = true

	ok, err := b.host.Write(cdc.EndpointDataOut, []byte("hello"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), b.hw.Sent())
}

func TestSerial_DataOutFlowControl(t *testing.T) {
	b := newConnected(t)
	packet := bytes.Repeat([]byte{0x5A}, cdc.PacketSize)

	// 1023 free bytes: the 14th packet leaves less than two packets of room.
	for idx := 0; idx < 14; idx++ {
		ok, err := b.host.Write(cdc.EndpointDataOut, packet)
		require.NoError(t, err)
		require.True(t, ok, "packet %d", idx)
	}
	assert.Less(t, b.drv.TxDataAvail(), cdc.TxHighWater)

	ok, err := b.host.Write(cdc.EndpointDataOut, packet)
	require.NoError(t, err)
	assert.False(t, ok, "paused")

	require.True(t, b.hw.CompleteTx())
	b.serial.Poll()
	assert.GreaterOrEqual(t, b.drv.TxDataAvail(), cdc.TxHighWater)

	ok, err = b.host.Write(cdc.EndpointDataOut, packet)
	require.NoError(t, err)
	assert.True(t, ok, "resumed")
}

func TestSerial_DataInHoldback(t *testing.T) {
	b := newConnected(t)

	b.hw.Receive([]byte("abc"))
	b.serial.Poll()
	assert.Equal(t, [][]byte{[]byte("abc")}, b.packets(t), "first bytes go out at once")

	b.hw.Receive([]byte("de"))
	b.serial.Poll()
	assert.Empty(t, b.packets(t), "held back")

	b.now = b.now.Add(2 * time.Millisecond)
	b.serial.Poll()
	assert.Empty(t, b.packets(t))

	b.now = b.now.Add(time.Millisecond)
	b.serial.Poll()
	assert.Equal(t, [][]byte{[]byte("de")}, b.packets(t))

	data := []byte("0123456789ABCDEF")
	b.hw.Receive(data)
	b.serial.Poll()
	assert.Equal(t, [][]byte{data}, b.packets(t), "a full chunk is not held back")
}

func TestSerial_DataInZeroLengthPacket(t *testing.T) {
	b := newConnected(t)

	data := bytes.Repeat([]byte{'z'}, 2*cdc.PacketSize)
	b.hw.Receive(data)
	b.serial.Poll()

	pkts := b.packets(t)
	require.Len(t, pkts, 3)
	assert.Equal(t, data[:64], pkts[0])
	assert.Equal(t, data[64:], pkts[1])
	assert.Empty(t, pkts[2], "transfer terminated")

	b.serial.Poll()
	assert.Empty(t, b.packets(t), "a single terminator")
}

func TestSerial_DataInStream(t *testing.T) {
	b := newConnected(t)

	data := make([]byte, 200)
	for idx := range data {
		data[idx] = byte(idx)
	}
	b.hw.Receive(data)
	b.serial.Poll()

	var got []byte
	for _, pkt := range b.packets(t) {
		assert.NotEmpty(t, pkt, "no terminator inside a stream")
		got = append(got, pkt...)
	}
	assert.Equal(t, data, got)
}

func TestSerial_Overrun(t *testing.T) {
	b := newConnected(t)

	b.overrun()
	assert.Equal(t, uint16(cdc.SerialStateOverrun), b.notification(t))

	b.serial.Poll()
	_, ok, err := b.host.Read(cdc.EndpointCommIn)
	require.NoError(t, err)
	assert.False(t, ok, "reported once")
}

func TestSerial_OverrunRetry(t *testing.T) {
	b := newBench(t)
	b.configure(t, 1)

	// The initial notification stays queued; two overruns fill the
	// endpoint and the second report has to wait.
	b.overrun()
	b.overrun()

	assert.Equal(t, uint16(0), b.notification(t))
	assert.Equal(t, uint16(cdc.SerialStateOverrun), b.notification(t))
	assert.Equal(t, uint16(cdc.SerialStateOverrun), b.notification(t), "sent once the endpoint had room")

	_, ok, err := b.host.Read(cdc.EndpointCommIn)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSerial_ModemLines(t *testing.T) {
	var dcd bool
	b := newBench(t, cdc.WithModemLines(func() (bool, bool) { return dcd, true }))
	b.configure(t, 1)
	assert.Equal(t, uint16(cdc.SerialStateTxCarrier), b.notification(t))

	dcd = true
	b.serial.Poll()
	assert.Equal(t, uint16(cdc.SerialStateRxCarrier|cdc.SerialStateTxCarrier), b.notification(t))

	b.serial.Poll()
	_, ok, err := b.host.Read(cdc.EndpointCommIn)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	_, err := cdc.New(nil, nil)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}
