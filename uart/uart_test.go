package uart_test

import (
	"bytes"
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/uart"
	"github.com/ardnew/usbserial/uart/hal/sim"
)

func newDriver(t *testing.T, size int) (*uart.Driver, *sim.UART) {
	t.Helper()
	hw := sim.New(0)
	drv := uart.New(hw, uart.Config{TxBufferSize: size, RxBufferSize: size})
	require.NoError(t, drv.Init(context.Background()))
	require.NoError(t, drv.Enable())
	return drv, hw
}

// drain completes transmit chunks until the driver has nothing left.
func drain(drv *uart.Driver, hw *sim.UART) {
	for i := 0; i < 1000 && drv.TxPending() > 0; i++ {
		hw.CompleteTx()
		drv.Poll()
	}
}

func TestDriver_Enable(t *testing.T) {
	drv, hw := newDriver(t, 16)

	assert.True(t, drv.Enabled())
	assert.True(t, hw.Enabled())
	assert.Equal(t, uart.DefaultLineCoding, drv.Coding())
	assert.Equal(t, uint16(5000), hw.Frame().Divider)
	assert.Equal(t, 8, hw.Frame().WordLength)

	hw.Receive([]byte("abc"))
	require.NoError(t, drv.Enable())
	assert.Equal(t, 3, drv.RxDataLen(), "repeated enable keeps state")
}

func TestDriver_EnableBeforeInit(t *testing.T) {
	drv := uart.New(sim.New(0), uart.Config{})
	assert.ErrorIs(t, drv.Enable(), pkg.ErrNotRunning)
	assert.False(t, drv.Enabled())
}

func TestDriver_Receive(t *testing.T) {
	drv, hw := newDriver(t, 16)

	assert.Zero(t, drv.CopyRxData(make([]byte, 8)))

	hw.Receive([]byte("hello"))
	assert.Equal(t, 5, drv.RxDataLen())

	buf := make([]byte, 3)
	require.Equal(t, 3, drv.CopyRxData(buf))
	assert.Equal(t, []byte("hel"), buf)
	assert.Equal(t, 2, drv.RxDataLen())

	require.Equal(t, 2, drv.CopyRxData(buf))
	assert.Equal(t, []byte("lo"), buf[:2])
	assert.Zero(t, drv.RxDataLen())
}

func TestDriver_ReceiveWrap(t *testing.T) {
	drv, hw := newDriver(t, 16)

	hw.Receive(bytes.Repeat([]byte{'x'}, 10))
	require.Equal(t, 10, drv.CopyRxData(make([]byte, 16)))

	data := []byte("0123456789")
	hw.Receive(data)
	drv.Poll()
	assert.Equal(t, 10, drv.RxDataLen())

	buf := make([]byte, 16)
	require.Equal(t, 10, drv.CopyRxData(buf))
	assert.Equal(t, data, buf[:10])
	assert.False(t, drv.HasRxOverrunOccurred())
}

func TestDriver_Overrun(t *testing.T) {
	drv, hw := newDriver(t, 16)

	hw.Receive(bytes.Repeat([]byte{1}, 10))
	drv.Poll()
	assert.False(t, drv.HasRxOverrunOccurred())

	// 20 bytes into 16 without reading: DMA laps the read position.
	hw.Receive(bytes.Repeat([]byte{2}, 10))
	drv.Poll()
	assert.True(t, drv.HasRxOverrunOccurred())
	assert.False(t, drv.HasRxOverrunOccurred(), "reported once")
	assert.Zero(t, drv.RxDataLen(), "unread data discarded")

	drv.Poll()
	assert.False(t, drv.HasRxOverrunOccurred())

	hw.Receive([]byte("ok"))
	drv.Poll()
	assert.False(t, drv.HasRxOverrunOccurred())
	buf := make([]byte, 4)
	require.Equal(t, 2, drv.CopyRxData(buf))
	assert.Equal(t, []byte("ok"), buf[:2])
}

func TestDriver_OverrunAfterPartialRead(t *testing.T) {
	drv, hw := newDriver(t, 16)

	hw.Receive(bytes.Repeat([]byte{1}, 12))
	require.Equal(t, 2, drv.CopyRxData(make([]byte, 2)))

	hw.Receive(bytes.Repeat([]byte{2}, 8))
	drv.Poll()
	assert.True(t, drv.HasRxOverrunOccurred())
	assert.False(t, drv.HasRxOverrunOccurred())
}

// A single lap starting from an empty ring leaves more unread data than
// the previous sample, so it reads as the tail of the stream.
func TestDriver_LapFromEmptyUnnoticed(t *testing.T) {
	drv, hw := newDriver(t, 16)

	drv.Poll()
	hw.Receive(append(bytes.Repeat([]byte{1}, 16), 2, 3, 4, 5))
	drv.Poll()
	assert.False(t, drv.HasRxOverrunOccurred())
	require.Equal(t, 4, drv.RxDataLen())

	buf := make([]byte, 8)
	require.Equal(t, 4, drv.CopyRxData(buf))
	assert.Equal(t, []byte{2, 3, 4, 5}, buf[:4])
}

func TestDriver_RingInvariant(t *testing.T) {
	const size = 32
	drv, hw := newDriver(t, size)
	rng := rand.New(rand.NewPCG(1, 2))

	var next byte
	var expect []byte
	for step := 0; step < 5000; step++ {
		if rng.IntN(2) == 0 {
			room := size - 1 - len(expect)
			n := rng.IntN(room + 1)
			chunk := make([]byte, n)
			for idx := range chunk {
				chunk[idx] = next
				next++
			}
			hw.Receive(chunk)
			expect = append(expect, chunk...)
		} else {
			buf := make([]byte, rng.IntN(size))
			n := drv.CopyRxData(buf)
			require.LessOrEqual(t, n, len(expect))
			require.Equal(t, expect[:n], buf[:n])
			expect = expect[n:]
		}
		drv.Poll()
		require.Equal(t, len(expect), drv.RxDataLen())
		require.LessOrEqual(t, drv.RxDataLen(), size-1)
		require.False(t, drv.HasRxOverrunOccurred())
	}
}

func TestDriver_SevenBitMasking(t *testing.T) {
	drv, hw := newDriver(t, 16)
	hw.AutoComplete = true

	require.NoError(t, drv.SetCoding(9600, 7, uart.StopBits1, uart.ParityEven))
	assert.Equal(t, 8, hw.Frame().WordLength)

	hw.Receive([]byte{0xFF, 0x80, 0x41})
	buf := make([]byte, 3)
	require.Equal(t, 3, drv.CopyRxData(buf))
	assert.Equal(t, []byte{0x7F, 0x00, 0x41}, buf)

	require.Equal(t, 2, drv.Transmit([]byte{0xC1, 0x7E}))
	drv.Poll()
	assert.Equal(t, []byte{0x41, 0x7E}, hw.Sent())
}

func TestDriver_Transmit(t *testing.T) {
	drv, hw := newDriver(t, 16)
	data := []byte("ABCDEFGHIJKLMNOPQRST")

	assert.Equal(t, 15, drv.TxDataAvail())
	require.Equal(t, 15, drv.Transmit(data), "one slot stays free")
	assert.Zero(t, drv.TxDataAvail())
	assert.Zero(t, drv.Transmit(data[15:]))
	assert.True(t, hw.Busy())

	drain(drv, hw)
	assert.Equal(t, data[:15], hw.Sent())
	assert.Equal(t, 15, drv.TxDataAvail())

	// Head is at 15: the next write wraps around the end of the buffer.
	require.Equal(t, 5, drv.Transmit(data[15:]))
	drain(drv, hw)
	assert.Equal(t, data[15:], hw.Sent())
	assert.Equal(t, []int{15, 1, 4}, hw.Chunks())
}

func TestDriver_TransmitChunkLimit(t *testing.T) {
	drv, hw := newDriver(t, 64)
	assert.Equal(t, uart.MinTxChunk, drv.TxMaxChunk())

	data := bytes.Repeat([]byte{0x55}, 40)
	require.Equal(t, 40, drv.Transmit(data))
	drain(drv, hw)
	assert.Equal(t, []int{16, 16, 8}, hw.Chunks())
	assert.Equal(t, data, hw.Sent())
}

func TestDriver_SetCoding(t *testing.T) {
	drv, hw := newDriver(t, 16)

	require.NoError(t, drv.SetCoding(921600, 8, uart.StopBits1, uart.ParityNone))
	assert.Equal(t, uint32(921600), drv.Baudrate())
	assert.Equal(t, 92, drv.TxMaxChunk())
	assert.Equal(t, uint16(52), hw.Frame().Divider)
	assert.True(t, hw.Enabled())

	require.NoError(t, drv.SetCoding(uart.AliasBaudrate, 8, uart.StopBits2, uart.ParityOdd))
	assert.Equal(t, uint32(uart.AliasedBaudrate), drv.Baudrate())
	assert.True(t, hw.Frame().Oversample8)
	assert.Equal(t, uart.StopBits2, drv.StopBits())
	assert.Equal(t, uart.ParityOdd, drv.Parity())
	assert.Equal(t, 9, hw.Frame().WordLength)
	assert.Equal(t, uart.MaxTxChunk, drv.TxMaxChunk())

	require.NoError(t, drv.SetCoding(12000000, 8, uart.StopBits1, uart.ParityNone))
	assert.Equal(t, uint32(6000000), drv.Baudrate(), "clamped to the fastest rate")

	before := drv.Coding()
	assert.ErrorIs(t, drv.SetCoding(9600, 9, uart.StopBits1, uart.ParityNone), pkg.ErrInvalidParameter)
	assert.Equal(t, before, drv.Coding())
	assert.Equal(t, uint8(8), drv.DataBits())
}

func TestDriver_SetCodingConfigureFailure(t *testing.T) {
	drv, hw := newDriver(t, 16)
	require.NoError(t, drv.SetCoding(57600, 8, uart.StopBits1, uart.ParityNone))
	frame, coding := hw.Frame(), drv.Coding()

	hw.ConfigureErr = pkg.ErrInvalidParameter
	err := drv.SetCoding(9600, 8, uart.StopBits2, uart.ParityEven)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	assert.True(t, hw.Enabled(), "line keeps running on the previous frame")
	assert.Equal(t, frame, hw.Frame())
	assert.Equal(t, coding, drv.Coding())

	hw.ConfigureErr = nil
	hw.Receive([]byte("up"))
	buf := make([]byte, 4)
	require.Equal(t, 2, drv.CopyRxData(buf))
	assert.Equal(t, []byte("up"), buf[:2])
}

func TestDriver_EnableConfigureFailure(t *testing.T) {
	hw := sim.New(0)
	hw.ConfigureErr = pkg.ErrInvalidState
	drv := uart.New(hw, uart.Config{})
	require.NoError(t, drv.Init(context.Background()))

	assert.ErrorIs(t, drv.Enable(), pkg.ErrInvalidState)
	assert.False(t, drv.Enabled())
	assert.False(t, hw.Enabled())
}

func TestDriver_PollDisabled(t *testing.T) {
	hw := sim.New(0)
	drv := uart.New(hw, uart.Config{})
	require.NoError(t, drv.Init(context.Background()))

	assert.Equal(t, 1, drv.Transmit([]byte("x")))
	drv.Poll()
	assert.False(t, hw.Busy(), "nothing starts before enable")
	assert.Equal(t, uart.DefaultTxBufferSize-2, drv.TxDataAvail())
}
