// Package sim provides a simulated UART for testing the UART driver
// without hardware.
//
// The simulation is deterministic: nothing happens on the line until the
// test calls [UART.Receive] or [UART.CompleteTx]. Set
// [UART.AutoComplete] to finish transmit chunks immediately, as the
// cmd/usbserial simulator does.
//
//	hw := sim.New(0)
//	drv := uart.New(hw, uart.Config{})
//	drv.Init(ctx)
//	drv.Enable()
//
//	hw.Receive([]byte("hello"))
//	n := drv.CopyRxData(buf)
package sim
