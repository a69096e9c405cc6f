package cdc

import (
	"github.com/ardnew/usbserial/device"
	"github.com/ardnew/usbserial/pkg"
)

// handleControl serves the ACM class requests addressed to an interface.
// Requests it does not know are deferred.
func (s *Serial) handleControl(setup *device.SetupPacket, buf *device.ControlBuffer) pkg.RequestResult {
	switch setup.Request {
	case RequestSetLineCoding:
		if setup.Length < LineCodingSize || setup.Index != InterfaceComm {
			return pkg.RequestNotSupported
		}
		var lc LineCoding
		if err := ParseLineCoding(buf.Data, &lc); err != nil {
			return pkg.RequestNotSupported
		}
		if err := s.SetLineCoding(&lc); err != nil {
			pkg.LogDebug(pkg.ComponentCDC, "line coding rejected", "coding", lc.String(), "error", err)
			return pkg.RequestNotSupported
		}
		return pkg.RequestHandled

	case RequestGetLineCoding:
		if setup.Length < LineCodingSize || setup.Index != InterfaceComm {
			return pkg.RequestNotSupported
		}
		lc := s.LineCoding()
		buf.Data = buf.Data[:lc.MarshalTo(buf.Data)]
		return pkg.RequestHandled

	case RequestSetControlLineState:
		dtr := setup.Value&ControlLineDTR != 0
		rts := setup.Value&ControlLineRTS != 0
		s.dtr.Store(dtr)
		s.rts.Store(rts)
		pkg.LogDebug(pkg.ComponentCDC, "control line state", "dtr", dtr, "rts", rts)
		if s.onControlLine != nil {
			s.onControlLine(dtr, rts)
		}
		return pkg.RequestHandled
	}
	return pkg.RequestNext
}

// LineCoding returns the line coding in effect. The baud rate is the rate
// the UART actually runs at, which may differ from the requested one.
func (s *Serial) LineCoding() LineCoding {
	return FromUART(s.uart.Coding())
}

// SetLineCoding validates lc and applies it to the UART.
func (s *Serial) SetLineCoding(lc *LineCoding) error {
	if err := lc.Validate(); err != nil {
		return err
	}
	c := lc.UART()
	if err := s.uart.SetCoding(c.Baudrate, c.DataBits, c.StopBits, c.Parity); err != nil {
		return err
	}
	if s.onLineCoding != nil {
		s.onLineCoding(s.uart.Coding())
	}
	return nil
}
