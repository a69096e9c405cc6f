package device

// SerialNumberLength is the length of a serial number derived by
// [SerialNumber].
const SerialNumberLength = 10

const base32Digits = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// SerialNumber derives a repeatable 10 character serial number from the
// three words of a 96-bit chip unique ID. The first six characters encode
// the top 30 bits of id0+id2, the last four carry its two low bits followed
// by the top 18 bits of id1.
func SerialNumber(uid [3]uint32) string {
	id0 := uid[0] + uid[2]
	id1 := uid[1]>>2 | (id0&0x03)<<30

	var buf [SerialNumberLength]byte
	formatBase32(buf[:6], id0)
	formatBase32(buf[6:], id1)
	return string(buf[:])
}

// formatBase32 writes len(buf) digits of value, most significant first.
func formatBase32(buf []byte, value uint32) {
	for idx := range buf {
		buf[idx] = base32Digits[value>>27]
		value <<= 5
	}
}
