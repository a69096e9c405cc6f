// Package prng generates the reproducible byte stream of the loopback test.
//
// The generator is a 32-bit xorshift whose output words are consumed least
// significant byte first, so a receiver seeded like the sender reproduces
// the sent bytes in order regardless of how the stream is split into
// reads.
package prng

// Seed is the initial state used by both ends of a loopback test.
const Seed = 0x7b

// Stream is a xorshift32 byte stream.
type Stream struct {
	state  uint32
	bits   uint32
	nbytes int
}

// New returns a stream starting at seed. A zero seed is replaced by
// [Seed], because zero is a fixed point of xorshift.
func New(seed uint32) *Stream {
	if seed == 0 {
		seed = Seed
	}
	return &Stream{state: seed}
}

// Next advances the generator and returns the next 32-bit word.
func (s *Stream) Next() uint32 {
	x := s.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	s.state = x
	return x
}

// Byte returns the next byte of the stream.
func (s *Stream) Byte() byte {
	if s.nbytes == 0 {
		s.bits = s.Next()
		s.nbytes = 4
	}
	b := byte(s.bits)
	s.bits >>= 8
	s.nbytes--
	return b
}

// Fill writes the next len(buf) bytes of the stream into buf.
func (s *Stream) Fill(buf []byte) {
	for idx := range buf {
		buf[idx] = s.Byte()
	}
}

// Verify consumes len(buf) bytes of the stream and compares them with buf.
// Returns the index of the first mismatch, or -1 if buf matches. mask is
// applied to the expected bytes, for lines with fewer than 8 data bits.
func (s *Stream) Verify(buf []byte, mask byte) int {
	bad := -1
	for idx, b := range buf {
		if want := s.Byte() & mask; b != want && bad < 0 {
			bad = idx
		}
	}
	return bad
}
