package uart

// ring is a byte ring buffer with one slot sacrificed to tell full from
// empty: head == tail is empty, head+1 == tail (mod len) is full.
//
// For the receive buffer head is owned by DMA and passed in by the caller;
// the ring only stores tail.
type ring struct {
	buf  []byte
	head int // next write position
	tail int // next read position
}

func newRing(size int) ring {
	return ring{buf: make([]byte, size)}
}

func (r *ring) reset() {
	r.head = 0
	r.tail = 0
}

// used returns the number of bytes between tail and head.
func (r *ring) used(head int) int {
	if head >= r.tail {
		return head - r.tail
	}
	return len(r.buf) - r.tail + head
}

// free returns the number of bytes that can be written.
func (r *ring) free() int {
	return len(r.buf) - r.used(r.head) - 1
}

// writable returns the contiguous free region starting at head.
func (r *ring) writable() []byte {
	switch {
	case r.head < r.tail:
		return r.buf[r.head : r.tail-1]
	case r.tail != 0:
		return r.buf[r.head:]
	default:
		return r.buf[r.head : len(r.buf)-1]
	}
}

// commit advances head over n bytes written into writable().
func (r *ring) commit(n int) {
	r.head += n
	if r.head >= len(r.buf) {
		r.head = 0
	}
}

// readable returns the contiguous data region starting at tail, up to head.
func (r *ring) readable(head int) []byte {
	if head >= r.tail {
		return r.buf[r.tail:head]
	}
	return r.buf[r.tail:]
}

// consume advances tail over n bytes taken from readable().
func (r *ring) consume(n int) {
	r.tail += n
	if r.tail >= len(r.buf) {
		r.tail = 0
	}
}
