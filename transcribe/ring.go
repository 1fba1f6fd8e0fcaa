package transcribe

// ring is a bounded FIFO of PCM chunks that drops the oldest chunk when
// full. It is not safe for concurrent use.
type ring struct {
	buf     [][]byte
	head    int
	n       int
	dropped uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([][]byte, max(capacity, 1))}
}

// push appends b, evicting the oldest chunk if the ring is full.
func (r *ring) push(b []byte) {
	if r.n == len(r.buf) {
		r.buf[r.head] = nil
		r.head = (r.head + 1) % len(r.buf)
		r.n--
		r.dropped++
	}
	r.buf[(r.head+r.n)%len(r.buf)] = b
	r.n++
}

// pop removes the oldest chunk.
func (r *ring) pop() ([]byte, bool) {
	if r.n == 0 {
		return nil, false
	}
	b := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return b, true
}

func (r *ring) len() int { return r.n }

// reset releases every buffered chunk.
func (r *ring) reset() {
	clear(r.buf)
	r.head = 0
	r.n = 0
}
