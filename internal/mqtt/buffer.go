package mqtt

// outboundMsg is a serialized message held for delivery after reconnection.
type outboundMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO of outbound messages. When full the
// oldest message is overwritten. Not safe for concurrent use.
type ringBuffer struct {
	buf     []outboundMsg
	head    int // next write position
	count   int
	dropped int // messages overwritten since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{buf: make([]outboundMsg, capacity)}
}

// push appends msg. It reports true the first time a message is dropped
// after a drain, so callers can log once per outage.
func (r *ringBuffer) push(msg outboundMsg) bool {
	r.buf[r.head] = msg
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
		return false
	}
	r.dropped++
	return r.dropped == 1
}

// drainAll returns the buffered messages oldest first and empties the ring.
func (r *ringBuffer) drainAll() []outboundMsg {
	if r.count == 0 {
		return nil
	}
	out := make([]outboundMsg, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
		r.buf[(start+i)%len(r.buf)] = outboundMsg{}
	}
	r.head, r.count, r.dropped = 0, 0, 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
