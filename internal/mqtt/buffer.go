package mqtt

import log "github.com/sirupsen/logrus"

// bufferedMsg is a serialized publish waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the newest messages up to a fixed capacity, oldest first.
// The caller synchronizes access.
type ringBuffer struct {
	msgs    []bufferedMsg
	next    int // slot for the next push
	count   int
	dropped int // since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{msgs: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	r.msgs[r.next] = msg
	r.next = (r.next + 1) % len(r.msgs)
	if r.count < len(r.msgs) {
		r.count++
		return
	}
	// Full: the slot just written held the oldest message.
	if r.dropped == 0 {
		log.WithField("capacity", len(r.msgs)).Warn("mqtt: buffer full, dropping oldest")
	}
	r.dropped++
}

// drainAll empties the buffer and returns its contents in publish order.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	out := make([]bufferedMsg, 0, r.count)
	first := (r.next - r.count + len(r.msgs)) % len(r.msgs)
	for i := 0; i < r.count; i++ {
		out = append(out, r.msgs[(first+i)%len(r.msgs)])
	}

	if r.dropped > 0 {
		log.WithField("dropped", r.dropped).Warn("mqtt: messages lost while disconnected")
	}
	r.next, r.count, r.dropped = 0, 0, 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
