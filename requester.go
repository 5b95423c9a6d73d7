package xd2031

import "sync"

// FramerRequester implements FSRequester by turning a blocking round trip
// over a Framer into the "synthetic synchronous RPC" the bus impedance
// layer calls into (§REDESIGN FLAGS: replacing the original's
// spin-wait-on-cmd_done loop with a direct blocking call, since Go can
// afford to block a goroutine where the original's single-threaded
// firmware loop could not). One instance serves one bus's connection to
// the server; Request serializes concurrent callers since the wire
// protocol carries one in-flight request at a time per connection (§5
// "replies are emitted in request order").
type FramerRequester struct {
	mu     sync.Mutex
	framer *Framer
}

func NewFramerRequester(framer *Framer) *FramerRequester {
	return &FramerRequester{framer: framer}
}

// Request sends pkt and blocks for the matching reply.
func (r *FramerRequester) Request(pkt Packet) (Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.framer.WritePacket(pkt); err != nil {
		return Packet{}, err
	}
	return r.framer.ReadPacket()
}
