package xd2031

import "sync"

// pendingSlot is one in-flight OPEN awaiting its server reply (C6, §4.6).
type pendingSlot struct {
	used     bool
	channel  uint8
	txbuf    []byte
	callback func(Packet)
}

// PendingOpenTracker correlates asynchronous OPEN replies with the bus-side
// callback that is waiting for them, using a bounded slot pool the way the
// original firmware does with a fixed-size array (§4.6). DefaultMaxPendingOpens
// sizes the pool.
type PendingOpenTracker struct {
	mu    sync.Mutex
	slots []pendingSlot
}

// DefaultMaxPendingOpens is the pending-open pool size when none is given
// explicitly: a bounded slice sized by this constant instead of a
// hand-rolled fixed-size C array.
const DefaultMaxPendingOpens = 8

func NewPendingOpenTracker(capacity int) *PendingOpenTracker {
	if capacity <= 0 {
		capacity = DefaultMaxPendingOpens
	}
	return &PendingOpenTracker{slots: make([]pendingSlot, capacity)}
}

// Submit scans for a free slot and reserves it for channel, storing txbuf
// (the request payload) and the callback to
// invoke once the server replies. Returns ErrNoFreeSlot ("NO_CHANNEL", per
// §4.6) if the pool is exhausted; the caller must then close the channel.
func (t *PendingOpenTracker) Submit(channel uint8, txbuf []byte, callback func(Packet)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if !t.slots[i].used {
			t.slots[i] = pendingSlot{used: true, channel: channel, txbuf: txbuf, callback: callback}
			return nil
		}
	}
	return ErrNoFreeSlot
}

// Complete matches an incoming reply packet by channel, invokes its
// callback, and frees the slot. If the provider signaled a transport-level
// failure (transportErr != nil), DRIVE_NOT_READY is surfaced to the
// callback instead of forwarding the packet verbatim (§4.6).
func (t *PendingOpenTracker) Complete(channel uint8, reply Packet, transportErr error) bool {
	t.mu.Lock()
	var slot pendingSlot
	found := false
	for i := range t.slots {
		if t.slots[i].used && t.slots[i].channel == channel {
			slot = t.slots[i]
			t.slots[i] = pendingSlot{}
			found = true
			break
		}
	}
	t.mu.Unlock()
	if !found {
		return false
	}
	if transportErr != nil {
		reply = Packet{Cmd: reply.Cmd, Channel: channel, Payload: []byte{byte(ErrDriveNotReady)}}
	}
	slot.callback(reply)
	return true
}

// InUse reports how many slots are currently occupied, for diagnostics.
func (t *PendingOpenTracker) InUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if s.used {
			n++
		}
	}
	return n
}
