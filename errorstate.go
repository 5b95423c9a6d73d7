package xd2031

import "fmt"

// ErrorState is the command channel's error/status buffer (C3, §4.3). A
// status is latched by Set, formatted once into a CBM DOS status line, and
// then read out progressively a byte at a time via Next. Reading past the
// terminator auto-resets the buffer to ErrOK (§4.3 invariant), the same way
// a real drive goes quiet again after the bus master has drained "00,OK,00,00".
type ErrorState struct {
	code   StatusCode
	track  uint8
	sector uint8

	buf      []byte
	pos      int
	armReset bool // terminator was just delivered; reset on next Next()
}

func NewErrorState() *ErrorState {
	es := &ErrorState{}
	es.Set(ErrOK, 0, 0)
	return es
}

// Set latches a new status, formatting it as "NN,MESSAGE,TT,SS\0" per §4.3
// and §6's error code table. track/sector are the CBM DOS diagnostic
// fields and are zero for statuses that don't carry one.
func (e *ErrorState) Set(code StatusCode, track, sector uint8) {
	e.code = code
	e.track = track
	e.sector = sector
	e.buf = []byte(fmt.Sprintf("%02d,%s,%02d,%02d\x00", uint8(code), code.Error(), track, sector))
	e.pos = 0
	e.armReset = false
}

// SetWithCount latches SCRATCHED-style statuses whose "track" field is
// overloaded to carry a match count rather than a real track number.
func (e *ErrorState) SetWithCount(code StatusCode, count int) {
	e.Set(code, uint8(count), 0)
}

// Code reports the currently latched status.
func (e *ErrorState) Code() StatusCode { return e.code }

// Next returns the next unread byte of the formatted status line and
// advances the read pointer. Once the terminating nul has been delivered,
// the *following* call resets the state to ErrOK first (§4.3), so a caller
// that checks Code() immediately after reading the terminator still
// observes the status that was just read.
func (e *ErrorState) Next() byte {
	if e.armReset {
		e.Set(ErrOK, 0, 0)
	}
	b := e.buf[e.pos]
	e.pos++
	if e.pos >= len(e.buf) {
		e.armReset = true
	}
	return b
}

// HasMore reports whether unread bytes remain in the current status line.
func (e *ErrorState) HasMore() bool {
	return e.pos < len(e.buf)
}

// Peek returns the next unread byte without consuming it, and whether it
// is the final byte of the current status line. Peeking after the
// terminator has already been delivered rearms OK first (§4.3), same as
// Next.
func (e *ErrorState) Peek() (byte, bool) {
	if e.armReset {
		e.Set(ErrOK, 0, 0)
	}
	return e.buf[e.pos], e.pos == len(e.buf)-1
}
