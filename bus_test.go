package xd2031

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequester struct {
	reply Packet
	err   error
	last  Packet
}

func (r *fakeRequester) Request(pkt Packet) (Packet, error) {
	r.last = pkt
	return r.reply, r.err
}

func newTestBus(addr uint8, req FSRequester) *BusContext {
	channels := NewChannelTable()
	errs := NewErrorState()
	drives := NewDriveTable(newTestFactory())
	pending := NewPendingOpenTracker(DefaultMaxPendingOpens)
	return NewBusContext(addr, 0, channels, errs, drives, pending, req)
}

func TestBusAttentionListenMatchesOwnAddress(t *testing.T) {
	req := &fakeRequester{reply: Packet{Payload: []byte{byte(ErrOK)}}}
	b := newTestBus(8, req)
	status := b.Attention(0x20 | 8)
	assert.Equal(t, uint8(0), status)
	assert.True(t, b.deviceMatches())
}

func TestBusAttentionListenMismatchSetsDeviceAbsent(t *testing.T) {
	b := newTestBus(8, &fakeRequester{})
	status := b.Attention(0x20 | 9)
	assert.Equal(t, StatusDeviceAbsent, status)
}

func TestBusOpenThenUnlistenSubmitsFileOpen(t *testing.T) {
	req := &fakeRequester{reply: Packet{Payload: []byte{byte(ErrOK)}}}
	b := newTestBus(8, req)
	b.Attention(0x20 | 8) // LISTEN
	b.Attention(0xF0 | 2) // OPEN secondary 2
	for _, c := range []byte("HELLO") {
		b.Data(c, false)
	}
	status := b.Attention(atnUnlisten)
	assert.Equal(t, uint8(0), status)
	assert.Equal(t, CmdOpenRd, req.last.Cmd)
	assert.Equal(t, "HELLO", string(req.last.Payload))
}

func TestBusCommandChannelAssignHandledLocally(t *testing.T) {
	req := &fakeRequester{}
	b := newTestBus(8, req)
	b.Attention(0x20 | 8)
	b.Attention(0xF0 | 15) // OPEN command channel
	for _, c := range []byte("A0:fake=/tmp/disk") {
		b.Data(c, false)
	}
	status := b.Attention(atnUnlisten)
	assert.Equal(t, uint8(0), status)
	assert.Nil(t, req.last.Payload) // never went to the FS requester
	ep := b.drives.Get(0)
	require.NotNil(t, ep)
	assert.Equal(t, "/tmp/disk", ep.Base)
}

func TestBusCloseFifteenClosesChannelRange(t *testing.T) {
	b := newTestBus(8, &fakeRequester{})
	b.channels.Open(3, ModeReadOnly, nil, nil, 0)
	b.Attention(0x20 | 8)
	b.Attention(atnCloseValue | 15)
	_, ok := b.channels.Find(3)
	assert.False(t, ok)
}

func TestBusUntalkClearsLatchedState(t *testing.T) {
	b := newTestBus(8, &fakeRequester{})
	b.Attention(0x40 | 8) // TALK
	b.Attention(atnUntalk)
	assert.Equal(t, uint8(0), b.device)
	assert.False(t, b.isTalk)
}

func TestBusTalkStatusChannelDrainsAndAutoResets(t *testing.T) {
	b := newTestBus(8, &fakeRequester{})
	b.errs.Set(ErrFileNotFound, 0, 0)
	want := len(b.errs.buf)

	b.Attention(0x40 | 8)       // TALK
	b.Attention(atnDataLo | 15) // DATA secondary 15: latch + prepare

	for i := 0; i < want-1; i++ {
		status := b.Data(0, false)
		require.Zero(t, status&StatusEOFNext, "byte %d should not be EOF yet", i)
	}
	status := b.Data(0, false)
	assert.NotZero(t, status&StatusEOFNext, "last byte should signal EOF-next")
	assert.Equal(t, ErrFileNotFound, b.errs.Code(), "Code() right after the terminator still reports what was just read")

	b.Attention(atnDataLo | 15) // re-latch secondary 15, preload peeks again
	assert.Equal(t, ErrOK, b.errs.Code(), "peeking past the terminator rearms OK")
}

func TestBusLoadChannelAutoClosesOnEOF(t *testing.T) {
	prov := &memProvider{data: map[string][]byte{"PROG": []byte("AB")}}
	ep := &Endpoint{Provider: prov}
	b := newTestBus(8, &fakeRequester{})
	ch := b.channels.Open(0, ModeReadOnly, ep, nil, 0)
	ch.File = &FileHandle{Path: "PROG"}

	b.Attention(0x40 | 8)       // TALK
	b.Attention(atnDataLo | 0) // DATA secondary 0, preloads first byte
	b.Data(0, false)            // consume 'A', advances to 'B'
	b.Data(0, false)            // consume 'B', front buffer now exhausted

	_, ok := b.channels.Find(0)
	assert.False(t, ok, "load channel should auto-close once drained")
}

func TestBusOpenDirectoryWithWriteAccessIsFileExists(t *testing.T) {
	req := &fakeRequester{reply: Packet{Payload: []byte{byte(ErrOK)}}}
	b := newTestBus(8, req)
	b.Attention(0x20 | 8) // LISTEN
	b.Attention(0xF0 | 2) // OPEN secondary 2
	for _, c := range []byte("$,W") {
		b.Data(c, false)
	}
	status := b.Attention(atnUnlisten)
	assert.Equal(t, StatusOpenError, status)
	assert.Equal(t, ErrFileExists, b.errs.Code())
	assert.Nil(t, req.last.Payload, "rejected before ever reaching the FS requester")
}

func TestBusAwaitReplySharesPendingOpenPoolAcrossBuses(t *testing.T) {
	pending := NewPendingOpenTracker(1)

	proceed := make(chan struct{})
	req1 := &blockingRequester{proceed: proceed, reply: Packet{Payload: []byte{byte(ErrOK)}}}
	channels1 := NewChannelTable()
	bus1 := NewBusContext(8, 0, channels1, NewErrorState(), NewDriveTable(newTestFactory()), pending, req1)

	req2 := &fakeRequester{reply: Packet{Payload: []byte{byte(ErrOK)}}}
	channels2 := NewChannelTable()
	errs2 := NewErrorState()
	bus2 := NewBusContext(9, 1, channels2, errs2, NewDriveTable(newTestFactory()), pending, req2)

	done := make(chan struct{})
	go func() {
		bus1.Attention(0x20 | 8)
		bus1.Attention(0xF0 | 2)
		for _, c := range []byte("HELLO") {
			bus1.Data(c, false)
		}
		bus1.Attention(atnUnlisten)
		close(done)
	}()

	require.Eventually(t, func() bool { return pending.InUse() == 1 }, time.Second, time.Millisecond)

	bus2.Attention(0x20 | 9)
	bus2.Attention(0xF0 | 2)
	for _, c := range []byte("WORLD") {
		bus2.Data(c, false)
	}
	status := bus2.Attention(atnUnlisten)
	assert.Equal(t, StatusOpenError, status)
	assert.Equal(t, ErrNoChannel, errs2.Code())

	close(proceed)
	<-done
	assert.Equal(t, 0, pending.InUse())
}

type blockingRequester struct {
	proceed chan struct{}
	reply   Packet
}

func (r *blockingRequester) Request(pkt Packet) (Packet, error) {
	<-r.proceed
	return r.reply, nil
}
