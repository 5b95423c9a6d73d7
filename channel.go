package xd2031

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Writability is the channel's direction/blocking mode (§3 "Channel").
type Writability uint8

const (
	ModeReadOnly Writability = iota
	ModeWriteOnly
	ModeReadWrite
	ModeReadOnlyNonBlocking
)

// DirConverter turns a provider DirEntry into its on-wire directory record
// bytes; a channel bound to a directory listing carries one of these
// (§3 "optional directory-entry converter function").
type DirConverter func(DirEntry) []byte

// Channel is the addressable pipe associated with one (device, secondary)
// pair, offset by the owning bus (§GLOSSARY "Channel"). It holds a
// double-buffered preload pipeline: one buffer is "front" (being
// delivered), one is "back" (being refilled), so a current byte is always
// available once Preload has run at least once against a non-empty
// source (§3 invariant).
type Channel struct {
	ID         uint8
	Mode       Writability
	Endpoint   *Endpoint
	File       *FileHandle
	Drive      int
	Converter  DirConverter
	dirEntries []DirEntry // queued, pre-formatted directory records

	front    []byte
	frontPos int
	back     []byte
	backEOF  bool
	eof      bool
	hasMore  bool
	preload  bool // Preload has run at least once
}

func newChannel(id uint8, mode Writability, ep *Endpoint, drive int, conv DirConverter) *Channel {
	return &Channel{ID: id, Mode: mode, Endpoint: ep, Drive: drive, Converter: conv, hasMore: true}
}

// ChannelTable owns every live Channel for one server/bus instance (C2).
type ChannelTable struct {
	mu       sync.Mutex
	channels map[uint8]*Channel
	log      *log.Entry
}

func NewChannelTable() *ChannelTable {
	return &ChannelTable{channels: make(map[uint8]*Channel), log: log.WithField("component", "channel-table")}
}

// Open binds a new channel, backed by ep, to channel id (§4.2 contract).
func (t *ChannelTable) Open(id uint8, mode Writability, ep *Endpoint, conv DirConverter, drive int) *Channel {
	t.mu.Lock()
	stale, hadStale := t.channels[id]
	ch := newChannel(id, mode, ep, drive, conv)
	t.channels[id] = ch
	if ep != nil {
		ep.Retain()
	}
	t.mu.Unlock()
	if hadStale {
		t.log.Warnf("channel %d reopened without a prior close, healing stale binding", id)
		t.releaseChannel(stale)
	}
	t.log.Debugf("opened channel %d mode=%d drive=%d", id, mode, drive)
	return ch
}

// releaseChannel tears down a channel's provider handle and endpoint
// reference. Shared by Close and by Open's heal-stale-binding path.
func (t *ChannelTable) releaseChannel(ch *Channel) {
	if ch.File != nil && ch.Endpoint != nil && ch.Endpoint.Provider != nil {
		ch.Endpoint.Provider.Close(ch.File)
		ch.Endpoint.removeOpenFile(ch.File)
	}
	if ch.Endpoint != nil {
		ch.Endpoint.Release()
	}
}

// Close tears down a channel, releasing its endpoint reference and closing
// its file handle via the provider if one is bound.
func (t *ChannelTable) Close(id uint8) {
	t.mu.Lock()
	ch, ok := t.channels[id]
	if ok {
		delete(t.channels, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.releaseChannel(ch)
}

// CloseRange closes every channel whose id falls in [low, high], mirroring
// the IEEE "CLOSE secondary 15" convention of closing an entire bus's
// channel range (§4.5 attention transitions, CLOSE case).
func (t *ChannelTable) CloseRange(low, high uint8) {
	t.mu.Lock()
	var ids []uint8
	for id := range t.channels {
		if id >= low && id <= high {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.Close(id)
	}
}

// Find looks up a bound channel by id.
func (t *ChannelTable) Find(id uint8) (*Channel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[id]
	return ch, ok
}

// Put appends a byte written by the bus (LISTEN direction) into the
// channel's pending write buffer (§4.2 contract: channel_put equivalent).
func (t *ChannelTable) Put(ch *Channel, b byte, withEOI bool) error {
	if ch == nil {
		return ErrChannelNotFound
	}
	ch.back = append(ch.back, b)
	if withEOI {
		return t.flushWrite(ch, true)
	}
	return nil
}

func (t *ChannelTable) flushWrite(ch *Channel, isEOF bool) error {
	if ch.Endpoint == nil || ch.Endpoint.Provider == nil || ch.File == nil {
		return ErrChannelNotFound
	}
	n, status := ch.Endpoint.Provider.Write(ch.File, ch.back, isEOF)
	ch.back = ch.back[n:]
	if status != ErrOK {
		return status
	}
	return nil
}

// Preload ensures the front buffer has at least one byte available,
// pulling from the endpoint if necessary. Idempotent (§4.2 contract).
func (t *ChannelTable) Preload(ch *Channel) error {
	if ch == nil {
		return ErrChannelNotFound
	}
	if ch.preload && ch.frontPos < len(ch.front) {
		return nil
	}
	if ch.preload && ch.frontPos >= len(ch.front) && !ch.hasMore {
		ch.eof = true
		return nil
	}
	return t.refillFront(ch)
}

func (t *ChannelTable) refillFront(ch *Channel) error {
	ch.preload = true
	if ch.Converter != nil {
		return t.refillFromDirQueue(ch)
	}
	if ch.Endpoint == nil || ch.Endpoint.Provider == nil || ch.File == nil {
		ch.front = nil
		ch.frontPos = 0
		ch.hasMore = false
		ch.eof = true
		return nil
	}
	buf := make([]byte, 256)
	n, eof, status := ch.Endpoint.Provider.Read(ch.File, buf)
	if status != ErrOK {
		return status
	}
	ch.front = buf[:n]
	ch.frontPos = 0
	ch.hasMore = !eof
	ch.eof = eof
	return nil
}

// refillFromDirQueue pulls the next synthesized directory record off the
// bound file handle's iterator (§4.9 "Directory synthesis"). A directory
// channel has no ordinary file content; the iterator itself is the source
// of truth for when the listing is exhausted.
func (t *ChannelTable) refillFromDirQueue(ch *Channel) error {
	if ch.File == nil || ch.File.DirIter == nil {
		ch.front = nil
		ch.frontPos = 0
		ch.hasMore = false
		ch.eof = true
		return nil
	}
	entry, ok, err := ch.File.DirIter.Next()
	if err != nil {
		return err
	}
	if !ok {
		ch.front = nil
		ch.frontPos = 0
		ch.hasMore = false
		ch.eof = true
		return nil
	}
	ch.front = ch.Converter(entry)
	ch.frontPos = 0
	// The FRE record is always the last one a directory iterator yields
	// (§4.9 "a final 'free bytes' record marking EOF"), so its arrival is
	// itself the end-of-listing signal - no lookahead needed.
	ch.eof = entry.Mode == DirModeFre
	ch.hasMore = !ch.eof
	return nil
}

// CurrentByte returns the byte the TALK loop would send right now.
func (t *ChannelTable) CurrentByte(ch *Channel) byte {
	if ch == nil || ch.frontPos >= len(ch.front) {
		return 0
	}
	return ch.front[ch.frontPos]
}

// CurrentIsEOF reports whether CurrentByte is the last byte available.
func (t *ChannelTable) CurrentIsEOF(ch *Channel) bool {
	if ch == nil {
		return true
	}
	return ch.eof && ch.frontPos >= len(ch.front)-1
}

// Next advances the read cursor; returns false once the front buffer is
// exhausted, at which point the caller checks HasMore and calls Refill.
func (t *ChannelTable) Next(ch *Channel) bool {
	if ch == nil {
		return false
	}
	ch.frontPos++
	return ch.frontPos < len(ch.front)
}

// HasMore reports whether the endpoint may still have data beyond the
// current front buffer.
func (t *ChannelTable) HasMore(ch *Channel) bool {
	if ch == nil {
		return false
	}
	return ch.hasMore
}

// Refill swaps in a freshly pulled front buffer (blocking on the
// provider). The sync parameter is accepted for parity with firmware-side
// non-blocking variants that must poll rather than block; the reference
// server-backed implementation always has data synchronously available.
func (t *ChannelTable) Refill(ch *Channel, sync bool) error {
	return t.refillFront(ch)
}

func (t *ChannelTable) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("ChannelTable{%d channels}", len(t.channels))
}
