package xd2031

import (
	"errors"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Attention-byte masks, §4.5.
const (
	atnUnlisten   = 0x3F
	atnUntalk     = 0x5F
	atnCloseMask  = 0xF0 // top nibble E
	atnCloseValue = 0xE0
	atnListenLo   = 0x20
	atnListenHi   = 0x3E
	atnTalkLo     = 0x40
	atnTalkHi     = 0x5E
	atnDataLo     = 0x60
	atnDataHi     = 0x6F
	atnOpenLo     = 0xF0
	atnOpenHi     = 0xFF

	deviceAddrMask = 0x1F
)

// Secondary address classes relevant to dispatch (§4.5).
const secCommand uint8 = 15

// Status bits returned by every attention/data dispatch (§4.5 "Status output").
const (
	StatusDeviceAbsent uint8 = 0x80 // device not present / mismatched in transaction
	StatusEOFNext      uint8 = 0x40 // EOF on next byte
	StatusOpenError    uint8 = 0x02
	StatusChannelError uint8 = 0x83
)

// secState tracks what the latched secondary currently means.
type secState uint8

const (
	secIdle secState = iota
	secOpenPending     // secondary latched via an OPEN attention byte
	secCommandPending  // secondary == 15, buffering a command
	secData            // secondary latched via DATA, bound to a channel
)

// FSRequester submits an FS-protocol request and blocks for the matching
// reply. This is the Go rendering of the "synthetic synchronous RPC over
// async packets" redesign (§9, §REDESIGN FLAGS): a blocking helper with
// explicit yield points instead of a spin-on-flag loop; the public
// contract - submit, then block until the reply arrives - is unchanged.
type FSRequester interface {
	Request(pkt Packet) (Packet, error)
}

// BusContext is one IEEE-488/IEC bus's worth of state: the attention-byte
// state machine plus the channel table and command buffer it drives (C5,
// §4.5). Each physical bus (there may be more than one, per
// secaddr_offset_counter below) owns its own BusContext.
type BusContext struct {
	mu sync.Mutex

	ownAddress uint8 // this device's configured IEEE address (0-30)
	busNumber  int   // identifies this bus for the secondary-address offset

	device    uint8
	secondary uint8
	state     secState
	isTalk    bool // current transaction direction, set by LISTEN/TALK

	cmdMax  int
	openBuf []byte

	channels *ChannelTable
	errs     *ErrorState
	drives   *DriveTable
	req      FSRequester
	pending  *PendingOpenTracker

	// cmdDone models the ISR-delivered single-writer/single-reader
	// handshake cell of §REDESIGN FLAGS "Volatile ISR handshake"; kept for
	// parity with code/tests that observe the handshake directly, even
	// though awaitReply no longer spin-waits on it.
	cmdDone int32

	log *log.Entry
}

// NewBusContext builds a bus state machine bound to address addr, backed by
// the given channel table, error/status buffer, drive table, pending-open
// tracker, and FS requester. busNumber offsets secondary addresses (see
// secondaryOffset) when more than one bus shares a single server. pending
// may be shared across several BusContexts on the same connection, the way
// the original firmware's pending-open table is a single process-wide pool
// rather than one per bus.
func NewBusContext(addr uint8, busNumber int, channels *ChannelTable, errs *ErrorState, drives *DriveTable, pending *PendingOpenTracker, req FSRequester) *BusContext {
	return &BusContext{
		ownAddress: addr & deviceAddrMask,
		busNumber:  busNumber,
		cmdMax:     128,
		channels:   channels,
		errs:       errs,
		drives:     drives,
		pending:    pending,
		req:        req,
		log:        log.WithField("component", "bus").WithField("bus", busNumber),
	}
}

// secondaryOffset returns this bus's configured offset into the shared
// channel-id space, so that two buses sharing one server process never
// collide on channel numbers (mirrors the original firmware's
// secaddr_offset_counter, 16 per bus).
func (b *BusContext) secondaryOffset() uint8 {
	return uint8(b.busNumber) * 16
}

// Attention feeds one ATN-asserted byte into the state machine and returns
// the composed status byte (§4.5 "Status output").
func (b *BusContext) Attention(v uint8) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case v == atnUnlisten:
		return b.handleUnlisten()
	case v == atnUntalk:
		return b.handleUntalk()
	case v&atnCloseMask == atnCloseValue:
		return b.handleClose(v)
	case v >= atnListenLo && v <= atnListenHi:
		return b.handleListen(v)
	case v >= atnTalkLo && v <= atnTalkHi:
		return b.handleTalk(v)
	case v >= atnDataLo && v <= atnDataHi:
		return b.handleData(v)
	case v >= atnOpenLo && v <= atnOpenHi:
		return b.handleOpen(v)
	default:
		return StatusDeviceAbsent
	}
}

func (b *BusContext) deviceMatches() bool {
	return b.device == b.ownAddress
}

func (b *BusContext) handleListen(v uint8) uint8 {
	dev := v & deviceAddrMask
	b.device = dev
	if dev != b.ownAddress {
		return StatusDeviceAbsent
	}
	b.isTalk = false
	return 0
}

func (b *BusContext) handleTalk(v uint8) uint8 {
	dev := v & deviceAddrMask
	b.device = dev
	if dev != b.ownAddress {
		return StatusDeviceAbsent
	}
	b.isTalk = true
	return 0
}

func (b *BusContext) handleClose(v uint8) uint8 {
	if !b.deviceMatches() {
		return StatusDeviceAbsent
	}
	sec := v & 0x0F
	b.secondary = sec
	off := b.secondaryOffset()
	if sec == secCommand {
		// Closing secondary 15 closes this bus's entire channel range
		// (§4.5 "CLOSE-class").
		b.channels.CloseRange(off, off+15)
	} else {
		b.channels.Close(off + sec)
	}
	b.state = secIdle
	return 0
}

func (b *BusContext) handleData(v uint8) uint8 {
	if !b.deviceMatches() {
		return StatusDeviceAbsent
	}
	sec := v & 0x0F
	b.secondary = sec
	b.state = secData
	if b.isTalk {
		return b.receiveByte(sec, true)
	}
	if sec == secCommand {
		return 0
	}
	off := b.secondaryOffset()
	if _, ok := b.channels.Find(off + sec); !ok {
		return StatusChannelError
	}
	return 0
}

// receiveByte reports whether the current byte on secondary sec is the
// last one and, unless this is only the TALK "prepare" call (preload),
// advances past it - refilling from the endpoint or, for the load channel
// (secondary 0) and the status channel (secondary 15), auto-closing once
// exhausted (§4.2 "Auto-close rule"). The status channel has no bound
// Channel (it reads straight from errs, per §9's Open Question), so it is
// handled separately and never needs closing.
func (b *BusContext) receiveByte(sec uint8, preload bool) uint8 {
	if sec == secCommand {
		_, atLast := b.errs.Peek()
		if !preload {
			b.errs.Next()
		}
		if atLast {
			return StatusEOFNext
		}
		return 0
	}

	off := b.secondaryOffset()
	ch, ok := b.channels.Find(off + sec)
	if !ok {
		return StatusChannelError
	}
	if err := b.channels.Preload(ch); err != nil {
		return StatusChannelError
	}
	atEOF := b.channels.CurrentIsEOF(ch)
	if !preload {
		if !b.channels.Next(ch) {
			if b.channels.HasMore(ch) {
				if err := b.channels.Refill(ch, false); err != nil {
					return StatusChannelError
				}
			} else if sec == 0 {
				b.channels.Close(off + sec)
			}
		}
	}
	if atEOF {
		return StatusEOFNext
	}
	return 0
}

func (b *BusContext) handleOpen(v uint8) uint8 {
	if !b.deviceMatches() {
		return StatusDeviceAbsent
	}
	sec := v & 0x0F
	b.secondary = sec
	if sec == secCommand {
		b.state = secCommandPending
	} else {
		b.state = secOpenPending
	}
	b.openBuf = b.openBuf[:0]
	return 0
}

// Data feeds one data-phase byte (ATN not asserted). withEOI marks the last
// byte of a LISTEN transaction (§4.5 "Data-byte behavior").
func (b *BusContext) Data(v byte, withEOI bool) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case secOpenPending, secCommandPending:
		if len(b.openBuf) < b.cmdMax {
			b.openBuf = append(b.openBuf, v)
		}
		return 0
	case secData:
		if b.isTalk {
			return b.receiveByte(b.secondary, false)
		}
		if b.secondary == secCommand {
			return StatusChannelError
		}
		off := b.secondaryOffset()
		ch, ok := b.channels.Find(off + b.secondary)
		if !ok {
			return StatusChannelError
		}
		if err := b.channels.Put(ch, v, withEOI); err != nil {
			return StatusChannelError
		}
		return 0
	default:
		return StatusDeviceAbsent
	}
}

func (b *BusContext) handleUntalk() uint8 {
	b.device = 0
	b.secondary = 0
	b.state = secIdle
	b.isTalk = false
	return 0
}

// handleUnlisten executes the buffered command, if any, then clears the
// latched device/secondary (§4.5 "Command execution on UNLISTEN").
func (b *BusContext) handleUnlisten() uint8 {
	defer func() {
		b.device = 0
		b.secondary = 0
		b.state = secIdle
	}()

	if b.state != secOpenPending && b.state != secCommandPending {
		return 0
	}
	if !b.deviceMatches() {
		return StatusDeviceAbsent
	}

	buf := append(append([]byte(nil), b.openBuf...), 0)
	off := b.secondaryOffset()

	if b.secondary == secCommand {
		if b.commandExecute(off, buf) != ErrOK {
			return StatusOpenError
		}
		return 0
	}

	if b.fileOpen(off, buf) != ErrOK {
		return StatusOpenError
	}
	return 0
}

// commandExecute dispatches a zero-terminated command-channel payload:
// either a local ASSIGN (handled entirely on this side) or a pass-through
// FS packet forwarded to the server (§4.5).
func (b *BusContext) commandExecute(channelOffset uint8, buf []byte) StatusCode {
	payload := string(buf[:len(buf)-1])
	pn, status := ParseName(payload, ParseOptions{IsCommandChannel: true})
	if status != ErrOK {
		b.errs.Set(status, 0, 0)
		return status
	}

	if pn.Command == CmdAssignCmd {
		status := b.drives.Assign(pn)
		b.errs.Set(status, 0, 0)
		return status
	}

	pkt := Packet{Cmd: CmdSetopt, Channel: ChanCmd, Payload: buf}
	reply, err := b.awaitReply(pkt)
	if err != nil {
		status := requestErrStatus(err)
		b.errs.Set(status, 0, 0)
		return status
	}
	code := replyStatus(reply)
	if code == ErrScratched && len(reply.Payload) > 1 {
		// SCRATCHED carries its match count in the second payload byte.
		b.errs.SetWithCount(code, int(reply.Payload[1]))
		return code
	}
	b.errs.Set(code, 0, 0)
	return code
}

// fileOpen parses an OPEN name and submits the matching FS_OPEN_* packet,
// blocking (via awaitReply) for the server's reply (§4.5, §4.6).
func (b *BusContext) fileOpen(channelOffset uint8, buf []byte) StatusCode {
	payload := string(buf[:len(buf)-1])
	isSave := b.secondary == 1
	pn, status := ParseName(payload, ParseOptions{IsSave: isSave})
	if status != ErrOK {
		b.errs.Set(status, 0, 0)
		return status
	}
	if pn.Command == CmdDir && pn.Access != AccessDefault && pn.Access != AccessRead {
		b.errs.Set(ErrFileExists, 0, 0)
		return ErrFileExists
	}

	cmd := openCommandFor(pn, isSave)
	pkt := Packet{Cmd: cmd, Channel: channelOffset + b.secondary, Payload: []byte(pn.Name)}

	reply, err := b.awaitReply(pkt)
	if err != nil {
		status := requestErrStatus(err)
		b.errs.Set(status, 0, 0)
		return status
	}
	code := replyStatus(reply)
	b.errs.Set(code, 0, 0)
	return code
}

// requestErrStatus maps an awaitReply failure to a CBM DOS status: a
// pending-open pool exhaustion is NO_CHANNEL (§4.6), anything else
// (transport/connection failure) is DRIVE_NOT_READY.
func requestErrStatus(err error) StatusCode {
	if errors.Is(err, ErrNoFreeSlot) {
		return ErrNoChannel
	}
	return ErrDriveNotReady
}

func openCommandFor(pn ParsedName, isSave bool) Command {
	if pn.Command == CmdDir {
		return CmdOpenDr
	}
	switch pn.Access {
	case AccessWrite:
		return CmdOpenWr
	case AccessAppend:
		return CmdOpenAp
	case AccessReadWrite:
		return CmdOpenRw
	default:
		if isSave {
			return CmdOpenWr
		}
		return CmdOpenRd
	}
}

func replyStatus(pkt Packet) StatusCode {
	if len(pkt.Payload) == 0 {
		return ErrOK
	}
	return StatusCode(pkt.Payload[0])
}

// awaitReply reserves a pending-open slot for pkt.Channel, then submits pkt
// through the configured FSRequester (§4.6: a bounded pool of in-flight
// opens, ErrNoFreeSlot/NO_CHANNEL when it's exhausted). The slot is always
// freed again before returning, so the pool is back to its prior size
// whether the request succeeds or fails. The cooperative
// "while !cmd_done { main_tick() }" wait of the original firmware (§4.5,
// §9 "Synthetic synchronous RPC") is replaced here by an ordinary blocking
// call; cmdDone is still flipped for parity with code that observes it
// directly.
func (b *BusContext) awaitReply(pkt Packet) (Packet, error) {
	if err := b.pending.Submit(pkt.Channel, pkt.Payload, func(Packet) {}); err != nil {
		return Packet{}, err
	}
	atomic.StoreInt32(&b.cmdDone, 0)
	reply, err := b.req.Request(pkt)
	b.pending.Complete(pkt.Channel, reply, err)
	atomic.StoreInt32(&b.cmdDone, 1)
	return reply, err
}
