package xd2031

import (
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/xd2031/xd2031/pkg/runtimeconfig"
)

// Dispatcher is the server-side packet router (C8, §4.8): it owns the
// channel table, drive table and error/status buffer for one firmware
// connection and answers every request the framer hands it.
type Dispatcher struct {
	channels *ChannelTable
	drives   *DriveTable
	errs     *ErrorState
	config   *runtimeconfig.Store
	framer   *Framer
	log      *log.Entry
}

func NewDispatcher(framer *Framer, drives *DriveTable, config *runtimeconfig.Store) *Dispatcher {
	return &Dispatcher{
		channels: NewChannelTable(),
		drives:   drives,
		errs:     NewErrorState(),
		config:   config,
		framer:   framer,
		log:      log.WithField("component", "dispatcher"),
	}
}

// Serve runs the main loop: read a packet, dispatch it, reply. Returns
// when the framer's underlying stream closes (§5 "server side is
// single-threaded non-blocking").
func (d *Dispatcher) Serve() error {
	for {
		pkt, err := d.framer.ReadPacket()
		if err != nil {
			return err
		}
		if reply, ok := d.Dispatch(pkt); ok {
			if err := d.framer.WritePacket(reply); err != nil {
				return err
			}
		}
	}
}

// Dispatch routes one request packet to its handler and returns the reply
// to send, if any (TERM and RESET send no reply, per §4.8).
func (d *Dispatcher) Dispatch(pkt Packet) (Packet, bool) {
	switch pkt.Cmd {
	case CmdTerm:
		// TERM forwards its payload straight to the local logger, no reply.
		d.log.Info(strings.TrimRight(string(pkt.Payload), "\x00"))
		return Packet{}, false

	case CmdSetopt:
		return d.handleSetopt(pkt), true

	case CmdReset:
		d.handleReset(pkt)
		return Packet{}, false

	case CmdOpenRd, CmdOpenWr, CmdOpenAp, CmdOpenRw, CmdOpenOw, CmdOpenDr:
		return d.handleOpen(pkt), true

	case CmdRead:
		return d.handleRead(pkt), true

	case CmdWrite, CmdEOF:
		return d.handleWrite(pkt), true

	case CmdClose:
		return d.handleClose(pkt), true

	case CmdDelete:
		return d.handleDelete(pkt), true

	case CmdRename:
		return d.handleRename(pkt), true

	case CmdCd, CmdMkdir, CmdRmdir:
		return d.handleDirOp(pkt), true

	case CmdAssign:
		return d.handleAssign(pkt), true

	case CmdBlock:
		return d.handleBlock(pkt), true

	default:
		d.log.Warnf("unhandled command %s", pkt.Cmd)
		return Packet{Cmd: CmdReply, Channel: pkt.Channel, Payload: []byte{byte(ErrSyntaxUnknown)}}, true
	}
}

func statusReply(channel uint8, status StatusCode) Packet {
	return Packet{Cmd: CmdReply, Channel: channel, Payload: []byte{byte(status)}}
}

func (d *Dispatcher) endpointForDrive(drive int) *Endpoint {
	ep := d.drives.Get(drive)
	if ep != nil {
		return ep
	}
	return d.drives.Get(0)
}

func openKindFor(cmd Command) OpenKind {
	switch cmd {
	case CmdOpenWr:
		return OpenWR
	case CmdOpenAp:
		return OpenAP
	case CmdOpenRw:
		return OpenRW
	case CmdOpenOw:
		return OpenOW
	case CmdOpenDr:
		return OpenDR
	default:
		return OpenRD
	}
}

// handleOpen implements the OPEN_* row of §4.8: first payload byte names
// the drive, remainder is the OPEN name.
func (d *Dispatcher) handleOpen(pkt Packet) Packet {
	if len(pkt.Payload) < 1 {
		return statusReply(pkt.Channel, ErrSyntaxUnknown)
	}
	drive := int(pkt.Payload[0])
	name := string(pkt.Payload[1:])

	ep := d.endpointForDrive(drive)
	if ep == nil {
		return statusReply(pkt.Channel, ErrDriveNotReady)
	}

	pn, status := ParseName(name, ParseOptions{})
	if status != ErrOK {
		return statusReply(pkt.Channel, status)
	}
	pn.Drive = drive

	kind := openKindFor(pkt.Cmd)
	fh, status := ep.Provider.Open(ep, kind, pn)
	if status != ErrOK {
		return statusReply(pkt.Channel, status)
	}

	mode := ModeReadOnly
	if kind == OpenWR || kind == OpenOW {
		mode = ModeWriteOnly
	} else if kind == OpenRW || kind == OpenAP {
		mode = ModeReadWrite
	}

	var conv DirConverter
	if fh.Mode == HandleDir {
		conv = FormatDirEntry
	}

	ch := d.channels.Open(pkt.Channel, mode, ep, conv, drive)
	ch.File = fh
	ep.addOpenFile(fh)

	return statusReply(pkt.Channel, ErrOK)
}

// handleRead implements READ (§4.8): reply type becomes EOF when the
// provider reports end of data, else WRITE, with payload set to the bytes
// actually returned.
func (d *Dispatcher) handleRead(pkt Packet) Packet {
	ch, ok := d.channels.Find(pkt.Channel)
	if !ok {
		return statusReply(pkt.Channel, ErrFileNotOpen)
	}
	if err := d.channels.Preload(ch); err != nil {
		return statusReply(pkt.Channel, ErrDriveNotReady)
	}

	buf := make([]byte, 0, 256)
	for len(buf) < 256 {
		if d.channels.CurrentIsEOF(ch) {
			buf = append(buf, d.channels.CurrentByte(ch))
			cmd := CmdEOF
			return Packet{Cmd: cmd, Channel: pkt.Channel, Payload: buf}
		}
		buf = append(buf, d.channels.CurrentByte(ch))
		if !d.channels.Next(ch) {
			if d.channels.HasMore(ch) {
				if err := d.channels.Refill(ch, false); err != nil {
					return statusReply(pkt.Channel, ErrDriveNotReady)
				}
				continue
			}
			break
		}
	}
	return Packet{Cmd: CmdWrite, Channel: pkt.Channel, Payload: buf}
}

// handleWrite implements WRITE/EOF (§4.8): a short write closes the channel
// and reports WRITE_ERROR (ErrWriteVerify, the closest CBM DOS status to a
// failed write).
func (d *Dispatcher) handleWrite(pkt Packet) Packet {
	ch, ok := d.channels.Find(pkt.Channel)
	if !ok || ch.File == nil || ch.Endpoint == nil {
		return statusReply(pkt.Channel, ErrFileNotOpen)
	}
	isEOF := pkt.Cmd == CmdEOF
	n, status := ch.Endpoint.Provider.Write(ch.File, pkt.Payload, isEOF)
	if status != ErrOK || n != len(pkt.Payload) {
		d.channels.Close(pkt.Channel)
		if status == ErrOK {
			status = ErrWriteVerify
		}
		return statusReply(pkt.Channel, status)
	}
	return statusReply(pkt.Channel, ErrOK)
}

func (d *Dispatcher) handleClose(pkt Packet) Packet {
	d.channels.Close(pkt.Channel)
	return statusReply(pkt.Channel, ErrOK)
}

// handleDelete implements DELETE/SCRATCH (§4.8): reply carries SCRATCHED
// plus the match count, capped at 99 (§4.9).
func (d *Dispatcher) handleDelete(pkt Packet) Packet {
	drive, patterns := splitDrivePayload(pkt.Payload)
	ep := d.endpointForDrive(drive)
	if ep == nil {
		return statusReply(pkt.Channel, ErrDriveNotReady)
	}
	count, status := ep.Provider.Scratch(ep, patterns)
	if status != ErrOK {
		return statusReply(pkt.Channel, status)
	}
	if count > 99 {
		count = 99
	}
	d.errs.SetWithCount(ErrScratched, count)
	return Packet{Cmd: CmdReply, Channel: pkt.Channel, Payload: []byte{byte(ErrScratched), byte(count)}}
}

func (d *Dispatcher) handleRename(pkt Packet) Packet {
	drive, rest := splitDrivePayload(pkt.Payload)
	parts := strings.SplitN(rest, "\x00", 2)
	if len(parts) != 2 {
		return statusReply(pkt.Channel, ErrSyntaxUnknown)
	}
	ep := d.endpointForDrive(drive)
	if ep == nil {
		return statusReply(pkt.Channel, ErrDriveNotReady)
	}
	status := ep.Provider.Rename(ep, parts[1], parts[0])
	return statusReply(pkt.Channel, status)
}

func (d *Dispatcher) handleDirOp(pkt Packet) Packet {
	drive, name := splitDrivePayload(pkt.Payload)
	ep := d.endpointForDrive(drive)
	if ep == nil {
		return statusReply(pkt.Channel, ErrDriveNotReady)
	}
	var status StatusCode
	switch pkt.Cmd {
	case CmdCd:
		status = ep.Provider.Chdir(ep, name)
	case CmdMkdir:
		status = ep.Provider.Mkdir(ep, name)
	case CmdRmdir:
		status = ep.Provider.Rmdir(ep, name)
	}
	return statusReply(pkt.Channel, status)
}

// handleAssign implements ASSIGN (§4.7, §4.8): payload is the same grammar
// the command channel accepts.
func (d *Dispatcher) handleAssign(pkt Packet) Packet {
	pn, status := ParseName(string(pkt.Payload), ParseOptions{IsCommandChannel: true})
	if status != ErrOK {
		return statusReply(pkt.Channel, status)
	}
	status = d.drives.Assign(pn)
	return statusReply(pkt.Channel, status)
}

// handleBlock implements the direct-block sub-commands (§4.9 "Direct blocks").
func (d *Dispatcher) handleBlock(pkt Packet) Packet {
	ch, ok := d.channels.Find(pkt.Channel)
	if !ok || ch.File == nil || ch.Endpoint == nil {
		return statusReply(pkt.Channel, ErrFileNotOpen)
	}
	if len(pkt.Payload) < 1 {
		return statusReply(pkt.Channel, ErrSyntaxUnknown)
	}
	op := BlockOp(pkt.Payload[0])
	out, status := ch.Endpoint.Provider.Block(ch.Endpoint, ch.File, op, pkt.Payload[1:])
	if status != ErrOK {
		return statusReply(pkt.Channel, status)
	}
	return Packet{Cmd: CmdReply, Channel: pkt.Channel, Payload: append([]byte{byte(ErrOK)}, out...)}
}

// handleSetopt records an option for later RESET replay and acknowledges
// it (§4.8 "SETOPT").
func (d *Dispatcher) handleSetopt(pkt Packet) Packet {
	bus := 0
	cmd := strings.TrimRight(string(pkt.Payload), "\x00")
	if len(cmd) > 0 {
		if v, err := strconv.Atoi(cmd[:1]); err == nil {
			bus = v
			cmd = cmd[1:]
		}
	}
	d.config.Apply(bus, cmd)
	return statusReply(pkt.Channel, ErrOK)
}

// handleReset replays every previously applied SETOPT, in command-line
// order, back to the firmware so it can re-acquire its options after a
// reboot (§4.8 "RESET"). RESET itself sends no reply.
func (d *Dispatcher) handleReset(pkt Packet) {
	for _, opt := range d.config.Replay() {
		d.log.Debugf("replaying option for bus %d: %s", opt.Bus, opt.Command)
		payload := append([]byte(strconv.Itoa(opt.Bus)), append([]byte(opt.Command), 0)...)
		out := Packet{Cmd: CmdSetopt, Channel: ChanSetopt, Payload: payload}
		if err := d.framer.WritePacket(out); err != nil {
			d.log.Warnf("replaying option for bus %d failed: %v", opt.Bus, err)
			return
		}
	}
}

// splitDrivePayload splits a payload whose first byte is the drive number
// and returns the remainder unchanged as a string, including any nul
// separators it holds (§4.8 rows that take "drive, payload").
func splitDrivePayload(payload []byte) (int, string) {
	if len(payload) == 0 {
		return DriveAny, ""
	}
	return int(payload[0]), string(payload[1:])
}
