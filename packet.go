package xd2031

import (
	"errors"
	"io"

	log "github.com/sirupsen/logrus"
)

// Command is the wire command byte occupying Packet header offset 0.
type Command uint8

// Packet command codes, grounded on the "Operations" table of §4.8 and the
// external wire-format description of §6.
const (
	CmdTerm    Command = 0x01
	CmdOpenRd  Command = 0x02
	CmdOpenWr  Command = 0x03
	CmdOpenAp  Command = 0x04
	CmdOpenRw  Command = 0x05
	CmdOpenOw  Command = 0x06
	CmdOpenDr  Command = 0x07
	CmdRead    Command = 0x08
	CmdWrite   Command = 0x09
	CmdReply   Command = 0x0A // FS_REPLY
	CmdEOF     Command = 0x0B
	CmdClose   Command = 0x0C
	CmdDelete  Command = 0x0D
	CmdRename  Command = 0x0E
	CmdCd      Command = 0x0F
	CmdMkdir   Command = 0x10
	CmdRmdir   Command = 0x11
	CmdAssign  Command = 0x12
	CmdBlock   Command = 0x13
	CmdSetopt  Command = 0x14
	CmdReset   Command = 0x15
	CmdSync    Command = 0xFF // FS_SYNC, idempotent resync byte
)

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

var commandNames = map[Command]string{
	CmdTerm: "TERM", CmdOpenRd: "OPEN_RD", CmdOpenWr: "OPEN_WR", CmdOpenAp: "OPEN_AP",
	CmdOpenRw: "OPEN_RW", CmdOpenOw: "OPEN_OW", CmdOpenDr: "OPEN_DR", CmdRead: "READ",
	CmdWrite: "WRITE", CmdReply: "REPLY", CmdEOF: "EOF", CmdClose: "CLOSE",
	CmdDelete: "DELETE", CmdRename: "RENAME", CmdCd: "CHDIR", CmdMkdir: "MKDIR",
	CmdRmdir: "RMDIR", CmdAssign: "ASSIGN", CmdBlock: "BLOCK", CmdSetopt: "SETOPT",
	CmdReset: "RESET", CmdSync: "SYNC",
}

// Reserved channel/control identifiers (§6).
const (
	ChanCmd    uint8 = 0xF0 // FSFD_CMD: pure command, no bound channel
	ChanSetopt uint8 = 0xF1 // FSFD_SETOPT: option replay
)

// HeaderSize is the fixed 3-byte packet header: cmd, len, channel.
const HeaderSize = 3

// Packet is the unit exchanged between firmware and server (§3, §6).
//
//	byte 0: cmd
//	byte 1: len  (total, including header; >= 3)
//	byte 2: channel or control id
//	byte 3..len-1: payload
type Packet struct {
	Cmd     Command
	Channel uint8
	Payload []byte
}

// Len returns the on-wire total length this packet would occupy.
func (p Packet) Len() int {
	return HeaderSize + len(p.Payload)
}

// Marshal renders the packet to its on-wire byte form.
func (p Packet) Marshal() []byte {
	out := make([]byte, p.Len())
	out[0] = byte(p.Cmd)
	out[1] = byte(p.Len())
	out[2] = p.Channel
	copy(out[HeaderSize:], p.Payload)
	return out
}

// Framer reads and writes whole packets over a byte stream with reliable
// delivery (the serial link and its electrical/UART layers are external
// collaborators per §1; Framer only ever sees a stream of bytes).
//
// Algorithm per §4.1: a ring holds unconsumed bytes; a full packet is
// extracted once at least a 3-byte header is available and the length
// field promises enough trailing bytes. A malformed length (< 3) is
// resynchronized byte-by-byte. The sync command byte is mirrored back
// immediately and never surfaced as a packet, so link-layer resets can
// always re-establish frame alignment (P2).
type Framer struct {
	rw  io.ReadWriter
	rx  *ringBuffer
	log *log.Entry
}

// NewFramer wraps a reliable byte stream (e.g. the serial link, or an
// in-memory pipe in tests) with packet boundaries.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{
		rw:  rw,
		rx:  newRingBuffer(512),
		log: log.WithField("component", "framer"),
	}
}

// ReadPacket blocks until a full packet has been extracted from the
// stream, resynchronizing past any malformed length fields or inline sync
// bytes as it goes.
func (f *Framer) ReadPacket() (Packet, error) {
	readBuf := make([]byte, 256)
	for {
		if pkt, ok, err := f.extract(); err != nil {
			return Packet{}, err
		} else if ok {
			return pkt, nil
		}
		n, err := f.rw.Read(readBuf)
		if n > 0 {
			f.rx.appendSlice(readBuf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) && n > 0 {
				continue
			}
			return Packet{}, err
		}
		if n == 0 {
			return Packet{}, io.EOF
		}
	}
}

// extract tries to pull one packet out of the ring without blocking.
// Returns ok=false when more bytes are needed.
func (f *Framer) extract() (Packet, bool, error) {
	for {
		avail := f.rx.peek()
		if len(avail) == 0 {
			return Packet{}, false, nil
		}
		if Command(avail[0]) == CmdSync {
			// Mirror a single sync byte back to let the peer realign, then
			// drop it - it never becomes a packet (§4.1, §6).
			if _, err := f.rw.Write([]byte{byte(CmdSync)}); err != nil {
				return Packet{}, false, err
			}
			f.rx.advance(1)
			continue
		}
		if len(avail) < 2 {
			return Packet{}, false, nil
		}
		length := int(avail[1])
		if length < HeaderSize {
			// Malformed: resync byte by byte (§4.1).
			f.log.Warnf("malformed packet length %d, resyncing", length)
			f.rx.advance(1)
			continue
		}
		if len(avail) < length {
			return Packet{}, false, nil
		}
		pkt := Packet{
			Cmd:     Command(avail[0]),
			Channel: avail[2],
			Payload: append([]byte(nil), avail[HeaderSize:length]...),
		}
		f.rx.advance(length)
		return pkt, true, nil
	}
}

// WritePacket writes one whole packet to the stream.
func (f *Framer) WritePacket(p Packet) error {
	data := p.Marshal()
	n, err := f.rw.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return ErrShortWrite
	}
	return nil
}
