package xd2031

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xd2031/xd2031/pkg/runtimeconfig"
)

type dispatchProvider struct {
	files map[string][]byte
}

func (p *dispatchProvider) Name() string { return "test" }
func (p *dispatchProvider) NewEndpoint(path string, parent *Endpoint) (*Endpoint, StatusCode) {
	return &Endpoint{Provider: p, Base: path, Current: path}, ErrOK
}
func (p *dispatchProvider) Open(ep *Endpoint, kind OpenKind, parsed ParsedName) (*FileHandle, StatusCode) {
	switch kind {
	case OpenRD:
		content, ok := p.files[parsed.Name]
		if !ok {
			return nil, ErrFileNotFound
		}
		return &FileHandle{Endpoint: ep, Path: parsed.Name, Native: append([]byte(nil), content...)}, ErrOK
	case OpenWR:
		if _, ok := p.files[parsed.Name]; ok {
			return nil, ErrFileExists
		}
		p.files[parsed.Name] = nil
		return &FileHandle{Endpoint: ep, Path: parsed.Name, Writable: true}, ErrOK
	}
	return nil, ErrSyntaxUnknown
}
func (p *dispatchProvider) Read(fh *FileHandle, buf []byte) (int, bool, StatusCode) {
	content, _ := fh.Native.([]byte)
	n := copy(buf, content)
	fh.Native = content[n:]
	return n, len(content[n:]) == 0, ErrOK
}
func (p *dispatchProvider) Write(fh *FileHandle, buf []byte, eof bool) (int, StatusCode) {
	p.files[fh.Path] = append(p.files[fh.Path], buf...)
	return len(buf), ErrOK
}
func (p *dispatchProvider) Close(fh *FileHandle) StatusCode { return ErrOK }
func (p *dispatchProvider) Scratch(ep *Endpoint, pat string) (int, StatusCode) {
	n := 0
	for name := range p.files {
		if MatchWildcard(pat, name, true) {
			delete(p.files, name)
			n++
		}
	}
	return n, ErrOK
}
func (p *dispatchProvider) Rename(ep *Endpoint, from, to string) StatusCode {
	content, ok := p.files[from]
	if !ok {
		return ErrFileNotFound
	}
	p.files[to] = content
	delete(p.files, from)
	return ErrOK
}
func (p *dispatchProvider) Chdir(ep *Endpoint, name string) StatusCode { return ErrOK }
func (p *dispatchProvider) Mkdir(ep *Endpoint, name string) StatusCode { return ErrOK }
func (p *dispatchProvider) Rmdir(ep *Endpoint, name string) StatusCode { return ErrOK }
func (p *dispatchProvider) Block(ep *Endpoint, fh *FileHandle, op BlockOp, args []byte) ([]byte, StatusCode) {
	return []byte{0xAA}, ErrOK
}

func newTestDispatcher(files map[string][]byte) *Dispatcher {
	prov := &dispatchProvider{files: files}
	dt := NewDriveTable(newTestFactory())
	ep := &Endpoint{Provider: prov, Base: "/", Current: "/", IsAssigned: true}
	dt.Set(0, ep)
	return NewDispatcher(nil, dt, runtimeconfig.NewStore())
}

func TestDispatcherOpenReadReportsEOF(t *testing.T) {
	d := newTestDispatcher(map[string][]byte{"HELLO": []byte("HI")})
	reply, _ := d.Dispatch(Packet{Cmd: CmdOpenRd, Channel: 2, Payload: append([]byte{0}, []byte("HELLO")...)})
	require.Equal(t, byte(ErrOK), reply.Payload[0])

	r, _ := d.Dispatch(Packet{Cmd: CmdRead, Channel: 2})
	assert.Equal(t, CmdEOF, r.Cmd)
	assert.Equal(t, []byte("HI"), r.Payload)
}

func TestDispatcherOpenWriteThenClose(t *testing.T) {
	d := newTestDispatcher(map[string][]byte{})
	reply, _ := d.Dispatch(Packet{Cmd: CmdOpenWr, Channel: 3, Payload: append([]byte{0}, []byte("OUT")...)})
	require.Equal(t, byte(ErrOK), reply.Payload[0])

	w, _ := d.Dispatch(Packet{Cmd: CmdEOF, Channel: 3, Payload: []byte("DATA")})
	assert.Equal(t, byte(ErrOK), w.Payload[0])

	c, _ := d.Dispatch(Packet{Cmd: CmdClose, Channel: 3})
	assert.Equal(t, byte(ErrOK), c.Payload[0])
}

func TestDispatcherDeleteReportsScratchedWithCount(t *testing.T) {
	d := newTestDispatcher(map[string][]byte{"A": nil, "B": nil})
	reply, _ := d.Dispatch(Packet{Cmd: CmdDelete, Channel: ChanCmd, Payload: append([]byte{0}, []byte("*")...)})
	assert.Equal(t, byte(ErrScratched), reply.Payload[0])
	assert.Equal(t, byte(2), reply.Payload[1])
}

func TestDispatcherSetoptThenResetReplays(t *testing.T) {
	var wire bytes.Buffer
	d := NewDispatcher(NewFramer(&wire), NewDriveTable(newTestFactory()), runtimeconfig.NewStore())

	reply, _ := d.Dispatch(Packet{Cmd: CmdSetopt, Channel: ChanSetopt, Payload: []byte("0U=8")})
	assert.Equal(t, byte(ErrOK), reply.Payload[0])
	require.Len(t, d.config.Replay(), 1)

	_, ok := d.Dispatch(Packet{Cmd: CmdReset})
	assert.False(t, ok, "RESET sends no reply of its own")

	readBack := NewFramer(&wire)
	replayed, err := readBack.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, CmdSetopt, replayed.Cmd)
	assert.Equal(t, ChanSetopt, replayed.Channel)
	assert.Equal(t, "0U=8", string(bytes.TrimRight(replayed.Payload, "\x00")))
}

func TestDispatcherReadOnMissingChannelIsFileNotOpen(t *testing.T) {
	d := newTestDispatcher(map[string][]byte{})
	reply, _ := d.Dispatch(Packet{Cmd: CmdRead, Channel: 9})
	assert.Equal(t, byte(ErrFileNotOpen), reply.Payload[0])
}

func TestDispatcherTermLogsAndRepliesNothing(t *testing.T) {
	d := newTestDispatcher(map[string][]byte{})
	_, ok := d.Dispatch(Packet{Cmd: CmdTerm, Payload: []byte("hello from firmware\x00")})
	assert.False(t, ok)
}
