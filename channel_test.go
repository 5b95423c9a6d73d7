package xd2031

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memProvider struct {
	data map[string][]byte
}

func (p *memProvider) Name() string { return "mem" }
func (p *memProvider) NewEndpoint(path string, parent *Endpoint) (*Endpoint, StatusCode) {
	return &Endpoint{Provider: p, Base: path, Current: path}, ErrOK
}
func (p *memProvider) Open(ep *Endpoint, kind OpenKind, parsed ParsedName) (*FileHandle, StatusCode) {
	return &FileHandle{Endpoint: ep, Path: parsed.Name}, ErrOK
}
func (p *memProvider) Read(fh *FileHandle, buf []byte) (int, bool, StatusCode) {
	content := p.data[fh.Path]
	n := copy(buf, content)
	p.data[fh.Path] = content[n:]
	return n, len(p.data[fh.Path]) == 0, ErrOK
}
func (p *memProvider) Write(fh *FileHandle, buf []byte, eof bool) (int, StatusCode) {
	p.data[fh.Path] = append(p.data[fh.Path], buf...)
	return len(buf), ErrOK
}
func (p *memProvider) Close(fh *FileHandle) StatusCode                    { return ErrOK }
func (p *memProvider) Scratch(ep *Endpoint, pat string) (int, StatusCode) { return 0, ErrOK }
func (p *memProvider) Rename(ep *Endpoint, from, to string) StatusCode   { return ErrOK }
func (p *memProvider) Chdir(ep *Endpoint, name string) StatusCode       { return ErrOK }
func (p *memProvider) Mkdir(ep *Endpoint, name string) StatusCode       { return ErrOK }
func (p *memProvider) Rmdir(ep *Endpoint, name string) StatusCode       { return ErrOK }
func (p *memProvider) Block(ep *Endpoint, fh *FileHandle, op BlockOp, args []byte) ([]byte, StatusCode) {
	return nil, ErrOK
}

func TestChannelTablePreloadAndConsume(t *testing.T) {
	prov := &memProvider{data: map[string][]byte{"HELLO": []byte("HI")}}
	ep := &Endpoint{Provider: prov}
	tbl := NewChannelTable()
	ch := tbl.Open(5, ModeReadOnly, ep, nil, 0)
	ch.File = &FileHandle{Path: "HELLO"}

	require.NoError(t, tbl.Preload(ch))
	assert.Equal(t, byte('H'), tbl.CurrentByte(ch))
	assert.True(t, tbl.Next(ch))
	assert.Equal(t, byte('I'), tbl.CurrentByte(ch))
	assert.True(t, tbl.CurrentIsEOF(ch))
}

func TestChannelTablePutBuffersWriteUntilEOI(t *testing.T) {
	prov := &memProvider{data: map[string][]byte{}}
	ep := &Endpoint{Provider: prov}
	tbl := NewChannelTable()
	ch := tbl.Open(2, ModeWriteOnly, ep, nil, 0)
	ch.File = &FileHandle{Path: "OUT"}

	require.NoError(t, tbl.Put(ch, 'A', false))
	require.NoError(t, tbl.Put(ch, 'B', true))
	assert.Equal(t, []byte("AB"), prov.data["OUT"])
}

func TestChannelTableCloseReleasesEndpoint(t *testing.T) {
	prov := &memProvider{data: map[string][]byte{}}
	ep := &Endpoint{Provider: prov}
	tbl := NewChannelTable()
	ch := tbl.Open(1, ModeReadOnly, ep, nil, 0)
	ch.File = &FileHandle{Path: "X"}
	ep.addOpenFile(ch.File)

	tbl.Close(1)
	_, ok := tbl.Find(1)
	assert.False(t, ok)
	assert.Equal(t, 0, ep.RefCount)
}

func TestChannelTableOpenHealsStaleBinding(t *testing.T) {
	prov := &memProvider{data: map[string][]byte{}}
	ep1 := &Endpoint{Provider: prov}
	ep2 := &Endpoint{Provider: prov}
	tbl := NewChannelTable()

	first := tbl.Open(3, ModeReadOnly, ep1, nil, 0)
	first.File = &FileHandle{Path: "OLD"}
	ep1.addOpenFile(first.File)

	second := tbl.Open(3, ModeReadOnly, ep2, nil, 0)

	ch, ok := tbl.Find(3)
	require.True(t, ok)
	assert.Same(t, second, ch)
	assert.Equal(t, 0, ep1.RefCount)
	assert.Equal(t, 1, ep2.RefCount)
}

func TestChannelTableCloseRangeClosesAllInRange(t *testing.T) {
	tbl := NewChannelTable()
	tbl.Open(0, ModeReadOnly, nil, nil, 0)
	tbl.Open(5, ModeReadOnly, nil, nil, 0)
	tbl.Open(15, ModeReadOnly, nil, nil, 0)
	tbl.CloseRange(0, 15)
	for _, id := range []uint8{0, 5, 15} {
		_, ok := tbl.Find(id)
		assert.False(t, ok)
	}
}
