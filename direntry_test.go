package xd2031

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDirEntryLayout(t *testing.T) {
	e := DirEntry{Size: 258, Year: 24, Month: 1, Day: 2, Hour: 3, Min: 4, Mode: DirModeFil, Attr: DirAttrLocked, Name: "HELLO"}
	out := FormatDirEntry(e)
	require.Equal(t, dirOffName+len("HELLO")+1, len(out))
	assert.Equal(t, uint32(258), binary.LittleEndian.Uint32(out[dirOffLen:]))
	assert.Equal(t, uint8(24), out[dirOffYear])
	assert.Equal(t, uint8(DirModeFil), out[dirOffMode])
	assert.Equal(t, uint8(DirAttrLocked), out[dirOffAttr])
	assert.Equal(t, "HELLO", string(out[dirOffName:len(out)-1]))
	assert.Equal(t, byte(0), out[len(out)-1])
}

func TestNewHeaderAndFreeEntries(t *testing.T) {
	hdr := NewHeaderEntry(2, "MYDISK")
	assert.Equal(t, DirModeNam, hdr.Mode)
	assert.Equal(t, uint32(2), hdr.Size)

	free := NewFreeEntry(664)
	assert.Equal(t, DirModeFre, free.Mode)
	assert.Equal(t, uint32(664), free.Size)
}

func TestMapFileTypeFallsBackToPRG(t *testing.T) {
	assert.Equal(t, TypePRG, mapFileType(TypeNone))
	assert.Equal(t, TypeSEQ, mapFileType(TypeSEQ))
}

func TestTruncateNameAppliesWireLimit(t *testing.T) {
	assert.Equal(t, "0123456789ABCDEF", TruncateName("0123456789ABCDEFGHI"))
	assert.Equal(t, "SHORT", TruncateName("SHORT"))
}
