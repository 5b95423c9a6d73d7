package xd2031

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNameOpenPlainFile(t *testing.T) {
	pn, status := ParseName("HELLO", ParseOptions{})
	require.Equal(t, ErrOK, status)
	assert.Equal(t, "HELLO", pn.Name)
	assert.Equal(t, DriveAny, pn.Drive)
}

func TestParseNameOpenWithDriveTypeAndAccess(t *testing.T) {
	pn, status := ParseName("1:HELLO,S,W", ParseOptions{})
	require.Equal(t, ErrOK, status)
	assert.Equal(t, 1, pn.Drive)
	assert.Equal(t, "HELLO", pn.Name)
	assert.Equal(t, TypeSEQ, pn.Type)
	assert.Equal(t, AccessWrite, pn.Access)
}

func TestParseNameOpenRelWithoutRecordLenFails(t *testing.T) {
	_, status := ParseName("HELLO,L", ParseOptions{})
	assert.Equal(t, ErrFileNotFound, status)
}

func TestParseNameOpenRelWithRecordLen(t *testing.T) {
	pn, status := ParseName("HELLO,L40", ParseOptions{})
	require.Equal(t, ErrOK, status)
	assert.Equal(t, TypeREL, pn.Type)
	assert.Equal(t, 40, pn.RecordLen)
}

func TestParseNameDirShortcut(t *testing.T) {
	pn, status := ParseName("$1*.PRG", ParseOptions{})
	require.Equal(t, ErrOK, status)
	assert.Equal(t, CmdDir, pn.Command)
	assert.Equal(t, 1, pn.DirDrive)
	assert.Equal(t, "*.PRG", pn.DirPattern)
}

func TestParseNameDirShortcutWithAccessField(t *testing.T) {
	pn, status := ParseName("$,W", ParseOptions{})
	require.Equal(t, ErrOK, status)
	assert.Equal(t, CmdDir, pn.Command)
	assert.Equal(t, AccessWrite, pn.Access)
}

func TestParseNameCommandChannelRmdirMatchedBeforeRename(t *testing.T) {
	pn, status := ParseName("RMOLDDIR", ParseOptions{IsCommandChannel: true})
	require.Equal(t, ErrOK, status)
	assert.Equal(t, CmdRmdir, pn.Command)
	assert.Equal(t, "OLDDIR", pn.Name)
}

func TestParseNameCommandChannelRename(t *testing.T) {
	pn, status := ParseName("RNEW=OLD", ParseOptions{IsCommandChannel: true})
	require.Equal(t, ErrOK, status)
	assert.Equal(t, CmdRename, pn.Command)
	assert.Equal(t, "NEW\x00OLD", pn.Name)
}

func TestParseNameCommandChannelRenameRejectsPathSeparatorInTarget(t *testing.T) {
	_, status := ParseName("RNEW/SUB=OLD", ParseOptions{IsCommandChannel: true})
	assert.Equal(t, ErrSyntaxUnknown, status)
}

func TestParseNameCommandChannelUnknownPrefixIsSyntaxError(t *testing.T) {
	_, status := ParseName("ZZZ", ParseOptions{IsCommandChannel: true})
	assert.Equal(t, ErrSyntaxUnknown, status)
}

func TestParseNameSaveDefaultsToWriteAccess(t *testing.T) {
	pn, status := ParseName("OUTPUT", ParseOptions{IsSave: true})
	require.Equal(t, ErrOK, status)
	assert.Equal(t, AccessWrite, pn.Access)
}
