package xd2031

import "encoding/binary"

// Directory-record field offsets, fixed relative to record start (C11, §4.11).
const (
	dirOffLen   = 0 // FS_DIR_LEN, 4 bytes little-endian
	dirOffYear  = 4
	dirOffMonth = 5
	dirOffDay   = 6
	dirOffHour  = 7
	dirOffMin   = 8
	dirOffMode  = 9
	dirOffAttr  = 10
	dirOffName  = 11
)

// maxDirName truncates names on the wire; platforms that can't supply a
// full name longer than this fall back to their OS short name before
// calling FormatDirEntry (§4.11 "Names longer than 16 bytes...").
const maxDirName = 16

// FormatDirEntry renders one directory record to its on-wire byte layout.
// The header (NAM) and trailing (FRE) records are produced the same way,
// just with different Mode/Name/Size content.
func FormatDirEntry(e DirEntry) []byte {
	out := make([]byte, dirOffName+len(e.Name)+1)
	binary.LittleEndian.PutUint32(out[dirOffLen:], e.Size)
	out[dirOffYear] = e.Year
	out[dirOffMonth] = e.Month
	out[dirOffDay] = e.Day
	out[dirOffHour] = e.Hour
	out[dirOffMin] = e.Min
	out[dirOffMode] = uint8(e.Mode)
	out[dirOffAttr] = e.Attr
	copy(out[dirOffName:], e.Name)
	out[len(out)-1] = 0
	return out
}

// NewHeaderEntry builds the leading NAM record for a directory listing.
func NewHeaderEntry(drive int, name string) DirEntry {
	return DirEntry{Mode: DirModeNam, Size: uint32(drive), Name: name}
}

// NewFreeEntry builds the trailing FRE record carrying the endpoint's free
// byte count.
func NewFreeEntry(freeBytes uint32) DirEntry {
	return DirEntry{Mode: DirModeFre, Size: freeBytes, Name: "BLOCKS FREE"}
}

// mapFileType maps an unrecognized OS file type to PRG, the documented
// fallback (§4.11 "Unknown file types map to PRG").
func mapFileType(t FileType) FileType {
	switch t {
	case TypeSEQ, TypePRG, TypeUSR, TypeREL, TypeDEL:
		return t
	default:
		return TypePRG
	}
}

// TruncateName applies the 16-byte wire limit, per §4.11. Providers call
// this on a name before building a DirEntry; FormatDirEntry itself trusts
// its input is already within bounds.
func TruncateName(name string) string {
	if len(name) <= maxDirName {
		return name
	}
	return name[:maxDirName]
}
