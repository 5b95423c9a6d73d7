// Package localfs is the reference Provider backend (C9, §4.9): it maps
// drives straight onto directories of the host filesystem. It registers
// itself against the process-wide provider factory from an init() func,
// the same registration shape pkg/transport uses for transports.
package localfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xd2031/xd2031"
)

func init() {
	xd2031.RegisterProvider("fs", func() xd2031.Provider { return &Provider{} })
}

const blockSize = 256

// Provider is stateless; all per-drive state lives on the *xd2031.Endpoint
// and *xd2031.FileHandle it's handed.
type Provider struct{}

func (p *Provider) Name() string { return "fs" }

// NewEndpoint resolves path to a canonical absolute directory and, if
// parent is set, requires it be contained inside parent's base (§4.9
// "Endpoint creation"). With a parent, a relative path is taken relative
// to the parent's base.
func (p *Provider) NewEndpoint(path string, parent *xd2031.Endpoint) (*xd2031.Endpoint, xd2031.StatusCode) {
	if parent != nil && !filepath.IsAbs(path) {
		path = filepath.Join(parent.Base, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, xd2031.ErrNoPermission
	}
	clean := filepath.Clean(abs)
	if parent != nil && !withinBase(parent.Base, clean) {
		return nil, xd2031.ErrNoPermission
	}
	info, err := os.Stat(clean)
	if err != nil || !info.IsDir() {
		return nil, xd2031.ErrDriveNotReady
	}
	return &xd2031.Endpoint{Provider: p, Base: clean, Current: clean}, xd2031.ErrOK
}

func withinBase(base, candidate string) bool {
	if candidate == base {
		return true
	}
	return strings.HasPrefix(candidate, base+string(filepath.Separator))
}

// resolve joins name against the endpoint's current directory and checks
// the result never escapes the endpoint's base (§4.9 "Name containment").
func resolve(ep *xd2031.Endpoint, name string) (string, xd2031.StatusCode) {
	name = strings.ReplaceAll(name, "\\", "/")
	joined := name
	if !filepath.IsAbs(name) {
		joined = filepath.Join(ep.Current, name)
	}
	clean := filepath.Clean(joined)
	if !withinBase(ep.Base, clean) {
		return "", xd2031.ErrNoPermission
	}
	return clean, xd2031.ErrOK
}

// Open implements the six-variant table of §4.9.
func (p *Provider) Open(ep *xd2031.Endpoint, kind xd2031.OpenKind, parsed xd2031.ParsedName) (*xd2031.FileHandle, xd2031.StatusCode) {
	if strings.HasPrefix(parsed.Name, "#") {
		return p.openBlock(ep, parsed)
	}
	if kind == xd2031.OpenDR {
		return p.openDir(ep, parsed)
	}

	path, status := resolve(ep, parsed.Name)
	if status != xd2031.ErrOK {
		return nil, status
	}

	switch kind {
	case xd2031.OpenRD:
		f, err := os.Open(path)
		if err != nil {
			return nil, xd2031.ErrFileNotFound
		}
		return &xd2031.FileHandle{Endpoint: ep, Path: path, Type: parsed.Type, Seekable: true, Native: f}, xd2031.ErrOK

	case xd2031.OpenWR:
		if _, err := os.Stat(path); err == nil {
			return nil, xd2031.ErrFileExists
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			return nil, xd2031.ErrFileExists
		}
		return newRelAware(ep, path, parsed, f), xd2031.ErrOK

	case xd2031.OpenOW:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return nil, xd2031.ErrNoPermission
		}
		return newRelAware(ep, path, parsed, f), xd2031.ErrOK

	case xd2031.OpenAP:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, xd2031.ErrFileNotFound
		}
		return &xd2031.FileHandle{Endpoint: ep, Path: path, Type: parsed.Type, Writable: true, Seekable: true, Native: f}, xd2031.ErrOK

	case xd2031.OpenRW:
		if parsed.Type == xd2031.TypeREL {
			return p.openRel(ep, path, parsed)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, xd2031.ErrNoPermission
		}
		return &xd2031.FileHandle{Endpoint: ep, Path: path, Type: parsed.Type, Writable: true, Seekable: true, Native: f}, xd2031.ErrOK
	}

	return nil, xd2031.ErrSyntaxUnknown
}

func newRelAware(ep *xd2031.Endpoint, path string, parsed xd2031.ParsedName, f *os.File) *xd2031.FileHandle {
	fh := &xd2031.FileHandle{Endpoint: ep, Path: path, Type: parsed.Type, Writable: true, Seekable: true, Native: f}
	if parsed.Type == xd2031.TypeREL {
		fh.RecordLen = parsed.RecordLen
	}
	return fh
}

// openRel opens (creating if needed) a REL file. A record length must have
// been supplied by the parser; ParseName already rejects REL without one,
// but a caller constructing a ParsedName by hand could still reach here
// (§4.9 "REL files").
func (p *Provider) openRel(ep *xd2031.Endpoint, path string, parsed xd2031.ParsedName) (*xd2031.FileHandle, xd2031.StatusCode) {
	if parsed.RecordLen <= 0 {
		return nil, xd2031.ErrFileNotFound
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, xd2031.ErrNoPermission
	}
	return &xd2031.FileHandle{
		Endpoint: ep, Path: path, Type: xd2031.TypeREL, RecordLen: parsed.RecordLen,
		Writable: true, Seekable: true, Native: f,
	}, xd2031.ErrOK
}

// SeekRecord positions a REL file handle at record n (zero-based),
// expanding the file with filler records if it is currently too short
// (§4.9 "On seek to record N..."). Exported for callers outside this
// package; no wire command of the dispatcher calls it.
func SeekRecord(fh *xd2031.FileHandle, n int) xd2031.StatusCode {
	f, ok := fh.Native.(*os.File)
	if !ok || fh.Type != xd2031.TypeREL || fh.RecordLen <= 0 {
		return xd2031.ErrFileTypeMismatch
	}
	target := int64(n) * int64(fh.RecordLen)
	if err := expandTo(f, target+int64(fh.RecordLen), fh.RecordLen); err != nil {
		return xd2031.ErrRecordOverflow
	}
	if _, err := f.Seek(target, io.SeekStart); err != nil {
		return xd2031.ErrRecordOverflow
	}
	return xd2031.ErrOK
}

// expandTo grows f to at least size bytes, padding the tail record to a
// record boundary with zeros first, then writing whole filler records that
// start with 0xFF followed by zeros (§4.9 "deterministic filler").
func expandTo(f *os.File, size int64, recordLen int) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	cur := info.Size()
	if cur >= size {
		return nil
	}
	if rem := cur % int64(recordLen); rem != 0 {
		pad := int64(recordLen) - rem
		if _, err := f.WriteAt(make([]byte, pad), cur); err != nil {
			return err
		}
		cur += pad
	}
	filler := make([]byte, recordLen)
	filler[0] = 0xFF
	for cur < size {
		if _, err := f.WriteAt(filler, cur); err != nil {
			return err
		}
		cur += int64(recordLen)
	}
	return nil
}

func (p *Provider) Read(fh *xd2031.FileHandle, buf []byte) (int, bool, xd2031.StatusCode) {
	if fh.Mode == xd2031.HandleBlock {
		n := copy(buf, fh.BlockBuf[fh.BlockPos:])
		fh.BlockPos += n
		return n, fh.BlockPos >= blockSize, xd2031.ErrOK
	}
	f, ok := fh.Native.(*os.File)
	if !ok {
		return 0, true, xd2031.ErrFileNotOpen
	}
	n, err := f.Read(buf)
	if err != nil {
		if err == io.EOF {
			return n, true, xd2031.ErrOK
		}
		return n, true, xd2031.ErrReadNoData
	}
	// A short read off a plain os.File only ever means EOF is next.
	return n, n < len(buf), xd2031.ErrOK
}

func (p *Provider) Write(fh *xd2031.FileHandle, buf []byte, isEOF bool) (int, xd2031.StatusCode) {
	if fh.Mode == xd2031.HandleBlock {
		n := copy(fh.BlockBuf[fh.BlockPos:], buf)
		fh.BlockPos += n
		return n, xd2031.ErrOK
	}
	f, ok := fh.Native.(*os.File)
	if !ok {
		return 0, xd2031.ErrFileNotOpen
	}
	if fh.Type == xd2031.TypeREL && fh.RecordLen > 0 {
		pos, err := f.Seek(0, io.SeekCurrent)
		if err == nil {
			if err := expandTo(f, pos+int64(len(buf)), fh.RecordLen); err != nil {
				return 0, xd2031.ErrRecordOverflow
			}
		}
	}
	n, err := f.Write(buf)
	if err != nil {
		return n, xd2031.ErrWriteVerify
	}
	return n, xd2031.ErrOK
}

func (p *Provider) Close(fh *xd2031.FileHandle) xd2031.StatusCode {
	if fh.DirIter != nil {
		fh.DirIter.Close()
	}
	if f, ok := fh.Native.(*os.File); ok {
		f.Close()
	}
	return xd2031.ErrOK
}

// openDir synthesizes a directory listing (§4.9 "Directory synthesis").
func (p *Provider) openDir(ep *xd2031.Endpoint, parsed xd2031.ParsedName) (*xd2031.FileHandle, xd2031.StatusCode) {
	info, err := os.Stat(ep.Current)
	if err != nil || !info.IsDir() {
		return nil, xd2031.ErrFileNotFound
	}
	pattern := parsed.DirPattern
	if pattern == "" {
		pattern = "*"
	}
	entries, status := p.listDir(ep, pattern)
	if status != xd2031.ErrOK {
		return nil, status
	}
	drive := parsed.Drive
	if drive == xd2031.DriveAny {
		drive = 0
	}
	records := make([]xd2031.DirEntry, 0, len(entries)+2)
	records = append(records, xd2031.NewHeaderEntry(drive, xd2031.TruncateName(filepath.Base(ep.Current))))
	records = append(records, entries...)
	records = append(records, xd2031.NewFreeEntry(freeBlocks(ep.Current)))
	return &xd2031.FileHandle{Endpoint: ep, Mode: xd2031.HandleDir, DirIter: &dirIterator{entries: records}}, xd2031.ErrOK
}

func (p *Provider) listDir(ep *xd2031.Endpoint, pattern string) ([]xd2031.DirEntry, xd2031.StatusCode) {
	dirents, err := os.ReadDir(ep.Current)
	if err != nil {
		return nil, xd2031.ErrNoPermission
	}
	sort.Slice(dirents, func(i, j int) bool { return dirents[i].Name() < dirents[j].Name() })

	out := make([]xd2031.DirEntry, 0, len(dirents))
	for _, d := range dirents {
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			continue // hidden files never listed
		}
		if !xd2031.MatchWildcard(strings.ToUpper(pattern), strings.ToUpper(name), true) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		mode := xd2031.DirModeFil
		if d.IsDir() {
			mode = xd2031.DirModeDir
		}
		y, mo, da, h, mi := packTime(info.ModTime())
		out = append(out, xd2031.DirEntry{
			Size:  uint32(info.Size()),
			Year:  y, Month: mo, Day: da, Hour: h, Min: mi,
			Mode: mode,
			Attr: attrsFor(info),
			Type: fileTypeFor(name),
			Name: xd2031.TruncateName(strings.ToUpper(name)),
		})
	}
	return out, xd2031.ErrOK
}

func packTime(t time.Time) (year, month, day, hour, minute uint8) {
	y := t.Year() - 1900
	if y < 0 {
		y = 0
	}
	if y > 255 {
		y = 255
	}
	return uint8(y), uint8(t.Month()), uint8(t.Day()), uint8(t.Hour()), uint8(t.Minute())
}

func attrsFor(info os.FileInfo) uint8 {
	var attr uint8
	if info.Mode().Perm()&0200 == 0 {
		attr |= xd2031.DirAttrLocked
	}
	return attr
}

// fileTypeFor guesses a CBM file type from the host extension, falling
// back to PRG for anything it doesn't recognize (§4.11).
func fileTypeFor(name string) xd2031.FileType {
	switch strings.ToUpper(filepath.Ext(name)) {
	case ".SEQ", ".TXT":
		return xd2031.TypeSEQ
	case ".PRG":
		return xd2031.TypePRG
	case ".USR":
		return xd2031.TypeUSR
	case ".REL":
		return xd2031.TypeREL
	default:
		return xd2031.TypePRG
	}
}

func freeBlocks(dir string) uint32 {
	// The host filesystem's real free space isn't block-addressed the way
	// a floppy is; report a generous constant rather than feigning
	// precision we don't have.
	return 65535
}

type dirIterator struct {
	entries []xd2031.DirEntry
	pos     int
}

func (it *dirIterator) Next() (xd2031.DirEntry, bool, error) {
	if it.pos >= len(it.entries) {
		return xd2031.DirEntry{}, false, nil
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true, nil
}

func (it *dirIterator) Close() error { return nil }

// openBlock backs the "#"-prefixed direct-block names (§4.9 "Direct
// blocks"): a 256-byte buffer bound to the channel, filled/flushed by U1/U2
// rather than by ordinary READ/WRITE traffic against a real file.
func (p *Provider) openBlock(ep *xd2031.Endpoint, parsed xd2031.ParsedName) (*xd2031.FileHandle, xd2031.StatusCode) {
	return &xd2031.FileHandle{Endpoint: ep, Mode: xd2031.HandleBlock, Writable: true, Seekable: true}, xd2031.ErrOK
}

// Scratch deletes every file matching any of the comma-separated patterns
// in patterns, skipping directories and read-only files (§4.9 "Scratch").
func (p *Provider) Scratch(ep *xd2031.Endpoint, patterns string) (int, xd2031.StatusCode) {
	dirents, err := os.ReadDir(ep.Current)
	if err != nil {
		return 0, xd2031.ErrNoPermission
	}
	count := 0
	for _, pattern := range strings.Split(patterns, ",") {
		pattern = strings.ToUpper(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		for _, d := range dirents {
			if d.IsDir() {
				continue
			}
			name := d.Name()
			if !xd2031.MatchWildcard(pattern, strings.ToUpper(name), true) {
				continue
			}
			info, err := d.Info()
			if err != nil || info.Mode().Perm()&0200 == 0 {
				continue // read-only, skip
			}
			if err := os.Remove(filepath.Join(ep.Current, name)); err == nil {
				count++
				if count >= 99 {
					return count, xd2031.ErrOK
				}
			}
		}
	}
	return count, xd2031.ErrOK
}

func (p *Provider) Rename(ep *xd2031.Endpoint, from, to string) xd2031.StatusCode {
	if strings.ContainsAny(to, "/\\") {
		return xd2031.ErrSyntaxUnknown
	}
	fromPath, status := resolve(ep, from)
	if status != xd2031.ErrOK {
		return status
	}
	toPath, status := resolve(ep, to)
	if status != xd2031.ErrOK {
		return status
	}
	if _, err := os.Stat(fromPath); err != nil {
		return xd2031.ErrFileNotFound
	}
	if _, err := os.Stat(toPath); err == nil {
		return xd2031.ErrFileExists
	}
	if err := os.Rename(fromPath, toPath); err != nil {
		return xd2031.ErrNoPermission
	}
	return xd2031.ErrOK
}

func (p *Provider) Chdir(ep *xd2031.Endpoint, name string) xd2031.StatusCode {
	path, status := resolve(ep, name)
	if status != xd2031.ErrOK {
		return status
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return xd2031.ErrFileNotFound
	}
	ep.Current = path
	return xd2031.ErrOK
}

func (p *Provider) Mkdir(ep *xd2031.Endpoint, name string) xd2031.StatusCode {
	path, status := resolve(ep, name)
	if status != xd2031.ErrOK {
		return status
	}
	if err := os.Mkdir(path, 0755); err != nil {
		if os.IsExist(err) {
			return xd2031.ErrFileExists
		}
		return xd2031.ErrNoPermission
	}
	return xd2031.ErrOK
}

func (p *Provider) Rmdir(ep *xd2031.Endpoint, name string) xd2031.StatusCode {
	path, status := resolve(ep, name)
	if status != xd2031.ErrOK {
		return status
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return xd2031.ErrFileNotFound
		}
		return xd2031.ErrDirError
	}
	return xd2031.ErrOK
}

// Block implements the U1/U2 direct-block sub-commands against the
// 256-byte buffer openBlock allocated (§4.9). B-A/B-F (allocate/free) are
// accepted and acknowledged but are no-ops: the host filesystem has no
// block-availability bitmap to maintain.
func (p *Provider) Block(ep *xd2031.Endpoint, fh *xd2031.FileHandle, op xd2031.BlockOp, args []byte) ([]byte, xd2031.StatusCode) {
	switch op {
	case xd2031.BlockU1:
		n := copy(fh.BlockBuf[:], args)
		for i := n; i < blockSize; i++ {
			fh.BlockBuf[i] = 0
		}
		fh.BlockPos = 0
		return nil, xd2031.ErrOK
	case xd2031.BlockU2:
		out := append([]byte(nil), fh.BlockBuf[:]...)
		return out, xd2031.ErrOK
	case xd2031.BlockAlloc, xd2031.BlockFree:
		log.Debugf("localfs: block op %d is a no-op against a host filesystem", op)
		return nil, xd2031.ErrOK
	}
	return nil, xd2031.ErrSyntaxUnknown
}
