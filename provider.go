package xd2031

import "sync"

// OpenKind is the variant tag for Provider.Open, replacing the source's
// function-pointer-table dispatch with the tagged-variant protocol called
// for in §9 "Variant dispatch by provider".
type OpenKind uint8

const (
	OpenRD OpenKind = iota
	OpenWR
	OpenAP
	OpenRW
	OpenOW
	OpenDR
)

func (k OpenKind) String() string {
	switch k {
	case OpenRD:
		return "RD"
	case OpenWR:
		return "WR"
	case OpenAP:
		return "AP"
	case OpenRW:
		return "RW"
	case OpenOW:
		return "OW"
	case OpenDR:
		return "DR"
	default:
		return "?"
	}
}

// FileType is the CBM file type tag (§4.4 typespec grammar).
type FileType uint8

const (
	TypeNone FileType = iota
	TypeSEQ
	TypePRG
	TypeUSR
	TypeREL
	TypeDEL
)

// HandleMode distinguishes what a FileHandle actually wraps.
type HandleMode uint8

const (
	HandleFile HandleMode = iota
	HandleDir
	HandleBlock
)

// DirIterator yields directory entries one at a time; implemented by a
// provider's directory-read state (C9 directory synthesis, §4.9).
type DirIterator interface {
	Next() (DirEntry, bool, error)
	Close() error
}

// FileHandle is a single open file/dir/block-buffer, bound to exactly one
// Channel for its lifetime (§3 "File handle").
type FileHandle struct {
	Endpoint    *Endpoint
	Mode        HandleMode
	Type        FileType
	RecordLen   int
	Path        string // cached full OS path
	Writable    bool
	Seekable    bool
	DirIter     DirIterator
	BlockBuf    [256]byte
	BlockPos    int
	blockLoaded bool

	// Native is an opaque handle into the provider's backing storage; the
	// local filesystem provider stores an *os.File here but the field is
	// untyped so other providers (FTP, HTTP, disk-image - out of scope per
	// §1 but the interface leaves room for them) can store their own.
	Native any
}

// Endpoint is a provider instance rooted at a path, owning file handles for
// one drive assignment (§3 "Endpoint", §GLOSSARY).
type Endpoint struct {
	mu          sync.Mutex
	Provider    Provider
	Base        string // canonical absolute base path
	Current     string // canonical current path, always inside Base
	RefCount    int
	OpenFiles   []*FileHandle
	IsTemporary bool
	IsAssigned  bool
	Private     any // provider-private endpoint state
}

// Retain increments the endpoint's reference count (ASSIGN, new channel bind).
func (e *Endpoint) Retain() {
	e.mu.Lock()
	e.RefCount++
	e.mu.Unlock()
}

// Release decrements the reference count and reports whether the endpoint
// is now eligible for disposal: refcount zero, not permanently assigned,
// and no open files remain (§9 "Ownership of endpoint references").
func (e *Endpoint) Release() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.RefCount > 0 {
		e.RefCount--
	}
	return e.RefCount == 0 && !e.IsAssigned && len(e.OpenFiles) == 0
}

func (e *Endpoint) addOpenFile(fh *FileHandle) {
	e.mu.Lock()
	e.OpenFiles = append(e.OpenFiles, fh)
	e.mu.Unlock()
}

func (e *Endpoint) removeOpenFile(fh *FileHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, f := range e.OpenFiles {
		if f == fh {
			e.OpenFiles = append(e.OpenFiles[:i], e.OpenFiles[i+1:]...)
			return
		}
	}
}

// BlockOp is a direct-block sub-command (U1/U2/B-A/B-F), §4.9 "Direct blocks".
type BlockOp uint8

const (
	BlockU1 BlockOp = iota
	BlockU2
	BlockAlloc
	BlockFree
)

// Provider is the pluggable backend interface (§GLOSSARY "Provider"). The
// local filesystem provider (C9) is the reference implementation; FTP,
// HTTP, FAT-on-SD and disk-image providers are out of scope per §1 but
// register against the same interface (see RegisterProvider).
type Provider interface {
	// Name identifies the provider for ASSIGN's "provider-name" token.
	Name() string

	// NewEndpoint resolves path to a canonical root and returns a new
	// endpoint. If parent is non-nil the result must be contained within
	// parent's base path (§4.7, §4.9 "Endpoint creation").
	NewEndpoint(path string, parent *Endpoint) (*Endpoint, StatusCode)

	// Open implements the six open variants of §4.9's "Open semantics"
	// table, given a name already run through the command-line parser.
	Open(ep *Endpoint, kind OpenKind, parsed ParsedName) (*FileHandle, StatusCode)

	Read(fh *FileHandle, buf []byte) (n int, eof bool, status StatusCode)
	Write(fh *FileHandle, buf []byte, isEOF bool) (n int, status StatusCode)
	Close(fh *FileHandle) StatusCode

	Scratch(ep *Endpoint, patterns string) (count int, status StatusCode)
	Rename(ep *Endpoint, from, to string) StatusCode
	Chdir(ep *Endpoint, name string) StatusCode
	Mkdir(ep *Endpoint, name string) StatusCode
	Rmdir(ep *Endpoint, name string) StatusCode

	// Block implements the U1/U2/B-A/B-F direct-block sub-commands.
	Block(ep *Endpoint, fh *FileHandle, op BlockOp, args []byte) ([]byte, StatusCode)
}

// DirMode is the directory-entry type tag laid out by C11 (§4.11).
type DirMode uint8

const (
	DirModeNam DirMode = iota // header record
	DirModeFil                // regular file
	DirModeDir                // subdirectory
	DirModeFre                // trailing "blocks free" record
)

func (m DirMode) String() string {
	switch m {
	case DirModeNam:
		return "NAM"
	case DirModeFil:
		return "FIL"
	case DirModeDir:
		return "DIR"
	case DirModeFre:
		return "FRE"
	default:
		return "?"
	}
}

// Directory-entry attribute bitmask (§4.9, §4.11).
const (
	DirAttrLocked uint8 = 1 << iota
	DirAttrHidden
	DirAttrSystem
)

// DirEntry is one synthesized directory record (§4.11).
type DirEntry struct {
	Size  uint32
	Year  uint8
	Month uint8
	Day   uint8
	Hour  uint8
	Min   uint8
	Mode  DirMode
	Attr  uint8
	Type  FileType
	Name  string
}
