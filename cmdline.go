package xd2031

import (
	"strconv"
	"strings"
)

// CommandKind is the parsed command-channel operation (§3 "Parsed name",
// §4.4).
type CommandKind uint8

const (
	CmdNone CommandKind = iota
	CmdDir
	CmdScratch
	CmdRename
	CmdChdir
	CmdMkdir
	CmdRmdir
	CmdAssignCmd
	CmdInitialize
)

// AccessMode is the OPEN accessspec (§4.4 "accessspec").
type AccessMode uint8

const (
	AccessDefault AccessMode = iota
	AccessRead
	AccessWrite
	AccessAppend
	AccessReadWrite // 'X'
)

// DriveAny marks a ParsedName whose drive specifier was omitted; it is
// resolved later against the caller's default drive (§3 "Parsed name").
const DriveAny = -1

// ParsedName is the structured result of running an OPEN name or a
// command-channel payload through the command-line parser (C4, §4.4).
type ParsedName struct {
	Drive      int // 0-9, or DriveAny
	Overwrite  bool
	Command    CommandKind
	Name       string
	Type       FileType
	Access     AccessMode
	RecordLen  int
	Options    []string
	DirPattern string // pattern following "$" in a directory name/command
	DirDrive   int    // optional drive digit following "$", or DriveAny
}

// ParseOptions configures parser behavior that depends on how the name
// arrived (OPEN name vs. command-channel payload) and on runtime state.
type ParseOptions struct {
	// IsCommandChannel selects the command-channel grammar (command
	// prefixes I/$/RM/R/S/CD|CH/M/A) over the plain OPEN-name grammar.
	IsCommandChannel bool
	// IsSave models the legacy SAVE path's secondary-0 default access
	// (the firmware's is_save / secondary-0 autoWR flag).
	IsSave bool
}

// ParseName parses a nul-terminated (or plain) command/name payload into a
// ParsedName, per the grammar in §4.4.
func ParseName(payload string, opts ParseOptions) (ParsedName, StatusCode) {
	payload = strings.TrimRight(payload, "\x00")

	pn := ParsedName{Drive: DriveAny, DirDrive: DriveAny, Access: AccessDefault}

	if opts.IsCommandChannel {
		return parseCommandChannel(payload, pn, opts)
	}
	return parseOpenName(payload, pn, opts)
}

// parseCommandChannel matches the command-prefix table of §4.4. "RM" must
// be matched before "R" (spec explicitly calls this out, and so does the
// original's fscmd.c dispatch order).
func parseCommandChannel(payload string, pn ParsedName, opts ParseOptions) (ParsedName, StatusCode) {
	switch {
	case strings.HasPrefix(payload, "I"):
		pn.Command = CmdInitialize
		return pn, ErrOK
	case strings.HasPrefix(payload, "$"):
		pn.Command = CmdDir
		return parseDirSpec(payload[1:], pn)
	case strings.HasPrefix(payload, "RM"):
		pn.Command = CmdRmdir
		return parseSimpleTarget(payload[2:], pn)
	case strings.HasPrefix(payload, "R"):
		pn.Command = CmdRename
		return parseRenameTarget(payload[1:], pn)
	case strings.HasPrefix(payload, "S"):
		pn.Command = CmdScratch
		return parseSimpleTarget(payload[1:], pn)
	case strings.HasPrefix(payload, "CD"):
		pn.Command = CmdChdir
		return parseSimpleTarget(payload[2:], pn)
	case strings.HasPrefix(payload, "CH"):
		pn.Command = CmdChdir
		return parseSimpleTarget(payload[2:], pn)
	case strings.HasPrefix(payload, "M"):
		pn.Command = CmdMkdir
		return parseSimpleTarget(payload[1:], pn)
	case strings.HasPrefix(payload, "A"):
		pn.Command = CmdAssignCmd
		return parseSimpleTarget(payload[1:], pn)
	default:
		return pn, ErrSyntaxUnknown
	}
}

// parseDirSpec parses the "$[digit][pattern]" body used both for a DIR
// command and for OPENing "$" as a name (§4.4 "body").
func parseDirSpec(rest string, pn ParsedName) (ParsedName, StatusCode) {
	if rest == "" {
		pn.DirDrive = DriveAny
		return pn, ErrOK
	}
	if rest[0] >= '0' && rest[0] <= '9' {
		pn.DirDrive = int(rest[0] - '0')
		rest = rest[1:]
	}
	pn.DirPattern = rest
	return pn, ErrOK
}

func parseSimpleTarget(rest string, pn ParsedName) (ParsedName, StatusCode) {
	rest = strings.TrimPrefix(rest, ":")
	drive, body, status := splitDrive(rest)
	if status != ErrOK {
		return pn, status
	}
	pn.Drive, pn.Overwrite = drive.drive, drive.overwrite
	pn.Name = body
	return pn, ErrOK
}

// parseRenameTarget parses "newname=oldname", with an optional drive
// prefix on the new name (§4.4; mirrors pcserver/fscmd.c's RENAME handling).
func parseRenameTarget(rest string, pn ParsedName) (ParsedName, StatusCode) {
	drive, body, status := splitDrive(rest)
	if status != ErrOK {
		return pn, status
	}
	pn.Drive, pn.Overwrite = drive.drive, drive.overwrite
	parts := strings.SplitN(body, "=", 2)
	if len(parts) != 2 || parts[1] == "" {
		return pn, ErrSyntaxUnknown
	}
	if strings.ContainsAny(parts[0], "/\\") {
		// "Rename disallows a target containing a path separator" (§4.9).
		return pn, ErrSyntaxUnknown
	}
	pn.Name = parts[0] + "\x00" + parts[1]
	return pn, ErrOK
}

type driveSpec struct {
	drive     int
	overwrite bool
}

// splitDrive consumes an optional "[@]digit:" prefix (§4.4 "drivespec").
func splitDrive(s string) (driveSpec, string, StatusCode) {
	spec := driveSpec{drive: DriveAny}
	overwrite := false
	i := 0
	if i < len(s) && s[i] == '@' {
		overwrite = true
		i++
	}
	if i < len(s) && s[i] >= '0' && s[i] <= '9' {
		digitEnd := i + 1
		// colon must follow for this to be a drivespec, not a bare digit
		// filename
		if digitEnd < len(s) && s[digitEnd] == ':' {
			spec.drive = int(s[i] - '0')
			spec.overwrite = overwrite
			return spec, s[digitEnd+1:], ErrOK
		}
	}
	if overwrite {
		// '@' was consumed speculatively but there was no drivespec after
		// all; treat it as part of the name.
		return driveSpec{drive: DriveAny}, s, ErrOK
	}
	return spec, s, ErrOK
}

// parseOpenName parses a plain OPEN name:
//
//	[drivespec ':'] body [',' typespec] [',' accessspec] [',' option]*
func parseOpenName(payload string, pn ParsedName, opts ParseOptions) (ParsedName, StatusCode) {
	spec, rest, _ := splitDrive(payload)
	pn.Drive, pn.Overwrite = spec.drive, spec.overwrite

	if strings.HasPrefix(rest, "$") {
		pn.Command = CmdDir
		dirFields := strings.Split(rest[1:], ",")
		pn, status := parseDirSpec(dirFields[0], pn)
		if status != ErrOK {
			return pn, status
		}
		for _, f := range dirFields[1:] {
			if f != "" && isAccessField(f) {
				pn.Access = parseAccessField(f)
			}
		}
		return pn, ErrOK
	}

	fields := strings.Split(rest, ",")
	pn.Name = fields[0]

	recordLen := -1
	typeSeen := false
	accessSeen := false

	for _, f := range fields[1:] {
		if f == "" {
			continue
		}
		switch {
		case !typeSeen && isTypeField(f):
			typeSeen = true
			t, rl, status := parseTypeField(f)
			if status != ErrOK {
				return pn, status
			}
			pn.Type = t
			recordLen = rl
		case !accessSeen && isAccessField(f):
			accessSeen = true
			pn.Access = parseAccessField(f)
		default:
			pn.Options = append(pn.Options, f)
		}
	}

	if recordLen >= 0 {
		pn.RecordLen = recordLen
	}

	// "A record length without file type REL is ignored; REL without a
	// positive record length is rejected as FILE_NOT_FOUND" (§4.4).
	if pn.Type == TypeREL && pn.RecordLen <= 0 {
		return pn, ErrFileNotFound
	}

	if opts.IsSave && pn.Access == AccessDefault {
		pn.Access = AccessWrite
	}

	return pn, ErrOK
}

func isTypeField(f string) bool {
	switch strings.ToUpper(f)[0] {
	case 'S', 'P', 'U', 'L':
		return true
	default:
		return false
	}
}

func parseTypeField(f string) (FileType, int, StatusCode) {
	f = strings.ToUpper(f)
	switch f[0] {
	case 'S':
		return TypeSEQ, -1, ErrOK
	case 'P':
		return TypePRG, -1, ErrOK
	case 'U':
		return TypeUSR, -1, ErrOK
	case 'L':
		if len(f) < 2 {
			return TypeREL, -1, ErrFileNotFound
		}
		n, err := strconv.Atoi(f[1:])
		if err != nil || n <= 0 {
			return TypeREL, -1, ErrFileNotFound
		}
		return TypeREL, n, ErrOK
	}
	return TypeNone, -1, ErrSyntaxUnknown
}

func isAccessField(f string) bool {
	if f == "" {
		return false
	}
	switch strings.ToUpper(f)[0] {
	case 'R', 'W', 'A', 'X':
		return true
	default:
		return false
	}
}

func parseAccessField(f string) AccessMode {
	switch strings.ToUpper(f)[0] {
	case 'R':
		return AccessRead
	case 'W':
		return AccessWrite
	case 'A':
		return AccessAppend
	case 'X':
		return AccessReadWrite
	}
	return AccessDefault
}
