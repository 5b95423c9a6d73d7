package xd2031

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// maxDrives is the size of the drive → endpoint table (§4.7, drives 0-9).
const maxDrives = 10

// DriveTable maps a drive index to the endpoint currently assigned to it
// (C7, §4.7). It is an array-indexed, mutex-guarded registry, indexed by
// drive number instead of a bus identifier.
type DriveTable struct {
	mu        sync.Mutex
	endpoints [maxDrives]*Endpoint
	factory   *ProviderFactory
	log       *log.Entry
}

func NewDriveTable(factory *ProviderFactory) *DriveTable {
	return &DriveTable{factory: factory, log: log.WithField("component", "drive-table")}
}

// Get returns the endpoint assigned to drive, or nil.
func (d *DriveTable) Get(drive int) *Endpoint {
	if drive < 0 || drive >= maxDrives {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endpoints[drive]
}

// Set installs ep as the permanent assignment for drive, releasing
// whatever was there before.
func (d *DriveTable) Set(drive int, ep *Endpoint) StatusCode {
	if drive < 0 || drive >= maxDrives {
		return ErrPartitionIllegal
	}
	d.mu.Lock()
	old := d.endpoints[drive]
	ep.IsAssigned = true
	ep.Retain()
	d.endpoints[drive] = ep
	d.mu.Unlock()
	if old != nil {
		old.IsAssigned = false
		old.Release()
	}
	return ErrOK
}

// Assign implements the ASSIGN command-channel operation (§4.7):
//
//	drive:provider-name=path
//	drive:=existing-drive[/subpath]
func (d *DriveTable) Assign(pn ParsedName) StatusCode {
	body := pn.Name
	drive := pn.Drive
	if drive == DriveAny {
		return ErrSyntaxUnknown
	}

	if strings.HasPrefix(body, "=") {
		return d.assignChild(drive, body[1:])
	}

	parts := strings.SplitN(body, "=", 2)
	if len(parts) != 2 {
		return ErrSyntaxUnknown
	}
	providerName, path := parts[0], parts[1]
	ep, status := d.factory.NewEndpoint(providerName, path, nil)
	if status != ErrOK {
		return status
	}
	return d.Set(drive, ep)
}

// assignChild resolves "drive:=existing-drive[/subpath]" - a child endpoint
// rooted inside an already-assigned drive's endpoint, never escaping the
// parent's canonical base path (§4.7 invariant).
func (d *DriveTable) assignChild(drive int, rest string) StatusCode {
	fields := strings.SplitN(rest, "/", 2)
	parentDrive, err := strconv.Atoi(fields[0])
	if err != nil || parentDrive < 0 || parentDrive >= maxDrives {
		return ErrSyntaxUnknown
	}
	parent := d.Get(parentDrive)
	if parent == nil {
		return ErrFileNotFound
	}
	subpath := ""
	if len(fields) == 2 {
		subpath = fields[1]
	}
	ep, status := parent.Provider.NewEndpoint(subpath, parent)
	if status != ErrOK {
		return status
	}
	return d.Set(drive, ep)
}

func (d *DriveTable) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ep := range d.endpoints {
		if ep != nil {
			n++
		}
	}
	return fmt.Sprintf("DriveTable{%d/%d assigned}", n, maxDrives)
}
