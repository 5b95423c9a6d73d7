// Command xdserver is the host-side XD-2031 server: it owns the drive
// table and dispatches packets arriving over a transport from the
// firmware side.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/xd2031/xd2031"
	_ "github.com/xd2031/xd2031/pkg/localfs"
	"github.com/xd2031/xd2031/pkg/runtimeconfig"
	"github.com/xd2031/xd2031/pkg/transport"
	_ "github.com/xd2031/xd2031/pkg/transport/serial"
	_ "github.com/xd2031/xd2031/pkg/transport/virtual"
)

var defaultDevice = "/dev/ttyUSB0"

// assignFlags collects repeated -A flags: "drive:provider=path" or
// "drive:=parentdrive[/subpath]", the same grammar ASSIGN accepts on the
// command channel (§4.7).
type assignFlags []string

func (a *assignFlags) String() string     { return strings.Join(*a, ",") }
func (a *assignFlags) Set(v string) error { *a = append(*a, v); return nil }

type setoptFlags []string

func (s *setoptFlags) String() string     { return strings.Join(*s, ",") }
func (s *setoptFlags) Set(v string) error { *s = append(*s, v); return nil }

func main() {
	log.SetLevel(log.InfoLevel)

	transportName := flag.String("t", "serial", fmt.Sprintf("transport kind (%s)", strings.Join(transport.Names(), ",")))
	device := flag.String("d", defaultDevice, "transport device/address")
	verbose := flag.Bool("v", false, "verbose logging")
	var assigns assignFlags
	var setopts setoptFlags
	flag.Var(&assigns, "A", "assign a drive, e.g. -A 0:fs=/home/user/disk (repeatable)")
	flag.Var(&setopts, "X", "preset a SETOPT option, e.g. -X 0:U=8 (repeatable)")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	drives := xd2031.NewDriveTable(xd2031.DefaultProviderFactory())
	for _, a := range assigns {
		pn, status := xd2031.ParseName("A"+a, xd2031.ParseOptions{IsCommandChannel: true})
		if status != xd2031.ErrOK {
			fmt.Fprintf(os.Stderr, "bad -A %q: %v\n", a, status)
			os.Exit(1)
		}
		if status := drives.Assign(pn); status != xd2031.ErrOK {
			fmt.Fprintf(os.Stderr, "assign %q failed: %v\n", a, status)
			os.Exit(1)
		}
	}

	config := runtimeconfig.NewStore()
	for _, x := range setopts {
		bus, cmd, ok := splitBusCommand(x)
		if !ok {
			fmt.Fprintf(os.Stderr, "bad -X %q, want bus:cmd\n", x)
			os.Exit(1)
		}
		config.Apply(bus, cmd)
	}

	link, err := transport.Open(*transportName, *device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not open %v transport %v: %v\n", *transportName, *device, err)
		os.Exit(1)
	}
	defer link.Close()

	framer := xd2031.NewFramer(link)
	dispatcher := xd2031.NewDispatcher(framer, drives, config)

	log.Infof("xdserver listening on %v (%v)", *device, *transportName)
	if err := dispatcher.Serve(); err != nil {
		log.Warnf("server loop ended: %v", err)
	}
}

func splitBusCommand(s string) (int, string, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	bus, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return bus, parts[1], true
}
