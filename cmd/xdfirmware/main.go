// Command xdfirmware is a runnable demo of the bus impedance layer (C5):
// it wires a BusContext to a transport carrying the FS wire protocol to a
// running xdserver, and drives that BusContext from a simple line-based
// trace read from stdin instead of real IEEE-488/IEC electrical signals
// (those electrical details are out of scope per §1). Each line is either:
//
//	ATN <hex-byte>
//	DATA <hex-byte> [EOI]
//
// and the resulting status byte is printed, the same shape of interaction
// a real firmware's bus driver has with this layer.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/xd2031/xd2031"
	"github.com/xd2031/xd2031/pkg/transport"
	_ "github.com/xd2031/xd2031/pkg/transport/serial"
	_ "github.com/xd2031/xd2031/pkg/transport/virtual"
)

func main() {
	log.SetLevel(log.InfoLevel)

	transportName := flag.String("t", "serial", "transport kind")
	device := flag.String("d", "/dev/ttyUSB0", "transport device/address")
	address := flag.Int("a", 8, "IEEE device address (0-30)")
	busNumber := flag.Int("b", 0, "bus number (channel-offset slot)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	link, err := transport.Open(*transportName, *device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not open %v transport %v: %v\n", *transportName, *device, err)
		os.Exit(1)
	}
	defer link.Close()

	framer := xd2031.NewFramer(link)
	req := xd2031.NewFramerRequester(framer)

	channels := xd2031.NewChannelTable()
	errs := xd2031.NewErrorState()
	drives := xd2031.NewDriveTable(xd2031.DefaultProviderFactory())
	pending := xd2031.NewPendingOpenTracker(xd2031.DefaultMaxPendingOpens)
	bus := xd2031.NewBusContext(uint8(*address), *busNumber, channels, errs, drives, pending, req)

	log.Infof("xdfirmware address=%d bus=%d connected via %v %v", *address, *busNumber, *transportName, *device)
	runTrace(bus, os.Stdin)
}

func runTrace(bus *xd2031.BusContext, in *os.File) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "ATN":
			v, err := parseByte(fields, 1)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				continue
			}
			status := bus.Attention(v)
			fmt.Printf("status=%#02x\n", status)
		case "DATA":
			v, err := parseByte(fields, 1)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				continue
			}
			withEOI := len(fields) > 2 && strings.EqualFold(fields[2], "EOI")
			status := bus.Data(v, withEOI)
			fmt.Printf("status=%#02x\n", status)
		default:
			fmt.Fprintf(os.Stderr, "unknown trace line: %v\n", scanner.Text())
		}
	}
}

func parseByte(fields []string, i int) (byte, error) {
	if i >= len(fields) {
		return 0, fmt.Errorf("missing byte argument")
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(fields[i], "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("bad hex byte %q: %w", fields[i], err)
	}
	return byte(n), nil
}
