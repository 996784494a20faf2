// Package discovery finds which serial ports carry leg
// microcontrollers. Port enumeration and platform-pattern filtering
// are the injected device-enumeration boundary; probing speaks the
// leg protocol's own identity query.
package discovery

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/hexctl/legctl"
	"github.com/viamrobotics/hexctl/wire"
)

// probeTimeout bounds the leg_number query on one candidate port.
const probeTimeout = 2 * time.Second

// EnumerateSerialPorts returns every serial port on the system.
func EnumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	portPaths := []string{}
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}

// FilterCandidatePorts keeps only ports matching the USB-serial naming
// patterns a leg microcontroller can appear under.
func FilterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if IsCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// IsCandidatePort checks one port path against per-platform patterns.
func IsCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") ||
		strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	if strings.HasPrefix(port, "COM") {
		return true
	}
	return false
}

// ExtractPortSuffix extracts a friendly suffix from a port path for
// naming: /dev/ttyUSB0 -> "ttyUSB0", /dev/tty.usbmodem123 ->
// "usbmodem123", COM3 -> "COM3".
func ExtractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)

	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}

	return base
}

// defaultOpen opens a candidate port at the leg protocol's line
// settings for a one-shot probe, with no retry: a port that can't open
// immediately isn't a leg.
func defaultOpen(portPath string) (legctl.SerialPort, error) {
	return serial.Open(portPath, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// ProbeLegPort asks whatever is on transport which leg it is, using the
// protocol's own leg_number blocking query. Returns the reported leg
// number, or an error when nothing answered in time.
func ProbeLegPort(ctx context.Context, transport wire.Transport, logger logging.Logger) (int, error) {
	session := wire.NewSession(transport, nil, logger)
	qctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	resp, err := session.BlockingTrigger(qctx, wire.LegNumber, 0)
	if err != nil {
		return 0, err
	}
	return int(resp.Values[0]), nil
}

// DiscoverLegPorts maps leg numbers to the ports they answered on,
// probing every candidate port in turn. Ports carrying nothing (or
// something that doesn't speak the protocol) are skipped with a debug
// log.
func DiscoverLegPorts(
	ctx context.Context,
	open func(portPath string) (legctl.SerialPort, error),
	logger logging.Logger,
) (map[int]string, error) {
	if open == nil {
		open = defaultOpen
	}
	candidates := FilterCandidatePorts(EnumerateSerialPorts())
	logger.Debugf("discovery: %d candidate ports", len(candidates))

	found := make(map[int]string)
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		port, err := open(portPath)
		if err != nil {
			logger.Debugf("discovery: open %s: %v", portPath, err)
			continue
		}
		ln, err := ProbeLegPort(ctx, port, logger)
		_ = port.Close()
		if err != nil {
			logger.Debugf("discovery: no leg on %s: %v", portPath, err)
			continue
		}
		logger.Infof("discovery: leg %d (%s) on %s",
			ln, legctl.LegName(ln), portPath)
		found[ln] = portPath
	}
	return found, nil
}
