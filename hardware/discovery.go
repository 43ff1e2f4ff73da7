package hardware

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

// PortInfo describes a serial port that may host an arm.
type PortInfo struct {
	Path   string
	Suffix string
	IsUSB  bool
	VID    string
	PID    string
	Serial string
}

// FindPorts lists the serial ports whose names match USB serial adapters.
func FindPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate serial ports")
	}

	names := make([]string, 0, len(ports))
	details := make(map[string]*enumerator.PortDetails, len(ports))
	for _, port := range ports {
		names = append(names, port.Name)
		details[port.Name] = port
	}

	var out []PortInfo
	for _, name := range filterCandidatePorts(names) {
		d := details[name]
		out = append(out, PortInfo{
			Path:   name,
			Suffix: portSuffix(name),
			IsUSB:  d.IsUSB,
			VID:    d.VID,
			PID:    d.PID,
			Serial: d.SerialNumber,
		})
	}
	return out, nil
}

// ProbePort pings the given servo IDs on port and reports which answered.
func ProbePort(ctx context.Context, port string, baudRate int, ids []int, logger logging.Logger) (map[int]bool, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  500 * time.Millisecond,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open port %s", port)
	}
	defer bus.Close()

	found := make(map[int]bool, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		servo := feetech.NewServo(bus, id, &feetech.ModelSTS3215)
		if _, err := servo.Ping(ctx); err != nil {
			logger.Debugf("Servo %d did not answer on %s: %v", id, port, err)
			continue
		}
		found[id] = true
	}
	return found, nil
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

var candidatePrefixes = []string{
	// Linux
	"/dev/ttyUSB", "/dev/ttyACM",
	// macOS
	"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial",
	// Windows
	"COM",
}

func isCandidatePort(port string) bool {
	for _, prefix := range candidatePrefixes {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	return false
}

// portSuffix turns a port path into a short name.
// /dev/ttyUSB0 -> "ttyUSB0", /dev/tty.usbmodem123 -> "usbmodem123"
func portSuffix(portPath string) string {
	base := filepath.Base(portPath)
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}
