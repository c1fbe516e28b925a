package device

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// USBDevice is one entry of the host's USB device list.
type USBDevice struct {
	Bus         int
	Device      int
	ID          string // vendor:product, lowercase hex
	Description string
}

// String renders the device the way lsusb prints it.
func (d USBDevice) String() string {
	s := fmt.Sprintf("Bus %03d Device %03d: ID %s", d.Bus, d.Device, d.ID)
	if d.Description != "" {
		s += " " + d.Description
	}
	return s
}

// Enumerator lists connected USB devices.
type Enumerator interface {
	List(ctx context.Context) ([]USBDevice, error)
}

// DefaultLsusbCommand is the command run by LsusbEnumerator when none is set.
var DefaultLsusbCommand = []string{"lsusb"}

// LsusbEnumerator lists devices by running lsusb and parsing its output.
type LsusbEnumerator struct {
	Command []string
}

// List runs the configured command and parses its output.
func (e LsusbEnumerator) List(ctx context.Context) ([]USBDevice, error) {
	argv := e.Command
	if len(argv) == 0 {
		argv = DefaultLsusbCommand
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // command comes from config
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("run %s: %w: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return ParseLsusb(out)
}

var lsusbLine = regexp.MustCompile(
	`^Bus (\d+) Device (\d+): ID ([0-9A-Fa-f]{4}:[0-9A-Fa-f]{4})\s*(.*)$`)

// ParseLsusb parses lsusb's default output, one device per line:
//
//	Bus 003 Device 026: ID 04e8:6860 Samsung Electronics Co., Ltd Galaxy (MTP)
//
// Blank lines are ignored; any other line that does not match is an error.
func ParseLsusb(out []byte) ([]USBDevice, error) {
	var devices []USBDevice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m := lsusbLine.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("lsusb output line %d: unrecognized %q", lineNum, line)
		}
		bus, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("lsusb output line %d: bus: %w", lineNum, err)
		}
		dev, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, fmt.Errorf("lsusb output line %d: device: %w", lineNum, err)
		}
		devices = append(devices, USBDevice{
			Bus:         bus,
			Device:      dev,
			ID:          strings.ToLower(m[3]),
			Description: strings.TrimSpace(m[4]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lsusb output: %w", err)
	}
	return devices, nil
}

// Matcher selects the designated device. Name is a case-insensitive
// substring of the description, ID an exact vendor:product pair. When both
// are set both must match; when neither is set nothing matches.
type Matcher struct {
	Name string
	ID   string
}

// Match reports whether d is the designated device.
func (m Matcher) Match(d USBDevice) bool {
	if m.Name == "" && m.ID == "" {
		return false
	}
	if m.ID != "" && !strings.EqualFold(m.ID, d.ID) {
		return false
	}
	if m.Name != "" && !strings.Contains(strings.ToLower(d.Description), strings.ToLower(m.Name)) {
		return false
	}
	return true
}

func (m Matcher) String() string {
	switch {
	case m.Name != "" && m.ID != "":
		return fmt.Sprintf("%s (%s)", m.Name, m.ID)
	case m.ID != "":
		return m.ID
	default:
		return m.Name
	}
}
