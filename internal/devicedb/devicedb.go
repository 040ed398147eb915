// Package devicedb implements the supervisor's view of the kernel device
// database: it enumerates devices by walking the sysfs trees that expose
// them and parsing each device's "uevent" attribute file, the same
// information a libudev binding would surface (DEVNAME, ID_VENDOR_ID,
// ID_MODEL_ID, MINOR, DEVPATH, sys_name, sys_path per the spec's
// glossary). No repository in the retrieval pack binds libudev via cgo, so
// this mirrors google-periph's host/sysfs approach: pure-Go sysfs file
// reads, no native library.
package devicedb

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/robotd/robotd/internal/driver"
)

// roots are the sysfs directories scanned for candidate devices. Declared as
// a variable so tests can point it at a fixture tree.
var roots = []string{
	"/sys/class/tty",
	"/sys/bus/usb/devices",
	"/sys/class/video4linux",
	"/sys/class/thermal",
}

// Query scans the kernel device database for devices whose attributes match
// every key/value pair in lookupKeys, and that are marked "initialized".
// The result is keyed by kernel device path (spec.md §4.3 step 3).
func Query(lookupKeys map[string]string) (map[string]driver.Node, error) {
	result := map[string]driver.Node{}
	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			// A missing sysfs root (e.g. no USB devices class on this
			// host) is not an error: it simply contributes no devices.
			continue
		}
		for _, entry := range entries {
			sysPath, err := filepath.EvalSymlinks(filepath.Join(root, entry.Name()))
			if err != nil {
				continue
			}
			node, ok := readNode(sysPath, entry.Name())
			if !ok {
				continue
			}
			if !matches(node, lookupKeys) {
				continue
			}
			result[node.DevPath] = node
		}
	}
	return result, nil
}

// readNode parses the uevent file of a sysfs device directory into a Node.
// It returns ok=false for entries that are not "initialized" kernel devices
// (e.g. missing a uevent file).
func readNode(sysPath, sysName string) (driver.Node, bool) {
	f, err := os.Open(filepath.Join(sysPath, "uevent"))
	if err != nil {
		return driver.Node{}, false
	}
	defer f.Close()

	attrs := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		attrs[key] = value
	}

	node := driver.Node{
		SysName:    sysName,
		SysPath:    sysPath,
		Attributes: attrs,
		VendorID:   attrs["ID_VENDOR_ID"],
		ModelID:    attrs["ID_MODEL_ID"],
		Minor:      attrs["MINOR"],
	}
	if devName, ok := attrs["DEVNAME"]; ok {
		node.DevName = devName
		node.DevPath = "/dev/" + devName
	} else {
		node.DevPath = sysPath
	}
	// A device that has not finished kernel-side initialization exposes no
	// attributes at all; treat an empty uevent file as "not initialized".
	return node, len(attrs) > 0
}

func matches(node driver.Node, lookupKeys map[string]string) bool {
	for key, want := range lookupKeys {
		got, ok := node.Attributes[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}
