// Package game implements the synthetic "game state" board described by
// spec.md §4.6/§9: a create-on-startup driver with no physical peripheral
// behind it, whose Command is a free-form state merge and whose Status is
// overlaid with a live zone-file discovery scan. Grounded on the original
// Python Game.zone() method's regex/ignore-list discovery (preserved as
// literal design parameters per spec.md §9) and on camera.Driver's
// mutex-guarded state shape for the merge-and-read contract.
package game

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/registry"
)

// TypeID is the stable identifier used in socket paths.
const TypeID = "game"

// instanceName is fixed: the game board has exactly one instance, created
// on startup with an empty node, per spec.md §3.
const instanceName = "state"

func init() {
	registry.Register(registry.Descriptor{
		TypeID:          TypeID,
		CreateOnStartup: true,
		Name:            func(driver.Node) string { return instanceName },
		Enabled:         true,
		New:             func(node driver.Node) driver.Driver { return New(node) },
	})
}

// zoneMediaRoots are the mount points scanned for a competition zone
// marker file, per spec.md §9 ("/media/usb?/zone-?").
var zoneMediaRoots = "/media"

// zoneDirPattern matches the usb0..usb9 mount point names under
// zoneMediaRoots.
var zoneDirPattern = regexp.MustCompile(`^usb[0-9]$`)

// zoneFilePattern matches a zone marker file name, accepting a single
// digit 0-9, per spec.md §9.
var zoneFilePattern = regexp.MustCompile(`^zone-([0-9])$`)

// zoneIgnoreSiblings is the fixed list of sibling file names that, if
// present alongside a zone-N candidate, mark that directory as housing a
// user program rather than a competition zone marker; such candidates are
// skipped, per spec.md §9.
var zoneIgnoreSiblings = []string{"main.py"}

// Driver is the game-state driver instance.
type Driver struct {
	mu    sync.Mutex
	state driver.Status

	broadcast driver.BroadcastFunc

	// scanRoot is zoneMediaRoots, overridable by tests.
	scanRoot string
}

// New constructs an unstarted Driver. node is unused: the game board is
// always create-on-startup and binds to an empty node.
func New(node driver.Node) *Driver {
	return &Driver{
		state:    driver.Status{},
		scanRoot: zoneMediaRoots,
	}
}

func (d *Driver) SetBroadcast(b driver.BroadcastFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcast = b
}

// Start is a no-op: there is no hardware behind the game board.
func (d *Driver) Start(ctx context.Context) error { return nil }

// MakeSafe clears accumulated free-form state back to empty, the board's
// defined safe state when no client holds an opinion about it.
func (d *Driver) MakeSafe() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = driver.Status{}
}

func (d *Driver) Stop() {}

// Status merges the accumulated free-form state with a fresh zone-file
// discovery scan. The scan result always wins over any client-set "zone"
// or "mode" keys, matching the original's read-only zone()/mode()
// properties layered on top of mutable game state.
func (d *Driver) Status() (driver.Status, error) {
	d.mu.Lock()
	merged := make(driver.Status, len(d.state)+2)
	for k, v := range d.state {
		merged[k] = v
	}
	d.mu.Unlock()

	zone, competition := discoverZone(d.scanRoot)
	merged["zone"] = zone
	if competition {
		merged["mode"] = "competition"
	} else {
		merged["mode"] = "development"
	}
	return merged, nil
}

// Command merges every key in cmd into the driver's free-form state,
// per spec.md §4.6 ("free-form state merge"). It never returns a
// response value: callers observe the merge via the status frame that
// follows.
func (d *Driver) Command(cmd driver.Command) (driver.Status, error) {
	d.mu.Lock()
	for k, v := range cmd {
		d.state[k] = v
	}
	d.mu.Unlock()
	return nil, nil
}

// discoverZone scans root for /<root>/usb?/zone-N markers. It returns the
// first zone number found and true for competition mode, or (0, false)
// for development mode when no valid marker is found.
func discoverZone(root string) (int, bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, false
	}
	for _, mount := range entries {
		if !mount.IsDir() || !zoneDirPattern.MatchString(mount.Name()) {
			continue
		}
		mountPath := filepath.Join(root, mount.Name())
		siblings, err := os.ReadDir(mountPath)
		if err != nil {
			continue
		}
		if hasIgnoredSibling(siblings) {
			continue
		}
		for _, f := range siblings {
			m := zoneFilePattern.FindStringSubmatch(f.Name())
			if m == nil {
				continue
			}
			zone := int(m[1][0] - '0')
			return zone, true
		}
	}
	return 0, false
}

func hasIgnoredSibling(siblings []os.DirEntry) bool {
	for _, f := range siblings {
		for _, ignored := range zoneIgnoreSiblings {
			if f.Name() == ignored {
				return true
			}
		}
	}
	return false
}
