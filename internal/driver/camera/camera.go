// Package camera implements the camera driver described by spec.md
// §4.6. Grounded on the original's camera.py Camera class: lookup by
// the video4linux subsystem, instance name derived from the device
// node's stem, and a command/status split where `command({"see": true})`
// only triggers a capture and the resulting markers arrive later as
// status rather than as a direct command response. The original's
// native vision pipeline (sb_vision / apriltag) is out of scope per
// spec.md §1's Non-goals; captureOnce here stands in for it. This is
// the one driver spec.md §5 permits to own a background goroutine, so
// that a capture in flight never blocks the worker's connection
// multiplexer.
package camera

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/registry"
)

// TypeID is the stable identifier used in socket paths.
const TypeID = "camera"

func init() {
	registry.Register(registry.Descriptor{
		TypeID: TypeID,
		LookupKeys: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
		Name:    instanceName,
		Enabled: true,
		New:     func(node driver.Node) driver.Driver { return New(node) },
	})
}

func instanceName(node driver.Node) string {
	base := filepath.Base(node.DevPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// captureFunc performs one capture-and-detect pass, returning the
// markers found. Production code uses a real vision pipeline; tests
// substitute a deterministic stand-in.
type captureFunc func(node driver.Node) []interface{}

// Driver is the camera driver instance.
type Driver struct {
	node    driver.Node
	capture captureFunc

	mu                sync.Mutex
	broadcast         driver.BroadcastFunc
	markers           []interface{}
	snapshotTimestamp float64
	inFlight          bool
}

// New constructs an unstarted Driver bound to node.
func New(node driver.Node) *Driver {
	return &Driver{
		node:    node,
		capture: defaultCapture,
		markers: []interface{}{},
	}
}

func defaultCapture(driver.Node) []interface{} {
	return []interface{}{}
}

func (d *Driver) SetBroadcast(b driver.BroadcastFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcast = b
}

// Start requires no hardware initialization: no vision pipeline is
// opened here or later; captures go through d.capture, which by
// default reports no markers.
func (d *Driver) Start(ctx context.Context) error { return nil }

func (d *Driver) MakeSafe() {}

func (d *Driver) Stop() {}

func (d *Driver) Status() (driver.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.Status{
		"markers":            append([]interface{}{}, d.markers...),
		"snapshot_timestamp": d.snapshotTimestamp,
	}, nil
}

// Command triggers a capture when cmd["see"] is true. The capture runs
// on its own goroutine and publishes its result via broadcast once
// done; Command itself returns immediately with no response value,
// matching the original's reliance on the worker's own post-command
// status send rather than a direct payload.
func (d *Driver) Command(cmd driver.Command) (driver.Status, error) {
	see, _ := cmd["see"].(bool)
	if !see {
		return nil, nil
	}

	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		return nil, nil
	}
	d.inFlight = true
	d.mu.Unlock()

	go d.captureOnce()
	return nil, nil
}

func (d *Driver) captureOnce() {
	markers := d.capture(d.node)

	d.mu.Lock()
	d.markers = markers
	d.snapshotTimestamp = nowSeconds()
	d.inFlight = false
	broadcast := d.broadcast
	status := driver.Status{"markers": append([]interface{}{}, d.markers...), "snapshot_timestamp": d.snapshotTimestamp}
	d.mu.Unlock()

	if broadcast != nil {
		broadcast(status)
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
