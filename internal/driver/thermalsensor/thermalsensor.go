// Package thermalsensor implements the brain_temperature_sensor driver
// described by spec.md §4.6: a read-only sysfs thermal zone, reporting
// degrees Celsius from the kernel's millidegree reading. Grounded
// directly on google-periph's host/sysfs/thermal_sensor.go (sysfs-walk
// discovery, milli-degree-to-degree scaling), adapted from periph's
// Sense/SenseEnv conn.Resource shape to the uniform driver.Driver
// contract.
package thermalsensor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/registry"
)

// TypeID is the stable identifier used in socket paths.
const TypeID = "brain_temperature_sensor"

func init() {
	registry.Register(registry.Descriptor{
		TypeID: TypeID,
		LookupKeys: map[string]string{
			"SUBSYSTEM": "thermal",
		},
		Name:    func(node driver.Node) string { return node.SysName },
		Enabled: true,
		New:     func(node driver.Node) driver.Driver { return New(node) },
	})
}

// Driver is the brain_temperature_sensor driver instance. It has no
// internal state to protect beyond the read path itself, which is
// inherently safe for concurrent status() calls; the mutex exists only
// to serialize the underlying file handle.
type Driver struct {
	node     driver.Node
	tempFile string

	mu sync.Mutex
}

// New constructs a Driver reading temperature from node's sysfs path.
func New(node driver.Node) *Driver {
	return &Driver{node: node, tempFile: filepath.Join(node.SysPath, "temp")}
}

func (d *Driver) SetBroadcast(driver.BroadcastFunc) {}

// Start verifies the temperature file is readable; the sensor itself
// needs no other initialization.
func (d *Driver) Start(ctx context.Context) error {
	if _, err := d.readMilliDegrees(); err != nil {
		return fmt.Errorf("thermalsensor.Start: %w", err)
	}
	return nil
}

func (d *Driver) MakeSafe() {}

func (d *Driver) Stop() {}

// Status reads the current temperature, per spec.md §4.6: millidegrees
// divided by 1000.
func (d *Driver) Status() (driver.Status, error) {
	milli, err := d.readMilliDegrees()
	if err != nil {
		return nil, err
	}
	return driver.Status{"temperature": float64(milli) / 1000.0}, nil
}

// Command is a no-op: the sensor exposes no writable state.
func (d *Driver) Command(driver.Command) (driver.Status, error) {
	return nil, nil
}

func (d *Driver) readMilliDegrees() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	contents, err := os.ReadFile(d.tempFile)
	if err != nil {
		return 0, fmt.Errorf("thermalsensor: failed to read %s: %w", d.tempFile, err)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return 0, fmt.Errorf("thermalsensor: malformed temperature reading in %s: %w", d.tempFile, err)
	}
	return milli, nil
}
