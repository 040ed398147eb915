// Package powerboard implements the power_board driver described by
// spec.md §4.6. The board's actual transport is a native USB
// control-transfer interface, which spec.md §1's Non-goals place out of
// scope, so Start here stands in for opening that connection and the
// rest of the driver tracks commanded output state the same way
// motorboard and servoassembly do. Its one distinguishing behavior is
// that it is the board spec.md §6 designates as the daemon's readiness
// signal: once it reaches its ready state the supervisor is considered
// fully up, so Start calls internal/readiness.NotifyReady the way the
// original's MasterProcess reported readiness only after every board in
// its startup set had been brought up.
package powerboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/readiness"
	"github.com/robotd/robotd/internal/registry"
)

// TypeID is the stable identifier used in socket paths.
const TypeID = "power_board"

func init() {
	registry.Register(registry.Descriptor{
		TypeID: TypeID,
		LookupKeys: map[string]string{
			"ID_MODEL":  "PBV4B",
			"ID_VENDOR": "Student_Robotics",
			"SUBSYSTEM": "usb",
		},
		Name:    instanceName,
		Enabled: true,
		New:     func(node driver.Node) driver.Driver { return New(node) },
	})
}

func instanceName(node driver.Node) string {
	if v, ok := node.Attributes["ID_SERIAL_SHORT"]; ok && v != "" {
		return v
	}
	return node.SysName
}

// transport abstracts the native USB control-transfer glue, out of scope
// per spec.md §1. The zero-value noopTransport is used in production;
// tests substitute a fake to observe the calls a real transport would
// receive.
type transport interface {
	setPower(on bool) error
	setStartLED(on bool) error
	buzz(frequencyHz, durationMS int) error
	startButtonPressed() (bool, error)
}

type noopTransport struct{}

func (noopTransport) setPower(bool) error                 { return nil }
func (noopTransport) setStartLED(bool) error               { return nil }
func (noopTransport) buzz(int, int) error                  { return nil }
func (noopTransport) startButtonPressed() (bool, error)    { return false, nil }

// Driver is the power_board driver instance.
type Driver struct {
	node        driver.Node
	transport   transport
	notifyReady func() error

	mu         sync.Mutex
	power      bool
	startLED   bool
	lastBuzzHz int
}

// New constructs an unstarted Driver bound to node.
func New(node driver.Node) *Driver {
	return &Driver{
		node:        node,
		transport:   noopTransport{},
		notifyReady: readiness.NotifyReady,
	}
}

func (d *Driver) SetBroadcast(driver.BroadcastFunc) {}

// Start brings the board's outputs to their safe state and, once that
// succeeds, signals daemon readiness.
func (d *Driver) Start(ctx context.Context) error {
	d.MakeSafe()
	if err := d.notifyReady(); err != nil {
		return fmt.Errorf("powerboard.Start: %w", err)
	}
	return nil
}

// MakeSafe turns off every switched output, per spec.md §4.2.
func (d *Driver) MakeSafe() {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.transport.setPower(false)
	_ = d.transport.setStartLED(false)
	d.power = false
	d.startLED = false
}

func (d *Driver) Stop() {
	d.MakeSafe()
}

func (d *Driver) Status() (driver.Status, error) {
	d.mu.Lock()
	transport := d.transport
	d.mu.Unlock()

	pressed, err := transport.startButtonPressed()
	if err != nil {
		return nil, fmt.Errorf("powerboard.Status: %w", err)
	}
	return driver.Status{"start-button": pressed}, nil
}

func (d *Driver) Command(cmd driver.Command) (driver.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if raw, ok := cmd["power"]; ok {
		on, ok := raw.(bool)
		if !ok {
			return driver.Status{"status": "error", "type": "bad_value", "description": "power must be a boolean"}, nil
		}
		if err := d.transport.setPower(on); err != nil {
			return nil, fmt.Errorf("powerboard.Command: %w", err)
		}
		d.power = on
	}
	if raw, ok := cmd["start-led"]; ok {
		on, ok := raw.(bool)
		if !ok {
			return driver.Status{"status": "error", "type": "bad_value", "description": "start-led must be a boolean"}, nil
		}
		if err := d.transport.setStartLED(on); err != nil {
			return nil, fmt.Errorf("powerboard.Command: %w", err)
		}
		d.startLED = on
	}
	if raw, ok := cmd["buzz"]; ok {
		params, ok := raw.(map[string]interface{})
		if !ok {
			return driver.Status{"status": "error", "type": "bad_value", "description": "buzz must be an object with frequency and duration"}, nil
		}
		freq, _ := params["frequency"].(float64)
		dur, _ := params["duration"].(float64)
		if err := d.transport.buzz(int(freq), int(dur)); err != nil {
			return nil, fmt.Errorf("powerboard.Command: %w", err)
		}
		d.lastBuzzHz = int(freq)
	}
	return nil, nil
}
