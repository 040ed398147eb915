// Package motorboard implements the two-channel motor controller driver
// described by spec.md §4.6. Safe-state and command semantics (brake
// both channels on make_safe, per-channel brake/coast/float command) are
// grounded on the original devices.py MotorBoard, adapted from the
// original's raw pyserial byte protocol to github.com/goburrow/serial,
// the serial library jduranf-device-sdk-go pulls in (via goburrow/modbus)
// for exactly this kind of request/response hardware framing.
package motorboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/goburrow/serial"

	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/registry"
	"github.com/robotd/robotd/internal/rlog"
)

// TypeID is the stable identifier used in socket paths.
const TypeID = "motor_board"

const baudRate = 1000000

func init() {
	registry.Register(registry.Descriptor{
		TypeID: TypeID,
		LookupKeys: map[string]string{
			"ID_MODEL":  "MCV3B",
			"ID_VENDOR": "Student_Robotics",
			"SUBSYSTEM": "tty",
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

// Driver is the motor_board driver instance.
type Driver struct {
	node      driver.Node
	openFunc  func(*serial.Config) (serial.Port, error)
	logger    rlog.Logger
	broadcast driver.BroadcastFunc

	mu   sync.Mutex
	port serial.Port
	m0   interface{}
	m1   interface{}
}

// New constructs an unstarted Driver bound to node.
func New(node driver.Node) *Driver {
	return &Driver{
		node:     node,
		openFunc: serial.Open,
		logger:   rlog.Logger{Component: TypeID, ID: []rlog.IDField{{Key: "device", Value: node.DevPath}}},
		m0:       "brake",
		m1:       "brake",
	}
}

func (d *Driver) SetBroadcast(b driver.BroadcastFunc) { d.broadcast = b }

// Start opens the serial connection and brakes both channels.
func (d *Driver) Start(ctx context.Context) error {
	port, err := d.openFunc(&serial.Config{Address: d.node.DevPath, BaudRate: baudRate})
	if err != nil {
		return fmt.Errorf("motorboard.Start: failed to open %s: %w", d.node.DevPath, err)
	}
	d.mu.Lock()
	d.port = port
	d.mu.Unlock()
	d.MakeSafe()
	return nil
}

// MakeSafe brakes both motor channels. Idempotent.
func (d *Driver) MakeSafe() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeLocked([]byte{2, brakeByte, 2, brakeByte})
	d.m0, d.m1 = "brake", "brake"
}

func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		_ = d.port.Close()
	}
}

func (d *Driver) Status() (driver.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return driver.Status{"m0": d.m0, "m1": d.m1}, nil
}

func (d *Driver) Command(cmd driver.Command) (driver.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := make([]byte, 0, 4)
	if v, ok := cmd["m0"]; ok {
		b, err := speedByte(v)
		if err != nil {
			return driver.Status{"status": "error", "type": "bad_value", "description": err.Error()}, nil
		}
		tx = append(tx, 2, b)
		d.m0 = v
	}
	if v, ok := cmd["m1"]; ok {
		b, err := speedByte(v)
		if err != nil {
			return driver.Status{"status": "error", "type": "bad_value", "description": err.Error()}, nil
		}
		tx = append(tx, 2, b)
		d.m1 = v
	}
	if len(tx) > 0 {
		d.writeLocked(tx)
	}
	return nil, nil
}

func (d *Driver) writeLocked(tx []byte) {
	if d.port == nil {
		return
	}
	if _, err := d.port.Write(tx); err != nil {
		d.logger.Warning("writeLocked", d.node.DevPath, err, "failed to write to serial port")
	}
}

const (
	coastByte = 1
	brakeByte = 2
)

// speedByte encodes a motor command value the way the board's protocol
// expects: "coast", "brake", or a float in [-1, 1] scaled to [28, 228].
func speedByte(v interface{}) (byte, error) {
	switch val := v.(type) {
	case string:
		switch val {
		case "coast":
			return coastByte, nil
		case "brake":
			return brakeByte, nil
		default:
			return 0, fmt.Errorf("unrecognized motor setting %q", val)
		}
	case float64:
		if val < -1 || val > 1 {
			return 0, fmt.Errorf("motor value %v out of range [-1,1]", val)
		}
		return byte(128 + int(100*val)), nil
	default:
		return 0, fmt.Errorf("unsupported motor command value type %T", v)
	}
}
