package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotd/robotd/internal/config"
	"github.com/robotd/robotd/internal/driver"
	"github.com/robotd/robotd/internal/registry"
	"github.com/robotd/robotd/internal/rlog"
	"github.com/robotd/robotd/internal/worker"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.RootDir = t.TempDir()
	cfg.PollIntervalSec = 1
	cfg.MonitorIntervalMS = 50
	return cfg
}

func fakeSpawn(longLived bool) func(root, typeID string, node driver.Node, instanceName, generation string) (*worker.Handle, error) {
	return func(root, typeID string, node driver.Node, instanceName, generation string) (*worker.Handle, error) {
		script := "sleep 30"
		if !longLived {
			script = "exit 0"
		}
		return worker.NewHandleForTest("/bin/sh", []string{"-c", script}, typeID, instanceName, worker.SocketPath(root, typeID, instanceName), generation)
	}
}

// fakeQuery is a synchronized in-memory stand-in for devicedb.Query.
type fakeQuery struct {
	mu    sync.Mutex
	nodes map[string]driver.Node
}

func (f *fakeQuery) set(nodes map[string]driver.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = nodes
}

func (f *fakeQuery) query(lookupKeys map[string]string) (map[string]driver.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]driver.Node{}
	for k, v := range f.nodes {
		out[k] = v
	}
	return out, nil
}

func TestSupervisor_SpawnsStartupWorkers(t *testing.T) {
	desc := registry.Descriptor{
		TypeID:          "game_test",
		CreateOnStartup: true,
		Enabled:         true,
		Name:            func(driver.Node) string { return "state" },
		New:             func(driver.Node) driver.Driver { return nil },
	}
	registry.Register(desc)
	defer registry.ResetForTest()

	s := New(testConfig(t), rlog.Logger{Component: "test"})
	s.spawnFunc = fakeSpawn(true)

	s.spawnStartupWorkers()
	assert.Equal(t, 1, s.WorkerCount()["game_test"])

	gen := s.Generations()["game_test"][startupDevicePath]
	assert.NotEmpty(t, gen)
}

func TestSupervisor_ReconcileSpawnsAndTerminates(t *testing.T) {
	desc := registry.Descriptor{
		TypeID:     "motor_test",
		LookupKeys: map[string]string{"subsystem": "tty"},
		Enabled:    true,
		Name:       func(n driver.Node) string { return n.SysName },
		New:        func(driver.Node) driver.Driver { return nil },
	}
	registry.Register(desc)
	defer registry.ResetForTest()

	fq := &fakeQuery{}
	s := New(testConfig(t), rlog.Logger{Component: "test"})
	s.queryFunc = fq.query
	s.spawnFunc = fakeSpawn(true)

	fq.set(map[string]driver.Node{
		"/dev/ttyUSB0": {SysName: "board-a"},
	})
	s.pollOnce()
	assert.Equal(t, 1, s.WorkerCount()["motor_test"])

	fq.set(map[string]driver.Node{})
	s.pollOnce()
	assert.Equal(t, 0, s.WorkerCount()["motor_test"])
}

func TestSupervisor_MonitorReapsDeadWorkers(t *testing.T) {
	desc := registry.Descriptor{
		TypeID:     "servo_test",
		LookupKeys: map[string]string{"subsystem": "tty"},
		Enabled:    true,
		Name:       func(n driver.Node) string { return n.SysName },
		New:        func(driver.Node) driver.Driver { return nil },
	}
	registry.Register(desc)
	defer registry.ResetForTest()

	fq := &fakeQuery{}
	fq.set(map[string]driver.Node{"/dev/ttyACM0": {SysName: "board-b"}})

	s := New(testConfig(t), rlog.Logger{Component: "test"})
	s.queryFunc = fq.query
	s.spawnFunc = fakeSpawn(false) // process exits immediately

	s.pollOnce()
	require.Equal(t, 1, s.WorkerCount()["servo_test"])

	require.Eventually(t, func() bool {
		s.reapDead()
		return s.WorkerCount()["servo_test"] == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSupervisor_ShutdownTerminatesWorkers(t *testing.T) {
	desc := registry.Descriptor{
		TypeID:          "camera_test",
		CreateOnStartup: true,
		Enabled:         true,
		Name:            func(driver.Node) string { return "main" },
		New:             func(driver.Node) driver.Driver { return nil },
	}
	registry.Register(desc)
	defer registry.ResetForTest()

	s := New(testConfig(t), rlog.Logger{Component: "test"})
	s.spawnFunc = fakeSpawn(true)
	s.spawnStartupWorkers()
	require.Equal(t, 1, s.WorkerCount()["camera_test"])

	s.Shutdown()
	assert.Equal(t, 0, s.WorkerCount()["camera_test"])
}
