package powerboard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotd/robotd/internal/driver"
)

type fakeTransport struct {
	power        bool
	startLED     bool
	lastFreq     int
	lastDuration int
	buttonDown   bool
	buzzErr      error
}

func (f *fakeTransport) setPower(on bool) error     { f.power = on; return nil }
func (f *fakeTransport) setStartLED(on bool) error  { f.startLED = on; return nil }
func (f *fakeTransport) buzz(freq, dur int) error {
	if f.buzzErr != nil {
		return f.buzzErr
	}
	f.lastFreq, f.lastDuration = freq, dur
	return nil
}
func (f *fakeTransport) startButtonPressed() (bool, error) { return f.buttonDown, nil }

func TestDriver_StartNotifiesReadyAfterMakingSafe(t *testing.T) {
	ft := &fakeTransport{power: true, startLED: true}
	notified := false
	d := New(driver.Node{})
	d.transport = ft
	d.notifyReady = func() error { notified = true; return nil }

	require.NoError(t, d.Start(context.Background()))

	assert.False(t, ft.power)
	assert.False(t, ft.startLED)
	assert.True(t, notified)
}

func TestDriver_StartFailsWhenReadinessNotifyFails(t *testing.T) {
	d := New(driver.Node{})
	d.transport = &fakeTransport{}
	d.notifyReady = func() error { return errors.New("dial failed") }

	assert.Error(t, d.Start(context.Background()))
}

func TestDriver_CommandPowerAndLED(t *testing.T) {
	ft := &fakeTransport{}
	d := New(driver.Node{})
	d.transport = ft

	resp, err := d.Command(driver.Command{"power": true, "start-led": true})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.True(t, ft.power)
	assert.True(t, ft.startLED)
}

func TestDriver_CommandBuzz(t *testing.T) {
	ft := &fakeTransport{}
	d := New(driver.Node{})
	d.transport = ft

	_, err := d.Command(driver.Command{"buzz": map[string]interface{}{"frequency": 440.0, "duration": 200.0}})
	require.NoError(t, err)
	assert.Equal(t, 440, ft.lastFreq)
	assert.Equal(t, 200, ft.lastDuration)
}

func TestDriver_CommandRejectsBadPowerValue(t *testing.T) {
	d := New(driver.Node{})
	d.transport = &fakeTransport{}

	resp, err := d.Command(driver.Command{"power": "yes"})
	require.NoError(t, err)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "bad_value", resp["type"])
}

func TestDriver_StatusReportsStartButton(t *testing.T) {
	d := New(driver.Node{})
	d.transport = &fakeTransport{buttonDown: true}

	status, err := d.Status()
	require.NoError(t, err)
	assert.Equal(t, driver.Status{"start-button": true}, status)
}

func TestDriver_StopTurnsEverythingOff(t *testing.T) {
	ft := &fakeTransport{power: true, startLED: true}
	d := New(driver.Node{})
	d.transport = ft

	d.Stop()

	assert.False(t, ft.power)
	assert.False(t, ft.startLED)
}
