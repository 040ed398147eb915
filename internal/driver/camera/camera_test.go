package camera

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotd/robotd/internal/driver"
)

func TestInstanceName_DerivedFromDevPathStem(t *testing.T) {
	assert.Equal(t, "video0", instanceName(driver.Node{DevPath: "/dev/video0"}))
}

func TestDriver_StatusStartsEmpty(t *testing.T) {
	d := New(driver.Node{})
	require.NoError(t, d.Start(context.Background()))

	status, err := d.Status()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, status["markers"])
	assert.Equal(t, 0.0, status["snapshot_timestamp"])
}

func TestDriver_CommandWithoutSeeIsANoOp(t *testing.T) {
	d := New(driver.Node{})
	resp, err := d.Command(driver.Command{})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestDriver_CommandSeeTriggersCaptureAndBroadcasts(t *testing.T) {
	d := New(driver.Node{})
	d.capture = func(driver.Node) []interface{} {
		return []interface{}{map[string]interface{}{"id": 13.0}}
	}

	received := make(chan driver.Status, 1)
	d.SetBroadcast(func(s driver.Status) { received <- s })

	resp, err := d.Command(driver.Command{"see": true})
	require.NoError(t, err)
	assert.Nil(t, resp)

	select {
	case s := <-received:
		assert.Len(t, s["markers"], 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}

	status, _ := d.Status()
	assert.Len(t, status["markers"], 1)
}

func TestDriver_SecondSeeWhileCaptureInFlightIsIgnored(t *testing.T) {
	d := New(driver.Node{})
	release := make(chan struct{})
	d.capture = func(driver.Node) []interface{} {
		<-release
		return []interface{}{}
	}

	_, err := d.Command(driver.Command{"see": true})
	require.NoError(t, err)

	d.mu.Lock()
	inFlight := d.inFlight
	d.mu.Unlock()
	require.True(t, inFlight)

	resp, err := d.Command(driver.Command{"see": true})
	require.NoError(t, err)
	assert.Nil(t, resp)

	close(release)
}
