package registry

import (
	"testing"

	"github.com/robotd/robotd/internal/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_SkipsDisabledAndUndiscoverable(t *testing.T) {
	reset()
	defer reset()

	Register(Descriptor{TypeID: "disabled_board", Enabled: false, CreateOnStartup: true})
	Register(Descriptor{TypeID: "no_lookup_board", Enabled: true})
	Register(Descriptor{TypeID: "game", Enabled: true, CreateOnStartup: true})
	Register(Descriptor{TypeID: "motor_board", Enabled: true, LookupKeys: map[string]string{"SUBSYSTEM": "tty"}})

	ids := TypeIDs()
	assert.Equal(t, []string{"game", "motor_board"}, ids)
}

func TestRegister_PanicsOnDuplicateTypeID(t *testing.T) {
	reset()
	defer reset()

	Register(Descriptor{TypeID: "game", Enabled: true, CreateOnStartup: true})
	assert.Panics(t, func() {
		Register(Descriptor{TypeID: "game", Enabled: true, CreateOnStartup: true})
	})
}

func TestLookup(t *testing.T) {
	reset()
	defer reset()

	Register(Descriptor{
		TypeID:          "game",
		Enabled:         true,
		CreateOnStartup: true,
		New:             func(node driver.Node) driver.Driver { return nil },
	})
	desc, ok := Lookup("game")
	require.True(t, ok)
	assert.Equal(t, "game", desc.TypeID)

	_, ok = Lookup("does_not_exist")
	assert.False(t, ok)
}
