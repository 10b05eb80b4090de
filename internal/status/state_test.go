package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/msgdb/internal/bus"
)

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Opening:   {},
		Migrating: {Migrating},
		Loading:   {Migrating, Loading},
		Ready:     {Migrating, Loading, Ready},
		Degraded:  {Migrating, Loading, Degraded},
		Closing:   {Migrating, Loading, Ready, Closing},
		Error:     {Error},
	}
	for _, s := range paths[target] {
		require.NoErrorf(t, m.Transition(s), "walkTo(%s)", target)
	}
}

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	assert.Equal(t, Opening, m.Current())
	assert.False(t, m.Serving())
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from, to State
	}{
		{Opening, Migrating},
		{Opening, Error},
		{Migrating, Loading},
		{Loading, Ready},
		{Loading, Degraded},
		{Degraded, Ready},
		{Ready, Closing},
		{Closing, Closed},
		{Error, Opening},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			require.NoError(t, m.Transition(tt.to))
			assert.Equal(t, tt.to, m.Current())
		})
	}
}

func TestInvalidTransitionLeavesStateAlone(t *testing.T) {
	m := NewMachine(nil)
	require.Error(t, m.Transition(Ready), "the store cannot serve before migrations run")
	assert.Equal(t, Opening, m.Current())

	walkTo(t, m, Closing)
	require.NoError(t, m.Transition(Closed))
	assert.Error(t, m.Transition(Opening))
}

func TestServingStates(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Degraded)
	assert.True(t, m.Serving())
	require.NoError(t, m.Transition(Ready))
	assert.True(t, m.Serving())
	require.NoError(t, m.Transition(Closing))
	assert.False(t, m.Serving())
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	m := NewMachine(b)
	require.NoError(t, m.TransitionWithReason(Error, "disk full"))
	assert.Equal(t, "disk full", m.Reason())

	select {
	case evt := <-ch:
		assert.Equal(t, EventStatusChanged, evt.Kind)
		assert.NotEmpty(t, evt.ID)
		assert.Equal(t, StatusChange{From: Opening, To: Error, Reason: "disk full"}, evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}
