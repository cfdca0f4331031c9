package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_Clamp(t *testing.T) {
	tests := []struct {
		name string
		in   Cursor
		want Cursor
	}{
		{"valid", Cursor{Page: 3, PageSize: 200}, Cursor{Page: 3, PageSize: 200}},
		{"zero page", Cursor{Page: 0, PageSize: 200}, Cursor{Page: 1, PageSize: 200}},
		{"negative page", Cursor{Page: -4, PageSize: 100}, Cursor{Page: 1, PageSize: 100}},
		{"tiny size", Cursor{Page: 2, PageSize: 10}, Cursor{Page: 2, PageSize: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Clamp())
		})
	}
}

func TestCursor_PagesFor(t *testing.T) {
	c := Cursor{Page: 1, PageSize: 200}
	assert.Equal(t, 2, c.PagesFor(250))
	assert.Equal(t, 1, c.PagesFor(200))
	assert.Equal(t, 1, c.PagesFor(1))
	assert.Equal(t, 0, c.PagesFor(0))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatePending, StateFetching))
	assert.True(t, CanTransition(StateFetching, StateDone))
	assert.True(t, CanTransition(StateFetching, StateError))
	assert.True(t, CanTransition(StateError, StatePending))
	assert.True(t, CanTransition(StateDone, StatePending))

	assert.False(t, CanTransition(StateError, StateDone), "error reaches done only through pending and fetching")
	assert.False(t, CanTransition(StatePending, StateDone))
	assert.False(t, CanTransition(StateDone, StateFetching))
}

func TestCanDispatchTransition(t *testing.T) {
	assert.True(t, CanDispatchTransition(StatePending, StateProcessing))
	assert.True(t, CanDispatchTransition(StateProcessing, StateRetry))
	assert.True(t, CanDispatchTransition(StateRetry, StateProcessing))
	assert.False(t, CanDispatchTransition(StatePending, StateDone))
}

func TestParseStates(t *testing.T) {
	states, err := ParseStates("")
	require.NoError(t, err)
	assert.Equal(t, []State{StatePending, StateRetry}, states)

	states, err = ParseStates(" Pending , error ")
	require.NoError(t, err)
	assert.Equal(t, []State{StatePending, StateError}, states)

	_, err = ParseStates("pending,bogus")
	assert.Error(t, err)

	for _, busy := range []string{"processing", "done", "fetching"} {
		_, err = ParseStates("retry," + busy)
		assert.Error(t, err, busy)
	}
	for _, s := range []State{StatePending, StateRetry} {
		assert.True(t, CanDispatchTransition(s, StateProcessing), s)
	}
}

func TestTruncateError(t *testing.T) {
	long := strings.Repeat("é", MaxErrorLength+20)
	assert.Len(t, []rune(TruncateError(long)), MaxErrorLength)
	assert.Equal(t, "short", TruncateError("short"))
}

func TestQueueStats_Progress(t *testing.T) {
	s := QueueStats{ByState: map[State]int{StatePending: 3, StateDone: 5, StateError: 2}}
	assert.Equal(t, Progress{Total: 10, Done: 5, Remaining: 5}, s.Progress())
}

func TestParseResource(t *testing.T) {
	r, err := ParseResource(" Orders ")
	require.NoError(t, err)
	assert.Equal(t, ResourceOrders, r)

	_, err = ParseResource("invoices")
	assert.Error(t, err)
}
