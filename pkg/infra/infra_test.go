package infra

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 400*time.Millisecond, 2.0)
	b.jitter = func() float64 { return 0.5 } // zero jitter

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 4, b.Attempts())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestBackoff_JitterNeverBelowMin(t *testing.T) {
	b := NewBackoff(time.Second, time.Minute, 2.0)
	b.jitter = func() float64 { return 0 } // -20%
	assert.Equal(t, time.Second, b.Next())
}

func TestPolicy_DelayAndOverrides(t *testing.T) {
	p := NewPolicy(map[Phase]time.Duration{
		PhaseBetweenPages:  200 * time.Millisecond,
		PhaseBetweenChunks: 150 * time.Millisecond,
	})
	assert.Equal(t, 200*time.Millisecond, p.Delay(PhaseBetweenPages))
	assert.Equal(t, time.Duration(0), p.Delay(PhaseBetweenRecords))

	o := p.With(map[Phase]time.Duration{PhaseBetweenPages: time.Second, PhaseBetweenRecords: -time.Second})
	assert.Equal(t, time.Second, o.Delay(PhaseBetweenPages))
	assert.Equal(t, 150*time.Millisecond, o.Delay(PhaseBetweenChunks))
	assert.Equal(t, time.Duration(0), o.Delay(PhaseBetweenRecords))
	assert.Equal(t, 200*time.Millisecond, p.Delay(PhaseBetweenPages), "original policy untouched")
}

func TestPacer_UsesInjectedSleep(t *testing.T) {
	var slept []time.Duration
	pacer := NewPacer(NewPolicy(map[Phase]time.Duration{PhaseBetweenChunks: 150 * time.Millisecond}))
	pacer.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, pacer.Wait(context.Background(), PhaseBetweenChunks))
	require.NoError(t, pacer.Wait(context.Background(), PhaseBetweenPages))
	assert.Equal(t, []time.Duration{150 * time.Millisecond}, slept)
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "debug", "json")
	l.Debug("cycle finished", "resource", "orders")
	assert.Contains(t, buf.String(), `"resource":"orders"`)
}
