package infra

import (
	"context"
	"time"
)

// Phase names a point in a cycle where the caller pauses
type Phase string

const (
	PhaseBetweenPages   Phase = "between_pages"
	PhaseBetweenChunks  Phase = "between_chunks"
	PhaseBetweenRecords Phase = "between_records"
)

// Phases lists every pacing phase
var Phases = []Phase{PhaseBetweenPages, PhaseBetweenChunks, PhaseBetweenRecords}

// OptionKey is the option store key overriding a phase delay
func (p Phase) OptionKey() string {
	return "pace." + string(p)
}

// Policy maps phases to fixed delays. Unknown phases do not pause.
type Policy struct {
	delays map[Phase]time.Duration
}

func NewPolicy(delays map[Phase]time.Duration) Policy {
	p := Policy{delays: make(map[Phase]time.Duration, len(delays))}
	for k, v := range delays {
		p.delays[k] = max(v, 0)
	}
	return p
}

func (p Policy) Delay(phase Phase) time.Duration {
	return p.delays[phase]
}

// With returns a copy of p where the given overrides replace the defaults
func (p Policy) With(overrides map[Phase]time.Duration) Policy {
	merged := make(map[Phase]time.Duration, len(p.delays)+len(overrides))
	for k, v := range p.delays {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return NewPolicy(merged)
}

// Pacer applies a Policy. Sleep is swappable so tests never wait.
type Pacer struct {
	Policy Policy
	Sleep  func(ctx context.Context, d time.Duration) error
}

func NewPacer(p Policy) *Pacer {
	return &Pacer{Policy: p, Sleep: SleepContext}
}

func (p *Pacer) Wait(ctx context.Context, phase Phase) error {
	d := p.Policy.Delay(phase)
	if d <= 0 {
		return ctx.Err()
	}
	return p.Sleep(ctx, d)
}

// SleepContext sleeps for d unless ctx ends first
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
