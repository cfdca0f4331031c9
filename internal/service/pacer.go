package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Guizzs26/shop-sync/pkg/infra"
)

// OptionReader lists runtime options by key prefix
type OptionReader interface {
	List(ctx context.Context, prefix string) (map[string]string, error)
}

// OptionPacer applies the configured pacing policy with runtime overrides
// read from the option store ("pace.between_pages" = "500ms")
type OptionPacer struct {
	options  OptionReader
	defaults infra.Policy
	logger   *slog.Logger

	mu    sync.RWMutex
	pacer *infra.Pacer
}

func NewOptionPacer(options OptionReader, defaults infra.Policy, logger *slog.Logger) *OptionPacer {
	return &OptionPacer{
		options:  options,
		defaults: defaults,
		logger:   logger,
		pacer:    infra.NewPacer(defaults),
	}
}

// Refresh reloads overrides. Invalid values are logged and ignored.
func (p *OptionPacer) Refresh(ctx context.Context) {
	raw, err := p.options.List(ctx, "pace.")
	if err != nil {
		p.logger.Warn("Could not load pacing overrides, keeping defaults", "error", err)
		return
	}

	overrides := map[infra.Phase]time.Duration{}
	for _, phase := range infra.Phases {
		v, ok := raw[phase.OptionKey()]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d < 0 {
			p.logger.Warn("Ignoring invalid pacing override", "key", phase.OptionKey(), "value", v)
			continue
		}
		overrides[phase] = d
	}

	p.mu.Lock()
	sleep := p.pacer.Sleep
	p.pacer = &infra.Pacer{Policy: p.defaults.With(overrides), Sleep: sleep}
	p.mu.Unlock()
}

// Delay returns the effective delay of phase
func (p *OptionPacer) Delay(phase infra.Phase) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pacer.Policy.Delay(phase)
}

func (p *OptionPacer) Wait(ctx context.Context, phase infra.Phase) error {
	p.mu.RLock()
	pacer := p.pacer
	p.mu.RUnlock()
	return pacer.Wait(ctx, phase)
}
