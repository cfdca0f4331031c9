// Package app assembles the operator and its dependencies from configuration.
// Every binary shares this wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/Guizzs26/shop-sync/internal/auth"
	"github.com/Guizzs26/shop-sync/internal/broker"
	"github.com/Guizzs26/shop-sync/internal/cache"
	"github.com/Guizzs26/shop-sync/internal/channel"
	"github.com/Guizzs26/shop-sync/internal/config"
	"github.com/Guizzs26/shop-sync/internal/contact"
	"github.com/Guizzs26/shop-sync/internal/db"
	"github.com/Guizzs26/shop-sync/internal/fetcher"
	"github.com/Guizzs26/shop-sync/internal/service"
	"github.com/Guizzs26/shop-sync/internal/source"
	"github.com/Guizzs26/shop-sync/pkg/infra"
)

const cacheKeyPrefix = "shopsync:"

type App struct {
	Config   *config.Config
	Repo     *db.PostgresRepository
	Store    cache.Store
	Broker   *broker.RabbitMQClient
	Operator *service.Operator

	logger  *slog.Logger
	closers []func()
}

// New connects to postgres (and redis / rabbitmq when configured), ensures
// the schema and builds the operator. Close releases everything it opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	repo, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.Repo = repo
	a.closers = append(a.closers, repo.Close)

	if err := repo.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	registry, err := a.channels()
	if err != nil {
		a.Close()
		return nil, err
	}
	primary, mirrors, err := registry.Resolve(cfg.DispatchChannel, cfg.MirrorChannels)
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Source.Timeout}
	src := source.NewClient(source.Options{
		BaseURL:    cfg.Source.BaseURL,
		Timeout:    cfg.Source.Timeout,
		RPS:        cfg.Source.RPS,
		HTTPClient: httpClient,
	}, auth.SourceAuthorizer(cfg.Source, repo.Tokens(), httpClient, logger), logger)

	pacer := service.NewOptionPacer(repo.Options(), infra.NewPolicy(map[infra.Phase]time.Duration{
		infra.PhaseBetweenPages:   cfg.Pacing.BetweenPages,
		infra.PhaseBetweenChunks:  cfg.Pacing.BetweenChunks,
		infra.PhaseBetweenRecords: cfg.Pacing.BetweenRecords,
	}), logger)

	mirror := repo.Mirror(logger)
	builder := contact.NewBuilder(mirror, cfg.Source.StoreURL, cfg.Source.MediaURL, cfg.Contact.OriginTag, cfg.Contact.ExtraTags)

	a.Operator = service.NewOperator(service.OperatorDeps{
		Fetchers:   fetcher.New(src, repo.Cursors(), repo.Queue(), mirror, pacer, cfg.Source.BulkChunk, logger),
		Totals:     fetcher.NewRemoteTotals(src, a.Store, cfg.Source.TotalCache, logger),
		Dispatcher: service.NewDispatcher(repo.Queue(), builder, primary, mirrors, pacer, logger),
		Backfill:   service.NewBackfiller(repo.Backfill(), builder, primary, pacer, logger),
		Queue:      repo.Queue(),
		Cursors:    repo.Cursors(),
		Options:    repo.Options(),
		Pacer:      pacer,
	}, logger)

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.RedisURL == "" {
		a.logger.Warn("REDIS_URL not set, leases and caches are process-local")
		a.Store = cache.NewMemoryStore()
		return nil
	}
	s, err := cache.NewRedisStore(ctx, a.Config.RedisURL, cacheKeyPrefix)
	if err != nil {
		return err
	}
	a.Store = s
	a.closers = append(a.closers, func() { _ = s.Close() })
	return nil
}

// channels registers every delivery channel this process can reach. The
// broker channel is only registered once RabbitMQ answered; asking for it
// without a broker fails.
func (a *App) channels() (*channel.Registry, error) {
	cfg := a.Config
	reg := channel.NewRegistry()

	contactHTTP := &http.Client{Timeout: cfg.Contact.Timeout}
	authorizer := auth.ContactAuthorizer(cfg.Contact, a.Repo.Tokens(), contactHTTP, a.logger)
	if err := reg.Register(channel.NewMautic(cfg.Contact.BaseURL, auth.NewClient(contactHTTP, authorizer), a.logger)); err != nil {
		return nil, err
	}
	if err := reg.Register(channel.NewFile(cfg.FileChannelDir)); err != nil {
		return nil, err
	}

	wantBroker := cfg.DispatchChannel == channel.BrokerName || slices.Contains(cfg.MirrorChannels, channel.BrokerName)
	if cfg.RabbitMQURL == "" {
		if wantBroker {
			return nil, fmt.Errorf("channel %q requires RABBITMQ_URL", channel.BrokerName)
		}
		return reg, nil
	}

	client, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, a.logger)
	if err != nil {
		if wantBroker {
			return nil, fmt.Errorf("connect broker channel: %w", err)
		}
		a.logger.Warn("⚠️ RabbitMQ unavailable, broker channel disabled", "error", err)
		return reg, nil
	}
	a.Broker = client
	a.closers = append(a.closers, func() { _ = client.Close() })

	if err := reg.Register(channel.NewBroker(client, cfg.DispatchChannel)); err != nil {
		return nil, err
	}
	return reg, nil
}

// Healthy reports whether postgres answers and, when connected, the broker
func (a *App) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Repo.Ping(ctx); err != nil {
		return false
	}
	return a.Broker == nil || a.Broker.IsHealthy()
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
