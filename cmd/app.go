package cmd

import (
	"context"
	"fmt"

	"github.com/alcovehq/alcove/internal/api"
	"github.com/alcovehq/alcove/internal/config"
	"github.com/alcovehq/alcove/internal/log"
	"github.com/alcovehq/alcove/internal/notify"
	"github.com/alcovehq/alcove/internal/observability"
	"github.com/alcovehq/alcove/internal/provision"
	"github.com/alcovehq/alcove/internal/state"
	"github.com/alcovehq/alcove/internal/upload"
)

// app bundles the wired components shared by all commands.
type app struct {
	cfg         *config.Config
	logger      log.Logger
	client      *api.Client
	uploads     *upload.Coordinator
	provisioner *provision.Orchestrator
	store       *state.Store

	shutdown func(context.Context) error
}

// buildApp loads configuration and wires the component graph. The returned
// app's shutdown must be called on exit to flush traces.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	shutdown, err := observability.Setup(ctx, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	client, err := api.New(cfg.BaseURL, cfg.APIToken, cfg.RequestTimeout, logger)
	if err != nil {
		return nil, err
	}

	// One notification channel per batch, dialed at settlement time.
	opener := upload.OpenerFunc(func(ctx context.Context) (upload.Channel, error) {
		return notify.Dial(ctx, cfg.WSURL, cfg.APIToken, logger)
	})

	uploads, err := upload.NewCoordinator(client, opener, upload.Options{
		Concurrency:    cfg.UploadConcurrency,
		ProcessingWait: cfg.ProcessingTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	provisioner, err := provision.New(client, uploads, logger)
	if err != nil {
		return nil, err
	}

	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	store, err := state.NewStore(dir, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:         cfg,
		logger:      logger,
		client:      client,
		uploads:     uploads,
		provisioner: provisioner,
		store:       store,
		shutdown:    shutdown,
	}, nil
}
