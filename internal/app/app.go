// Package app composes the service from its configuration: schema, store,
// handler registry, processor, metrics and the HTTP handler.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/jsonapi-atomic/internal/config"
	"github.com/roach88/jsonapi-atomic/internal/document"
	"github.com/roach88/jsonapi-atomic/internal/engine"
	"github.com/roach88/jsonapi-atomic/internal/mediatype"
	"github.com/roach88/jsonapi-atomic/internal/metrics"
	"github.com/roach88/jsonapi-atomic/internal/schema"
	"github.com/roach88/jsonapi-atomic/internal/server"
	"github.com/roach88/jsonapi-atomic/internal/store"
)

// App is a fully wired service instance.
type App struct {
	Config     *config.Config
	Schema     *schema.Schema
	Store      *store.Store
	Repository *store.Repository
	Registry   *engine.Registry
	Processor  *engine.Processor
	Metrics    *metrics.Metrics // nil when metrics are disabled
	Handler    *server.Handler
}

type options struct {
	ids    store.IDGenerator
	schema *schema.Schema
}

// Option customizes composition.
type Option func(*options)

// WithIDGenerator replaces the UUIDv7 generator for created resources.
func WithIDGenerator(g store.IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithSchema uses sch instead of loading cfg.Schema.
func WithSchema(sch *schema.Schema) Option {
	return func(o *options) {
		o.schema = sch
	}
}

// New builds an App. The caller owns the result and must Close it.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	sch := o.schema
	if sch == nil {
		loaded, err := schema.Load(cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
		sch = loaded
	}
	slog.Debug("schema loaded", "path", cfg.Schema, "types", sch.Types())

	guard, err := mediatype.NewGuard(cfg.GuardOptions())
	if err != nil {
		return nil, fmt.Errorf("media types: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	slog.Debug("store ready", "path", cfg.Store.Path)

	a := &App{
		Config:     cfg,
		Schema:     sch,
		Store:      st,
		Repository: store.NewRepository(st, sch, o.ids),
		Registry:   engine.NewRegistry(),
	}
	for _, typ := range sch.Types() {
		a.Registry.Register(typ, engine.HandlerFor(a.Repository))
	}

	var dispatchOpts []engine.DispatcherOption
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(cfg.Metrics.Runtime)
		dispatchOpts = append(dispatchOpts, engine.WithObserver(a.Metrics))
	}

	a.Processor = engine.NewProcessor(
		engine.NewDispatcher(st, a.Registry, dispatchOpts...),
		document.NewSerializer(sch, document.Options{BaseURL: cfg.Server.BaseURL}),
		engine.WithReturnPolicy(cfg.ReturnPolicy()),
		engine.WithMaxOperations(cfg.Operations.Max),
		engine.WithBasePath(cfg.Server.BasePath),
		engine.WithApplyRequestFields(cfg.Results.ApplyRequestFields),
	)

	handlerOpts := []server.Option{
		server.WithBasePath(cfg.Server.BasePath),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithHealthCheck(a.ping),
		server.WithAttributeHeader(cfg.MediaTypes.AttributeHeader),
	}
	if a.Metrics != nil {
		handlerOpts = append(handlerOpts, server.WithMetrics(a.Metrics))
	}
	a.Handler = server.NewHandler(a.Processor, guard, handlerOpts...)

	return a, nil
}

func (a *App) ping(ctx context.Context) error {
	return a.Store.Ping(ctx)
}

// Close releases the store.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
