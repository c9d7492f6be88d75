package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/universal-tool-calling-protocol/go-mcp/src/async"
	"github.com/universal-tool-calling-protocol/go-mcp/src/eventbus"
	"github.com/universal-tool-calling-protocol/go-mcp/src/routing"
)

// EnvironmentOptions tunes an Environment. All fields are optional.
type EnvironmentOptions struct {
	Logger   *slog.Logger
	Types    *routing.Types
	Executor async.Executor
	Loaders  []VariablesLoader
}

// Environment wires a configuration into a bus, a registry of clients and
// a route dispatcher.
type Environment struct {
	Config     *ClientConfig
	Bus        *eventbus.Bus
	Registry   *Registry
	Dispatcher *routing.Dispatcher

	routes *routing.Client
	log    *slog.Logger
}

// LoadEnvironment reads the configuration at path and builds an Environment.
func LoadEnvironment(ctx context.Context, path string, opts EnvironmentOptions) (*Environment, error) {
	cfg, err := LoadConfig(path, opts.Loaders...)
	if err != nil {
		return nil, err
	}
	return NewEnvironment(ctx, cfg, opts)
}

func NewEnvironment(ctx context.Context, cfg *ClientConfig, opts EnvironmentOptions) (*Environment, error) {
	if cfg == nil {
		return nil, errors.New("nil MCP configuration")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	executor := opts.Executor
	if executor == nil {
		executor = async.NewPool(16)
	}

	bus := eventbus.New(log)
	reg, err := NewRegistry(ctx, cfg, log, executor)
	if err != nil {
		return nil, err
	}

	dopts := []routing.DispatcherOption{
		routing.WithExecutor(executor),
		routing.WithLogger(log),
	}
	if opts.Types != nil {
		dopts = append(dopts, routing.WithTypes(opts.Types))
	}
	if def, err := cfg.ResolveDefaultServer(); err == nil {
		dopts = append(dopts, routing.WithDefaultServer(def))
	}
	disp, err := routing.NewDispatcher(bus, reg, cfg.Routes, dopts...)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	rc, err := routing.NewClient(bus, cfg.Routes, log)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}
	return &Environment{
		Config:     cfg,
		Bus:        bus,
		Registry:   reg,
		Dispatcher: disp,
		routes:     rc,
		log:        log,
	}, nil
}

// Start registers the route listeners.
func (e *Environment) Start(ctx context.Context) error {
	if err := e.Dispatcher.Start(ctx); err != nil {
		return err
	}
	e.log.Info("mcp environment started",
		slog.Int("servers", len(e.Config.Servers)),
		slog.Int("routes", len(e.Config.Routes)),
	)
	return nil
}

// RouteClient returns the client for publishing route requests.
func (e *Environment) RouteClient() *routing.Client { return e.routes }

// Client is shorthand for Registry.Client.
func (e *Environment) Client(server string) (*Client, error) {
	return e.Registry.Client(server)
}

func (e *Environment) Close() error {
	e.Dispatcher.Stop()
	return e.Registry.Close()
}
