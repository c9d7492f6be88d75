package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/universal-tool-calling-protocol/go-mcp/internal/logctx"
	"github.com/universal-tool-calling-protocol/go-mcp/src/async"
	"github.com/universal-tool-calling-protocol/go-mcp/src/eventbus"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// Dispatcher answers route request events by invoking the bound tool.
type Dispatcher struct {
	bus           *eventbus.Bus
	resolver      Resolver
	routes        map[string]RouteConfig
	order         []string
	defaultServer string
	types         *Types
	executor      async.Executor
	log           *slog.Logger

	mu      sync.Mutex
	subs    []*eventbus.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

type DispatcherOption func(*Dispatcher)

// WithDefaultServer names the server used by routes that do not set one.
func WithDefaultServer(name string) DispatcherOption {
	return func(d *Dispatcher) { d.defaultServer = name }
}

func WithTypes(t *Types) DispatcherOption {
	return func(d *Dispatcher) { d.types = t }
}

func WithExecutor(ex async.Executor) DispatcherOption {
	return func(d *Dispatcher) { d.executor = ex }
}

func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

func NewDispatcher(bus *eventbus.Bus, resolver Resolver, routes []RouteConfig, opts ...DispatcherOption) (*Dispatcher, error) {
	if bus == nil || resolver == nil {
		return nil, errors.New("dispatcher requires a bus and a resolver")
	}
	byName, order, err := indexRoutes(routes)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		bus:      bus,
		resolver: resolver,
		routes:   byName,
		order:    order,
	}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.executor == nil {
		d.executor = async.Goroutines{}
	}
	if d.types == nil {
		d.types = NewTypes()
	}
	return d, nil
}

func (d *Dispatcher) serverFor(r RouteConfig) (string, error) {
	if r.Server != "" {
		return r.Server, nil
	}
	if d.defaultServer != "" {
		return d.defaultServer, nil
	}
	return "", fmt.Errorf("no default server configured for route %s", r.Name)
}

// Start validates every route and registers its request listener. Nothing
// is registered when any route is invalid.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}

	type binding struct {
		route   RouteConfig
		server  string
		invoker Invoker
	}
	bindings := make([]binding, 0, len(d.order))
	for _, name := range d.order {
		r := d.routes[name]
		if r.Tool == "" {
			return fmt.Errorf("route %s has no tool", name)
		}
		if r.RequestType != "" && !d.types.Known(r.RequestType) {
			return fmt.Errorf("route %s: unknown request type %s", name, r.RequestType)
		}
		if r.ResponseType != "" && !d.types.Known(r.ResponseType) {
			return fmt.Errorf("route %s: unknown response type %s", name, r.ResponseType)
		}
		server, err := d.serverFor(r)
		if err != nil {
			return err
		}
		inv, err := d.resolver.Invoker(server)
		if err != nil {
			return fmt.Errorf("route %s: %w", name, err)
		}
		bindings = append(bindings, binding{route: r, server: server, invoker: inv})
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	for _, b := range bindings {
		b := b
		d.subs = append(d.subs, d.bus.Register(b.route.RequestEvent, func(ev eventbus.Event) {
			d.handle(b.route, b.server, b.invoker, ev)
		}))
		d.log.Debug("route registered",
			slog.String("route", b.route.Name),
			slog.String("server", b.server),
			slog.String("tool", b.route.Tool),
		)
	}
	d.started = true
	return nil
}

// Stop releases every listener. In-flight invocations see a cancelled
// context.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	subs := d.subs
	d.subs = nil
	cancel := d.cancel
	d.started = false
	d.mu.Unlock()

	for _, s := range subs {
		s.Release()
	}
	if cancel != nil {
		cancel()
	}
}

func (d *Dispatcher) handle(r RouteConfig, server string, inv Invoker, ev eventbus.Event) {
	corr := ev.CorrelationID()
	ctx := logctx.WithRouteData(d.ctx, &logctx.RouteData{Route: r.Name, Server: server, CorrelationID: corr})

	payload, err := d.types.Convert(r.RequestType, ev.Payload)
	if err != nil {
		d.publishError(ctx, r, server, corr, err)
		return
	}

	fut := async.Run(d.executor, func() (protocol.StdResponse[any], error) {
		return inv.Invoke(ctx, r.Tool, payload)
	})
	fut.OnSettle(func(resp protocol.StdResponse[any], err error) {
		if err != nil {
			d.publishError(ctx, r, server, corr, async.Cause(err))
			return
		}
		if r.ResponseType != "" {
			data, cerr := d.types.Convert(r.ResponseType, resp.Data)
			if cerr != nil {
				d.publishError(ctx, r, server, corr, cerr)
				return
			}
			resp.Data = data
		}
		d.bus.Publish(eventbus.NewEvent(r.ResponseEvent, resp, d.attrs(r, server, corr)))
	})
}

func (d *Dispatcher) publishError(ctx context.Context, r RouteConfig, server, corr string, err error) {
	d.log.WarnContext(ctx, "route invocation failed", slog.Any("error", err))
	d.bus.Publish(eventbus.NewEvent(r.ErrorEvent, err, d.attrs(r, server, corr)))
}

func (d *Dispatcher) attrs(r RouteConfig, server, corr string) map[string]string {
	return map[string]string{
		eventbus.AttrCorrelationID: corr,
		eventbus.AttrRoute:         r.Name,
		eventbus.AttrServer:        server,
	}
}
