package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/universal-tool-calling-protocol/go-mcp/src/async"
	"github.com/universal-tool-calling-protocol/go-mcp/src/eventbus"
	json "github.com/universal-tool-calling-protocol/go-mcp/src/json"
	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

// UnexpectedErrorPayload is the failure used when something other than an
// error arrives on a route's error topic.
type UnexpectedErrorPayload struct {
	Payload any
}

func (e *UnexpectedErrorPayload) Error() string {
	return fmt.Sprintf("unexpected error payload: %T", e.Payload)
}

// Client publishes route requests and waits for the correlated answer.
type Client struct {
	bus    *eventbus.Bus
	routes map[string]RouteConfig
	log    *slog.Logger
}

func NewClient(bus *eventbus.Bus, routes []RouteConfig, logger *slog.Logger) (*Client, error) {
	byName, _, err := indexRoutes(routes)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{bus: bus, routes: byName, log: logger}, nil
}

// Invoke publishes payload on the route's request topic. The future settles
// with the first response or error carrying the request's correlation id.
// Both listeners are released once it settles or ctx ends.
func (c *Client) Invoke(ctx context.Context, route string, payload any) *async.Future[protocol.StdResponse[any]] {
	fut := async.NewFuture[protocol.StdResponse[any]]()
	r, ok := c.routes[route]
	if !ok {
		fut.Fail(fmt.Errorf("route not configured: %s", route))
		return fut
	}
	corr := uuid.NewString()

	var respSub, errSub *eventbus.Subscription
	release := func() {
		respSub.Release()
		errSub.Release()
	}

	respSub = c.bus.Register(r.ResponseEvent, func(ev eventbus.Event) {
		if ev.CorrelationID() != corr {
			return
		}
		resp, err := asResponse(ev.Payload)
		if err != nil {
			fut.Fail(err)
		} else {
			fut.Complete(resp)
		}
		release()
	})
	errSub = c.bus.Register(r.ErrorEvent, func(ev eventbus.Event) {
		if ev.CorrelationID() != corr {
			return
		}
		err, ok := ev.Payload.(error)
		if !ok {
			err = &UnexpectedErrorPayload{Payload: ev.Payload}
		}
		fut.Fail(err)
		release()
	})

	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-fut.Done():
			case <-done:
				if fut.Fail(ctx.Err()) {
					release()
				}
			}
		}()
	}

	c.log.DebugContext(ctx, "route request", slog.String("route", route), slog.String("correlation_id", corr))
	c.bus.Publish(eventbus.NewEvent(r.RequestEvent, payload, map[string]string{
		eventbus.AttrCorrelationID: corr,
		eventbus.AttrRoute:         route,
	}))
	return fut
}

// InvokeBlocking waits for Invoke's answer.
func (c *Client) InvokeBlocking(ctx context.Context, route string, payload any) (protocol.StdResponse[any], error) {
	return c.Invoke(ctx, route, payload).Await(ctx)
}

// InvokeAs waits for the answer and re-types its data.
func InvokeAs[T any](ctx context.Context, c *Client, route string, payload any) (protocol.StdResponse[T], error) {
	resp, err := c.InvokeBlocking(ctx, route, payload)
	if err != nil {
		return protocol.StdResponse[T]{}, err
	}
	return protocol.ConvertResponse[T](resp)
}

func asResponse(payload any) (protocol.StdResponse[any], error) {
	switch p := payload.(type) {
	case protocol.StdResponse[any]:
		return p, nil
	case *protocol.StdResponse[any]:
		if p == nil {
			return protocol.StdResponse[any]{}, errors.New("nil route response")
		}
		return *p, nil
	}
	resp, err := json.Convert[protocol.StdResponse[any]](payload)
	if err != nil {
		return resp, fmt.Errorf("decode route response: %w", err)
	}
	return resp, nil
}
