package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/universal-tool-calling-protocol/go-mcp/src/protocol"
)

func callFrom(clientID string) *Call {
	return &Call{Tool: "greet", Context: &protocol.Context{ClientID: clientID}}
}

func TestRateLimitInterceptor(t *testing.T) {
	_, err := NewRateLimitInterceptor(0)
	assert.Error(t, err)

	rl, err := NewRateLimitInterceptor(2)
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, rl.Before(ctx, callFrom("a")))
	assert.NoError(t, rl.Before(ctx, callFrom("a")))

	err = rl.Before(ctx, callFrom("a"))
	var rej *RejectError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, http.StatusTooManyRequests, rej.Status)
	assert.Equal(t, protocol.CodeRateLimited, rej.Code)

	assert.NoError(t, rl.Before(ctx, callFrom("b")), "limits are per client")
}

func TestAccessInterceptor(t *testing.T) {
	ctx := context.Background()

	deny := NewAccessInterceptor(nil, []string{"mallory"})
	assert.NoError(t, deny.Before(ctx, callFrom("alice")))
	err := deny.Before(ctx, callFrom("mallory"))
	var rej *RejectError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, http.StatusForbidden, rej.Status)
	assert.Equal(t, protocol.CodeAccessDenied, rej.Code)

	allow := NewAccessInterceptor([]string{"alice"}, []string{"alice"})
	assert.Error(t, allow.Before(ctx, callFrom("alice")), "deny wins over allow")
	assert.Error(t, allow.Before(ctx, callFrom("bob")), "allow list excludes others")
}

func TestInterceptorFuncsAreOptional(t *testing.T) {
	var f InterceptorFuncs
	ctx := context.Background()
	assert.NoError(t, f.Before(ctx, callFrom("x")))
	f.After(ctx, callFrom("x"), protocol.StdResponse[any]{})
	f.OnError(ctx, callFrom("x"), errors.New("boom"))
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(nil)
	ctx := context.Background()

	first, cancelFirst := b.Subscribe(ctx)
	second, cancelSecond := b.Subscribe(ctx)
	defer cancelSecond()
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(protocol.StreamEventEnvelope{Event: EventProgress})
	for _, ch := range []<-chan string{first, second} {
		select {
		case line := <-ch:
			ev, err := protocol.ParseStreamEvent(line)
			require.NoError(t, err)
			assert.Equal(t, EventProgress, ev.Event)
			assert.False(t, ev.EmittedAt.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	cancelFirst()
	assert.Eventually(t, func() bool { return b.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	_, open := <-first
	assert.False(t, open)
}
