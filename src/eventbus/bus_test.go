package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var got []string
	b.Register("a", func(Event) { got = append(got, "first") })
	b.Register("a", func(Event) { got = append(got, "second") })
	b.Register("b", func(Event) { got = append(got, "other") })

	b.Publish(NewEvent("a", nil, nil))
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestReleaseIsIdempotent(t *testing.T) {
	b := New(nil)
	calls := 0
	sub := b.Register("t", func(Event) { calls++ })
	keep := b.Register("t", func(Event) {})

	sub.Release()
	sub.Release()
	assert.Equal(t, 1, b.Listeners("t"))

	b.Publish(NewEvent("t", nil, nil))
	assert.Equal(t, 0, calls)

	keep.Release()
	assert.Equal(t, 0, b.Listeners("t"))
}

func TestReleaseFromInsideListener(t *testing.T) {
	b := New(nil)
	calls := 0
	var sub *Subscription
	sub = b.Register("t", func(Event) {
		calls++
		sub.Release()
	})
	b.Publish(NewEvent("t", nil, nil))
	b.Publish(NewEvent("t", nil, nil))
	assert.Equal(t, 1, calls)
}

func TestPanickingListenerDoesNotStopDelivery(t *testing.T) {
	b := New(nil)
	delivered := false
	b.Register("t", func(Event) { panic("listener fault") })
	b.Register("t", func(Event) { delivered = true })

	assert.NotPanics(t, func() { b.Publish(NewEvent("t", nil, nil)) })
	assert.True(t, delivered)
}

func TestEventAttributesAreCopied(t *testing.T) {
	attrs := map[string]string{AttrCorrelationID: "c-1"}
	ev := NewEvent("t", 1, attrs)
	attrs[AttrCorrelationID] = "mutated"

	assert.Equal(t, "c-1", ev.CorrelationID())
	out := ev.Attributes()
	out[AttrRoute] = "x"
	assert.Empty(t, ev.Attribute(AttrRoute))
}
