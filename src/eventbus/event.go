package eventbus

// Well-known attribute keys.
const (
	AttrCorrelationID = "correlationId"
	AttrRoute         = "route"
	AttrServer        = "server"
)

// Event is an immutable named message. Attributes are copied on the way in
// and on the way out.
type Event struct {
	Name    string
	Payload any
	attrs   map[string]string
}

func NewEvent(name string, payload any, attrs map[string]string) Event {
	cp := make(map[string]string, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return Event{Name: name, Payload: payload, attrs: cp}
}

// Attribute returns a single attribute, "" when unset.
func (e Event) Attribute(key string) string { return e.attrs[key] }

// Attributes returns a copy of all attributes.
func (e Event) Attributes() map[string]string {
	cp := make(map[string]string, len(e.attrs))
	for k, v := range e.attrs {
		cp[k] = v
	}
	return cp
}

// CorrelationID is shorthand for Attribute(AttrCorrelationID).
func (e Event) CorrelationID() string { return e.attrs[AttrCorrelationID] }
