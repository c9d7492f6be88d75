package json

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
	NewDecoder    = json.NewDecoder
	NewEncoder    = json.NewEncoder
	Valid         = json.Valid
)

type RawMessage = jsoniter.RawMessage

type Decoder = jsoniter.Decoder

type Encoder = jsoniter.Encoder

// Convert re-types src into a fresh T by round-tripping it through JSON.
// A src that is already a T is returned as is.
func Convert[T any](src any) (T, error) {
	var out T
	if v, ok := src.(T); ok {
		return v, nil
	}
	if src == nil {
		return out, nil
	}
	raw, err := toRaw(src)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// ConvertInto decodes src into dst, which must be a pointer.
func ConvertInto(src any, dst any) error {
	raw, err := toRaw(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// Equal reports whether a and b encode to the same JSON document.
// Map key order does not matter.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, err := toRaw(a)
	if err != nil {
		return false
	}
	rb, err := toRaw(b)
	if err != nil {
		return false
	}
	if bytes.Equal(ra, rb) {
		return true
	}
	var va, vb any
	if json.Unmarshal(ra, &va) != nil || json.Unmarshal(rb, &vb) != nil {
		return false
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return bytes.Equal(ca, cb)
}

func toRaw(v any) ([]byte, error) {
	switch t := v.(type) {
	case RawMessage:
		if len(t) == 0 {
			return []byte("null"), nil
		}
		return t, nil
	case []byte:
		if len(t) == 0 {
			return []byte("null"), nil
		}
		return t, nil
	default:
		return json.Marshal(v)
	}
}
