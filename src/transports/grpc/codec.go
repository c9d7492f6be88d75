package grpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is advertised as the content-subtype.
const codecName = "mcp-string"

// stringCodec marshals gRPC messages as raw UTF-8 strings so the service
// needs no generated protobuf types. Every message on McpService is a JSON
// document or a path.
type stringCodec struct{}

var _ encoding.Codec = stringCodec{}

func (stringCodec) Name() string { return codecName }

func (stringCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case string:
		return []byte(m), nil
	case *string:
		return []byte(*m), nil
	case []byte:
		return m, nil
	case *[]byte:
		return *m, nil
	default:
		return nil, fmt.Errorf("mcp-string codec: cannot marshal %T", v)
	}
}

func (stringCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *string:
		*m = string(data)
	case *[]byte:
		*m = append((*m)[:0], data...)
	default:
		return fmt.Errorf("mcp-string codec: cannot unmarshal into %T", v)
	}
	return nil
}
