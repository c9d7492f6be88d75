package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	ServiceName = "mcp.McpService"

	invokeMethod = "/" + ServiceName + "/Invoke"
	streamMethod = "/" + ServiceName + "/Stream"

	// PathMetadataKey carries the HTTP-equivalent path of a unary call.
	PathMetadataKey = "x-mcp-path"
)

// Handler serves McpService. Invoke receives the JSON body (empty for
// GET-style calls) and the path it targets; Stream pushes one line per event
// until it returns.
type Handler interface {
	Invoke(ctx context.Context, path string, body string) (string, error)
	Stream(ctx context.Context, path string, send func(line string) error) error
}

// ServerOption makes a grpc.Server speak the string codec.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(stringCodec{})
}

// RegisterService registers h on s. s must be created with ServerOption.
func RegisterService(s *grpc.Server, h Handler) {
	s.RegisterService(&serviceDesc, h)
}

// PathFromContext returns the path sent by a client, or "".
func PathFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(PathMetadataKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Stream", Handler: streamHandler, ServerStreams: true},
	},
	Metadata: "mcp.proto",
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var in string
	if err := dec(&in); err != nil {
		return nil, err
	}
	h := srv.(Handler)
	call := func(ctx context.Context, req any) (any, error) {
		return h.Invoke(ctx, PathFromContext(ctx), *req.(*string))
	}
	if interceptor == nil {
		return call(ctx, &in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	return interceptor(ctx, &in, info, call)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	var path string
	if err := stream.RecvMsg(&path); err != nil {
		return err
	}
	return srv.(Handler).Stream(stream.Context(), path, func(line string) error {
		return stream.SendMsg(&line)
	})
}
