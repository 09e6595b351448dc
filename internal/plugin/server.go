package plugin

import (
	"context"

	"google.golang.org/grpc"
)

// Server is the interface a plugin implements. The runtime talks to it over
// gRPC; in-process test plugins implement it directly.
type Server interface {
	Initialize(ctx context.Context, req *InitializeRequest) (*InitializeResponse, error)
	Shutdown(ctx context.Context) error
	HealthCheck(ctx context.Context) (*HealthCheckResponse, error)
	ProcessMessage(ctx context.Context, req *ProcessMessageRequest) (*ProcessMessageResponse, error)
	ProcessStream(stream ChunkStream) error
	RegisterAgent(ctx context.Context, req *RegisterAgentRequest) (*RegisterAgentResponse, error)
	UnregisterAgent(ctx context.Context, req *UnregisterAgentRequest) error
	ListAgents(ctx context.Context) (*ListAgentsResponse, error)
	GetAgentCapabilities(ctx context.Context, req *GetAgentCapabilitiesRequest) (*GetAgentCapabilitiesResponse, error)
	GetPluginInfo(ctx context.Context) (*Info, error)
	GetMetrics(ctx context.Context) (*MetricsResponse, error)
}

// ChunkStream is the server-side view of the bidirectional chunk stream.
type ChunkStream interface {
	Context() context.Context
	Send(*StreamChunk) error
	Recv() (*StreamChunk, error)
}

// RegisterServer attaches a plugin implementation to a gRPC server under
// the plugin service name.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

// serviceDesc is the hand-written service descriptor; frames travel through
// the registered JSON codec.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Initialize", Handler: initializeHandler},
		{MethodName: "Shutdown", Handler: shutdownHandler},
		{MethodName: "HealthCheck", Handler: healthCheckHandler},
		{MethodName: "ProcessA2AMessage", Handler: processMessageHandler},
		{MethodName: "RegisterAgent", Handler: registerAgentHandler},
		{MethodName: "UnregisterAgent", Handler: unregisterAgentHandler},
		{MethodName: "ListAgents", Handler: listAgentsHandler},
		{MethodName: "GetAgentCapabilities", Handler: getAgentCapabilitiesHandler},
		{MethodName: "GetPluginInfo", Handler: getPluginInfoHandler},
		{MethodName: "GetMetrics", Handler: getMetricsHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ProcessA2AStream",
			Handler:       processStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "agentx/plugin/v1",
}

func unary[Req any, Resp any](srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor, method string, call func(Server, context.Context, *Req) (*Resp, error)) (any, error) {
	req := new(Req)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return call(srv.(Server), ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPrefix + method}
	handler := func(ctx context.Context, req any) (any, error) {
		return call(srv.(Server), ctx, req.(*Req))
	}
	return interceptor(ctx, req, info, handler)
}

func initializeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "Initialize",
		func(s Server, ctx context.Context, req *InitializeRequest) (*InitializeResponse, error) {
			return s.Initialize(ctx, req)
		})
}

func shutdownHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "Shutdown",
		func(s Server, ctx context.Context, _ *Empty) (*Empty, error) {
			return &Empty{}, s.Shutdown(ctx)
		})
}

func healthCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "HealthCheck",
		func(s Server, ctx context.Context, _ *Empty) (*HealthCheckResponse, error) {
			return s.HealthCheck(ctx)
		})
}

func processMessageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "ProcessA2AMessage",
		func(s Server, ctx context.Context, req *ProcessMessageRequest) (*ProcessMessageResponse, error) {
			return s.ProcessMessage(ctx, req)
		})
}

func registerAgentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "RegisterAgent",
		func(s Server, ctx context.Context, req *RegisterAgentRequest) (*RegisterAgentResponse, error) {
			return s.RegisterAgent(ctx, req)
		})
}

func unregisterAgentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "UnregisterAgent",
		func(s Server, ctx context.Context, req *UnregisterAgentRequest) (*Empty, error) {
			return &Empty{}, s.UnregisterAgent(ctx, req)
		})
}

func listAgentsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "ListAgents",
		func(s Server, ctx context.Context, _ *Empty) (*ListAgentsResponse, error) {
			return s.ListAgents(ctx)
		})
}

func getAgentCapabilitiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "GetAgentCapabilities",
		func(s Server, ctx context.Context, req *GetAgentCapabilitiesRequest) (*GetAgentCapabilitiesResponse, error) {
			return s.GetAgentCapabilities(ctx, req)
		})
}

func getPluginInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "GetPluginInfo",
		func(s Server, ctx context.Context, _ *Empty) (*Info, error) {
			return s.GetPluginInfo(ctx)
		})
}

func getMetricsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "GetMetrics",
		func(s Server, ctx context.Context, _ *Empty) (*MetricsResponse, error) {
			return s.GetMetrics(ctx)
		})
}

type serverChunkStream struct {
	grpc.ServerStream
}

func (s *serverChunkStream) Send(chunk *StreamChunk) error {
	return s.SendMsg(chunk)
}

func (s *serverChunkStream) Recv() (*StreamChunk, error) {
	var chunk StreamChunk
	if err := s.RecvMsg(&chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

func processStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(Server).ProcessStream(&serverChunkStream{ServerStream: stream})
}
