package grpc

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/runtime"
)

// SendRequest/SendResponse etc. are the JSON request/response bodies for
// the hand-registered control-surface service. There is no generated
// .proto for these: the field names double as the wire contract.

type SendRequest struct {
	TargetPID string `json:"target_pid"`
	Payload   string `json:"payload"` // base64
}

type SendResponse struct {
	OK bool `json:"ok"`
}

type StopRequest struct {
	TargetPID string `json:"target_pid"`
	Reason    string `json:"reason"`
}

type StopResponse struct {
	OK bool `json:"ok"`
}

type ResolveRequest struct {
	Name string `json:"name"`
}

type ResolveResponse struct {
	Found bool   `json:"found"`
	PID   string `json:"pid"`
}

type StatsRequest struct{}

type StatsResponse struct {
	ActorCount    int      `json:"actor_count"`
	ReadyQueueLen int      `json:"ready_queue_len"`
	Peers         []string `json:"peers"`
}

// ControlService implements the control-surface RPC methods against a
// *runtime.Runtime. Method signatures match grpc's unary handler shape
// (ctx, req) (resp, error) so they plug directly into the hand-written
// grpc.ServiceDesc below.
type ControlService struct {
	rt *runtime.Runtime
}

// NewControlService constructs a ControlService bound to rt.
func NewControlService(rt *runtime.Runtime) *ControlService {
	return &ControlService{rt: rt}
}

func (s *ControlService) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	target, err := parsePID(req.TargetPID)
	if err != nil {
		return nil, err
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("grpc: invalid base64 payload: %w", err)
	}
	if err := s.rt.Send(ctx, target, payload); err != nil {
		return nil, err
	}
	return &SendResponse{OK: true}, nil
}

func (s *ControlService) Stop(ctx context.Context, req *StopRequest) (*StopResponse, error) {
	target, err := parsePID(req.TargetPID)
	if err != nil {
		return nil, err
	}
	if err := s.rt.StopActor(ctx, target, req.Reason); err != nil {
		return nil, err
	}
	return &StopResponse{OK: true}, nil
}

func (s *ControlService) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	p, ok := s.rt.ResolveLocal(ctx, req.Name)
	if !ok {
		return &ResolveResponse{Found: false}, nil
	}
	return &ResolveResponse{Found: true, PID: p.String()}, nil
}

func (s *ControlService) Stats(ctx context.Context, _ *StatsRequest) (*StatsResponse, error) {
	st := s.rt.Stats()
	return &StatsResponse{ActorCount: st.ActorCount, ReadyQueueLen: st.ReadyQueueLen, Peers: st.Peers}, nil
}

func parsePID(s string) (pid.PID, error) {
	var idx, gen uint32
	if _, err := fmt.Sscanf(s, "<%d.%d>", &idx, &gen); err != nil {
		return pid.Zero, fmt.Errorf("grpc: malformed pid %q: %w", s, err)
	}
	return pid.PID{Index: idx, Gen: gen}, nil
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a "ControlService" with these four unary RPCs. Handler
// functions unmarshal through the registered jsonCodec via dec(), then
// thread through any interceptor chain exactly as a generated stub would.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "actorcore.control.v1.ControlService",
	HandlerType: (*ControlService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: sendHandler},
		{MethodName: "Stop", Handler: stopHandler},
		{MethodName: "Resolve", Handler: resolveHandler},
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/handler/grpc/service.go",
}

func sendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(SendRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	svc := srv.(*ControlService)
	if interceptor == nil {
		return svc.Send(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/actorcore.control.v1.ControlService/Send"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return svc.Send(ctx, req.(*SendRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func stopHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(StopRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	svc := srv.(*ControlService)
	if interceptor == nil {
		return svc.Stop(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/actorcore.control.v1.ControlService/Stop"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return svc.Stop(ctx, req.(*StopRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func resolveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ResolveRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	svc := srv.(*ControlService)
	if interceptor == nil {
		return svc.Resolve(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/actorcore.control.v1.ControlService/Resolve"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return svc.Resolve(ctx, req.(*ResolveRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func statsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(StatsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	svc := srv.(*ControlService)
	if interceptor == nil {
		return svc.Stats(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/actorcore.control.v1.ControlService/Stats"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return svc.Stats(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// RegisterHealthService exposes the stock grpc-go health service
// (google.golang.org/grpc/health), which ships already compiled with
// grpc-go itself and needs no protoc step, unlike ControlService above.
func RegisterHealthService(server *grpc.Server, hs healthpb.HealthServer) {
	healthpb.RegisterHealthServer(server, hs)
}
