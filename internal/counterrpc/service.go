// Package counterrpc exposes the live counter over gRPC. Messages are the
// protobuf well-known Struct and Empty types, so clients need no generated
// stubs: a Struct carries the same fields as the JSON snapshot.
package counterrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/repcount/internal/accumulator"
	"github.com/banshee-data/repcount/internal/monitoring"
	"github.com/banshee-data/repcount/internal/pipeline"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "repcount.v1.Counter"

const (
	snapshotMethod = "/" + ServiceName + "/Snapshot"
	statusMethod   = "/" + ServiceName + "/Status"
	watchMethod    = "/" + ServiceName + "/Watch"
)

const shutdownGrace = 5 * time.Second

var logf = monitoring.Component("grpc")

// CounterServer is the server API of repcount.v1.Counter.
type CounterServer interface {
	Snapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CounterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: unaryHandler(snapshotMethod, CounterServer.Snapshot)},
		{MethodName: "Status", Handler: unaryHandler(statusMethod, CounterServer.Status)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "repcount/v1/counter.proto",
}

func unaryHandler(fullMethod string, call func(CounterServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CounterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(CounterServer), ctx, req.(*emptypb.Empty))
		})
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CounterServer).Watch(in, stream)
}

// Register adds the counter service to s.
func Register(s *grpc.Server, srv CounterServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Server serves the accumulator and controller status.
type Server struct {
	acc    *accumulator.Accumulator
	status func() pipeline.Status
}

var _ CounterServer = (*Server)(nil)

// NewServer builds a Server. status may be nil, in which case Status answers
// Unimplemented.
func NewServer(acc *accumulator.Accumulator, status func() pipeline.Status) *Server {
	return &Server{acc: acc, status: status}
}

func (s *Server) Snapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.acc.Snapshot())
}

func (s *Server) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	if s.status == nil {
		return nil, status.Error(codes.Unimplemented, "status not available")
	}
	return toStruct(s.status())
}

// Watch sends the current snapshot, then one per change until the client
// goes away.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	id, ch := s.acc.Subscribe()
	defer s.acc.Unsubscribe(id)
	logf("watch %s started", id)

	send := func(snap accumulator.Snapshot) error {
		msg, err := toStruct(snap)
		if err != nil {
			return err
		}
		return stream.SendMsg(msg)
	}
	if err := send(s.acc.Snapshot()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			logf("watch %s ended: %v", id, ctx.Err())
			return ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			if err := send(snap); err != nil {
				return err
			}
		}
	}
}

// Serve runs a gRPC server with the counter service on lis until ctx is
// done, then stops gracefully.
func Serve(ctx context.Context, lis net.Listener, srv CounterServer) error {
	gs := grpc.NewServer()
	Register(gs, srv)

	errc := make(chan error, 1)
	go func() { errc <- gs.Serve(lis) }()
	logf("listening on %s", lis.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	// Watch streams only end when their clients leave, so GracefulStop is
	// bounded.
	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownGrace):
		logf("forcing stop after %v", shutdownGrace)
		gs.Stop()
	}
	<-errc
	return nil
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return msg, nil
}

// fromStruct decodes msg into v through its JSON form.
func fromStruct(msg *structpb.Struct, v any) error {
	data, err := json.Marshal(msg.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
