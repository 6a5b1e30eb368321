package counterrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/repcount/internal/accumulator"
	"github.com/banshee-data/repcount/internal/pipeline"
)

// Client calls repcount.v1.Counter.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Snapshot fetches the current counter state.
func (c *Client) Snapshot(ctx context.Context, opts ...grpc.CallOption) (accumulator.Snapshot, error) {
	var snap accumulator.Snapshot
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, snapshotMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return snap, err
	}
	return snap, fromStruct(out, &snap)
}

// Status fetches the controller status.
func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (pipeline.Status, error) {
	var st pipeline.Status
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return st, err
	}
	return st, fromStruct(out, &st)
}

// Watcher receives counter snapshots from a Watch stream.
type Watcher struct {
	stream grpc.ClientStream
}

// Watch opens a snapshot stream. Cancel ctx to end it.
func (c *Client) Watch(ctx context.Context, opts ...grpc.CallOption) (*Watcher, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream}, nil
}

// Recv blocks for the next snapshot.
func (w *Watcher) Recv() (accumulator.Snapshot, error) {
	var snap accumulator.Snapshot
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return snap, err
	}
	return snap, fromStruct(msg, &snap)
}
