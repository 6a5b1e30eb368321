package counterrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/repcount/internal/accumulator"
	"github.com/banshee-data/repcount/internal/pipeline"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// dial serves srv over an in-memory listener and returns a connected client.
func dial(t *testing.T, srv CounterServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, lis, srv) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return NewClient(conn)
}

func TestSnapshot(t *testing.T) {
	acc := accumulator.New()
	acc.Reset("Squat", 0.5)
	acc.RecordRepetition(epoch, accumulator.SourceGeometric)
	acc.RecordRepetition(epoch.Add(2*time.Second), accumulator.SourceGeometric)

	c := dial(t, NewServer(acc, nil))
	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Squat", snap.Exercise)
	assert.Equal(t, 2.0, snap.Count)
	assert.Equal(t, 1.0, snap.Calories)
	assert.True(t, snap.LastEventAt.Equal(epoch.Add(2*time.Second)))
}

func TestStatus(t *testing.T) {
	acc := accumulator.New()
	c := dial(t, NewServer(acc, func() pipeline.Status {
		return pipeline.Status{State: pipeline.StateRunning, SessionID: "abc", FramesPublished: 42, Counter: acc.Snapshot()}
	}))
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateRunning, st.State)
	assert.Equal(t, "abc", st.SessionID)
	assert.Equal(t, uint64(42), st.FramesPublished)
}

func TestStatus_Unavailable(t *testing.T) {
	c := dial(t, NewServer(accumulator.New(), nil))
	_, err := c.Status(context.Background())
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestWatch(t *testing.T) {
	acc := accumulator.New()
	acc.Reset("Planks", 1)
	c := dial(t, NewServer(acc, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := c.Watch(ctx)
	require.NoError(t, err)

	first, err := w.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Planks", first.Exercise)
	assert.Zero(t, first.Count)

	acc.RecordRepetition(epoch, accumulator.SourceGeometric)
	var last accumulator.Snapshot
	for last.Count < 1 {
		last, err = w.Recv()
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, last.Calories)

	cancel()
	_, err = w.Recv()
	assert.Equal(t, codes.Canceled, status.Code(err))
}

func TestStructRoundTrip(t *testing.T) {
	in := accumulator.Snapshot{Exercise: "Squat", Count: 3, Calories: 1.5, CalorieIncrement: 0.5, LastEventAt: epoch, LastCumulativeCount: 3}
	msg, err := toStruct(in)
	require.NoError(t, err)
	assert.Equal(t, "Squat", msg.Fields["exercise"].GetStringValue())

	var out accumulator.Snapshot
	require.NoError(t, fromStruct(msg, &out))
	assert.True(t, out.LastEventAt.Equal(in.LastEventAt))
	out.LastEventAt = in.LastEventAt
	assert.Equal(t, in, out)
}
