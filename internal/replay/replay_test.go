package replay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/repcount/internal/pose"
	"github.com/banshee-data/repcount/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestSliceSource_EOF(t *testing.T) {
	src := NewSliceSource(Sequence(epoch, 30, 3, PatternFor("squat"))...)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, f.ID)
	}
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, src.Remaining())
}

func TestSliceSource_Err(t *testing.T) {
	boom := errors.New("camera unplugged")
	src := NewSliceSource()
	src.Err = boom

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSliceSource_HoldUntilCancel(t *testing.T) {
	src := NewSliceSource()
	src.Hold = true

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := src.Next(ctx)
		errc <- err
	}()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after cancel")
	}
}

func TestSliceSource_HoldUntilClose(t *testing.T) {
	src := NewSliceSource()
	src.Hold = true

	errc := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		errc <- err
	}()

	require.NoError(t, src.Close())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestRecorderFileSourceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	rec, err := CreateRecorder(path)
	require.NoError(t, err)

	frames := Sequence(epoch, 10, 5, PatternFor("jumping jacks"))
	for _, f := range frames {
		require.NoError(t, rec.Display(context.Background(), f))
	}
	assert.Equal(t, 5, rec.Frames())
	require.NoError(t, rec.Close())

	clock := timeutil.NewMockClock(epoch.Add(time.Hour))
	src, err := OpenFile(path, clock)
	require.NoError(t, err)
	defer src.Close()
	src.Rate = 0

	for i, want := range frames {
		got, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), got.ID)
		assert.True(t, got.Time.Equal(clock.Now()), "frames are restamped with the replay clock")
		require.Len(t, got.Poses, 1)
		wantWrist, _ := want.Poses[0].Keypoint(pose.RightWrist)
		gotWrist, ok := got.Poses[0].Keypoint(pose.RightWrist)
		require.True(t, ok)
		assert.InDelta(t, wantWrist.Location.Y, gotWrist.Location.Y, 1e-12)
	}
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestFileSource_Paced(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	for _, f := range Sequence(epoch, 2, 2, PatternFor("planks")) {
		require.NoError(t, rec.Display(context.Background(), f))
	}
	require.NoError(t, rec.Close())

	path := filepath.Join(t.TempDir(), "paced.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	clock := timeutil.NewMockClock(epoch)
	src, err := OpenFile(path, clock)
	require.NoError(t, err)
	defer src.Close()

	first, err := src.Next(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				clock.Advance(50 * time.Millisecond)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	second, err := src.Next(context.Background())
	close(done)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.Time.Sub(first.Time), 500*time.Millisecond)
}

func TestFileSource_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n"), 0o600))

	src, err := OpenFile(path, nil)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestSyntheticSource(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	src := NewSyntheticSource(clock, 10, PatternFor("squat"))
	defer src.Close()

	go func() {
		time.Sleep(5 * time.Millisecond)
		clock.Advance(100 * time.Millisecond)
	}()

	f, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.ID)
	assert.Equal(t, epoch.Add(100*time.Millisecond), f.Time)

	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestPatternFor(t *testing.T) {
	squat := PatternFor("Squat")
	up, _ := squat(0).Keypoint(pose.Root)
	down, _ := squat(1500 * time.Millisecond).Keypoint(pose.Root)
	assert.Greater(t, up.Location.Y, down.Location.Y)

	still := PatternFor("no such exercise")
	assert.Equal(t, Standing(), still(42*time.Second))
}
