package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/e4stream/proto"
)

type stubSource struct {
	batches []stubBatch
	calls   int
}

type stubBatch struct {
	samples []proto.Sample
	err     error
}

func (s *stubSource) GetData() ([]proto.Sample, error) {
	s.calls++
	if len(s.batches) == 0 {
		return nil, fmt.Errorf("%w: exhausted", ErrTimeout)
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b.samples, b.err
}

func TestAwaitTagFromSession(t *testing.T) {
	f := e4Server("9ff167", "tag", "bvp")
	s := connectedSession(t, f, "9ff167", "tag", "bvp")
	require.NoError(t, s.Resume())

	f.push("E4_Bvp 10,00 31,79\nE4_Bvp 11,00 31,80\n", "E4_Tag 12,50\nE4_Tag 13,00\n")

	ts, err := NewTagPoller().AwaitTag(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 12.50, ts)
}

func TestAwaitTagRetriesTimeouts(t *testing.T) {
	src := &stubSource{batches: []stubBatch{
		{err: fmt.Errorf("%w: idle", ErrTimeout)},
		{err: fmt.Errorf("%w: idle", ErrTimeout)},
		{samples: []proto.Sample{{Stream: proto.StreamGsr, Timestamp: 1, Values: []float64{0.2}}}},
		{samples: []proto.Sample{{Stream: proto.StreamTag, Timestamp: 42.25}}},
	}}

	ts, err := NewTagPoller().AwaitTag(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 42.25, ts)
	assert.Equal(t, 4, src.calls)
}

func TestAwaitTagStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	src := &stubSource{}
	_, err := NewTagPoller().AwaitTag(ctx, src)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, src.calls)
}

func TestAwaitTagAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &stubSource{}
	_, err := NewTagPoller().AwaitTag(ctx, src)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.calls)
}

func TestAwaitTagSurfacesConnectionLost(t *testing.T) {
	lost := &ConnectionLostError{DeviceID: "9ff167", Err: fmt.Errorf("%w: during pause", ErrTimeout)}
	src := &stubSource{batches: []stubBatch{{err: lost}}}

	_, err := NewTagPoller().AwaitTag(context.Background(), src)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestAwaitTagUsesSamplesReturnedWithError(t *testing.T) {
	malformed := &proto.MalformedSampleError{Line: "E4_Acc 1 2", Reason: "short"}
	src := &stubSource{batches: []stubBatch{{
		samples: []proto.Sample{{Stream: proto.StreamTag, Timestamp: 7}},
		err:     malformed,
	}}}

	ts, err := NewTagPoller().AwaitTag(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 7.0, ts)
}

func TestAwaitTagCustomStream(t *testing.T) {
	src := &stubSource{batches: []stubBatch{{
		samples: []proto.Sample{
			{Stream: proto.StreamTag, Timestamp: 1},
			{Stream: "E4_Marker", Timestamp: 2},
		},
	}}}
	ts, err := NewTagPoller(WithTagStream("E4_Marker")).AwaitTag(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2.0, ts)

	_, err = NewTagPoller().AwaitTag(context.Background(), &stubSource{batches: []stubBatch{{err: errors.New("boom")}}})
	assert.EqualError(t, err, "boom")
}
