package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/e4stream/broker"
	"github.com/mbocsi/e4stream/client"
	"github.com/mbocsi/e4stream/config"
	"github.com/mbocsi/e4stream/proto"
)

type batch struct {
	samples []proto.Sample
	err     error
}

// fakeStreamer replays batches from GetData and records every call. Once the
// batches run out it cancels the test context.
type fakeStreamer struct {
	mu           sync.Mutex
	state        client.State
	batches      []batch
	calls        []string
	connectErr   error
	reconnectErr []error
	done         context.CancelFunc
}

func (f *fakeStreamer) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeStreamer) Connect(ctx context.Context) error {
	f.record("connect")
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = client.StatePaused
	return nil
}

func (f *fakeStreamer) Reconnect(ctx context.Context) error {
	f.record("reconnect")
	if len(f.reconnectErr) > 0 {
		err := f.reconnectErr[0]
		f.reconnectErr = f.reconnectErr[1:]
		if err != nil {
			f.state = client.StateDisconnected
			return err
		}
	}
	f.state = client.StatePaused
	return nil
}

func (f *fakeStreamer) Resume() error {
	f.record("resume")
	f.state = client.StateStreaming
	return nil
}

func (f *fakeStreamer) Pause() error {
	f.record("pause")
	f.state = client.StatePaused
	return nil
}

func (f *fakeStreamer) Disconnect() error {
	f.record("disconnect")
	f.state = client.StateDisconnected
	return nil
}

func (f *fakeStreamer) GetData() ([]proto.Sample, error) {
	if len(f.batches) == 0 {
		if f.done != nil {
			f.done()
		}
		return nil, fmt.Errorf("%w: idle", client.ErrTimeout)
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b.samples, b.err
}

func (f *fakeStreamer) State() client.State { return f.state }

func (f *fakeStreamer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func fastBackoff(maxAttempts int) config.ReconnectConfig {
	return config.ReconnectConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond, MaxAttempts: maxAttempts}
}

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func hr(ts float64, bpm float64) proto.Sample {
	return proto.Sample{Stream: proto.StreamHr, Timestamp: ts, Values: []float64{bpm}}
}

func lostErr() error {
	return &client.ConnectionLostError{DeviceID: "9ff167"}
}

func TestPumpPublishesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := broker.NewBroker()
	s := &fakeStreamer{done: cancel, batches: []batch{
		{samples: []proto.Sample{hr(1, 70), hr(2, 71)}},
		{err: fmt.Errorf("%w: quiet", client.ErrTimeout)},
		{samples: []proto.Sample{hr(3, 72)}, err: &proto.MalformedSampleError{Line: "E4_Hr x", Reason: "bad"}},
		{samples: []proto.Sample{{Stream: proto.StreamTag, Timestamp: 4, Values: []float64{}}}},
	}}

	p := NewPump(s, b, WithBackoff(fastBackoff(1)), WithPumpLogger(quietLogger()))
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, uint64(4), b.Published())
	latest, ok := b.Latest(proto.StreamHr)
	require.True(t, ok)
	assert.Equal(t, 3.0, latest.Timestamp)
	tag, ok := b.LastTag()
	require.True(t, ok)
	assert.Equal(t, 4.0, tag.Timestamp)

	assert.Equal(t, []string{"connect", "resume", "pause", "disconnect"}, s.Calls())
}

func TestPumpConnectFailure(t *testing.T) {
	s := &fakeStreamer{connectErr: client.ErrDeviceNotFound}
	p := NewPump(s, broker.NewBroker(), WithPumpLogger(quietLogger()))

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, client.ErrDeviceNotFound)
	assert.Equal(t, []string{"connect"}, s.Calls())
}

func TestPumpReconnectsAfterConnectionLost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b := broker.NewBroker()
	s := &fakeStreamer{
		done:         cancel,
		reconnectErr: []error{errors.New("refused"), nil},
		batches: []batch{
			{samples: []proto.Sample{hr(1, 70)}},
			{err: lostErr()},
			{samples: []proto.Sample{hr(2, 71)}},
		},
	}

	p := NewPump(s, b, WithBackoff(fastBackoff(3)), WithPumpLogger(quietLogger()))
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, uint64(2), b.Published())
	assert.Equal(t, []string{"connect", "resume", "reconnect", "reconnect", "resume", "pause", "disconnect"}, s.Calls())
}

func TestPumpGivesUpAfterMaxAttempts(t *testing.T) {
	s := &fakeStreamer{
		reconnectErr: []error{errors.New("refused"), errors.New("refused")},
		batches:      []batch{{err: lostErr()}},
	}
	p := NewPump(s, broker.NewBroker(), WithBackoff(fastBackoff(2)), WithPumpLogger(quietLogger()))

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, []string{"connect", "resume", "reconnect", "reconnect"}, s.Calls())
}

func TestPumpStopsOnUnexpectedError(t *testing.T) {
	boom := errors.New("boom")
	s := &fakeStreamer{batches: []batch{{err: boom}}}
	p := NewPump(s, broker.NewBroker(), WithPumpLogger(quietLogger()))

	assert.ErrorIs(t, p.Run(context.Background()), boom)
	assert.Equal(t, []string{"connect", "resume", "pause", "disconnect"}, s.Calls())
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := config.ReconnectConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, NextBackoffDelay(cfg, 1, nil))
	assert.Equal(t, 200*time.Millisecond, NextBackoffDelay(cfg, 2, nil))
	assert.Equal(t, 800*time.Millisecond, NextBackoffDelay(cfg, 4, nil))
	assert.Equal(t, time.Second, NextBackoffDelay(cfg, 10, nil))

	cfg.Multiplier = 0.5
	assert.Equal(t, 100*time.Millisecond, NextBackoffDelay(cfg, 5, nil))

	cfg.Multiplier = 2
	cfg.Jitter = true
	assert.Equal(t, 100*time.Millisecond, NextBackoffDelay(cfg, 2, nil))
	rng := rand.New(rand.NewSource(1))
	for range 20 {
		d := NextBackoffDelay(cfg, 3, rng)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.Less(t, d, 600*time.Millisecond)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
