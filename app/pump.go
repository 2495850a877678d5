package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mbocsi/e4stream/broker"
	"github.com/mbocsi/e4stream/client"
	"github.com/mbocsi/e4stream/config"
	"github.com/mbocsi/e4stream/proto"
)

var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Streamer is the part of *client.Session the pump drives.
type Streamer interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Resume() error
	Pause() error
	Disconnect() error
	GetData() ([]proto.Sample, error)
	State() client.State
}

// Pump moves samples from a streaming session into the broker and keeps the
// session alive across lost connections.
type Pump struct {
	session Streamer
	broker  *broker.Broker
	backoff config.ReconnectConfig
	log     *slog.Logger
	rng     *rand.Rand
}

type PumpOption func(*Pump)

func WithBackoff(cfg config.ReconnectConfig) PumpOption {
	return func(p *Pump) { p.backoff = cfg }
}

func WithPumpLogger(l *slog.Logger) PumpOption {
	return func(p *Pump) {
		if l != nil {
			p.log = l
		}
	}
}

func NewPump(session Streamer, b *broker.Broker, opts ...PumpOption) *Pump {
	p := &Pump{
		session: session,
		broker:  b,
		backoff: config.Default().Reconnect,
		log:     slog.Default(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run connects, resumes streaming and publishes samples until ctx is done.
// The session is paused and disconnected on the way out.
func (p *Pump) Run(ctx context.Context) error {
	if err := p.session.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer p.stop()

	if err := p.session.Resume(); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	p.log.Info("Streaming started")

	for ctx.Err() == nil {
		samples, err := p.session.GetData()
		for _, s := range samples {
			p.broker.Publish(s)
		}
		switch {
		case err == nil:
		case errors.Is(err, client.ErrConnectionLost):
			p.log.Warn("Connection lost, reconnecting", "error", err)
			if err := p.recover(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case errors.Is(err, client.ErrTimeout):
			p.log.Debug("No data within read timeout")
		case errors.Is(err, proto.ErrMalformedSample):
			p.log.Warn("Dropped malformed line", "error", err)
		default:
			return err
		}
	}
	return nil
}

func (p *Pump) recover(ctx context.Context) error {
	for attempt := 1; p.backoff.MaxAttempts == 0 || attempt <= p.backoff.MaxAttempts; attempt++ {
		delay := NextBackoffDelay(p.backoff, attempt, p.rng)
		if err := sleepContext(ctx, delay); err != nil {
			return err
		}
		err := p.session.Reconnect(ctx)
		if err == nil {
			err = p.session.Resume()
		}
		if err == nil {
			p.log.Info("Reconnected", "attempt", attempt)
			return nil
		}
		p.log.Warn("Reconnect attempt failed", "attempt", attempt, "delay", delay, "error", err)
	}
	return fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, p.backoff.MaxAttempts)
}

func (p *Pump) stop() {
	if p.session.State() == client.StateStreaming {
		if err := p.session.Pause(); err != nil {
			p.log.Warn("Pause on shutdown failed", "error", err)
		}
	}
	if p.session.State() == client.StateDisconnected {
		return
	}
	if err := p.session.Disconnect(); err != nil {
		p.log.Warn("Disconnect on shutdown failed", "error", err)
	}
}
