package client

import (
	"context"
	"errors"

	"github.com/mbocsi/e4stream/proto"
)

// DataSource yields decoded samples; *Session implements it.
type DataSource interface {
	GetData() ([]proto.Sample, error)
}

// TagPoller waits for the event marker emitted when the wearer presses the device button.
type TagPoller struct {
	Stream string
	Logger Logger
}

type TagOption func(*TagPoller)

// WithTagStream changes the stream code that counts as a tag.
func WithTagStream(code string) TagOption {
	return func(p *TagPoller) { p.Stream = code }
}

func WithTagLogger(l Logger) TagOption {
	return func(p *TagPoller) {
		if l != nil {
			p.Logger = l
		}
	}
}

func NewTagPoller(opts ...TagOption) *TagPoller {
	p := &TagPoller{Stream: proto.StreamTag, Logger: discardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AwaitTag polls src until a tag sample arrives and returns its timestamp. Read
// timeouts are retried; ctx is checked once per iteration and its error returned
// when it is done. Any other error from src is returned as is.
func (p *TagPoller) AwaitTag(ctx context.Context, src DataSource) (float64, error) {
	log := p.Logger
	if log == nil {
		log = discardLogger()
	}
	log.Info("Polling for tag", "stream", p.Stream)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		samples, err := src.GetData()
		if ts, ok := p.scan(samples); ok {
			log.Info("Found tag", "timestamp", ts)
			return ts, nil
		}
		if err != nil {
			if errors.Is(err, ErrTimeout) && !errors.Is(err, ErrConnectionLost) {
				log.Info("Timed out waiting for tag, polling again")
				continue
			}
			return 0, err
		}
	}
}

func (p *TagPoller) scan(samples []proto.Sample) (float64, bool) {
	for _, s := range samples {
		if s.Stream == p.Stream {
			return s.Timestamp, true
		}
	}
	return 0, false
}
