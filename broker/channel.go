package broker

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mbocsi/e4stream/proto"
)

var ErrBufferFull = errors.New("broker: subscriber buffer full")

// ChanSubscriber delivers samples into a buffered channel and drops them when the
// reader falls behind.
type ChanSubscriber struct {
	id string
	C  chan proto.Sample
}

// NewChanSubscriber creates a subscriber buffering up to size samples. An empty id is generated.
func NewChanSubscriber(id string, size int) *ChanSubscriber {
	if id == "" {
		id = "chan-" + uuid.NewString()
	}
	return &ChanSubscriber{id: id, C: make(chan proto.Sample, size)}
}

func (c *ChanSubscriber) ID() string { return c.id }

func (c *ChanSubscriber) Send(s proto.Sample) error {
	select {
	case c.C <- s:
		return nil
	default:
		slog.Debug("Dropped sample (buffer full)", "subscriber", c.id, "stream", s.Stream)
		return ErrBufferFull
	}
}
