package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mbocsi/e4stream/proto"
)

var errClientClosed = errors.New("client closed")

// SSEClient writes samples to one peer as server-sent events named after the stream.
type SSEClient struct {
	id      string
	writer  http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
}

func NewSSEClient(w http.ResponseWriter) (*SSEClient, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	return &SSEClient{
		id:      generateClientId("sse"),
		writer:  w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		done:    make(chan struct{}),
	}, nil
}

func (c *SSEClient) ID() string { return c.id }

func (c *SSEClient) Send(s proto.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := fmt.Fprintf(c.writer, "event: %s\ndata: %s\n\n", s.Stream, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Done is closed once the client is closed.
func (c *SSEClient) Done() <-chan struct{} { return c.done }

// Close stops further writes. The handler must not return before Close does.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
