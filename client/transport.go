package client

import "context"

// Transport is the byte stream a Session drives. Receive blocks for at most the
// transport's read timeout and then fails with an error matching ErrTimeout.
type Transport interface {
	Connect(ctx context.Context, addr string) error
	Send(p []byte) error
	Receive(max int) ([]byte, error)
	Close() error
}
