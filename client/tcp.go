package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

type TCPTransport struct {
	conn    net.Conn
	timeout time.Duration
}

// NewTCPTransport returns a transport whose reads time out after timeout.
// A zero timeout blocks until data arrives.
func NewTCPTransport(timeout time.Duration) *TCPTransport {
	return &TCPTransport{timeout: timeout}
}

func (t *TCPTransport) Connect(ctx context.Context, addr string) error {
	var d net.Dialer
	if t.timeout > 0 {
		d.Timeout = t.timeout
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *TCPTransport) Send(p []byte) error {
	if t.conn == nil {
		return net.ErrClosed
	}
	_, err := t.conn.Write(p)
	return err
}

func (t *TCPTransport) Receive(max int) ([]byte, error) {
	if t.conn == nil {
		return nil, net.ErrClosed
	}
	if t.timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, max)
	n, err := t.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
		}
		return nil, err
	}
	return nil, nil
}

// Close shuts down the write side before closing the socket so the server sees EOF.
func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	conn := t.conn
	t.conn = nil
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	return conn.Close()
}
