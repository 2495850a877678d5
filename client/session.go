package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/e4stream/proto"
)

// Config holds everything a Session needs to reach one device on a streaming server.
type Config struct {
	DeviceID      string
	Subscriptions []string
	Host          string
	Port          int
	BufferSize    int           // max bytes per receive
	Timeout       time.Duration // read timeout of the transport
}

func DefaultConfig() Config {
	return Config{
		Host:       "127.0.0.1",
		Port:       28000,
		BufferSize: 4096,
		Timeout:    3 * time.Second,
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type Option func(*Session)

func WithLogger(l Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTransportFactory replaces the TCP transport. The factory is called once per connect.
func WithTransportFactory(fn func() Transport) Option {
	return func(s *Session) {
		if fn != nil {
			s.newTransport = fn
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.rec = r
		}
	}
}

// Session drives the command/acknowledgement exchanges with the streaming server
// and decodes the data stream. Only State, Status, ID, DeviceID and Subscriptions
// may be called concurrently with other methods; everything else must be called from a
// single goroutine because commands and data share one response stream.
type Session struct {
	id           string
	cfg          Config
	log          Logger
	rec          Recorder
	newTransport func() Transport

	transport Transport
	parser    *proto.Parser
	queue     []string // complete lines not yet handed out by GetData
	// resume replies still expected on the stream; they are dropped when seen
	resumeReplies int

	state atomic.Int32
}

func NewSession(cfg Config, opts ...Option) *Session {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	cfg.Subscriptions = slices.Clone(cfg.Subscriptions)

	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		log:    discardLogger(),
		rec:    nopRecorder{},
		parser: proto.NewParser(),
	}
	s.newTransport = func() Transport { return NewTCPTransport(s.cfg.Timeout) }
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) DeviceID() string { return s.cfg.DeviceID }
func (s *Session) Addr() string     { return s.cfg.Addr() }

func (s *Session) Subscriptions() []string {
	return slices.Clone(s.cfg.Subscriptions)
}

// Status is a point-in-time description of a session.
type Status struct {
	SessionID     string   `json:"session_id"`
	DeviceID      string   `json:"device_id"`
	Addr          string   `json:"addr"`
	State         string   `json:"state"`
	Subscriptions []string `json:"subscriptions"`
}

func (s *Session) Status() Status {
	return Status{
		SessionID:     s.id,
		DeviceID:      s.cfg.DeviceID,
		Addr:          s.cfg.Addr(),
		State:         s.State().String(),
		Subscriptions: s.Subscriptions(),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("Session state changed", "session", s.id, "from", prev.String(), "to", st.String())
		s.rec.StateChanged(st)
	}
}

// Connect opens the transport, binds the device, pauses the stream and subscribes to
// every configured stream. On success the session is Paused. On any failure the
// transport is torn down and the session is Disconnected again.
func (s *Session) Connect(ctx context.Context) error {
	if st := s.State(); st != StateDisconnected {
		return &StateError{Op: "connect", State: st}
	}
	if strings.TrimSpace(s.cfg.DeviceID) == "" {
		return fmt.Errorf("%w: empty device id", ErrDeviceNotFound)
	}

	addr := s.cfg.Addr()
	s.log.Info("Connecting to streaming server", "session", s.id, "addr", addr)
	t := s.newTransport()
	if err := t.Connect(ctx, addr); err != nil {
		return fmt.Errorf("e4: connect %s: %w", addr, err)
	}
	s.transport = t
	s.parser.Reset()
	s.queue = nil
	s.resumeReplies = 0
	s.setState(StateConnected)

	if err := s.bind(); err != nil {
		s.log.Error("Failed to set up device session", "session", s.id, "device", s.cfg.DeviceID, "error", err)
		s.teardown()
		return err
	}
	s.log.Info("Connected", "session", s.id, "device", s.cfg.DeviceID, "subscriptions", s.cfg.Subscriptions)
	return nil
}

func (s *Session) bind() error {
	if err := s.findDevice(); err != nil {
		return err
	}

	s.log.Info("Binding device", "session", s.id, "device", s.cfg.DeviceID)
	if err := s.exchange(proto.ConnectDevice(s.cfg.DeviceID)); err != nil {
		return err
	}
	s.setState(StateDeviceBound)

	if err := s.Pause(); err != nil {
		return err
	}

	for _, code := range s.cfg.Subscriptions {
		if err := s.Subscribe(code); err != nil {
			return err
		}
	}
	return nil
}

// findDevice checks the device enumeration line for the configured device id.
func (s *Session) findDevice() error {
	s.log.Debug("Querying available devices", "session", s.id)
	if err := s.send(proto.List()); err != nil {
		return err
	}
	reply, err := s.listReply()
	if err != nil {
		return err
	}
	if !strings.Contains(reply, s.cfg.DeviceID) {
		return fmt.Errorf("%w: %s not in %q", ErrDeviceNotFound, s.cfg.DeviceID, strings.TrimSpace(reply))
	}
	return nil
}

// listReply reads the enumeration through the parser until its line is complete.
// An unterminated reply is accepted once a read times out with it pending.
func (s *Session) listReply() (string, error) {
	for {
		chunk, err := s.receive()
		if err != nil {
			if pending := s.parser.Pending(); errors.Is(err, ErrTimeout) && strings.TrimSpace(pending) != "" {
				s.parser.Reset()
				return pending, nil
			}
			return "", s.lost(err)
		}
		if s.sentinel(chunk) {
			return "", s.lost(nil)
		}
		lines := s.parser.Feed(chunk)
		for i, line := range lines {
			if proto.Classify(line) == proto.LineEmpty {
				continue
			}
			s.queue = append(s.queue, lines[i+1:]...)
			return line, nil
		}
	}
}

// Pause stops the data stream. Allowed while Streaming or DeviceBound.
func (s *Session) Pause() error {
	if st := s.State(); !st.in(StateStreaming, StateDeviceBound) {
		return &StateError{Op: "pause", State: st}
	}
	s.log.Info("Pausing data stream", "session", s.id)
	if err := s.exchange(proto.Pause()); err != nil {
		return err
	}
	s.setState(StatePaused)
	return nil
}

// Resume restarts the data stream. The server's reply is not validated.
func (s *Session) Resume() error {
	if st := s.State(); st != StatePaused {
		return &StateError{Op: "resume", State: st}
	}
	s.log.Info("Resuming data stream", "session", s.id)
	if err := s.send(proto.Resume()); err != nil {
		return err
	}
	s.resumeReplies++
	s.setState(StateStreaming)
	return nil
}

// Subscribe enables one stream. A rejected subscription leaves the state unchanged.
func (s *Session) Subscribe(code string) error {
	if st := s.State(); !st.in(StatePaused, StateStreaming) {
		return &StateError{Op: "subscribe", State: st}
	}
	s.log.Info("Subscribing", "session", s.id, "stream", code)
	if err := s.exchange(proto.Subscribe(code)); err != nil {
		return err
	}
	s.log.Debug("Subscribed", "session", s.id, "stream", code)
	return nil
}

// Disconnect ends the device session and closes the transport. Errors from the
// transport are logged, never returned.
func (s *Session) Disconnect() error {
	st := s.State()
	if st == StateDisconnected {
		return &StateError{Op: "disconnect", State: st}
	}
	s.log.Info("Disconnecting", "session", s.id, "device", s.cfg.DeviceID)
	if err := s.transport.Send([]byte(proto.Disconnect().Wire())); err != nil {
		s.log.Warn("Failed to send disconnect", "session", s.id, "error", err)
	}
	s.teardown()
	s.log.Info("Disconnected", "session", s.id)
	return nil
}

// Reconnect tears down the current link, if any, and connects again with the same
// device and subscriptions.
func (s *Session) Reconnect(ctx context.Context) error {
	s.log.Info("Reconnecting", "session", s.id, "device", s.cfg.DeviceID)
	if s.State() != StateDisconnected {
		_ = s.Disconnect()
	} else if s.transport != nil {
		s.teardown()
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.rec.Reconnected()
	return nil
}

// GetData returns the samples of the next chunk of the stream, discarding
// acknowledgements. Lines queued during command exchanges are served first without
// reading. A timeout is returned as an error matching ErrTimeout and is not fatal.
// On a malformed line the samples before it are returned along with the error and
// the lines after it stay queued.
func (s *Session) GetData() ([]proto.Sample, error) {
	if st := s.State(); !st.in(StateStreaming, StatePaused) {
		return nil, &StateError{Op: "get_data", State: st}
	}

	if len(s.queue) == 0 {
		chunk, err := s.receive()
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				s.rec.Timeout()
				return nil, err
			}
			return nil, s.lost(err)
		}
		if s.sentinel(chunk) {
			return nil, s.lost(nil)
		}
		s.queue = append(s.queue, s.parser.Feed(chunk)...)
	}
	return s.drain()
}

func (s *Session) drain() ([]proto.Sample, error) {
	samples := make([]proto.Sample, 0, len(s.queue))
	for i, line := range s.queue {
		switch proto.Classify(line) {
		case proto.LineEmpty:
			continue
		case proto.LineAck:
			s.dropAck(line)
			continue
		}
		sample, err := s.parser.Decode(line)
		if err != nil {
			s.queue = s.queue[i+1:]
			s.rec.MalformedSample()
			return samples, err
		}
		s.rec.SampleDecoded(sample.Stream)
		samples = append(samples, sample)
	}
	s.queue = s.queue[:0]
	return samples, nil
}

func (s *Session) dropAck(line string) {
	if s.isResumeReply(line) {
		s.resumeReplies--
		return
	}
	s.log.Debug("Discarding acknowledgement", "session", s.id, "line", line)
}

func (s *Session) isResumeReply(line string) bool {
	reply, _ := proto.Resume().Reply()
	return s.resumeReplies > 0 && line+"\n" == reply
}

// exchange sends cmd and compares the next acknowledgement line with the expected
// text. Data lines that arrive first are queued for GetData.
func (s *Session) exchange(cmd proto.Command) error {
	if err := s.send(cmd); err != nil {
		return err
	}
	expected, ok := cmd.Ack()
	if !ok {
		return nil
	}
	line, err := s.nextAck()
	if err != nil {
		return err
	}
	if observed := line + "\n"; observed != expected {
		s.rec.AckMismatch(cmd.Name())
		mismatch := &AckMismatchError{Command: cmd.Name(), Expected: expected, Observed: observed}
		if cmd.Kind == proto.CmdSubscribe {
			mismatch.Code = cmd.Arg
		}
		return mismatch
	}
	return nil
}

func (s *Session) nextAck() (string, error) {
	for {
		chunk, err := s.receive()
		if err != nil {
			return "", s.lost(err)
		}
		if s.sentinel(chunk) {
			return "", s.lost(nil)
		}
		lines := s.parser.Feed(chunk)
		for i, line := range lines {
			switch proto.Classify(line) {
			case proto.LineEmpty:
				continue
			case proto.LineData:
				s.queue = append(s.queue, line)
				continue
			}
			if s.isResumeReply(line) {
				s.resumeReplies--
				continue
			}
			s.queue = append(s.queue, lines[i+1:]...)
			return line, nil
		}
	}
}

func (s *Session) send(cmd proto.Command) error {
	if s.transport == nil {
		return s.lost(net.ErrClosed)
	}
	s.log.Debug("Sending command", "session", s.id, "command", cmd.String())
	if err := s.transport.Send([]byte(cmd.Wire())); err != nil {
		return s.lost(err)
	}
	return nil
}

func (s *Session) receive() ([]byte, error) {
	if s.transport == nil {
		return nil, net.ErrClosed
	}
	chunk, err := s.transport.Receive(s.cfg.BufferSize)
	if err != nil {
		return nil, err
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

func (s *Session) sentinel(chunk []byte) bool {
	return strings.Contains(s.parser.Pending()+string(chunk), proto.LostConnectionSentinel)
}

func (s *Session) lost(err error) error {
	s.rec.ConnectionLost()
	s.log.Warn("Lost connection to device", "session", s.id, "device", s.cfg.DeviceID, "error", err)
	return &ConnectionLostError{DeviceID: s.cfg.DeviceID, Err: err}
}

func (s *Session) teardown() {
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.log.Debug("Ignoring close error", "session", s.id, "error", err)
		}
	}
	s.transport = nil
	s.parser.Reset()
	s.queue = nil
	s.resumeReplies = 0
	s.setState(StateDisconnected)
}
