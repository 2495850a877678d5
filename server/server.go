package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/mbocsi/e4stream/broker"
	"github.com/mbocsi/e4stream/client"
	"github.com/mbocsi/e4stream/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// StatusSource reports the state of the session feeding the broker.
type StatusSource interface {
	Status() client.Status
}

type Status struct {
	client.Status
	Published uint64   `json:"published"`
	Topics    []string `json:"topics"`
	Clients   int      `json:"clients"`
}

// relayClient is a connected WebSocket or SSE listener. Send writes straight to the peer.
type relayClient interface {
	ID() string
	Send(proto.Sample) error
	Close()
}

// relayConn pairs a client with the queue the broker publishes into. A writer
// goroutine drains the queue, so a slow peer loses samples instead of stalling Publish.
type relayConn struct {
	client relayClient
	queue  *broker.ChanSubscriber
	done   chan struct{}
}

// RelayServer exposes decoded samples over HTTP, WebSocket and server-sent events.
type RelayServer struct {
	Addr    string
	server  *http.Server
	broker  *broker.Broker
	status  StatusSource
	metrics http.Handler

	clients  map[string]*relayConn
	admitted int // clients past the max-clients check, registered or not yet
	cmu      sync.RWMutex

	maxClients int
	queueSize  int
}

type Option func(*RelayServer)

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *RelayServer) { s.metrics = h }
}

func WithMaxClients(n int) Option {
	return func(s *RelayServer) { s.maxClients = n }
}

// WithClientQueue sets how many samples are buffered per client before dropping.
func WithClientQueue(n int) Option {
	return func(s *RelayServer) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

func NewRelayServer(addr string, b *broker.Broker, status StatusSource, opts ...Option) *RelayServer {
	s := &RelayServer{
		Addr:       addr,
		broker:     b,
		status:     status,
		clients:    make(map[string]*relayConn),
		maxClients: 16,
		queueSize:  256,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RelayServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", s.HandleStatus)
	r.Get("/samples/latest", s.HandleLatest)
	r.Get("/samples/{stream}", s.HandleStream)
	r.Get("/tags/last", s.HandleLastTag)
	r.Get("/ws", s.HandleWebSocket)
	r.Get("/events", s.HandleEvents)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// Start serves until ctx is done or the listener fails.
func (s *RelayServer) Start(ctx context.Context) error {
	slog.Info("Starting relay server", "addr", s.Addr)
	s.server = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *RelayServer) Shutdown() error {
	slog.Info("Shutting down relay server", "addr", s.Addr)
	s.cmu.RLock()
	conns := make([]*relayConn, 0, len(s.clients))
	for _, rc := range s.clients {
		conns = append(conns, rc)
	}
	s.cmu.RUnlock()
	for _, rc := range conns {
		rc.client.Close()
	}
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *RelayServer) ClientCount() int {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	return len(s.clients)
}

func (s *RelayServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Published: s.broker.Published(),
		Topics:    s.broker.Topics(),
		Clients:   s.ClientCount(),
	}
	if s.status != nil {
		st.Status = s.status.Status()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *RelayServer) HandleLatest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Snapshot())
}

func (s *RelayServer) HandleStream(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	sample, ok := s.broker.Latest(stream)
	if !ok {
		http.Error(w, "no samples for stream "+stream, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *RelayServer) HandleLastTag(w http.ResponseWriter, r *http.Request) {
	tag, ok := s.broker.LastTag()
	if !ok {
		http.Error(w, "no tag received yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

// HandleWebSocket streams samples to the caller. Repeated ?stream= parameters
// restrict the streams; without them every stream is sent.
func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.admit() {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release()
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	s.handleConnection(NewWSClient(conn), requestedStreams(r), r.RemoteAddr)
}

// HandleEvents streams samples as server-sent events, filtered like HandleWebSocket.
func (s *RelayServer) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.admit() {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	c, err := NewSSEClient(w)
	if err != nil {
		s.release()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	c.flusher.Flush()

	topics := requestedStreams(r)
	slog.Info("SSE client connected", "addr", r.RemoteAddr, "id", c.ID(), "streams", topics)
	rc := s.register(c, topics)
	defer func() {
		s.unregister(rc)
		slog.Info("SSE client disconnected", "addr", r.RemoteAddr, "id", c.ID())
	}()

	select {
	case <-r.Context().Done():
	case <-c.Done():
	}
}

func requestedStreams(r *http.Request) []string {
	topics := r.URL.Query()["stream"]
	if len(topics) == 0 {
		return []string{broker.Wildcard}
	}
	return topics
}

// admit reserves a client slot. The check and the reservation share one critical section.
func (s *RelayServer) admit() bool {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	if s.admitted >= s.maxClients {
		return false
	}
	s.admitted++
	return true
}

func (s *RelayServer) release() {
	s.cmu.Lock()
	s.admitted--
	s.cmu.Unlock()
}

// register subscribes the client's queue and starts its writer. Call only after admit.
func (s *RelayServer) register(c relayClient, topics []string) *relayConn {
	rc := &relayConn{
		client: c,
		queue:  broker.NewChanSubscriber(c.ID(), s.queueSize),
		done:   make(chan struct{}),
	}
	for _, topic := range topics {
		s.broker.Subscribe(topic, rc.queue)
	}
	s.cmu.Lock()
	s.clients[c.ID()] = rc
	s.cmu.Unlock()
	go s.forward(rc)
	return rc
}

func (s *RelayServer) unregister(rc *relayConn) {
	s.broker.UnsubscribeAll(rc.queue)
	s.cmu.Lock()
	delete(s.clients, rc.client.ID())
	s.admitted--
	s.cmu.Unlock()
	close(rc.done)
	rc.client.Close()
}

// forward writes queued samples to the peer until the client is unregistered or a write fails.
func (s *RelayServer) forward(rc *relayConn) {
	for {
		select {
		case <-rc.done:
			return
		case sample := <-rc.queue.C:
			if err := rc.client.Send(sample); err != nil {
				slog.Warn("Failed to write sample, closing client", "id", rc.client.ID(), "error", err)
				rc.client.Close()
				return
			}
		}
	}
}

func (s *RelayServer) handleConnection(c *WSClient, topics []string, remoteAddr string) {
	slog.Info("WebSocket client connected", "addr", remoteAddr, "id", c.ID(), "streams", topics)
	rc := s.register(c, topics)
	defer func() {
		s.unregister(rc)
		slog.Info("WebSocket client disconnected", "addr", remoteAddr, "id", c.ID())
	}()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket connection error", "addr", remoteAddr, "error", err)
			}
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
