package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/vehicle-feed-simulator/core"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/observability"
	"github.com/signalsfoundry/vehicle-feed-simulator/kb"
	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

const (
	requestIDHeader = "X-Request-ID"

	defaultWriteWait = 10 * time.Second
	defaultPongWait  = 60 * time.Second

	maxClientMessage = 4096
)

// FleetReader is the read side of the owned fleet state.
type FleetReader interface {
	Vehicles() []core.Vehicle
	Vehicle(id string) (core.Vehicle, error)
	InitFrame() []core.VehicleView
	LastTick() time.Time
}

// Server serves the HTTP API and the WebSocket feed.
type Server struct {
	state    FleetReader
	hub      *Hub
	log      logging.Logger
	metrics  *observability.FeedCollector
	upgrader websocket.Upgrader

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFeedMetrics instruments every route and mounts /metrics.
func WithFeedMetrics(c *observability.FeedCollector) ServerOption {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithKeepalive sets how long a WebSocket peer may stay silent before it is
// dropped. Pings go out at nine tenths of that interval.
func WithKeepalive(pongWait time.Duration) ServerOption {
	return func(s *Server) {
		if pongWait > 0 {
			s.pongWait = pongWait
		}
	}
}

// NewServer builds a Server over state and hub.
func NewServer(state FleetReader, hub *Hub, log logging.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		state:     state,
		hub:       hub,
		log:       log,
		writeWait: defaultWriteWait,
		pongWait:  defaultPongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pingPeriod = s.pongWait * 9 / 10
	return s
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /cars", s.instrument("/cars", false, http.HandlerFunc(s.handleCars)))
	mux.Handle("GET /cars/{id}", s.instrument("/cars/{id}", false, http.HandlerFunc(s.handleCar)))
	mux.Handle("GET /healthz", s.instrument("/healthz", false, http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /ws", s.instrument("/ws", true, http.HandlerFunc(s.handleWebSocket)))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return allowCORS(mux)
}

func (s *Server) instrument(route string, streaming bool, h http.Handler) http.Handler {
	h = TracingHTTPMiddleware(route, h)
	h = s.withRequestID(h)
	return s.metrics.HTTPMiddleware(route, streaming, h)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if incoming := r.Header.Get(requestIDHeader); incoming != "" {
			ctx = logging.ContextWithRequestID(ctx, incoming)
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, s.log.With(
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		w.Header().Set(requestIDHeader, logging.RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCars(w http.ResponseWriter, r *http.Request) {
	vehicles := s.state.Vehicles()
	if vehicles == nil {
		vehicles = []core.Vehicle{}
	}
	s.writeJSON(r.Context(), w, http.StatusOK, vehicles)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v, err := s.state.Vehicle(r.PathValue("id"))
	if err != nil {
		code := httpStatus(err)
		if code >= http.StatusInternalServerError {
			logging.FromContextOr(ctx, s.log).Error(ctx, "vehicle lookup failed", logging.Err(err))
		}
		s.writeJSON(ctx, w, code, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, v)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, kb.ErrVehicleNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidVehicle):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Vehicles    int    `json:"vehicles"`
	Subscribers int    `json:"subscribers"`
	LastTick    int64  `json:"last_tick"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, healthResponse{
		Status:      "ok",
		Vehicles:    len(s.state.Vehicles()),
		Subscribers: s.hub.Count(),
		LastTick:    s.state.LastTick().UnixMilli(),
	})
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContextOr(ctx, s.log).Warn(ctx, "writing response failed", logging.Err(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContextOr(ctx, s.log)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		log.Warn(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := s.hub.Subscribe(ctx, InitEvent(s.state.InitFrame()))
	if err != nil {
		s.writeClose(conn, websocket.CloseGoingAway, err.Error())
		return
	}
	defer sub.Close()

	ctx, log = logging.WithSubscriberLogger(ctx, log, sub.ID)
	log.Info(ctx, "client connected",
		logging.String("transport", "websocket"),
		logging.String("remote_addr", r.RemoteAddr),
	)
	defer log.Info(ctx, "client disconnected", logging.String("transport", "websocket"))

	done := make(chan struct{})
	go s.readLoop(conn, done)

	ping := time.NewTicker(s.pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				s.writeClose(conn, websocket.CloseGoingAway, "feed closed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug(ctx, "websocket write failed", logging.Err(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait)); err != nil {
				log.Debug(ctx, "websocket ping failed", logging.Err(err))
				return
			}
		case <-done:
			return
		}
	}
}

// readLoop drains client frames so control messages are processed, and
// closes done once the peer goes away or misses its pong deadline.
func (s *Server) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait))
}
