package main

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oszuidwest/voicetutor/internal/audio"
	"github.com/oszuidwest/voicetutor/internal/config"
	"github.com/oszuidwest/voicetutor/internal/metrics"
	"github.com/oszuidwest/voicetutor/internal/notify"
	"github.com/oszuidwest/voicetutor/internal/server"
	"github.com/oszuidwest/voicetutor/internal/tutor"
	"github.com/oszuidwest/voicetutor/internal/types"
)

// wsClient holds the pushes queued for one WebSocket connection.
type wsClient struct {
	statusUpdate chan struct{}
	push         chan any
}

// Server is an HTTP server that exposes the tutor over REST and WebSocket.
type Server struct {
	config          *config.Config
	tutor           *tutor.Orchestrator
	notifier        *notify.Notifier
	metrics         *metrics.Metrics
	commands        *server.CommandHandler
	version         *VersionChecker
	eventLogPath    string
	ffmpegAvailable bool

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewServer returns a new Server and subscribes it to orchestrator changes.
func NewServer(cfg *config.Config, orch *tutor.Orchestrator, notifier *notify.Notifier, m *metrics.Metrics, eventLogPath string, ffmpegAvailable bool) *Server {
	s := &Server{
		config:          cfg,
		tutor:           orch,
		notifier:        notifier,
		metrics:         m,
		commands:        server.NewCommandHandler(cfg, orch, notifier, eventLogPath),
		eventLogPath:    eventLogPath,
		ffmpegAvailable: ffmpegAvailable,
		clients:         make(map[*wsClient]struct{}),
	}
	orch.OnStatusChange(s.broadcastStatus)
	orch.OnHistoryChange(func(entries []types.TranscriptEntry) {
		s.broadcast(types.WSHistoryResponse{Type: "history", Entries: entries})
	})
	return s
}

// handleWebSocket handles bidirectional WebSocket communication for real-time updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan any, 16)
	done := make(chan struct{})
	client := &wsClient{
		statusUpdate: make(chan struct{}, 1),
		push:         make(chan any, 16),
	}

	s.register(client)
	defer s.unregister(client)

	unsubscribe := s.notifier.Subscribe(func(notice types.Notice) {
		pushTo(client, types.WSNoticeResponse{Type: "notice", Notice: notice})
	})
	defer unsubscribe()

	go s.runWebSocketWriter(conn, send)
	go s.runWebSocketReader(conn, send, done, client.statusUpdate)

	s.runWebSocketEventLoop(client, send, done)
}

// runWebSocketWriter writes messages from the send channel to the connection.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop forwards pushes and periodic status and level updates.
func (s *Server) runWebSocketEventLoop(client *wsClient, send chan any, done <-chan struct{}) {
	levelsTicker := time.NewTicker(100 * time.Millisecond) // 10 fps for the level meter
	statusTicker := time.NewTicker(3 * time.Second)
	defer levelsTicker.Stop()
	defer statusTicker.Stop()
	defer close(send)

	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus()) || !trySend(s.buildWSHistory()) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case msg = <-client.push:
		case <-client.statusUpdate:
			msg = s.buildWSStatus()
		case <-statusTicker.C:
			msg = s.buildWSStatus()
		case <-levelsTicker.C:
			st := s.tutor.Status()
			msg = types.WSLevelsResponse{Type: "levels", Level: st.Level, Recording: st.Recording, Submitting: st.Submitting}
		}
		if !trySend(msg) {
			return
		}
	}
}

func (s *Server) register(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) unregister(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// broadcastStatus asks every connection to send a fresh status.
func (s *Server) broadcastStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.statusUpdate <- struct{}{}:
		default:
		}
	}
}

// broadcast queues msg for every connection.
func (s *Server) broadcast(msg any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		pushTo(c, msg)
	}
}

// pushTo queues msg for one connection, dropping it when the client lags.
func pushTo(c *wsClient, msg any) {
	select {
	case c.push <- msg:
	default:
		slog.Warn("dropping push for slow WebSocket client")
	}
}

// buildWSStatus returns the current WebSocket status response.
func (s *Server) buildWSStatus() types.WSStatusResponse {
	cfg := s.config.Snapshot()
	return types.WSStatusResponse{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Session:         s.tutor.Status(),
		Feedback:        s.tutor.Feedback(),
		Silence: types.SilenceSettings{
			Threshold:          cfg.SilenceThreshold,
			SustainedSilenceMs: cfg.SustainedSilence.Milliseconds(),
			InitialSilenceMs:   cfg.InitialSilence.Milliseconds(),
		},
		Devices: audio.Devices(),
		Version: s.versionInfo(),
	}
}

func (s *Server) buildWSHistory() types.WSHistoryResponse {
	return types.WSHistoryResponse{Type: "history", Entries: s.tutor.History()}
}

func (s *Server) versionInfo() types.VersionInfo {
	if s.version == nil {
		return buildInfo()
	}
	return s.version.Info()
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.apiKeyAuth(s.handleAPIStatus))
	mux.HandleFunc("POST /api/session/start", s.apiKeyAuth(s.handleAPISessionStart))
	mux.HandleFunc("POST /api/session/stop", s.apiKeyAuth(s.handleAPISessionStop))
	mux.HandleFunc("POST /api/playback/stop", s.apiKeyAuth(s.handleAPIPlaybackStop))
	mux.HandleFunc("GET /api/history", s.apiKeyAuth(s.handleAPIHistory))
	mux.HandleFunc("DELETE /api/history", s.apiKeyAuth(s.handleAPIClearHistory))
	mux.HandleFunc("POST /api/history/{id}/replay", s.apiKeyAuth(s.handleAPIReplay))
	mux.HandleFunc("GET /api/feedback", s.apiKeyAuth(s.handleAPIFeedback))
	mux.HandleFunc("GET /api/devices", s.apiKeyAuth(s.handleAPIDevices))
	mux.HandleFunc("GET /api/events", s.apiKeyAuth(s.handleAPIEvents))

	mux.HandleFunc("/ws", s.apiKeyAuth(s.handleWebSocket))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth returns middleware for API key authentication.
// Browsers cannot set headers on WebSocket upgrades, so the key may also be
// passed as the api_key query parameter.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.Snapshot().APIKey
		if apiKey == "" {
			http.Error(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			providedKey = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
