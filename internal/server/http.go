package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/watchparty-service/internal/config"
	"github.com/skypro1111/watchparty-service/internal/coordinator"
	"github.com/skypro1111/watchparty-service/internal/groupsession"
	"github.com/skypro1111/watchparty-service/internal/metrics"
	"github.com/skypro1111/watchparty-service/internal/transport"
)

// Coordinator is the lifecycle surface the HTTP API drives
type Coordinator interface {
	Snapshot() coordinator.Snapshot
	SubscribeState(fn func(coordinator.LifecycleState)) func()
	SubscribeEligibility(fn func(bool)) func()
	SubscribeActivity(fn func(*groupsession.Activity)) func()
	StartActivity(ctx context.Context, media groupsession.Media) coordinator.Outcome
	LeaveActivity()
	CancelActivation() bool
}

// PeerTransport exposes transport statistics; nil in loopback mode
type PeerTransport interface {
	GetStatistics() transport.TransportStatistics
	Peers() []transport.PeerInfo
}

// HTTPServer provides the control API, monitoring endpoints and WebSocket push
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	logger    *slog.Logger
	config    *config.Config
	coord     Coordinator
	transport PeerTransport
	hub       *Hub
	metrics   *metrics.Metrics

	// Background activations started by POST /activity
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
}

// activityRequest is the body of POST /activity
type activityRequest struct {
	MediaID string `json:"media_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// NewHTTPServer creates a new HTTP API server. peers may be nil.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, coord Coordinator, peers PeerTransport, m *metrics.Metrics) *HTTPServer {
	ctx, cancel := context.WithCancel(context.Background())

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		coord:     coord,
		transport: peers,
		hub:       NewHub(coord, appConfig.HTTP.WSBuffer, logger, m),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         net.JoinHostPort(appConfig.HTTP.Address, strconv.Itoa(appConfig.HTTP.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Hub returns the WebSocket hub
func (h *HTTPServer) Hub() *Hub {
	return h.hub
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Lifecycle
	mux.HandleFunc("/state", h.withMetrics("/state", h.handleState))
	mux.HandleFunc("/activity", h.withMetrics("/activity", h.handleActivity))
	mux.HandleFunc("/activity/cancel", h.withMetrics("/activity/cancel", h.handleCancel))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Push updates; the hijacked connection is not wrapped
	mux.Handle("/ws", h.hub)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server", slog.String("address", listener.Addr().String()))

	go func() {
		if err := h.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server, disconnects WebSocket clients and
// aborts activations that are still running.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	err := h.server.Shutdown(ctx)
	h.hub.Close()

	h.cancel()
	h.wg.Wait()

	return err
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot := h.coord.Snapshot()

	components := map[string]interface{}{
		"coordinator": map[string]interface{}{
			"status":            "running",
			"state":             snapshot.State.String(),
			"can_start_session": snapshot.CanStartSession,
		},
		"websocket": map[string]interface{}{
			"status":  "running",
			"clients": h.hub.ClientCount(),
		},
	}

	if h.transport != nil {
		stats := h.transport.GetStatistics()
		components["udp_transport"] = map[string]interface{}{
			"status":            "running",
			"packets_received":  stats.PacketsReceived,
			"packets_processed": stats.PacketsProcessed,
			"parse_errors":      stats.ParseErrors,
			"live_peers":        stats.LivePeers,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "watchparty-service",
			"version": "1.0.0",
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleState implements the /state endpoint
func (h *HTTPServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.coord.Snapshot())
}

// handleActivity implements POST /activity (start) and DELETE /activity (leave)
func (h *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.startActivity(w, r)
	case http.MethodDelete:
		h.coord.LeaveActivity()
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "leaving",
			"state":  h.coord.Snapshot().State,
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// startActivity runs the activation in the background and answers 202, or
// waits for the outcome when ?wait=true is given.
func (h *HTTPServer) startActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.MediaID == "" {
		http.Error(w, "media_id is required", http.StatusBadRequest)
		return
	}

	media := groupsession.Media{ID: req.MediaID, Title: req.Title, URL: req.URL}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		outcome := h.coord.StartActivity(r.Context(), media)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"outcome": outcome,
			"state":   h.coord.Snapshot().State,
		})
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		outcome := h.coord.StartActivity(h.ctx, media)
		h.logger.Info("Activity request finished",
			slog.String("media_id", media.ID),
			slog.String("outcome", string(outcome)),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "accepted",
		"media":  media,
	})
}

// handleCancel implements POST /activity/cancel
func (h *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.coord.CancelActivation() {
		http.Error(w, "No activation in progress", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "cancelled",
		"state":  h.coord.Snapshot().State,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Peer addresses are omitted
	sanitizedConfig := map[string]interface{}{
		"transport": map[string]interface{}{
			"mode":               h.config.Transport.Mode,
			"peer_name":          h.config.Transport.PeerName,
			"bind_address":       h.config.Transport.BindAddress,
			"port":               h.config.Transport.Port,
			"peer_count":         len(h.config.Transport.Peers),
			"buffer_size":        h.config.Transport.BufferSize,
			"workers":            h.config.Transport.Workers,
			"queue_size":         h.config.Transport.QueueSize,
			"heartbeat_interval": h.config.Transport.HeartbeatInterval,
			"peer_timeout":       h.config.Transport.PeerTimeout,
			"session_buffer":     h.config.Transport.SessionBuffer,
		},
		"coordinator": map[string]interface{}{
			"activation_timeout": h.config.Coordinator.ActivationTimeout,
		},
		"http": map[string]interface{}{
			"address":   h.config.HTTP.Address,
			"port":      h.config.HTTP.Port,
			"ws_buffer": h.config.HTTP.WSBuffer,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":            time.Since(h.startTime).String(),
		"timestamp":         time.Now().UTC(),
		"snapshot":          h.coord.Snapshot(),
		"websocket_clients": h.hub.ClientCount(),
	}

	if h.transport != nil {
		stats["udp"] = h.transport.GetStatistics()
		stats["peers"] = h.transport.Peers()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Watch Party Session Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":                 "API documentation",
			"GET /health":           "Service health check",
			"GET /state":            "Lifecycle state, eligibility and current activity",
			"POST /activity":        "Start sharing media (body: media_id, title, url; ?wait=true blocks)",
			"DELETE /activity":      "Leave the active session",
			"POST /activity/cancel": "Cancel an activation in progress",
			"GET /config":           "Get service configuration",
			"GET /stats":            "Get service statistics",
			"GET /metrics":          "Prometheus metrics",
			"GET /ws":               "WebSocket stream of state snapshots",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
