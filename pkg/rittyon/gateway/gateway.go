// Package gateway serves rittyon's HTTP liveness and status endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/rittyon/rittyonbot/pkg/rittyon/channels"
	"github.com/rittyon/rittyonbot/pkg/rittyon/copilot"
	"github.com/rittyon/rittyonbot/pkg/rittyon/scheduler"
)

// version is reported by /health.
var version = "dev"

// SetVersion sets the version string reported by /health.
func SetVersion(v string) { version = v }

// HealthReporter is a chat channel that can report its connection.
type HealthReporter interface {
	Name() string
	Health() channels.HealthStatus
}

// SessionSource exposes session metadata.
type SessionSource interface {
	Count() int
	List() []copilot.SessionMeta
}

// StatusReporter exposes the notification scheduler status.
type StatusReporter interface {
	Status() scheduler.Status
}

// Gateway is the HTTP status server.
type Gateway struct {
	config    copilot.HealthConfig
	channel   HealthReporter
	sessions  SessionSource
	scheduler StatusReporter
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a new Gateway.
func New(cfg copilot.HealthConfig, channel HealthReporter, sessions SessionSource, sched StatusReporter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	return &Gateway{
		config:    cfg,
		channel:   channel,
		sessions:  sessions,
		scheduler: sched,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}
}

// Handler returns the gateway's routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/sessions", g.handleListSessions)
	return securityHeaders(mux)
}

// Start starts the HTTP server in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:              g.config.Address,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", g.config.Address)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}

// healthResponse is the /health body.
type healthResponse struct {
	Status    string                           `json:"status"`
	Version   string                           `json:"version"`
	Uptime    string                           `json:"uptime"`
	Channels  map[string]channels.HealthStatus `json:"channels"`
	Sessions  int                              `json:"sessions"`
	Scheduler *scheduler.Status                `json:"scheduler,omitempty"`
}

// handleHealth implements GET /health. It answers 503 while the chat channel
// is disconnected.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uptime := time.Since(g.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}

	resp := healthResponse{
		Status:   "ok",
		Version:  version,
		Uptime:   uptime,
		Channels: map[string]channels.HealthStatus{},
	}
	code := http.StatusOK

	if g.channel != nil {
		st := g.channel.Health()
		resp.Channels[g.channel.Name()] = st
		if !st.Connected {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if g.sessions != nil {
		resp.Sessions = g.sessions.Count()
	}
	if g.scheduler != nil {
		st := g.scheduler.Status()
		resp.Scheduler = &st
	}

	g.writeJSON(w, code, resp)
}

// handleListSessions implements GET /api/sessions.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	list := []copilot.SessionMeta{}
	if g.sessions != nil {
		list = g.sessions.List()
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LastActiveAt.After(list[j].LastActiveAt) })
	g.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"count":    len(list),
	})
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	var body errorResponse
	body.Error.Message = msg
	body.Error.Code = code
	g.writeJSON(w, code, body)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
}

// securityHeaders adds standard security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
