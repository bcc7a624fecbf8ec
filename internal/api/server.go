package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/config"
	"github.com/JakeFAU/pinsave/internal/media"
	"github.com/JakeFAU/pinsave/internal/metrics"
	"github.com/JakeFAU/pinsave/internal/router"
	"github.com/JakeFAU/pinsave/internal/stats"
)

// MessageHandler runs the admission pipeline for one inbound message.
type MessageHandler interface {
	Handle(ctx context.Context, in router.Inbound) (router.Result, error)
}

// StatsSource exposes the persisted counters.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

// BanEditor edits the persisted ban list.
type BanEditor interface {
	Add(id int64) error
	Remove(id int64) error
	Len() int
}

// QueueInfo reports the number of waiting jobs.
type QueueInfo interface {
	Len() int
}

// Outbox lists replies recorded for a chat.
type Outbox interface {
	ListByChat(chatID int64) []media.Message
}

// Deps bundles the collaborators behind the HTTP surface. Outbox and Ready
// are optional.
type Deps struct {
	Router MessageHandler
	Stats  StatsSource
	Bans   BanEditor
	Queue  QueueInfo
	Promo  *media.Promo
	Outbox Outbox
	Ready  func(ctx context.Context) error
}

// Server wires HTTP handlers to the router and admin state.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/messages", s.postMessage)
		r.Get("/chats/{chat_id}/messages", s.listChatMessages)

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminMiddleware(cfg.Auth.AdminIDs))
			r.Get("/stats", s.getStats)
			r.Post("/bans/{requester_id}", s.banRequester)
			r.Delete("/bans/{requester_id}", s.unbanRequester)
			r.Put("/promo", s.setPromo)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	var in router.Inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if in.RequesterID == 0 || in.ChatID == 0 {
		s.writeError(w, http.StatusBadRequest, "requester_id and chat_id required")
		return
	}
	res, err := s.deps.Router.Handle(r.Context(), in)
	if err != nil {
		s.logger.Error("message handling failed", zap.Int64("requester_id", in.RequesterID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "message handling failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) listChatMessages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Outbox == nil {
		s.writeError(w, http.StatusNotFound, "message log not enabled")
		return
	}
	chatID, err := int64Param(r, "chat_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": s.deps.Outbox.ListByChat(chatID)})
}

type statsResponse struct {
	stats.Snapshot
	SuccessRate float64 `json:"success_rate"`
	QueueSize   int     `json:"queue_size"`
	Banned      int     `json:"banned"`
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Stats.Snapshot()
	resp := statsResponse{
		Snapshot:    snap,
		SuccessRate: snap.SuccessRate(),
		QueueSize:   s.deps.Queue.Len(),
		Banned:      s.deps.Bans.Len(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) banRequester(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "requester_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Bans.Add(id); err != nil {
		s.logger.Error("ban failed", zap.Int64("requester_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "ban failed")
		return
	}
	s.logger.Info("requester banned", zap.Int64("requester_id", id))
	s.writeJSON(w, http.StatusOK, map[string]any{"requester_id": id, "banned": true})
}

func (s *Server) unbanRequester(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "requester_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Bans.Remove(id); err != nil {
		s.logger.Error("unban failed", zap.Int64("requester_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "unban failed")
		return
	}
	s.logger.Info("requester unbanned", zap.Int64("requester_id", id))
	s.writeJSON(w, http.StatusOK, map[string]any{"requester_id": id, "banned": false})
}

type promoRequest struct {
	Text string `json:"text"`
}

func (s *Server) setPromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if s.deps.Promo == nil {
		s.writeError(w, http.StatusNotFound, "promo not configured")
		return
	}
	s.deps.Promo.Set(req.Text)
	s.writeJSON(w, http.StatusOK, map[string]string{"text": req.Text})
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}` + "\n"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeRawError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminMiddleware admits callers whose X-Admin-ID header names a configured
// admin. With no admins configured nobody is an admin.
func adminMiddleware(adminIDs []int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(r.Header.Get("X-Admin-ID"), 10, 64)
			if err != nil || !slices.Contains(adminIDs, id) {
				writeRawError(w, http.StatusForbidden, "admin only")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeRawError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
