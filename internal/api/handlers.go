package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/schema"

	"streamwatch/internal/filterexpr"
	"streamwatch/internal/monitor"
	"streamwatch/internal/streaming"
	"streamwatch/internal/transport"
)

// Default body size limit for write endpoints.
const defaultMaxBodySize = 1 << 20 // 1MB

// Default request timeout
const defaultRequestTimeout = 30 * time.Second

// APIError represents a structured error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// writeError writes a structured JSON error response
func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{Code: code, Message: message}); err != nil {
		slog.Warn("Failed to encode error response", "error", err)
	}
}

// writeJSON writes a JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

// maxBodySize wraps a handler with request body size limiting
func maxBodySize(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

// withTimeout wraps a handler with a context timeout
func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

// Handler exposes the monitor over REST plus a websocket live feed.
type Handler struct {
	svc    *monitor.Service
	auth   *Authenticator
	hub    *Hub
	logger *slog.Logger
}

func NewHandler(svc *monitor.Service, auth *Authenticator, hub *Hub, logger *slog.Logger) *Handler {
	if svc == nil {
		panic("monitor service cannot be nil")
	}
	if auth == nil {
		panic("authenticator cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:    svc,
		auth:   auth,
		hub:    hub,
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Auth
	mux.HandleFunc("POST /api/login", withTimeout(maxBodySize(h.handleLogin, defaultMaxBodySize), defaultRequestTimeout))

	// Channel catalog
	mux.HandleFunc("GET /api/event-types", withTimeout(h.protected(h.handleEventTypes), defaultRequestTimeout))
	mux.HandleFunc("GET /api/channels", withTimeout(h.protected(h.handleChannels), defaultRequestTimeout))

	// Subscriptions
	mux.HandleFunc("GET /api/subscriptions", withTimeout(h.protected(h.handleListSubscriptions), defaultRequestTimeout))
	mux.HandleFunc("POST /api/subscriptions", withTimeout(maxBodySize(h.protected(h.handleSubscribe), defaultMaxBodySize), defaultRequestTimeout))
	mux.HandleFunc("POST /api/subscriptions/bulk", withTimeout(maxBodySize(h.protected(h.handleSubscribeAll), defaultMaxBodySize), defaultRequestTimeout))
	mux.HandleFunc("DELETE /api/subscriptions/{channel...}", withTimeout(h.protected(h.handleUnsubscribe), defaultRequestTimeout))
	mux.HandleFunc("DELETE /api/subscriptions", withTimeout(h.protected(h.handleUnsubscribeAll), defaultRequestTimeout))

	// Events
	mux.HandleFunc("GET /api/events", withTimeout(h.protected(h.handleEvents), defaultRequestTimeout))
	mux.HandleFunc("DELETE /api/events", withTimeout(h.protected(h.handleClearEvents), defaultRequestTimeout))
	mux.HandleFunc("POST /api/publish", withTimeout(maxBodySize(h.protected(h.handlePublish), defaultMaxBodySize), defaultRequestTimeout))

	// Live feed
	mux.HandleFunc("GET /ws", h.protected(h.handleWS))

	// Health Check (no auth, minimal timeout)
	mux.HandleFunc("GET /healthz", withTimeout(h.handleHealth, 5*time.Second))
}

func (h *Handler) protected(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.auth.Middleware(handler).ServeHTTP(w, r)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Password is required")
		return
	}
	if !h.auth.Enabled() {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Authentication is disabled")
		return
	}

	token, err := h.auth.Login(req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleEventTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, streaming.EventTypes)
}

// handleChannels lists the configured channels. Without parameters it
// returns the full per-type catalog; with type/scope it resolves the flat
// channel list a bulk subscribe would target.
func (h *Handler) handleChannels(w http.ResponseWriter, r *http.Request) {
	dir := h.svc.Directory()

	if scope := r.URL.Query().Get("scope"); scope != "" {
		channels, err := dir.ChannelsForScope(scope)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Unknown scope")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"channels": channels})
		return
	}

	if eventType := r.URL.Query().Get("type"); eventType != "" {
		descriptors, err := dir.Channels(eventType)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Unknown event type")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"channels": descriptors})
		return
	}

	writeJSON(w, http.StatusOK, dir.All())
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := h.svc.Subscriptions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
		"total":         len(subs),
	})
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel  string `json:"channel"`
		ReplayID int64  `json:"replayId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Channel is required")
		return
	}
	if req.ReplayID == 0 {
		req.ReplayID = transport.ReplayNew
	}

	sub, err := h.svc.Subscribe(r.Context(), req.Channel, req.ReplayID)
	if err != nil {
		if errors.Is(err, monitor.ErrDuplicateSubscription) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "Already subscribed to channel")
			return
		}
		var subErr *transport.SubscribeError
		if errors.As(err, &subErr) {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, subErr.Reason)
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Subscribe failed")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleSubscribeAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope    string `json:"scope"`
		ReplayID int64  `json:"replayId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	if req.Scope == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Scope is required")
		return
	}
	if req.ReplayID == 0 {
		req.ReplayID = transport.ReplayNew
	}

	if err := h.svc.SubscribeAll(r.Context(), req.Scope, req.ReplayID); err != nil {
		if errors.Is(err, streaming.ErrUnsupportedEventType) {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Unknown scope")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Bulk subscribe failed")
		return
	}

	subs := h.svc.Subscriptions()
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"subscriptions": subs,
		"total":         len(subs),
	})
}

func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	// Channels contain slashes, so the path value is a wildcard without the
	// leading one: /api/subscriptions/event/Foo__e -> /event/Foo__e.
	channel := "/" + r.PathValue("channel")
	if channel == "/" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Channel is required")
		return
	}

	if err := h.svc.Unsubscribe(r.Context(), channel); err != nil {
		if errors.Is(err, monitor.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "Subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Unsubscribe failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnsubscribeAll(w http.ResponseWriter, r *http.Request) {
	h.svc.UnsubscribeAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	var f streaming.Filter
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&f, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return
	}

	expression := r.URL.Query().Get("expression")
	events, total, err := h.svc.Events(f, expression)
	if err != nil {
		if errors.Is(err, filterexpr.ErrInvalidExpression) {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid filter expression")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Event query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"shown":  len(events),
	})
}

func (h *Handler) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearEvents()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType string          `json:"eventType"`
		EventName string          `json:"eventName"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	if req.EventType == "" || req.EventName == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Event type and name are required")
		return
	}

	if err := h.svc.Publish(r.Context(), req.EventType, req.EventName, req.Payload); err != nil {
		if errors.Is(err, streaming.ErrUnsupportedEventType) {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Unknown event type")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Publish failed")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Live feed is not enabled")
		return
	}
	ServeWS(h.hub, h.logger, w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"subscriptions": len(h.svc.Subscriptions()),
		"channels":      len(h.svc.Channels()),
	})
}
