package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsbase/notify/pkg/bridge"
	"github.com/opsbase/notify/pkg/delivery"
	"github.com/opsbase/notify/pkg/fanout"
	"github.com/opsbase/notify/pkg/logger"
	"github.com/opsbase/notify/pkg/metrics"
	"github.com/opsbase/notify/pkg/notification"
	"github.com/opsbase/notify/pkg/preference"
	"github.com/opsbase/notify/pkg/resolver"
)

// Identity headers set by the platform gateway after authentication.
// The API trusts them; it performs no authentication of its own.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
)

var errMissingIdentity = errors.New("missing identity headers")

// Handler serves the notification query API, provider callbacks and
// the metrics summary.
type Handler struct {
	records  *notification.Service
	tracker  *delivery.Tracker
	prefs    preference.Store
	reporter *metrics.Reporter
	engine   *fanout.Engine
	mirror   *bridge.Bridge
	logger   *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger for the Handler.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithEngine exposes POST /events for announcing domain events. The
// route is for trusted service-to-service callers behind the gateway.
func WithEngine(e *fanout.Engine) HandlerOption {
	return func(h *Handler) {
		h.engine = e
	}
}

// WithBridge exposes POST /legacy/{module}/notifications, mirroring
// rows from per-module notification tables into the unified store.
func WithBridge(b *bridge.Bridge) HandlerOption {
	return func(h *Handler) {
		h.mirror = b
	}
}

// NewHandler creates the API handler. prefs and reporter may be nil;
// their routes then return 404.
func NewHandler(records *notification.Service, tracker *delivery.Tracker, prefs preference.Store, reporter *metrics.Reporter, opts ...HandlerOption) *Handler {
	h := &Handler{
		records:  records,
		tracker:  tracker,
		prefs:    prefs,
		reporter: reporter,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router mounts all API routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/unread-count", h.unreadCount)
		r.Post("/read", h.markManyRead)
		r.Post("/read-all", h.markAllRead)
		r.Get("/{id}", h.get)
		r.Post("/{id}/read", h.markRead)
		r.Post("/{id}/dismiss", h.dismiss)
		r.Get("/threads/{threadID}", h.thread)
	})

	r.Post("/callbacks/{provider}", h.providerCallback)

	if h.engine != nil {
		r.Post("/events", h.announce)
	}
	if h.mirror != nil {
		r.Post("/legacy/{module}/notifications", h.mirrorLegacy)
	}

	if h.reporter != nil {
		r.Get("/metrics/summary", h.metricsSummary)
	}
	if h.prefs != nil {
		r.Route("/preferences/{module}", func(r chi.Router) {
			r.Get("/", h.getPreference)
			r.Put("/", h.putPreference)
		})
	}

	return r
}

func identity(r *http.Request) (userID, tenantID string, err error) {
	userID = r.Header.Get(HeaderUserID)
	tenantID = r.Header.Get(HeaderTenantID)
	if userID == "" || tenantID == "" {
		return "", "", errMissingIdentity
	}
	return userID, tenantID, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, _, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	opts := parseListOptions(r)
	recs, err := h.records.List(r.Context(), userID, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, JSONResponse{
		Data: recs,
		Meta: map[string]any{
			"limit":  opts.Limit,
			"offset": opts.Offset,
			"count":  len(recs),
		},
	})
}

func parseListOptions(r *http.Request) notification.ListOptions {
	q := r.URL.Query()
	opts := notification.ListOptions{
		Module:           q.Get("module"),
		OnlyUnread:       q.Get("unread") == "true",
		IncludeDismissed: q.Get("include_dismissed") == "true",
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		opts.Offset = v
	}
	if raw := q.Get("priority"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			opts.Priorities = append(opts.Priorities, notification.ParsePriority(p))
		}
	}
	if raw := q.Get("since"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			opts.Since = &ts
		}
	}
	return opts
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	count, err := h.records.CountUnread(r.Context(), userID, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSONResponse{Data: map[string]int{"unread": count}})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	userID, _, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	rec, err := h.records.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSONResponse{Data: rec})
}

func (h *Handler) thread(w http.ResponseWriter, r *http.Request) {
	userID, _, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	recs, err := h.records.ListThread(r.Context(), userID, chi.URLParam(r, "threadID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSONResponse{Data: recs})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	userID, _, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	if err := h.records.MarkRead(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markManyRead(w http.ResponseWriter, r *http.Request) {
	userID, _, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, JSONResponse{Error: &ErrorDetail{Code: "bad_request", Message: "invalid JSON body"}})
		return
	}

	if err := h.records.MarkManyRead(r.Context(), userID, body.IDs...); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	userID, _, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	if err := h.records.MarkAllRead(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dismiss(w http.ResponseWriter, r *http.Request) {
	userID, _, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	if err := h.records.Dismiss(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// providerCallback ingests asynchronous delivery reports. The provider
// in the path overrides whatever the body claims, so a webhook
// endpoint registered with one provider cannot spoof another's
// correlation space.
func (h *Handler) providerCallback(w http.ResponseWriter, r *http.Request) {
	var cb delivery.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeJSON(w, http.StatusBadRequest, JSONResponse{Error: &ErrorDetail{Code: "bad_request", Message: "invalid JSON body"}})
		return
	}
	cb.Provider = chi.URLParam(r, "provider")
	if cb.Timestamp.IsZero() {
		cb.Timestamp = time.Now()
	}

	if err := h.tracker.RecordCallback(r.Context(), cb); err != nil {
		h.logger.LogAttrs(r.Context(), slog.LevelWarn, "callback rejected",
			logger.Provider(cb.Provider),
			logger.ProviderMessageID(cb.ProviderMessageID),
			slog.String("callback_status", cb.Status),
			logger.Error(err),
		)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) metricsSummary(w http.ResponseWriter, r *http.Request) {
	_, tenantID, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	q := metrics.Query{
		TenantID: tenantID,
		Module:   r.URL.Query().Get("module"),
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			q.From = ts
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			q.To = ts
		}
	}

	sum, err := h.reporter.Report(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSONResponse{Data: sum})
}

// announceRequest is the wire form of a domain event. Tenant scope
// comes from the gateway identity header, never the body.
type announceRequest struct {
	Module      string         `json:"module"`
	EventType   string         `json:"event_type"`
	EntityType  string         `json:"entity_type,omitempty"`
	EntityID    string         `json:"entity_id,omitempty"`
	Recipients  []string       `json:"recipients,omitempty"`
	Title       string         `json:"title"`
	Message     string         `json:"message,omitempty"`
	ActionURL   string         `json:"action_url,omitempty"`
	ActionLabel string         `json:"action_label,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Channels    []string       `json:"channels,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty"`
}

func (h *Handler) announce(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	var req announceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSONResponse{Error: &ErrorDetail{Code: "bad_request", Message: "invalid JSON body"}})
		return
	}

	ev := resolver.Event{
		TenantID:           tenantID,
		Module:             req.Module,
		EventType:          req.EventType,
		EntityType:         req.EntityType,
		EntityID:           req.EntityID,
		ExplicitRecipients: req.Recipients,
		Title:              req.Title,
		Message:            req.Message,
		ActionURL:          req.ActionURL,
		ActionLabel:        req.ActionLabel,
		Priority:           notification.ParsePriority(req.Priority),
		Payload:            req.Payload,
		ThreadID:           req.ThreadID,
		CreatedBy:          userID,
	}
	for _, ch := range req.Channels {
		ev.Channels = append(ev.Channels, notification.Channel(ch))
	}

	receipts, err := h.engine.Announce(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JSONResponse{
		Data: receipts,
		Meta: map[string]any{"recipients": len(receipts)},
	})
}

// legacyNotificationRequest is the wire form of a per-module
// notification row. Module comes from the path and tenant scope from
// the gateway identity header, never the body.
type legacyNotificationRequest struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	EventType  string         `json:"event_type,omitempty"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Title      string         `json:"title"`
	Message    string         `json:"message,omitempty"`
	ActionURL  string         `json:"action_url,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	CreatedBy  string         `json:"created_by,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// mirrorLegacy replicates a legacy row into the unified store. It
// answers 202 whether or not a record was created: mirroring is best
// effort and must never fail the legacy write path that called it.
func (h *Handler) mirrorLegacy(w http.ResponseWriter, r *http.Request) {
	_, tenantID, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	var req legacyNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSONResponse{Error: &ErrorDetail{Code: "bad_request", Message: "invalid JSON body"}})
		return
	}

	created := h.mirror.Mirror(r.Context(), bridge.LegacyNotification{
		ID:         req.ID,
		TenantID:   tenantID,
		UserID:     req.UserID,
		Module:     chi.URLParam(r, "module"),
		EventType:  req.EventType,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Title:      req.Title,
		Message:    req.Message,
		ActionURL:  req.ActionURL,
		Priority:   bridge.LegacyPriority(req.Priority),
		CreatedAt:  req.CreatedAt,
		CreatedBy:  req.CreatedBy,
		Data:       req.Data,
	})
	writeJSON(w, http.StatusAccepted, JSONResponse{Data: map[string]bool{"mirrored": created}})
}

func (h *Handler) getPreference(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	pref, err := h.prefs.Get(r.Context(), tenantID, userID, chi.URLParam(r, "module"))
	if err != nil {
		if errors.Is(err, preference.ErrNotFound) {
			// Unmaterialized settings read as the permissive default.
			writeJSON(w, http.StatusOK, JSONResponse{Data: preference.Preference{
				UserID:   userID,
				TenantID: tenantID,
				Module:   chi.URLParam(r, "module"),
			}})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSONResponse{Data: pref})
}

func (h *Handler) putPreference(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, JSONResponse{Error: &ErrorDetail{Code: "unauthorized", Message: err.Error()}})
		return
	}

	var pref preference.Preference
	if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
		writeJSON(w, http.StatusBadRequest, JSONResponse{Error: &ErrorDetail{Code: "bad_request", Message: "invalid JSON body"}})
		return
	}
	// Scope comes from the request identity, never the body.
	pref.UserID = userID
	pref.TenantID = tenantID
	pref.Module = chi.URLParam(r, "module")

	if err := h.prefs.Upsert(r.Context(), pref); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSONResponse{Data: pref})
}
