package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsbase/notify/pkg/bridge"
	"github.com/opsbase/notify/pkg/delivery"
	"github.com/opsbase/notify/pkg/fanout"
	"github.com/opsbase/notify/pkg/httpapi"
	"github.com/opsbase/notify/pkg/metrics"
	"github.com/opsbase/notify/pkg/notification"
	"github.com/opsbase/notify/pkg/preference"
	"github.com/opsbase/notify/pkg/resolver"
)

type fixture struct {
	records  *notification.Service
	tracker  *delivery.Tracker
	prefs    *preference.MemoryStore
	server   *httptest.Server
	attempts delivery.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	records := notification.NewService(notification.NewMemoryStorage())
	attempts := delivery.NewMemoryStorage()
	tracker := delivery.NewTracker(attempts, records)
	prefs := preference.NewMemoryStore()
	reporter := metrics.NewReporter(attempts)

	engine := fanout.New(resolver.New(prefs, nil, nil), records, tracker)
	h := httpapi.NewHandler(records, tracker, prefs, reporter,
		httpapi.WithEngine(engine),
		httpapi.WithBridge(bridge.New(records)))
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	return &fixture{records: records, tracker: tracker, prefs: prefs, server: srv, attempts: attempts}
}

func (f *fixture) do(t *testing.T, method, path string, body any, asUser string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if asUser != "" {
		req.Header.Set(httpapi.HeaderUserID, asUser)
		req.Header.Set(httpapi.HeaderTenantID, "t1")
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) httpapi.JSONResponse {
	t.Helper()
	var out httpapi.JSONResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *fixture) seedRecord(t *testing.T, userID, title string) string {
	t.Helper()
	id, err := f.records.Create(context.Background(), notification.Record{
		UserID:   userID,
		TenantID: "t1",
		Module:   "sales_orders",
		Title:    title,
	})
	require.NoError(t, err)
	return id
}

func TestRouter_Notifications(t *testing.T) {
	t.Parallel()

	t.Run("list and unread count", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.seedRecord(t, "u1", "first")
		f.seedRecord(t, "u1", "second")
		f.seedRecord(t, "u2", "other user")

		resp := f.do(t, http.MethodGet, "/notifications?limit=10", nil, "u1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		out := decode(t, resp)
		assert.EqualValues(t, 2, out.Meta["count"])

		resp = f.do(t, http.MethodGet, "/notifications/unread-count", nil, "u1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("identity headers required", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		resp := f.do(t, http.MethodGet, "/notifications", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("cross-user access is forbidden", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		id := f.seedRecord(t, "u1", "private")

		resp := f.do(t, http.MethodGet, "/notifications/"+id, nil, "u2")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = f.do(t, http.MethodPost, "/notifications/"+id+"/read", nil, "u2")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		// The record is untouched.
		rec, err := f.records.Get(context.Background(), "u1", id)
		require.NoError(t, err)
		assert.False(t, rec.Read)
	})

	t.Run("mark read and dismiss", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		id := f.seedRecord(t, "u1", "todo")

		resp := f.do(t, http.MethodPost, "/notifications/"+id+"/read", nil, "u1")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		rec, err := f.records.Get(context.Background(), "u1", id)
		require.NoError(t, err)
		assert.True(t, rec.Read)

		resp = f.do(t, http.MethodPost, "/notifications/"+id+"/dismiss", nil, "u1")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = f.do(t, http.MethodGet, "/notifications/unknown", nil, "u1")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("read many and read all", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		id1 := f.seedRecord(t, "u1", "a")
		f.seedRecord(t, "u1", "b")

		resp := f.do(t, http.MethodPost, "/notifications/read", map[string]any{"ids": []string{id1}}, "u1")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = f.do(t, http.MethodPost, "/notifications/read-all", nil, "u1")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		count, err := f.records.CountUnread(context.Background(), "u1", "t1")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestRouter_ProviderCallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	recID := f.seedRecord(t, "u1", "order shipped")
	attID, err := f.tracker.CreateAttempt(ctx, delivery.Attempt{
		NotificationID: recID,
		TenantID:       "t1",
		UserID:         "u1",
		Module:         "sales_orders",
		Channel:        notification.ChannelEmail,
	})
	require.NoError(t, err)
	require.NoError(t, f.tracker.MarkSent(ctx, attID, "postmark", "pm-1", time.Now()))

	resp := f.do(t, http.MethodPost, "/callbacks/postmark", map[string]any{
		"provider_message_id": "pm-1",
		"status":              "delivered",
	}, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	att, err := f.tracker.Get(ctx, attID)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusDelivered, att.Status)

	t.Run("unknown status is a validation error", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/callbacks/postmark", map[string]any{
			"provider_message_id": "pm-1",
			"status":              "vanished",
		}, "")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("unknown correlation is not found", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/callbacks/postmark", map[string]any{
			"provider_message_id": "pm-unknown",
			"status":              "delivered",
		}, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestRouter_MetricsSummary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	recID := f.seedRecord(t, "u1", "order shipped")
	attID, err := f.tracker.CreateAttempt(ctx, delivery.Attempt{
		NotificationID: recID,
		TenantID:       "t1",
		UserID:         "u1",
		Module:         "sales_orders",
		Channel:        notification.ChannelEmail,
	})
	require.NoError(t, err)
	require.NoError(t, f.tracker.MarkSent(ctx, attID, "postmark", "pm-1", time.Now()))

	resp := f.do(t, http.MethodGet, "/metrics/summary?module=sales_orders", nil, "u1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	data, err := json.Marshal(out.Data)
	require.NoError(t, err)
	var sum metrics.Summary
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Sent)
}

func TestRouter_Preferences(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	t.Run("unmaterialized reads as default", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/preferences/sales_orders/", nil, "u1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("put then get round-trips", func(t *testing.T) {
		resp := f.do(t, http.MethodPut, "/preferences/sales_orders/", map[string]any{
			"channels":     map[string]bool{"email": false, "in_app": true},
			"max_per_hour": 5,
		}, "u1")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		pref, err := f.prefs.Get(context.Background(), "t1", "u1", "sales_orders")
		require.NoError(t, err)
		assert.Equal(t, 5, pref.MaxPerHour)
		assert.False(t, pref.Channels[notification.ChannelEmail])
	})

	t.Run("invalid config is rejected, not clamped", func(t *testing.T) {
		resp := f.do(t, http.MethodPut, "/preferences/sales_orders/", map[string]any{
			"max_per_hour": -1,
		}, "u1")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		pref, err := f.prefs.Get(context.Background(), "t1", "u1", "sales_orders")
		require.NoError(t, err)
		assert.Equal(t, 5, pref.MaxPerHour, "previous value survives")
	})
}

func TestRouter_Announce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	t.Run("fans out to explicit recipients", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/events", map[string]any{
			"module":     "sales_orders",
			"event_type": "order.approved",
			"recipients": []string{"u9"},
			"title":      "Order approved",
			"channels":   []string{"in_app"},
		}, "svc-orders")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		body := decode(t, resp)
		require.Nil(t, body.Error)
		assert.EqualValues(t, 1, body.Meta["recipients"])

		recs, err := f.records.List(context.Background(), "u9", notification.ListOptions{})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "Order approved", recs[0].Title)
		assert.Equal(t, "svc-orders", recs[0].CreatedBy)
	})

	t.Run("invalid event is rejected", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/events", map[string]any{
			"module":     "sales_orders",
			"recipients": []string{"u9"},
			"title":      "No event type",
		}, "svc-orders")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("identity required", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/events", map[string]any{}, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestRouter_MirrorLegacy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	row := map[string]any{
		"id":       "legacy-42",
		"user_id":  "u1",
		"title":    "PO approved",
		"priority": "medium",
	}

	t.Run("mirrors under the legacy id", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/legacy/purchase_orders/notifications", row, "svc-legacy")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		body := decode(t, resp)
		data, err := json.Marshal(body.Data)
		require.NoError(t, err)
		assert.JSONEq(t, `{"mirrored":true}`, string(data))

		rec, err := f.records.Get(context.Background(), "u1", "legacy-42")
		require.NoError(t, err)
		assert.Equal(t, "purchase_orders", rec.Module)
		assert.Equal(t, notification.PriorityNormal, rec.Priority)
	})

	t.Run("re-mirroring the same id is a no-op", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/legacy/purchase_orders/notifications", row, "svc-legacy")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		body := decode(t, resp)
		data, err := json.Marshal(body.Data)
		require.NoError(t, err)
		assert.JSONEq(t, `{"mirrored":false}`, string(data))

		recs, err := f.records.List(context.Background(), "u1", notification.ListOptions{Module: "purchase_orders"})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("invalid row is swallowed, not surfaced", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/legacy/purchase_orders/notifications", map[string]any{
			"id":      "legacy-43",
			"user_id": "u1",
		}, "svc-legacy")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		body := decode(t, resp)
		data, err := json.Marshal(body.Data)
		require.NoError(t, err)
		assert.JSONEq(t, `{"mirrored":false}`, string(data))
	})

	t.Run("identity required", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/legacy/purchase_orders/notifications", row, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
