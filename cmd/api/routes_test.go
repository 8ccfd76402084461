package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"aurora-dashboard/internal/auth"
	"aurora-dashboard/internal/calls"
	"aurora-dashboard/internal/callsync"
	"aurora-dashboard/internal/config"
	"aurora-dashboard/internal/customers"
	"aurora-dashboard/internal/events"
	"aurora-dashboard/internal/httpapi"
	"aurora-dashboard/internal/notifications"
	"aurora-dashboard/internal/pickup"
	"aurora-dashboard/internal/realtime"
	"aurora-dashboard/internal/reporting"
	"aurora-dashboard/internal/synclog"
	"aurora-dashboard/internal/vapi"
)

const testWebhookSecret = "hook-secret"

type fakeRemote struct {
	calls      []vapi.Call
	assistants []vapi.Assistant
}

func (f *fakeRemote) ListCalls(_ context.Context, _ string, assistantIDs []string, _ vapi.ListOptions) ([]vapi.Call, error) {
	var out []vapi.Call
	for _, c := range f.calls {
		for _, id := range assistantIDs {
			if c.AssistantID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (f *fakeRemote) GetCall(_ context.Context, _, callID string) (vapi.Call, error) {
	for _, c := range f.calls {
		if c.ID == callID {
			return c, nil
		}
	}
	return vapi.Call{}, vapi.ErrNotFound
}

func (f *fakeRemote) GetAssistant(_ context.Context, _, assistantID string) (vapi.Assistant, error) {
	for _, a := range f.assistants {
		if a.ID == assistantID {
			return a, nil
		}
	}
	return vapi.Assistant{}, vapi.ErrNotFound
}

func (f *fakeRemote) ListAssistants(context.Context, string) ([]vapi.Assistant, error) {
	return f.assistants, nil
}

type pickupTarget struct {
	mu      sync.Mutex
	callIDs []string
}

func (p *pickupTarget) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.callIDs...)
}

type testApp struct {
	router *gin.Engine
	feed   *realtime.MemoryFeed
	hub    *notifications.Hub
	pickup *pickupTarget
	stats  *reporting.MemoryRepo
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authManager, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "aurora",
		JWTAudience:     "dashboard",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	require.NoError(t, err)

	directory := customers.NewMemoryDirectory()
	require.NoError(t, directory.Put(customers.Customer{ID: 42, Email: "owner@cafe.fr"}, "s3cret", "a1;a2", "basic"))
	require.NoError(t, directory.Put(customers.Customer{ID: 7, Email: "desk@garage.fr"}, "s3cret", "b1", "pro"))

	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(2 * time.Minute)
	remote := &fakeRemote{
		calls: []vapi.Call{
			{ID: "c1", AssistantID: "a1", Status: calls.StatusEnded, CreatedAt: &start, StartedAt: &start, EndedAt: &end},
			{ID: "c2", AssistantID: "a2", Status: calls.StatusInProgress, CreatedAt: &start},
			{ID: "c3", AssistantID: "b1", Status: calls.StatusEnded, CreatedAt: &start},
		},
		assistants: []vapi.Assistant{{ID: "a1", Name: "Front desk"}, {ID: "b1", Name: "Garage"}, {ID: "a2", Name: "After hours"}},
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	runs := synclog.NewRepo(gdb)
	require.NoError(t, runs.AutoMigrate())

	reg := prometheus.NewRegistry()
	statsRepo := reporting.NewMemoryRepo()
	stats := reporting.NewService(statsRepo, reporting.Config{Metrics: reporting.NewMetrics(reg)})

	store := calls.NewMemoryStore()
	engine := callsync.NewEngine(callsync.Config{
		Source:  remote,
		Agents:  directory,
		Store:   store,
		History: runs,
		Metrics: callsync.NewMetrics(reg),

		OnSynced: func(ctx context.Context, customerID int64, _ callsync.Result) {
			_ = stats.Invalidate(ctx, customerID)
		},
	})

	feed := realtime.NewMemoryFeed()
	eventSvc := events.NewService(events.NewMemoryRepo(), events.Config{Publisher: feed})
	hub := notifications.NewHub(notifications.HubConfig{Feed: feed, RetryInterval: 10 * time.Millisecond})
	t.Cleanup(hub.Close)

	target := &pickupTarget{}
	pickupSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CallID string `json:"call_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		target.mu.Lock()
		target.callIDs = append(target.callIDs, body.CallID)
		target.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(pickupSrv.Close)

	h := httpapi.Handlers{
		Auth:            authManager,
		Customers:       directory,
		Remote:          remote,
		APIKey:          "key",
		Calls:           store,
		Sync:            engine,
		SyncRuns:        runs,
		Stats:           stats,
		Events:          eventSvc,
		WebhookSecret:   testWebhookSecret,
		Notifications:   hub,
		Pickup:          pickup.NewService(pickup.Config{URLs: []string{pickupSrv.URL}}),
		StreamKeepAlive: time.Hour,
	}

	r := gin.New()
	registerRoutes(r, h, auth.RequireAccessToken(authManager), directory, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &testApp{router: r, feed: feed, hub: hub, pickup: target, stats: statsRepo}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testApp) login(t *testing.T, email string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": "s3cret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Tokens auth.TokenPair `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Tokens.AccessToken)
	return resp.Tokens.AccessToken
}

func (a *testApp) ingest(t *testing.T, customerID int64, callID, summary string) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"customer_id": customerID,
		"event_type":  "call.incoming",
		"call_id":     callID,
		"payload":     map[string]string{"summary": summary},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", testWebhookSecret)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealthAndLogin(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "owner@cafe.fr", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := app.login(t, "owner@cafe.fr")
	w = app.do(t, http.MethodGet, "/v1/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"customer_id":42`)

	w = app.do(t, http.MethodGet, "/v1/customer/plan", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"plan":"basic"}`, w.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newTestApp(t)
	for _, path := range []string{"/v1/calls", "/v1/stats", "/v1/notifications", "/v1/customer/agents"} {
		w := app.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
	w := app.do(t, http.MethodGet, "/v1/calls", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSyncThenListCalls(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "owner@cafe.fr")

	w := app.do(t, http.MethodPost, "/v1/calls/sync", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res callsync.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 2, res.New)

	// A second sync finds nothing new.
	w = app.do(t, http.MethodPost, "/v1/calls/sync", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 0, res.New)

	w = app.do(t, http.MethodGet, "/v1/calls", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Calls []calls.CallLog `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Calls, 2)
	for _, c := range list.Calls {
		assert.Equal(t, int64(42), c.CustomerID)
	}

	w = app.do(t, http.MethodGet, "/v1/calls/sync/runs", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs struct {
		Runs []synclog.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs.Runs, 2)

	w = app.do(t, http.MethodGet, "/v1/calls/sync/has-new", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"has_new_calls":false}`, w.Body.String())
}

func TestExportIsGatedOnStoredPlan(t *testing.T) {
	app := newTestApp(t)

	basic := app.login(t, "owner@cafe.fr")
	w := app.do(t, http.MethodGet, "/v1/calls/export.xlsx", basic, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	pro := app.login(t, "desk@garage.fr")
	w = app.do(t, http.MethodPost, "/v1/calls/sync", pro, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodGet, "/v1/calls/export.xlsx", pro, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "calls-7-")
	assert.NotZero(t, w.Body.Len())
}

func TestStatsEndpoints(t *testing.T) {
	app := newTestApp(t)
	d := 90
	app.stats.Logs = []calls.CallLog{
		{CustomerID: 42, RemoteCallID: "c1", Status: calls.StatusEnded, EndedReason: "assistant-forwarded-call", Duration: &d},
		{CustomerID: 42, RemoteCallID: "c2", Status: calls.StatusInProgress},
		{CustomerID: 7, RemoteCallID: "c3", Status: calls.StatusEnded},
	}
	token := app.login(t, "owner@cafe.fr")

	w := app.do(t, http.MethodGet, "/v1/stats", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp reporting.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, reporting.Stats{TotalCalls: 2, Live: 1, Transferred: 1, TotalMinutes: 1.5}, resp.Stats)
	assert.False(t, resp.Stale)

	// A sync that stores new calls drops the cached snapshot.
	app.stats.Logs = append(app.stats.Logs, calls.CallLog{CustomerID: 42, RemoteCallID: "c9", Status: calls.StatusEnded})
	w = app.do(t, http.MethodGet, "/v1/stats", token, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Stats.TotalCalls, "served from cache")
	w = app.do(t, http.MethodPost, "/v1/calls/sync", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = app.do(t, http.MethodGet, "/v1/stats", token, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Stats.TotalCalls)

	w = app.do(t, http.MethodGet, "/v1/stats/remote", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary reporting.CallsSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.TotalCalls)
	assert.Equal(t, 1, summary.Live)
	assert.Equal(t, 2.0, summary.TotalMinutes)
}

func TestCallAndAssistantOwnership(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "owner@cafe.fr")

	w := app.do(t, http.MethodGet, "/v1/calls/c1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tool_calls"`)

	// c3 belongs to another customer's assistant.
	w = app.do(t, http.MethodGet, "/v1/calls/c3", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = app.do(t, http.MethodGet, "/v1/calls/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = app.do(t, http.MethodGet, "/v1/assistants", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Assistants []vapi.Assistant `json:"assistants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Assistants, 2)
	assert.Equal(t, "a1", list.Assistants[0].ID)
	assert.Equal(t, "a2", list.Assistants[1].ID)

	w = app.do(t, http.MethodGet, "/v1/assistants/b1", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = app.do(t, http.MethodGet, "/v1/assistants/a1", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookToNotificationAndPickup(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "owner@cafe.fr")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/events", strings.NewReader(`{"customer_id":42,"event_type":"x"}`))
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Opening the store starts the customer's listener.
	w = app.do(t, http.MethodGet, "/v1/notifications", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool { return app.feed.Subscribers(42) == 1 }, 2*time.Second, 5*time.Millisecond)

	w = app.do(t, http.MethodPost, "/v1/notifications/pickup", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no current notification yet")

	app.ingest(t, 7, "other", "Not for 42")
	app.ingest(t, 42, "call-1", "Table for 4 at 8pm")

	var current struct {
		Notification *notifications.Notification `json:"notification"`
	}
	require.Eventually(t, func() bool {
		w := app.do(t, http.MethodGet, "/v1/notifications/current", token, nil)
		if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &current) != nil {
			return false
		}
		return current.Notification != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Table for 4 at 8pm", current.Notification.Summary)
	require.NotNil(t, current.Notification.CallID)
	assert.Equal(t, "call-1", *current.Notification.CallID)

	w = app.do(t, http.MethodPost, "/v1/notifications/pickup", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"outcome":"full"`)
	assert.Equal(t, []string{"call-1"}, app.pickup.received())

	// Body ids are limited to calls this customer was notified about.
	w = app.do(t, http.MethodPost, "/v1/notifications/pickup", token, map[string]string{"call_id": "call-9"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = app.do(t, http.MethodPost, "/v1/notifications/pickup", token, map[string]string{"call_id": "other"})
	assert.Equal(t, http.StatusNotFound, w.Code, "call notified to another customer")
	assert.Equal(t, []string{"call-1"}, app.pickup.received())

	w = app.do(t, http.MethodDelete, "/v1/notifications/current", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = app.do(t, http.MethodGet, "/v1/notifications/current", token, nil)
	assert.JSONEq(t, `{"notification":null}`, w.Body.String())

	w = app.do(t, http.MethodPost, "/v1/notifications/pickup", token, map[string]string{"call_id": " call-1 "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"call-1", "call-1"}, app.pickup.received())

	w = app.do(t, http.MethodGet, "/v1/notifications", token, nil)
	var history struct {
		Notifications []notifications.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Notifications, 1)

	path := fmt.Sprintf("/v1/notifications/%d", history.Notifications[0].ID)
	w = app.do(t, http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = app.do(t, http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationStream(t *testing.T) {
	app := newTestApp(t)
	token := app.login(t, "owner@cafe.fr")

	srv := httptest.NewServer(app.router)
	defer srv.Close()
	// Ends the open stream before the server waits on it.
	defer app.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/notifications/stream?access_token="+token, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := bufio.NewScanner(resp.Body)
	nextEvent := func() string {
		for lines.Scan() {
			if name, ok := strings.CutPrefix(lines.Text(), "event:"); ok {
				return strings.TrimSpace(name)
			}
		}
		return ""
	}

	require.Equal(t, "snapshot", nextEvent())
	require.Eventually(t, func() bool { return app.feed.Subscribers(42) == 1 }, 2*time.Second, 5*time.Millisecond)

	app.ingest(t, 42, "call-2", "Delivery question")
	require.Equal(t, "added", nextEvent())
	require.True(t, lines.Scan())
	data, ok := strings.CutPrefix(lines.Text(), "data:")
	require.True(t, ok)
	assert.Contains(t, data, "Delivery question")
}

func TestHealthzReportsStoreFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := httpapi.Handlers{Ready: func(context.Context) error { return errors.New("db ping failed") }}
	registerRoutes(r, h, func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }, nil, promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
