package callsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aurora-dashboard/internal/calls"
	"aurora-dashboard/internal/synclog"
	"aurora-dashboard/internal/vapi"
)

var t0 = time.Unix(1700000000, 0).UTC()

type fakeSource struct {
	calls    []vapi.Call
	err      error
	requests atomic.Int32
	lastOpts vapi.ListOptions

	entered chan struct{}
	release chan struct{}
}

func (f *fakeSource) ListCalls(ctx context.Context, apiKey string, assistantIDs []string, opts vapi.ListOptions) ([]vapi.Call, error) {
	f.requests.Add(1)
	f.lastOpts = opts
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	return f.calls, f.err
}

type fakeAgents map[int64][]string

func (f fakeAgents) AgentIDs(_ context.Context, customerID int64) []string { return f[customerID] }

type memoryHistory struct {
	mu   sync.Mutex
	runs []synclog.Run
}

func (h *memoryHistory) Record(_ context.Context, run synclog.Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
	return nil
}

func (h *memoryHistory) last() synclog.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs[len(h.runs)-1]
}

func ptrTime(t time.Time) *time.Time { return &t }
func ptrFloat(f float64) *float64    { return &f }

func remoteCall(id string, offset time.Duration) vapi.Call {
	started := t0.Add(offset)
	return vapi.Call{
		ID:          id,
		AssistantID: "a1",
		Status:      calls.StatusEnded,
		CreatedAt:   &started,
		StartedAt:   &started,
		EndedAt:     ptrTime(started.Add(45 * time.Second)),
	}
}

type harness struct {
	engine  *Engine
	source  *fakeSource
	store   *calls.MemoryStore
	history *memoryHistory
	metrics *Metrics
}

func newHarness(remote ...vapi.Call) *harness {
	h := &harness{
		source:  &fakeSource{calls: remote},
		store:   calls.NewMemoryStore(),
		history: &memoryHistory{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	h.engine = NewEngine(Config{
		Source:  h.source,
		Agents:  fakeAgents{42: {"a1", "a2"}},
		Store:   h.store,
		History: h.history,
		Metrics: h.metrics,
		Clock:   func() time.Time { return t0 },
	})
	return h
}

func TestSync_SecondRunInsertsNothing(t *testing.T) {
	h := newHarness(remoteCall("c1", 0), remoteCall("c2", time.Minute), remoteCall("c3", 2*time.Minute))
	ctx := context.Background()

	res, err := h.engine.Sync(ctx, "key", 42)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 3, New: 3}, res)

	before := h.store.Rows()
	res, err = h.engine.Sync(ctx, "key", 42)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Synced)
	assert.Equal(t, 0, res.New)
	assert.Equal(t, before, h.store.Rows())

	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.runs.WithLabelValues("manual", "ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.inserted))
}

func TestSync_MapsRemoteCallToRow(t *testing.T) {
	c := remoteCall("c1", 0)
	c.StartedAt = nil
	c.Duration = ptrFloat(90)
	c.Cost = ptrFloat(0.12)
	c.Customer = &vapi.CallCustomer{Number: "+15550100"}
	c.EndedReason = "assistant-forwarded-call"
	c.Analysis = &vapi.Analysis{Summary: "Caller booked a table"}
	c.Artifact = json.RawMessage(`{"recording":{"url":"https://rec/1.wav"}}`)
	h := newHarness(c)

	_, err := h.engine.Sync(context.Background(), "key", 42)
	require.NoError(t, err)

	rows := h.store.Rows()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "c1", row.RemoteCallID)
	assert.Equal(t, int64(42), row.CustomerID)
	require.NotNil(t, row.StartedAt)
	assert.Equal(t, *c.CreatedAt, *row.StartedAt, "started_at falls back to created_at")
	assert.Equal(t, 90, *row.Duration)
	assert.Equal(t, "+15550100", row.CustomerNumber)
	assert.Equal(t, "Caller booked a table", *row.Summary)
	assert.Equal(t, "https://rec/1.wav", *row.RecordingURL)
	assert.Equal(t, 100, h.source.lastOpts.Limit)
}

func TestSync_NoAgentsOrNoCallsExitsEarly(t *testing.T) {
	h := newHarness(remoteCall("c1", 0))
	res, err := h.engine.Sync(context.Background(), "key", 7)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, int32(0), h.source.requests.Load())
	assert.Equal(t, synclog.StatusSkipped, h.history.last().Status)

	h = newHarness()
	res, err = h.engine.Sync(context.Background(), "key", 42)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, h.store.Rows())
}

func TestSync_MissingRelationIsPartialSuccess(t *testing.T) {
	h := newHarness(remoteCall("c1", 0), remoteCall("c2", time.Minute))
	h.store.Missing = true

	res, err := h.engine.Sync(context.Background(), "key", 42)
	require.NoError(t, err)
	assert.Equal(t, Result{Synced: 2, New: 2, Partial: true}, res)

	run := h.history.last()
	assert.Equal(t, synclog.StatusPartial, run.Status)
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.inserted))
}

func TestSync_RemoteFailurePropagates(t *testing.T) {
	h := newHarness()
	h.source.err = fmt.Errorf("list: %w", vapi.ErrNetwork)

	_, err := h.engine.Sync(context.Background(), "key", 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, vapi.ErrNetwork)

	run := h.history.last()
	assert.Equal(t, synclog.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "fetch remote calls")
}

func TestSync_BackfillsOnlyNullDurations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(remoteCall("fresh", 0))
	h.engine.backfillBatch = 2

	ended := func(after time.Duration) json.RawMessage {
		return json.RawMessage(fmt.Sprintf(`{"endedAt":%q}`, t0.Add(after).Format(time.RFC3339)))
	}
	ten := 10
	_, err := h.store.InsertBatch(ctx, []calls.CallLog{
		{CustomerID: 42, RemoteCallID: "r1", StartedAt: ptrTime(t0)},
		{CustomerID: 42, RemoteCallID: "r2", StartedAt: ptrTime(t0), Artifact: ended(20 * time.Second)},
		{CustomerID: 42, RemoteCallID: "r3", StartedAt: ptrTime(t0), Artifact: ended(-time.Second)},
		{CustomerID: 42, RemoteCallID: "r4", StartedAt: ptrTime(t0), Artifact: ended(40 * time.Second)},
		{CustomerID: 42, RemoteCallID: "r5", StartedAt: ptrTime(t0), Artifact: ended(50 * time.Second)},
		{CustomerID: 42, RemoteCallID: "r6", StartedAt: ptrTime(t0), Duration: &ten, Artifact: ended(60 * time.Second)},
	})
	require.NoError(t, err)

	res, err := h.engine.Sync(ctx, "key", 42)
	require.NoError(t, err)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 3, res.Backfilled)

	got := map[string]*int{}
	for _, r := range h.store.Rows() {
		got[r.RemoteCallID] = r.Duration
	}
	assert.Nil(t, got["r1"])
	assert.Nil(t, got["r3"])
	assert.Equal(t, 20, *got["r2"])
	assert.Equal(t, 40, *got["r4"])
	assert.Equal(t, 50, *got["r5"])
	assert.Equal(t, 10, *got["r6"], "existing duration must not change")
	assert.Equal(t, 45, *got["fresh"])
}

func TestSync_BackfillPrefersRemoteCall(t *testing.T) {
	ctx := context.Background()
	remote := remoteCall("old", 0)
	remote.Duration = ptrFloat(77)
	h := newHarness(remote)

	_, err := h.store.InsertBatch(ctx, []calls.CallLog{{CustomerID: 42, RemoteCallID: "old", StartedAt: ptrTime(t0)}})
	require.NoError(t, err)

	res, err := h.engine.Sync(ctx, "key", 42)
	require.NoError(t, err)
	assert.Equal(t, 0, res.New)
	assert.Equal(t, 1, res.Backfilled)
	assert.Equal(t, 77, *h.store.Rows()[0].Duration)
}

// recordSynced rebuilds the harness engine with an OnSynced hook and returns
// the results it received.
func recordSynced(h *harness) func() []Result {
	var (
		mu   sync.Mutex
		seen []Result
	)
	h.engine = NewEngine(Config{
		Source:  h.source,
		Agents:  fakeAgents{42: {"a1", "a2"}},
		Store:   h.store,
		History: h.history,
		Metrics: h.metrics,
		Clock:   func() time.Time { return t0 },

		OnSynced: func(_ context.Context, customerID int64, res Result) {
			mu.Lock()
			defer mu.Unlock()
			if customerID == 42 {
				seen = append(seen, res)
			}
		},
	})
	return func() []Result {
		mu.Lock()
		defer mu.Unlock()
		return append([]Result(nil), seen...)
	}
}

func TestSync_OnSyncedFiresWhenRowsChange(t *testing.T) {
	ctx := context.Background()

	h := newHarness(remoteCall("c1", 0), remoteCall("c2", time.Minute))
	seen := recordSynced(h)
	_, err := h.engine.Sync(ctx, "key", 42)
	require.NoError(t, err)
	_, err = h.engine.Sync(ctx, "key", 42)
	require.NoError(t, err)
	require.Len(t, seen(), 1, "second run changed nothing")
	assert.Equal(t, 2, seen()[0].New)

	// Backfill alone still changes stored rows.
	remote := remoteCall("old", 0)
	remote.Duration = ptrFloat(77)
	h = newHarness(remote)
	seen = recordSynced(h)
	_, err = h.store.InsertBatch(ctx, []calls.CallLog{{CustomerID: 42, RemoteCallID: "old", StartedAt: ptrTime(t0)}})
	require.NoError(t, err)
	_, err = h.engine.Sync(ctx, "key", 42)
	require.NoError(t, err)
	require.Len(t, seen(), 1)
	assert.Equal(t, Result{Synced: 1, Backfilled: 1}, seen()[0])

	// Nothing persisted, nothing to invalidate.
	h = newHarness(remoteCall("c1", 0))
	seen = recordSynced(h)
	h.store.Missing = true
	_, err = h.engine.Sync(ctx, "key", 42)
	require.NoError(t, err)
	assert.Empty(t, seen())

	h = newHarness(remoteCall("c1", 0))
	seen = recordSynced(h)
	h.source.err = errors.New("boom")
	_, err = h.engine.Sync(ctx, "key", 42)
	require.Error(t, err)
	assert.Empty(t, seen())
}

func TestHasNewCalls(t *testing.T) {
	ctx := context.Background()

	h := newHarness(remoteCall("c1", time.Hour))
	assert.False(t, h.engine.HasNewCalls(ctx, "key", 7), "no agents")
	assert.True(t, h.engine.HasNewCalls(ctx, "key", 42), "empty store")
	require.NotNil(t, h.source.lastOpts.CreatedAfter)
	assert.Equal(t, time.Date(2022, 11, 14, 0, 0, 0, 0, time.UTC), *h.source.lastOpts.CreatedAfter)
	assert.Equal(t, hasNewCallsLimit, h.source.lastOpts.Limit)
	assert.Equal(t, 1, h.source.lastOpts.MaxPages)

	_, err := h.store.InsertBatch(ctx, []calls.CallLog{{CustomerID: 42, RemoteCallID: "c0", StartedAt: ptrTime(t0)}})
	require.NoError(t, err)
	assert.True(t, h.engine.HasNewCalls(ctx, "key", 42), "remote is newer")

	_, err = h.store.InsertBatch(ctx, []calls.CallLog{{CustomerID: 42, RemoteCallID: "c1", StartedAt: ptrTime(t0.Add(time.Hour))}})
	require.NoError(t, err)
	assert.False(t, h.engine.HasNewCalls(ctx, "key", 42), "store is current")

	h.source.err = errors.New("boom")
	assert.True(t, h.engine.HasNewCalls(ctx, "key", 42), "errors assume new calls")

	h = newHarness()
	assert.False(t, h.engine.HasNewCalls(ctx, "key", 42), "no remote calls")
}

func TestHasNewCalls_SingleRemoteRequest(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		// A full page every time: only the caller's page bound stops the walk.
		page := make([]vapi.Call, limit)
		for i := range page {
			ts := t0.Add(-time.Duration(int(requests.Load())*limit+i) * time.Minute)
			page[i] = vapi.Call{ID: fmt.Sprintf("c%d-%d", requests.Load(), i), AssistantID: "a1", CreatedAt: &ts}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": page})
	}))
	defer srv.Close()

	engine := NewEngine(Config{
		Source: vapi.NewClient(vapi.Options{BaseURL: srv.URL}),
		Agents: fakeAgents{1: {"a1"}},
		Store:  calls.NewMemoryStore(),
		Clock:  func() time.Time { return t0 },
	})

	assert.True(t, engine.HasNewCalls(context.Background(), "key", 1))
	assert.Equal(t, int32(1), requests.Load())
}

func TestDeriveDuration(t *testing.T) {
	artifact := json.RawMessage(fmt.Sprintf(`{"endedAt":%q}`, t0.Add(125*time.Second).Format(time.RFC3339Nano)))
	got := deriveDuration(durationInput{Start: ptrTime(t0), Artifact: artifact})
	require.NotNil(t, got)
	assert.Equal(t, 125, *got)

	got = deriveDuration(durationInput{Reported: ptrFloat(90), Start: ptrTime(t0), End: ptrTime(t0.Add(time.Hour))})
	require.NotNil(t, got)
	assert.Equal(t, 90, *got)

	snake := json.RawMessage(fmt.Sprintf(`{"ended_at":%q}`, t0.Add(3*time.Second).Format(time.RFC3339)))
	got = deriveDuration(durationInput{Reported: ptrFloat(0), Start: ptrTime(t0), Artifact: snake})
	require.NotNil(t, got)
	assert.Equal(t, 3, *got)

	assert.Nil(t, deriveDuration(durationInput{Start: ptrTime(t0), End: ptrTime(t0)}))
	assert.Nil(t, deriveDuration(durationInput{End: ptrTime(t0)}))
	assert.Nil(t, deriveDuration(durationInput{Start: ptrTime(t0), Artifact: json.RawMessage(`"not an object"`)}))
}

func TestDeriveSummary(t *testing.T) {
	c := vapi.Call{
		Analysis: &vapi.Analysis{Summary: "From analysis"},
		Messages: []vapi.Message{{Role: "bot", Message: "last"}},
	}
	assert.Equal(t, "From analysis", *deriveSummary(c))

	c.Analysis = nil
	assert.Equal(t, "last", *deriveSummary(c))

	c.Messages = []vapi.Message{{Content: strings.Repeat("é", 250)}}
	got := *deriveSummary(c)
	assert.Equal(t, strings.Repeat("é", 200)+"...", got)

	c.Messages = nil
	assert.Nil(t, deriveSummary(c))
}

func TestDeriveRecordingURL(t *testing.T) {
	c := vapi.Call{Artifact: json.RawMessage(`{"recordingUrl":"https://a","recording":{"url":"https://b"}}`)}
	assert.Equal(t, "https://a", *deriveRecordingURL(c))

	c.RecordingURL = "https://direct"
	assert.Equal(t, "https://direct", *deriveRecordingURL(c))

	c = vapi.Call{Artifact: json.RawMessage(`{"recording":{"url":"https://b"}}`)}
	assert.Equal(t, "https://b", *deriveRecordingURL(c))

	assert.Nil(t, deriveRecordingURL(vapi.Call{}))
}
