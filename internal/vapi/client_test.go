package vapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Unix(1700000000, 0).UTC()

// fakeCalls emulates GET /call: newest first, filtered by assistantId and createdAtLt.
type fakeCalls struct {
	calls    map[string][]Call
	requests atomic.Int32
}

func (f *fakeCalls) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if r.Header.Get("Authorization") != "Bearer key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	var before *time.Time
	if v := q.Get("createdAtLt"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		before = &ts
	}
	var page []Call
	for _, c := range f.calls[q.Get("assistantId")] {
		if before != nil && !c.CreatedAt.Before(*before) {
			continue
		}
		page = append(page, c)
		if len(page) == limit {
			break
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"results": page})
}

func makeCalls(prefix string, n int) []Call {
	out := make([]Call, n)
	for i := range out {
		ts := base.Add(-time.Duration(i) * time.Minute)
		out[i] = Call{ID: fmt.Sprintf("%s-%d", prefix, i), AssistantID: prefix, CreatedAt: &ts, Status: "ended"}
	}
	return out
}

func TestListCalls_PaginatesPerAssistantAndDeduplicates(t *testing.T) {
	old := base.Add(-1000 * time.Hour)
	shared := []Call{{ID: "shared", CreatedAt: &old}}
	a1 := append(makeCalls("a1", 25), shared...)
	a2 := append(makeCalls("a2", 7), shared...)
	fake := &fakeCalls{calls: map[string][]Call{"a1": a1, "a2": a2}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	calls, err := c.ListCalls(context.Background(), "key", []string{"a1", " a2 ", ""}, ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, calls, 25+7+1)

	seen := map[string]bool{}
	for _, call := range calls {
		assert.False(t, seen[call.ID], "duplicate %s", call.ID)
		seen[call.ID] = true
	}
	// a1: 26 records over pages of 10 -> 3 requests; a2: 8 records -> 1 request.
	assert.Equal(t, int32(4), fake.requests.Load())
}

func TestListCalls_StaleCursorTerminates(t *testing.T) {
	ts := base
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page := []Call{{ID: "x", CreatedAt: &ts}, {ID: "y", CreatedAt: &ts}}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	calls, err := c.ListCalls(context.Background(), "key", []string{"a1"}, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, calls, 2)
	assert.Equal(t, int32(2), requests.Load())
}

func TestListCalls_StopsAtPageCap(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		ts := base.Add(-time.Duration(n) * time.Hour)
		_ = json.NewEncoder(w).Encode([]Call{{ID: fmt.Sprintf("c%d", n), CreatedAt: &ts}})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, MaxPages: 5})
	calls, err := c.ListCalls(context.Background(), "key", nil, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, calls, 5)
	assert.Equal(t, int32(5), requests.Load())
}

func TestListCalls_StopsAtRecordCap(t *testing.T) {
	fake := &fakeCalls{calls: map[string][]Call{"a1": makeCalls("a1", 50)}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, MaxRecords: 20})
	calls, err := c.ListCalls(context.Background(), "key", []string{"a1"}, ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, calls, 20)
}

func TestListCalls_MaxPagesFetchesNewestPageOnly(t *testing.T) {
	fake := &fakeCalls{calls: map[string][]Call{"a1": makeCalls("a1", 1000)}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	calls, err := c.ListCalls(context.Background(), "key", []string{"a1"}, ListOptions{Limit: 100, MaxPages: 1})
	require.NoError(t, err)
	assert.Len(t, calls, 100)
	assert.Equal(t, "a1-0", calls[0].ID)
	assert.Equal(t, int32(1), fake.requests.Load())
}

func TestListAssistants_AcceptsBareArrayAndResults(t *testing.T) {
	bodies := []string{
		`[{"id":"a1","name":"Front desk"}]`,
		`{"results":[{"id":"a1","name":"Front desk"}]}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/assistant", r.URL.Path)
			_, _ = w.Write([]byte(body))
		}))
		c := NewClient(Options{BaseURL: srv.URL})
		out, err := c.ListAssistants(context.Background(), "key")
		srv.Close()
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "Front desk", out[0].Name)
	}
}

func TestErrors_MapStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, ErrRequestFailed},
		{http.StatusBadRequest, ErrRequestFailed},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("nope"))
		}))
		c := NewClient(Options{BaseURL: srv.URL})
		_, err := c.GetCall(context.Background(), "key", "c1")
		srv.Close()

		require.Error(t, err)
		assert.ErrorIs(t, err, tc.want)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, tc.status, se.Status)
		assert.Contains(t, err.Error(), strconv.Itoa(tc.status))
	}
}

func TestErrors_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: url})
	_, err := c.ListAssistants(context.Background(), "key")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestGetAssistant_TrimsAndRejectsEmptyID(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/assistant/a1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"a1","model":{"model":"gpt-4o"}}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	_, err := c.GetAssistant(context.Background(), "key", "   ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, int32(0), requests.Load())

	a, err := c.GetAssistant(context.Background(), "key", "  a1 ")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", a.Model.Model)
	assert.Equal(t, int32(1), requests.Load())
}

func TestToolCalls_CollectsFromMessagesAndTranscript(t *testing.T) {
	raw := `{
		"id": "c1",
		"messages": [{"role": "assistant", "toolCalls": [{"function": {"name": "book", "arguments": "{}"}}]}],
		"transcript": [{"role": "assistant", "toolCalls": [{"function": {"name": "transfer"}}]}]
	}`
	var call Call
	require.NoError(t, json.Unmarshal([]byte(raw), &call))

	got := ToolCalls(call)
	require.Len(t, got, 2)
	assert.Equal(t, "book", got[0].Name)
	assert.Equal(t, "transcript", got[1].Source)

	call.Transcript = json.RawMessage(`"plain text transcript"`)
	assert.Len(t, ToolCalls(call), 1)
}
