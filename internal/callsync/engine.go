package callsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aurora-dashboard/internal/calls"
	"aurora-dashboard/internal/synclog"
	"aurora-dashboard/internal/vapi"
	"aurora-dashboard/pkg/logger"
)

const (
	defaultPageLimit     = 100
	defaultBackfillBatch = 100

	// hasNewCallsLimit and hasNewCallsWindow bound the remote probe used by HasNewCalls.
	hasNewCallsLimit  = 100
	hasNewCallsWindow = 1 // years
)

// CallSource lists remote calls. *vapi.Client satisfies it.
type CallSource interface {
	ListCalls(ctx context.Context, apiKey string, assistantIDs []string, opts vapi.ListOptions) ([]vapi.Call, error)
}

// AgentResolver maps a customer to the assistants it owns.
type AgentResolver interface {
	AgentIDs(ctx context.Context, customerID int64) []string
}

// History receives a record of every sync run. *synclog.Repo satisfies it.
type History interface {
	Record(ctx context.Context, run synclog.Run) error
}

// Result is what a sync reports: how many remote calls were seen and how many were new.
type Result struct {
	Synced     int  `json:"synced"`
	New        int  `json:"new"`
	Backfilled int  `json:"backfilled"`
	Partial    bool `json:"partial,omitempty"`
}

type Config struct {
	Source  CallSource
	Agents  AgentResolver
	Store   calls.Store
	History History
	Metrics *Metrics
	Logger  *slog.Logger
	Clock   func() time.Time

	// OnSynced runs after a successful sync that changed stored rows
	// (new calls or backfilled durations).
	OnSynced func(ctx context.Context, customerID int64, res Result)

	PageLimit     int
	BackfillBatch int
}

// Engine reconciles the remote call history with the local call log store.
type Engine struct {
	source  CallSource
	agents  AgentResolver
	store   calls.Store
	history History
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time
	synced  func(ctx context.Context, customerID int64, res Result)

	pageLimit     int
	backfillBatch int
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		source:        cfg.Source,
		agents:        cfg.Agents,
		store:         cfg.Store,
		history:       cfg.History,
		metrics:       cfg.Metrics,
		log:           logger.OrDefault(cfg.Logger),
		now:           cfg.Clock,
		synced:        cfg.OnSynced,
		pageLimit:     cfg.PageLimit,
		backfillBatch: cfg.BackfillBatch,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.pageLimit <= 0 {
		e.pageLimit = defaultPageLimit
	}
	if e.backfillBatch <= 0 {
		e.backfillBatch = defaultBackfillBatch
	}
	return e
}

// Sync fetches the customer's remote calls, inserts the ones not stored yet and
// backfills durations on stored rows that lack one.
//
// A missing call_logs relation is not an error: the remote fetch result is
// reported and nothing is persisted.
func (e *Engine) Sync(ctx context.Context, apiKey string, customerID int64) (Result, error) {
	return e.sync(ctx, apiKey, customerID, synclog.TriggerManual)
}

func (e *Engine) sync(ctx context.Context, apiKey string, customerID int64, trigger synclog.Trigger) (res Result, err error) {
	log := e.log.With("customer_id", customerID, "trigger", string(trigger))
	run := synclog.Run{CustomerID: customerID, Trigger: trigger, StartedAt: e.now().UTC()}
	inserted := 0
	defer func() {
		run.Synced, run.NewCalls, run.Backfilled = res.Synced, res.New, res.Backfilled
		switch {
		case err != nil:
			run.Status, run.Error = synclog.StatusFailed, err.Error()
		case res.Partial:
			run.Status = synclog.StatusPartial
		case run.Status == "":
			run.Status = synclog.StatusOK
		}
		run.FinishedAt = e.now().UTC()
		e.finish(ctx, log, run, inserted)
		if err == nil && !res.Partial && (res.New > 0 || res.Backfilled > 0) && e.synced != nil {
			e.synced(context.WithoutCancel(ctx), customerID, res)
		}
	}()

	agentIDs := e.agents.AgentIDs(ctx, customerID)
	if len(agentIDs) == 0 {
		log.Warn("no agents configured for customer; nothing to sync")
		run.Status = synclog.StatusSkipped
		return Result{}, nil
	}

	remote, err := e.source.ListCalls(ctx, apiKey, agentIDs, vapi.ListOptions{Limit: e.pageLimit})
	if err != nil {
		return Result{}, fmt.Errorf("callsync: fetch remote calls: %w", err)
	}
	if len(remote) == 0 {
		log.Warn("remote source returned no calls for the customer's assistants", "agents", len(agentIDs))
		run.Status = synclog.StatusSkipped
		return Result{}, nil
	}
	res.Synced = len(remote)

	relationMissing := false
	existing, err := e.store.Exists(ctx, customerID)
	switch {
	case errors.Is(err, calls.ErrRelationMissing):
		log.Warn("call_logs relation does not exist; treating every remote call as new")
		relationMissing = true
		existing = map[string]struct{}{}
	case err != nil:
		return Result{}, fmt.Errorf("callsync: load existing call ids: %w", err)
	}

	rows := make([]calls.CallLog, 0)
	byID := make(map[string]vapi.Call, len(remote))
	for _, c := range remote {
		byID[c.ID] = c
		if _, ok := existing[c.ID]; ok {
			continue
		}
		rows = append(rows, toCallLog(customerID, c))
	}

	if len(rows) > 0 {
		inserted, err = e.store.InsertBatch(ctx, rows)
		switch {
		case errors.Is(err, calls.ErrRelationMissing):
			relationMissing = true
		case err != nil:
			return Result{}, fmt.Errorf("callsync: insert call logs: %w", err)
		}
	}

	if relationMissing {
		log.Warn("call_logs relation does not exist; remote fetch succeeded but nothing was persisted", "synced", res.Synced, "new", len(rows))
		res.New = len(rows)
		res.Partial = true
		return res, nil
	}
	res.New = inserted

	// Backfill only sees rows committed above.
	res.Backfilled = e.backfill(ctx, log, customerID, byID)
	log.Info("call log sync finished", "synced", res.Synced, "new", res.New, "backfilled", res.Backfilled)
	return res, nil
}

// backfill derives durations for stored rows that have none, preferring the
// freshly fetched remote call and falling back to the stored artifact.
// Failures are logged and never fail the sync.
func (e *Engine) backfill(ctx context.Context, log *slog.Logger, customerID int64, remote map[string]vapi.Call) int {
	fixed := 0
	offset := 0
	for {
		batch, err := e.store.FindMissingDuration(ctx, customerID, offset, e.backfillBatch)
		if err != nil {
			if !errors.Is(err, calls.ErrRelationMissing) {
				log.Error("duration backfill stopped", "err", err, "fixed", fixed)
			}
			return fixed
		}
		if len(batch) == 0 {
			return fixed
		}

		// Fixed rows leave the null set, so the offset only moves past rows that stay null.
		unresolved := 0
		for _, row := range batch {
			d := e.durationFor(row, remote)
			if d == nil {
				unresolved++
				continue
			}
			if err := e.store.UpdateDuration(ctx, row.ID, *d); err != nil {
				log.Error("update duration failed", "remote_call_id", row.RemoteCallID, "err", err)
				unresolved++
				continue
			}
			fixed++
		}
		if len(batch) < e.backfillBatch {
			return fixed
		}
		offset += unresolved
	}
}

func (e *Engine) durationFor(row calls.CallLog, remote map[string]vapi.Call) *int {
	if c, ok := remote[row.RemoteCallID]; ok {
		if d := deriveDuration(callDurationInput(c)); d != nil {
			return d
		}
	}
	return deriveDuration(storedDurationInput(row))
}

// HasNewCalls compares the newest remote call from the past year with the newest
// stored row. When the comparison cannot be made it reports true so callers sync.
func (e *Engine) HasNewCalls(ctx context.Context, apiKey string, customerID int64) bool {
	log := e.log.With("customer_id", customerID)

	agentIDs := e.agents.AgentIDs(ctx, customerID)
	if len(agentIDs) == 0 {
		return false
	}

	y, m, d := e.now().UTC().AddDate(-hasNewCallsWindow, 0, 0).Date()
	after := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	remote, err := e.source.ListCalls(ctx, apiKey, agentIDs, vapi.ListOptions{Limit: hasNewCallsLimit, MaxPages: 1, CreatedAfter: &after})
	if err != nil {
		log.Error("check for new calls failed; assuming there are new calls", "err", err)
		return true
	}
	if len(remote) == 0 {
		return false
	}

	var newest time.Time
	for _, c := range remote {
		if ts := callTime(c); ts != nil && ts.After(newest) {
			newest = *ts
		}
	}

	latest, ok, err := e.store.Latest(ctx, customerID)
	switch {
	case errors.Is(err, calls.ErrRelationMissing):
		return true
	case err != nil:
		log.Error("read newest stored call failed; assuming there are new calls", "err", err)
		return true
	case !ok:
		return true
	}
	return newest.After(latest)
}

func callTime(c vapi.Call) *time.Time {
	if c.StartedAt != nil {
		return c.StartedAt
	}
	return c.CreatedAt
}

func (e *Engine) finish(ctx context.Context, log *slog.Logger, run synclog.Run, inserted int) {
	e.metrics.observe(run, inserted)
	if e.history == nil {
		return
	}
	// The request context may already be cancelled; history is still worth keeping.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.history.Record(hctx, run); err != nil {
		log.Error("record sync run failed", "err", err)
	}
}
