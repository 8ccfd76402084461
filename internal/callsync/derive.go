package callsync

import (
	"encoding/json"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"aurora-dashboard/internal/calls"
	"aurora-dashboard/internal/vapi"
)

const summaryMaxRunes = 200

// durationInput is what the duration extractors look at. It is built either
// from a freshly fetched remote call or from a stored row.
type durationInput struct {
	Reported *float64
	Start    *time.Time
	End      *time.Time
	Artifact json.RawMessage
}

// artifactFields are the artifact keys the extractors probe.
type artifactFields struct {
	EndedAt      string `json:"endedAt"`
	EndedAtSnake string `json:"ended_at"`
	RecordingURL string `json:"recordingUrl"`
	Recording    *struct {
		URL string `json:"url"`
	} `json:"recording"`
}

func parseArtifact(raw json.RawMessage) artifactFields {
	var a artifactFields
	if len(raw) == 0 {
		return a
	}
	_ = json.Unmarshal(raw, &a)
	return a
}

type durationExtractor func(durationInput) (int, bool)

var durationChain = []durationExtractor{
	reportedDuration,
	timestampDuration,
}

// deriveDuration returns the first duration an extractor yields.
func deriveDuration(in durationInput) *int {
	for _, extract := range durationChain {
		if d, ok := extract(in); ok {
			return &d
		}
	}
	return nil
}

func reportedDuration(in durationInput) (int, bool) {
	if in.Reported == nil || *in.Reported <= 0 {
		return 0, false
	}
	return int(math.Round(*in.Reported)), true
}

func timestampDuration(in durationInput) (int, bool) {
	if in.Start == nil {
		return 0, false
	}
	end := in.End
	if end == nil {
		end = artifactEnd(parseArtifact(in.Artifact))
	}
	if end == nil || !end.After(*in.Start) {
		return 0, false
	}
	secs := int(math.Round(end.Sub(*in.Start).Seconds()))
	return secs, secs > 0
}

func artifactEnd(a artifactFields) *time.Time {
	for _, raw := range []string{a.EndedAt, a.EndedAtSnake} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return &ts
		}
	}
	return nil
}

func callDurationInput(c vapi.Call) durationInput {
	return durationInput{Reported: c.Duration, Start: c.StartedAt, End: c.EndedAt, Artifact: c.Artifact}
}

func storedDurationInput(l calls.CallLog) durationInput {
	return durationInput{Start: l.StartedAt, Artifact: l.Artifact}
}

type stringExtractor func(vapi.Call) (string, bool)

var summaryChain = []stringExtractor{
	analysisSummary,
	lastMessageSummary,
}

var recordingChain = []stringExtractor{
	directRecordingURL,
	artifactRecordingURL,
	nestedRecordingURL,
}

func firstOf(chain []stringExtractor, c vapi.Call) *string {
	for _, extract := range chain {
		if s, ok := extract(c); ok {
			return &s
		}
	}
	return nil
}

func deriveSummary(c vapi.Call) *string      { return firstOf(summaryChain, c) }
func deriveRecordingURL(c vapi.Call) *string { return firstOf(recordingChain, c) }

func analysisSummary(c vapi.Call) (string, bool) {
	if c.Analysis == nil || strings.TrimSpace(c.Analysis.Summary) == "" {
		return "", false
	}
	return c.Analysis.Summary, true
}

func lastMessageSummary(c vapi.Call) (string, bool) {
	if len(c.Messages) == 0 {
		return "", false
	}
	text := c.Messages[len(c.Messages)-1].Text()
	if text == "" {
		return "", false
	}
	return truncate(text, summaryMaxRunes), true
}

func directRecordingURL(c vapi.Call) (string, bool) {
	return c.RecordingURL, c.RecordingURL != ""
}

func artifactRecordingURL(c vapi.Call) (string, bool) {
	u := parseArtifact(c.Artifact).RecordingURL
	return u, u != ""
}

func nestedRecordingURL(c vapi.Call) (string, bool) {
	rec := parseArtifact(c.Artifact).Recording
	if rec == nil || rec.URL == "" {
		return "", false
	}
	return rec.URL, true
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

// toCallLog maps a remote call to a new row. started_at falls back to the
// creation time so every row has a sortable start.
func toCallLog(customerID int64, c vapi.Call) calls.CallLog {
	row := calls.CallLog{
		RemoteCallID: c.ID,
		CustomerID:   customerID,
		Status:       c.Status,
		Type:         c.Type,
		StartedAt:    c.StartedAt,
		CreatedAt:    c.CreatedAt,
		Duration:     deriveDuration(callDurationInput(c)),
		Cost:         c.Cost,
		EndedReason:  c.EndedReason,
		Summary:      deriveSummary(c),
		RecordingURL: deriveRecordingURL(c),
		Transcript:   c.Transcript,
		Artifact:     c.Artifact,
		AssistantID:  c.AssistantID,
	}
	if row.StartedAt == nil {
		row.StartedAt = c.CreatedAt
	}
	if c.Customer != nil {
		row.CustomerNumber = c.Customer.Number
	}
	if len(c.Messages) > 0 {
		if raw, err := json.Marshal(c.Messages); err == nil {
			row.Messages = raw
		}
	}
	return row
}
