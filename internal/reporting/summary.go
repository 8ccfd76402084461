package reporting

import (
	"aurora-dashboard/internal/calls"
	"aurora-dashboard/internal/vapi"
)

// Summarize totals remote calls as fetched from the voice platform, including
// cost, which the local stats do not carry.
func Summarize(remote []vapi.Call) CallsSummary {
	var out CallsSummary
	seconds := 0.0
	for _, c := range remote {
		out.TotalCalls++
		if calls.IsLive(c.Status) {
			out.Live++
		}
		if c.Status == calls.StatusEnded {
			out.Ended++
		}
		if calls.IsTransferred(c.EndedReason) {
			out.Transferred++
		}
		if c.Cost != nil {
			out.TotalCost += *c.Cost
		}
		if c.RecordingURL != "" {
			out.Recorded++
		}
		switch {
		case c.Duration != nil && *c.Duration > 0:
			seconds += *c.Duration
		case c.StartedAt != nil && c.EndedAt != nil && c.EndedAt.After(*c.StartedAt):
			seconds += c.EndedAt.Sub(*c.StartedAt).Seconds()
		}
	}
	out.TotalCost = round2(out.TotalCost)
	out.TotalMinutes = round2(seconds / 60)
	return out
}
