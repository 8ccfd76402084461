package calls

import "strings"

// TransferredReason is the exact ended reason recorded when the caller was handed off.
const TransferredReason = "customer-transferred-call"

// LiveStatuses are the statuses counted as live.
var LiveStatuses = []string{StatusInProgress, StatusRinging, StatusQueued}

// IsLive reports whether a call is currently ringing, queued or in progress.
func IsLive(status string) bool {
	for _, s := range LiveStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// IsTransferred reports whether the ended reason indicates a handoff to a human.
// Substring checks are case-insensitive to match the ILIKE used by the SQL counters.
func IsTransferred(endedReason string) bool {
	if endedReason == TransferredReason {
		return true
	}
	r := strings.ToLower(endedReason)
	return strings.Contains(r, "forward") || strings.Contains(r, "transfer")
}
