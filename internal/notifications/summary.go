package notifications

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DefaultSummary is shown when no extractor finds anything in a payload.
const DefaultSummary = "New incoming call - summary unavailable"

type extractor func(obj map[string]any) (string, bool)

// summaryChain is tried in order; the first hit wins.
var summaryChain = []extractor{
	field("summary"),
	field("call_summary"),
	field("callSummary"),
	field("message", "summary"),
	field("artifact", "summary"),
	field("data", "summary"),
	field("analysis", "summary"),
	field("message", "analysis", "summary"),
	lastMessage("message", "artifact", "messages"),
	lastMessage("messages"),
	field("message"),
	field("content"),
	field("text"),
	prefixed("Action: ", "action"),
	prefixed("Reason: ", "reason"),
	prefixed("Customer requested: ", "customer_request"),
}

// Summary extracts a human readable line from an opaque webhook payload.
// A plain (or JSON string) payload is returned trimmed.
func Summary(payload json.RawMessage) string {
	v, ok := decodePayload(payload)
	if !ok {
		return DefaultSummary
	}
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return s
		}
	case map[string]any:
		for _, ex := range summaryChain {
			if s, ok := ex(x); ok {
				return s
			}
		}
	}
	return DefaultSummary
}

func decodePayload(payload json.RawMessage) (any, bool) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		// Not JSON at all: treat the raw bytes as the text.
		return string(payload), true
	}
	return v, v != nil
}

func lookup(obj map[string]any, path []string) (any, bool) {
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// scalar renders truthy scalars; objects, arrays and empty values are misses.
func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case json.Number:
		return x.String(), x.String() != "0"
	case bool:
		return "true", x
	default:
		return "", false
	}
}

func field(path ...string) extractor {
	return func(obj map[string]any) (string, bool) {
		v, ok := lookup(obj, path)
		if !ok {
			return "", false
		}
		return scalar(v)
	}
}

func lastMessage(path ...string) extractor {
	return func(obj map[string]any) (string, bool) {
		v, ok := lookup(obj, path)
		if !ok {
			return "", false
		}
		msgs, ok := v.([]any)
		if !ok || len(msgs) == 0 {
			return "", false
		}
		last, ok := msgs[len(msgs)-1].(map[string]any)
		if !ok {
			return "", false
		}
		if s, ok := scalar(last["message"]); ok {
			return s, true
		}
		return scalar(last["content"])
	}
}

func prefixed(prefix, key string) extractor {
	return func(obj map[string]any) (string, bool) {
		s, ok := scalar(obj[key])
		if !ok {
			return "", false
		}
		return prefix + s, true
	}
}
