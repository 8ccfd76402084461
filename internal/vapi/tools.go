package vapi

import (
	"bytes"
	"encoding/json"
)

// ToolInvocation is a tool call observed during a conversation.
type ToolInvocation struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Source    string `json:"source"`
}

// ToolCalls collects tool invocations from the message log and, when it is
// structured, the transcript.
func ToolCalls(call Call) []ToolInvocation {
	var out []ToolInvocation
	out = appendToolCalls(out, call.Messages, "messages")
	out = appendToolCalls(out, TranscriptMessages(call), "transcript")
	return out
}

// TranscriptMessages decodes the transcript when it is a message array.
// Plain-text transcripts yield nil.
func TranscriptMessages(call Call) []Message {
	raw := bytes.TrimSpace(call.Transcript)
	if len(raw) == 0 || raw[0] != '[' {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil
	}
	return msgs
}

func appendToolCalls(out []ToolInvocation, msgs []Message, source string) []ToolInvocation {
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			out = append(out, ToolInvocation{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
				Source:    source,
			})
		}
	}
	return out
}
