package vapi

import (
	"encoding/json"
	"time"
)

// Call is one call record as returned by the voice platform.
// Artifact is kept raw: it is persisted as-is and probed later by extractors.
type Call struct {
	ID          string     `json:"id"`
	AssistantID string     `json:"assistantId,omitempty"`
	Type        string     `json:"type,omitempty"`
	Status      string     `json:"status,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`

	// Duration in seconds, when the platform reports it.
	Duration *float64 `json:"duration,omitempty"`
	Cost     *float64 `json:"cost,omitempty"`

	Customer     *CallCustomer   `json:"customer,omitempty"`
	EndedReason  string          `json:"endedReason,omitempty"`
	RecordingURL string          `json:"recordingUrl,omitempty"`
	Messages     []Message       `json:"messages,omitempty"`
	Transcript   json.RawMessage `json:"transcript,omitempty"`
	Analysis     *Analysis       `json:"analysis,omitempty"`
	Artifact     json.RawMessage `json:"artifact,omitempty"`
}

type CallCustomer struct {
	Number string `json:"number,omitempty"`
}

type Analysis struct {
	Summary string `json:"summary,omitempty"`
}

// Message is one conversational turn. Some payloads carry the text in
// "message" rather than "content".
type Message struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	Message   string     `json:"message,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// Text returns the message body regardless of which field carried it.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	return m.Message
}

type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Assistant is an assistant configuration.
type Assistant struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	FirstMessage string          `json:"firstMessage,omitempty"`
	Model        *AssistantModel `json:"model,omitempty"`
	Voice        json.RawMessage `json:"voice,omitempty"`
	CreatedAt    *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt    *time.Time      `json:"updatedAt,omitempty"`
}

type AssistantModel struct {
	Provider      string          `json:"provider,omitempty"`
	Model         string          `json:"model,omitempty"`
	SystemMessage string          `json:"systemMessage,omitempty"`
	Messages      []Message       `json:"messages,omitempty"`
	Tools         []AssistantTool `json:"tools,omitempty"`
}

type AssistantTool struct {
	Type     string          `json:"type,omitempty"`
	Function *ToolDefinition `json:"function,omitempty"`
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ListOptions filters a call listing.
type ListOptions struct {
	// Limit is the page size sent to the platform.
	Limit int
	// MaxPages caps the pages fetched per assistant below the client's own
	// cap. 1 fetches only the newest page.
	MaxPages      int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
