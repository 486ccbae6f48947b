// Package pkg holds the wire types shared across the assistant:
// conversation messages, evaluator verdicts and tool invocation records.
package pkg

import "time"

// ConversationMessage is a single entry in a session's history.
type ConversationMessage struct {
	SessionID  string           `json:"session_id"`
	Role       string           `json:"role"` // "user" or "assistant"
	Content    string           `json:"content"`
	Timestamp  time.Time        `json:"timestamp"`
	Customer   *CustomerLinkage `json:"customer,omitempty"`
	ToolsUsed  []string         `json:"tools_used,omitempty"`
	Evaluation *Verdict         `json:"evaluation,omitempty"`
}

// CustomerLinkage ties a message to the customer it discussed.
type CustomerLinkage struct {
	CustomerID     string  `json:"customer_id"`
	CustomerName   string  `json:"customer_name,omitempty"`
	Industry       string  `json:"industry,omitempty"`
	ChurnRiskScore float64 `json:"churn_risk_score,omitempty"`
	Topic          string  `json:"topic,omitempty"`
	Recommendation string  `json:"recommendation,omitempty"`
}

// Verdict is the evaluator's structured judgment of a recommendation.
type Verdict struct {
	Rating              int      `json:"rating"` // 1-10
	Pass                bool     `json:"pass"`
	Reasoning           string   `json:"reasoning"`
	Strengths           []string `json:"strengths,omitempty"`
	Weaknesses          []string `json:"weaknesses,omitempty"`
	Improvements        []string `json:"improvements,omitempty"`
	FinalRecommendation string   `json:"final_recommendation,omitempty"`

	// RawText keeps the evaluator's verbatim output so a failing verdict
	// can be replayed into the retry prompt even when structured parsing
	// only partially succeeded.
	RawText string `json:"raw_text,omitempty"`
}

// ToolEvent is the typed record of one tool invocation inside an agent run.
// Emitted at the call site by the orchestration callbacks, never inferred
// from the response afterwards.
type ToolEvent struct {
	Tool       string    `json:"tool"`
	ArgsJSON   string    `json:"args_json,omitempty"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// ChatResult is what one orchestrated turn returns to the caller.
type ChatResult struct {
	SessionID  string      `json:"session_id"`
	Reply      string      `json:"reply"`
	Attempts   int         `json:"attempts"`
	Verdict    *Verdict    `json:"verdict,omitempty"` // set when the evaluator reviewed the final answer
	ToolEvents []ToolEvent `json:"tool_events,omitempty"`
}
