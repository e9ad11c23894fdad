// Package market implements the information-asymmetry market simulation:
// LLM-backed agents trade named information pieces, complete tasks that
// require specific pieces, and earn penalty-adjusted revenue. The Manager
// advances discrete rounds and appends one event per state change to the
// event log.
package market

import "math/rand"

// Piece is a named, quality-scored, valued unit of information. Identity is
// the Name alone: two copies with the same name are the same piece for
// membership tests, which is what lets quality and value silently diverge
// between a sender's and a receiver's copy.
type Piece struct {
	Name    string `json:"name"`
	Quality int    `json:"quality"` // 0-100
	Value   int    `json:"value"`
}

// Task requires the submitting agent to hold every piece in RequiredInfo.
type Task struct {
	ID             string   `json:"id"`
	AgentID        string   `json:"agent_id"`
	Description    string   `json:"description"`
	RequiredInfo   []string `json:"required_info"`
	ExpectedAnswer string   `json:"expected_answer"`
}

// Message is one bus entry, direct or broadcast. Immutable once created.
type Message struct {
	ID        int    `json:"id"`
	Type      string `json:"type"` // "direct" | "broadcast"
	From      string `json:"from"`
	To        string `json:"to,omitempty"` // "all" for broadcasts
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

const (
	MessageDirect    = "direct"
	MessageBroadcast = "broadcast"
	BroadcastTo      = "all"

	// SystemSender marks synthetic in-band notifications (penalty breakdowns).
	SystemSender = "system"
)

// AgentKind selects the behavioral system prompt for an agent.
type AgentKind string

const (
	KindNeutral       AgentKind = "neutral"
	KindUncooperative AgentKind = "uncooperative"
)

// RoundContext carries the scheduler's per-round state down through calls so
// components stay testable in isolation. The RNG is the only randomness
// source the round consumes; a fixed seed reproduces a run exactly.
type RoundContext struct {
	Round int
	RNG   *rand.Rand
}

// Standing is one leaderboard row. Rank is 1-based; ties on Total are broken
// by agent ID ascending so the ordering is stable across runs.
type Standing struct {
	AgentID string `json:"agent_id"`
	Total   int    `json:"total"`
	Rank    int    `json:"rank"`
}
