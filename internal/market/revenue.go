package market

import (
	"math"
	"sort"
)

// Revenue accumulates per-agent score. Totals only change through Award and
// Penalize; the leaderboard is derived by sorting the live totals at read
// time, never persisted.
type Revenue struct {
	basePoints  int
	bonusPoints int
	penaltyRate float64

	totals             map[string]int
	completionsInRound map[int]int
	records            []CompletionRecord
}

// CompletionRecord is one successful task completion, kept for the final
// results summary.
type CompletionRecord struct {
	AgentID string  `json:"agent_id"`
	TaskID  string  `json:"task_id"`
	Round   int     `json:"round"`
	Points  int     `json:"points"`
	First   bool    `json:"first_in_round"`
	Quality float64 `json:"quality_avg"`
}

// NewRevenue creates a revenue ledger. penaltyRate is the fraction of base
// revenue deducted when a submission contains tampered values.
func NewRevenue(basePoints, bonusPoints int, penaltyRate float64, agentIDs []string) *Revenue {
	totals := make(map[string]int, len(agentIDs))
	for _, id := range agentIDs {
		totals[id] = 0
	}
	return &Revenue{
		basePoints:         basePoints,
		bonusPoints:        bonusPoints,
		penaltyRate:        penaltyRate,
		totals:             totals,
		completionsInRound: make(map[int]int),
	}
}

// Award credits a completion. Base points scale with qualityAvg/100; the
// first completion recorded in a round, across all agents, additionally earns
// the quality-scaled first-mover bonus. Returns the points credited and
// whether this completion was the round's first.
func (r *Revenue) Award(agent, taskID string, round int, qualityAvg float64) (int, bool) {
	scale := qualityAvg / 100
	points := int(math.Floor(float64(r.basePoints) * scale))
	first := r.completionsInRound[round] == 0
	if first {
		points += int(math.Floor(float64(r.bonusPoints) * scale))
	}
	r.completionsInRound[round]++
	r.totals[agent] += points
	r.records = append(r.records, CompletionRecord{
		AgentID: agent,
		TaskID:  taskID,
		Round:   round,
		Points:  points,
		First:   first,
		Quality: qualityAvg,
	})
	return points, first
}

// PenaltyFor computes the penalty for a tampered submission: the configured
// fraction of the base revenue just awarded, floored.
func (r *Revenue) PenaltyFor(baseRevenue int) int {
	return int(math.Floor(float64(baseRevenue) * r.penaltyRate))
}

// Penalize deducts amount from the agent's total, clamping at zero so a
// penalty can never drive a total negative.
func (r *Revenue) Penalize(agent string, amount int) {
	r.totals[agent] -= amount
	if r.totals[agent] < 0 {
		r.totals[agent] = 0
	}
}

// Total returns the agent's running total.
func (r *Revenue) Total(agent string) int {
	return r.totals[agent]
}

// Totals returns a copy of every agent's running total.
func (r *Revenue) Totals() map[string]int {
	out := make(map[string]int, len(r.totals))
	for k, v := range r.totals {
		out[k] = v
	}
	return out
}

// Leaderboard ranks agents by total descending, ties broken by agent ID
// ascending. Rank is 1-based; agents with equal totals share neither rank
// nor position — the ordering is total, then ID.
func (r *Revenue) Leaderboard() []Standing {
	out := make([]Standing, 0, len(r.totals))
	for id, total := range r.totals {
		out = append(out, Standing{AgentID: id, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].AgentID < out[j].AgentID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// Completions returns the recorded completions in award order.
func (r *Revenue) Completions() []CompletionRecord {
	out := make([]CompletionRecord, len(r.records))
	copy(out, r.records)
	return out
}
