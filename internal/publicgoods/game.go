// Package publicgoods runs a classic public-goods game over oracle-backed
// players: each round every player privately decides how many tokens to
// contribute to a shared pool, the pool is multiplied and split equally, and
// kept tokens stay private. Free-riding is individually rational; the event
// log preserves who defected.
package publicgoods

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentdyn/infosim/internal/config"
	"github.com/agentdyn/infosim/internal/events"
	"github.com/agentdyn/infosim/internal/oracle"
)

const decisionPrompt = `You are %s, one of %d players in a repeated public-goods game.
Each round you receive %d tokens. You contribute any whole number of them (0 to %d) to a
shared pool; tokens you keep are yours. The pool is multiplied by %.2f and split equally
among all players regardless of contribution.

Respond with only a JSON object:
{"thoughts": "<your private reasoning>", "contribution": <integer>}`

var decisionSchema = jsonschema.MustCompileString("decision.json", `{
	"type": "object",
	"required": ["contribution"],
	"properties": {
		"thoughts": {"type": "string"},
		"contribution": {"type": "integer", "minimum": 0}
	}
}`)

// Player is one oracle-backed participant.
type Player struct {
	ID      string
	oracle  oracle.Oracle
	Balance float64
}

// Game owns the shared pool state. Decisions are gathered in parallel (one
// goroutine per player, no shared mutation during the calls) and applied only
// after every call has returned, so rounds keep serialized-mutation semantics.
type Game struct {
	cfg     config.Config
	players []*Player
	log     *events.Logger

	history []RoundResult
}

// RoundResult is the public outcome of one round.
type RoundResult struct {
	Round         int                `json:"round"`
	Contributions map[string]int     `json:"contributions"`
	Pool          int                `json:"pool"`
	Share         float64            `json:"share"`
	Balances      map[string]float64 `json:"balances"`
}

// Results summarizes a finished game.
type Results struct {
	Rounds        int                `json:"rounds"`
	FinalBalances map[string]float64 `json:"final_balances"`
	TotalPool     int                `json:"total_pool"`
}

// New builds a game with player_1..N, all backed by the same oracle. Only
// the config sections the game reads are checked; the market's information
// settings do not gate a public-goods run.
func New(cfg config.Config, o oracle.Oracle, logger *events.Logger) (*Game, error) {
	if cfg.Simulation.Agents < 2 {
		return nil, fmt.Errorf("publicgoods: need at least 2 players, got %d", cfg.Simulation.Agents)
	}
	if cfg.Simulation.Rounds < 1 {
		return nil, fmt.Errorf("publicgoods: rounds must be >= 1, got %d", cfg.Simulation.Rounds)
	}
	if cfg.PublicGoods.Endowment < 1 {
		return nil, fmt.Errorf("publicgoods: endowment must be >= 1, got %d", cfg.PublicGoods.Endowment)
	}
	if cfg.PublicGoods.Multiplier <= 1 {
		return nil, fmt.Errorf("publicgoods: multiplier must exceed 1, got %v", cfg.PublicGoods.Multiplier)
	}
	players := make([]*Player, cfg.Simulation.Agents)
	for i := range players {
		players[i] = &Player{ID: fmt.Sprintf("player_%d", i+1), oracle: o}
	}
	return &Game{cfg: cfg, players: players, log: logger}, nil
}

// Run plays the configured number of rounds and returns final balances.
func (g *Game) Run(ctx context.Context) (*Results, error) {
	names := make([]string, len(g.players))
	for i, p := range g.players {
		names[i] = p.ID
	}
	g.log.Log(events.TypeSimulationStart, map[string]any{
		"game":       "public_goods",
		"players":    names,
		"endowment":  g.cfg.PublicGoods.Endowment,
		"multiplier": g.cfg.PublicGoods.Multiplier,
		"rounds":     g.cfg.Simulation.Rounds,
	})

	totalPool := 0
	for round := 1; round <= g.cfg.Simulation.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("publicgoods: run aborted in round %d: %w", round, err)
		}
		res := g.playRound(ctx, round)
		totalPool += res.Pool
		g.history = append(g.history, res)
		g.log.Log(events.TypeRoundResult, res)
	}

	results := &Results{
		Rounds:        g.cfg.Simulation.Rounds,
		FinalBalances: g.balances(),
		TotalPool:     totalPool,
	}
	g.log.Log(events.TypeSimulationEnd, results)
	return results, nil
}

type decision struct {
	player       string
	contribution int
	thoughts     string
	err          error
}

// playRound gathers every player's contribution in parallel, then applies the
// pool split after the barrier. A failed or unparseable decision contributes
// zero — the round never blocks on one player.
func (g *Game) playRound(ctx context.Context, round int) RoundResult {
	results := make(chan decision, len(g.players))
	var wg sync.WaitGroup
	for _, p := range g.players {
		wg.Add(1)
		go func(p *Player) {
			defer wg.Done()
			amount, thoughts, err := g.decide(ctx, p, round)
			results <- decision{player: p.ID, contribution: amount, thoughts: thoughts, err: err}
		}(p)
	}
	wg.Wait()
	close(results)

	contributions := make(map[string]int, len(g.players))
	thoughtsByPlayer := make(map[string]string)
	pool := 0
	for d := range results {
		if d.err != nil {
			log.Printf("[PGG] round %d: %s decision failed, contributing 0: %v", round, d.player, d.err)
			contributions[d.player] = 0
			continue
		}
		contributions[d.player] = d.contribution
		pool += d.contribution
		if d.thoughts != "" {
			thoughtsByPlayer[d.player] = d.thoughts
		}
	}

	// Apply phase: all mutation happens here, on the caller's goroutine.
	share := float64(pool) * g.cfg.PublicGoods.Multiplier / float64(len(g.players))
	for _, p := range g.players {
		p.Balance += float64(g.cfg.PublicGoods.Endowment-contributions[p.ID]) + share
	}

	for _, id := range sortedPlayerIDs(contributions) {
		g.log.Log(events.TypeContribution, map[string]any{
			"round":     round,
			"player_id": id,
			"amount":    contributions[id],
		})
		if t, ok := thoughtsByPlayer[id]; ok {
			g.log.Log(events.TypePrivateThoughts, map[string]any{
				"round":    round,
				"agent_id": id,
				"thoughts": t,
				"context":  "contribution",
			})
		}
	}

	return RoundResult{
		Round:         round,
		Contributions: contributions,
		Pool:          pool,
		Share:         share,
		Balances:      g.balances(),
	}
}

// decide makes one oracle call and parses the contribution, clamped to the
// endowment.
func (g *Game) decide(ctx context.Context, p *Player, round int) (int, string, error) {
	e := g.cfg.PublicGoods.Endowment
	system := fmt.Sprintf(decisionPrompt, p.ID, len(g.players), e, e, g.cfg.PublicGoods.Multiplier)
	raw, _, err := p.oracle.Complete(ctx, system, g.renderState(p, round))
	if err != nil {
		return 0, "", err
	}
	amount, thoughts, err := parseDecision(raw)
	if err != nil {
		return 0, "", err
	}
	if amount > e {
		log.Printf("[PGG] %s tried to contribute %d of %d, clamping", p.ID, amount, e)
		amount = e
	}
	return amount, thoughts, nil
}

func (g *Game) renderState(p *Player, round int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ROUND %d of %d\nYour balance: %.1f tokens\n", round, g.cfg.Simulation.Rounds, p.Balance)
	if len(g.history) > 0 {
		last := g.history[len(g.history)-1]
		fmt.Fprintf(&sb, "\nLAST ROUND\npool: %d, share paid to each player: %.2f\ncontributions:\n", last.Pool, last.Share)
		for _, id := range sortedPlayerIDs(last.Contributions) {
			fmt.Fprintf(&sb, "- %s: %d\n", id, last.Contributions[id])
		}
	} else {
		sb.WriteString("\nThis is the first round; no history yet.\n")
	}
	return sb.String()
}

// parseDecision validates the oracle reply against the decision schema. Like
// the market's action parser it tolerates fences and surrounding prose.
func parseDecision(raw string) (int, string, error) {
	text := oracle.StripFences(raw)
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		span := oracle.ExtractJSON(text)
		if span == "" {
			return 0, "", fmt.Errorf("publicgoods: no JSON object in oracle reply")
		}
		if err := json.Unmarshal([]byte(span), &doc); err != nil {
			return 0, "", fmt.Errorf("publicgoods: malformed decision: %w", err)
		}
	}
	if err := decisionSchema.Validate(doc); err != nil {
		return 0, "", fmt.Errorf("publicgoods: invalid decision: %w", err)
	}
	obj := doc.(map[string]any)
	amount := int(obj["contribution"].(float64))
	thoughts, _ := obj["thoughts"].(string)
	return amount, thoughts, nil
}

func (g *Game) balances() map[string]float64 {
	out := make(map[string]float64, len(g.players))
	for _, p := range g.players {
		out[p.ID] = p.Balance
	}
	return out
}

func sortedPlayerIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
