package publicgoods

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/agentdyn/infosim/internal/config"
	"github.com/agentdyn/infosim/internal/events"
	"github.com/agentdyn/infosim/internal/oracle"
)

func gameConfig(players, rounds, endowment int, multiplier float64) config.Config {
	cfg := config.Defaults()
	cfg.Simulation.Agents = players
	cfg.Simulation.Rounds = rounds
	cfg.PublicGoods.Endowment = endowment
	cfg.PublicGoods.Multiplier = multiplier
	return cfg
}

func testGame(t *testing.T, cfg config.Config, oracles map[string]oracle.Oracle) (*Game, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "run.jsonl")
	logger, err := events.NewLogger(logPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { logger.Close() })

	players := make([]*Player, 0, len(oracles))
	for i := 1; i <= len(oracles); i++ {
		id := fmt.Sprintf("player_%d", i)
		players = append(players, &Player{ID: id, oracle: oracles[id]})
	}
	return &Game{cfg: cfg, players: players, log: logger}, logPath
}

// TestRun_PoolSplit checks the core arithmetic: with endowment 10 and
// multiplier 2, a full contributor and a free rider each receive a share of
// 10, so the free rider ends the round ahead.
func TestRun_PoolSplit(t *testing.T) {
	g, _ := testGame(t, gameConfig(2, 1, 10, 2.0), map[string]oracle.Oracle{
		"player_1": oracle.Fixed{Response: `{"contribution": 10}`},
		"player_2": oracle.Fixed{Response: `{"contribution": 0}`},
	})
	results, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if results.TotalPool != 10 {
		t.Errorf("expected total pool 10, got %d", results.TotalPool)
	}
	if got := results.FinalBalances["player_1"]; got != 10 {
		t.Errorf("expected contributor balance 10, got %v", got)
	}
	if got := results.FinalBalances["player_2"]; got != 20 {
		t.Errorf("expected free-rider balance 20, got %v", got)
	}
}

// TestRun_BalancesAccumulate plays two rounds and checks balances carry over.
func TestRun_BalancesAccumulate(t *testing.T) {
	g, _ := testGame(t, gameConfig(2, 2, 10, 2.0), map[string]oracle.Oracle{
		"player_1": oracle.Fixed{Response: `{"contribution": 5}`},
		"player_2": oracle.Fixed{Response: `{"contribution": 5}`},
	})
	results, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// Per round: keep 5, share = 10*2/2 = 10, so +15 each.
	for _, id := range []string{"player_1", "player_2"} {
		if got := results.FinalBalances[id]; got != 30 {
			t.Errorf("expected %s balance 30 after 2 rounds, got %v", id, got)
		}
	}
}

// TestRun_FailedDecisionContributesZero isolates one failing oracle: the
// round completes and the failed player contributes nothing.
func TestRun_FailedDecisionContributesZero(t *testing.T) {
	failing := oracle.NewScripted()
	failing.Err = errors.New("backend unavailable")
	g, _ := testGame(t, gameConfig(2, 1, 10, 2.0), map[string]oracle.Oracle{
		"player_1": failing,
		"player_2": oracle.Fixed{Response: `{"contribution": 10}`},
	})
	results, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if results.TotalPool != 10 {
		t.Errorf("expected pool 10 from the one working player, got %d", results.TotalPool)
	}
	// player_1 keeps its full endowment plus the share.
	if got := results.FinalBalances["player_1"]; got != 20 {
		t.Errorf("expected failed player balance 20, got %v", got)
	}
}

// TestRun_OverEndowmentClamped clamps a contribution above the endowment.
func TestRun_OverEndowmentClamped(t *testing.T) {
	g, _ := testGame(t, gameConfig(2, 1, 10, 2.0), map[string]oracle.Oracle{
		"player_1": oracle.Fixed{Response: `{"contribution": 999}`},
		"player_2": oracle.Fixed{Response: `{"contribution": 0}`},
	})
	results, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if results.TotalPool != 10 {
		t.Errorf("expected clamped pool 10, got %d", results.TotalPool)
	}
}

// TestRun_EventLog checks the per-round events: one contribution event per
// player per round, one round_result per round, plus the start/end envelope.
func TestRun_EventLog(t *testing.T) {
	g, logPath := testGame(t, gameConfig(2, 2, 10, 2.0), map[string]oracle.Oracle{
		"player_1": oracle.Fixed{Response: `{"thoughts":"cooperate for now","contribution": 5}`},
		"player_2": oracle.Fixed{Response: `{"contribution": 5}`},
	})
	if _, err := g.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	all, err := events.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	counts := map[string]int{}
	for _, e := range all {
		counts[e.EventType]++
	}
	if counts[events.TypeSimulationStart] != 1 || counts[events.TypeSimulationEnd] != 1 {
		t.Errorf("expected one start and one end event, got %v", counts)
	}
	if counts[events.TypeContribution] != 4 {
		t.Errorf("expected 4 contribution events, got %d", counts[events.TypeContribution])
	}
	if counts[events.TypeRoundResult] != 2 {
		t.Errorf("expected 2 round_result events, got %d", counts[events.TypeRoundResult])
	}
	if counts[events.TypePrivateThoughts] != 2 {
		t.Errorf("expected 2 private_thoughts events (player_1 only), got %d", counts[events.TypePrivateThoughts])
	}

	var firstResult struct {
		Round int `json:"round"`
		Pool  int `json:"pool"`
	}
	for _, e := range all {
		if e.EventType == events.TypeRoundResult {
			if err := e.Decode(&firstResult); err != nil {
				t.Fatal(err)
			}
			break
		}
	}
	if firstResult.Round != 1 || firstResult.Pool != 10 {
		t.Errorf("unexpected first round_result: %+v", firstResult)
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{"bare object", `{"contribution": 7}`, 7, false},
		{"with thoughts", `{"thoughts": "keep some back", "contribution": 3}`, 3, false},
		{"fenced", "```json\n{\"contribution\": 4}\n```", 4, false},
		{"surrounding prose", `Sure! Here is my decision: {"contribution": 2} Hope that helps.`, 2, false},
		{"negative rejected", `{"contribution": -5}`, 0, true},
		{"non-integer rejected", `{"contribution": 2.5}`, 0, true},
		{"missing field", `{"thoughts": "hmm"}`, 0, true},
		{"no json", `I contribute ten tokens`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := parseDecision(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got contribution %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected contribution %d, got %d", tt.want, got)
			}
		})
	}
}

func TestNew_RejectsBadParameters(t *testing.T) {
	logger, err := events.NewLogger(filepath.Join(t.TempDir(), "run.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	cfg := gameConfig(1, 1, 10, 2.0)
	if _, err := New(cfg, oracle.Fixed{}, logger); err == nil {
		t.Error("expected error for a single player")
	}
	cfg = gameConfig(2, 0, 10, 2.0)
	if _, err := New(cfg, oracle.Fixed{}, logger); err == nil {
		t.Error("expected error for zero rounds")
	}
	cfg = gameConfig(2, 1, 0, 2.0)
	if _, err := New(cfg, oracle.Fixed{}, logger); err == nil {
		t.Error("expected error for zero endowment")
	}
	cfg = gameConfig(2, 1, 10, 1.0)
	if _, err := New(cfg, oracle.Fixed{}, logger); err == nil {
		t.Error("expected error for multiplier <= 1")
	}
	cfg = gameConfig(3, 1, 10, 2.0)
	g, err := New(cfg, oracle.Fixed{}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.players) != 3 || g.players[2].ID != "player_3" {
		t.Errorf("unexpected players: %+v", g.players)
	}
}
