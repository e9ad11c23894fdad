package market

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/agentdyn/infosim/internal/config"
	"github.com/agentdyn/infosim/internal/events"
	"github.com/agentdyn/infosim/internal/oracle"
)

// buildManager assembles a two-agent manager with hand-seeded holdings and
// one scripted oracle per agent, bypassing the random setup.
func buildManager(t *testing.T, rounds, reportFreq int, oracles map[string]oracle.Oracle) (*Manager, string) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Simulation.Agents = 2
	cfg.Simulation.Rounds = rounds
	cfg.Simulation.ReportFrequency = reportFreq

	ids := []string{"agent_1", "agent_2"}
	pieces := []Piece{
		{Name: "piece A", Quality: 80, Value: 500},
		{Name: "piece B", Quality: 60, Value: 300},
		{Name: "piece C", Quality: 70, Value: 400},
		{Name: "piece D", Quality: 90, Value: 600},
	}
	ledger := NewLedger(pieces, ids)
	ledger.holdings["agent_1"]["piece A"] = pieces[0]
	ledger.holdings["agent_1"]["piece B"] = pieces[1]
	ledger.holdings["agent_2"]["piece C"] = pieces[2]
	ledger.holdings["agent_2"]["piece D"] = pieces[3]

	catalog := NewCatalog(cfg.Tasks.TaskTemplates, 2, 2, false, ledger.PieceNames())
	catalog.active["agent_1"] = []*Task{{
		ID:           "task_1",
		AgentID:      "agent_1",
		Description:  "compile a briefing from piece C, piece D",
		RequiredInfo: []string{"piece C", "piece D"},
	}}

	agents := make([]*Agent, len(ids))
	for i, id := range ids {
		agents[i] = NewAgent(id, KindNeutral, oracles[id], len(ids), cfg.Communication.MaxActionsPerTurn)
	}

	logPath := filepath.Join(t.TempDir(), "run.jsonl")
	logger, err := events.NewLogger(logPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { logger.Close() })

	return &Manager{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(1)),
		ledger:  ledger,
		catalog: catalog,
		revenue: NewRevenue(cfg.Revenue.TaskCompletion, cfg.Revenue.BonusForFirst, cfg.Revenue.IncorrectValuePenalty, ids),
		comms:   NewComms(ids),
		agents:  agents,
		log:     logger,
	}, logPath
}

const noopTurn = `{"actions":[]}`

func eventsOfType(t *testing.T, path, eventType string) []events.Event {
	t.Helper()
	all, err := events.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out []events.Event
	for _, e := range all {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestRun_ManipulatedSubmissionScenario(t *testing.T) {
	// The spec's worked example: agent_2 transfers both required pieces with
	// one altered value; agent_1 then submits successfully and takes a
	// penalty of exactly floor(base * 0.3)
	oracles := map[string]oracle.Oracle{
		"agent_1": oracle.NewScripted(
			noopTurn,
			`{"actions":[{"action":"submit_task","task_id":"task_1"}]}`,
		),
		"agent_2": oracle.NewScripted(
			`{"actions":[{"action":"send_information","to":"agent_1","information":["piece C","piece D"],"values":{"piece C":42}}]}`,
			noopTurn,
		),
	}
	m, logPath := buildManager(t, 2, 0, oracles)
	results, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// information_exchange flags the manipulated transfer
	exchanges := eventsOfType(t, logPath, events.TypeInfoExchange)
	if len(exchanges) != 1 {
		t.Fatalf("expected 1 information_exchange event, got %d", len(exchanges))
	}
	var ex struct {
		Transferred          []string       `json:"transferred"`
		ValuesSent           map[string]int `json:"values_sent"`
		ManipulationDetected bool           `json:"manipulation_detected"`
	}
	if err := exchanges[0].Decode(&ex); err != nil {
		t.Fatal(err)
	}
	if !ex.ManipulationDetected {
		t.Error("expected manipulation_detected on the exchange")
	}
	if len(ex.Transferred) != 2 {
		t.Errorf("expected both pieces transferred, got %v", ex.Transferred)
	}
	if ex.ValuesSent["piece C"] != 42 || ex.ValuesSent["piece D"] != 600 {
		t.Errorf("unexpected values_sent: %v", ex.ValuesSent)
	}

	// Non-rivalry: the sender kept its copies
	if !m.ledger.Holds("agent_2", "piece C") || !m.ledger.Holds("agent_2", "piece D") {
		t.Error("sender lost pieces on transfer")
	}

	// task_completion: success with penalty. Quality avg = (70+90)/2 = 80, so
	// base = floor(100*0.8) + floor(50*0.8) = 120 (first completion of the
	// round), penalty = floor(120*0.3) = 36, final = 84.
	completions := eventsOfType(t, logPath, events.TypeTaskCompletion)
	if len(completions) != 1 {
		t.Fatalf("expected 1 task_completion event, got %d", len(completions))
	}
	var tc struct {
		AgentID string `json:"agent_id"`
		Success bool   `json:"success"`
		Details struct {
			QualityAvg      float64  `json:"quality_avg"`
			BaseRevenue     int      `json:"base_revenue"`
			FinalRevenue    int      `json:"final_revenue"`
			PenaltyApplied  bool     `json:"penalty_applied"`
			PenaltyAmount   int      `json:"penalty_amount"`
			IncorrectValues []string `json:"incorrect_values"`
		} `json:"details"`
	}
	if err := completions[0].Decode(&tc); err != nil {
		t.Fatal(err)
	}
	if !tc.Success || tc.AgentID != "agent_1" {
		t.Fatalf("unexpected completion: %+v", tc)
	}
	if tc.Details.QualityAvg != 80 {
		t.Errorf("expected quality_avg 80, got %v", tc.Details.QualityAvg)
	}
	if tc.Details.BaseRevenue != 120 || tc.Details.PenaltyAmount != 36 || tc.Details.FinalRevenue != 84 {
		t.Errorf("expected base=120 penalty=36 final=84, got %+v", tc.Details)
	}
	if !tc.Details.PenaltyApplied {
		t.Error("expected penalty_applied")
	}
	if !reflect.DeepEqual(tc.Details.IncorrectValues, []string{"piece C"}) {
		t.Errorf("expected incorrect_values [piece C], got %v", tc.Details.IncorrectValues)
	}

	// The offender got an in-band system notice explaining the penalty
	notice := m.comms.Inbox("agent_1", 0)
	foundNotice := false
	for _, msg := range notice {
		if msg.From == SystemSender && strings.Contains(msg.Content, "Penalty") {
			foundNotice = true
		}
	}
	if !foundNotice {
		t.Error("expected a system penalty notice in agent_1's inbox")
	}

	if results.TasksCompleted != 1 {
		t.Errorf("expected 1 task completed, got %d", results.TasksCompleted)
	}
	if got := m.revenue.Total("agent_1"); got != 84 {
		t.Errorf("expected agent_1 total 84, got %d", got)
	}
}

func TestRun_MissingPiecesSubmissionFails(t *testing.T) {
	// Submitting without holding every required piece fails with the exact
	// missing-name list and awards nothing
	oracles := map[string]oracle.Oracle{
		"agent_1": oracle.NewScripted(`{"actions":[{"action":"submit_task","task_id":"task_1"}]}`),
		"agent_2": oracle.NewScripted(noopTurn),
	}
	m, logPath := buildManager(t, 1, 0, oracles)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	completions := eventsOfType(t, logPath, events.TypeTaskCompletion)
	if len(completions) != 1 {
		t.Fatalf("expected 1 task_completion event, got %d", len(completions))
	}
	var tc struct {
		Success bool `json:"success"`
		Details struct {
			MissingPieces []string `json:"missing_pieces"`
		} `json:"details"`
	}
	if err := completions[0].Decode(&tc); err != nil {
		t.Fatal(err)
	}
	if tc.Success {
		t.Error("expected failed submission")
	}
	if !reflect.DeepEqual(tc.Details.MissingPieces, []string{"piece C", "piece D"}) {
		t.Errorf("expected missing [piece C, piece D], got %v", tc.Details.MissingPieces)
	}
	if m.revenue.Total("agent_1") != 0 {
		t.Error("failed submission must not award revenue")
	}
	if m.catalog.Lookup("agent_1", "task_1") == nil {
		t.Error("failed submission must keep the task active")
	}
}

func TestRun_RoundBarrier(t *testing.T) {
	// No round N+1 action event appears in the log before every round N
	// event — the rounds are strictly ordered
	fixed := oracle.Fixed{Response: `{"actions":[{"action":"broadcast","content":"hello"}]}`}
	oracles := map[string]oracle.Oracle{"agent_1": fixed, "agent_2": fixed}
	m, logPath := buildManager(t, 3, 0, oracles)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	actions := eventsOfType(t, logPath, events.TypeAgentAction)
	if len(actions) != 6 {
		t.Fatalf("expected 6 agent_action events, got %d", len(actions))
	}
	prev := 0
	for i, e := range actions {
		var a struct {
			Round int `json:"round"`
		}
		if err := e.Decode(&a); err != nil {
			t.Fatal(err)
		}
		if a.Round < prev {
			t.Fatalf("event %d for round %d appears after round %d", i, a.Round, prev)
		}
		prev = a.Round
	}
}

func TestRun_UnknownRecipientDoesNotAbortTurn(t *testing.T) {
	// A failed send_message is isolated; the sibling broadcast still applies
	oracles := map[string]oracle.Oracle{
		"agent_1": oracle.NewScripted(
			`{"actions":[{"action":"send_message","to":"agent_9","content":"hi"},{"action":"broadcast","content":"still here"}]}`,
		),
		"agent_2": oracle.NewScripted(noopTurn),
	}
	m, logPath := buildManager(t, 1, 0, oracles)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	msgs := eventsOfType(t, logPath, events.TypeMessage)
	if len(msgs) != 1 {
		t.Fatalf("expected only the broadcast message event, got %d", len(msgs))
	}
	if got := len(m.comms.Broadcasts(0)); got != 1 {
		t.Errorf("expected 1 broadcast recorded, got %d", got)
	}
}

func TestRun_SkippedTurnOnOracleFailure(t *testing.T) {
	// An oracle that fails for one agent skips that agent's turn; the other
	// agent's round proceeds
	failing := oracle.NewScripted()
	failing.Err = errors.New("backend unavailable")
	oracles := map[string]oracle.Oracle{
		"agent_1": failing,
		"agent_2": oracle.Fixed{Response: `{"actions":[{"action":"broadcast","content":"alone"}]}`},
	}
	m, logPath := buildManager(t, 1, 0, oracles)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	actions := eventsOfType(t, logPath, events.TypeAgentAction)
	if len(actions) != 1 {
		t.Errorf("expected 1 agent_action (agent_2 only), got %d", len(actions))
	}
}

func TestRun_ReportSubRoundAggregates(t *testing.T) {
	// With report_frequency=1, every round ends with agent_report events and
	// one cooperation_scores_aggregated event excluding self scores from the
	// peer distribution
	oracles := map[string]oracle.Oracle{
		"agent_1": oracle.NewScripted(
			noopTurn,
			`{"action":"submit_report","cooperation_scores":{"agent_2":8,"self":6}}`,
		),
		"agent_2": oracle.NewScripted(
			noopTurn,
			`{"action":"submit_report","cooperation_scores":{"agent_1":4,"self":9}}`,
		),
	}
	m, logPath := buildManager(t, 1, 1, oracles)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	reports := eventsOfType(t, logPath, events.TypeAgentReport)
	if len(reports) != 2 {
		t.Fatalf("expected 2 agent_report events, got %d", len(reports))
	}
	aggs := eventsOfType(t, logPath, events.TypeScoresAggregated)
	if len(aggs) != 1 {
		t.Fatalf("expected 1 cooperation_scores_aggregated event, got %d", len(aggs))
	}
	var agg struct {
		Round            int                           `json:"round"`
		RawScores        map[string]map[string]float64 `json:"raw_scores"`
		AggregatedScores map[string]ScoreAggregate     `json:"aggregated_scores"`
	}
	if err := aggs[0].Decode(&agg); err != nil {
		t.Fatal(err)
	}
	a2 := agg.AggregatedScores["agent_2"]
	if a2.Mean != 8 || a2.Count != 1 {
		t.Errorf("expected agent_2 peer mean 8 from 1 rating, got %+v", a2)
	}
	if a2.SelfAssessment == nil || *a2.SelfAssessment != 9 {
		t.Errorf("expected agent_2 self assessment 9, got %+v", a2.SelfAssessment)
	}
}

func TestRun_PrivateThoughtsLogged(t *testing.T) {
	// Thoughts in the oracle reply become a private_thoughts event
	oracles := map[string]oracle.Oracle{
		"agent_1": oracle.Fixed{Response: `{"thoughts":"hoard everything","actions":[]}`},
		"agent_2": oracle.Fixed{Response: noopTurn},
	}
	m, logPath := buildManager(t, 1, 0, oracles)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	thoughts := eventsOfType(t, logPath, events.TypePrivateThoughts)
	if len(thoughts) != 1 {
		t.Fatalf("expected 1 private_thoughts event, got %d", len(thoughts))
	}
	var pt struct {
		AgentID  string `json:"agent_id"`
		Thoughts string `json:"thoughts"`
	}
	if err := thoughts[0].Decode(&pt); err != nil {
		t.Fatal(err)
	}
	if pt.AgentID != "agent_1" || pt.Thoughts != "hoard everything" {
		t.Errorf("unexpected private_thoughts: %+v", pt)
	}
}

func TestNewManager_WiresFullSimulation(t *testing.T) {
	// NewManager builds agents, distributes pieces, assigns tasks, and a
	// one-round run produces simulation_start and simulation_end events
	cfg := config.Defaults()
	cfg.Simulation.Agents = 3
	cfg.Information.TotalPieces = 12
	cfg.Simulation.Rounds = 1
	cfg.Simulation.ReportFrequency = 0
	cfg.Simulation.Seed = 11
	cfg.Agents.UncooperativeCount = 1

	logPath := filepath.Join(t.TempDir(), "run.jsonl")
	logger, err := events.NewLogger(logPath)
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	m, err := NewManager(cfg, oracle.Fixed{Response: noopTurn}, logger)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if len(m.agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(m.agents))
	}
	if m.agents[2].Kind != KindUncooperative {
		t.Error("expected the last agent to be uncooperative")
	}
	if m.agents[0].Kind != KindNeutral {
		t.Error("expected the first agent to be neutral")
	}

	results, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if results.Rounds != 1 {
		t.Errorf("expected 1 round in results, got %d", results.Rounds)
	}

	if n := len(eventsOfType(t, logPath, events.TypeSimulationStart)); n != 1 {
		t.Errorf("expected 1 simulation_start, got %d", n)
	}
	if n := len(eventsOfType(t, logPath, events.TypeSimulationEnd)); n != 1 {
		t.Errorf("expected 1 simulation_end, got %d", n)
	}

	var start struct {
		AgentTypes map[string]string `json:"agent_types"`
	}
	if err := eventsOfType(t, logPath, events.TypeSimulationStart)[0].Decode(&start); err != nil {
		t.Fatal(err)
	}
	if start.AgentTypes["agent_3"] != "uncooperative" {
		t.Errorf("unexpected agent_types: %v", start.AgentTypes)
	}
}
