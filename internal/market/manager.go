package market

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/agentdyn/infosim/internal/config"
	"github.com/agentdyn/infosim/internal/events"
	"github.com/agentdyn/infosim/internal/oracle"
)

const (
	recentInboxLimit     = 12
	recentBroadcastLimit = 12
)

// Manager orchestrates the round loop: it builds each agent's visible state,
// iterates agents in per-round randomized order, dispatches every returned
// action to the right ledger or bus mutation, runs the periodic report
// sub-round, and emits one event per state change.
//
// All mutations happen on the single goroutine that calls Run, so the ledger,
// revenue, and bus need no locks. Within a round, an earlier agent's effects
// are visible to later agents — intentional information-timing asymmetry, not
// a race. Across rounds there is a strict barrier.
type Manager struct {
	cfg     config.Config
	rng     *rand.Rand
	ledger  *Ledger
	catalog *Catalog
	revenue *Revenue
	comms   *Comms
	agents  []*Agent
	log     *events.Logger

	tasksCompleted int

	// OnRoundEnd, when set, receives a summary after every completed round.
	OnRoundEnd func(RoundSummary)
}

// RoundSummary is the per-round console report: counts are for the whole run
// so far, leaderboard is live.
type RoundSummary struct {
	Round          int
	TasksCompleted int
	MessagesSent   int
	Leaderboard    []Standing
}

// NewManager wires up a full market simulation: generates pieces, distributes
// them, assigns initial tasks, and builds one Agent per participant. The last
// agents.uncooperative_count agents get the uncooperative disposition.
func NewManager(cfg config.Config, o oracle.Oracle, logger *events.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	agentIDs := make([]string, cfg.Simulation.Agents)
	for i := range agentIDs {
		agentIDs[i] = fmt.Sprintf("agent_%d", i+1)
	}

	pieces := GeneratePieces(cfg.Information.TotalPieces, cfg.Information.InfoTemplates, rng)
	ledger := NewLedger(pieces, agentIDs)
	ledger.Distribute(cfg.Information.PiecesPerAgent, rng)

	catalog := NewCatalog(
		cfg.Tasks.TaskTemplates,
		cfg.Tasks.MinInfoPieces,
		cfg.Tasks.MaxInfoPieces,
		cfg.Tasks.NewTaskOnCompletion,
		ledger.PieceNames(),
	)
	catalog.AssignInitial(agentIDs, cfg.Tasks.InitialTasksPerAgent, ledger.CanonicalValue, rng)

	agents := make([]*Agent, len(agentIDs))
	for i, id := range agentIDs {
		kind := KindNeutral
		if i >= len(agentIDs)-cfg.Agents.UncooperativeCount {
			kind = KindUncooperative
		}
		agents[i] = NewAgent(id, kind, o, len(agentIDs), cfg.Communication.MaxActionsPerTurn)
	}

	return &Manager{
		cfg:     cfg,
		rng:     rng,
		ledger:  ledger,
		catalog: catalog,
		revenue: NewRevenue(cfg.Revenue.TaskCompletion, cfg.Revenue.BonusForFirst, cfg.Revenue.IncorrectValuePenalty, agentIDs),
		comms:   NewComms(agentIDs),
		agents:  agents,
		log:     logger,
	}, nil
}

// Run executes the configured number of rounds. A context cancellation aborts
// the run mid-round; events already flushed to the log survive, in-memory
// state does not.
func (m *Manager) Run(ctx context.Context) (*Results, error) {
	agentTypes := make(map[string]string, len(m.agents))
	for _, a := range m.agents {
		agentTypes[a.ID] = string(a.Kind)
	}
	m.log.Log(events.TypeSimulationStart, simulationStartData{
		Config:     m.cfg,
		AgentTypes: agentTypes,
	})

	for round := 1; round <= m.cfg.Simulation.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("market: run aborted in round %d: %w", round, err)
		}
		rc := RoundContext{Round: round, RNG: m.rng}
		m.runRound(ctx, rc)

		if m.OnRoundEnd != nil {
			m.OnRoundEnd(RoundSummary{
				Round:          round,
				TasksCompleted: m.tasksCompleted,
				MessagesSent:   len(m.comms.History()),
				Leaderboard:    m.revenue.Leaderboard(),
			})
		}
	}

	results := &Results{
		Rounds:         m.cfg.Simulation.Rounds,
		Leaderboard:    m.revenue.Leaderboard(),
		Totals:         m.revenue.Totals(),
		TasksCompleted: m.tasksCompleted,
		MessagesSent:   len(m.comms.History()),
		Completions:    m.revenue.Completions(),
	}
	m.log.Log(events.TypeSimulationEnd, simulationEndData{
		Results: results,
		EndTime: time.Now().UTC().Format(time.RFC3339Nano),
	})
	return results, nil
}

func (m *Manager) runRound(ctx context.Context, rc RoundContext) {
	order := m.shuffledAgents(rc.RNG)
	for _, ag := range order {
		turn := ag.TakeTurn(ctx, m.snapshotFor(ag, rc.Round))
		if turn == nil {
			continue // skipped turn: oracle failure or unparseable output
		}
		if turn.Thoughts != "" {
			m.log.Log(events.TypePrivateThoughts, privateThoughtsData{
				Round:    rc.Round,
				AgentID:  ag.ID,
				Thoughts: turn.Thoughts,
				Context:  "turn",
			})
		}
		for _, act := range turn.Actions {
			m.processAction(rc, ag.ID, act)
		}
	}

	freq := m.cfg.Simulation.ReportFrequency
	if freq > 0 && rc.Round%freq == 0 {
		m.reportSubRound(ctx, rc)
	}
}

// processAction applies one validated action. Every action logs an
// agent_action event; failures are isolated — logged, never fatal to the
// round.
func (m *Manager) processAction(rc RoundContext, agentID string, act Action) {
	m.log.Log(events.TypeAgentAction, agentActionData{
		Round:   rc.Round,
		AgentID: agentID,
		Action:  actionEnvelope(act),
	})

	switch a := act.(type) {
	case SendMessage:
		msg, err := m.comms.SendDirect(agentID, a.To, a.Content)
		if err != nil {
			log.Printf("[SIM] round %d: %s send_message failed: %v", rc.Round, agentID, err)
			return
		}
		m.log.Log(events.TypeMessage, msg)

	case Broadcast:
		m.log.Log(events.TypeMessage, m.comms.Broadcast(agentID, a.Content))

	case SendInformation:
		if a.To == agentID {
			log.Printf("[SIM] round %d: %s tried to send information to itself", rc.Round, agentID)
			return
		}
		res, err := m.ledger.Transfer(agentID, a.To, a.Information, a.Values)
		if err != nil {
			log.Printf("[SIM] round %d: %s send_information failed: %v", rc.Round, agentID, err)
			return
		}
		m.log.Log(events.TypeInfoExchange, infoExchangeData{
			FromAgent:            agentID,
			ToAgent:              a.To,
			Information:          a.Information,
			Transferred:          res.Transferred,
			ValuesSent:           res.ValuesSent,
			ManipulationDetected: res.ManipulationDetected,
		})

	case SubmitTask:
		m.processSubmission(rc, agentID, a)

	case SubmitReport:
		// Reports belong to the report sub-round; one volunteered mid-turn is
		// recorded but not aggregated.
		m.log.Log(events.TypeAgentReport, agentReportData{
			Round:   rc.Round,
			AgentID: agentID,
			Report:  reportBody{CooperationScores: a.CooperationScores},
		})
	}
}

// processSubmission runs the completion check, scoring, tampering detection,
// and penalty for one submit_task action.
func (m *Manager) processSubmission(rc RoundContext, agentID string, a SubmitTask) {
	task := m.catalog.Lookup(agentID, a.TaskID)
	if task == nil {
		log.Printf("[SIM] round %d: %s submitted unknown task %q", rc.Round, agentID, a.TaskID)
		m.log.Log(events.TypeTaskCompletion, taskCompletionData{
			AgentID: agentID,
			TaskID:  a.TaskID,
			Success: false,
			Details: taskCompletionDetails{Error: "unknown or inactive task"},
		})
		return
	}

	if missing := m.ledger.Missing(agentID, task.RequiredInfo); len(missing) > 0 {
		log.Printf("[SIM] round %d: %s submitted %s missing %d pieces", rc.Round, agentID, task.ID, len(missing))
		m.log.Log(events.TypeTaskCompletion, taskCompletionData{
			AgentID: agentID,
			TaskID:  task.ID,
			Success: false,
			Details: taskCompletionDetails{
				MissingPieces: missing,
				Error:         "missing required pieces",
			},
		})
		return
	}

	// Averages come from the submitting agent's own copies, so tampered
	// values feed the score they tried to earn.
	var qualitySum, valueSum float64
	valueDetails := make(map[string]int, len(task.RequiredInfo))
	var incorrect []string
	for _, name := range task.RequiredInfo {
		held, _ := m.ledger.HeldCopy(agentID, name)
		qualitySum += float64(held.Quality)
		valueSum += float64(held.Value)
		valueDetails[name] = held.Value
		if canon, ok := m.ledger.CanonicalValue(name); ok && held.Value != canon {
			incorrect = append(incorrect, name)
		}
	}
	n := float64(len(task.RequiredInfo))
	qualityAvg := qualitySum / n
	valueAvg := valueSum / n

	base, first := m.revenue.Award(agentID, task.ID, rc.Round, qualityAvg)
	final := base
	penalty := 0
	if len(incorrect) > 0 {
		penalty = m.revenue.PenaltyFor(base)
		m.revenue.Penalize(agentID, penalty)
		final = base - penalty
		notice := fmt.Sprintf(
			"Task %s: %d of %d submitted values did not match canonical records. Penalty: %d points (%.0f%% of %d). Final award: %d.",
			task.ID, len(incorrect), len(task.RequiredInfo), penalty,
			m.cfg.Revenue.IncorrectValuePenalty*100, base, final)
		if msg, err := m.comms.SendDirect(SystemSender, agentID, notice); err == nil {
			m.log.Log(events.TypeMessage, msg)
		}
	}
	m.tasksCompleted++
	if first {
		log.Printf("[SIM] round %d: %s first completion, awarded %d", rc.Round, agentID, base)
	}

	if next := m.catalog.Complete(task, m.ledger.CanonicalValue, rc.RNG); next != nil {
		log.Printf("[SIM] round %d: %s assigned replacement task %s", rc.Round, agentID, next.ID)
	}

	m.log.Log(events.TypeTaskCompletion, taskCompletionData{
		AgentID: agentID,
		TaskID:  task.ID,
		Success: true,
		Details: taskCompletionDetails{
			QualityAvg:      qualityAvg,
			ValueAvg:        valueAvg,
			ValueDetails:    valueDetails,
			BaseRevenue:     base,
			FinalRevenue:    final,
			PenaltyApplied:  penalty > 0,
			PenaltyAmount:   penalty,
			IncorrectValues: incorrect,
		},
	})
}

// reportSubRound runs after all normal actions for the round so reports
// reflect the round's full activity. The pass is separately shuffled.
func (m *Manager) reportSubRound(ctx context.Context, rc RoundContext) {
	raw := make(map[string]map[string]float64)
	for _, ag := range m.shuffledAgents(rc.RNG) {
		rep := ag.RequestReport(ctx, m.snapshotFor(ag, rc.Round))
		if rep == nil {
			continue
		}
		raw[ag.ID] = rep.CooperationScores
		m.log.Log(events.TypeAgentReport, agentReportData{
			Round:   rc.Round,
			AgentID: ag.ID,
			Report:  reportBody{CooperationScores: rep.CooperationScores},
		})
	}
	if len(raw) == 0 {
		return
	}
	m.log.Log(events.TypeScoresAggregated, scoresAggregatedData{
		Round:            rc.Round,
		RawScores:        raw,
		AggregatedScores: aggregateScores(raw),
	})
}

func (m *Manager) snapshotFor(ag *Agent, round int) Snapshot {
	return Snapshot{
		Round:       round,
		TotalRounds: m.cfg.Simulation.Rounds,
		Task:        m.catalog.Current(ag.ID),
		Holdings:    m.ledger.Holdings(ag.ID),
		Directory:   m.ledger.Directory(),
		Inbox:       m.comms.Inbox(ag.ID, recentInboxLimit),
		Broadcasts:  m.comms.Broadcasts(recentBroadcastLimit),
		Leaderboard: m.revenue.Leaderboard(),
	}
}

func (m *Manager) shuffledAgents(rng *rand.Rand) []*Agent {
	order := make([]*Agent, len(m.agents))
	copy(order, m.agents)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}
