package market

// Event payloads. Field names here are the binding contract with the
// downstream analysis tooling — do not rename.

type simulationStartData struct {
	Config     any               `json:"config"`
	AgentTypes map[string]string `json:"agent_types"`
}

type agentActionData struct {
	Round   int            `json:"round"`
	AgentID string         `json:"agent_id"`
	Action  map[string]any `json:"action"`
}

type infoExchangeData struct {
	FromAgent            string         `json:"from_agent"`
	ToAgent              string         `json:"to_agent"`
	Information          []string       `json:"information"`
	Transferred          []string       `json:"transferred"`
	ValuesSent           map[string]int `json:"values_sent"`
	ManipulationDetected bool           `json:"manipulation_detected"`
}

type taskCompletionData struct {
	AgentID string                `json:"agent_id"`
	TaskID  string                `json:"task_id"`
	Success bool                  `json:"success"`
	Details taskCompletionDetails `json:"details"`
}

type taskCompletionDetails struct {
	QualityAvg      float64        `json:"quality_avg"`
	ValueAvg        float64        `json:"value_avg"`
	ValueDetails    map[string]int `json:"value_details"`
	BaseRevenue     int            `json:"base_revenue"`
	FinalRevenue    int            `json:"final_revenue"`
	PenaltyApplied  bool           `json:"penalty_applied"`
	PenaltyAmount   int            `json:"penalty_amount"`
	IncorrectValues []string       `json:"incorrect_values"`
	MissingPieces   []string       `json:"missing_pieces,omitempty"`
	Error           string         `json:"error,omitempty"`
}

type privateThoughtsData struct {
	Round    int    `json:"round"`
	AgentID  string `json:"agent_id"`
	Thoughts string `json:"thoughts"`
	Context  string `json:"context"`
}

type agentReportData struct {
	Round   int        `json:"round"`
	AgentID string     `json:"agent_id"`
	Report  reportBody `json:"report"`
}

type reportBody struct {
	CooperationScores map[string]float64 `json:"cooperation_scores"`
}

type scoresAggregatedData struct {
	Round            int                           `json:"round"`
	RawScores        map[string]map[string]float64 `json:"raw_scores"`
	AggregatedScores map[string]ScoreAggregate     `json:"aggregated_scores"`
}

type simulationEndData struct {
	Results *Results `json:"results"`
	EndTime string   `json:"end_time"`
}

// Results is the final summary returned by Manager.Run and embedded in the
// simulation_end event.
type Results struct {
	Rounds         int                `json:"rounds"`
	Leaderboard    []Standing         `json:"leaderboard"`
	Totals         map[string]int     `json:"totals"`
	TasksCompleted int                `json:"tasks_completed"`
	MessagesSent   int                `json:"messages_sent"`
	Completions    []CompletionRecord `json:"completions"`
}
