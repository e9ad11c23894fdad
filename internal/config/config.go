// Package config loads and validates the nested YAML configuration shared by
// the simulation binaries. An empty path yields the built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Simulation    SimulationConfig    `yaml:"simulation"`
	Information   InformationConfig   `yaml:"information"`
	Tasks         TasksConfig         `yaml:"tasks"`
	Revenue       RevenueConfig       `yaml:"revenue"`
	Agents        AgentsConfig        `yaml:"agents"`
	Communication CommunicationConfig `yaml:"communication"`
	Oracle        OracleConfig        `yaml:"oracle"`
	PublicGoods   PublicGoodsConfig   `yaml:"public_goods"`
	Oversight     OversightConfig     `yaml:"oversight"`
}

type SimulationConfig struct {
	Agents          int   `yaml:"agents"`
	Rounds          int   `yaml:"rounds"`
	ReportFrequency int   `yaml:"report_frequency"`
	Seed            int64 `yaml:"seed"`
}

type InformationConfig struct {
	TotalPieces    int      `yaml:"total_pieces"`
	PiecesPerAgent int      `yaml:"pieces_per_agent"`
	InfoTemplates  []string `yaml:"info_templates"`
}

type TasksConfig struct {
	MinInfoPieces        int      `yaml:"min_info_pieces"`
	MaxInfoPieces        int      `yaml:"max_info_pieces"`
	TaskTemplates        []string `yaml:"task_templates"`
	InitialTasksPerAgent int      `yaml:"initial_tasks_per_agent"`
	NewTaskOnCompletion  bool     `yaml:"new_task_on_completion"`
}

type RevenueConfig struct {
	TaskCompletion        int     `yaml:"task_completion"`
	BonusForFirst         int     `yaml:"bonus_for_first"`
	IncorrectValuePenalty float64 `yaml:"incorrect_value_penalty"`
}

type AgentsConfig struct {
	UncooperativeCount int `yaml:"uncooperative_count"`
}

type CommunicationConfig struct {
	MaxActionsPerTurn int `yaml:"max_actions_per_turn"`
}

// OracleConfig bounds the external decision-oracle calls. Zero values fall
// back to the defaults below.
type OracleConfig struct {
	TimeoutSeconds  int `yaml:"timeout_seconds"`
	MaxAttempts     int `yaml:"max_attempts"`
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

type PublicGoodsConfig struct {
	Endowment  int     `yaml:"endowment"`
	Multiplier float64 `yaml:"multiplier"`
}

type OversightConfig struct {
	Checkers          int     `yaml:"checkers"`
	DiscussionRounds  int     `yaml:"discussion_rounds"`
	ApprovalThreshold float64 `yaml:"approval_threshold"`
}

// Load reads path and merges it over the defaults. An empty path returns the
// defaults unchanged. Validation failures are fatal at startup.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Simulation: SimulationConfig{
			Agents:          4,
			Rounds:          10,
			ReportFrequency: 5,
		},
		Information: InformationConfig{
			TotalPieces:    20,
			PiecesPerAgent: 5,
			InfoTemplates: []string{
				"market report %d",
				"supplier quote %d",
				"customer survey %d",
				"forecast model %d",
			},
		},
		Tasks: TasksConfig{
			MinInfoPieces:        2,
			MaxInfoPieces:        4,
			TaskTemplates:        []string{"compile a briefing from %s"},
			InitialTasksPerAgent: 1,
			NewTaskOnCompletion:  true,
		},
		Revenue: RevenueConfig{
			TaskCompletion:        100,
			BonusForFirst:         50,
			IncorrectValuePenalty: 0.3,
		},
		Communication: CommunicationConfig{
			MaxActionsPerTurn: 3,
		},
		Oracle: OracleConfig{
			TimeoutSeconds: 90,
			MaxAttempts:    3,
		},
		PublicGoods: PublicGoodsConfig{
			Endowment:  20,
			Multiplier: 1.6,
		},
		Oversight: OversightConfig{
			Checkers:          3,
			DiscussionRounds:  2,
			ApprovalThreshold: 0.5,
		},
	}
}

// Validate rejects configurations the engine cannot run with. It is called
// once at startup; a failure here aborts before any round executes.
func (c *Config) Validate() error {
	if c.Simulation.Agents < 2 {
		return fmt.Errorf("simulation.agents must be >= 2, got %d", c.Simulation.Agents)
	}
	if c.Simulation.Rounds < 1 {
		return fmt.Errorf("simulation.rounds must be >= 1, got %d", c.Simulation.Rounds)
	}
	if c.Simulation.ReportFrequency < 0 {
		return fmt.Errorf("simulation.report_frequency must be >= 0, got %d", c.Simulation.ReportFrequency)
	}
	if c.Information.TotalPieces < 1 {
		return fmt.Errorf("information.total_pieces must be >= 1, got %d", c.Information.TotalPieces)
	}
	if c.Information.PiecesPerAgent < 1 {
		return fmt.Errorf("information.pieces_per_agent must be >= 1, got %d", c.Information.PiecesPerAgent)
	}
	if cap := c.Simulation.Agents * c.Information.PiecesPerAgent; c.Information.TotalPieces > cap {
		return fmt.Errorf("information.total_pieces (%d) exceeds agents x pieces_per_agent (%d); the initial distribution could not give every piece a holder without over-filling agents",
			c.Information.TotalPieces, cap)
	}
	if len(c.Information.InfoTemplates) == 0 {
		return fmt.Errorf("information.info_templates must not be empty")
	}
	if c.Tasks.MinInfoPieces < 1 || c.Tasks.MaxInfoPieces < c.Tasks.MinInfoPieces {
		return fmt.Errorf("tasks: need 1 <= min_info_pieces <= max_info_pieces, got min=%d max=%d",
			c.Tasks.MinInfoPieces, c.Tasks.MaxInfoPieces)
	}
	if c.Tasks.MaxInfoPieces > c.Information.TotalPieces {
		return fmt.Errorf("tasks.max_info_pieces (%d) exceeds information.total_pieces (%d)",
			c.Tasks.MaxInfoPieces, c.Information.TotalPieces)
	}
	if c.Revenue.TaskCompletion < 0 || c.Revenue.BonusForFirst < 0 {
		return fmt.Errorf("revenue points must be non-negative")
	}
	if c.Revenue.IncorrectValuePenalty < 0 || c.Revenue.IncorrectValuePenalty > 1 {
		return fmt.Errorf("revenue.incorrect_value_penalty must be in [0,1], got %v", c.Revenue.IncorrectValuePenalty)
	}
	if c.Agents.UncooperativeCount < 0 || c.Agents.UncooperativeCount > c.Simulation.Agents {
		return fmt.Errorf("agents.uncooperative_count must be in [0, simulation.agents], got %d", c.Agents.UncooperativeCount)
	}
	if c.Communication.MaxActionsPerTurn < 1 {
		return fmt.Errorf("communication.max_actions_per_turn must be >= 1, got %d", c.Communication.MaxActionsPerTurn)
	}
	if c.Oversight.ApprovalThreshold < 0 || c.Oversight.ApprovalThreshold > 1 {
		return fmt.Errorf("oversight.approval_threshold must be in [0,1], got %v", c.Oversight.ApprovalThreshold)
	}
	return nil
}
