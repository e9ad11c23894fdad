// Command infosim runs the information-asymmetry market simulation: N
// oracle-backed agents trading information pieces, completing tasks, and
// possibly lying to each other about values. Every state change is appended
// to a JSONL event log for post-hoc analysis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-runewidth"

	"github.com/agentdyn/infosim/internal/config"
	"github.com/agentdyn/infosim/internal/events"
	"github.com/agentdyn/infosim/internal/market"
	"github.com/agentdyn/infosim/internal/observer"
	"github.com/agentdyn/infosim/internal/oracle"
)

func main() {
	_ = godotenv.Load(".env")

	var (
		configPath = flag.String("config", "", "YAML config file (defaults used when empty)")
		outPath    = flag.String("out", "", "event log path (default runs/market_<timestamp>.jsonl)")
		observeAt  = flag.String("observe", "", "serve a live websocket event feed at this address (e.g. localhost:8700)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("infosim: %v", err)
	}

	logPath := *outPath
	if logPath == "" {
		logPath = fmt.Sprintf("runs/market_%s.jsonl", time.Now().UTC().Format("20060102T150405Z"))
	}
	logger, err := events.NewLogger(logPath)
	if err != nil {
		log.Fatalf("infosim: %v", err)
	}
	defer logger.Close()

	o, err := buildOracle(cfg)
	if err != nil {
		log.Fatalf("infosim: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\ninfosim: shutting down")
		cancel()
	}()

	if *observeAt != "" {
		hub := observer.NewHub()
		go hub.Run(ctx, logger.Tap())
		go func() {
			log.Printf("[SIM] observer feed on ws://%s", *observeAt)
			if err := observer.ListenAndServe(ctx, *observeAt, hub); err != nil {
				log.Printf("[SIM] observer server stopped: %v", err)
			}
		}()
	}

	m, err := market.NewManager(cfg, o, logger)
	if err != nil {
		log.Fatalf("infosim: %v", err)
	}
	m.OnRoundEnd = printRoundSummary

	log.Printf("[SIM] starting: %d agents, %d rounds, log %s", cfg.Simulation.Agents, cfg.Simulation.Rounds, logPath)
	results, err := m.Run(ctx)
	if err != nil {
		log.Fatalf("infosim: %v", err)
	}

	fmt.Println("\n=== FINAL RESULTS ===")
	fmt.Printf("rounds: %d  tasks completed: %d  messages: %d\n\n",
		results.Rounds, results.TasksCompleted, results.MessagesSent)
	printLeaderboard(results.Leaderboard)
	fmt.Printf("\nevent log: %s\n", logPath)
}

// buildOracle wires the tiered client from config, with the optional TTL
// response cache on top.
func buildOracle(cfg config.Config) (oracle.Oracle, error) {
	client, err := oracle.NewTier("MARKET")
	if err != nil {
		return nil, err
	}
	client.WithLimits(time.Duration(cfg.Oracle.TimeoutSeconds)*time.Second, cfg.Oracle.MaxAttempts)
	if cfg.Oracle.CacheTTLSeconds > 0 {
		return oracle.NewCached(client, time.Duration(cfg.Oracle.CacheTTLSeconds)*time.Second), nil
	}
	return client, nil
}

func printRoundSummary(s market.RoundSummary) {
	fmt.Printf("\n-- round %d -- tasks: %d, messages: %d\n", s.Round, s.TasksCompleted, s.MessagesSent)
	printLeaderboard(s.Leaderboard)
}

// printLeaderboard renders a fixed-width table. Agent IDs are padded by
// display width so multi-byte names keep the columns aligned.
func printLeaderboard(standings []market.Standing) {
	idWidth := runewidth.StringWidth("agent")
	for _, s := range standings {
		if w := runewidth.StringWidth(s.AgentID); w > idWidth {
			idWidth = w
		}
	}
	fmt.Printf("%s  %s  %s\n", "rank", runewidth.FillRight("agent", idWidth), "points")
	for _, s := range standings {
		fmt.Printf("%4d  %s  %6d\n", s.Rank, runewidth.FillRight(s.AgentID, idWidth), s.Total)
	}
}
