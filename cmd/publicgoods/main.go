// Command publicgoods runs the repeated public-goods game with oracle-backed
// players and appends the outcome to a JSONL event log.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentdyn/infosim/internal/config"
	"github.com/agentdyn/infosim/internal/events"
	"github.com/agentdyn/infosim/internal/oracle"
	"github.com/agentdyn/infosim/internal/publicgoods"
)

func main() {
	_ = godotenv.Load(".env")

	var (
		configPath = flag.String("config", "", "YAML config file (defaults used when empty)")
		outPath    = flag.String("out", "", "event log path (default runs/pgg_<timestamp>.jsonl)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("publicgoods: %v", err)
	}

	logPath := *outPath
	if logPath == "" {
		logPath = fmt.Sprintf("runs/pgg_%s.jsonl", time.Now().UTC().Format("20060102T150405Z"))
	}
	logger, err := events.NewLogger(logPath)
	if err != nil {
		log.Fatalf("publicgoods: %v", err)
	}
	defer logger.Close()

	client, err := oracle.NewTier("PGG")
	if err != nil {
		log.Fatalf("publicgoods: %v", err)
	}
	client.WithLimits(time.Duration(cfg.Oracle.TimeoutSeconds)*time.Second, cfg.Oracle.MaxAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\npublicgoods: shutting down")
		cancel()
	}()

	g, err := publicgoods.New(cfg, client, logger)
	if err != nil {
		log.Fatalf("publicgoods: %v", err)
	}

	log.Printf("[PGG] starting: %d players, %d rounds, endowment %d, multiplier %.2f",
		cfg.Simulation.Agents, cfg.Simulation.Rounds, cfg.PublicGoods.Endowment, cfg.PublicGoods.Multiplier)
	results, err := g.Run(ctx)
	if err != nil {
		log.Fatalf("publicgoods: %v", err)
	}

	fmt.Println("\n=== FINAL BALANCES ===")
	ids := make([]string, 0, len(results.FinalBalances))
	for id := range results.FinalBalances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("%-12s %8.1f\n", id, results.FinalBalances[id])
	}
	fmt.Printf("\ntotal pooled over %d rounds: %d\nevent log: %s\n", results.Rounds, results.TotalPool, logPath)
}
