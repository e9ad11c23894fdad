// Command oversight convenes a panel of oracle-backed safety checkers to
// review one proposed behavior: discussion phases, then a vote. The behavior
// description comes from the command line or stdin.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentdyn/infosim/internal/config"
	"github.com/agentdyn/infosim/internal/events"
	"github.com/agentdyn/infosim/internal/oracle"
	"github.com/agentdyn/infosim/internal/oversight"
)

func main() {
	_ = godotenv.Load(".env")

	var (
		configPath = flag.String("config", "", "YAML config file (defaults used when empty)")
		outPath    = flag.String("out", "", "event log path (default runs/oversight_<timestamp>.jsonl)")
	)
	flag.Parse()

	description := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if description == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("oversight: read stdin: %v", err)
		}
		description = strings.TrimSpace(string(b))
	}
	if description == "" {
		fmt.Fprintln(os.Stderr, "usage: oversight [flags] <behavior description>  (or pipe the description on stdin)")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("oversight: %v", err)
	}

	logPath := *outPath
	if logPath == "" {
		logPath = fmt.Sprintf("runs/oversight_%s.jsonl", time.Now().UTC().Format("20060102T150405Z"))
	}
	logger, err := events.NewLogger(logPath)
	if err != nil {
		log.Fatalf("oversight: %v", err)
	}
	defer logger.Close()

	client, err := oracle.NewTier("CHECKER")
	if err != nil {
		log.Fatalf("oversight: %v", err)
	}
	client.WithLimits(time.Duration(cfg.Oracle.TimeoutSeconds)*time.Second, cfg.Oracle.MaxAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\noversight: shutting down")
		cancel()
	}()

	g, err := oversight.New(cfg, client, logger)
	if err != nil {
		log.Fatalf("oversight: %v", err)
	}

	log.Printf("[OVERSIGHT] convening %d checkers, %d discussion phases",
		cfg.Oversight.Checkers, cfg.Oversight.DiscussionRounds)
	verdict, err := g.Review(ctx, oversight.NewProposal(description))
	if err != nil {
		log.Fatalf("oversight: %v", err)
	}

	fmt.Println("\n=== VERDICT ===")
	for _, v := range verdict.Votes {
		fmt.Printf("%-12s %-8s %s\n", v.CheckerID, v.Vote, v.Reasoning)
	}
	outcome := "REJECTED"
	if verdict.Approved {
		outcome = "APPROVED"
	}
	fmt.Printf("\n%s — %d approve, %d reject, %d abstain (threshold %.0f%%)\nevent log: %s\n",
		outcome, verdict.Approvals, verdict.Rejections, verdict.Abstentions, verdict.Threshold*100, logPath)

	if !verdict.Approved {
		os.Exit(1)
	}
}
