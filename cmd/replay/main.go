// Command replay reads a finished run's JSONL (or .jsonl.zst) event log and
// prints per-agent statistics; it can also index the run into a sqlite
// database and archive the log with zstd.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/agentdyn/infosim/internal/events"
	"github.com/agentdyn/infosim/internal/runindex"
)

func main() {
	var (
		indexPath   = flag.String("index", "", "also index the run into this sqlite database")
		runID       = flag.String("run-id", "", "run ID to index under (default: a fresh UUID)")
		archivePath = flag.String("archive", "", "also write a zstd-compressed copy of the log here")
		listRuns    = flag.Bool("list", false, "list runs already indexed in -index and exit")
	)
	flag.Parse()

	if *listRuns {
		if *indexPath == "" {
			log.Fatal("replay: -list needs -index")
		}
		listIndexedRuns(*indexPath)
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: replay [flags] <events.jsonl[.zst]>")
		os.Exit(2)
	}
	logPath := flag.Arg(0)

	evs, err := events.ReadFile(logPath)
	if err != nil {
		log.Fatalf("replay: %v", err)
	}
	if len(evs) == 0 {
		log.Fatalf("replay: %s contains no events", logPath)
	}

	printStats(logPath, evs)

	if *indexPath != "" {
		id := *runID
		if id == "" {
			id = uuid.New().String()
		}
		db, err := runindex.Open(*indexPath)
		if err != nil {
			log.Fatalf("replay: %v", err)
		}
		defer db.Close()
		if err := db.IndexRun(id, logPath, evs); err != nil {
			log.Fatalf("replay: %v", err)
		}
		fmt.Printf("\nindexed as run %s in %s\n", id, *indexPath)
	}

	if *archivePath != "" {
		n, err := events.Archive(logPath, *archivePath)
		if err != nil {
			log.Fatalf("replay: archive: %v", err)
		}
		fmt.Printf("archived %d events to %s\n", n, *archivePath)
	}
}

func printStats(logPath string, evs []events.Event) {
	rounds, tasksCompleted, totals, counts := runindex.Summarize(evs)

	fmt.Printf("%s: %d events", logPath, len(evs))
	if rounds > 0 {
		fmt.Printf(", %d rounds, %d tasks completed", rounds, tasksCompleted)
	} else {
		fmt.Print(" (no simulation_end — crashed or still running)")
	}
	fmt.Println()

	fmt.Println("\nEVENT COUNTS")
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	width := 0
	for _, t := range types {
		if w := runewidth.StringWidth(t); w > width {
			width = w
		}
	}
	for _, t := range types {
		fmt.Printf("  %s  %d\n", runewidth.FillRight(t, width), counts[t])
	}

	if len(totals) > 0 {
		fmt.Println("\nFINAL TOTALS")
		agents := make([]string, 0, len(totals))
		for a := range totals {
			agents = append(agents, a)
		}
		sort.Slice(agents, func(i, j int) bool {
			if totals[agents[i]] != totals[agents[j]] {
				return totals[agents[i]] > totals[agents[j]]
			}
			return agents[i] < agents[j]
		})
		for i, a := range agents {
			fmt.Printf("  %d. %s  %d\n", i+1, a, totals[a])
		}
	}

	printManipulations(evs)
}

// printManipulations surfaces the deception trail: who sent altered values
// and who got penalized for submitting them.
func printManipulations(evs []events.Event) {
	var lines []string
	for _, e := range evs {
		switch e.EventType {
		case events.TypeInfoExchange:
			var ex struct {
				FromAgent            string `json:"from_agent"`
				ToAgent              string `json:"to_agent"`
				ManipulationDetected bool   `json:"manipulation_detected"`
			}
			if err := e.Decode(&ex); err == nil && ex.ManipulationDetected {
				lines = append(lines, fmt.Sprintf("  %s sent altered values to %s", ex.FromAgent, ex.ToAgent))
			}
		case events.TypeTaskCompletion:
			var tc struct {
				AgentID string `json:"agent_id"`
				Details struct {
					PenaltyApplied bool     `json:"penalty_applied"`
					PenaltyAmount  int      `json:"penalty_amount"`
					Incorrect      []string `json:"incorrect_values"`
				} `json:"details"`
			}
			if err := e.Decode(&tc); err == nil && tc.Details.PenaltyApplied {
				lines = append(lines, fmt.Sprintf("  %s penalized %d points (wrong values: %s)",
					tc.AgentID, tc.Details.PenaltyAmount, strings.Join(tc.Details.Incorrect, ", ")))
			}
		}
	}
	if len(lines) > 0 {
		fmt.Println("\nMANIPULATION TRAIL")
		for _, l := range lines {
			fmt.Println(l)
		}
	}
}

func listIndexedRuns(indexPath string) {
	db, err := runindex.Open(indexPath)
	if err != nil {
		log.Fatalf("replay: %v", err)
	}
	defer db.Close()
	runs, err := db.Runs()
	if err != nil {
		log.Fatalf("replay: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("no runs indexed")
		return
	}
	for _, r := range runs {
		fmt.Printf("%s  rounds=%d tasks=%d  %s\n", r.ID, r.Rounds, r.TasksCompleted, r.LogPath)
	}
}
