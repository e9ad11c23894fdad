package runindex

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/agentdyn/infosim/internal/events"
)

func sampleEvents() []events.Event {
	end := map[string]any{
		"results": map[string]any{
			"rounds":          10,
			"tasks_completed": 4,
			"totals":          map[string]int{"agent_1": 84, "agent_2": 150},
		},
		"end_time": "2026-01-02T03:04:05Z",
	}
	raw, _ := json.Marshal(end)
	return []events.Event{
		{EventType: events.TypeSimulationStart, Data: json.RawMessage(`{}`)},
		{EventType: events.TypeAgentAction, Data: json.RawMessage(`{}`)},
		{EventType: events.TypeAgentAction, Data: json.RawMessage(`{}`)},
		{EventType: events.TypeTaskCompletion, Data: json.RawMessage(`{}`)},
		{EventType: events.TypeSimulationEnd, Data: raw},
	}
}

// TestIndexRun_RoundTrip indexes a run and reads every derived table back.
func TestIndexRun_RoundTrip(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.IndexRun("run-1", "/logs/run.jsonl", sampleEvents()); err != nil {
		t.Fatalf("index failed: %v", err)
	}

	runs, err := db.Runs()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].ID != "run-1" || runs[0].Rounds != 10 || runs[0].TasksCompleted != 4 {
		t.Errorf("unexpected run summary: %+v", runs[0])
	}

	totals, err := db.AgentTotals("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if totals["agent_1"] != 84 || totals["agent_2"] != 150 {
		t.Errorf("unexpected totals: %v", totals)
	}

	counts, err := db.EventCounts("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if counts[events.TypeAgentAction] != 2 || counts[events.TypeSimulationEnd] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

// TestIndexRun_ReindexReplaces re-indexes the same run ID with fewer events
// and checks the old rows are gone.
func TestIndexRun_ReindexReplaces(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.IndexRun("run-1", "/logs/a.jsonl", sampleEvents()); err != nil {
		t.Fatal(err)
	}
	short := []events.Event{
		{EventType: events.TypeSimulationStart, Data: json.RawMessage(`{}`)},
	}
	if err := db.IndexRun("run-1", "/logs/b.jsonl", short); err != nil {
		t.Fatal(err)
	}

	runs, err := db.Runs()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].LogPath != "/logs/b.jsonl" || runs[0].Rounds != 0 {
		t.Errorf("expected replaced run row, got %+v", runs)
	}
	totals, err := db.AgentTotals("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 0 {
		t.Errorf("expected totals cleared on reindex, got %v", totals)
	}
	counts, err := db.EventCounts("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if counts[events.TypeSimulationStart] != 1 || len(counts) != 1 {
		t.Errorf("unexpected counts after reindex: %v", counts)
	}
}

// TestSummarize_CrashedRun tolerates a log without simulation_end.
func TestSummarize_CrashedRun(t *testing.T) {
	evs := []events.Event{
		{EventType: events.TypeSimulationStart, Data: json.RawMessage(`{}`)},
		{EventType: events.TypeAgentAction, Data: json.RawMessage(`{}`)},
	}
	rounds, tasks, totals, counts := Summarize(evs)
	if rounds != 0 || tasks != 0 || len(totals) != 0 {
		t.Errorf("expected empty summary for crashed run, got rounds=%d tasks=%d totals=%v", rounds, tasks, totals)
	}
	if counts[events.TypeAgentAction] != 1 {
		t.Errorf("expected event counts even without simulation_end, got %v", counts)
	}
}
