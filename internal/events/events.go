// Package events is the append-only JSONL event log every simulation writes.
//
// One event per line, envelope {"timestamp","event_type","data"} — this is the
// binding contract with the downstream analysis tooling, which pattern-matches
// on these exact keys. The file is opened append-only and flushed per event,
// so everything written before a crash survives.
//
// Design constraints:
//   - All Logger methods are nil-safe (no-op on nil receiver) so callers don't
//     need nil checks before every log call.
//   - The Logger is the sole owner of the file handle; simulation code never
//     opens log files itself.
//   - An optional tap channel fans events out to live observers. Sends are
//     non-blocking: a slow observer drops events, it never stalls a round.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const tapBufSize = 256

// Recognized event_type values. The simulation managers emit these; the
// analysis layer and cmd/replay consume them.
const (
	TypeSimulationStart   = "simulation_start"
	TypeAgentAction       = "agent_action"
	TypeMessage           = "message"
	TypeInfoExchange      = "information_exchange"
	TypeTaskCompletion    = "task_completion"
	TypePrivateThoughts   = "private_thoughts"
	TypeAgentReport       = "agent_report"
	TypeScoresAggregated  = "cooperation_scores_aggregated"
	TypeSimulationEnd     = "simulation_end"
	TypeRoundResult       = "round_result"
	TypeContribution      = "contribution"
	TypeDiscussionMessage = "discussion_message"
	TypeVote              = "vote"
	TypeVerdict           = "verdict"
)

// Event is one JSONL line.
type Event struct {
	Timestamp string          `json:"timestamp"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Logger appends events to a single JSONL file.
type Logger struct {
	mu    sync.Mutex
	f     *os.File
	tapMu sync.Mutex
	tap   chan Event
	now   func() time.Time
}

// NewLogger opens (creating if needed) an append-only JSONL log at path.
// An unwritable path is a startup-fatal error per the engine's error taxonomy.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("events: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: open log file: %w", err)
	}
	return &Logger{f: f, now: time.Now}, nil
}

// Log appends one event. data is marshalled as the "data" payload.
// Marshal or write failures are logged, never propagated: a single bad event
// must not abort a running round.
func (l *Logger) Log(eventType string, data any) {
	if l == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("[EVENTS] marshal payload", "event_type", eventType, "error", err)
		return
	}
	e := Event{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		Data:      raw,
	}
	line, err := json.Marshal(e)
	if err != nil {
		slog.Error("[EVENTS] marshal event", "event_type", eventType, "error", err)
		return
	}

	l.mu.Lock()
	if l.f != nil {
		if _, err := fmt.Fprintf(l.f, "%s\n", line); err != nil {
			slog.Error("[EVENTS] write event", "error", err)
		}
	}
	l.mu.Unlock()

	l.tapMu.Lock()
	tap := l.tap
	l.tapMu.Unlock()
	if tap != nil {
		select {
		case tap <- e:
		default:
			slog.Warn("[EVENTS] tap channel full — observer event dropped", "event_type", eventType)
		}
	}
}

// Tap returns a channel receiving a copy of every subsequent event.
// Only one consumer should call this; repeated calls return the same channel.
func (l *Logger) Tap() <-chan Event {
	if l == nil {
		return nil
	}
	l.tapMu.Lock()
	defer l.tapMu.Unlock()
	if l.tap == nil {
		l.tap = make(chan Event, tapBufSize)
	}
	return l.tap
}

// Close flushes and closes the underlying file. Safe on nil.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadFile parses a JSONL event log, transparently decompressing ".zst" files.
// Blank lines are skipped; a malformed line is an error (the log contract says
// every line parses).
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sc *bufio.Scanner
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("events: zstd reader: %w", err)
		}
		defer dec.Close()
		sc = bufio.NewScanner(dec)
	} else {
		sc = bufio.NewScanner(f)
	}
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out []Event
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("events: %s line %d: %w", path, lineNo, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
