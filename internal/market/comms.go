package market

import (
	"fmt"
	"time"
)

// Comms records every directed and broadcast message between agents and
// serves per-agent inbox views. Messages are immutable and retained for the
// whole run; IDs are sequential. The bus is only ever mutated by the
// scheduler goroutine, so there is no lock here.
type Comms struct {
	known   map[string]bool
	history []Message
	nextID  int
	now     func() time.Time
}

// NewComms creates a bus for the given agents. The synthetic system sender is
// always known.
func NewComms(agentIDs []string) *Comms {
	known := make(map[string]bool, len(agentIDs)+1)
	for _, id := range agentIDs {
		known[id] = true
	}
	known[SystemSender] = true
	return &Comms{known: known, now: time.Now}
}

// SendDirect appends a directed message. An unknown recipient is a failure
// result for the sending agent, not a fatal error.
func (c *Comms) SendDirect(from, to, content string) (Message, error) {
	if !c.known[to] {
		return Message{}, fmt.Errorf("market: unknown recipient %q", to)
	}
	msg := Message{
		ID:        c.nextID,
		Type:      MessageDirect,
		From:      from,
		To:        to,
		Content:   content,
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
	}
	c.nextID++
	c.history = append(c.history, msg)
	return msg, nil
}

// Broadcast appends a message visible to everyone.
func (c *Comms) Broadcast(from, content string) Message {
	msg := Message{
		ID:        c.nextID,
		Type:      MessageBroadcast,
		From:      from,
		To:        BroadcastTo,
		Content:   content,
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
	}
	c.nextID++
	c.history = append(c.history, msg)
	return msg
}

// Inbox returns the most recent direct messages addressed to the agent, in
// chronological order, capped at limit (0 means no cap).
func (c *Comms) Inbox(agent string, limit int) []Message {
	var out []Message
	for _, m := range c.history {
		if m.Type == MessageDirect && m.To == agent {
			out = append(out, m)
		}
	}
	return tail(out, limit)
}

// Broadcasts returns the most recent broadcast messages, chronological,
// capped at limit (0 means no cap). Broadcasts posted earlier in the current
// round are included — within-round visibility is intentional.
func (c *Comms) Broadcasts(limit int) []Message {
	var out []Message
	for _, m := range c.history {
		if m.Type == MessageBroadcast {
			out = append(out, m)
		}
	}
	return tail(out, limit)
}

// History returns the full message record.
func (c *Comms) History() []Message {
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

func tail(msgs []Message, limit int) []Message {
	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}
