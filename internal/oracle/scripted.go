package oracle

import (
	"context"
	"fmt"
	"sync"
)

// Scripted replays canned responses in order. Test double for the engine:
// deterministic, no network, records every prompt it was asked.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	next      int
	Err       error // returned on every call when non-nil

	// Calls records the (system, user) pairs received, in order.
	Calls []ScriptedCall
}

type ScriptedCall struct {
	System string
	User   string
}

// NewScripted creates a Scripted oracle that returns responses in order and
// errors once they run out.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

func (s *Scripted) Complete(_ context.Context, system, user string) (string, Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, ScriptedCall{System: system, User: user})
	if s.Err != nil {
		return "", Usage{}, s.Err
	}
	if s.next >= len(s.responses) {
		return "", Usage{}, fmt.Errorf("oracle: scripted responses exhausted after %d calls", s.next)
	}
	r := s.responses[s.next]
	s.next++
	return r, Usage{}, nil
}

// Fixed always returns the same response. Handy when every agent in a test
// should act identically.
type Fixed struct {
	Response string
}

func (f Fixed) Complete(context.Context, string, string) (string, Usage, error) {
	return f.Response, Usage{}, nil
}
