package market

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Catalog generates and tracks per-agent task queues. Tasks are created at
// assignment time and, when configured, again on completion; a successful
// submission removes the task from its agent's active queue.
type Catalog struct {
	templates     []string
	minPieces     int
	maxPieces     int
	replaceOnDone bool
	pieceNames    []string

	active map[string][]*Task // agent -> queue, front is the current task
}

// NewCatalog builds a catalog drawing required-piece sets from pieceNames.
func NewCatalog(templates []string, minPieces, maxPieces int, replaceOnDone bool, pieceNames []string) *Catalog {
	names := make([]string, len(pieceNames))
	copy(names, pieceNames)
	sort.Strings(names)
	return &Catalog{
		templates:     templates,
		minPieces:     minPieces,
		maxPieces:     maxPieces,
		replaceOnDone: replaceOnDone,
		pieceNames:    names,
		active:        make(map[string][]*Task),
	}
}

// AssignInitial gives every agent perAgent freshly generated tasks.
func (c *Catalog) AssignInitial(agentIDs []string, perAgent int, trueValue func(string) (int, bool), rng *rand.Rand) {
	for _, agent := range agentIDs {
		for i := 0; i < perAgent; i++ {
			c.active[agent] = append(c.active[agent], c.generate(agent, trueValue, rng))
		}
	}
}

// generate creates one task requiring a random subset of piece names. The
// expected answer is the sum of the required pieces' true values, which is
// what a submission built from untampered copies reproduces.
func (c *Catalog) generate(agent string, trueValue func(string) (int, bool), rng *rand.Rand) *Task {
	n := c.minPieces
	if c.maxPieces > c.minPieces {
		n += rng.Intn(c.maxPieces - c.minPieces + 1)
	}
	if n > len(c.pieceNames) {
		n = len(c.pieceNames)
	}
	perm := rng.Perm(len(c.pieceNames))
	required := make([]string, n)
	for i := 0; i < n; i++ {
		required[i] = c.pieceNames[perm[i]]
	}
	sort.Strings(required)

	sum := 0
	for _, name := range required {
		if v, ok := trueValue(name); ok {
			sum += v
		}
	}
	tmpl := c.templates[rng.Intn(len(c.templates))]
	return &Task{
		ID:             uuid.New().String(),
		AgentID:        agent,
		Description:    fmt.Sprintf(tmpl, strings.Join(required, ", ")),
		RequiredInfo:   required,
		ExpectedAnswer: fmt.Sprintf("%d", sum),
	}
}

// Current returns the agent's front-of-queue task, or nil when the queue is
// empty.
func (c *Catalog) Current(agent string) *Task {
	q := c.active[agent]
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// Lookup finds an active task by ID for the given agent. Submissions against
// another agent's task (or a finished one) miss.
func (c *Catalog) Lookup(agent, taskID string) *Task {
	for _, t := range c.active[agent] {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

// Complete removes the task from its agent's queue and, when auto-replacement
// is configured, generates a successor. Returns the replacement task or nil.
func (c *Catalog) Complete(task *Task, trueValue func(string) (int, bool), rng *rand.Rand) *Task {
	q := c.active[task.AgentID]
	for i, t := range q {
		if t.ID == task.ID {
			c.active[task.AgentID] = append(q[:i], q[i+1:]...)
			break
		}
	}
	if !c.replaceOnDone {
		return nil
	}
	next := c.generate(task.AgentID, trueValue, rng)
	c.active[task.AgentID] = append(c.active[task.AgentID], next)
	return next
}
