package market

import (
	"fmt"
	"math/rand"
	"sort"
)

// Ledger is the single owner of all information holdings. It keeps the
// canonical master list (true values) and, per agent, the set of piece
// copies that agent currently holds. Agents only ever see read-only copies,
// so there is no replica to re-sync before completion checks.
type Ledger struct {
	canonical map[string]Piece            // name -> piece with the true value
	holdings  map[string]map[string]Piece // agent -> name -> that agent's copy
}

// NewLedger builds a ledger over the generated master pieces for the given
// agents. Holdings start empty; call Distribute to seed them.
func NewLedger(pieces []Piece, agentIDs []string) *Ledger {
	canonical := make(map[string]Piece, len(pieces))
	for _, p := range pieces {
		canonical[p.Name] = p
	}
	holdings := make(map[string]map[string]Piece, len(agentIDs))
	for _, id := range agentIDs {
		holdings[id] = make(map[string]Piece)
	}
	return &Ledger{canonical: canonical, holdings: holdings}
}

// Distribute partitions the master pieces across agents: a round-robin seed
// guarantees every piece is held by at least one agent, then every agent is
// padded to perAgent pieces by sampling with replacement, rejecting names the
// agent already holds. Total copies may exceed distinct originals. The seed
// pass stays within perAgent only when the piece count is at most
// perAgent * agents; config validation enforces that bound.
func (l *Ledger) Distribute(perAgent int, rng *rand.Rand) {
	agents := l.agentIDs()
	names := l.pieceNames()
	rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })

	for i, name := range names {
		agent := agents[i%len(agents)]
		l.holdings[agent][name] = l.canonical[name]
	}

	for _, agent := range agents {
		held := l.holdings[agent]
		for len(held) < perAgent && len(held) < len(names) {
			name := names[rng.Intn(len(names))]
			if _, ok := held[name]; ok {
				continue
			}
			held[name] = l.canonical[name]
		}
	}
}

// TransferResult reports what a Transfer actually did.
type TransferResult struct {
	Transferred          []string       // names newly added to the receiver
	ValuesSent           map[string]int // value recorded on each transferred copy
	ManipulationDetected bool           // any sent value diverged from the canonical true value
}

// Transfer copies the named pieces from one agent to another. Per the
// non-rivalry invariant the sender keeps its copies. Per-name, a receiver
// that already holds the name is skipped silently — no overwrite. The whole
// transfer is rejected when the sender does not hold every requested name
// (an agent lying about what it can send).
//
// customValues substitutes the value written onto the receiver's copy,
// simulating deceptive transmission; quality always comes from the sender's
// copy. Names absent from customValues use the sender's value.
func (l *Ledger) Transfer(from, to string, names []string, customValues map[string]int) (TransferResult, error) {
	src, ok := l.holdings[from]
	if !ok {
		return TransferResult{}, fmt.Errorf("market: unknown sender %q", from)
	}
	dst, ok := l.holdings[to]
	if !ok {
		return TransferResult{}, fmt.Errorf("market: unknown receiver %q", to)
	}
	for _, name := range names {
		if _, held := src[name]; !held {
			return TransferResult{}, fmt.Errorf("market: sender %s does not hold %q", from, name)
		}
	}

	res := TransferResult{ValuesSent: make(map[string]int)}
	for _, name := range names {
		senderCopy := src[name]
		value := senderCopy.Value
		if customValues != nil {
			if v, ok := customValues[name]; ok {
				value = v
			}
		}
		res.ValuesSent[name] = value
		if canon, ok := l.canonical[name]; ok && value != canon.Value {
			res.ManipulationDetected = true
		}
		if _, held := dst[name]; held {
			continue // receiver already has this name; keep its copy untouched
		}
		dst[name] = Piece{Name: name, Quality: senderCopy.Quality, Value: value}
		res.Transferred = append(res.Transferred, name)
	}
	return res, nil
}

// Missing returns every required name the agent does not hold, sorted.
// An empty result means the completion check passes.
func (l *Ledger) Missing(agent string, required []string) []string {
	held := l.holdings[agent]
	var missing []string
	for _, name := range required {
		if _, ok := held[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Holds reports whether the agent currently holds the named piece.
func (l *Ledger) Holds(agent, name string) bool {
	_, ok := l.holdings[agent][name]
	return ok
}

// Holdings returns a copy of the agent's piece set, sorted by name. Callers
// may not mutate ledger state through it.
func (l *Ledger) Holdings(agent string) []Piece {
	held := l.holdings[agent]
	out := make([]Piece, 0, len(held))
	for _, p := range held {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HeldCopy returns the agent's copy of the named piece.
func (l *Ledger) HeldCopy(agent, name string) (Piece, bool) {
	p, ok := l.holdings[agent][name]
	return p, ok
}

// CanonicalValue returns the master-list true value for a piece name.
func (l *Ledger) CanonicalValue(name string) (int, bool) {
	p, ok := l.canonical[name]
	return p.Value, ok
}

// Directory is the names-only public view: which agent holds which piece
// names. Values and qualities are private to each holder.
func (l *Ledger) Directory() map[string][]string {
	dir := make(map[string][]string, len(l.holdings))
	for agent, held := range l.holdings {
		names := make([]string, 0, len(held))
		for name := range held {
			names = append(names, name)
		}
		sort.Strings(names)
		dir[agent] = names
	}
	return dir
}

// PieceNames returns every canonical piece name, sorted.
func (l *Ledger) PieceNames() []string {
	return l.pieceNames()
}

func (l *Ledger) pieceNames() []string {
	names := make([]string, 0, len(l.canonical))
	for name := range l.canonical {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Ledger) agentIDs() []string {
	ids := make([]string, 0, len(l.holdings))
	for id := range l.holdings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
