package engine

import (
	"sync"
	"time"

	"github.com/fire-routing/backend/internal/models"
)

// PickByCursor selects the rotation pick from a rank-ordered candidate list.
// Only candidates tied with the head (same distance, same load) rotate; a
// strictly better-ranked candidate is never skipped. Because the index is
// taken modulo the tied group, a stale cursor or a shrunk eligible set
// degrades to a valid pick instead of failing.
func PickByCursor(ordered []Candidate, cursor int64) Candidate {
	head := ordered[0]
	tied := 1
	for _, c := range ordered[1:] {
		if c.Manager.CurrentLoad != head.Manager.CurrentLoad {
			break
		}
		if !sameDistance(c.DistanceKm, head.DistanceKm) {
			break
		}
		tied++
	}
	return ordered[int(cursor%int64(tied))]
}

func sameDistance(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// MemoryLedger is an in-process round-robin ledger keyed by rotation key.
// Advances are linearizable per key; distinct keys contend only on the map
// lock. The Postgres store implements the same semantics with a row lock.
type MemoryLedger struct {
	mu    sync.Mutex
	state map[string]*models.RoundRobinState
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{state: make(map[string]*models.RoundRobinState)}
}

// Advance picks the next manager in rotation for key and moves the cursor
// forward exactly once.
func (l *MemoryLedger) Advance(key string, ordered []Candidate) Candidate {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.state[key]
	if !ok {
		st = &models.RoundRobinState{Key: key}
		l.state[key] = st
	}
	pick := PickByCursor(ordered, st.Cursor)
	st.Cursor++
	id := pick.Manager.ID
	st.LastManagerID = &id
	st.UpdatedAt = time.Now().UTC()
	return pick
}

// State returns a copy of the ledger row for key, if present.
func (l *MemoryLedger) State(key string) (models.RoundRobinState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.state[key]
	if !ok {
		return models.RoundRobinState{}, false
	}
	return *st, true
}
