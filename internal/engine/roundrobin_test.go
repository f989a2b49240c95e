package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fire-routing/backend/internal/models"
)

func tiedCandidates(n int) []Candidate {
	out := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Candidate{Manager: models.Manager{ID: int64(i + 1)}})
	}
	return out
}

func TestPickByCursorRotatesTiedGroup(t *testing.T) {
	cands := tiedCandidates(3)
	require.Equal(t, int64(1), PickByCursor(cands, 0).Manager.ID)
	require.Equal(t, int64(2), PickByCursor(cands, 1).Manager.ID)
	require.Equal(t, int64(3), PickByCursor(cands, 2).Manager.ID)
	require.Equal(t, int64(1), PickByCursor(cands, 3).Manager.ID)
}

func TestPickByCursorNeverSkipsBetterRanked(t *testing.T) {
	cands := []Candidate{
		{Manager: models.Manager{ID: 1, CurrentLoad: 0}},
		{Manager: models.Manager{ID: 2, CurrentLoad: 0}},
		{Manager: models.Manager{ID: 3, CurrentLoad: 5}},
	}
	// Only the two zero-load managers rotate.
	for cursor := int64(0); cursor < 10; cursor++ {
		pick := PickByCursor(cands, cursor)
		require.NotEqual(t, int64(3), pick.Manager.ID, "cursor %d", cursor)
	}
}

func TestPickByCursorDistanceBreaksTie(t *testing.T) {
	cands := []Candidate{
		{Manager: models.Manager{ID: 1}, DistanceKm: fp(3)},
		{Manager: models.Manager{ID: 2}, DistanceKm: fp(30)},
	}
	for cursor := int64(0); cursor < 5; cursor++ {
		require.Equal(t, int64(1), PickByCursor(cands, cursor).Manager.ID)
	}
}

func TestPickByCursorStaleCursorDegrades(t *testing.T) {
	cands := tiedCandidates(2)
	pick := PickByCursor(cands, 999)
	require.Contains(t, []int64{1, 2}, pick.Manager.ID)
}

func TestMemoryLedgerAdvance(t *testing.T) {
	l := NewMemoryLedger()
	cands := tiedCandidates(3)

	seen := map[int64]int{}
	for i := 0; i < 6; i++ {
		pick := l.Advance("office-1|seg-general", cands)
		seen[pick.Manager.ID]++
	}
	for id := int64(1); id <= 3; id++ {
		require.Equal(t, 2, seen[id], "manager %d", id)
	}

	st, ok := l.State("office-1|seg-general")
	require.True(t, ok)
	require.Equal(t, int64(6), st.Cursor)
	require.NotNil(t, st.LastManagerID)
}

func TestMemoryLedgerKeysIsolated(t *testing.T) {
	l := NewMemoryLedger()
	cands := tiedCandidates(2)

	require.Equal(t, int64(1), l.Advance("a", cands).Manager.ID)
	require.Equal(t, int64(1), l.Advance("b", cands).Manager.ID)
	require.Equal(t, int64(2), l.Advance("a", cands).Manager.ID)
}

func TestMemoryLedgerConcurrentAdvance(t *testing.T) {
	l := NewMemoryLedger()
	cands := tiedCandidates(4)

	const n = 100
	picks := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			picks[i] = l.Advance("k", cands).Manager.ID
		}(i)
	}
	wg.Wait()

	counts := map[int64]int{}
	for _, id := range picks {
		counts[id]++
	}
	for id := int64(1); id <= 4; id++ {
		require.Equal(t, n/4, counts[id], "manager %d", id)
	}
	st, _ := l.State("k")
	require.Equal(t, int64(n), st.Cursor)
}
