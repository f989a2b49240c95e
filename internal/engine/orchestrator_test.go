package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fire-routing/backend/internal/models"
)

func newTestEngine(s *memStore) *Engine {
	return New(s, Params{MaxServiceRadiusKm: 100, Workers: 4}, zerolog.Nop())
}

func massTicket(id int64) PendingTicket {
	return PendingTicket{
		Ticket: models.Ticket{
			ID:        id,
			GUID:      "t-" + string(rune('0'+id)),
			Segment:   models.SegmentMass,
			GeoStatus: models.GeoFailed,
		},
		Analytics: &models.TicketAnalytics{Type: models.TypeConsultation, Language: "RU"},
	}
}

func TestProcessAllFairDistribution(t *testing.T) {
	s := newMemStore()
	s.offices = []models.Office{{ID: 1, Name: "HQ"}}
	for i := int64(1); i <= 4; i++ {
		s.managers = append(s.managers, models.Manager{ID: i, OfficeID: 1, Active: true})
	}
	for i := int64(1); i <= 4; i++ {
		s.tickets = append(s.tickets, massTicket(i))
	}

	res, err := newTestEngine(s).ProcessAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)
	require.Equal(t, 4, res.Successful)
	require.Zero(t, res.Failed)

	// Every manager gets exactly one ticket.
	for i := int64(1); i <= 4; i++ {
		require.Equal(t, 1, s.loadOf(i), "manager %d", i)
	}
}

func TestProcessAllIdempotent(t *testing.T) {
	s := newMemStore()
	s.offices = []models.Office{{ID: 1, Name: "HQ"}}
	s.managers = []models.Manager{{ID: 1, OfficeID: 1, Active: true}}
	s.tickets = []PendingTicket{massTicket(1), massTicket(2)}

	eng := newTestEngine(s)
	first, err := eng.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Successful)

	second, err := eng.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Total)
	require.Equal(t, 2, s.assignmentCount())
}

func TestProcessAllConcurrentRunsNoDuplicates(t *testing.T) {
	s := newMemStore()
	s.offices = []models.Office{{ID: 1, Name: "HQ"}}
	for i := int64(1); i <= 3; i++ {
		s.managers = append(s.managers, models.Manager{ID: i, OfficeID: 1, Active: true})
	}
	for i := int64(1); i <= 9; i++ {
		s.tickets = append(s.tickets, massTicket(i))
	}

	eng := newTestEngine(s)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.ProcessAll(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 9, s.assignmentCount())
	total := 0
	for i := int64(1); i <= 3; i++ {
		total += s.loadOf(i)
	}
	require.Equal(t, 9, total)
}

func TestProcessAllNoGeoUsesFallback(t *testing.T) {
	s := newMemStore()
	s.offices = []models.Office{{ID: 1, Name: "HQ"}}
	s.managers = []models.Manager{{ID: 1, OfficeID: 1, Active: true}}
	s.tickets = []PendingTicket{massTicket(1)}

	res, err := newTestEngine(s).ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	out := res.Results[0]
	require.Equal(t, StatePersisted, out.State)
	require.Equal(t, ReasonFallbackNoGeo, out.ReasonCode)
	require.True(t, out.FallbackUsed)
	require.Nil(t, out.DistanceKm)

	a, ok := s.assignmentFor(1)
	require.True(t, ok)
	require.Nil(t, a.DistanceKm)
}

func TestProcessAllSkipsUnenrichedAndSpam(t *testing.T) {
	s := newMemStore()
	s.offices = []models.Office{{ID: 1, Name: "HQ"}}
	s.managers = []models.Manager{{ID: 1, OfficeID: 1, Active: true}}

	unenriched := PendingTicket{Ticket: models.Ticket{ID: 1, Segment: models.SegmentMass}}
	spam := massTicket(2)
	spam.Analytics.Type = models.TypeSpam
	s.tickets = []PendingTicket{unenriched, spam, massTicket(3)}

	res, err := newTestEngine(s).ProcessAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Equal(t, 2, res.Skipped)
	require.Equal(t, 1, res.Successful)
	require.Equal(t, 1, s.assignmentCount())
}

func TestProcessAllUnassignableWhenNoManagers(t *testing.T) {
	s := newMemStore()
	s.offices = []models.Office{{ID: 1, Name: "HQ"}}
	s.tickets = []PendingTicket{massTicket(1)}

	res, err := newTestEngine(s).ProcessAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, StateUnassignable, res.Results[0].State)
	require.Zero(t, s.assignmentCount())
}

func TestProcessSingle(t *testing.T) {
	s := newMemStore()
	s.offices = []models.Office{{ID: 1, Name: "HQ"}}
	s.managers = []models.Manager{{ID: 1, OfficeID: 1, Active: true, Name: "Анна"}}
	s.tickets = []PendingTicket{massTicket(1)}

	eng := newTestEngine(s)
	out, err := eng.ProcessSingle(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatePersisted, out.State)
	require.NotNil(t, out.ManagerID)
	require.Equal(t, int64(1), *out.ManagerID)
	require.Equal(t, "Анна", out.ManagerName)

	// Re-processing the same ticket is a benign no-op.
	again, err := eng.ProcessSingle(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatePersisted, again.State)
	require.Equal(t, ReasonAlreadyAssigned, again.ReasonCode)
	require.Equal(t, 1, s.assignmentCount())
}

func TestProcessSingleNotFound(t *testing.T) {
	s := newMemStore()
	_, err := newTestEngine(s).ProcessSingle(context.Background(), 42)
	require.ErrorIs(t, err, ErrTicketNotFound)
}

func TestProcessAllRotationSharesAcrossVIPAndGeneral(t *testing.T) {
	s := newMemStore()
	s.offices = []models.Office{{ID: 1, Name: "HQ"}}
	s.managers = []models.Manager{
		{ID: 1, OfficeID: 1, Active: true, Skills: []string{"VIP"}},
		{ID: 2, OfficeID: 1, Active: true, Skills: []string{"VIP"}},
		{ID: 3, OfficeID: 1, Active: true},
	}

	vip := massTicket(1)
	vip.Ticket.Segment = models.SegmentVIP
	vip2 := massTicket(2)
	vip2.Ticket.Segment = models.SegmentVIP
	s.tickets = []PendingTicket{vip, vip2}

	res, err := newTestEngine(s).ProcessAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Successful)
	require.Equal(t, 1, s.loadOf(1))
	require.Equal(t, 1, s.loadOf(2))
	require.Zero(t, s.loadOf(3))
}
