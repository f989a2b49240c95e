package engine

import (
	"context"
	"sync"

	"github.com/fire-routing/backend/internal/models"
)

// memStore is an in-memory Store for engine tests. It mirrors the Postgres
// implementation's semantics: one assignment per ticket, rotation advanced
// atomically with the write, load bumped on success.
type memStore struct {
	mu       sync.Mutex
	tickets  []PendingTicket
	offices  []models.Office
	managers []models.Manager
	ledger   *MemoryLedger

	assignments map[int64]models.Assignment
}

func newMemStore() *memStore {
	return &memStore{
		ledger:      NewMemoryLedger(),
		assignments: map[int64]models.Assignment{},
	}
}

func (s *memStore) PendingTickets(ctx context.Context) ([]PendingTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingTicket
	for _, pt := range s.tickets {
		if _, ok := s.assignments[pt.Ticket.ID]; !ok {
			out = append(out, pt)
		}
	}
	return out, nil
}

func (s *memStore) PendingTicketByID(ctx context.Context, ticketID int64) (PendingTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[ticketID]; ok {
		return PendingTicket{}, ErrTicketAlreadyAssigned
	}
	for _, pt := range s.tickets {
		if pt.Ticket.ID == ticketID {
			return pt, nil
		}
	}
	return PendingTicket{}, ErrTicketNotFound
}

func (s *memStore) Offices(ctx context.Context) ([]models.Office, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Office(nil), s.offices...), nil
}

func (s *memStore) ActiveManagers(ctx context.Context) ([]models.Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Manager
	for _, m := range s.managers {
		if m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) CommitAssignment(ctx context.Context, p PendingAssignment) (models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assignments[p.Ticket.ID]; ok {
		return models.Assignment{}, ErrTicketAlreadyAssigned
	}

	pick := s.ledger.Advance(p.RotationKey, p.Candidates)
	a := models.Assignment{
		ID:           int64(len(s.assignments) + 1),
		TicketID:     p.Ticket.ID,
		ManagerID:    pick.Manager.ID,
		OfficeID:     pick.Office.ID,
		DistanceKm:   pick.DistanceKm,
		ReasonCode:   p.ReasonCode,
		Reason:       p.Reason,
		FallbackUsed: p.FallbackUsed,
	}
	s.assignments[p.Ticket.ID] = a
	for i := range s.managers {
		if s.managers[i].ID == pick.Manager.ID {
			s.managers[i].CurrentLoad++
		}
	}
	return a, nil
}

func (s *memStore) assignmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assignments)
}

func (s *memStore) assignmentFor(ticketID int64) (models.Assignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[ticketID]
	return a, ok
}

func (s *memStore) loadOf(managerID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.managers {
		if m.ID == managerID {
			return m.CurrentLoad
		}
	}
	return -1
}
