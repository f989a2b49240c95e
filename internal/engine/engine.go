// Package engine implements the assignment engine: the rule ladder that turns
// an enriched ticket into a durable manager assignment, the round-robin
// rotation that keeps the distribution fair over time, and the batch
// orchestrator that drives both over the pending-ticket set.
package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fire-routing/backend/internal/models"
)

var (
	// ErrTicketAlreadyAssigned marks the benign outcome of losing a
	// duplicate-assignment race: the ticket is persisted, just not by us.
	ErrTicketAlreadyAssigned = errors.New("ticket already assigned")

	ErrTicketNotFound = errors.New("ticket not found")
)

// Stable reason codes, suitable for audit and UI display.
const (
	ReasonGeoMatch                = "geo-match"
	ReasonSegmentPool             = "segment-pool"
	ReasonLoadBalance             = "load-balance-tiebreak"
	ReasonFallbackNoGeo           = "fallback-no-geo"
	ReasonFallbackNoPool          = "fallback-no-pool"
	ReasonFallbackOfficeExhausted = "fallback-office-exhausted"
	ReasonAlreadyAssigned         = "already-assigned"
)

// Candidate is an (office, manager) pair satisfying the business constraints
// applicable to a ticket, with the office distance when computable.
type Candidate struct {
	Manager    models.Manager
	Office     models.Office
	DistanceKm *float64
}

// RuleStep records one ladder stage for the audit trail.
type RuleStep struct {
	Code       string `json:"code"`
	Candidates int    `json:"candidates"`
	Note       string `json:"note,omitempty"`
}

// PendingTicket pairs a ticket with its analytics. Analytics is nil when the
// enrichment collaborator has not produced a record yet.
type PendingTicket struct {
	Ticket    models.Ticket
	Analytics *models.TicketAnalytics
}

// PendingAssignment is everything the persistence layer needs to commit one
// assignment atomically: the rank-ordered candidates, the rotation key whose
// cursor selects among them, and the audit fields.
type PendingAssignment struct {
	Ticket       models.Ticket
	Candidates   []Candidate
	RotationKey  string
	ReasonCode   string
	Reason       string
	FallbackUsed bool
	Trace        []RuleStep
}

// Store is the engine's persistence boundary. CommitAssignment must write the
// assignment row, advance the rotation cursor for the key and bump the chosen
// manager's load in one atomic step, returning ErrTicketAlreadyAssigned when
// a concurrent writer won the ticket.
type Store interface {
	PendingTickets(ctx context.Context) ([]PendingTicket, error)
	PendingTicketByID(ctx context.Context, ticketID int64) (PendingTicket, error)
	Offices(ctx context.Context) ([]models.Office, error)
	ActiveManagers(ctx context.Context) ([]models.Manager, error)
	CommitAssignment(ctx context.Context, p PendingAssignment) (models.Assignment, error)
}

// Params holds the externally supplied business configuration.
type Params struct {
	MaxServiceRadiusKm float64
	Workers            int
}

type Engine struct {
	store  Store
	params Params
	log    zerolog.Logger
}

func New(store Store, params Params, log zerolog.Logger) *Engine {
	if params.Workers <= 0 {
		params.Workers = 4
	}
	if params.MaxServiceRadiusKm <= 0 {
		params.MaxServiceRadiusKm = 100
	}
	return &Engine{store: store, params: params, log: log}
}

// refData is a read-only snapshot of the reference tables, loaded once per
// batch. Offices and managers are slowly-changing; tickets are not.
type refData struct {
	offices    []models.Office
	managers   []models.Manager
	officeByID map[int64]models.Office
}

func (e *Engine) loadRefData(ctx context.Context) (refData, error) {
	offices, err := e.store.Offices(ctx)
	if err != nil {
		return refData{}, errors.Wrap(err, "load offices")
	}
	managers, err := e.store.ActiveManagers(ctx)
	if err != nil {
		return refData{}, errors.Wrap(err, "load managers")
	}
	ref := refData{
		offices:    offices,
		managers:   managers,
		officeByID: make(map[int64]models.Office, len(offices)),
	}
	for _, o := range offices {
		ref.officeByID[o.ID] = o
	}
	return ref, nil
}
