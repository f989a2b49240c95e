package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/fire-routing/backend/internal/models"
)

// State of the per-ticket decision procedure.
type State string

const (
	StatePending           State = "pending"
	StateCandidateSelected State = "candidate-selected"
	StateFallbackSelected  State = "fallback-selected"
	StatePersisted         State = "persisted"
	StateUnassignable      State = "unassignable"
	StateSkipped           State = "skipped"
)

// Outcome is the per-ticket result surfaced in batch summaries and the API.
type Outcome struct {
	TicketID     int64    `json:"ticket_id"`
	TicketGUID   string   `json:"ticket_guid"`
	State        State    `json:"state"`
	ManagerID    *int64   `json:"manager_id,omitempty"`
	ManagerName  string   `json:"manager_name,omitempty"`
	OfficeID     *int64   `json:"office_id,omitempty"`
	OfficeName   string   `json:"office_name,omitempty"`
	DistanceKm   *float64 `json:"distance_km"`
	FallbackUsed bool     `json:"fallback_used"`
	ReasonCode   string   `json:"reason_code,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// decide runs the decision procedure for one enriched ticket: evaluate the
// rule ladder, pick via the rotation cursor and persist atomically. A lost
// duplicate-assignment race is reported as persisted, not as an error.
func (e *Engine) decide(ctx context.Context, pt PendingTicket, ref refData) Outcome {
	out := Outcome{TicketID: pt.Ticket.ID, TicketGUID: pt.Ticket.GUID, State: StatePending}

	if pt.Analytics == nil {
		out.State = StateSkipped
		out.Reason = "ticket has no analytics yet"
		return out
	}
	if pt.Analytics.Type == models.TypeSpam {
		out.State = StateSkipped
		out.Reason = "classified as spam"
		return out
	}

	elig := BuildCandidates(pt.Ticket, *pt.Analytics, ref.offices, ref.managers, e.params)
	if len(elig.Candidates) == 0 {
		out.State = StateUnassignable
		out.Error = "no active manager exists in the system"
		e.log.Warn().Int64("ticket_id", pt.Ticket.ID).Msg("ticket unassignable")
		return out
	}

	if elig.FallbackUsed {
		out.State = StateFallbackSelected
	} else {
		out.State = StateCandidateSelected
	}
	out.FallbackUsed = elig.FallbackUsed
	out.ReasonCode = elig.ReasonCode
	out.Reason = elig.Reason

	a, err := e.store.CommitAssignment(ctx, PendingAssignment{
		Ticket:       pt.Ticket,
		Candidates:   elig.Candidates,
		RotationKey:  elig.RotationKey,
		ReasonCode:   elig.ReasonCode,
		Reason:       elig.Reason,
		FallbackUsed: elig.FallbackUsed,
		Trace:        elig.Trace,
	})
	if errors.Is(err, ErrTicketAlreadyAssigned) {
		out.State = StatePersisted
		out.ReasonCode = ReasonAlreadyAssigned
		out.Reason = "a concurrent run already assigned this ticket"
		return out
	}
	if err != nil {
		out.Error = err.Error()
		e.log.Error().Err(err).Int64("ticket_id", pt.Ticket.ID).Msg("assignment persist failed")
		return out
	}

	out.State = StatePersisted
	out.ManagerID = &a.ManagerID
	out.OfficeID = &a.OfficeID
	out.DistanceKm = a.DistanceKm
	for _, m := range ref.managers {
		if m.ID == a.ManagerID {
			out.ManagerName = m.Name
			break
		}
	}
	if o, ok := ref.officeByID[a.OfficeID]; ok {
		out.OfficeName = o.Name
	}
	e.log.Info().
		Int64("ticket_id", pt.Ticket.ID).
		Int64("manager_id", a.ManagerID).
		Int64("office_id", a.OfficeID).
		Str("reason_code", out.ReasonCode).
		Bool("fallback_used", out.FallbackUsed).
		Msg("ticket assigned")
	return out
}
