package engine

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// BatchResult aggregates one process-all run. Failed counts unassignable
// tickets and per-ticket storage faults; skipped tickets (unenriched, spam)
// are neither successful nor failed.
type BatchResult struct {
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Results    []Outcome `json:"results"`
}

// ProcessAll runs the decision procedure over every unassigned ticket with a
// bounded worker pool. A failure of one ticket never aborts the others; only
// failing to read the pending set at all is fatal. The run is resumable:
// selection only ever targets still-unassigned tickets.
func (e *Engine) ProcessAll(ctx context.Context) (BatchResult, error) {
	pending, err := e.store.PendingTickets(ctx)
	if err != nil {
		return BatchResult{}, errors.Wrap(err, "load pending tickets")
	}
	ref, err := e.loadRefData(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	e.log.Info().Int("pending", len(pending)).Int("workers", e.params.Workers).Msg("batch run started")

	results := make([]Outcome, len(pending))
	var g errgroup.Group
	g.SetLimit(e.params.Workers)
	for i, pt := range pending {
		i, pt := i, pt
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Outcome{
					TicketID:   pt.Ticket.ID,
					TicketGUID: pt.Ticket.GUID,
					State:      StatePending,
					Error:      err.Error(),
				}
				return nil
			}
			results[i] = e.decide(ctx, pt, ref)
			return nil
		})
	}
	_ = g.Wait()

	return tally(results), nil
}

// ProcessSingle applies identical semantics to one ticket, used for
// re-processing after manual correction. An already-assigned ticket is a
// benign no-op.
func (e *Engine) ProcessSingle(ctx context.Context, ticketID int64) (Outcome, error) {
	pt, err := e.store.PendingTicketByID(ctx, ticketID)
	if errors.Is(err, ErrTicketAlreadyAssigned) {
		return Outcome{
			TicketID:   ticketID,
			State:      StatePersisted,
			ReasonCode: ReasonAlreadyAssigned,
			Reason:     "ticket already has an assignment",
		}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	ref, err := e.loadRefData(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return e.decide(ctx, pt, ref), nil
}

func tally(results []Outcome) BatchResult {
	res := BatchResult{Total: len(results), Results: results}
	for _, r := range results {
		switch {
		case r.State == StateSkipped:
			res.Skipped++
		case r.State == StatePersisted && r.Error == "":
			res.Successful++
		default:
			res.Failed++
		}
	}
	return res
}
