package ai

import (
	"context"

	"github.com/fire-routing/backend/internal/models"
)

// Adapter is the enrichment collaborator. The engine never calls it; the
// enrichment pass runs it for tickets that lack analytics.
type Adapter interface {
	AnalyzeTicket(ctx context.Context, t models.Ticket) (models.TicketAnalytics, int64, error)
}
