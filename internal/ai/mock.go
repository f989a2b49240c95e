package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/fire-routing/backend/internal/models"
	"github.com/fire-routing/backend/internal/utils"
)

// MockAdapter produces deterministic analytics from the ticket GUID, for
// local development without an AI service.
type MockAdapter struct {
	ModelVersion string
}

func (m MockAdapter) AnalyzeTicket(ctx context.Context, t models.Ticket) (models.TicketAnalytics, int64, error) {
	start := time.Now()
	h := utils.HashStringToUint64(t.GUID)

	priorities := []int{3, 5, 7, 9, 10}
	langs := []string{"RU", "KZ", "ENG"}
	types := []string{
		models.TypeConsultation,
		models.TypeComplaint,
		models.TypeDataChange,
		models.TypeAppMalfunction,
		models.TypeClaim,
	}
	sentiments := []string{models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative}

	analytics := models.TicketAnalytics{
		TicketID:     t.ID,
		Type:         types[int(h/13)%len(types)],
		Sentiment:    sentiments[int(h/17)%len(sentiments)],
		Priority:     priorities[int(h)%len(priorities)],
		Language:     langs[int(h/7)%len(langs)],
		Summary:      fmt.Sprintf("Ticket %s auto-summary", t.GUID),
		ModelVersion: m.ModelVersion,
		CreatedAt:    time.Now().UTC(),
	}
	return analytics, time.Since(start).Milliseconds(), nil
}
