package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fire-routing/backend/internal/models"
)

// HTTPAdapter calls an external analysis service.
type HTTPAdapter struct {
	BaseURL string
	Client  *http.Client
}

type requestBody struct {
	TicketGUID  string `json:"ticket_guid"`
	Segment     string `json:"segment"`
	City        string `json:"city"`
	Description string `json:"description"`
}

type responseBody struct {
	Type         string `json:"type"`
	Sentiment    string `json:"sentiment"`
	Priority     int    `json:"priority"`
	Language     string `json:"language"`
	Summary      string `json:"summary"`
	ModelVersion string `json:"model_version"`
}

func (h HTTPAdapter) AnalyzeTicket(ctx context.Context, t models.Ticket) (models.TicketAnalytics, int64, error) {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 15 * time.Second}
	}

	payload := requestBody{
		TicketGUID:  t.GUID,
		Segment:     string(t.Segment),
		City:        t.City,
		Description: t.Description,
	}
	b, _ := json.Marshal(payload)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/analyze", bytes.NewBuffer(b))
	if err != nil {
		return models.TicketAnalytics{}, 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	resp, err := h.Client.Do(req)
	if err != nil {
		return models.TicketAnalytics{}, time.Since(start).Milliseconds(), err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.TicketAnalytics{}, time.Since(start).Milliseconds(), errors.New("ai service error")
	}

	var r responseBody
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return models.TicketAnalytics{}, time.Since(start).Milliseconds(), err
	}

	analytics := models.TicketAnalytics{
		TicketID:     t.ID,
		Type:         r.Type,
		Sentiment:    r.Sentiment,
		Priority:     r.Priority,
		Language:     r.Language,
		Summary:      r.Summary,
		ModelVersion: r.ModelVersion,
		CreatedAt:    time.Now().UTC(),
	}
	return analytics, time.Since(start).Milliseconds(), nil
}
