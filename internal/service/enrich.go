package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fire-routing/backend/internal/ai"
	"github.com/fire-routing/backend/internal/db"
	"github.com/fire-routing/backend/internal/geocode"
	"github.com/fire-routing/backend/internal/models"
)

// Enricher prepares raw tickets for assignment: it produces analytics for
// tickets that lack them and resolves coordinates for tickets whose geo
// status is still pending. Both steps are idempotent, already-enriched
// tickets are never touched.
type Enricher struct {
	Store          *db.Store
	AI             ai.Adapter
	Geocoder       geocode.Geocoder
	CountryDefault string
	Logger         zerolog.Logger
}

type EnrichStats struct {
	Analyzed    int `json:"analyzed"`
	Geocoded    int `json:"geocoded"`
	GeoFailed   int `json:"geo_failed"`
	GeoSkipped  int `json:"geo_skipped"`
	AnalyzeErrs int `json:"analyze_errors"`
}

// EnrichPending walks every unassigned ticket and fills in the missing
// pieces. Errors on individual tickets are logged and counted, the pass
// continues so one bad address or a flaky AI call does not stall the batch.
func (e *Enricher) EnrichPending(ctx context.Context) (EnrichStats, error) {
	var stats EnrichStats

	pending, err := e.Store.PendingTickets(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "list pending tickets")
	}

	for _, pt := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		if pt.Analytics == nil {
			if err := e.analyze(ctx, pt.Ticket); err != nil {
				stats.AnalyzeErrs++
				e.Logger.Warn().Err(err).Int64("ticket_id", pt.Ticket.ID).Msg("ticket analysis failed")
			} else {
				stats.Analyzed++
			}
		}

		if pt.Ticket.GeoStatus == models.GeoPending {
			switch e.resolveGeo(ctx, pt.Ticket) {
			case models.GeoResolved, models.GeoPartial:
				stats.Geocoded++
			case models.GeoFailed:
				stats.GeoFailed++
			default:
				stats.GeoSkipped++
			}
		}
	}

	e.Logger.Info().
		Int("analyzed", stats.Analyzed).
		Int("geocoded", stats.Geocoded).
		Int("geo_failed", stats.GeoFailed).
		Msg("enrichment pass finished")
	return stats, nil
}

func (e *Enricher) analyze(ctx context.Context, t models.Ticket) error {
	analytics, latencyMs, err := e.AI.AnalyzeTicket(ctx, t)
	if err != nil {
		return err
	}
	analytics.TicketID = t.ID
	if analytics.CreatedAt.IsZero() {
		analytics.CreatedAt = time.Now().UTC()
	}
	if _, err := e.Store.InsertAnalytics(ctx, analytics); err != nil {
		return errors.Wrap(err, "store analytics")
	}
	e.Logger.Debug().
		Int64("ticket_id", t.ID).
		Str("type", analytics.Type).
		Str("language", analytics.Language).
		Int64("latency_ms", latencyMs).
		Msg("ticket analyzed")
	return nil
}

// resolveGeo decides and persists the ticket's final geo status. Foreign
// addresses are marked unresolved without calling the geocoder; addresses
// too sparse to query are marked failed.
func (e *Enricher) resolveGeo(ctx context.Context, t models.Ticket) models.GeoStatus {
	if !geocode.IsDomestic(t, e.CountryDefault) {
		e.setGeo(ctx, t.ID, nil, nil, models.GeoUnresolved)
		return models.GeoUnresolved
	}

	query := geocode.BuildTicketQuery(t, e.CountryDefault)
	if query == "" {
		e.setGeo(ctx, t.ID, nil, nil, models.GeoFailed)
		return models.GeoFailed
	}

	lat, lon, _, confidence, err := e.Geocoder.Geocode(ctx, query)
	if err != nil {
		if !errors.Is(err, geocode.ErrNotFound) {
			e.Logger.Warn().Err(err).Int64("ticket_id", t.ID).Str("query", query).Msg("geocoding failed")
		}
		e.setGeo(ctx, t.ID, nil, nil, models.GeoFailed)
		return models.GeoFailed
	}

	status := models.GeoResolved
	if confidence < 0.3 {
		status = models.GeoPartial
	}
	e.setGeo(ctx, t.ID, &lat, &lon, status)
	return status
}

func (e *Enricher) setGeo(ctx context.Context, ticketID int64, lat, lon *float64, status models.GeoStatus) {
	if err := e.Store.UpdateTicketGeo(ctx, ticketID, lat, lon, status); err != nil {
		e.Logger.Error().Err(err).Int64("ticket_id", ticketID).Msg("persist geo status failed")
	}
}
