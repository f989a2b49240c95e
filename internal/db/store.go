package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/fire-routing/backend/internal/engine"
	"github.com/fire-routing/backend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- reference data ---

func (s *Store) Offices(ctx context.Context) ([]models.Office, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, address, lat, lon FROM offices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Office
	for rows.Next() {
		var o models.Office
		if err := rows.Scan(&o.ID, &o.Name, &o.Address, &o.Lat, &o.Lon); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) ActiveManagers(ctx context.Context) ([]models.Manager, error) {
	return s.listManagers(ctx, `WHERE active ORDER BY current_load ASC, id ASC`)
}

func (s *Store) ListManagers(ctx context.Context, officeID int64) ([]models.Manager, error) {
	query := `ORDER BY current_load ASC, id ASC`
	var args []any
	if officeID > 0 {
		query = `WHERE office_id = $1 ORDER BY current_load ASC, id ASC`
		args = append(args, officeID)
	}
	return s.listManagers(ctx, query, args...)
}

func (s *Store) listManagers(ctx context.Context, tail string, args ...any) ([]models.Manager, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, position, office_id, skills, active, current_load, updated_at FROM managers `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Manager
	for rows.Next() {
		var m models.Manager
		if err := rows.Scan(&m.ID, &m.Name, &m.Position, &m.OfficeID, &m.Skills, &m.Active, &m.CurrentLoad, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- bulk import ---

func (s *Store) InsertOffices(ctx context.Context, offices []models.Office) (int64, error) {
	rows := make([][]any, 0, len(offices))
	for _, o := range offices {
		rows = append(rows, []any{o.Name, o.Address, o.Lat, o.Lon})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"offices"}, []string{"name", "address", "lat", "lon"}, pgx.CopyFromRows(rows))
}

func (s *Store) InsertManagers(ctx context.Context, managers []models.Manager) (int64, error) {
	rows := make([][]any, 0, len(managers))
	for _, m := range managers {
		rows = append(rows, []any{m.Name, m.Position, m.OfficeID, m.Skills, m.Active, m.CurrentLoad})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"managers"}, []string{"name", "position", "office_id", "skills", "active", "current_load"}, pgx.CopyFromRows(rows))
}

func (s *Store) InsertTickets(ctx context.Context, tickets []models.Ticket) (int64, error) {
	rows := make([][]any, 0, len(tickets))
	for _, t := range tickets {
		rows = append(rows, []any{t.GUID, t.Segment, t.Description, t.Country, t.Region, t.City, t.Street, t.Building, t.Lat, t.Lon, t.GeoStatus})
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"tickets"},
		[]string{"guid", "segment", "description", "country", "region", "city", "street", "building", "lat", "lon", "geo_status"},
		pgx.CopyFromRows(rows))
}

func (s *Store) TruncateAll(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `TRUNCATE tickets, managers, offices, ticket_analytics, assignments, round_robin_state RESTART IDENTITY CASCADE`)
	return err
}

// --- enrichment ---

func (s *Store) InsertAnalytics(ctx context.Context, an models.TicketAnalytics) (models.TicketAnalytics, error) {
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO ticket_analytics (ticket_id, ticket_type, sentiment, priority, language, summary, model_version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (ticket_id) DO UPDATE SET
			ticket_type = EXCLUDED.ticket_type,
			sentiment = EXCLUDED.sentiment,
			priority = EXCLUDED.priority,
			language = EXCLUDED.language,
			summary = EXCLUDED.summary,
			model_version = EXCLUDED.model_version
		RETURNING id
	`, an.TicketID, an.Type, an.Sentiment, an.Priority, an.Language, an.Summary, an.ModelVersion, an.CreatedAt).Scan(&an.ID)
	return an, err
}

func (s *Store) UpdateTicketGeo(ctx context.Context, ticketID int64, lat, lon *float64, status models.GeoStatus) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tickets SET lat = $1, lon = $2, geo_status = $3 WHERE id = $4`, lat, lon, status, ticketID)
	return err
}

// --- assignment engine boundary ---

const pendingTicketColumns = `
	t.id, t.guid, t.segment, t.description, t.country, t.region, t.city, t.street, t.building, t.lat, t.lon, t.geo_status, t.created_at,
	an.id, an.ticket_type, an.sentiment, an.priority, an.language, an.summary, an.model_version, an.created_at`

func scanPendingTicket(row pgx.Row) (engine.PendingTicket, error) {
	var (
		pt        engine.PendingTicket
		anID      *int64
		anType    *string
		sentiment *string
		priority  *int
		language  *string
		summary   *string
		model     *string
		anCreated *time.Time
	)
	err := row.Scan(
		&pt.Ticket.ID, &pt.Ticket.GUID, &pt.Ticket.Segment, &pt.Ticket.Description,
		&pt.Ticket.Country, &pt.Ticket.Region, &pt.Ticket.City, &pt.Ticket.Street, &pt.Ticket.Building,
		&pt.Ticket.Lat, &pt.Ticket.Lon, &pt.Ticket.GeoStatus, &pt.Ticket.CreatedAt,
		&anID, &anType, &sentiment, &priority, &language, &summary, &model, &anCreated,
	)
	if err != nil {
		return pt, err
	}
	if anID != nil {
		pt.Analytics = &models.TicketAnalytics{
			ID:           *anID,
			TicketID:     pt.Ticket.ID,
			Type:         *anType,
			Sentiment:    *sentiment,
			Priority:     *priority,
			Language:     *language,
			Summary:      *summary,
			ModelVersion: *model,
			CreatedAt:    *anCreated,
		}
	}
	return pt, nil
}

// PendingTickets returns every ticket without an assignment, oldest first,
// joined with its analytics when the enrichment step has produced one.
func (s *Store) PendingTickets(ctx context.Context) ([]engine.PendingTicket, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+pendingTicketColumns+`
		FROM tickets t
		LEFT JOIN ticket_analytics an ON an.ticket_id = t.id
		LEFT JOIN assignments a ON a.ticket_id = t.id
		WHERE a.ticket_id IS NULL
		ORDER BY t.created_at ASC, t.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.PendingTicket
	for rows.Next() {
		pt, err := scanPendingTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (s *Store) PendingTicketByID(ctx context.Context, ticketID int64) (engine.PendingTicket, error) {
	var assigned bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assignments WHERE ticket_id = $1)`, ticketID).Scan(&assigned); err != nil {
		return engine.PendingTicket{}, err
	}
	if assigned {
		return engine.PendingTicket{}, engine.ErrTicketAlreadyAssigned
	}

	pt, err := scanPendingTicket(s.Pool.QueryRow(ctx, `
		SELECT `+pendingTicketColumns+`
		FROM tickets t
		LEFT JOIN ticket_analytics an ON an.ticket_id = t.id
		WHERE t.id = $1
	`, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.PendingTicket{}, engine.ErrTicketNotFound
	}
	return pt, err
}

// TicketWithAnalytics loads a ticket and its analytics regardless of
// assignment state, for eligibility debugging.
func (s *Store) TicketWithAnalytics(ctx context.Context, ticketID int64) (engine.PendingTicket, error) {
	pt, err := scanPendingTicket(s.Pool.QueryRow(ctx, `
		SELECT `+pendingTicketColumns+`
		FROM tickets t
		LEFT JOIN ticket_analytics an ON an.ticket_id = t.id
		WHERE t.id = $1
	`, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.PendingTicket{}, engine.ErrTicketNotFound
	}
	return pt, err
}

// CommitAssignment implements the engine's atomic persist step: advance the
// rotation cursor (the upsert row-locks the key until commit), pick by
// cursor, insert the assignment and bump the manager's load. Losing the
// unique-ticket race rolls everything back and reports it as benign.
func (s *Store) CommitAssignment(ctx context.Context, p engine.PendingAssignment) (models.Assignment, error) {
	var out models.Assignment
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var cursor int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO round_robin_state (rr_key, counter, updated_at)
			VALUES ($1, 1, NOW())
			ON CONFLICT (rr_key) DO UPDATE SET counter = round_robin_state.counter + 1, updated_at = NOW()
			RETURNING counter - 1
		`, p.RotationKey).Scan(&cursor); err != nil {
			return errors.Wrap(err, "advance rotation cursor")
		}

		pick := engine.PickByCursor(p.Candidates, cursor)
		trace, _ := json.Marshal(p.Trace)

		a := models.Assignment{
			TicketID:     p.Ticket.ID,
			ManagerID:    pick.Manager.ID,
			OfficeID:     pick.Office.ID,
			DistanceKm:   pick.DistanceKm,
			ReasonCode:   p.ReasonCode,
			Reason:       p.Reason,
			FallbackUsed: p.FallbackUsed,
			RuleTrace:    trace,
			AssignedAt:   time.Now().UTC(),
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO assignments (ticket_id, manager_id, office_id, distance_km, reason_code, reason, fallback_used, rule_trace, assigned_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (ticket_id) DO NOTHING
			RETURNING id
		`, a.TicketID, a.ManagerID, a.OfficeID, a.DistanceKm, a.ReasonCode, a.Reason, a.FallbackUsed, a.RuleTrace, a.AssignedAt).Scan(&a.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.ErrTicketAlreadyAssigned
		}
		if err != nil {
			return errors.Wrap(err, "insert assignment")
		}

		if _, err := tx.Exec(ctx, `UPDATE round_robin_state SET last_manager_id = $1 WHERE rr_key = $2`, pick.Manager.ID, p.RotationKey); err != nil {
			return errors.Wrap(err, "record last manager")
		}
		if _, err := tx.Exec(ctx, `UPDATE managers SET current_load = current_load + 1, updated_at = NOW() WHERE id = $1`, pick.Manager.ID); err != nil {
			return errors.Wrap(err, "increment manager load")
		}
		out = a
		return nil
	})
	return out, err
}

// Reassign replaces a ticket's assignment explicitly, moving the load
// counters between managers in the same transaction.
func (s *Store) Reassign(ctx context.Context, ticketID, managerID int64, reason string, override bool) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var prevManager int64
		err := tx.QueryRow(ctx, `SELECT manager_id FROM assignments WHERE ticket_id = $1 FOR UPDATE`, ticketID).Scan(&prevManager)
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.ErrTicketNotFound
		}
		if err != nil {
			return err
		}

		var officeID int64
		if err := tx.QueryRow(ctx, `SELECT office_id FROM managers WHERE id = $1`, managerID).Scan(&officeID); err != nil {
			return errors.Wrap(err, "load manager")
		}

		if prevManager != managerID {
			if _, err := tx.Exec(ctx, `UPDATE managers SET current_load = GREATEST(current_load - 1, 0), updated_at = NOW() WHERE id = $1`, prevManager); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE managers SET current_load = current_load + 1, updated_at = NOW() WHERE id = $1`, managerID); err != nil {
				return err
			}
		}

		reasonCode := "manual-reassign"
		if override {
			reasonCode = "manual-override"
		}
		_, err = tx.Exec(ctx, `
			UPDATE assignments
			SET manager_id = $1, office_id = $2, reason_code = $3, reason = $4, fallback_used = FALSE, assigned_at = NOW()
			WHERE ticket_id = $5
		`, managerID, officeID, reasonCode, reason, ticketID)
		return err
	})
}

// --- read models ---

func (s *Store) ListTickets(ctx context.Context, segment, language, q string, assigned *bool, limit, offset int) ([]map[string]any, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT t.id, t.guid, t.created_at, t.segment, t.city, t.geo_status, t.description,
		a.manager_id, m.name, a.office_id, o.name, a.distance_km, a.fallback_used, a.reason_code, a.reason,
		an.language, an.priority, an.ticket_type, an.sentiment
		FROM tickets t
		LEFT JOIN assignments a ON a.ticket_id = t.id
		LEFT JOIN managers m ON m.id = a.manager_id
		LEFT JOIN offices o ON o.id = a.office_id
		LEFT JOIN ticket_analytics an ON an.ticket_id = t.id`
	var args []any
	var wheres []string
	if segment != "" {
		args = append(args, segment)
		wheres = append(wheres, fmt.Sprintf("t.segment = $%d", len(args)))
	}
	if language != "" {
		args = append(args, language)
		wheres = append(wheres, fmt.Sprintf("an.language = $%d", len(args)))
	}
	if q != "" {
		args = append(args, "%"+q+"%")
		wheres = append(wheres, fmt.Sprintf("(t.description ILIKE $%d OR t.guid ILIKE $%d)", len(args), len(args)))
	}
	if assigned != nil {
		if *assigned {
			wheres = append(wheres, "a.ticket_id IS NOT NULL")
		} else {
			wheres = append(wheres, "a.ticket_id IS NULL")
		}
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY t.created_at DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			id           int64
			guid         string
			createdAt    time.Time
			seg          string
			city         string
			geoStatus    string
			description  string
			managerID    *int64
			managerName  *string
			officeID     *int64
			officeName   *string
			distanceKm   *float64
			fallbackUsed *bool
			reasonCode   *string
			reason       *string
			lang         *string
			priority     *int
			ticketType   *string
			sentiment    *string
		)
		if err := rows.Scan(&id, &guid, &createdAt, &seg, &city, &geoStatus, &description,
			&managerID, &managerName, &officeID, &officeName, &distanceKm, &fallbackUsed, &reasonCode, &reason,
			&lang, &priority, &ticketType, &sentiment); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"id":            id,
			"guid":          guid,
			"created_at":    createdAt,
			"segment":       seg,
			"city":          city,
			"geo_status":    geoStatus,
			"description":   description,
			"manager_id":    managerID,
			"manager_name":  managerName,
			"office_id":     officeID,
			"office_name":   officeName,
			"distance_km":   distanceKm,
			"fallback_used": fallbackUsed,
			"reason_code":   reasonCode,
			"reason":        reason,
			"language":      lang,
			"priority":      priority,
			"type":          ticketType,
			"sentiment":     sentiment,
		})
	}
	return out, rows.Err()
}

func (s *Store) GetTicketDetails(ctx context.Context, ticketID int64) (map[string]any, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT t.id, t.guid, t.segment, t.description, t.country, t.region, t.city, t.street, t.building, t.lat, t.lon, t.geo_status, t.created_at,
			a.id, a.manager_id, m.name, a.office_id, o.name, a.distance_km, a.reason_code, a.reason, a.fallback_used, a.rule_trace, a.assigned_at,
			an.id, an.ticket_type, an.sentiment, an.priority, an.language, an.summary, an.model_version, an.created_at
		FROM tickets t
		LEFT JOIN assignments a ON a.ticket_id = t.id
		LEFT JOIN managers m ON m.id = a.manager_id
		LEFT JOIN offices o ON o.id = a.office_id
		LEFT JOIN ticket_analytics an ON an.ticket_id = t.id
		WHERE t.id = $1
	`, ticketID)

	var (
		t            models.Ticket
		aID          *int64
		managerID    *int64
		managerName  *string
		officeID     *int64
		officeName   *string
		distanceKm   *float64
		reasonCode   *string
		reason       *string
		fallbackUsed *bool
		ruleTrace    []byte
		assignedAt   *time.Time
		anID         *int64
		anType       *string
		sentiment    *string
		priority     *int
		language     *string
		summary      *string
		modelVersion *string
		anCreated    *time.Time
	)
	if err := row.Scan(
		&t.ID, &t.GUID, &t.Segment, &t.Description, &t.Country, &t.Region, &t.City, &t.Street, &t.Building, &t.Lat, &t.Lon, &t.GeoStatus, &t.CreatedAt,
		&aID, &managerID, &managerName, &officeID, &officeName, &distanceKm, &reasonCode, &reason, &fallbackUsed, &ruleTrace, &assignedAt,
		&anID, &anType, &sentiment, &priority, &language, &summary, &modelVersion, &anCreated,
	); err != nil {
		return nil, err
	}

	result := map[string]any{"ticket": t}
	if aID != nil {
		var traceValue any
		if len(ruleTrace) > 0 {
			var tmp any
			if err := json.Unmarshal(ruleTrace, &tmp); err == nil {
				traceValue = tmp
			}
		}
		result["assignment"] = map[string]any{
			"id":            *aID,
			"manager_id":    managerID,
			"manager_name":  managerName,
			"office_id":     officeID,
			"office_name":   officeName,
			"distance_km":   distanceKm,
			"reason_code":   reasonCode,
			"reason":        reason,
			"fallback_used": fallbackUsed,
			"rule_trace":    traceValue,
			"assigned_at":   assignedAt,
		}
	}
	if anID != nil {
		result["analytics"] = map[string]any{
			"id":            *anID,
			"type":          derefString(anType),
			"sentiment":     derefString(sentiment),
			"priority":      derefInt(priority),
			"language":      derefString(language),
			"summary":       derefString(summary),
			"model_version": derefString(modelVersion),
			"created_at":    anCreated,
		}
	}
	return result, nil
}

// --- runs ---

func (s *Store) CreateRun(ctx context.Context, status string) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `INSERT INTO runs (status, started_at) VALUES ($1, NOW()) RETURNING id`, status).Scan(&id)
	return id, err
}

func (s *Store) FinishRun(ctx context.Context, runID int64, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3`, status, summary, runID)
	return err
}

func (s *Store) GetLatestRun(ctx context.Context) (models.Run, error) {
	var r models.Run
	err := s.Pool.QueryRow(ctx, `SELECT id, started_at, finished_at, status, summary FROM runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Summary)
	return r, err
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
