package db

import (
	"context"

	"github.com/pkg/errors"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS offices (
		id BIGSERIAL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION
	)`,
	`CREATE TABLE IF NOT EXISTS managers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		position TEXT NOT NULL DEFAULT '',
		office_id BIGINT NOT NULL REFERENCES offices(id),
		skills TEXT[] NOT NULL DEFAULT '{}',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		current_load INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_managers_office ON managers (office_id)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id BIGSERIAL PRIMARY KEY,
		guid TEXT UNIQUE NOT NULL,
		segment TEXT NOT NULL DEFAULT 'Mass',
		description TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		street TEXT NOT NULL DEFAULT '',
		building TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		geo_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_analytics (
		id BIGSERIAL PRIMARY KEY,
		ticket_id BIGINT UNIQUE NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		ticket_type TEXT NOT NULL,
		sentiment TEXT NOT NULL DEFAULT '',
		priority INT NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT 'RU',
		summary TEXT NOT NULL DEFAULT '',
		model_version TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS assignments (
		id BIGSERIAL PRIMARY KEY,
		ticket_id BIGINT UNIQUE NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
		manager_id BIGINT NOT NULL REFERENCES managers(id),
		office_id BIGINT NOT NULL REFERENCES offices(id),
		distance_km DOUBLE PRECISION,
		reason_code TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
		rule_trace JSONB,
		assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_manager ON assignments (manager_id)`,
	`CREATE TABLE IF NOT EXISTS round_robin_state (
		rr_key TEXT PRIMARY KEY,
		counter BIGINT NOT NULL DEFAULT 0,
		last_manager_id BIGINT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id BIGSERIAL PRIMARY KEY,
		status TEXT NOT NULL,
		summary JSONB,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ
	)`,
}

// InitSchema bootstraps the tables on startup. Statements are idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
