// Package migrations creates and evolves the settlement engine's database
// schema. Statements are idempotent so Apply can run at every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS tickets (
		id             TEXT PRIMARY KEY,
		owner_id       TEXT NOT NULL,
		wallet_address TEXT NOT NULL,
		numbers        INTEGER[] NOT NULL,
		powerball      INTEGER NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_owner ON tickets (owner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS draws (
		id              TEXT PRIMARY KEY,
		winning_numbers INTEGER[] NOT NULL,
		powerball       INTEGER NOT NULL,
		drawn_at        TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS win_records (
		id              TEXT PRIMARY KEY,
		ticket_id       TEXT NOT NULL REFERENCES tickets (id),
		draw_id         TEXT NOT NULL REFERENCES draws (id),
		owner_id        TEXT NOT NULL,
		wallet_address  TEXT NOT NULL,
		match_count     INTEGER NOT NULL,
		powerball_match BOOLEAN NOT NULL DEFAULT FALSE,
		tier            INTEGER NOT NULL,
		amount          DOUBLE PRECISION NOT NULL DEFAULT 0,
		disbursed       BOOLEAN NOT NULL DEFAULT FALSE,
		payout_ref      TEXT NOT NULL DEFAULT '',
		failure_reason  TEXT NOT NULL DEFAULT '',
		disbursed_at    TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_win_records_draw ON win_records (draw_id, disbursed)`,
	`CREATE TABLE IF NOT EXISTS pot (
		id               INTEGER PRIMARY KEY,
		balance          DOUBLE PRECISION NOT NULL DEFAULT 0,
		tickets_sold     BIGINT NOT NULL DEFAULT 0,
		lifetime_tickets BIGINT NOT NULL DEFAULT 0,
		lifetime_revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`INSERT INTO pot (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
}

// Apply runs every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
