// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/draw"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/pot"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/domain/ticket"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage"
)

// balanceEpsilon bounds the float comparison inside the conditional pot
// update. It must match the tolerance the memory store uses.
const balanceEpsilon = 1e-9

// Store implements the storage interfaces using database/sql.
type Store struct {
	db *sql.DB
}

var (
	_ storage.TicketStore    = (*Store)(nil)
	_ storage.DrawStore      = (*Store)(nil)
	_ storage.WinRecordStore = (*Store)(nil)
	_ storage.PotStore       = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- TicketStore ------------------------------------------------------------

func (s *Store) CreateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, owner_id, wallet_address, numbers, powerball, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.OwnerID, t.WalletAddress, pq.Array(t.Numbers), t.Powerball, t.CreatedAt)
	if err != nil {
		return ticket.Ticket{}, err
	}
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, wallet_address, numbers, powerball, created_at
		FROM tickets
		WHERE id = $1
	`, id)
	return scanTicket(row)
}

func (s *Store) ListTicketsByOwner(ctx context.Context, ownerID string, limit int) ([]ticket.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, wallet_address, numbers, powerball, created_at
		FROM tickets
		WHERE owner_id = $1
		ORDER BY created_at
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *Store) ListEligibleTickets(ctx context.Context, since time.Time) ([]ticket.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, wallet_address, numbers, powerball, created_at
		FROM tickets
		WHERE created_at >= $1
		ORDER BY created_at
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

// --- DrawStore --------------------------------------------------------------

func (s *Store) CreateDraw(ctx context.Context, d draw.Draw) (draw.Draw, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO draws (id, winning_numbers, powerball, drawn_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.ID, pq.Array(d.WinningNumbers), d.Powerball, d.DrawnAt, d.CreatedAt)
	if err != nil {
		return draw.Draw{}, err
	}
	return d, nil
}

func (s *Store) GetDraw(ctx context.Context, id string) (draw.Draw, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, winning_numbers, powerball, drawn_at, created_at
		FROM draws
		WHERE id = $1
	`, id)

	var (
		d       draw.Draw
		numbers pq.Int64Array
	)
	if err := row.Scan(&d.ID, &numbers, &d.Powerball, &d.DrawnAt, &d.CreatedAt); err != nil {
		return draw.Draw{}, mapNoRows(err)
	}
	d.WinningNumbers = toInts(numbers)
	return d, nil
}

func (s *Store) ListDraws(ctx context.Context, limit int) ([]draw.Draw, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, winning_numbers, powerball, drawn_at, created_at
		FROM draws
		ORDER BY drawn_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []draw.Draw
	for rows.Next() {
		var (
			d       draw.Draw
			numbers pq.Int64Array
		)
		if err := rows.Scan(&d.ID, &numbers, &d.Powerball, &d.DrawnAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.WinningNumbers = toInts(numbers)
		result = append(result, d)
	}
	return result, rows.Err()
}

// --- WinRecordStore ---------------------------------------------------------

func (s *Store) CreateWinRecords(ctx context.Context, records []draw.WinRecord) ([]draw.WinRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	out := make([]draw.WinRecord, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO win_records
				(id, ticket_id, draw_id, owner_id, wallet_address, match_count,
				 powerball_match, tier, amount, disbursed, payout_ref,
				 failure_reason, disbursed_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, rec.ID, rec.TicketID, rec.DrawID, rec.OwnerID, rec.WalletAddress,
			rec.MatchCount, rec.PowerballMatch, int(rec.Tier), rec.Amount,
			rec.Disbursed, rec.PayoutRef, rec.FailureReason, nullTime(rec.DisbursedAt), rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateWinRecord(ctx context.Context, rec draw.WinRecord) (draw.WinRecord, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE win_records
		SET disbursed = $2, payout_ref = $3, failure_reason = $4, disbursed_at = $5
		WHERE id = $1
	`, rec.ID, rec.Disbursed, rec.PayoutRef, rec.FailureReason, nullTime(rec.DisbursedAt))
	if err != nil {
		return draw.WinRecord{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return draw.WinRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetWinRecord(ctx context.Context, id string) (draw.WinRecord, error) {
	row := s.db.QueryRowContext(ctx, winRecordSelect+` WHERE id = $1`, id)
	return scanWinRecord(row)
}

func (s *Store) ListWinRecords(ctx context.Context, drawID string) ([]draw.WinRecord, error) {
	rows, err := s.db.QueryContext(ctx, winRecordSelect+`
		WHERE draw_id = $1
		ORDER BY tier, id
	`, drawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWinRecords(rows)
}

func (s *Store) ListUnpaidWinRecords(ctx context.Context, drawID string) ([]draw.WinRecord, error) {
	rows, err := s.db.QueryContext(ctx, winRecordSelect+`
		WHERE draw_id = $1 AND disbursed = FALSE
		ORDER BY tier, id
	`, drawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWinRecords(rows)
}

// --- PotStore ---------------------------------------------------------------

// The pot is a single row. Every mutation is one conditional UPDATE so the
// check-and-set happens inside the database, not around it.

func (s *Store) GetPot(ctx context.Context) (pot.Pot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT balance, tickets_sold, lifetime_tickets, lifetime_revenue, updated_at
		FROM pot
		WHERE id = 1
	`)

	var p pot.Pot
	if err := row.Scan(&p.Balance, &p.TicketsSold, &p.LifetimeTickets, &p.LifetimeRevenue, &p.UpdatedAt); err != nil {
		return pot.Pot{}, mapNoRows(err)
	}
	return p, nil
}

func (s *Store) UpdatePotBalance(ctx context.Context, delta, expected float64) (pot.Pot, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE pot
		SET balance = GREATEST(balance + $1, 0), updated_at = NOW()
		WHERE id = 1 AND ABS(balance - $2) < $3 AND balance + $1 >= -$3
		RETURNING balance, tickets_sold, lifetime_tickets, lifetime_revenue, updated_at
	`, delta, expected, balanceEpsilon)
	p, err := scanPot(row)
	if errors.Is(err, storage.ErrStalePot) && delta < 0 {
		return pot.Pot{}, s.classifyPotConflict(ctx, expected, -delta)
	}
	return p, err
}

func (s *Store) RecordTicketSale(ctx context.Context, price, expected float64) (pot.Pot, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE pot
		SET balance = balance + $1,
		    tickets_sold = tickets_sold + 1,
		    lifetime_tickets = lifetime_tickets + 1,
		    updated_at = NOW()
		WHERE id = 1 AND ABS(balance - $2) < $3
		RETURNING balance, tickets_sold, lifetime_tickets, lifetime_revenue, updated_at
	`, price, expected, balanceEpsilon)
	return scanPot(row)
}

func (s *Store) RetainRevenue(ctx context.Context, amount, expected float64) (pot.Pot, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE pot
		SET balance = GREATEST(balance - $1, 0),
		    lifetime_revenue = lifetime_revenue + $1,
		    updated_at = NOW()
		WHERE id = 1 AND ABS(balance - $2) < $3 AND balance - $1 >= -$3
		RETURNING balance, tickets_sold, lifetime_tickets, lifetime_revenue, updated_at
	`, amount, expected, balanceEpsilon)
	p, err := scanPot(row)
	if errors.Is(err, storage.ErrStalePot) {
		return pot.Pot{}, s.classifyPotConflict(ctx, expected, amount)
	}
	return p, err
}

// classifyPotConflict tells a stale snapshot apart from an overdraw after a
// conditional debit matched no row. The balance is re-read; if it still
// matches the caller's snapshot, the WHERE clause failed on the overdraw
// guard, not on staleness.
func (s *Store) classifyPotConflict(ctx context.Context, expected, debit float64) error {
	current, err := s.GetPot(ctx)
	if err != nil {
		return storage.ErrStalePot
	}
	if math.Abs(current.Balance-expected) < balanceEpsilon && debit > current.Balance+balanceEpsilon {
		return storage.ErrInsufficientPot
	}
	return storage.ErrStalePot
}

func (s *Store) ResetTicketsSold(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pot SET tickets_sold = 0, updated_at = NOW() WHERE id = 1
	`)
	return err
}

// --- helpers ----------------------------------------------------------------

const winRecordSelect = `
	SELECT id, ticket_id, draw_id, owner_id, wallet_address, match_count,
	       powerball_match, tier, amount, disbursed, payout_ref,
	       failure_reason, disbursed_at, created_at
	FROM win_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (ticket.Ticket, error) {
	var (
		t       ticket.Ticket
		numbers pq.Int64Array
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.WalletAddress, &numbers, &t.Powerball, &t.CreatedAt); err != nil {
		return ticket.Ticket{}, mapNoRows(err)
	}
	t.Numbers = toInts(numbers)
	return t, nil
}

func collectTickets(rows *sql.Rows) ([]ticket.Ticket, error) {
	var result []ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanWinRecord(row rowScanner) (draw.WinRecord, error) {
	var (
		rec         draw.WinRecord
		tier        int
		disbursedAt sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.TicketID, &rec.DrawID, &rec.OwnerID,
		&rec.WalletAddress, &rec.MatchCount, &rec.PowerballMatch, &tier,
		&rec.Amount, &rec.Disbursed, &rec.PayoutRef, &rec.FailureReason,
		&disbursedAt, &rec.CreatedAt); err != nil {
		return draw.WinRecord{}, mapNoRows(err)
	}
	rec.Tier = draw.Tier(tier)
	if disbursedAt.Valid {
		rec.DisbursedAt = disbursedAt.Time
	}
	return rec, nil
}

func collectWinRecords(rows *sql.Rows) ([]draw.WinRecord, error) {
	var result []draw.WinRecord
	for rows.Next() {
		rec, err := scanWinRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanPot(row rowScanner) (pot.Pot, error) {
	var p pot.Pot
	err := row.Scan(&p.Balance, &p.TicketsSold, &p.LifetimeTickets, &p.LifetimeRevenue, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// The conditional UPDATE matched no row: either the pot row is
		// missing or the expected balance was stale.
		return pot.Pot{}, storage.ErrStalePot
	}
	if err != nil {
		return pot.Pot{}, err
	}
	return p, nil
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func toInts(values pq.Int64Array) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
