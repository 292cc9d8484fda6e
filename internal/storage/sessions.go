package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tlog/internal/session"
)

var _ session.Sink = (*Store)(nil)

// AppendSession stores rec with a new ID and returns it.
func (s *Store) AppendSession(ctx context.Context, rec session.Record) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning session insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, category, summary, breakdown, started_at, ended_at, duration_seconds, manual, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.Category, rec.Summary, rec.Breakdown,
		formatTime(rec.StartedAt), formatTime(rec.EndedAt),
		int64(rec.Total()/time.Second), rec.Manual, now,
	)
	if err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}

	for cat, d := range rec.CategoryTotals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_categories (session_id, category, seconds) VALUES (?, ?, ?)`,
			id, cat, int64(d/time.Second),
		); err != nil {
			return "", fmt.Errorf("inserting category %q: %w", cat, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing session: %w", err)
	}
	return id, nil
}

const sessionColumns = `id, category, summary, breakdown, started_at, ended_at, manual`

// ListSessions returns sessions most recent first. A limit <= 0 returns all.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]session.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions ORDER BY ended_at DESC, created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []session.Record
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadCategories(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

// GetSession returns the session with id or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (session.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, ErrNotFound
	}
	if err != nil {
		return session.Record{}, err
	}

	recs := []session.Record{rec}
	if err := s.loadCategories(ctx, recs); err != nil {
		return session.Record{}, err
	}
	return recs[0], nil
}

// DeleteSession removes a session and its category totals.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning session delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_categories WHERE session_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// CategoryTotals aggregates time per category over sessions that ended at or
// after since. A zero since covers every session. Results are ordered by
// descending time, then name.
func (s *Store) CategoryTotals(ctx context.Context, since time.Time) ([]CategoryTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.category, SUM(c.seconds), COUNT(DISTINCT c.session_id)
		FROM session_categories c
		JOIN sessions s ON s.id = c.session_id
		WHERE s.ended_at >= ?
		GROUP BY c.category
		ORDER BY SUM(c.seconds) DESC, c.category ASC`, formatTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []CategoryTotal
	for rows.Next() {
		var ct CategoryTotal
		var secs int64
		if err := rows.Scan(&ct.Category, &secs, &ct.Sessions); err != nil {
			return nil, err
		}
		ct.Duration = time.Duration(secs) * time.Second
		totals = append(totals, ct)
	}
	return totals, rows.Err()
}

// Stats summarizes sessions that ended at or after since.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	st := Stats{Since: since}

	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(duration_seconds), 0)
		FROM sessions WHERE ended_at >= ?`, formatTime(since),
	).Scan(&st.Sessions, &total)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregating sessions: %w", err)
	}
	st.Total = time.Duration(total) * time.Second
	if st.Sessions > 0 {
		st.Average = (st.Total / time.Duration(st.Sessions)).Truncate(time.Second)
	}

	st.Categories, err = s.CategoryTotals(ctx, since)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregating categories: %w", err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Record, error) {
	var rec session.Record
	var startedAt, endedAt string
	if err := row.Scan(&rec.ID, &rec.Category, &rec.Summary, &rec.Breakdown, &startedAt, &endedAt, &rec.Manual); err != nil {
		return session.Record{}, err
	}
	var err error
	if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return session.Record{}, fmt.Errorf("parsing started_at for session %s: %w", rec.ID, err)
	}
	if rec.EndedAt, err = time.Parse(time.RFC3339, endedAt); err != nil {
		return session.Record{}, fmt.Errorf("parsing ended_at for session %s: %w", rec.ID, err)
	}
	return rec, nil
}

// loadCategories fills CategoryTotals for recs in one query.
func (s *Store) loadCategories(ctx context.Context, recs []session.Record) error {
	if len(recs) == 0 {
		return nil
	}
	byID := make(map[string]*session.Record, len(recs))
	args := make([]any, 0, len(recs))
	for i := range recs {
		recs[i].CategoryTotals = make(map[string]time.Duration)
		byID[recs[i].ID] = &recs[i]
		args = append(args, recs[i].ID)
	}

	placeholders := strings.Repeat(",?", len(recs)-1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, category, seconds FROM session_categories
		WHERE session_id IN (?`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("loading session categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, cat string
		var secs int64
		if err := rows.Scan(&id, &cat, &secs); err != nil {
			return err
		}
		if rec, ok := byID[id]; ok {
			rec.CategoryTotals[cat] = time.Duration(secs) * time.Second
		}
	}
	return rows.Err()
}

// SessionCategories returns the distinct categories ever recorded, sorted.
func (s *Store) SessionCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category FROM session_categories
		UNION SELECT category FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
