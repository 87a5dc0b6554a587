package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fortuna/scoreline/internal/store"
)

const matchColumns = `
	external_id,
	status_id, status_source, status_timestamp,
	minute, minute_source, minute_timestamp,
	home_score_display, away_score_display,
	home_score_regular, home_score_overtime, home_score_penalty,
	away_score_regular, away_score_overtime, away_score_penalty,
	score_source, score_timestamp,
	match_time, home_team_id, away_team_id, competition_id,
	created_at, updated_at`

// MatchRepository is the Postgres implementation of store.Store. Every
// conditional write is a single UPDATE whose WHERE clause carries the
// authority rule, so concurrent writers never need an application lock.
type MatchRepository struct {
	db *store.Database

	FullTimeMinute int
}

var _ store.Store = (*MatchRepository)(nil)

// NewMatchRepository creates a new match repository.
func NewMatchRepository(db *store.Database) *MatchRepository {
	return &MatchRepository{db: db, FullTimeMinute: store.DefaultFullTimeMinute}
}

// Get finds a match by its provider id.
func (r *MatchRepository) Get(ctx context.Context, externalID string) (*store.MatchSnapshot, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE external_id = $1`

	m, err := scanMatch(r.db.DB().QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying match: %w", err)
	}
	return m, nil
}

// FindCandidates runs the stuck or pre-sync scan.
func (r *MatchRepository) FindCandidates(ctx context.Context, c store.Criteria) ([]*store.MatchSnapshot, error) {
	var (
		query string
		args  []any
	)

	limit := sql.NullInt64{Int64: int64(c.Limit), Valid: c.Limit > 0}

	switch c.Kind {
	case store.ScanStuck:
		query = `SELECT ` + matchColumns + ` FROM matches
			WHERE (status_id IN (2, 3, 4, 5, 7) AND (
					COALESCE(minute, 0) >= $1
					OR (COALESCE(minute, 0) >= $2 AND (score_timestamp IS NULL OR score_timestamp < $3))
					OR match_time < $4))
				OR (status_id = 1 AND match_time < $5)
			ORDER BY match_time, external_id
			LIMIT $6`
		args = []any{
			c.HighMinute,
			c.FullTimeMinute,
			c.Now.Add(-c.StaleScoreWindow),
			c.Now.Add(-c.HardCloseAfter),
			c.Now.Add(-c.KickoffOverdue),
			limit,
		}
	case store.ScanPreSync:
		query = `SELECT ` + matchColumns + ` FROM matches
			WHERE status_id <> 8
				AND match_time >= $1 AND match_time < $2
				AND (COALESCE(home_team_id, '') = '' OR COALESCE(away_team_id, '') = '')
			ORDER BY match_time, external_id
			LIMIT $3`
		args = []any{c.DayStart, c.DayEnd, limit}
	default:
		return nil, fmt.Errorf("unknown scan kind %q", c.Kind)
	}

	rows, err := r.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows)
}

// ConditionalUpdate writes one field group if the authority rule allows it.
func (r *MatchRepository) ConditionalUpdate(ctx context.Context, u store.Update) (bool, error) {
	if err := u.Validate(); err != nil {
		return false, err
	}

	var (
		query string
		args  []any
	)

	switch u.Group {
	case store.GroupStatus:
		if !u.Status.Known() {
			return false, nil
		}
		query = `UPDATE matches SET
				status_id = $2, status_source = $3, status_timestamp = $4, updated_at = $4
			WHERE external_id = $1 AND (
				$5::boolean OR (
					(status_timestamp IS NULL OR status_timestamp <= $4)
					AND status_id <> 8
					AND (status_id NOT IN (1, 2, 3, 4, 5, 7) OR $2::smallint >= status_id)))`
		args = []any{u.ExternalID, int(u.Status), u.Source, u.Timestamp, u.AllowOverride}
	case store.GroupMinute:
		query = `UPDATE matches SET
				minute = $2, minute_source = $3, minute_timestamp = $4, updated_at = $4
			WHERE external_id = $1 AND (
				$5::boolean OR minute_timestamp IS NULL OR minute_timestamp <= $4)`
		args = []any{u.ExternalID, nullInt(u.Minute), u.Source, u.Timestamp, u.AllowOverride}
	case store.GroupScore:
		home, away := u.Score.Display()
		query = `UPDATE matches SET
				home_score_display = $2, away_score_display = $3,
				home_score_regular = $4, home_score_overtime = $5, home_score_penalty = $6,
				away_score_regular = $7, away_score_overtime = $8, away_score_penalty = $9,
				score_source = $10, score_timestamp = $11, updated_at = $11
			WHERE external_id = $1 AND (
				$12::boolean OR score_timestamp IS NULL OR score_timestamp <= $11)`
		args = []any{
			u.ExternalID, home, away,
			u.Score.Home.Regular, u.Score.Home.Overtime, u.Score.Home.Penalty,
			u.Score.Away.Regular, u.Score.Away.Overtime, u.Score.Away.Penalty,
			u.Source, u.Timestamp, u.AllowOverride,
		}
	}

	result, err := r.db.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating %s: %w", u.Group, err)
	}
	return r.applied(ctx, result, u.ExternalID)
}

// MarkTerminal finishes a match unless it is already finished or a newer
// status write exists. The minute is clamped to at least full time.
func (r *MatchRepository) MarkTerminal(ctx context.Context, externalID string, finalMinute *int, source string, ts time.Time) (bool, error) {
	query := `UPDATE matches SET
			status_id = 8, status_source = $3, status_timestamp = $4,
			minute = GREATEST(COALESCE($2::int, minute, $5::int), $5::int),
			minute_source = $3, minute_timestamp = $4,
			updated_at = $4
		WHERE external_id = $1
			AND status_id <> 8
			AND (status_timestamp IS NULL OR status_timestamp <= $4)`

	result, err := r.db.DB().ExecContext(ctx, query, externalID, nullInt(finalMinute), source, ts, r.FullTimeMinute)
	if err != nil {
		return false, fmt.Errorf("marking match terminal: %w", err)
	}
	return r.applied(ctx, result, externalID)
}

// Upsert inserts a new match or refreshes an existing one under row lock.
// Values are written without timestamp checks; status still cannot move
// backward or out of FINISHED, and the kickoff time is kept once set.
func (r *MatchRepository) Upsert(ctx context.Context, m *store.MatchSnapshot) error {
	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanMatch(tx.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE external_id = $1 FOR UPDATE`, m.ExternalID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing = nil
	case err != nil:
		return fmt.Errorf("locking match: %w", err)
	}

	if existing == nil {
		row := m.Clone()
		if row.HasScore() {
			home, away := row.Score().Display()
			row.HomeScoreDisplay, row.AwayScoreDisplay = &home, &away
		}
		if err := writeMatch(ctx, tx, row, true); err != nil {
			return err
		}
		return tx.Commit()
	}

	existing.MergeSync(m)

	if err := writeMatch(ctx, tx, existing, false); err != nil {
		return err
	}
	return tx.Commit()
}

// CountByStatus returns the number of matches per status id.
func (r *MatchRepository) CountByStatus(ctx context.Context) (map[store.StatusID]int, error) {
	rows, err := r.db.DB().QueryContext(ctx, `SELECT status_id, COUNT(*) FROM matches GROUP BY status_id`)
	if err != nil {
		return nil, fmt.Errorf("counting matches: %w", err)
	}
	defer rows.Close()

	out := make(map[store.StatusID]int)
	for rows.Next() {
		var status, n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		out[store.StatusID(status)] = n
	}
	return out, rows.Err()
}

func (r *MatchRepository) applied(ctx context.Context, result sql.Result, externalID string) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	err = r.db.DB().QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM matches WHERE external_id = $1)`, externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking match: %w", err)
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func writeMatch(ctx context.Context, tx *sql.Tx, m *store.MatchSnapshot, insert bool) error {
	args := []any{
		m.ExternalID,
		int(m.StatusID), nullString(m.StatusSource), nullTime(m.StatusTimestamp),
		nullInt(m.Minute), nullString(m.MinuteSource), nullTime(m.MinuteTimestamp),
		nullInt(m.HomeScoreDisplay), nullInt(m.AwayScoreDisplay),
		m.Home.Regular, m.Home.Overtime, m.Home.Penalty,
		m.Away.Regular, m.Away.Overtime, m.Away.Penalty,
		nullString(m.ScoreSource), nullTime(m.ScoreTimestamp),
		m.MatchTime, nullString(m.HomeTeamID), nullString(m.AwayTeamID), nullString(m.CompetitionID),
	}

	var query string
	if insert {
		query = `INSERT INTO matches (
				external_id,
				status_id, status_source, status_timestamp,
				minute, minute_source, minute_timestamp,
				home_score_display, away_score_display,
				home_score_regular, home_score_overtime, home_score_penalty,
				away_score_regular, away_score_overtime, away_score_penalty,
				score_source, score_timestamp,
				match_time, home_team_id, away_team_id, competition_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			ON CONFLICT (external_id) DO NOTHING`
	} else {
		query = `UPDATE matches SET
				status_id = $2, status_source = $3, status_timestamp = $4,
				minute = $5, minute_source = $6, minute_timestamp = $7,
				home_score_display = $8, away_score_display = $9,
				home_score_regular = $10, home_score_overtime = $11, home_score_penalty = $12,
				away_score_regular = $13, away_score_overtime = $14, away_score_penalty = $15,
				score_source = $16, score_timestamp = $17,
				match_time = $18, home_team_id = $19, away_team_id = $20, competition_id = $21,
				updated_at = NOW()
			WHERE external_id = $1`
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting match: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*store.MatchSnapshot, error) {
	var (
		m                                    store.MatchSnapshot
		status                               int
		statusSource, minuteSource, scoreSrc sql.NullString
		statusTS, minuteTS, scoreTS          sql.NullTime
		minute, homeDisplay, awayDisplay     sql.NullInt64
		homeTeam, awayTeam, competition      sql.NullString
	)

	err := row.Scan(
		&m.ExternalID,
		&status, &statusSource, &statusTS,
		&minute, &minuteSource, &minuteTS,
		&homeDisplay, &awayDisplay,
		&m.Home.Regular, &m.Home.Overtime, &m.Home.Penalty,
		&m.Away.Regular, &m.Away.Overtime, &m.Away.Penalty,
		&scoreSrc, &scoreTS,
		&m.MatchTime, &homeTeam, &awayTeam, &competition,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.StatusID = store.StatusID(status)
	m.StatusSource = statusSource.String
	m.StatusTimestamp = statusTS.Time
	m.Minute = intFromNull(minute)
	m.MinuteSource = minuteSource.String
	m.MinuteTimestamp = minuteTS.Time
	m.HomeScoreDisplay = intFromNull(homeDisplay)
	m.AwayScoreDisplay = intFromNull(awayDisplay)
	m.ScoreSource = scoreSrc.String
	m.ScoreTimestamp = scoreTS.Time
	m.HomeTeamID = homeTeam.String
	m.AwayTeamID = awayTeam.String
	m.CompetitionID = competition.String
	return &m, nil
}

func scanMatches(rows *sql.Rows) ([]*store.MatchSnapshot, error) {
	var matches []*store.MatchSnapshot
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
