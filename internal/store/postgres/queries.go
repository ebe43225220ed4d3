package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/atlasgrid/internal/idgen"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// spaceColumns is the column list used for SELECT statements on parking_spaces.
const spaceColumns = `space_id, section, status, current_occupancy_id, last_changed_sample, updated_at`

// intervalColumns is the column list used for SELECT statements on occupancy_intervals.
const intervalColumns = `id, space_id, entered_at, departed_at, duration_us, is_vehicle`

// PostgreSQL error codes translated into ledger errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pgCode returns the SQLSTATE of a lib/pq error, or "".
func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// ledgerTime truncates t to the microsecond precision of TIMESTAMPTZ so
// values compare equal after a round trip.
func ledgerTime(t time.Time) time.Time {
	return t.Truncate(time.Microsecond)
}

func queryEnsureSpaces(ctx context.Context, db executor, zones []model.Zone) error {
	if len(zones) == 0 {
		return nil
	}
	ids := make([]string, len(zones))
	sections := make([]string, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
		sections[i] = z.Section
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO parking_spaces (space_id, section)
		SELECT * FROM unnest($1::text[], $2::text[])
		ON CONFLICT (space_id) DO NOTHING`,
		pq.Array(ids), pq.Array(sections),
	)
	if err != nil {
		return fmt.Errorf("ensure spaces: %w", err)
	}
	return nil
}

func queryGetCurrentStatus(ctx context.Context, db executor, spaceID string) (model.Status, error) {
	var status string
	err := db.QueryRowContext(ctx, `SELECT status FROM parking_spaces WHERE space_id = $1`, spaceID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("space %s: %w", spaceID, model.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get status of %s: %w", spaceID, err)
	}
	return model.ParseStatus(status)
}

func queryGetSpaceState(ctx context.Context, db executor, spaceID string) (*model.SpaceState, error) {
	row := db.QueryRowContext(ctx, `SELECT `+spaceColumns+` FROM parking_spaces WHERE space_id = $1`, spaceID)
	st, err := scanSpaceState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("space %s: %w", spaceID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get space %s: %w", spaceID, err)
	}
	return st, nil
}

func queryListSpaceStates(ctx context.Context, db executor) ([]*model.SpaceState, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+spaceColumns+` FROM parking_spaces ORDER BY space_id`)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()
	return scanSpaceStates(rows)
}

func querySaveSpaceState(ctx context.Context, db executor, st *model.SpaceState) error {
	if !st.Status.IsValid() {
		return fmt.Errorf("space %s: invalid status %q", st.SpaceID, st.Status)
	}
	updatedAt := st.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	res, err := db.ExecContext(ctx, `
		UPDATE parking_spaces
		SET status = $2, current_occupancy_id = $3, last_changed_sample = $4, updated_at = $5
		WHERE space_id = $1`,
		st.SpaceID,
		string(st.Status),
		nullString(st.CurrentOccupancyID),
		int64(st.LastChangedSample),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("save space %s: %w", st.SpaceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save space %s: %w", st.SpaceID, err)
	}
	if n == 0 {
		return fmt.Errorf("space %s: %w", st.SpaceID, model.ErrNotFound)
	}
	return nil
}

func queryOpenInterval(ctx context.Context, db executor, spaceID string, entry time.Time, isVehicle bool) (string, error) {
	entry = ledgerTime(entry)

	cur, err := queryGetOpenInterval(ctx, db, spaceID, true)
	switch {
	case err == nil:
		if cur.EnteredAt.Equal(entry) && cur.IsVehicle == isVehicle {
			return cur.ID, nil
		}
		return "", fmt.Errorf("space %s (open %s): %w", spaceID, cur.ID, model.ErrIntervalOpen)
	case !errors.Is(err, model.ErrNotFound):
		return "", err
	}

	id, err := idgen.IntervalID()
	if err != nil {
		return "", err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO occupancy_intervals (id, space_id, entered_at, is_vehicle)
		VALUES ($1, $2, $3, $4)`,
		id, spaceID, entry, isVehicle,
	)
	switch pgCode(err) {
	case "":
	case pgUniqueViolation:
		return "", fmt.Errorf("space %s: %w", spaceID, model.ErrIntervalOpen)
	case pgForeignKeyViolation:
		return "", fmt.Errorf("space %s: %w", spaceID, model.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("open interval for %s: %w", spaceID, err)
	}
	return id, nil
}

func queryCloseInterval(ctx context.Context, db executor, id string, departure time.Time) error {
	var (
		enteredAt  time.Time
		departedAt sql.NullTime
	)
	err := db.QueryRowContext(ctx,
		`SELECT entered_at, departed_at FROM occupancy_intervals WHERE id = $1 FOR UPDATE`, id,
	).Scan(&enteredAt, &departedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("occupancy %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("close interval %s: %w", id, err)
	}
	if departedAt.Valid {
		return nil
	}

	departure = ledgerTime(departure)
	if departure.Before(enteredAt) {
		return fmt.Errorf("occupancy %s: departure %s before entry %s", id,
			departure.Format(time.RFC3339Nano), enteredAt.Format(time.RFC3339Nano))
	}
	_, err = db.ExecContext(ctx, `
		UPDATE occupancy_intervals
		SET departed_at = $2, duration_us = $3
		WHERE id = $1 AND departed_at IS NULL`,
		id, departure, departure.Sub(enteredAt).Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("close interval %s: %w", id, err)
	}
	return nil
}

func queryGetInterval(ctx context.Context, db executor, id string) (*model.OccupancyInterval, error) {
	row := db.QueryRowContext(ctx, `SELECT `+intervalColumns+` FROM occupancy_intervals WHERE id = $1`, id)
	iv, err := scanInterval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("occupancy %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get interval %s: %w", id, err)
	}
	return iv, nil
}

func queryGetOpenInterval(ctx context.Context, db executor, spaceID string, forUpdate bool) (*model.OccupancyInterval, error) {
	q := `SELECT ` + intervalColumns + ` FROM occupancy_intervals WHERE space_id = $1 AND departed_at IS NULL`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	iv, err := scanInterval(db.QueryRowContext(ctx, q, spaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open occupancy for %s: %w", spaceID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get open interval for %s: %w", spaceID, err)
	}
	return iv, nil
}

func queryListIntervals(ctx context.Context, db executor, filter model.IntervalFilter) ([]*model.OccupancyInterval, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if filter.SpaceID != "" {
		whereClauses = append(whereClauses, "space_id = "+nextArg())
		args = append(args, filter.SpaceID)
	}
	if filter.OpenOnly {
		whereClauses = append(whereClauses, "departed_at IS NULL")
	}
	if filter.VehiclesOnly {
		whereClauses = append(whereClauses, "is_vehicle")
	}
	if filter.Since != nil {
		whereClauses = append(whereClauses, "entered_at >= "+nextArg())
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		whereClauses = append(whereClauses, "entered_at < "+nextArg())
		args = append(args, *filter.Until)
	}

	q := "SELECT " + intervalColumns + " FROM occupancy_intervals"
	if len(whereClauses) > 0 {
		q += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	q += " ORDER BY entered_at DESC, id"
	if filter.Limit > 0 {
		q += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list intervals: %w", err)
	}
	defer rows.Close()
	return scanIntervals(rows)
}

// queryHourlyEntries buckets vehicle entries by hour of day in loc. The
// conversion happens here because loc may be time.Local, which has no name
// Postgres recognises.
func queryHourlyEntries(ctx context.Context, db executor, from, to time.Time, loc *time.Location) (map[int]int, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := db.QueryContext(ctx, `
		SELECT entered_at FROM occupancy_intervals
		WHERE is_vehicle AND entered_at >= $1 AND entered_at < $2`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("hourly entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var entered time.Time
		if err := rows.Scan(&entered); err != nil {
			return nil, fmt.Errorf("scan hourly entries: %w", err)
		}
		counts[entered.In(loc).Hour()]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}
