package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanSpaceState scans a row in spaceColumns order.
func scanSpaceState(row scannable) (*model.SpaceState, error) {
	var (
		st          model.SpaceState
		status      string
		occupancyID sql.NullString
		lastChanged int64
	)
	if err := row.Scan(&st.SpaceID, &st.Section, &status, &occupancyID, &lastChanged, &st.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := model.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("space %s: %w", st.SpaceID, err)
	}
	st.Status = parsed
	st.CurrentOccupancyID = occupancyID.String
	st.LastChangedSample = uint64(lastChanged)
	return &st, nil
}

func scanSpaceStates(rows *sql.Rows) ([]*model.SpaceState, error) {
	var out []*model.SpaceState
	for rows.Next() {
		st, err := scanSpaceState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanInterval scans a row in intervalColumns order.
func scanInterval(row scannable) (*model.OccupancyInterval, error) {
	var (
		iv         model.OccupancyInterval
		departedAt sql.NullTime
		durationUS sql.NullInt64
	)
	if err := row.Scan(&iv.ID, &iv.SpaceID, &iv.EnteredAt, &departedAt, &durationUS, &iv.IsVehicle); err != nil {
		return nil, err
	}
	if departedAt.Valid {
		t := departedAt.Time
		iv.DepartedAt = &t
	}
	if durationUS.Valid {
		d := time.Duration(durationUS.Int64) * time.Microsecond
		iv.Duration = &d
	}
	return &iv, nil
}

func scanIntervals(rows *sql.Rows) ([]*model.OccupancyInterval, error) {
	var out []*model.OccupancyInterval
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
