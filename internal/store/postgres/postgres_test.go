package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/alfredjeanlab/atlasgrid/internal/idgen"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/alfredjeanlab/atlasgrid/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var (
	spaceRowColumns    = []string{"space_id", "section", "status", "current_occupancy_id", "last_changed_sample", "updated_at"}
	intervalRowColumns = []string{"id", "space_id", "entered_at", "departed_at", "duration_us", "is_vehicle"}

	t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
)

func TestLedgerTime(t *testing.T) {
	in := time.Date(2026, 3, 1, 8, 0, 0, 123456789, time.UTC)
	if got := ledgerTime(in); got.Nanosecond() != 123456000 {
		t.Errorf("ledgerTime = %v", got)
	}
}

func TestNullString(t *testing.T) {
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("occ-1"); !ns.Valid || ns.String != "occ-1" {
		t.Errorf("nullString(\"occ-1\") = %v", ns)
	}
}

func TestQueryEnsureSpaces(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO parking_spaces .+ ON CONFLICT \\(space_id\\) DO NOTHING").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	zones := []model.Zone{{ID: "A1", Section: "SEC-A"}, {ID: "A2", Section: "SEC-A"}}
	if err := queryEnsureSpaces(context.Background(), db, zones); err != nil {
		t.Fatalf("queryEnsureSpaces: %v", err)
	}

	// No zones: no statement.
	if err := queryEnsureSpaces(context.Background(), db, nil); err != nil {
		t.Fatalf("queryEnsureSpaces(nil): %v", err)
	}
}

func TestQueryGetCurrentStatus(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT status FROM parking_spaces WHERE space_id = \\$1").WithArgs("A1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("obstacle"))
	mock.ExpectQuery("SELECT status FROM parking_spaces").WithArgs("ZZ").
		WillReturnError(sql.ErrNoRows)

	st, err := queryGetCurrentStatus(context.Background(), db, "A1")
	if err != nil || st != model.StatusObstacle {
		t.Errorf("status = %q, %v", st, err)
	}
	if _, err := queryGetCurrentStatus(context.Background(), db, "ZZ"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryGetSpaceState(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM parking_spaces WHERE space_id = \\$1").WithArgs("A1").
		WillReturnRows(sqlmock.NewRows(spaceRowColumns).AddRow("A1", "SEC-A", "occupied", "occ-1", int64(42), t0))

	st, err := queryGetSpaceState(context.Background(), db, "A1")
	if err != nil {
		t.Fatalf("queryGetSpaceState: %v", err)
	}
	if st.Status != model.StatusOccupied || st.CurrentOccupancyID != "occ-1" || st.LastChangedSample != 42 {
		t.Errorf("state = %+v", st)
	}
}

func TestQueryListSpaceStates(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM parking_spaces ORDER BY space_id").
		WillReturnRows(sqlmock.NewRows(spaceRowColumns).
			AddRow("A1", "SEC-A", "available", nil, int64(0), t0).
			AddRow("A2", "SEC-A", "bogus", nil, int64(0), t0))

	if _, err := queryListSpaceStates(context.Background(), db); err == nil {
		t.Error("expected error for unknown stored status")
	}
}

func TestQuerySaveSpaceState(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE parking_spaces").
		WithArgs("A1", "occupied", "occ-1", int64(7), t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE parking_spaces").
		WithArgs("ZZ", "available", nil, int64(0), t0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	err := querySaveSpaceState(ctx, db, &model.SpaceState{
		SpaceID: "A1", Status: model.StatusOccupied, CurrentOccupancyID: "occ-1", LastChangedSample: 7, UpdatedAt: t0,
	})
	if err != nil {
		t.Fatalf("querySaveSpaceState: %v", err)
	}
	err = querySaveSpaceState(ctx, db, &model.SpaceState{SpaceID: "ZZ", Status: model.StatusAvailable, UpdatedAt: t0})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := querySaveSpaceState(ctx, db, &model.SpaceState{SpaceID: "A1", Status: "reserved"}); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestQueryOpenInterval_Inserts(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM occupancy_intervals WHERE space_id = \\$1 AND departed_at IS NULL FOR UPDATE").
		WithArgs("A1").
		WillReturnRows(sqlmock.NewRows(intervalRowColumns))
	mock.ExpectExec("INSERT INTO occupancy_intervals").
		WithArgs(sqlmock.AnyArg(), "A1", t0, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := queryOpenInterval(context.Background(), db, "A1", t0, true)
	if err != nil {
		t.Fatalf("queryOpenInterval: %v", err)
	}
	if !idgen.IsIntervalID(id) {
		t.Errorf("id = %q", id)
	}
}

func TestQueryOpenInterval_Idempotent(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM occupancy_intervals WHERE space_id = \\$1 AND departed_at IS NULL").
		WithArgs("A1").
		WillReturnRows(sqlmock.NewRows(intervalRowColumns).AddRow("occ-1", "A1", t0, nil, nil, true))

	// A retried write with the same entry (sub-microsecond noise) and class.
	id, err := queryOpenInterval(context.Background(), db, "A1", t0.Add(300*time.Nanosecond), true)
	if err != nil || id != "occ-1" {
		t.Errorf("got %q, %v; want existing occ-1", id, err)
	}
}

func TestQueryOpenInterval_Conflict(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM occupancy_intervals").WithArgs("A1").
		WillReturnRows(sqlmock.NewRows(intervalRowColumns).AddRow("occ-1", "A1", t0, nil, nil, true))

	_, err := queryOpenInterval(context.Background(), db, "A1", t0.Add(time.Minute), false)
	if !errors.Is(err, model.ErrIntervalOpen) {
		t.Errorf("expected ErrIntervalOpen, got %v", err)
	}
}

func TestQueryOpenInterval_TranslatesConstraintErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		code pq.ErrorCode
		want error
	}{
		{"UniqueOpen", pgUniqueViolation, model.ErrIntervalOpen},
		{"UnknownSpace", pgForeignKeyViolation, model.ErrNotFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery("SELECT .+ FROM occupancy_intervals").WithArgs("A1").
				WillReturnRows(sqlmock.NewRows(intervalRowColumns))
			mock.ExpectExec("INSERT INTO occupancy_intervals").
				WillReturnError(&pq.Error{Code: tc.code})

			_, err := queryOpenInterval(context.Background(), db, "A1", t0, true)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestQueryCloseInterval(t *testing.T) {
	db, mock := newMockDB(t)
	departure := t0.Add(90 * time.Minute)
	mock.ExpectQuery("SELECT entered_at, departed_at FROM occupancy_intervals WHERE id = \\$1 FOR UPDATE").
		WithArgs("occ-1").
		WillReturnRows(sqlmock.NewRows([]string{"entered_at", "departed_at"}).AddRow(t0, nil))
	mock.ExpectExec("UPDATE occupancy_intervals SET departed_at = \\$2, duration_us = \\$3").
		WithArgs("occ-1", departure, (90 * time.Minute).Microseconds()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryCloseInterval(context.Background(), db, "occ-1", departure); err != nil {
		t.Fatalf("queryCloseInterval: %v", err)
	}
}

func TestQueryCloseInterval_AlreadyClosedIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT entered_at, departed_at FROM occupancy_intervals").
		WithArgs("occ-1").
		WillReturnRows(sqlmock.NewRows([]string{"entered_at", "departed_at"}).AddRow(t0, t0.Add(time.Hour)))

	if err := queryCloseInterval(context.Background(), db, "occ-1", t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("duplicate close should be a no-op, got %v", err)
	}
}

func TestQueryCloseInterval_Errors(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT entered_at, departed_at FROM occupancy_intervals").
		WithArgs("occ-missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT entered_at, departed_at FROM occupancy_intervals").
		WithArgs("occ-1").
		WillReturnRows(sqlmock.NewRows([]string{"entered_at", "departed_at"}).AddRow(t0, nil))

	ctx := context.Background()
	if err := queryCloseInterval(ctx, db, "occ-missing", t0); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := queryCloseInterval(ctx, db, "occ-1", t0.Add(-time.Second)); err == nil {
		t.Error("expected error for departure before entry")
	}
}

func TestQueryGetInterval(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM occupancy_intervals WHERE id = \\$1").WithArgs("occ-1").
		WillReturnRows(sqlmock.NewRows(intervalRowColumns).
			AddRow("occ-1", "A1", t0, t0.Add(time.Hour), time.Hour.Microseconds(), false))

	iv, err := queryGetInterval(context.Background(), db, "occ-1")
	if err != nil {
		t.Fatalf("queryGetInterval: %v", err)
	}
	if iv.IsOpen() || *iv.Duration != time.Hour || iv.IsVehicle {
		t.Errorf("interval = %+v", iv)
	}
	if *iv.Duration != iv.DepartedAt.Sub(iv.EnteredAt) {
		t.Error("duration must equal departure minus entry")
	}
}

func TestQueryListIntervals_Filters(t *testing.T) {
	since := t0
	until := t0.Add(24 * time.Hour)
	for _, tc := range []struct {
		name   string
		filter model.IntervalFilter
		query  string
		args   []driver.Value
	}{
		{"None", model.IntervalFilter{}, "FROM occupancy_intervals ORDER BY entered_at DESC, id$", nil},
		{"Space", model.IntervalFilter{SpaceID: "A1"}, "WHERE space_id = \\$1 ORDER BY", []driver.Value{"A1"}},
		{"OpenVehicles", model.IntervalFilter{OpenOnly: true, VehiclesOnly: true}, "WHERE departed_at IS NULL AND is_vehicle ORDER BY", nil},
		{"Window", model.IntervalFilter{Since: &since, Until: &until, Limit: 5},
			"WHERE entered_at >= \\$1 AND entered_at < \\$2 ORDER BY entered_at DESC, id LIMIT \\$3", []driver.Value{since, until, 5}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			exp := mock.ExpectQuery(tc.query)
			if tc.args != nil {
				exp = exp.WithArgs(tc.args...)
			}
			exp.WillReturnRows(sqlmock.NewRows(intervalRowColumns).AddRow("occ-1", "A1", t0, nil, nil, true))

			ivs, err := queryListIntervals(context.Background(), db, tc.filter)
			if err != nil {
				t.Fatalf("queryListIntervals: %v", err)
			}
			if len(ivs) != 1 || !ivs[0].IsOpen() {
				t.Errorf("intervals = %+v", ivs)
			}
		})
	}
}

func TestQueryHourlyEntries(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []time.Time{
		day.Add(8 * time.Hour),
		day.Add(8*time.Hour + 5*time.Minute),
		day.Add(17 * time.Hour),
	}
	for _, tc := range []struct {
		name string
		loc  *time.Location
		want map[int]int
	}{
		{"DefaultUTC", nil, map[int]int{8: 2, 17: 1}},
		{"FixedOffset", time.FixedZone("CET", 3600), map[int]int{9: 2, 18: 1}},
		{"ServerLocal", time.Local, map[int]int{
			entries[0].In(time.Local).Hour(): 2,
			entries[2].In(time.Local).Hour(): 1,
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			rows := sqlmock.NewRows([]string{"entered_at"})
			for _, e := range entries {
				rows.AddRow(e)
			}
			mock.ExpectQuery("SELECT entered_at FROM occupancy_intervals").
				WithArgs(day, day.Add(24*time.Hour)).
				WillReturnRows(rows)

			counts, err := queryHourlyEntries(context.Background(), db, day, day.Add(24*time.Hour), tc.loc)
			if err != nil {
				t.Fatalf("queryHourlyEntries: %v", err)
			}
			if len(counts) != len(tc.want) {
				t.Fatalf("counts = %v, want %v", counts, tc.want)
			}
			for h, n := range tc.want {
				if counts[h] != n {
					t.Errorf("counts[%d] = %d, want %d", h, counts[h], n)
				}
			}
		})
	}
}

func TestRunInTransaction_Commit(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT entered_at, departed_at FROM occupancy_intervals").
		WithArgs("occ-1").
		WillReturnRows(sqlmock.NewRows([]string{"entered_at", "departed_at"}).AddRow(t0, nil))
	mock.ExpectExec("UPDATE occupancy_intervals").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE parking_spaces").
		WithArgs("A1", "available", nil, int64(9), t0.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CloseInterval(ctx, "occ-1", t0.Add(time.Hour)); err != nil {
			return err
		}
		return tx.SaveSpaceState(ctx, &model.SpaceState{
			SpaceID: "A1", Status: model.StatusAvailable, LastChangedSample: 9, UpdatedAt: t0.Add(time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM occupancy_intervals").WithArgs("A1").
		WillReturnRows(sqlmock.NewRows(intervalRowColumns))
	mock.ExpectExec("INSERT INTO occupancy_intervals").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE parking_spaces").
		WillReturnError(&pq.Error{Code: "23514", Message: "violates check constraint"})
	mock.ExpectRollback()

	ctx := context.Background()
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		id, err := tx.OpenInterval(ctx, "A1", t0, true)
		if err != nil {
			return err
		}
		return tx.SaveSpaceState(ctx, &model.SpaceState{
			SpaceID: "A1", Status: model.StatusOccupied, CurrentOccupancyID: id, UpdatedAt: t0,
		})
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunInTransaction_BeginError(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	called := false
	err := s.RunInTransaction(context.Background(), func(tx store.Store) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}

func TestPostgresStore_OpenIntervalUsesTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM occupancy_intervals .+ FOR UPDATE").WithArgs("A1").
		WillReturnRows(sqlmock.NewRows(intervalRowColumns))
	mock.ExpectExec("INSERT INTO occupancy_intervals").
		WithArgs(sqlmock.AnyArg(), "A1", t0, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := s.OpenInterval(context.Background(), "A1", t0, false); err != nil {
		t.Fatalf("OpenInterval: %v", err)
	}
}
