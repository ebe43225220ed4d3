package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/idgen"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

const (
	defaultIntervalLimit = 100
	maxIntervalLimit     = 1000
	defaultReportDays    = 7
	maxReportDays        = 366
	dateLayout           = "2006-01-02"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /v1/health", s.handleHealth)
	s.handle(mux, "GET /v1/spaces", s.handleListSpaces)
	s.handle(mux, "GET /v1/spaces/{id}", s.handleGetSpace)
	s.handle(mux, "GET /v1/stats", s.handleGetStats)
	s.handle(mux, "GET /v1/intervals", s.handleListIntervals)
	s.handle(mux, "GET /v1/intervals/{id}", s.handleGetInterval)
	s.handle(mux, "GET /v1/reports/peak-hours", s.handlePeakHours)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return AuthMiddleware(authToken, mux)
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.WrapHandler(pattern, h))
}

type healthResponse struct {
	Status    string     `json:"status"`
	Spaces    int        `json:"spaces"`
	Stale     int        `json:"stale"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
	SyncError string     `json:"sync_error,omitempty"`
}

// handleHealth handles GET /v1/health. It answers 503 once every zone has
// gone stale.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Spaces: len(s.spaces.Snapshot())}
	code := http.StatusOK
	if s.live != nil {
		resp.Stale = s.live.StaleCount()
		if s.live.AllStale() {
			resp.Status = "stale"
			code = http.StatusServiceUnavailable
		}
	}
	if s.sync != nil {
		if at, err := s.sync.LastSync(); !at.IsZero() {
			resp.LastSync = &at
			if err != nil {
				resp.SyncError = err.Error()
			}
		}
	}
	writeJSON(w, code, resp)
}

// handleListSpaces handles GET /v1/spaces?section=&status=.
func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := s.filteredSpaces(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"spaces": spaces})
}

// handleGetSpace handles GET /v1/spaces/{id}.
func (s *Server) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sp, ok := s.spaces.Space(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("space %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, sp)
}

// handleGetStats handles GET /v1/stats?section=.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("section") == "" {
		writeJSON(w, http.StatusOK, s.spaces.Stats())
		return
	}
	spaces, err := s.filteredSpaces(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ComputeStats(spaces))
}

func (s *Server) filteredSpaces(r *http.Request) ([]model.SpaceSnapshot, error) {
	q := r.URL.Query()
	section := q.Get("section")
	var status model.Status
	if v := q.Get("status"); v != "" {
		st, err := model.ParseStatus(v)
		if err != nil {
			return nil, err
		}
		status = st
	}

	all := s.spaces.Snapshot()
	out := make([]model.SpaceSnapshot, 0, len(all))
	for _, sp := range all {
		if section != "" && sp.Section != section {
			continue
		}
		if status != "" && sp.Status != status {
			continue
		}
		out = append(out, sp)
	}
	return out, nil
}

// handleListIntervals handles GET /v1/intervals.
//
// Query parameters: space, open, vehicles, since, until (RFC 3339), limit.
func (s *Server) handleListIntervals(w http.ResponseWriter, r *http.Request) {
	filter, err := parseIntervalFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	intervals, err := s.ledger.ListIntervals(r.Context(), filter)
	if err != nil {
		s.logger.Error("list intervals", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list intervals")
		return
	}
	if intervals == nil {
		intervals = []*model.OccupancyInterval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"intervals": intervals})
}

func parseIntervalFilter(r *http.Request) (model.IntervalFilter, error) {
	q := r.URL.Query()
	f := model.IntervalFilter{
		SpaceID: q.Get("space"),
		Limit:   defaultIntervalLimit,
	}
	var err error
	if f.OpenOnly, err = parseBool(q.Get("open")); err != nil {
		return f, fmt.Errorf("open: %w", err)
	}
	if f.VehiclesOnly, err = parseBool(q.Get("vehicles")); err != nil {
		return f, fmt.Errorf("vehicles: %w", err)
	}
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		return f, fmt.Errorf("since: %w", err)
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		return f, fmt.Errorf("until: %w", err)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("limit: must be a positive integer")
		}
		f.Limit = min(n, maxIntervalLimit)
	}
	return f, nil
}

// handleGetInterval handles GET /v1/intervals/{id}.
func (s *Server) handleGetInterval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !idgen.IsIntervalID(id) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed interval id %q", id))
		return
	}
	iv, err := s.ledger.GetInterval(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("interval %q not found", id))
		return
	}
	if err != nil {
		s.logger.Error("get interval", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get interval")
		return
	}
	writeJSON(w, http.StatusOK, iv)
}

// PeakHoursReport is the response of GET /v1/reports/peak-hours.
type PeakHoursReport struct {
	From  string             `json:"from"`
	To    string             `json:"to"`
	Days  int                `json:"days"`
	Hours []model.HourBucket `json:"hours"`
}

// handlePeakHours handles GET /v1/reports/peak-hours?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Both dates are inclusive and default to the last seven days.
func (s *Server) handlePeakHours(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := time.Now().In(s.location)
	to := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, s.location)
	if v := q.Get("to"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, s.location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to: expected YYYY-MM-DD")
			return
		}
		to = d
	}
	from := to.AddDate(0, 0, -(defaultReportDays - 1))
	if v := q.Get("from"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, s.location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from: expected YYYY-MM-DD")
			return
		}
		from = d
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}
	if from.AddDate(0, 0, maxReportDays-1).Before(to) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("range exceeds %d days", maxReportDays))
		return
	}

	end := to.AddDate(0, 0, 1)
	counts, err := s.ledger.HourlyEntries(r.Context(), from, end, s.location)
	if err != nil {
		s.logger.Error("peak hours report", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	days := calendarDays(from, to)
	writeJSON(w, http.StatusOK, PeakHoursReport{
		From:  from.Format(dateLayout),
		To:    to.Format(dateLayout),
		Days:  days,
		Hours: model.PeakHours(counts, days),
	})
}

// calendarDays counts the dates in [from, to], independent of DST shifts.
func calendarDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a)/(24*time.Hour)) + 1
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.New("expected RFC 3339 timestamp")
	}
	return &t, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
