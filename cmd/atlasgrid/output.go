package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/client"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/alfredjeanlab/atlasgrid/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// formatDuration trims a duration to whole seconds for display.
func formatDuration(d time.Duration) string {
	return d.Truncate(time.Second).String()
}

func printSpaceTable(w io.Writer, spaces []model.SpaceSnapshot) {
	tw := newTable(w)
	fmt.Fprintln(tw, "SPACE\tSECTION\tSTATUS\tSINCE\tOCCUPANCY\tLAST SEEN")
	for _, sp := range spaces {
		occ := sp.CurrentOccupancyID
		if occ == "" {
			occ = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			sp.SpaceID, sp.Section, ui.RenderStatus(sp.Status, sp.Stale),
			formatTime(sp.UpdatedAt), occ, formatTime(sp.LastSeen))
	}
	tw.Flush()
}

func printSpaceDetail(w io.Writer, sp *model.SpaceSnapshot) {
	fmt.Fprintf(w, "Space:       %s\n", sp.SpaceID)
	fmt.Fprintf(w, "Section:     %s\n", sp.Section)
	fmt.Fprintf(w, "Status:      %s\n", ui.RenderStatus(sp.Status, sp.Stale))
	if sp.CurrentOccupancyID != "" {
		fmt.Fprintf(w, "Occupancy:   %s\n", sp.CurrentOccupancyID)
	}
	if sp.PendingCount > 0 {
		fmt.Fprintf(w, "Pending:     %s (%d)\n", sp.PendingStatus, sp.PendingCount)
	}
	if sp.Label != "" {
		fmt.Fprintf(w, "Detection:   %s (%.2f)\n", sp.Label, sp.Confidence)
	}
	fmt.Fprintf(w, "Changed At:  %s (sample %d)\n", formatTime(sp.UpdatedAt), sp.LastChangedSample)
	fmt.Fprintf(w, "Last Seen:   %s (sample %d)\n", formatTime(sp.LastSeen), sp.LastSeenSample)
}

// printSpaceGrid prints one glyph per space, a row per section.
func printSpaceGrid(w io.Writer, spaces []model.SpaceSnapshot) {
	var sections []string
	rows := make(map[string][]string)
	for _, sp := range spaces {
		if _, ok := rows[sp.Section]; !ok {
			sections = append(sections, sp.Section)
		}
		rows[sp.Section] = append(rows[sp.Section], ui.StatusGlyph(sp.Status, sp.Stale))
	}
	width := 0
	for _, s := range sections {
		width = max(width, len(s))
	}
	for _, s := range sections {
		fmt.Fprintf(w, "%-*s  %s\n", width, s, strings.Join(rows[s], " "))
	}
	fmt.Fprintln(w, ui.RenderMuted(". available  # occupied  x obstacle  ? stale"))
}

func printStats(w io.Writer, st *model.Stats) {
	fmt.Fprintf(w, "Total:       %d\n", st.Total)
	fmt.Fprintf(w, "Available:   %s\n", ui.RenderStatus(model.StatusAvailable, false)+fmt.Sprintf(" %d", st.Available))
	fmt.Fprintf(w, "Occupied:    %s\n", ui.RenderStatus(model.StatusOccupied, false)+fmt.Sprintf(" %d", st.Occupied))
	fmt.Fprintf(w, "Obstacles:   %s\n", ui.RenderStatus(model.StatusObstacle, false)+fmt.Sprintf(" %d", st.Obstacles))
	if st.Stale > 0 {
		fmt.Fprintf(w, "Stale:       %d\n", st.Stale)
	}
	fmt.Fprintf(w, "Occupancy:   %.1f%%\n", st.OccupancyRate)
}

func printIntervalTable(w io.Writer, ivs []*model.OccupancyInterval) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSPACE\tKIND\tENTERED\tDEPARTED\tDURATION")
	for _, iv := range ivs {
		departed, dur := "-", "open"
		if iv.DepartedAt != nil {
			departed = formatTime(*iv.DepartedAt)
		}
		if iv.Duration != nil {
			dur = formatDuration(*iv.Duration)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			iv.ID, iv.SpaceID, occupantKind(iv.IsVehicle), formatTime(iv.EnteredAt), departed, dur)
	}
	tw.Flush()
}

func occupantKind(isVehicle bool) string {
	if isVehicle {
		return "vehicle"
	}
	return "obstacle"
}

func printPeakHours(w io.Writer, r *client.PeakHoursReport) {
	fmt.Fprintf(w, "Entries per hour, %s to %s (%d days)\n\n", r.From, r.To, r.Days)
	peak := 0.0
	for _, b := range r.Hours {
		peak = max(peak, b.Average)
	}
	const barWidth = 40
	tw := newTable(w)
	fmt.Fprintln(tw, "HOUR\tENTRIES\tAVG/DAY\t")
	for _, b := range r.Hours {
		n := 0
		if peak > 0 {
			n = int(b.Average / peak * barWidth)
		}
		fmt.Fprintf(tw, "%02d:00\t%d\t%.2f\t%s\n", b.Hour, b.Entries, b.Average, ui.RenderAccent(strings.Repeat("█", n)))
	}
	tw.Flush()
}
