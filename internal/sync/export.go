package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/alfredjeanlab/atlasgrid/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version       string    `json:"version"`
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	SpaceCount    int       `json:"space_count"`
	IntervalCount int       `json:"interval_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the ledger as JSONL to w: a header, every space state
// sorted by ID, then every occupancy interval ordered by entry time.
// Both reads happen in one transaction so the export is a consistent cut.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	var (
		spaces    []*model.SpaceState
		intervals []*model.OccupancyInterval
	)
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		if spaces, err = tx.ListSpaceStates(ctx); err != nil {
			return fmt.Errorf("list spaces: %w", err)
		}
		if intervals, err = tx.ListIntervals(ctx, model.IntervalFilter{}); err != nil {
			return fmt.Errorf("list intervals: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(spaces, func(i, j int) bool {
		return spaces[i].SpaceID < spaces[j].SpaceID
	})
	sort.SliceStable(intervals, func(i, j int) bool {
		if !intervals[i].EnteredAt.Equal(intervals[j].EnteredAt) {
			return intervals[i].EnteredAt.Before(intervals[j].EnteredAt)
		}
		return intervals[i].ID < intervals[j].ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:       "1",
		Type:          "header",
		Timestamp:     time.Now().UTC(),
		SpaceCount:    len(spaces),
		IntervalCount: len(intervals),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, sp := range spaces {
		if err := enc.Encode(record{Type: "space", Data: sp}); err != nil {
			return fmt.Errorf("encode space %s: %w", sp.SpaceID, err)
		}
	}

	for _, iv := range intervals {
		if err := enc.Encode(record{Type: "interval", Data: iv}); err != nil {
			return fmt.Errorf("encode interval %s: %w", iv.ID, err)
		}
	}

	return nil
}
