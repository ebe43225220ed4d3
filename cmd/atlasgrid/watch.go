package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/client"
	"github.com/alfredjeanlab/atlasgrid/internal/config"
	"github.com/alfredjeanlab/atlasgrid/internal/events"
	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/alfredjeanlab/atlasgrid/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

// watchTopics maps the short names accepted by --topic to event topics.
var watchTopics = map[string]string{
	"opened": events.TopicOccupancyOpened,
	"closed": events.TopicOccupancyClosed,
	"status": events.TopicStatusChanged,
	"stale":  events.TopicSpaceStale,
	"fresh":  events.TopicSpaceFresh,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow occupancy events as they happen",
	Long: `Follow occupancy events from NATS. When NATS is unreachable, or with
--poll, watch polls the server and prints spaces whose status changed.`,
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		poll, _ := cmd.Flags().GetBool("poll")
		interval, _ := cmd.Flags().GetDuration("interval")
		names, _ := cmd.Flags().GetStringSlice("topic")
		spaces, _ := cmd.Flags().GetStringSlice("space")

		topics, err := resolveTopics(names)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if !poll {
			err := watchNATS(ctx, natsURL, topics, spaces)
			if err == nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "NATS unavailable (%v), polling every %s\n", err, interval)
		}
		return watchPoll(ctx, interval, spaces)
	},
}

func resolveTopics(names []string) ([]string, error) {
	if len(names) == 0 {
		names = []string{"opened", "closed", "status", "stale", "fresh"}
	}
	topics := make([]string, 0, len(names))
	for _, n := range names {
		t, ok := watchTopics[strings.TrimSpace(n)]
		if !ok {
			return nil, fmt.Errorf("unknown topic %q (want opened, closed, status, stale or fresh)", n)
		}
		if !slices.Contains(topics, t) {
			topics = append(topics, t)
		}
	}
	return topics, nil
}

// watchNATS prints events until ctx ends. It returns an error only when the
// initial connection or subscription fails.
func watchNATS(ctx context.Context, natsURL string, topics, spaces []string) error {
	// reconnectCh is signalled after a reconnect so the current state can be
	// reprinted in place of events missed while disconnected.
	reconnectCh := make(chan struct{}, 1)

	sub, err := events.NewNATSSubscriber(natsURL,
		nats.Timeout(3*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
			select {
			case reconnectCh <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		return err
	}
	defer sub.Close()

	return followEvents(ctx, sub, topics, spaces, reconnectCh, os.Stdout)
}

// followEvents writes one line per matching event to w until ctx ends or the
// subscription closes.
func followEvents(ctx context.Context, sub events.Subscriber, topics, spaces []string, reconnect <-chan struct{}, w io.Writer) error {
	ch, cancel, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !slices.Contains(topics, msg.Topic) {
				continue
			}
			if line, ok := formatEvent(msg.Topic, msg.Data, spaces); ok {
				fmt.Fprintln(w, line)
			}
		case <-reconnect:
			list, err := occupancyClient.ListSpaces(ctx, &client.ListSpacesRequest{})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error refreshing spaces: %v\n", err)
				continue
			}
			printSpaceTable(w, filterSpaces(list, spaces))
		}
	}
}

// watchEvent holds the fields of every event type that formatEvent prints.
type watchEvent struct {
	SpaceID  string                   `json:"space_id"`
	From     model.Status             `json:"from"`
	To       model.Status             `json:"to"`
	Sample   uint64                   `json:"sample"`
	LastSeen time.Time                `json:"last_seen"`
	Interval *model.OccupancyInterval `json:"interval"`
}

// formatEvent renders one event payload as a line, or as JSON with --json.
// ok is false when the event is filtered out by space.
func formatEvent(topic string, data []byte, spaces []string) (string, bool) {
	var ev watchEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Sprintf("%s: undecodable payload: %v", topic, err), true
	}
	if ev.SpaceID == "" && ev.Interval != nil {
		ev.SpaceID = ev.Interval.SpaceID
	}
	if len(spaces) > 0 && !slices.Contains(spaces, ev.SpaceID) {
		return "", false
	}

	if jsonOutput {
		out, _ := json.Marshal(struct {
			Topic string          `json:"topic"`
			Event json.RawMessage `json:"event"`
		}{topic, data})
		return string(out), true
	}

	stamp := ui.RenderMuted(time.Now().Format("15:04:05"))
	switch {
	case topic == events.TopicStatusChanged:
		return fmt.Sprintf("%s %-6s %s -> %s (sample %d)", stamp, ev.SpaceID,
			ui.RenderStatus(ev.From, false), ui.RenderStatus(ev.To, false), ev.Sample), true
	case topic == events.TopicOccupancyOpened && ev.Interval != nil:
		return fmt.Sprintf("%s %-6s opened %s %s", stamp, ev.SpaceID,
			occupantKind(ev.Interval.IsVehicle), ev.Interval.ID), true
	case topic == events.TopicOccupancyClosed && ev.Interval != nil:
		dur := "?"
		if ev.Interval.Duration != nil {
			dur = formatDuration(*ev.Interval.Duration)
		}
		return fmt.Sprintf("%s %-6s closed %s after %s", stamp, ev.SpaceID, ev.Interval.ID, dur), true
	case topic == events.TopicSpaceStale:
		return fmt.Sprintf("%s %-6s %s (last seen %s)", stamp, ev.SpaceID,
			ui.RenderMuted("stale"), formatTime(ev.LastSeen)), true
	case topic == events.TopicSpaceFresh:
		return fmt.Sprintf("%s %-6s fresh", stamp, ev.SpaceID), true
	default:
		return fmt.Sprintf("%s %-6s %s", stamp, ev.SpaceID, topic), true
	}
}

// watchPoll lists spaces at the given interval and prints those that changed.
func watchPoll(ctx context.Context, interval time.Duration, spaces []string) error {
	seen := make(map[string]spaceMark)
	for {
		list, err := occupancyClient.ListSpaces(ctx, &client.ListSpacesRequest{})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("listing spaces: %w", err)
		}
		if changed := diffSpaces(filterSpaces(list, spaces), seen); len(changed) > 0 {
			if jsonOutput {
				if err := printJSON(changed); err != nil {
					return err
				}
			} else {
				printSpaceTable(os.Stdout, changed)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// spaceMark is what watchPoll compares between polls.
type spaceMark struct {
	status model.Status
	sample uint64
	stale  bool
}

// diffSpaces returns spaces that are new or whose status or staleness changed
// since last seen. It updates seen in place.
func diffSpaces(list []model.SpaceSnapshot, seen map[string]spaceMark) []model.SpaceSnapshot {
	var changed []model.SpaceSnapshot
	for _, sp := range list {
		mark := spaceMark{status: sp.Status, sample: sp.LastChangedSample, stale: sp.Stale}
		if prev, ok := seen[sp.SpaceID]; !ok || prev != mark {
			changed = append(changed, sp)
		}
		seen[sp.SpaceID] = mark
	}
	return changed
}

func filterSpaces(list []model.SpaceSnapshot, ids []string) []model.SpaceSnapshot {
	if len(ids) == 0 {
		return list
	}
	var out []model.SpaceSnapshot
	for _, sp := range list {
		if slices.Contains(ids, sp.SpaceID) {
			out = append(out, sp)
		}
	}
	return out
}

func init() {
	watchCmd.Flags().String("nats", config.LoadClient().NATSURL, "NATS server URL")
	watchCmd.Flags().Bool("poll", false, "poll the server instead of subscribing to NATS")
	watchCmd.Flags().Duration("interval", 5*time.Second, "poll interval")
	watchCmd.Flags().StringSlice("topic", nil, "event kinds to show: opened, closed, status, stale, fresh (default all)")
	watchCmd.Flags().StringSlice("space", nil, "only events for these spaces")
}
