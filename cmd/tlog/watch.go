package main

import (
	"context"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/kalambet/tlog/internal/tracker"
	"github.com/kalambet/tlog/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the running tracker in a live terminal view",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		// Fail early with the usual message when the daemon is down.
		if _, err := client.status(cmd.Context()); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		events, err := followEvents(ctx, client.eventsURL())
		if err != nil {
			return err
		}

		model := tui.NewWatchModel(tui.WatchOptions{
			Events: events,
			Status: client.status,
			Toggle: func(ctx context.Context) (tracker.Snapshot, error) {
				return toggleTracking(ctx, client)
			},
		})
		_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		return err
	},
}

// followEvents dials the daemon's event stream and forwards events until
// ctx is done or the connection drops. The returned channel is closed then.
func followEvents(ctx context.Context, wsURL string) (<-chan tracker.Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to event stream: %w", err)
	}

	out := make(chan tracker.Event, 64)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var ev tracker.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					slog.Debug("event stream closed", "error", err)
				}
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// toggleTracking stops a running run, or starts one otherwise.
func toggleTracking(ctx context.Context, client *apiClient) (tracker.Snapshot, error) {
	snap, err := client.status(ctx)
	if err != nil {
		return tracker.Snapshot{}, err
	}
	path := "/tracking/start"
	if snap.Running {
		path = "/tracking/stop"
	}
	resp, err := client.post(ctx, path, nil)
	if err != nil {
		return tracker.Snapshot{}, err
	}
	var next tracker.Snapshot
	err = decodeJSON(resp, &next)
	return next, err
}
