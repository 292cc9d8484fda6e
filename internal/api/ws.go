package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/tlog/internal/activity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	eventBuffer    = 64
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvents streams tracker events to a websocket client. Events the
// client is too slow to receive are dropped.
func handleEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := eventsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("events upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		events, unsubscribe := deps.Tracker.Subscribe(eventBuffer)
		defer unsubscribe()

		// The client never sends data; reading surfaces the close frame.
		closed := make(chan struct{})
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-closed:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					slog.Debug("events write failed", "error", err)
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

// bridgeUpgrader accepts any origin: the browser extension connects from a
// chrome-extension:// or moz-extension:// page.
var bridgeUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// bridgeMessage is what the browser extension sends on every tab change.
type bridgeMessage struct {
	URL string `json:"url"`
}

// NewBridgeHandler returns the browser extension endpoint. Every path
// upgrades to a websocket whose text messages carry {"url": "..."}.
func NewBridgeHandler(tabs *activity.BrowserTabSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := bridgeUpgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("bridge upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxMessageSize)

		slog.Info("browser extension connected", "remote", r.RemoteAddr)
		defer slog.Info("browser extension disconnected", "remote", r.RemoteAddr)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("bridge read failed", "error", err)
				}
				return
			}
			url, ok := parseBridgeMessage(data)
			if !ok {
				slog.Debug("ignoring bridge message", "data", string(data))
				continue
			}
			tabs.Push(url)
		}
	})
}

func parseBridgeMessage(data []byte) (string, bool) {
	var msg bridgeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", false
	}
	url := strings.TrimSpace(msg.URL)
	return url, url != ""
}
