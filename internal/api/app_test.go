package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/tlog/internal/activity"
	"github.com/kalambet/tlog/internal/rules"
	"github.com/kalambet/tlog/internal/session"
	"github.com/kalambet/tlog/internal/storage"
	"github.com/kalambet/tlog/internal/tracker"
)

type testApp struct {
	handler http.Handler
	store   *storage.Store
	tracker *tracker.Tracker
	tabs    *activity.BrowserTabSource
	rules   *rules.Holder
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	holder := rules.NewHolder(filepath.Join(t.TempDir(), "rules.yaml"), rules.Default())
	tabs := activity.NewBrowserTabSource()
	tr := tracker.New(tracker.Options{
		Rules:   holder.Get,
		Sink:    store,
		Ticks:   make(chan time.Time),
		OnStart: tabs.Reset,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()
	if err := tabs.Start(ctx, tr.Submit); err != nil {
		t.Fatalf("starting tab source: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testApp{
		handler: NewAppHandler(AppDeps{Tracker: tr, Store: store, Tabs: tabs, Rules: holder}),
		store:   store,
		tracker: tr,
		tabs:    tabs,
		rules:   holder,
	}
}

func (a *testApp) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *testApp) ticks(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := a.tracker.Tick(context.Background()); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return v
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	if env.Error.Message == "" {
		t.Fatal("error envelope has no message")
	}
	return env.Error.Type
}

func TestHealth(t *testing.T) {
	app := setupApp(t)
	rr := app.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestTracking_FullCycle(t *testing.T) {
	app := setupApp(t)

	rr := app.do(t, http.MethodPost, "/tracking/start", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if snap := decode[tracker.Snapshot](t, rr); !snap.Running || snap.Manual {
		t.Fatalf("after start: running=%v manual=%v", snap.Running, snap.Manual)
	}

	rr = app.do(t, http.MethodPost, "/tab", `{"url":"https://github.com/kalambet/tlog"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("tab status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := decode[map[string]bool](t, rr); !got["emitted"] {
		t.Fatal("expected the tab signal to be emitted")
	}
	app.ticks(t, 3)

	rr = app.do(t, http.MethodGet, "/status", "")
	snap := decode[tracker.Snapshot](t, rr)
	if snap.Category != "Programming" || snap.Accumulated["Programming"] != 3 {
		t.Fatalf("status = %+v, want Programming with 3s", snap)
	}

	// Saving while running is a conflict.
	rr = app.do(t, http.MethodPost, "/tracking/save", `{"label":"Work","summary":"s"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("save while running status = %d, want 409", rr.Code)
	}

	rr = app.do(t, http.MethodPost, "/tracking/stop", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rr.Code)
	}
	if snap := decode[tracker.Snapshot](t, rr); snap.Running || !snap.Unsaved {
		t.Fatalf("after stop: running=%v unsaved=%v", snap.Running, snap.Unsaved)
	}

	// A missing summary keeps the stopped run.
	rr = app.do(t, http.MethodPost, "/tracking/save", `{"label":"Work"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("save without summary status = %d, want 422", rr.Code)
	}
	if typ := errorType(t, rr); typ != "invalid_request_error" {
		t.Fatalf("error type = %q", typ)
	}

	rr = app.do(t, http.MethodPost, "/tracking/save", `{"label":"Programming","summary":"reviewed PRs"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("save status = %d; body = %s", rr.Code, rr.Body.String())
	}
	rec := decode[session.Record](t, rr)
	if rec.ID == "" {
		t.Fatal("saved record has no ID")
	}
	if rec.CategoryTotals["Programming"] != 3*time.Second {
		t.Fatalf("category totals = %v", rec.CategoryTotals)
	}

	rr = app.do(t, http.MethodPost, "/tracking/save", `{"label":"x","summary":"y"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second save status = %d, want 409", rr.Code)
	}

	rr = app.do(t, http.MethodGet, "/sessions", "")
	recs := decode[[]session.Record](t, rr)
	if len(recs) != 1 || recs[0].ID != rec.ID {
		t.Fatalf("sessions = %+v", recs)
	}

	rr = app.do(t, http.MethodGet, "/sessions/"+rec.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get session status = %d", rr.Code)
	}
	if got := decode[session.Record](t, rr); got.Summary != "reviewed PRs" {
		t.Fatalf("summary = %q", got.Summary)
	}

	rr = app.do(t, http.MethodGet, "/stats", "")
	st := decode[storage.Stats](t, rr)
	if st.Sessions != 1 || st.Total != 3*time.Second {
		t.Fatalf("stats = %+v", st)
	}

	rr = app.do(t, http.MethodGet, "/categories", "")
	if cats := decode[[]string](t, rr); len(cats) != 1 || cats[0] != "Programming" {
		t.Fatalf("categories = %v", cats)
	}

	rr = app.do(t, http.MethodDelete, "/sessions/"+rec.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	rr = app.do(t, http.MethodDelete, "/sessions/"+rec.ID, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
}

func TestTracking_ManualStart(t *testing.T) {
	app := setupApp(t)

	rr := app.do(t, http.MethodPost, "/tracking/start", `{"manual":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d", rr.Code)
	}
	app.tabs.Push("https://github.com")
	app.ticks(t, 2)

	snap, err := app.tracker.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Manual || snap.Accumulated[tracker.DefaultManualCategory] != 2 {
		t.Fatalf("snapshot = %+v, want 2s of manual time", snap)
	}

	rr = app.do(t, http.MethodPost, "/tracking/start", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", rr.Code)
	}
}

func TestTracking_Discard(t *testing.T) {
	app := setupApp(t)

	rr := app.do(t, http.MethodPost, "/tracking/discard", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("discard with nothing held status = %d, want 409", rr.Code)
	}

	app.do(t, http.MethodPost, "/tracking/start", "")
	app.ticks(t, 1)
	app.do(t, http.MethodPost, "/tracking/stop", "")

	rr = app.do(t, http.MethodPost, "/tracking/discard", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("discard status = %d", rr.Code)
	}
	snap, _ := app.tracker.Snapshot(context.Background())
	if snap.Unsaved {
		t.Fatal("run still held after discard")
	}
}

func TestBadRequests(t *testing.T) {
	app := setupApp(t)

	tests := []struct {
		name   string
		method string
		url    string
		body   string
		want   int
	}{
		{"start malformed", http.MethodPost, "/tracking/start", `{`, http.StatusBadRequest},
		{"save malformed", http.MethodPost, "/tracking/save", `nope`, http.StatusBadRequest},
		{"tab missing url", http.MethodPost, "/tab", `{}`, http.StatusBadRequest},
		{"tab malformed", http.MethodPost, "/tab", `[`, http.StatusBadRequest},
		{"stats bad since", http.MethodGet, "/stats?since=yesterday", "", http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/sessions/missing", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.do(t, tt.method, tt.url, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
			errorType(t, rr)
		})
	}
}

func TestControlRequiresJSONContentType(t *testing.T) {
	app := setupApp(t)
	if rr := app.do(t, http.MethodPost, "/tracking/start", ""); rr.Code != http.StatusOK {
		t.Fatalf("start: status = %d; body = %s", rr.Code, rr.Body.String())
	}

	tests := []struct {
		name        string
		method      string
		url         string
		contentType string
		body        string
	}{
		{"stop as text/plain", http.MethodPost, "/tracking/stop", "text/plain", ""},
		{"stop without type", http.MethodPost, "/tracking/stop", "", ""},
		{"tab as form", http.MethodPost, "/tab", "application/x-www-form-urlencoded", "url=https://github.com"},
		{"tab as text/plain", http.MethodPost, "/tab", "text/plain", `{"url":"https://github.com"}`},
		{"delete as text/plain", http.MethodDelete, "/sessions/anything", "text/plain", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			app.handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnsupportedMediaType {
				t.Fatalf("status = %d, want 415; body = %s", rr.Code, rr.Body.String())
			}
			if got := errorType(t, rr); got != "invalid_request_error" {
				t.Errorf("error type = %q", got)
			}
		})
	}

	snap, err := app.tracker.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Running {
		t.Fatal("rejected stop request stopped the run")
	}

	req := httptest.NewRequest(http.MethodPost, "/tracking/stop", nil)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("stop with charset: status = %d; body = %s", rr.Code, rr.Body.String())
	}
}

func TestListSessions_Pagination(t *testing.T) {
	app := setupApp(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := app.store.AppendSession(context.Background(), session.Record{
			Category:       "Blog",
			Summary:        "writing",
			CategoryTotals: map[string]time.Duration{"Blog": time.Minute},
			StartedAt:      base.Add(time.Duration(i) * time.Hour),
			EndedAt:        base.Add(time.Duration(i)*time.Hour + time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recs := decode[[]session.Record](t, app.do(t, http.MethodGet, "/sessions?limit=2", ""))
	if len(recs) != 2 {
		t.Fatalf("got %d sessions, want 2", len(recs))
	}
	if !recs[0].EndedAt.After(recs[1].EndedAt) {
		t.Fatal("sessions not most recent first")
	}

	recs = decode[[]session.Record](t, app.do(t, http.MethodGet, "/sessions?limit=2&offset=2", ""))
	if len(recs) != 1 {
		t.Fatalf("got %d sessions on page 2, want 1", len(recs))
	}

	st := decode[storage.Stats](t, app.do(t, http.MethodGet, "/stats?since=2026-03-01T10:30:00Z", ""))
	if st.Sessions != 1 {
		t.Fatalf("stats since = %d sessions, want 1", st.Sessions)
	}
}

func TestRulesReload(t *testing.T) {
	app := setupApp(t)

	rr := app.do(t, http.MethodPost, "/rules/reload", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reload of missing file status = %d, want 422", rr.Code)
	}
	if app.rules.Get().Len() == 0 {
		t.Fatal("failed reload replaced the rule set")
	}

	content := "rules:\n  - category: Reading\n    keywords: [kindle]\n"
	if err := os.WriteFile(app.rules.Path(), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	rr = app.do(t, http.MethodPost, "/rules/reload", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reload status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if app.rules.Get().Len() != 1 {
		t.Fatalf("rules = %d, want 1", app.rules.Get().Len())
	}
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestEvents_StreamsTrackerEvents(t *testing.T) {
	app := setupApp(t)
	srv := httptest.NewServer(app.handler)
	defer srv.Close()

	app.do(t, http.MethodPost, "/tracking/start", "")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/events"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	events := make(chan tracker.Event, 16)
	go func() {
		defer close(events)
		for {
			var ev tracker.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			events <- ev
		}
	}()

	// The subscription starts after the upgrade completes, so keep ticking
	// until the first event arrives.
	deadline := time.After(5 * time.Second)
	for {
		app.ticks(t, 1)
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event stream closed")
			}
			if ev.Type != tracker.EventTick {
				t.Fatalf("event type = %q, want tick", ev.Type)
			}
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestBridge_PushesURLs(t *testing.T) {
	tabs := activity.NewBrowserTabSource()
	got := make(chan activity.Signal, 4)
	if err := tabs.Start(context.Background(), func(s activity.Signal) { got <- s }); err != nil {
		t.Fatal(err)
	}
	defer tabs.Stop()

	srv := httptest.NewServer(NewBridgeHandler(tabs))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/any/path"), http.Header{"Origin": {"chrome-extension://abc"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, msg := range []string{`not json`, `{"url":""}`, `{"url":"https://medium.com/@me/post"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	select {
	case sig := <-got:
		if sig.Kind != activity.KindBrowserTab || sig.Payload != "https://medium.com/@me/post" {
			t.Fatalf("signal = %+v", sig)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no signal received")
	}
}

func TestParseBridgeMessage(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"url":"https://a.com"}`, "https://a.com", true},
		{`{"url":"  https://a.com  "}`, "https://a.com", true},
		{`{"url":""}`, "", false},
		{`{}`, "", false},
		{`garbage`, "", false},
	}
	for _, tt := range tests {
		got, ok := parseBridgeMessage([]byte(tt.in))
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseBridgeMessage(%s) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
