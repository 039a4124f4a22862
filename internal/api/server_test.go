package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tilecity/internal/api"
	"github.com/talgya/tilecity/internal/engine"
	"github.com/talgya/tilecity/internal/entropy"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/persistence"
	"github.com/talgya/tilecity/internal/placement"
	"github.com/talgya/tilecity/internal/rules"
	"github.com/talgya/tilecity/internal/tiles"
)

const adminKey = "letmein"

func newServer(t *testing.T, w, h int) *api.Server {
	t.Helper()
	g, err := grid.New(w, h, rules.Default(), grid.WithRand(entropy.New(17)))
	require.NoError(t, err)
	c := placement.New(g, placement.Options{ReplayOnUndo: true})

	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &api.Server{
		Coord:    c,
		Eng:      engine.NewEngine(c, time.Millisecond),
		DB:       db,
		AdminKey: adminKey,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPlaceAndInspect(t *testing.T) {
	s := newServer(t, 3, 3)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/place", `{"x":1,"y":1,"category":"residential"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["placed"])
	assert.Equal(t, "Residential", body["category"])

	rec = do(t, h, http.MethodGet, "/api/v1/cell/1/0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["collapsed"])
	assert.NotContains(t, body["placeable"], "Industrial")
	assert.Contains(t, body["placeable"], "Residential")
	assert.NotContains(t, body["possible"], "Industrial")

	rec = do(t, h, http.MethodPost, "/api/v1/place", `{"x":0,"y":1,"category":"I"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/place", `{"x":7,"y":1,"category":"road"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/place", `{"x":0,"y":0,"category":"castle"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/cell/x/0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/cell/9/0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUndoRefusedAfterGenerate(t *testing.T) {
	s := newServer(t, 3, 2)
	h := s.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/place", `{"x":0,"y":0,"category":"residential"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/remove", `{"x":0,"y":0}`).Code)
	rec := do(t, h, http.MethodPost, "/api/v1/generate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	before := decode(t, do(t, h, http.MethodGet, "/api/v1/map", ""))["rows"]

	rec = do(t, h, http.MethodPost, "/api/v1/undo", "")
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["error"], "invalid placement")

	after := decode(t, do(t, h, http.MethodGet, "/api/v1/map", ""))["rows"]
	assert.Equal(t, before, after)
}

func TestMapUndoRedoRemove(t *testing.T) {
	s := newServer(t, 3, 2)
	h := s.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/place", `{"x":0,"y":0,"category":"road"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/place", `{"x":2,"y":1,"category":"park"}`).Code)

	body := decode(t, do(t, h, http.MethodGet, "/api/v1/map", ""))
	assert.Equal(t, []any{"#..", "..P"}, body["rows"])

	body = decode(t, do(t, h, http.MethodPost, "/api/v1/undo", ""))
	assert.Equal(t, true, body["ok"])
	action := body["action"].(map[string]any)
	assert.Equal(t, "place", action["kind"])
	assert.Equal(t, "Park", action["category"])

	body = decode(t, do(t, h, http.MethodPost, "/api/v1/redo", ""))
	assert.Equal(t, true, body["ok"])
	body = decode(t, do(t, h, http.MethodPost, "/api/v1/redo", ""))
	assert.Equal(t, false, body["ok"])

	rec := do(t, h, http.MethodPost, "/api/v1/remove", `{"x":0,"y":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/remove", `{"x":0,"y":0}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	body = decode(t, do(t, h, http.MethodGet, "/api/v1/map", ""))
	assert.Equal(t, []any{"...", "..P"}, body["rows"])

	var events []placement.Event
	rec = do(t, h, http.MethodGet, "/api/v1/events?limit=2", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "remove", events[1].Kind)
}

func TestGenerate(t *testing.T) {
	s := newServer(t, 5, 4)
	s.GeneratePerMinute = 1
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/generate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["complete"])
	assert.Equal(t, float64(20), body["placed"])

	rec = do(t, h, http.MethodPost, "/api/v1/generate", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	body = decode(t, do(t, h, http.MethodGet, "/api/v1/status", ""))
	assert.Equal(t, true, body["complete"])
	assert.Equal(t, "20 of 20 cells", body["placed_text"])
}

func TestAnimatedGenerate(t *testing.T) {
	s := newServer(t, 4, 4)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/generate", `{"animate":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return s.Coord.Stats().Complete }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !s.Eng.Running() }, time.Second, 5*time.Millisecond)
}

func TestAdminEndpoints(t *testing.T) {
	s := newServer(t, 3, 3)
	h := s.Handler()
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/place", `{"x":1,"y":1,"category":"commercial"}`).Code)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/v1/snapshot", "").Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(t, h, http.MethodPost, "/api/v1/snapshot", "", "Authorization", "Bearer wrong").Code)

	rec := do(t, h, http.MethodPost, "/api/v1/snapshot", "", "Authorization", "Bearer "+adminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap, err := s.DB.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, tiles.Commercial, snap.Tiles[1][1])

	rec = do(t, h, http.MethodGet, "/api/v1/events?persisted=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []placement.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 1)

	rec = do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":2.5}`, "Authorization", "Bearer "+adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.5, s.Eng.Speed())
	rec = do(t, h, http.MethodPost, "/api/v1/speed", `{"speed":-1}`, "Authorization", "Bearer "+adminKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/reset", "", "Authorization", "Bearer "+adminKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, s.Coord.Stats().Placed)

	s.AdminKey = ""
	assert.Equal(t, http.StatusForbidden, do(t, s.Handler(), http.MethodPost, "/api/v1/reset", "").Code)
}

func TestCORS(t *testing.T) {
	s := newServer(t, 2, 2)
	s.Origins = []string{"https://city.example.com"}
	h := s.Handler()

	rec := do(t, h, http.MethodOptions, "/api/v1/place", "", "Origin", "https://city.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://city.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/api/v1/status", "", "Origin", "https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStream(t *testing.T) {
	s := newServer(t, 3, 3)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	require.NoError(t, s.Coord.TryPlace(0, 0, tiles.Road))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var kinds []string
	for sc.Scan() {
		line := sc.Text()
		if kind, ok := strings.CutPrefix(line, "event: "); ok {
			kinds = append(kinds, kind)
			if len(kinds) == 1 {
				// Catch-up received; trigger a live event.
				require.NoError(t, s.Coord.TryPlace(2, 2, tiles.Park))
			}
			if len(kinds) == 2 {
				break
			}
		}
	}
	assert.Equal(t, []string{"place", "place"}, kinds)
}

func TestWebsocket(t *testing.T) {
	s := newServer(t, 3, 3)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "place",
		"cell": map[string]any{"x": 1, "y": 1, "category": "industrial"},
	}))

	var gotResult, gotEvent bool
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !gotResult || !gotEvent {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg["type"] {
		case "result":
			res := msg["result"].(map[string]any)
			assert.Equal(t, true, res["placed"])
			gotResult = true
		case "event":
			e := msg["event"].(map[string]any)
			assert.Equal(t, "place", e["kind"])
			gotEvent = true
		default:
			t.Fatalf("unexpected message %v", msg)
		}
	}
	assert.Equal(t, tiles.Industrial, s.Coord.Tiles()[1][1])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == "error" {
			assert.Contains(t, msg["error"], "unknown command")
			break
		}
	}
}
