package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/tilecity/internal/engine"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/history"
	"github.com/talgya/tilecity/internal/placement"
	"github.com/talgya/tilecity/internal/tiles"
)

// cellRequest is the body of place and remove requests.
type cellRequest struct {
	X        int            `json:"x"`
	Y        int            `json:"y"`
	Category tiles.Category `json:"category"`
}

// placeResult reports the outcome of a placement.
type placeResult struct {
	Placed   bool           `json:"placed"`
	X        int            `json:"x"`
	Y        int            `json:"y"`
	Category tiles.Category `json:"category"`
	Error    string         `json:"error,omitempty"`
}

// cellView is the preview state of one cell.
type cellView struct {
	X         int              `json:"x"`
	Y         int              `json:"y"`
	Category  tiles.Category   `json:"category"`
	Collapsed bool             `json:"collapsed"`
	Possible  []tiles.Category `json:"possible"`
	Placeable []tiles.Category `json:"placeable"`
}

func newCellView(p placement.Preview) cellView {
	return cellView{
		X:         p.X,
		Y:         p.Y,
		Category:  p.Category,
		Collapsed: p.Collapsed,
		Possible:  nonNil(p.Possible.Slice()),
		Placeable: nonNil(p.Placeable.Slice()),
	}
}

func nonNil(cs []tiles.Category) []tiles.Category {
	if cs == nil {
		return []tiles.Category{}
	}
	return cs
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Coord.Stats()
	total := st.Width * st.Height

	status := map[string]any{
		"name":        "tilecity",
		"width":       st.Width,
		"height":      st.Height,
		"placed":      st.Placed,
		"placed_text": humanize.Comma(int64(st.Placed)) + " of " + humanize.Comma(int64(total)) + " cells",
		"counts":      st.Counts,
		"history":     st.History,
		"redo":        st.Redo,
		"complete":    st.Complete,
		"last_seq":    st.LastSeq,
		"subscribers": s.Coord.Subscribers(),
		"started":     humanize.Time(s.started),
	}
	if s.Eng != nil {
		status["generating"] = s.Eng.Running()
		status["speed"] = s.Eng.Speed()
	}
	if s.DB != nil {
		if v, err := s.DB.GetMeta("saved_at"); err == nil {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				status["last_save"] = humanize.Time(time.Unix(unix, 0))
			}
		}
	}
	writeJSON(w, status)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	st := s.Coord.Stats()
	writeJSON(w, map[string]any{
		"width":  st.Width,
		"height": st.Height,
		"rows":   strings.Split(s.Coord.Format(), "\n"),
		"tiles":  s.Coord.Tiles(),
	})
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.PathValue("x"))
	y, errY := strconv.Atoi(r.PathValue("y"))
	if errX != nil || errY != nil {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}

	p, err := s.Coord.Inspect(x, y)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, newCellView(p))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be 1-1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	if r.URL.Query().Get("persisted") == "true" {
		if s.DB == nil {
			http.Error(w, "database not available", http.StatusServiceUnavailable)
			return
		}
		events, err := s.DB.RecentEvents(limit)
		if err != nil {
			slog.Error("load events failed", "error", err)
			http.Error(w, "load events failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
		return
	}
	writeJSON(w, s.Coord.RecentEvents(limit))
}

func decodeCell(w http.ResponseWriter, r *http.Request) (cellRequest, bool) {
	var req cellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCell(w, r)
	if !ok {
		return
	}
	res, status := s.place(req)
	writeJSONStatus(w, status, res)
}

// place runs one placement for both the HTTP and websocket surfaces.
func (s *Server) place(req cellRequest) (placeResult, int) {
	res := placeResult{X: req.X, Y: req.Y, Category: req.Category}
	err := s.Coord.TryPlace(req.X, req.Y, req.Category)
	if err != nil {
		res.Error = err.Error()
	}

	switch {
	case err == nil:
		res.Placed = true
		return res, http.StatusOK
	case errors.Is(err, grid.ErrContradiction):
		// A lenient grid keeps the tile even though a neighbour emptied.
		if p, perr := s.Coord.Inspect(req.X, req.Y); perr == nil && p.Category == req.Category {
			res.Placed = true
			return res, http.StatusOK
		}
		return res, http.StatusUnprocessableEntity
	default:
		return res, errorStatus(err)
	}
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCell(w, r)
	if !ok {
		return
	}
	if err := s.Coord.Remove(req.X, req.Y); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, map[string]any{"removed": true, "x": req.X, "y": req.Y})
}

type undoResult struct {
	OK     bool            `json:"ok"`
	Action *history.Action `json:"action,omitempty"`
}

// newUndoResult folds an empty log into OK=false. Any other error is a refused
// edit and is returned.
func newUndoResult(a history.Action, err error) (undoResult, error) {
	switch {
	case errors.Is(err, history.ErrNothingToUndo), errors.Is(err, history.ErrNothingToRedo):
		return undoResult{}, nil
	case err != nil:
		return undoResult{}, err
	}
	return undoResult{OK: true, Action: &a}, nil
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	res, err := newUndoResult(s.Coord.Undo())
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	res, err := newUndoResult(s.Coord.Redo())
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Animate bool `json:"animate"`
	}
	// An empty body means an instant fill.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if req.Animate {
		if s.Eng == nil {
			http.Error(w, "animated generation not available", http.StatusServiceUnavailable)
			return
		}
		if s.Eng.Running() {
			http.Error(w, "generation already running", http.StatusConflict)
			return
		}
		go func() {
			if err := s.Eng.Run(context.Background()); err != nil && !errors.Is(err, engine.ErrRunning) {
				slog.Warn("animated generation stopped", "error", err)
			}
		}()
		writeJSONStatus(w, http.StatusAccepted, map[string]any{"started": true})
		return
	}

	if s.Eng != nil && s.Eng.Running() {
		http.Error(w, "generation already running", http.StatusConflict)
		return
	}

	start := time.Now()
	err := s.Coord.Generate()
	st := s.Coord.Stats()
	res := map[string]any{
		"complete": st.Complete,
		"placed":   st.Placed,
		"elapsed":  time.Since(start).String(),
	}
	if err != nil {
		res["error"] = err.Error()
	}
	writeJSON(w, res)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	if err := s.DB.SaveState(s.Coord); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"placed":  s.Coord.Stats().Placed,
		"message": "snapshot saved",
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.Eng != nil {
		s.Eng.Stop()
	}
	s.Coord.Reset()
	slog.Info("map reset")
	writeJSON(w, map[string]any{"message": "map reset"})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "animated generation not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}
