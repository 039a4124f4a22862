// Package persistence provides SQLite-based map state storage.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/tilecity/internal/history"
	"github.com/talgya/tilecity/internal/placement"
	"github.com/talgya/tilecity/internal/tiles"
)

// ErrNoSnapshot is returned by LoadSnapshot on a fresh database.
var ErrNoSnapshot = errors.New("persistence: no saved map")

const (
	stackHistory = "history"
	stackRedo    = "redo"
)

// DB wraps a SQLite connection for map state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tiles (
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		category INTEGER NOT NULL,
		PRIMARY KEY (x, y)
	);

	CREATE TABLE IF NOT EXISTS actions (
		stack TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind INTEGER NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		category INTEGER NOT NULL,
		PRIMARY KEY (stack, seq)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		cells_json TEXT NOT NULL,
		error TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS map_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_seq ON events(seq);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveSnapshot writes the committed map and both undo stacks (full replace).
func (db *DB) SaveSnapshot(s placement.Snapshot) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM tiles"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM actions"); err != nil {
		return err
	}

	tileStmt, err := tx.Preparex("INSERT INTO tiles (x, y, category) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer tileStmt.Close()

	placed := 0
	for y, row := range s.Tiles {
		for x, c := range row {
			if c == tiles.Empty {
				continue
			}
			if _, err := tileStmt.Exec(x, y, int(c)); err != nil {
				return fmt.Errorf("insert tile (%d,%d): %w", x, y, err)
			}
			placed++
		}
	}

	actStmt, err := tx.Preparex("INSERT INTO actions (stack, seq, kind, x, y, category) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer actStmt.Close()

	for stack, actions := range map[string][]history.Action{stackHistory: s.History, stackRedo: s.Redo} {
		for i, a := range actions {
			if _, err := actStmt.Exec(stack, i, int(a.Kind), a.X, a.Y, int(a.Category)); err != nil {
				return fmt.Errorf("insert %s action %d: %w", stack, i, err)
			}
		}
	}

	meta := map[string]string{
		"width":    strconv.Itoa(s.Width),
		"height":   strconv.Itoa(s.Height),
		"saved_at": strconv.FormatInt(time.Now().Unix(), 10),
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO map_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("map saved", "width", s.Width, "height", s.Height, "tiles", placed, "history", len(s.History), "redo", len(s.Redo))
	return nil
}

// HasSnapshot reports whether a map has been saved.
func (db *DB) HasSnapshot() (bool, error) {
	_, err := db.GetMeta("width")
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

type tileRow struct {
	X        int `db:"x"`
	Y        int `db:"y"`
	Category int `db:"category"`
}

type actionRow struct {
	Stack    string `db:"stack"`
	Kind     int    `db:"kind"`
	X        int    `db:"x"`
	Y        int    `db:"y"`
	Category int    `db:"category"`
}

// LoadSnapshot reads the saved map. ErrNoSnapshot means nothing was saved.
func (db *DB) LoadSnapshot() (placement.Snapshot, error) {
	var s placement.Snapshot

	w, err := db.metaInt("width")
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNoSnapshot
	}
	if err != nil {
		return s, err
	}
	h, err := db.metaInt("height")
	if err != nil {
		return s, err
	}
	s.Width, s.Height = w, h
	s.Tiles = make([][]tiles.Category, h)
	for y := range s.Tiles {
		s.Tiles[y] = make([]tiles.Category, w)
	}

	var rows []tileRow
	if err := db.conn.Select(&rows, "SELECT x, y, category FROM tiles"); err != nil {
		return s, fmt.Errorf("load tiles: %w", err)
	}
	for _, r := range rows {
		if r.X < 0 || r.X >= w || r.Y < 0 || r.Y >= h {
			return s, fmt.Errorf("load tiles: (%d,%d) outside %dx%d map", r.X, r.Y, w, h)
		}
		s.Tiles[r.Y][r.X] = tiles.Category(r.Category)
	}

	var acts []actionRow
	if err := db.conn.Select(&acts, "SELECT stack, kind, x, y, category FROM actions ORDER BY stack, seq"); err != nil {
		return s, fmt.Errorf("load actions: %w", err)
	}
	for _, r := range acts {
		a := history.Action{Kind: history.Kind(r.Kind), X: r.X, Y: r.Y, Category: tiles.Category(r.Category)}
		switch r.Stack {
		case stackHistory:
			s.History = append(s.History, a)
		case stackRedo:
			s.Redo = append(s.Redo, a)
		}
	}

	return s, nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(events []placement.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, e := range events {
		cells, err := json.Marshal(e.Cells)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", e.Seq, err)
		}
		_, err = tx.Exec(
			"INSERT INTO events (seq, kind, cells_json, error, created_at) VALUES (?, ?, ?, ?, ?)",
			e.Seq, e.Kind, string(cells), e.Error, now,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

type eventRow struct {
	Seq   uint64 `db:"seq"`
	Kind  string `db:"kind"`
	Cells string `db:"cells_json"`
	Error string `db:"error"`
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]placement.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		"SELECT seq, kind, cells_json, error FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}

	events := make([]placement.Event, 0, len(rows))
	for _, r := range rows {
		e := placement.Event{Seq: r.Seq, Kind: r.Kind, Error: r.Error}
		if err := json.Unmarshal([]byte(r.Cells), &e.Cells); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", r.Seq, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// SaveMeta stores a key-value pair in map metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO map_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM map_meta WHERE key = ?", key)
	return value, err
}

func (db *DB) metaInt(key string) (int, error) {
	v, err := db.GetMeta(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", key, err)
	}
	return n, nil
}

// SaveState saves the coordinator's snapshot and any events it has
// accumulated since the last save.
func (db *DB) SaveState(c *placement.Coordinator) error {
	if err := db.SaveSnapshot(c.Snapshot()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := db.SaveEvents(c.DrainEvents()); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	return nil
}

// LoadState restores the coordinator from the saved map. It reports false
// when nothing was saved.
func (db *DB) LoadState(c *placement.Coordinator) (bool, error) {
	s, err := db.LoadSnapshot()
	if errors.Is(err, ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	if err := c.Restore(s); err != nil {
		return false, fmt.Errorf("restore snapshot: %w", err)
	}
	// The restore event describes loaded state, not a change to persist.
	c.DrainEvents()
	return true, nil
}
