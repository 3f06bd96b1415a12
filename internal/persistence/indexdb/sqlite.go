package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"aicycles.ai/internal/world"
)

// SQLiteIndex is the local match history.
type SQLiteIndex struct {
	db   *sql.DB
	once sync.Once
}

// MatchRecord is one finished match as seen by this client.
type MatchRecord struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Server    string
	Name      string
	LocalID   int
	Width     int
	Height    int
	Players   int
	Seed      int64
	Ticks     int
	Turns     int
	Reason    string
	Recording string

	Outcomes []Outcome
}

// Outcome is one participant's result in a match.
type Outcome struct {
	Player     int
	Name       string // known only for the local player
	Local      bool
	Trail      int
	Alive      bool
	DeathOrder int // 1 for the first cycle eliminated, 0 if it survived
	Points     int // participants eliminated on an earlier tick
	Won        bool
}

// Standing aggregates every match played under one name.
type Standing struct {
	Name      string
	Matches   int
	Points    int
	Wins      int
	Trail     int
	BestTrail int
}

func NewMatchID() string { return uuid.NewString() }

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			server TEXT NOT NULL,
			name TEXT NOT NULL,
			local_id INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			players INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			ticks INTEGER NOT NULL,
			turns INTEGER NOT NULL,
			reason TEXT NOT NULL,
			recording TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_ended_at ON matches(ended_at);`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			match_id TEXT NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			player INTEGER NOT NULL,
			name TEXT NOT NULL,
			local INTEGER NOT NULL,
			trail INTEGER NOT NULL,
			alive INTEGER NOT NULL,
			death_order INTEGER NOT NULL,
			points INTEGER NOT NULL DEFAULT 0,
			won INTEGER NOT NULL,
			PRIMARY KEY (match_id, player)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_name ON outcomes(name);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	// Version 1 files predate points.
	if err := ensureColumn(db, "outcomes", "points", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','2');`)
	return err
}

func ensureColumn(db *sql.DB, table, column, decl string) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name=?`, table, column).Scan(&n); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}

// RecordMatch stores a match and its outcomes in one transaction. An empty
// ID is filled in with a fresh one, which is returned.
func (s *SQLiteIndex) RecordMatch(ctx context.Context, m MatchRecord) (string, error) {
	if m.ID == "" {
		m.ID = NewMatchID()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO matches(id,started_at,ended_at,server,name,local_id,width,height,players,seed,ticks,turns,reason,recording)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, formatTime(m.StartedAt), formatTime(m.EndedAt), m.Server, m.Name, m.LocalID,
		m.Width, m.Height, m.Players, m.Seed, m.Ticks, m.Turns, m.Reason, m.Recording)
	if err != nil {
		return "", fmt.Errorf("insert match %s: %w", m.ID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO outcomes(match_id,player,name,local,trail,alive,death_order,points,won) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, o := range m.Outcomes {
		if _, err := stmt.ExecContext(ctx, m.ID, o.Player, o.Name, o.Local, o.Trail, o.Alive, o.DeathOrder, o.Points, o.Won); err != nil {
			return "", fmt.Errorf("insert outcome %s/%d: %w", m.ID, o.Player, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return m.ID, nil
}

// Recent returns the n most recently finished matches, newest first.
func (s *SQLiteIndex) Recent(ctx context.Context, n int) ([]MatchRecord, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,started_at,ended_at,server,name,local_id,width,height,players,seed,ticks,turns,reason,recording
		FROM matches ORDER BY ended_at DESC, id LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var (
			m              MatchRecord
			started, ended string
		)
		if err := rows.Scan(&m.ID, &started, &ended, &m.Server, &m.Name, &m.LocalID, &m.Width, &m.Height,
			&m.Players, &m.Seed, &m.Ticks, &m.Turns, &m.Reason, &m.Recording); err != nil {
			return nil, err
		}
		var err error
		if m.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("match %s: started_at: %w", m.ID, err)
		}
		if m.EndedAt, err = time.Parse(timeLayout, ended); err != nil {
			return nil, fmt.Errorf("match %s: ended_at: %w", m.ID, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		if out[i].Outcomes, err = s.outcomes(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteIndex) outcomes(ctx context.Context, matchID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT player,name,local,trail,alive,death_order,points,won FROM outcomes WHERE match_id=? ORDER BY player`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.Player, &o.Name, &o.Local, &o.Trail, &o.Alive, &o.DeathOrder, &o.Points, &o.Won); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Standings ranks every named participant by total points, then total trail
// length.
func (s *SQLiteIndex) Standings(ctx context.Context) ([]Standing, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, COUNT(*), SUM(points), SUM(won), SUM(trail), MAX(trail)
		FROM outcomes WHERE name <> '' GROUP BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(&st.Name, &st.Matches, &st.Points, &st.Wins, &st.Trail, &st.BestTrail); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		if out[i].Trail != out[j].Trail {
			return out[i].Trail > out[j].Trail
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Outcomes derives per-participant results from the final cycles and the
// elimination order. Only the local player is named.
//
// A participant scores one point for every other participant eliminated on
// an earlier tick; cycles eliminated on the same tick share their score and
// survivors score every elimination. deathTicks maps a player to the tick it
// died on; without it every elimination counts as its own tick.
func Outcomes(cycles []world.Cycle, deaths []int, deathTicks map[int]int, localID int, localName string) []Outcome {
	order := make(map[int]int, len(deaths))
	points := make(map[int]int, len(deaths))
	for i, id := range deaths {
		order[id] = i + 1
		points[id] = i
		if i > 0 && deathTicks != nil {
			if prev := deaths[i-1]; deathTicks[prev] == deathTicks[id] {
				points[id] = points[prev]
			}
		}
	}
	survivors := len(cycles) - len(order)
	out := make([]Outcome, 0, len(cycles))
	for _, c := range cycles {
		o := Outcome{
			Player:     c.Player,
			Local:      c.Player == localID,
			Trail:      c.Trail,
			DeathOrder: order[c.Player],
		}
		o.Alive = o.DeathOrder == 0
		if o.Alive {
			o.Points = len(order)
		} else {
			o.Points = points[c.Player]
		}
		o.Won = o.Alive && survivors == 1 && len(cycles) > 1
		if o.Local {
			o.Name = localName
		}
		out = append(out, o)
	}
	return out
}

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}
