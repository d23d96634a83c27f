package roundlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ivelashvili/royal-exchange/internal/game"
)

// Index mirrors round records into SQLite from a single writer goroutine.
// Writes never block the caller; if the writer falls behind, records are
// dropped from the index and survive only in the JSONL log.
//
// Every Index stamps its rows with a fresh session id and only reads its own
// session back, so a data dir reused by a later game never mixes rounds.
type Index struct {
	db      *sql.DB
	session string

	// mu guards sends on ch against close.
	mu     sync.RWMutex
	closed bool
	ch     chan req
	wg     sync.WaitGroup

	dropped atomic.Int64
}

type req struct {
	round game.RoundRecord
	// done, when set, marks a barrier: it is closed once every earlier
	// request has been committed.
	done chan struct{}
}

func OpenSQLite(path string) (*Index, error) {
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

	s := &Index{db: db, session: uuid.NewString(), ch: make(chan req, 1024)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 2

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&version); err != nil {
		return err
	}
	if version != schemaVersion {
		// Earlier layouts have no session column. The JSONL log still holds
		// those rounds.
		for _, table := range []string{"rounds", "prices", "incomes"} {
			if _, err := db.Exec(`DROP TABLE IF EXISTS ` + table + `;`); err != nil {
				return err
			}
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rounds (
			session TEXT NOT NULL,
			round INTEGER NOT NULL,
			positive_event TEXT,
			negative_event TEXT,
			buildings_sold INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (session, round)
		);`,
		`CREATE TABLE IF NOT EXISTS prices (
			session TEXT NOT NULL,
			round INTEGER NOT NULL,
			resource TEXT NOT NULL,
			price REAL NOT NULL,
			players_bought INTEGER NOT NULL,
			players_sold INTEGER NOT NULL,
			PRIMARY KEY (session, round, resource)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_prices_session_resource_round ON prices(session, resource, round);`,
		`CREATE TABLE IF NOT EXISTS incomes (
			session TEXT NOT NULL,
			round INTEGER NOT NULL,
			building TEXT NOT NULL,
			coins REAL NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (session, round, building)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, schemaVersion))
	return err
}

// Session identifies the rows this Index writes and reads.
func (s *Index) Session() string { return s.session }

func (s *Index) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

// RecordRound queues rec for indexing. It is a no-op after Close.
func (s *Index) RecordRound(rec game.RoundRecord) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- req{round: rec}:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many records were skipped because the queue was full.
func (s *Index) Dropped() int64 { return s.dropped.Load() }

// Sync waits until every record queued before the call is committed.
func (s *Index) Sync(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.ch <- req{done: done}:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Index) loop() {
	for r := range s.ch {
		if r.done != nil {
			close(r.done)
			continue
		}
		// A failed round is left out of the index; the log keeps it.
		_ = s.insertRound(context.Background(), r.round)
	}
}

func (s *Index) insertRound(ctx context.Context, rec game.RoundRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	var positive, negative sql.NullString
	if rec.Events != nil {
		positive = sql.NullString{String: rec.Events.Positive, Valid: true}
		negative = sql.NullString{String: rec.Events.Negative, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO rounds(session,round,positive_event,negative_event,buildings_sold,raw_json) VALUES(?,?,?,?,?,?)`,
		s.session, rec.Round, positive, negative, len(rec.Sold), string(raw)); err != nil {
		return err
	}
	price, err := tx.Prepare(`INSERT OR REPLACE INTO prices(session,round,resource,price,players_bought,players_sold) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer price.Close()
	for res, p := range rec.Prices {
		if _, err := price.Exec(s.session, rec.Round, res, p, rec.PlayersBought[res], rec.PlayersSold[res]); err != nil {
			return err
		}
	}
	income, err := tx.Prepare(`INSERT OR REPLACE INTO incomes(session,round,building,coins,value) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer income.Close()
	for b, inc := range rec.Incomes {
		if _, err := income.Exec(s.session, rec.Round, b, inc.Coins, inc.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PricePoint is a resource's price in one archived round.
type PricePoint struct {
	Round         int     `json:"round"`
	Price         float64 `json:"price"`
	PlayersBought int     `json:"players_bought"`
	PlayersSold   int     `json:"players_sold"`
}

// PriceHistory returns this session's archived prices of one resource,
// oldest first.
func (s *Index) PriceHistory(ctx context.Context, resource string) ([]PricePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round,price,players_bought,players_sold FROM prices WHERE session=? AND resource=? ORDER BY round`, s.session, resource)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []PricePoint{}
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.Round, &p.Price, &p.PlayersBought, &p.PlayersSold); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// IncomeTotals sums this session's archived per-building coin income over
// all rounds.
func (s *Index) IncomeTotals(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT building, SUM(coins) FROM incomes WHERE session=? GROUP BY building`, s.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var (
			name  string
			total float64
		)
		if err := rows.Scan(&name, &total); err != nil {
			return nil, err
		}
		out[name] = total
	}
	return out, rows.Err()
}
