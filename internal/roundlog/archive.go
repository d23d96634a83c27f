package roundlog

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/ivelashvili/royal-exchange/internal/game"
)

// Archive writes every round to the JSONL log and the SQLite index under
// one data directory.
type Archive struct {
	log    *Writer
	index  *Index
	logger *log.Logger
}

// Open creates dir/rounds.jsonl.zst and dir/index.db. The log appends across
// games; index queries see only the rounds recorded since this Open.
func Open(dir string, logger *log.Logger) (*Archive, error) {
	if dir == "" {
		return nil, fmt.Errorf("roundlog: empty data dir")
	}
	w, err := NewWriter(filepath.Join(dir, "rounds.jsonl.zst"))
	if err != nil {
		return nil, fmt.Errorf("roundlog: open log: %w", err)
	}
	idx, err := OpenSQLite(filepath.Join(dir, "index.db"))
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("roundlog: open index: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("index session %s", idx.Session())
	return &Archive{log: w, index: idx, logger: logger}, nil
}

// Record appends rec to the log and queues it for indexing. Only a failed
// log write is returned; the log is the record of truth.
func (a *Archive) Record(rec game.RoundRecord) error {
	if err := a.log.Write(rec); err != nil {
		return fmt.Errorf("roundlog: round %d: %w", rec.Round, err)
	}
	a.index.RecordRound(rec)
	if n := a.index.Dropped(); n > 0 {
		a.logger.Printf("index is behind, %d rounds dropped so far", n)
	}
	return nil
}

func (a *Archive) PriceHistory(ctx context.Context, resource string) ([]PricePoint, error) {
	if err := a.index.Sync(ctx); err != nil {
		return nil, err
	}
	return a.index.PriceHistory(ctx, resource)
}

func (a *Archive) IncomeTotals(ctx context.Context) (map[string]float64, error) {
	if err := a.index.Sync(ctx); err != nil {
		return nil, err
	}
	return a.index.IncomeTotals(ctx)
}

func (a *Archive) LogPath() string { return a.log.Path() }

func (a *Archive) Close() error {
	ierr := a.index.Close()
	if err := a.log.Close(); err != nil {
		return err
	}
	return ierr
}
