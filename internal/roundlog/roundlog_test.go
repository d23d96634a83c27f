package roundlog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ivelashvili/royal-exchange/internal/game"
	"github.com/ivelashvili/royal-exchange/internal/market"
)

func records() []game.RoundRecord {
	return []game.RoundRecord{
		{
			Round:         1,
			Prices:        map[string]float64{"wood": 10, "iron": 15},
			Incomes:       map[string]market.Income{"sawmill": {Coins: 0, Value: 0}},
			PlayersBought: map[string]int{"wood": 2},
			PlayersSold:   map[string]int{},
		},
		{
			Round:         2,
			Events:        &game.EventSummary{Positive: "Trade Caravan", Negative: "Drought"},
			Prices:        map[string]float64{"wood": 11, "iron": 14.85},
			Incomes:       map[string]market.Income{"sawmill": {Coins: 5, Value: 21.5}},
			Income:        map[game.PlayerID]game.PlayerIncome{"alice": {Coins: 5}},
			Sold:          []game.Sale{{PlayerID: "bob", BuildingID: "bob_sawmill_1_1", BuildingType: "sawmill", Price: 99}},
			PlayersBought: map[string]int{},
			PlayersSold:   map[string]int{"wood": 1},
		},
	}
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rounds.jsonl.zst")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, rec := range records() {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write(records()[0]); err == nil {
		t.Fatal("Write after Close succeeded")
	}

	got, err := ReadRounds(path)
	if err != nil {
		t.Fatalf("ReadRounds: %v", err)
	}
	if len(got) != 2 || got[0].Events != nil || got[1].Events.Negative != "Drought" {
		t.Fatalf("records = %+v", got)
	}
	if got[1].Prices["iron"] != 14.85 || got[1].Sold[0].Price != 99 || got[1].Income["alice"].Coins != 5 {
		t.Errorf("round 2 = %+v", got[1])
	}
}

func TestReadLogWhileWriterIsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rounds.jsonl.zst")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()
	for _, rec := range records() {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	got, err := ReadRounds(path)
	if err != nil {
		t.Fatalf("ReadRounds on a live log: %v", err)
	}
	if len(got) != 2 || got[1].Round != 2 {
		t.Fatalf("records = %+v", got)
	}
}

func TestReadLogKeepsRecordsBeforeDamagedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rounds.jsonl.zst")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Write(records()[0]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	first, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(records()[1]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Close()

	// Cut the second frame in half, as a crash mid-write would.
	full, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, first.Size()+(full.Size()-first.Size())/2); err != nil {
		t.Fatal(err)
	}

	got, err := ReadRounds(path)
	if err == nil {
		t.Fatal("expected an error for the damaged tail")
	}
	if len(got) != 1 || got[0].Round != 1 {
		t.Fatalf("records before the damage = %+v", got)
	}
}

func TestIndexRecordsRounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	for _, rec := range records() {
		idx.RecordRound(rec)
	}
	ctx := context.Background()
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	points, err := idx.PriceHistory(ctx, "wood")
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	want := []PricePoint{{Round: 1, Price: 10, PlayersBought: 2}, {Round: 2, Price: 11, PlayersSold: 1}}
	if len(points) != len(want) {
		t.Fatalf("points = %+v", points)
	}
	for i := range want {
		if points[i] != want[i] {
			t.Errorf("points[%d] = %+v, want %+v", i, points[i], want[i])
		}
	}

	totals, err := idx.IncomeTotals(ctx)
	if err != nil {
		t.Fatalf("IncomeTotals: %v", err)
	}
	if totals["sawmill"] != 5 {
		t.Errorf("totals = %v", totals)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var (
		positive sql.NullString
		sold     int
	)
	row := db.QueryRow(`SELECT positive_event,buildings_sold FROM rounds WHERE round=2`)
	if err := row.Scan(&positive, &sold); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if positive.String != "Trade Caravan" || sold != 1 {
		t.Errorf("round 2 row: positive=%q sold=%d", positive.String, sold)
	}
	row = db.QueryRow(`SELECT positive_event FROM rounds WHERE round=1`)
	if err := row.Scan(&positive); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if positive.Valid {
		t.Errorf("round 1 has an event: %q", positive.String)
	}
}

func TestIndexReopenStartsNewSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	old, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	for round := 1; round <= 3; round++ {
		old.RecordRound(game.RoundRecord{
			Round:   round,
			Prices:  map[string]float64{"wood": 50},
			Incomes: map[string]market.Income{"sawmill": {Coins: 7}},
		})
	}
	if err := old.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	if idx.Session() == old.Session() {
		t.Fatal("reopened index reused the session id")
	}
	idx.RecordRound(game.RoundRecord{
		Round:   1,
		Prices:  map[string]float64{"wood": 10},
		Incomes: map[string]market.Income{"sawmill": {Coins: 2}},
	})
	if err := idx.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	points, err := idx.PriceHistory(ctx, "wood")
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	if len(points) != 1 || points[0].Price != 10 {
		t.Fatalf("new game sees %+v, want only round 1 at 10", points)
	}
	totals, err := idx.IncomeTotals(ctx)
	if err != nil {
		t.Fatalf("IncomeTotals: %v", err)
	}
	if totals["sawmill"] != 2 {
		t.Errorf("totals = %v, want sawmill 2", totals)
	}
}

func TestIndexCloseWhileRecording(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 1; round <= 200; round++ {
				idx.RecordRound(game.RoundRecord{Round: round})
				_ = idx.Sync(context.Background())
			}
		}()
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()
	if err := idx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, rec := range records() {
		if err := a.Record(rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	points, err := a.PriceHistory(context.Background(), "iron")
	if err != nil {
		t.Fatalf("PriceHistory: %v", err)
	}
	if len(points) != 2 || points[1].Price != 14.85 {
		t.Errorf("points = %+v", points)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadRounds(a.LogPath())
	if err != nil {
		t.Fatalf("ReadRounds: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("log holds %d rounds, want 2", len(got))
	}
}
