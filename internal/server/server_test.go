package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ivelashvili/royal-exchange/internal/auth"
	"github.com/ivelashvili/royal-exchange/internal/config"
	"github.com/ivelashvili/royal-exchange/internal/game"
	"github.com/ivelashvili/royal-exchange/internal/roundlog"
)

func newTestServer(t *testing.T, opts Options, admin mux.MiddlewareFunc) (*GameServer, *mux.Router) {
	t.Helper()
	tables := config.Config{
		StartingMoney:  1000,
		PlayerCapacity: 2,
		Market:         config.DefaultMarket(),
		Resources: []config.ResourceDef{
			{Name: "wood", BasePrice: 10},
			{Name: "iron", BasePrice: 15},
			{Name: "labor", BasePrice: 8},
		},
		Buildings: []config.BuildingDef{{
			Name:   "sawmill",
			Cost:   map[string]int{"iron": 5, "labor": 3},
			Income: config.Income{Coins: 10, Resources: map[string]float64{"wood": 3}},
		}},
		Events: config.EventTables{
			Positive: []config.EventDef{{Name: "Calm"}},
			Negative: []config.EventDef{{Name: "Quiet"}},
			Pairs:    []config.EventPair{{Positive: "Calm", Negative: "Quiet"}},
		},
	}
	g, err := game.New(tables, game.WithSeed(1))
	if err != nil {
		t.Fatal(err)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	gs := NewGameServer(g, opts)
	r := mux.NewRouter()
	gs.Routes(r, admin)
	return gs, r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestTradeAndReadRoutes(t *testing.T) {
	_, r := newTestServer(t, Options{}, nil)

	if rec := do(t, r, "POST", "/api/admin/players", `{"id":"alice","name":"Alice"}`); rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body)
	}

	rec := do(t, r, "POST", "/api/players/alice/buy", `{"resource":"wood","amount":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("buy: %d %s", rec.Code, rec.Body)
	}
	var trade game.Trade
	decodeBody(t, rec, &trade)
	if trade.Total != 50 || trade.Money != 950 {
		t.Errorf("trade = %+v", trade)
	}

	rec = do(t, r, "GET", "/api/players/alice", "")
	var snap game.PlayerSnapshot
	decodeBody(t, rec, &snap)
	if snap.Resources["wood"] != 5 || snap.CurrentRound != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	rec = do(t, r, "GET", "/api/leaderboard", "")
	var lb struct {
		Leaderboard []struct {
			PlayerID   string  `json:"player_id"`
			TotalValue float64 `json:"total_value"`
			Rank       int     `json:"rank"`
		} `json:"leaderboard"`
	}
	decodeBody(t, rec, &lb)
	if len(lb.Leaderboard) != 1 || lb.Leaderboard[0].TotalValue != 1000 || lb.Leaderboard[0].Rank != 1 {
		t.Errorf("leaderboard = %+v", lb)
	}

	rec = do(t, r, "GET", "/api/resource/wood", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"price_history"`) {
		t.Errorf("resource: %d %s", rec.Code, rec.Body)
	}
	for _, path := range []string{"/api/prices", "/api/buildings", "/api/building/sawmill", "/api/game_state", "/api/history"} {
		if rec := do(t, r, "GET", path, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s: %d %s", path, rec.Code, rec.Body)
		}
	}
}

func TestErrorStatuses(t *testing.T) {
	_, r := newTestServer(t, Options{}, nil)
	do(t, r, "POST", "/api/admin/players", `{"id":"alice","name":"Alice"}`)

	tests := []struct {
		method, path, body string
		status             int
		kind               string
	}{
		{"POST", "/api/players/bob/buy", `{"resource":"wood","amount":1}`, http.StatusNotFound, "not_found"},
		{"POST", "/api/players/alice/buy", `{"resource":"wood","amount":0}`, http.StatusBadRequest, "invalid_argument"},
		{"POST", "/api/players/alice/buy", `{"resource":"wood","amount":"many"}`, http.StatusBadRequest, "invalid_argument"},
		{"POST", "/api/players/alice/buy", `{"resource":"wood","amount":1000}`, http.StatusConflict, "insufficient_funds"},
		{"POST", "/api/players/alice/sell", `{"resource":"wood","amount":1}`, http.StatusConflict, "insufficient_resources"},
		{"POST", "/api/players/alice/build", `{"type":"castle"}`, http.StatusNotFound, "not_found"},
		{"POST", "/api/admin/players", `{"id":"alice","name":"Again"}`, http.StatusConflict, "capacity_exceeded"},
		{"GET", "/api/resource/gold", "", http.StatusNotFound, "not_found"},
		{"GET", "/api/history/1", "", http.StatusNotFound, "not_found"},
		{"GET", "/api/archive/resource/wood", "", http.StatusNotFound, "not_found"},
		{"GET", "/api/archive/incomes", "", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		rec := do(t, r, tt.method, tt.path, tt.body)
		if rec.Code != tt.status {
			t.Errorf("%s %s: status %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.status, rec.Body)
			continue
		}
		var body errorBody
		decodeBody(t, rec, &body)
		if body.Kind != tt.kind {
			t.Errorf("%s %s: kind %q, want %q", tt.method, tt.path, body.Kind, tt.kind)
		}
	}
}

func TestAdvanceAndHistory(t *testing.T) {
	archive, err := roundlog.Open(t.TempDir(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()
	_, r := newTestServer(t, Options{Archive: archive}, nil)
	do(t, r, "POST", "/api/admin/players", `{"id":"alice","name":"Alice"}`)
	do(t, r, "POST", "/api/players/alice/buy", `{"resource":"iron","amount":5}`)
	do(t, r, "POST", "/api/players/alice/buy", `{"resource":"labor","amount":3}`)

	rec := do(t, r, "POST", "/api/players/alice/build", `{"type":"sawmill"}`)
	var c game.Construction
	decodeBody(t, rec, &c)
	if c.CompletedRound != 2 {
		t.Fatalf("construction = %+v", c)
	}

	for i := 0; i < 2; i++ {
		if rec := do(t, r, "POST", "/api/admin/advance", ""); rec.Code != http.StatusOK {
			t.Fatalf("advance: %d %s", rec.Code, rec.Body)
		}
	}
	rec = do(t, r, "POST", "/api/players/alice/list", `{"building_id":"`+c.BuildingID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, r, "GET", "/api/history/2", "")
	var rr game.RoundRecord
	decodeBody(t, rec, &rr)
	if rr.Round != 2 || rr.Events == nil || rr.Incomes["sawmill"].Coins <= 0 {
		t.Errorf("round 2 = %+v", rr)
	}

	rec = do(t, r, "GET", "/api/archive/resource/iron", "")
	var archived struct {
		Rounds []roundlog.PricePoint `json:"rounds"`
	}
	decodeBody(t, rec, &archived)
	if len(archived.Rounds) != 2 || archived.Rounds[0].Price != 15 {
		t.Errorf("archived = %+v", archived)
	}

	var history struct {
		Rounds []game.RoundRecord `json:"rounds"`
	}
	decodeBody(t, do(t, r, "GET", "/api/history", ""), &history)
	want := 0.0
	for _, h := range history.Rounds {
		want += h.Incomes["sawmill"].Coins
	}
	var totals map[string]float64
	decodeBody(t, do(t, r, "GET", "/api/archive/incomes", ""), &totals)
	if len(history.Rounds) != 2 || math.Abs(totals["sawmill"]-want) > 1e-9 {
		t.Errorf("income totals = %v, want sawmill %v", totals, want)
	}
}

func TestAdminRequiresHostToken(t *testing.T) {
	host, err := auth.NewHostAuth("0123456789abcdef0123", "")
	if err != nil {
		t.Fatal(err)
	}
	_, r := newTestServer(t, Options{}, host.AuthMiddleware)

	if rec := do(t, r, "POST", "/api/admin/advance", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("advance without token: %d", rec.Code)
	}
	tok, _ := host.IssueToken("gm", time.Hour)
	req := httptest.NewRequest("POST", "/api/admin/advance", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("advance with token: %d %s", rec.Code, rec.Body)
	}
	// Reads stay public.
	if rec := do(t, r, "GET", "/api/prices", ""); rec.Code != http.StatusOK {
		t.Errorf("prices: %d", rec.Code)
	}
}

func TestActionRateLimit(t *testing.T) {
	_, r := newTestServer(t, Options{ActionRate: 0.001, ActionBurst: 2}, nil)
	do(t, r, "POST", "/api/admin/players", `{"id":"alice","name":"Alice"}`)

	for i := 0; i < 2; i++ {
		if rec := do(t, r, "POST", "/api/players/alice/buy", `{"resource":"wood","amount":1}`); rec.Code != http.StatusOK {
			t.Fatalf("buy %d: %d", i, rec.Code)
		}
	}
	if rec := do(t, r, "POST", "/api/players/alice/buy", `{"resource":"wood","amount":1}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third buy: %d", rec.Code)
	}
	if rec := do(t, r, "GET", "/api/players/alice", ""); rec.Code != http.StatusOK {
		t.Errorf("reads are not limited: %d", rec.Code)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg.Payload
		}
	}
}

func TestWebSocket(t *testing.T) {
	gs, r := newTestServer(t, Options{PushInterval: 20 * time.Millisecond}, nil)
	do(t, r, "POST", "/api/admin/players", `{"id":"alice","name":"Alice"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gs.Run(ctx)

	ts := httptest.NewServer(r)
	defer ts.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var hello struct {
		ClientID string `json:"clientId"`
	}
	json.Unmarshal(readUntil(t, conn, "hello"), &hello)
	if hello.ClientID == "" {
		t.Error("no client id")
	}

	if err := conn.WriteJSON(Message{Type: "buy", Payload: json.RawMessage(`{"player_id":"alice","resource":"wood","amount":2}`)}); err != nil {
		t.Fatal(err)
	}
	var res struct {
		Action string `json:"action"`
		OK     bool   `json:"ok"`
	}
	json.Unmarshal(readUntil(t, conn, "actionResult"), &res)
	if res.Action != "buy" || !res.OK {
		t.Errorf("buy result = %+v", res)
	}

	if err := conn.WriteJSON(Message{Type: "sell", Payload: json.RawMessage(`{"player_id":"alice","resource":"wood","amount":5}`)}); err != nil {
		t.Fatal(err)
	}
	var failed struct {
		OK   bool   `json:"ok"`
		Kind string `json:"kind"`
	}
	json.Unmarshal(readUntil(t, conn, "actionResult"), &failed)
	if failed.OK || failed.Kind != "insufficient_resources" {
		t.Errorf("oversell result = %+v", failed)
	}

	// A pushed state reflects the trade.
	var state struct {
		Round       int `json:"current_round"`
		Leaderboard []struct {
			Money float64 `json:"money"`
		} `json:"leaderboard"`
	}
	// A push already computed when the buy landed may still be in flight.
	for i := 0; i < 5; i++ {
		json.Unmarshal(readUntil(t, conn, "gameState"), &state)
		if len(state.Leaderboard) == 1 && state.Leaderboard[0].Money == 980 {
			break
		}
	}
	if state.Round != 1 || len(state.Leaderboard) != 1 || state.Leaderboard[0].Money != 980 {
		t.Errorf("pushed state = %+v", state)
	}
	if gs.ClientCount() != 1 {
		t.Errorf("ClientCount = %d", gs.ClientCount())
	}
}
