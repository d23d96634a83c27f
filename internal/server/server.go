package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ivelashvili/royal-exchange/internal/game"
	"github.com/ivelashvili/royal-exchange/internal/report"
	"github.com/ivelashvili/royal-exchange/internal/roundlog"
)

// Archive receives every processed round. *roundlog.Archive implements it.
type Archive interface {
	Record(rec game.RoundRecord) error
	PriceHistory(ctx context.Context, resource string) ([]roundlog.PricePoint, error)
	IncomeTotals(ctx context.Context) (map[string]float64, error)
}

type Options struct {
	Archive Archive
	Logger  *log.Logger
	// Per-IP limit on player actions; zero disables limiting.
	ActionRate  rate.Limit
	ActionBurst int
	// How often game state is pushed to websocket clients.
	PushInterval time.Duration
}

// GameServer owns the one running game. Every mutation takes mu for writing
// and every read takes it for reading, so observers never see a round
// half processed.
type GameServer struct {
	mu       sync.RWMutex
	game     *game.Game
	reporter *report.Reporter
	archive  Archive
	logger   *log.Logger

	clientsMu sync.Mutex
	clients   map[string]*client
	upgrader  websocket.Upgrader

	limitsMu    sync.Mutex
	limits      map[string]*rate.Limiter
	actionRate  rate.Limit
	actionBurst int

	pushInterval time.Duration
}

func NewGameServer(g *game.Game, opts Options) *GameServer {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[server] ", log.LstdFlags)
	}
	push := opts.PushInterval
	if push <= 0 {
		push = time.Second
	}
	burst := opts.ActionBurst
	if burst <= 0 {
		burst = 1
	}
	return &GameServer{
		game:     g,
		reporter: report.New(g),
		archive:  opts.Archive,
		logger:   logger,
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		limits:       make(map[string]*rate.Limiter),
		actionRate:   opts.ActionRate,
		actionBurst:  burst,
		pushInterval: push,
	}
}

// Routes mounts the API on r. Admin routes go through admin when it is not
// nil.
func (gs *GameServer) Routes(r *mux.Router, admin mux.MiddlewareFunc) {
	r.HandleFunc("/ws", gs.HandleWS)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/leaderboard", gs.HandleLeaderboard).Methods("GET")
	api.HandleFunc("/prices", gs.HandlePrices).Methods("GET")
	api.HandleFunc("/buildings", gs.HandleBuildings).Methods("GET")
	api.HandleFunc("/resource/{name}", gs.HandleResource).Methods("GET")
	api.HandleFunc("/building/{name}", gs.HandleBuilding).Methods("GET")
	api.HandleFunc("/game_state", gs.HandleGameState).Methods("GET")
	api.HandleFunc("/players/{id}", gs.HandlePlayer).Methods("GET")
	api.HandleFunc("/history", gs.HandleHistory).Methods("GET")
	api.HandleFunc("/history/{round:[0-9]+}", gs.HandleHistoryRound).Methods("GET")
	api.HandleFunc("/archive/resource/{name}", gs.HandleArchivedPrices).Methods("GET")
	api.HandleFunc("/archive/incomes", gs.HandleArchivedIncomes).Methods("GET")

	actions := api.PathPrefix("/players/{id}").Subrouter()
	actions.Use(gs.rateLimit)
	actions.HandleFunc("/buy", gs.HandleBuy).Methods("POST")
	actions.HandleFunc("/sell", gs.HandleSell).Methods("POST")
	actions.HandleFunc("/build", gs.HandleBuild).Methods("POST")
	actions.HandleFunc("/list", gs.HandleList).Methods("POST")

	adminRouter := api.PathPrefix("/admin").Subrouter()
	if admin != nil {
		adminRouter.Use(admin)
	}
	adminRouter.HandleFunc("/players", gs.HandleRegister).Methods("POST")
	adminRouter.HandleFunc("/advance", gs.HandleAdvance).Methods("POST")
}

// Read handlers

func (gs *GameServer) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	gs.mu.RLock()
	lb := gs.reporter.Leaderboard()
	gs.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": lb})
}

func (gs *GameServer) HandlePrices(w http.ResponseWriter, r *http.Request) {
	gs.mu.RLock()
	prices := gs.reporter.PriceTable()
	gs.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"prices": prices})
}

func (gs *GameServer) HandleBuildings(w http.ResponseWriter, r *http.Request) {
	gs.mu.RLock()
	stats := gs.reporter.BuildingStats()
	gs.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"buildings": stats})
}

func (gs *GameServer) HandleResource(w http.ResponseWriter, r *http.Request) {
	gs.mu.RLock()
	d, err := gs.reporter.ResourceDetail(mux.Vars(r)["name"])
	gs.mu.RUnlock()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (gs *GameServer) HandleBuilding(w http.ResponseWriter, r *http.Request) {
	gs.mu.RLock()
	d, err := gs.reporter.BuildingDetail(mux.Vars(r)["name"])
	gs.mu.RUnlock()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (gs *GameServer) HandleGameState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gs.state())
}

func (gs *GameServer) HandlePlayer(w http.ResponseWriter, r *http.Request) {
	gs.mu.RLock()
	s, err := gs.game.Player(game.PlayerID(mux.Vars(r)["id"]))
	gs.mu.RUnlock()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (gs *GameServer) HandleHistory(w http.ResponseWriter, r *http.Request) {
	gs.mu.RLock()
	h := gs.game.History()
	gs.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"rounds": h})
}

func (gs *GameServer) HandleHistoryRound(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["round"])
	if err != nil {
		writeError(w, fmt.Errorf("%w: round %q", game.ErrInvalidArgument, mux.Vars(r)["round"]))
		return
	}
	gs.mu.RLock()
	rec, ok := gs.game.RoundAt(n - 1)
	gs.mu.RUnlock()
	if !ok {
		writeError(w, fmt.Errorf("%w: round %d has not been processed", game.ErrNotFound, n))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (gs *GameServer) HandleArchivedPrices(w http.ResponseWriter, r *http.Request) {
	if gs.archive == nil {
		writeError(w, fmt.Errorf("%w: round archive is disabled", game.ErrNotFound))
		return
	}
	name := mux.Vars(r)["name"]
	gs.mu.RLock()
	_, known := gs.game.Tables().Resource(name)
	gs.mu.RUnlock()
	if !known {
		writeError(w, fmt.Errorf("%w: resource %q", game.ErrNotFound, name))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	points, err := gs.archive.PriceHistory(ctx, name)
	if err != nil {
		gs.logger.Printf("archive price history %s: %v", name, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resource": name, "rounds": points})
}

// HandleArchivedIncomes reports what one building of each type would have
// earned in coins across every archived round.
func (gs *GameServer) HandleArchivedIncomes(w http.ResponseWriter, r *http.Request) {
	if gs.archive == nil {
		writeError(w, fmt.Errorf("%w: round archive is disabled", game.ErrNotFound))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	totals, err := gs.archive.IncomeTotals(ctx)
	if err != nil {
		gs.logger.Printf("archive income totals: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// Player actions

type tradeRequest struct {
	Resource string `json:"resource"`
	Amount   int    `json:"amount"`
}

type buildRequest struct {
	Type string `json:"type"`
}

type listRequest struct {
	BuildingID string `json:"building_id"`
}

type registerRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (gs *GameServer) HandleBuy(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !decode(w, r, &req) {
		return
	}
	gs.respond(w, "buy", func() (interface{}, error) {
		return gs.Buy(playerID(r), req.Resource, req.Amount)
	})
}

func (gs *GameServer) HandleSell(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if !decode(w, r, &req) {
		return
	}
	gs.respond(w, "sell", func() (interface{}, error) {
		return gs.Sell(playerID(r), req.Resource, req.Amount)
	})
}

func (gs *GameServer) HandleBuild(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if !decode(w, r, &req) {
		return
	}
	gs.respond(w, "build", func() (interface{}, error) {
		return gs.Build(playerID(r), req.Type)
	})
}

func (gs *GameServer) HandleList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !decode(w, r, &req) {
		return
	}
	gs.respond(w, "list", func() (interface{}, error) {
		return gs.List(playerID(r), req.BuildingID)
	})
}

func (gs *GameServer) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	gs.mu.Lock()
	err := gs.game.RegisterPlayer(game.PlayerID(req.ID), req.Name)
	var snap game.PlayerSnapshot
	if err == nil {
		snap, err = gs.game.Player(game.PlayerID(req.ID))
	}
	gs.mu.Unlock()
	if err != nil {
		gs.logger.Printf("register %q rejected: %v", req.ID, err)
		writeError(w, err)
		return
	}
	gs.logger.Printf("registered player %s (%s)", req.ID, req.Name)
	writeJSON(w, http.StatusCreated, snap)
}

func (gs *GameServer) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	rec, err := gs.AdvanceRound()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Mutations shared by REST and websocket clients.

func (gs *GameServer) Buy(id game.PlayerID, resource string, amount int) (game.Trade, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.game.Buy(id, resource, amount)
}

func (gs *GameServer) Sell(id game.PlayerID, resource string, amount int) (game.Trade, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.game.Sell(id, resource, amount)
}

func (gs *GameServer) Build(id game.PlayerID, buildingType string) (game.Construction, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.game.StartConstruction(id, buildingType)
}

func (gs *GameServer) List(id game.PlayerID, buildingID string) (game.Listing, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.game.ListForSale(id, buildingID)
}

// AdvanceRound processes the current round and archives its record.
func (gs *GameServer) AdvanceRound() (game.RoundRecord, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	undo := gs.reporter.Checkpoint()
	rec, err := gs.game.ProcessRound()
	if err != nil {
		undo()
		gs.logger.Printf("round %d failed: %v", gs.game.Round(), err)
		return game.RoundRecord{}, err
	}
	if rec.Events != nil {
		gs.logger.Printf("round %d processed: %s / %s, %d buildings sold", rec.Round, rec.Events.Positive, rec.Events.Negative, len(rec.Sold))
	} else {
		gs.logger.Printf("round %d processed: no events, %d buildings sold", rec.Round, len(rec.Sold))
	}
	if gs.archive != nil {
		if err := gs.archive.Record(rec); err != nil {
			gs.logger.Printf("archive round %d: %v", rec.Round, err)
		}
	}
	return rec, nil
}

func (gs *GameServer) state() report.GameState {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.reporter.GameState()
}

func (gs *GameServer) respond(w http.ResponseWriter, action string, fn func() (interface{}, error)) {
	result, err := fn()
	if err != nil {
		gs.logger.Printf("%s rejected: %v", action, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func playerID(r *http.Request) game.PlayerID { return game.PlayerID(mux.Vars(r)["id"]) }

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, fmt.Errorf("%w: bad request body: %v", game.ErrInvalidArgument, err))
		return false
	}
	return true
}

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error(), Kind: game.Kind(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrInsufficientFunds),
		errors.Is(err, game.ErrInsufficientResources),
		errors.Is(err, game.ErrInvalidTransition),
		errors.Is(err, game.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
