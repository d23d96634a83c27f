package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ivelashvili/royal-exchange/internal/game"
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type WSOut struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// actionResult answers one websocket action.
type actionResult struct {
	Action string      `json:"action"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	Kind   string      `json:"kind,omitempty"`
}

type client struct {
	id   string
	ip   string
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) send(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

// HandleWS upgrades an observer connection. Clients receive the game state
// on every push and may send player actions.
func (gs *GameServer) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := gs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gs.logger.Println("upgrade:", err)
		return
	}
	c := &client{id: uuid.NewString(), ip: clientIP(r), conn: conn}
	gs.clientsMu.Lock()
	gs.clients[c.id] = c
	gs.clientsMu.Unlock()

	c.send(WSOut{Type: "hello", Payload: map[string]string{"clientId": c.id}})
	c.send(WSOut{Type: "gameState", Payload: gs.state()})
	go gs.readLoop(c)
}

// WebSocket read loop
func (gs *GameServer) readLoop(c *client) {
	defer func() {
		gs.clientsMu.Lock()
		delete(gs.clients, c.id)
		gs.clientsMu.Unlock()
		c.conn.Close()
	}()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				gs.logger.Println("read:", err)
			}
			return
		}
		switch msg.Type {
		case "ping":
			c.send(WSOut{Type: "pong"})
		case "state":
			c.send(WSOut{Type: "gameState", Payload: gs.state()})
		case "player":
			var data struct {
				PlayerID string `json:"player_id"`
			}
			json.Unmarshal(msg.Payload, &data)
			gs.mu.RLock()
			s, err := gs.game.Player(game.PlayerID(data.PlayerID))
			gs.mu.RUnlock()
			c.send(result(msg.Type, s, err))
		case "buy", "sell", "build", "list":
			if !gs.allow(c.ip) {
				c.send(WSOut{Type: "actionResult", Payload: actionResult{Action: msg.Type, Error: "rate limited", Kind: "rate_limited"}})
				continue
			}
			v, err := gs.dispatch(msg)
			if err != nil {
				gs.logger.Printf("%s rejected: %v", msg.Type, err)
			}
			c.send(result(msg.Type, v, err))
		default:
			c.send(WSOut{Type: "error", Payload: map[string]string{"error": "unknown message type " + msg.Type}})
		}
	}
}

func (gs *GameServer) dispatch(msg Message) (interface{}, error) {
	var data struct {
		PlayerID   string `json:"player_id"`
		Resource   string `json:"resource"`
		Amount     int    `json:"amount"`
		Type       string `json:"type"`
		BuildingID string `json:"building_id"`
	}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			return nil, badPayload(err)
		}
	}
	id := game.PlayerID(data.PlayerID)
	switch msg.Type {
	case "buy":
		return gs.Buy(id, data.Resource, data.Amount)
	case "sell":
		return gs.Sell(id, data.Resource, data.Amount)
	case "build":
		return gs.Build(id, data.Type)
	default:
		return gs.List(id, data.BuildingID)
	}
}

func result(action string, v interface{}, err error) WSOut {
	if err != nil {
		return WSOut{Type: "actionResult", Payload: actionResult{Action: action, Error: err.Error(), Kind: game.Kind(err)}}
	}
	return WSOut{Type: "actionResult", Payload: actionResult{Action: action, OK: true, Result: v}}
}

// Run pushes the game state to every websocket client until ctx is done.
func (gs *GameServer) Run(ctx context.Context) {
	ticker := time.NewTicker(gs.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			gs.closeClients()
			return
		case <-ticker.C:
			gs.broadcast(WSOut{Type: "gameState", Payload: gs.state()})
		}
	}
}

func (gs *GameServer) broadcast(msg WSOut) {
	gs.clientsMu.Lock()
	clients := make([]*client, 0, len(gs.clients))
	for _, c := range gs.clients {
		clients = append(clients, c)
	}
	gs.clientsMu.Unlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			// The read loop notices the broken connection and cleans up.
			c.conn.Close()
		}
	}
}

func (gs *GameServer) closeClients() {
	gs.clientsMu.Lock()
	defer gs.clientsMu.Unlock()
	for _, c := range gs.clients {
		c.conn.Close()
	}
}

// ClientCount reports the connected websocket clients.
func (gs *GameServer) ClientCount() int {
	gs.clientsMu.Lock()
	defer gs.clientsMu.Unlock()
	return len(gs.clients)
}
