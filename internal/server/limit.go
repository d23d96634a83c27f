package server

import (
	"fmt"
	"net"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/ivelashvili/royal-exchange/internal/game"
)

func (gs *GameServer) limiter(ip string) *rate.Limiter {
	gs.limitsMu.Lock()
	defer gs.limitsMu.Unlock()
	l, ok := gs.limits[ip]
	if !ok {
		l = rate.NewLimiter(gs.actionRate, gs.actionBurst)
		gs.limits[ip] = l
	}
	return l
}

func (gs *GameServer) allow(ip string) bool {
	if gs.actionRate == 0 {
		return true
	}
	return gs.limiter(ip).Allow()
}

// rateLimit throttles player actions per client address.
func (gs *GameServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !gs.allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limited", Kind: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func badPayload(err error) error {
	return fmt.Errorf("%w: bad payload: %v", game.ErrInvalidArgument, err)
}
