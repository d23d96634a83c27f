package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleHost is the only role allowed to register players and advance rounds.
const RoleHost = "host"

// HostAuth signs and validates the game master's bearer tokens.
type HostAuth struct {
	Issuer string
	secret []byte
}

// HostClaims represents the claims of a host token
type HostClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewHostAuth creates a HostAuth from an explicit secret.
func NewHostAuth(secret, issuer string) (*HostAuth, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("host secret must be at least 16 bytes")
	}
	if issuer == "" {
		issuer = "royal-exchange"
	}
	return &HostAuth{Issuer: issuer, secret: []byte(secret)}, nil
}

// NewHostAuthFromEnv reads HOST_JWT_SECRET and HOST_JWT_ISSUER.
func NewHostAuthFromEnv() (*HostAuth, error) {
	return NewHostAuth(os.Getenv("HOST_JWT_SECRET"), os.Getenv("HOST_JWT_ISSUER"))
}

// IssueToken signs a host token for subject valid for ttl.
func (h *HostAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := HostClaims{
		Role: RoleHost,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    h.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
}

// ValidateToken validates a host JWT token
func (h *HostAuth) ValidateToken(tokenString string) (*HostClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &HostClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.secret, nil
	}, jwt.WithIssuer(h.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*HostClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token or claims")
	}
	if claims.Role != RoleHost {
		return nil, fmt.Errorf("invalid role: %s", claims.Role)
	}
	return claims, nil
}

type contextKey struct{}

// AuthMiddleware rejects requests without a valid host bearer token
func (h *HostAuth) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Bearer token required", http.StatusUnauthorized)
			return
		}

		claims, err := h.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetHostFromContext extracts host claims from request context
func GetHostFromContext(ctx context.Context) (*HostClaims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*HostClaims)
	return claims, ok
}
