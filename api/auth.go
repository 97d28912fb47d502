package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/practicehub/timesheet-engine/generic"
	"github.com/practicehub/timesheet-engine/timesheet"
)

type contextKey string

const actorContextKey contextKey = "actor"

// Claims is the bearer token payload.
type Claims struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves the caller of every /api request. With a secret
// it requires an HS256 bearer token; without one it trusts the
// X-Tenant-ID, X-User-ID and X-User-Role headers (development only).
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// GenerateToken mints a token for the actor.
func GenerateToken(secret string, actor timesheet.Actor, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := &Claims{
		TenantID: actor.TenantID,
		UserID:   actor.UserID,
		Role:     actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func (a *Authenticator) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Middleware stores the caller's Actor in the request context. Handlers
// reject requests without one.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var actor timesheet.Actor
		if len(a.secret) > 0 {
			tokenStr := bearerToken(r.Header.Get("Authorization"))
			if tokenStr == "" {
				writeError(w, generic.Unauthorized("missing bearer token"))
				return
			}
			claims, err := a.parse(tokenStr)
			if err != nil {
				writeError(w, generic.Unauthorized("invalid token"))
				return
			}
			actor = timesheet.Actor{TenantID: claims.TenantID, UserID: claims.UserID, Role: claims.Role}
		} else {
			actor = timesheet.Actor{
				TenantID: r.Header.Get("X-Tenant-ID"),
				UserID:   r.Header.Get("X-User-ID"),
				Role:     r.Header.Get("X-User-Role"),
			}
		}
		if actor.Role == "" {
			actor.Role = timesheet.RoleStaff
		}
		ctx := context.WithValue(r.Context(), actorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext returns the caller set by Middleware.
func ActorFromContext(ctx context.Context) timesheet.Actor {
	actor, _ := ctx.Value(actorContextKey).(timesheet.Actor)
	return actor
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
