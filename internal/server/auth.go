package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

const (
	RoleAdmin  = "admin"
	RoleClient = "client"
	RoleWorker = "worker"
)

// AuthConfig controls request authentication. With an empty JWTSecret the API
// runs open and takes the actor from X-Actor-Id; that mode is for local use.
type AuthConfig struct {
	JWTSecret string
	Logger    *slog.Logger
}

type Principal struct {
	ActorID string
	Roles   []string
	Source  string
}

func (p Principal) has(role string) bool {
	return slices.Contains(p.Roles, role)
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// actorID names the caller in emitted events.
func actorID(ctx context.Context) string {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p.ActorID
	}
	return "anonymous"
}

// requireSelf stops a worker token from acting for another worker. Admin and
// client tokens, and the open local mode, may act for anyone.
func requireSelf(ctx context.Context, workerID string) error {
	p, ok := principalFromContext(ctx)
	if !ok || p.Source != "jwt" || p.has(RoleAdmin) || !p.has(RoleWorker) {
		return nil
	}
	if p.ActorID != workerID {
		return newAPIError(http.StatusForbidden, "forbidden", "workers may only act for themselves", map[string]any{"worker_id": workerID})
	}
	return nil
}

// requireRole admits admin tokens and tokens carrying one of roles. With no
// roles listed only admins pass. The open local mode is not checked.
func requireRole(ctx context.Context, roles ...string) error {
	p, ok := principalFromContext(ctx)
	if !ok || p.Source != "jwt" || p.has(RoleAdmin) {
		return nil
	}
	for _, role := range roles {
		if p.has(role) {
			return nil
		}
	}
	return newAPIError(http.StatusForbidden, "forbidden", "insufficient role", map[string]any{"required": append([]string{RoleAdmin}, roles...)})
}

// workerOnly returns the caller when their token grants neither admin nor
// client rights. Such callers only see their own worker scope.
func workerOnly(ctx context.Context) (Principal, bool) {
	p, ok := principalFromContext(ctx)
	if !ok || p.Source != "jwt" || p.has(RoleAdmin) || p.has(RoleClient) {
		return Principal{}, false
	}
	return p, true
}

// redactHolder hides another worker's hold on a requirement from a
// worker-only caller.
func redactHolder(ctx context.Context, req domain.Requirement) domain.Requirement {
	p, ok := workerOnly(ctx)
	if !ok || req.HolderID == nil || *req.HolderID == p.ActorID {
		return req
	}
	req.HolderID = nil
	return req
}

// workerScope pins a worker-only caller's event reads to their own id.
func workerScope(ctx context.Context, requested string) (string, error) {
	p, ok := workerOnly(ctx)
	if !ok {
		return requested, nil
	}
	if requested != "" && requested != p.ActorID {
		return "", newAPIError(http.StatusForbidden, "forbidden", "workers may only read their own events", map[string]any{"worker_id": requested})
	}
	return p.ActorID, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{ActorID: claims.Subject, Roles: claims.Roles, Source: "jwt"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	open := strings.TrimSpace(cfg.JWTSecret) == ""
	if open {
		cfg.logger().Warn("api authentication disabled; set TEAMDASH_JWT_SECRET to require bearer tokens")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}
			if open {
				p := Principal{ActorID: strings.TrimSpace(req.Header.Get("X-Actor-Id")), Source: "header"}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				cfg.logger().Debug("rejected bearer token", "err", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
