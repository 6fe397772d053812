package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"inspectline/internal/domain"
	"inspectline/internal/repo"
)

// PublicActorID is the actor anonymous reporters act as on public routes.
const PublicActorID = "public"

type AuthConfig struct {
	JWTSecret string
	// DevLogin enables POST /auth/dev/login, which mints tokens for any
	// registered actor. Never enable it in production.
	DevLogin bool
}

// Principal is the authenticated caller of a request.
type Principal struct {
	ActorID string
	Role    domain.Role
	Source  string
}

func (p Principal) Actor() domain.Actor {
	return domain.Actor{ID: p.ActorID, Role: p.Role}
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorFromContext(ctx context.Context) (domain.Actor, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p.Actor(), nil
	}
	return domain.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// SignToken mints an HS256 token carrying the actor id as subject and its role.
func SignToken(secret, actorID string, role domain.Role, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "inspectline",
		},
		Role: string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
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
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ActorID: claims.Subject, Role: role, Source: "jwt"}, nil
}

// authenticateAPIKey resolves the key's actor; the role comes from the actor
// row so revoking a role takes effect without reissuing keys.
func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	if apiKey.ActorID == "" {
		return Principal{}, errors.New("api key missing actor")
	}
	actor, err := r.GetActor(ctx, apiKey.ActorID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ActorID: actor.ID, Role: actor.Role, Source: "api_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// publicRoute reports whether p may be called without credentials. Such
// calls run as an anonymous reporter.
func publicRoute(basePath, p string) bool {
	rel := strings.TrimPrefix(p, basePath)
	switch rel {
	case "/health", "/openapi.json", "/complaints", "/auth/dev/login":
		return true
	}
	return rel == "/intake" || strings.HasPrefix(rel, "/intake/") || rel == "/businesses"
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	wsPath := path.Join(basePath, "ws")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			// Browsers cannot set headers on a websocket handshake.
			if authz == "" && req.URL.Path == wsPath {
				if tok := strings.TrimSpace(req.URL.Query().Get("access_token")); tok != "" {
					authz = "Bearer " + tok
				}
			}

			var (
				principal Principal
				err       error
			)
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err = authenticateJWT(token, cfg.JWTSecret)
			case apiKeyHeader != "":
				principal, err = authenticateAPIKey(req.Context(), r, apiKeyHeader)
			case publicRoute(basePath, req.URL.Path):
				principal = Principal{ActorID: PublicActorID, Role: domain.RoleReporter, Source: "public"}
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if err != nil {
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
