// internal/middleware/auth.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"settlement-service/config"
	"settlement-service/internal/domain"
	"settlement-service/pkg/response"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var ErrInvalidToken = errors.New("invalid token")

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleUser    Role = "user"
	RoleService Role = "service"
)

type Claims struct {
	UserID string `json:"uid,omitempty"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Privileged callers act on behalf of any account.
func (a Actor) Privileged() bool { return a.Role == RoleAdmin || a.Role == RoleService }

// CanAccess reports whether the actor may read or act on ownerID's resources.
func (a Actor) CanAccess(ownerID string) bool {
	return a.Privileged() || (a.ID != "" && a.ID == ownerID)
}

// String is the form recorded in history rows and withdrawal audits.
func (a Actor) String() string { return string(a.Role) + ":" + a.ID }

type contextKey string

const ContextActor contextKey = "actor"

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ContextActor, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ContextActor).(Actor)
	return a, ok
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
	logger *zap.Logger
}

func NewAuthenticator(cfg config.AuthConfig, logger *zap.Logger) *Authenticator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30 * time.Second)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		parser: jwt.NewParser(opts...),
		logger: logger.Named("auth"),
	}
}

func (a *Authenticator) ParseToken(tokenStr string) (*Claims, error) {
	claims := new(Claims)
	token, err := a.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	switch claims.Role {
	case RoleAdmin, RoleUser, RoleService:
	default:
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Require rejects requests without a valid token and stores the actor in the context.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized, domain.CodeUnauthorized, "No token provided")
			return
		}
		claims, err := a.ParseToken(token)
		if err != nil {
			a.logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			response.Error(w, http.StatusUnauthorized, domain.CodeUnauthorized, "Invalid or expired token")
			return
		}
		ctx := WithActor(r.Context(), Actor{ID: claims.UserID, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole allows only the listed roles through. Use after Require.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				response.Error(w, http.StatusUnauthorized, domain.CodeUnauthorized, "Authentication required")
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden, domain.CodeForbidden, "Insufficient permissions")
		})
	}
}

// IssueToken signs a token for userID. Used by tests and local tooling.
func IssueToken(cfg config.AuthConfig, userID string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

// extractToken reads the bearer header, then the query string for websocket clients.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
