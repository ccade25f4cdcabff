/*
auth.go - JWT verification middleware

PURPOSE:
  Verifies HS256 bearer tokens issued by the account service and puts the
  caller's identity on the request context. Tokens are never issued here.

TOKEN SOURCES:
  BearerToken: "Authorization: Bearer <token>" (every JSON endpoint)
  QueryToken:  "?token=<token>" (websocket upgrade; browsers cannot set headers)

CLAIMS:
  {"id": 42, "email": "...", "role": "user", "exp": ...}

FAILURES:
  Any failure (missing token, bad signature, expired, id <= 0) answers 401
  with the same body. The cause is logged at debug level only.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/gtcompanion/achievement-engine/achievement"
)

var errMissingToken = errors.New("token not provided")

// Claims is the JWT payload.
type Claims struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the caller as an achievement.UserID.
func (c *Claims) UserID() achievement.UserID {
	return achievement.UserID(c.ID)
}

type claimsKey struct{}

// ClaimsFromContext returns the verified claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// TokenExtractor pulls the raw token from a request.
type TokenExtractor func(r *http.Request) string

func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func QueryToken(r *http.Request) string {
	return r.URL.Query().Get("token")
}

// Authenticator verifies tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
	log    *zap.Logger
}

func NewAuthenticator(secret []byte, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		log:    log,
	}
}

// Verify parses and validates a raw token.
func (a *Authenticator) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, errMissingToken
	}
	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.ID <= 0 {
		return nil, fmt.Errorf("token has no user id")
	}
	return claims, nil
}

// Middleware rejects requests without a valid token from extract.
func (a *Authenticator) Middleware(extract TokenExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Verify(extract(r))
			if err != nil {
				a.log.Debug("authentication failed", zap.Error(err), zap.String("path", r.URL.Path))
				writeAuthError(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
