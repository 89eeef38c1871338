package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errNoSubject    = errors.New("token has no sub or username claim")
)

// authMiddleware requires a valid HS256 bearer token and stores its
// subject as the request owner.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return s.requireToken(next, false)
}

// wsAuthMiddleware also accepts the token as ?token=, since browsers
// cannot set headers on websocket requests.
func (s *Server) wsAuthMiddleware(next http.Handler) http.Handler {
	return s.requireToken(next, true)
}

func (s *Server) requireToken(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" && allowQuery {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			writeUnauthorized(w, errMissingToken.Error())
			return
		}

		owner, err := s.parseToken(raw)
		if err != nil {
			s.logger.Debug("rejected bearer token",
				"error", err,
				"request_id", r.Context().Value(ctxKeyRequestID),
			)
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyOwner, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// parseToken verifies signature, expiry and (when configured) issuer, and
// returns the owner named by the sub or username claim.
func (s *Server) parseToken(raw string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.secCfg.JWT.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.secCfg.JWT.Issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return []byte(s.secCfg.JWT.Secret), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	if sub, _ := claims.GetSubject(); sub != "" { //nolint:errcheck // empty subject falls through to username
		return sub, nil
	}
	if username, ok := claims["username"].(string); ok && username != "" {
		return username, nil
	}
	return "", errNoSubject
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

// ownerFrom returns the authenticated username set by authMiddleware.
func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ctxKeyOwner).(string) //nolint:errcheck // absent owner is ""
	return owner
}
