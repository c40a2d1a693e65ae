package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wku/velox-orchestrator/internal/apierr"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleLogin issues a 24h HS256 bearer token for the single operator
// account configured via AUTH_USER/AUTH_PASSWORD.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	validUser := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.cfg.AuthUser)) == 1
	validPass := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.AuthPassword)) == 1
	if !validUser || !validPass {
		writeError(w, apierr.New(apierr.SignatureMismatch, "invalid credentials"))
		return
	}

	claims := jwt.RegisteredClaims{
		Subject:   req.Username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.SecretKey))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: signed, TokenType: "bearer"})
}

type meResponse struct {
	Status string `json:"status"`
	User   string `json:"user"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := r.Context().Value(authUserContextKey{}).(string)
	writeJSON(w, http.StatusOK, meResponse{Status: "authenticated", User: user})
}

type authUserContextKey struct{}

// requireAuth validates a "Bearer <token>" Authorization header against
// SECRET_KEY and stashes the token subject in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, apierr.New(apierr.SignatureMismatch, "missing or invalid authorization header"))
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return []byte(s.cfg.SecretKey), nil
		})
		if err != nil || !token.Valid {
			writeError(w, apierr.New(apierr.SignatureMismatch, "invalid or expired token"))
			return
		}

		ctx := context.WithValue(r.Context(), authUserContextKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
