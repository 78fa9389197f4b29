package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dividi/internal/core"
	applog "dividi/internal/log"
)

// DevUserHeader names the caller when no JWT secret is configured.
const DevUserHeader = "X-User-ID"

type ctxKey string

const userIDKey ctxKey = "user_id"

// Claims are the token claims. The subject is the user id.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for a user.
func SignToken(secret []byte, u core.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  u.Name,
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// authenticate resolves the caller. No credentials means an anonymous
// request; bad credentials are rejected. A known caller is synced into the
// user store before the handler runs.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.identify(r)
		if err != nil {
			applog.FromContext(r.Context()).WithComponent(applog.ComponentAuth).
				WarnContext(r.Context(), "Authentication failed", applog.FieldError, err)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
			return
		}
		if user.ID == "" {
			next.ServeHTTP(w, r)
			return
		}

		if err := s.svc.SyncUser(r.Context(), user); err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) identify(r *http.Request) (core.User, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if len(s.jwtSecret) == 0 {
			return core.User{ID: strings.TrimSpace(r.Header.Get(DevUserHeader))}, nil
		}
		return core.User{}, nil
	}
	if len(s.jwtSecret) == 0 {
		return core.User{}, errors.New("bearer tokens are disabled")
	}

	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return core.User{}, errors.New("invalid authorization header")
	}
	claims, err := parseToken(s.jwtSecret, strings.TrimSpace(tokenString))
	if err != nil {
		return core.User{}, err
	}
	return core.User{ID: claims.Subject, Name: claims.Name, Email: claims.Email}, nil
}

// userID returns the authenticated caller, or "" for anonymous requests.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
