package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the owner tokens issued by the account service.
type Claims struct {
	UserID int64 `json:"id"`
	Admin  bool  `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

var errMissingToken = errors.New("missing bearer token")

// Auth requires a valid HS256 owner token. Browsers cannot set headers on
// websocket upgrades, so a "token" query parameter is accepted as well.
func Auth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := parseToken(r, key)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func parseToken(r *http.Request, key []byte) (*Claims, error) {
	raw := bearerToken(r)
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return nil, errMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token has no user id")
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// OwnerID returns the authenticated user id.
func OwnerID(ctx context.Context) (int64, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	if !ok || c == nil {
		return 0, false
	}
	return c.UserID, true
}

func IsAdmin(ctx context.Context) bool {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return ok && c != nil && c.Admin
}
