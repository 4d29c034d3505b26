package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/username/tradejournal/backend/src/utils"
)

type contextKey string

const userIDContextKey contextKey = "userID"

// AuthMiddleware validates the bearer token and puts the caller identity
// into the request context. Token issuance lives elsewhere; this side only
// verifies HS256 signatures and extracts the subject.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found || tokenString == "" {
				utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
				return
			}

			userID, err := userIDFromToken(tokenString, jwtSecret)
			if err != nil {
				utils.SendJSONError(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userIDFromToken(tokenString, jwtSecret string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, errors.New("invalid token")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return 0, errors.New("invalid token: 'sub' claim missing or not a string")
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, errors.New("invalid token: 'sub' claim is not a numeric user ID")
	}
	return userID, nil
}

// GetUserIDFromContext returns the authenticated caller's user ID.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}
