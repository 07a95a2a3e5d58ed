package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/config"
)

const AccountIDKey = "account_id"

const sessionLookupTimeout = 2 * time.Second

var (
	ErrMissingToken   = errors.New("missing token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrSessionExpired = errors.New("session expired")
)

// SessionKey is the cache key marking a token as logged in.
func SessionKey(token string) string {
	return "session:" + token
}

// ValidateSession parses token and checks that its session is still live.
// The returned error is one of ErrMissingToken, ErrInvalidToken or
// ErrSessionExpired.
func ValidateSession(ctx context.Context, sec config.SecurityConfig, c cache.Cache, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	claims, err := ParseToken(token, sec.JWTSecret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	ctx, cancel := context.WithTimeout(ctx, sessionLookupTimeout)
	defer cancel()
	exists, err := c.Exists(ctx, SessionKey(token))
	if err != nil || !exists {
		return nil, ErrSessionExpired
	}
	return claims, nil
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// Auth validates the Bearer JWT token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims, err := ValidateSession(ctx.Request.Context(), sec, c, BearerToken(ctx))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		ctx.Set(AccountIDKey, claims.AccountID)
		ctx.Next()
	}
}

// GetAccountID retrieves the authenticated account ID from the Gin context.
func GetAccountID(c *gin.Context) int64 {
	if v, exists := c.Get(AccountIDKey); exists {
		return v.(int64)
	}
	return 0
}
