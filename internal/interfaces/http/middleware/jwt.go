package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/katecvn/backoffice/internal/domain/identity"
	"github.com/katecvn/backoffice/internal/infrastructure/auth"
	"github.com/katecvn/backoffice/internal/infrastructure/logger"
	"github.com/katecvn/backoffice/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// JWT context keys
const (
	SessionContextKey = "session_context"
	AuthHeaderKey     = "Authorization"
	BearerPrefix      = "Bearer "
)

// TokenValidator turns a bearer token into the caller's SessionContext
type TokenValidator interface {
	SessionContext(token string) (identity.SessionContext, error)
}

// JWTMiddlewareConfig holds configuration for JWT middleware
type JWTMiddlewareConfig struct {
	Validator TokenValidator
	// SkipPaths are exact paths that don't require authentication
	SkipPaths []string
	Logger    *zap.Logger
}

// DefaultJWTConfig returns default JWT middleware configuration
func DefaultJWTConfig(validator TokenValidator) JWTMiddlewareConfig {
	return JWTMiddlewareConfig{
		Validator: validator,
		SkipPaths: []string{"/health", "/api/v1/health"},
	}
}

// JWTAuth creates JWT authentication middleware with default configuration
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return JWTAuthWithConfig(DefaultJWTConfig(validator))
}

// JWTAuthWithConfig validates the bearer token and stores the resulting
// SessionContext in the gin context and the request context. The access
// token is kept so outbound ERP calls act on the user's behalf.
func JWTAuthWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			abortUnauthorized(c, dto.ErrCodeUnauthorized, "Missing authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			abortUnauthorized(c, dto.ErrCodeUnauthorized, "Invalid authorization header format")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
		if token == "" {
			abortUnauthorized(c, dto.ErrCodeUnauthorized, "Missing token")
			return
		}

		sc, err := cfg.Validator.SessionContext(token)
		if err != nil {
			log.Debug("Token validation failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
			if errors.Is(err, auth.ErrExpiredToken) {
				abortUnauthorized(c, dto.ErrCodeTokenExpired, "Token has expired")
				return
			}
			abortUnauthorized(c, dto.ErrCodeTokenInvalid, "Invalid token")
			return
		}

		c.Set(SessionContextKey, sc)
		ctx := identity.WithSessionContext(c.Request.Context(), sc)
		ctx, _ = logger.WithUserID(ctx, logger.FromContext(ctx), sc.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="backoffice"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(code, message, GetRequestID(c)))
}

// GetSessionContext returns the SessionContext stored by JWTAuth
func GetSessionContext(c *gin.Context) (identity.SessionContext, bool) {
	v, ok := c.Get(SessionContextKey)
	if !ok {
		return identity.SessionContext{}, false
	}
	sc, ok := v.(identity.SessionContext)
	return sc, ok
}

// GetUserID returns the authenticated user's ID, or "" for anonymous requests
func GetUserID(c *gin.Context) string {
	sc, _ := GetSessionContext(c)
	return sc.UserID
}
