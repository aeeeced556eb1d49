package middleware

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"travelapi/internal/policy"
	"travelapi/pkg/response"
)

// actorContextKey is where the authenticated actor lives in the gin context.
const actorContextKey = "actor"

func GetJWTSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			panic("FATAL: JWT_SECRET environment variable is required in production mode")
		}
		secret = "default_super_secret_key" // Development fallback only — DO NOT use in production
	}
	return []byte(secret)
}

// SetTokenCookie sets the access token as an HttpOnly cookie
func SetTokenCookie(c *gin.Context, accessToken string) {
	// Production (cross-origin): SameSiteNoneMode + Secure=true
	// Development (same-site):   SameSiteLaxMode  + Secure=false
	sameSite := http.SameSiteLaxMode
	secure := false
	if os.Getenv("GIN_MODE") == "release" {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	c.SetSameSite(sameSite)
	c.SetCookie("access_token", accessToken, 3600*24, "/", "", secure, true)
}

// ClearTokenCookie removes the access token cookie
func ClearTokenCookie(c *gin.Context) {
	sameSite := http.SameSiteLaxMode
	secure := false
	if os.Getenv("GIN_MODE") == "release" {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	c.SetSameSite(sameSite)
	c.SetCookie("access_token", "", -1, "/", "", secure, true)
}

// RequireAuth validates the JWT token and stores the resolved Actor (subject
// id + role) in the gin context. With allowedRoles given, the role must match
// one of them; with none, any valid role passes. Authorization beyond the role
// gate is the policy package's job — handlers pass the Actor down explicitly.
func RequireAuth(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Try cookie first, fallback to Authorization header
		tokenString, cookieErr := c.Cookie("access_token")
		if cookieErr != nil || tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "UNAUTHENTICATED", "Authorization is missing"))
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid authorization format. Expected 'Bearer <token>'"))
				return
			}
			tokenString = parts[1]
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return GetJWTSecret(), nil
		})

		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid token claims"))
			return
		}

		sub, _ := claims["sub"].(string)
		role, _ := claims["role"].(string)

		actorID, err := uuid.Parse(sub)
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid token subject"))
			return
		}

		if len(allowedRoles) > 0 {
			roleAllowed := false
			for _, allowed := range allowedRoles {
				if role == allowed {
					roleAllowed = true
					break
				}
			}
			if !roleAllowed {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "FORBIDDEN", "Access denied: insufficient permissions"))
				return
			}
		}

		c.Set(actorContextKey, policy.Actor{ID: actorID, Role: role})
		c.Next()
	}
}

// CurrentActor retrieves the authenticated actor placed by RequireAuth.
func CurrentActor(c *gin.Context) (policy.Actor, error) {
	value, exists := c.Get(actorContextKey)
	if !exists {
		return policy.Actor{}, fmt.Errorf("actor not present in context")
	}

	actor, ok := value.(policy.Actor)
	if !ok {
		return policy.Actor{}, fmt.Errorf("invalid actor type in context")
	}

	return actor, nil
}
