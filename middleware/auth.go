package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const ClaimsKey = "claims"

// Auth validates the Bearer JWT and stores its claims in the context.
// GET requests may pass the token as ?token= instead, since browsers cannot
// set headers on an EventSource.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := ""
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		} else if c.Request.Method == http.MethodGet {
			tokenStr = c.Query("token")
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := ParseToken(tokenStr, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireDM rejects callers without the DM role.
func RequireDM() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || !claims.IsDM() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "dm only"})
			return
		}
		c.Next()
	}
}

// RequireParty rejects callers whose token is for a different party than
// the :id path parameter.
func RequireParty() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid party id"})
			return
		}
		claims := GetClaims(c)
		if claims == nil || claims.PartyID != id {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a member of this party"})
			return
		}
		c.Next()
	}
}

// GetClaims returns the authenticated caller, or nil.
func GetClaims(c *gin.Context) *Claims {
	if v, ok := c.Get(ClaimsKey); ok {
		if claims, ok := v.(*Claims); ok {
			return claims
		}
	}
	return nil
}
