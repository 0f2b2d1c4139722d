package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	claimsKey   = "claims"
	tokenKey    = "token"
	verifiedKey = "token_verified"
)

// Bearer enforces bearer tokens. With a signing key the token must be a valid
// HS256 JWT; without one the token is only inspected and forwarded as is.
func Bearer(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		var claims Claims
		if signingKey != "" {
			parsed, err := Parse(tokenStr, signingKey, issuer)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			claims = parsed
			c.Set(verifiedKey, true)
		} else if parsed, err := Inspect(tokenStr); err == nil && parsed.Subject != "" {
			claims = parsed
		} else {
			// opaque token: key the caller by a digest of it
			claims.Subject = "opaque:" + digest(tokenStr)
		}

		c.Set(claimsKey, claims)
		c.Set(tokenKey, tokenStr)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by Bearer.
func ClaimsFrom(c *gin.Context) Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(Claims)
	return claims
}

// TokenFrom returns the raw bearer token stored by Bearer.
func TokenFrom(c *gin.Context) string {
	return c.GetString(tokenKey)
}

// Verified reports whether Bearer checked the token signature.
func Verified(c *gin.Context) bool {
	return c.GetBool(verifiedKey)
}

// SessionKey identifies the caller for per-user state. A verified caller is
// its subject, so a refreshed token keeps the same state. An unverified
// subject is only a claim, so the token digest is part of the key.
func SessionKey(c *gin.Context) string {
	claims := ClaimsFrom(c)
	if Verified(c) {
		return claims.Subject
	}
	return UnverifiedKey(claims.Subject, TokenFrom(c))
}

// UnverifiedKey is the SessionKey of an unverified token.
func UnverifiedKey(subject, token string) string {
	return subject + "#" + digest(token)
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
