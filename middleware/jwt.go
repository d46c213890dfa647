package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in a token.
const (
	RoleDM     = "dm"
	RolePlayer = "player"
)

// Claims is the JWT payload: who is acting, in which party, as what.
type Claims struct {
	CharacterID int64  `json:"character_id"`
	PartyID     int64  `json:"party_id"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// IsDM reports whether the token grants the DM role.
func (c *Claims) IsDM() bool { return c.Role == RoleDM }

// GenerateToken signs claims with secret, valid for ttl.
func GenerateToken(c Claims, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &c)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a JWT string and returns its claims.
func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.PartyID <= 0 {
		return nil, errors.New("token has no party")
	}
	if claims.Role != RoleDM && claims.Role != RolePlayer {
		return nil, errors.New("token has no valid role")
	}
	return claims, nil
}
