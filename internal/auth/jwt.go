package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-farm-market/internal/orders"
	"github.com/golang-jwt/jwt/v4"
)

const issuer = "farm-market"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
	jwt.RegisteredClaims
}

// Verifier signs and checks HS256 access tokens issued by the identity
// provider. The role claim is the only source of a caller's role.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

func NewVerifier(secret string, ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

func (v *Verifier) Issue(actor orders.Actor) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   actor.ID,
		UserType: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   actor.ID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *Verifier) Parse(tokenString string) (orders.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return orders.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return orders.Actor{}, ErrInvalidToken
	}
	actor := orders.Actor{ID: claims.UserID, Role: orders.Role(claims.UserType)}
	if actor.ID == "" || !actor.Role.Valid() {
		return orders.Actor{}, fmt.Errorf("%w: bad subject or role", ErrInvalidToken)
	}
	return actor, nil
}
