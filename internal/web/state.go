// ABOUTME: Signed OAuth state parameters carrying the settings token
// ABOUTME: Uses HS256 JWTs so the callback can recover the token it belongs to

package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// State errors
var (
	ErrInvalidState = errors.New("invalid state")
	ErrExpiredState = errors.New("state expired")
)

// stateTTL bounds how long an OAuth round trip may take. The state is minted
// when the user clicks the sign-in button, so this only needs to cover the
// Microsoft login flow itself.
const stateTTL = 10 * time.Minute

// StateSigner signs and verifies the OAuth state parameter. The state is an
// HS256 JWT whose subject is the settings token, which lets the callback
// handler route the OAuth result back to the right settings session without
// putting the raw token in the authorize URL.
type StateSigner struct {
	secret []byte
}

// NewStateSigner creates a signer with the given secret.
func NewStateSigner(secret []byte) *StateSigner {
	return &StateSigner{secret: secret}
}

// Sign wraps the settings token in a signed, expiring state parameter.
func (s *StateSigner) Sign(token string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": token,
		"iat": now.Unix(),
		"exp": now.Add(stateTTL).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// Verify validates the state and extracts the settings token it carries.
func (s *StateSigner) Verify(state string) (string, error) {
	t, err := jwt.Parse(state, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredState
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	if !t.Valid {
		return "", ErrInvalidState
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidState
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrInvalidState)
	}

	return sub, nil
}
