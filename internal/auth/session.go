// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// privateKey and publicKey are used for signing and verifying session tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenExpiry is how long a token stays valid; zero issues tokens without exp.
	tokenExpiry time.Duration
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid session token")

// Identity is the caller a session token was issued to. UserID is the chat
// platform's numeric user id.
type Identity struct {
	UserID int64
	Name   string
}

// Init generates a fresh ed25519 key pair and sets the token lifetime.
// Tokens issued before a restart stop verifying after it.
func Init(expiry time.Duration) error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	publicKey, privateKey = pub, priv
	tokenExpiry = expiry
	return nil
}

// CreateJWT signs a token with "sub" = user id and "name" = display name.
func CreateJWT(id Identity) (string, error) {
	if privateKey == nil {
		return "", errors.New("auth not initialised")
	}
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(id.UserID, 10),
		"name": id.Name,
		"iat":  time.Now().Unix(),
	}
	if tokenExpiry != 0 {
		claims["exp"] = time.Now().Add(tokenExpiry).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies tokenString and returns the identity it carries.
func AuthenticateJWT(tokenString string) (Identity, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: malformed sub", ErrInvalidToken)
	}
	name, _ := claims["name"].(string)
	return Identity{UserID: userID, Name: name}, nil
}
