package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

// AccessTokenClaim is the payload of an issued API access token.
type AccessTokenClaim struct {
	ClientId string `json:"client_id"`
	TenantId string `json:"tenant_id"`
	Scope    string `json:"scope"`
	jwt.StandardClaims
}

func JwtGenerate(secret []byte, clientId, tenantId, scope string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt signing key is empty")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &AccessTokenClaim{
		ClientId: clientId,
		TenantId: tenantId,
		Scope:    scope,
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.NewString(),
			Subject:   clientId,
			ExpiresAt: issuedAt.Add(ttl).Unix(),
			IssuedAt:  issuedAt.Unix(),
		},
	})
	return t.SignedString(secret)
}

func JwtValidate(secret []byte, token string) (*AccessTokenClaim, error) {
	parsed, err := jwt.ParseWithClaims(token, &AccessTokenClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claim, ok := parsed.Claims.(*AccessTokenClaim)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claim, nil
}

// GenerateToken returns n random bytes from crypto/rand, hex-encoded.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashToken is the form in which tokens are persisted; raw values never are.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
