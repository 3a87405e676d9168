package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-oauth2/oauth2/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTAccessGenerate issues HS256 signed access tokens and opaque random
// refresh tokens.
type JWTAccessGenerate struct {
	key []byte
}

func NewJWTAccessGenerate(key []byte) *JWTAccessGenerate {
	return &JWTAccessGenerate{key: key}
}

var _ oauth2.AccessGenerate = (*JWTAccessGenerate)(nil)

func (g *JWTAccessGenerate) Token(ctx context.Context, data *oauth2.GenerateBasic, isGenRefresh bool) (string, string, error) {
	if len(g.key) == 0 {
		return "", "", errors.New("jwt signing key is empty")
	}
	claims := jwt.RegisteredClaims{
		ID:       uuid.NewString(),
		Subject:  data.UserID,
		Audience: jwt.ClaimStrings{data.Client.GetID()},
		IssuedAt: jwt.NewNumericDate(data.CreateAt),
	}
	if ti := data.TokenInfo; ti != nil && ti.GetAccessExpiresIn() > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(ti.GetAccessCreateAt().Add(ti.GetAccessExpiresIn()))
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.key)
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}
	if !isGenRefresh {
		return access, "", nil
	}
	refresh, err := randomToken()
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Subject verifies an access token signature and returns its subject.
func (g *JWTAccessGenerate) Subject(access string) (string, error) {
	tok, err := jwt.ParseWithClaims(access, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return g.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	return claims.Subject, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
