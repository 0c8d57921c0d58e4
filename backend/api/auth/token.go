package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenExpiry = 90 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid or expired token")

// TokenProvider issues and validates HS256 signed bearer tokens.
type TokenProvider struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewTokenProvider(secret []byte, issuer string) *TokenProvider {
	return &TokenProvider{
		secret: secret,
		issuer: issuer,
		now:    time.Now,
	}
}

func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.now = now
	return p
}

func (p *TokenProvider) GenerateToken(subject string, expiry time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}

	now := p.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (p *TokenProvider) ValidateToken(token string) (*Identity, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		options = append(options, jwt.WithIssuer(p.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, p.keyFunc, options...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	identity := &Identity{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

func (p *TokenProvider) keyFunc(*jwt.Token) (interface{}, error) {
	return p.secret, nil
}
