package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

const (
	tokenIssuer   = "whisper"
	tokenTypeBurn = "burn"
)

// BurnClaims authorizes the creator of a secret to destroy it unread or to
// watch for its read receipt. It names exactly one secret.
type BurnClaims struct {
	TokenType string `json:"token_type"` // 🛡️ SLA: only 'burn' tokens are accepted
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	clock  domain.Clock
}

func NewTokenService(secret string, clock domain.Clock) *TokenService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &TokenService{secret: []byte(secret), clock: clock}
}

// IssueBurnToken mints a token for id that stays valid until the secret expires.
func (s *TokenService) IssueBurnToken(id string, expiresAt time.Time) (string, error) {
	claims := BurnClaims{
		TokenType: tokenTypeBurn,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			ExpiresAt: jwt.NewNumericDate(ceilSecond(expiresAt)),
			IssuedAt:  jwt.NewNumericDate(s.clock.Now()),
			Issuer:    tokenIssuer,
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign burn token: %w", err)
	}
	return signed, nil
}

// VerifyBurnToken validates the signature, expiry, token type and that the
// token was minted for id. It returns the token expiry, which is the secret's
// expiry rounded up to the second. Every failure wraps domain.ErrUnauthorized.
func (s *TokenService) VerifyBurnToken(tokenString, id string) (time.Time, error) {
	token, err := jwt.ParseWithClaims(tokenString, &BurnClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 🛡️ Zero-Trust: Force the signing method check
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid token signature or expired: %v", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*BurnClaims)
	if !ok || !token.Valid {
		return time.Time{}, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthorized)
	}

	// 🛡️ A token for one secret never authorizes another
	if claims.TokenType != tokenTypeBurn {
		return time.Time{}, fmt.Errorf("%w: invalid token type: expected burn", domain.ErrUnauthorized)
	}
	if claims.Subject != id {
		return time.Time{}, fmt.Errorf("%w: token subject mismatch", domain.ErrUnauthorized)
	}
	return claims.ExpiresAt.Time, nil
}

// ceilSecond rounds up to the whole second a JWT NumericDate can carry, so
// the token never lapses while the secret is still readable.
func ceilSecond(t time.Time) time.Time {
	if r := t.Truncate(time.Second); !r.Equal(t) {
		return r.Add(time.Second)
	}
	return t
}
