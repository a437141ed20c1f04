package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/config"
	"github.com/schoolport/schoolport/internal/models"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenService mints and verifies signed access/refresh token pairs. It is
// stateless: allowlist bookkeeping for refresh tokens belongs to the caller
// (see AuthService).
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	logger        *logrus.Logger
}

func NewTokenService(cfg *config.JWTConfig, logger *logrus.Logger) (*TokenService, error) {
	if len(cfg.AccessSecret) < 32 || len(cfg.RefreshSecret) < 32 {
		return nil, fmt.Errorf("token secrets must be at least 32 bytes")
	}

	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		logger:        logger,
	}, nil
}

type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// IssuePair mints a fresh access/refresh pair for the given identity. The
// access token is signed with the access secret and expires in minutes; the
// refresh token with the refresh secret and expires in days.
func (s *TokenService) IssuePair(userID string) (*models.TokenPair, error) {
	now := time.Now()

	accessToken, err := s.sign(userID, tokenTypeAccess, s.accessSecret, now, s.accessExpiry)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign access token")
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := s.sign(userID, tokenTypeRefresh, s.refreshSecret, now, s.refreshExpiry)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign refresh token")
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, nil
}

// VerifyAccess validates an access token and returns the subject identity id.
func (s *TokenService) VerifyAccess(tokenString string) (string, error) {
	return s.verify(tokenString, tokenTypeAccess, s.accessSecret)
}

// VerifyRefresh validates a refresh token and returns the subject identity id.
func (s *TokenService) VerifyRefresh(tokenString string) (string, error) {
	return s.verify(tokenString, tokenTypeRefresh, s.refreshSecret)
}

// RefreshExpiry is the lifetime applied to refresh tokens; the allowlist TTL
// tracks it.
func (s *TokenService) RefreshExpiry() time.Duration {
	return s.refreshExpiry
}

func (s *TokenService) sign(userID, tokenType string, secret []byte, now time.Time, expiry time.Duration) (string, error) {
	claims := &Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (s *TokenService) verify(tokenString, tokenType string, secret []byte) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Type != tokenType {
		return "", fmt.Errorf("%w: token is not a %s token", ErrInvalidToken, tokenType)
	}

	return claims.Subject, nil
}
