package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/schoolport/schoolport/internal/config"
	"github.com/schoolport/schoolport/internal/email"
	"github.com/schoolport/schoolport/internal/models"
	"github.com/schoolport/schoolport/internal/repository"
)

// ResetStore keeps password-reset codes until they expire or are used.
type ResetStore interface {
	Store(ctx context.Context, email string, data models.ResetCodeData) error
	Get(ctx context.Context, email string) (*models.ResetCodeData, error)
	Delete(ctx context.Context, email string) error
}

// ResetService runs the emailed-code password reset flow. Codes are short,
// bcrypt-hashed at rest, expiring and attempt-bounded; a successful reset
// revokes every open session of the identity.
type ResetService struct {
	store     ResetStore
	users     UserStore
	allowlist TokenAllowlist
	mailer    email.Mailer
	cfg       *config.ResetConfig
	logger    *logrus.Logger
}

func NewResetService(store ResetStore, users UserStore, allowlist TokenAllowlist, mailer email.Mailer, cfg *config.ResetConfig, logger *logrus.Logger) *ResetService {
	return &ResetService{
		store:     store,
		users:     users,
		allowlist: allowlist,
		mailer:    mailer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Request generates and emails a reset code. It reports success for unknown
// addresses too, so the endpoint does not leak which emails exist.
func (s *ResetService) Request(ctx context.Context, emailAddr string) error {
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.WithField("email", emailAddr).Debug("Reset requested for unknown address")
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !user.Active {
		return nil
	}

	code, err := s.generateCode(s.cfg.CodeLength)
	if err != nil {
		return fmt.Errorf("failed to generate reset code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash reset code: %w", err)
	}

	expiresAt := time.Now().Add(s.cfg.Expiry)
	data := models.ResetCodeData{
		CodeHash:  string(hash),
		Email:     user.Email,
		Attempts:  0,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	if err := s.store.Store(ctx, user.Email, data); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	subject, body, err := email.ResetCodeMessage(user, code, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to render reset email: %w", err)
	}
	if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
		s.logger.WithError(err).WithField("user", user.ID).Error("Reset code email failed")
	}

	return nil
}

// Confirm verifies the code and replaces the password. Wrong codes burn an
// attempt; too many attempts burn the code. On success every session of the
// identity is revoked.
func (s *ResetService) Confirm(ctx context.Context, emailAddr, code, newPassword string) error {
	data, err := s.store.Get(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrResetCodeNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if data.Attempts >= s.cfg.MaxAttempts {
		if err := s.store.Delete(ctx, emailAddr); err != nil {
			s.logger.WithError(err).Warn("Failed to delete exhausted reset code")
		}
		return ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword([]byte(data.CodeHash), []byte(code)); err != nil {
		data.Attempts++
		if err := s.store.Store(ctx, emailAddr, *data); err != nil {
			s.logger.WithError(err).Warn("Failed to record reset attempt")
		}
		return ErrUnauthorized
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), 12)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.SetPassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := s.store.Delete(ctx, emailAddr); err != nil {
		s.logger.WithError(err).Warn("Failed to delete used reset code")
	}
	if err := s.allowlist.Clear(ctx, user.ID); err != nil {
		s.logger.WithError(err).WithField("user", user.ID).Warn("Failed to revoke sessions after reset")
	}

	return nil
}

func (s *ResetService) generateCode(length int) (string, error) {
	code := ""
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code += num.String()
	}
	return code, nil
}
