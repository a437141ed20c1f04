package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/schoolport/schoolport/internal/email"
	"github.com/schoolport/schoolport/internal/models"
	"github.com/schoolport/schoolport/internal/repository"
)

// UserStore is the credential store surface the auth service needs.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	SetActive(ctx context.Context, id string, active bool) error
	SetPassword(ctx context.Context, id, passwordHash string) error
	SetLastLogin(ctx context.Context, id string, at time.Time) error
	ListByRole(ctx context.Context, role string) ([]*models.User, error)
}

// TokenAllowlist tracks each identity's currently-valid refresh tokens.
type TokenAllowlist interface {
	Add(ctx context.Context, userID, token string, ttl time.Duration) error
	Swap(ctx context.Context, userID, oldToken, newToken string, ttl time.Duration) (bool, error)
	Remove(ctx context.Context, userID, token string) error
	Clear(ctx context.Context, userID string) error
}

// AuthService issues sessions and owns the refresh-token allowlist
// bookkeeping the stateless TokenService leaves to its caller.
type AuthService struct {
	users     UserStore
	tokens    *TokenService
	allowlist TokenAllowlist
	mailer    email.Mailer
	logger    *logrus.Logger
}

func NewAuthService(users UserStore, tokens *TokenService, allowlist TokenAllowlist, mailer email.Mailer, logger *logrus.Logger) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		allowlist: allowlist,
		mailer:    mailer,
		logger:    logger,
	}
}

type RegisterInput struct {
	Email     string
	Password  string
	Role      string
	FirstName string
	LastName  string
	Phone     string
}

// Register creates an identity, opens its first session and sends the
// welcome email. A failed email never fails the registration.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, *models.TokenPair, error) {
	if !models.ValidRole(in.Role) {
		return nil, nil, fmt.Errorf("%w: unknown role %q", ErrNotFound, in.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), 12)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Active:       true,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, nil, ErrAlreadyExists
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pair, err := s.openSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	if subject, body, err := email.WelcomeMessage(user); err != nil {
		s.logger.WithError(err).Error("Failed to render welcome email")
	} else if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
		s.logger.WithError(err).WithField("user", user.ID).Error("Welcome email failed")
	}

	return user, pair, nil
}

// Login verifies credentials and opens a new session. An unknown address,
// a wrong password and a deactivated identity all look the same to the
// caller.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (*models.User, *models.TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !user.Active {
		return nil, nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.openSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	if err := s.users.SetLastLogin(ctx, user.ID, now); err != nil {
		s.logger.WithError(err).WithField("user", user.ID).Warn("Failed to stamp last login")
	}
	user.LastLogin = &now

	return user, pair, nil
}

// Refresh rotates a refresh token: the presented token is verified, then
// atomically swapped for a fresh one in the allowlist. A presented token
// that is no longer in the allowlist was already rotated or revoked; that
// is a replay and the rotation fails closed.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	userID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !user.Active {
		return nil, ErrUnauthorized
	}

	pair, err := s.tokens.IssuePair(userID)
	if err != nil {
		return nil, err
	}

	swapped, err := s.allowlist.Swap(ctx, userID, refreshToken, pair.RefreshToken, s.tokens.RefreshExpiry())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !swapped {
		// Reuse of a rotated token is a security signal worth keeping.
		s.logger.WithField("user", userID).Warn("Refresh token replay detected")
		return nil, ErrUnauthorized
	}

	return pair, nil
}

// Logout revokes the presented refresh token. Other sessions of the same
// identity stay valid.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	owner, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil || owner != userID {
		// Nothing to revoke for this identity.
		return nil
	}
	if err := s.allowlist.Remove(ctx, userID, refreshToken); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Deactivate flips the identity inactive and clears its whole allowlist,
// ending every session immediately.
func (s *AuthService) Deactivate(ctx context.Context, userID string) error {
	if err := s.users.SetActive(ctx, userID, false); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.allowlist.Clear(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Authenticate resolves an access token into a live identity. It is the
// single check behind both the HTTP middleware and the realtime handshake.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	userID, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !user.Active {
		return nil, ErrUnauthorized
	}

	return user, nil
}

// UpdateProfile rewrites the caller's mutable profile fields.
func (s *AuthService) UpdateProfile(ctx context.Context, user *models.User) error {
	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *AuthService) openSession(ctx context.Context, userID string) (*models.TokenPair, error) {
	pair, err := s.tokens.IssuePair(userID)
	if err != nil {
		return nil, err
	}
	if err := s.allowlist.Add(ctx, userID, pair.RefreshToken, s.tokens.RefreshExpiry()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return pair, nil
}
