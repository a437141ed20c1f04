package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/middleware"
	"github.com/schoolport/schoolport/internal/models"
	"github.com/schoolport/schoolport/internal/service"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type AuthHandlers struct {
	authService  *service.AuthService
	resetService *service.ResetService
	logger       *logrus.Logger
}

func NewAuthHandlers(authService *service.AuthService, resetService *service.ResetService, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService:  authService,
		resetService: resetService,
		logger:       logger,
	}
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type UpdateProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func userResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
	}
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !emailRe.MatchString(req.Email) {
		respondWithError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email address")
		return
	}
	if len(req.Password) < 6 {
		respondWithError(w, http.StatusBadRequest, "INVALID_PASSWORD", "Password must be at least 6 characters")
		return
	}
	if !models.ValidRole(req.Role) {
		respondWithError(w, http.StatusBadRequest, "INVALID_ROLE", "Unknown role")
		return
	}

	user, pair, err := h.authService.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		if errors.Is(err, service.ErrAlreadyExists) {
			respondWithError(w, http.StatusBadRequest, "USER_EXISTS", "User already exists")
			return
		}
		h.logger.WithError(err).Error("Registration failed")
		respondWithError(w, http.StatusInternalServerError, "REGISTRATION_FAILED", "Failed to register user")
		return
	}

	respondWithJSON(w, http.StatusCreated, SessionResponse{
		User:         userResponse(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	user, pair, err := h.authService.Login(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
			return
		}
		h.logger.WithError(err).Error("Login failed")
		respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, SessionResponse{
		User:         userResponse(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token required")
		return
	}

	pair, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrUnauthorized):
			respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid refresh token")
		default:
			h.logger.WithError(err).Error("Token refresh failed")
			respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, RefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	var req RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.authService.Logout(r.Context(), user.ID, req.RefreshToken); err != nil {
		h.logger.WithError(err).Error("Logout failed")
		respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]UserResponse{"user": userResponse(user)})
}

func (h *AuthHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}
	if req.Phone != "" {
		user.Phone = req.Phone
	}

	if err := h.authService.UpdateProfile(r.Context(), user); err != nil {
		h.logger.WithError(err).Error("Profile update failed")
		respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]UserResponse{"user": userResponse(user)})
}

func (h *AuthHandlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email required")
		return
	}

	if err := h.resetService.Request(r.Context(), strings.ToLower(strings.TrimSpace(req.Email))); err != nil {
		h.logger.WithError(err).Error("Password reset request failed")
		respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "If the address exists, a reset code has been sent"})
}

func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and code required")
		return
	}
	if len(req.NewPassword) < 6 {
		respondWithError(w, http.StatusBadRequest, "INVALID_PASSWORD", "Password must be at least 6 characters")
		return
	}

	err := h.resetService.Confirm(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)), req.Code, req.NewPassword)
	if err != nil {
		if errors.Is(err, service.ErrUnauthorized) {
			respondWithError(w, http.StatusUnauthorized, "INVALID_CODE", "Invalid or expired reset code")
			return
		}
		h.logger.WithError(err).Error("Password reset failed")
		respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

// Deactivate is the administrative kill switch: it flips the identity
// inactive and revokes all of its sessions at once.
func (h *AuthHandlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if userID == "" {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "User id required")
		return
	}

	if err := h.authService.Deactivate(r.Context(), userID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
			return
		}
		h.logger.WithError(err).Error("Deactivation failed")
		respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "User deactivated"})
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
