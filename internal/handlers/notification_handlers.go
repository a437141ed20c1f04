package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/middleware"
	"github.com/schoolport/schoolport/internal/models"
	"github.com/schoolport/schoolport/internal/service"
)

type NotificationHandlers struct {
	notifications *service.NotificationService
	users         service.UserStore
	logger        *logrus.Logger
}

func NewNotificationHandlers(notifications *service.NotificationService, users service.UserStore, logger *logrus.Logger) *NotificationHandlers {
	return &NotificationHandlers{
		notifications: notifications,
		users:         users,
		logger:        logger,
	}
}

// List returns one page of the caller's own notifications with total and
// unread counters.
func (h *NotificationHandlers) List(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.notifications.List(r.Context(), user.ID, page, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list notifications")
		respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *NotificationHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	notification, err := h.notifications.MarkRead(r.Context(), user.ID, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "NOT_FOUND", "Notification not found")
			return
		}
		h.logger.WithError(err).Error("Failed to mark notification read")
		respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Notification marked as read",
		"notification": notification,
	})
}

func (h *NotificationHandlers) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	updated, err := h.notifications.MarkAllRead(r.Context(), user.ID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to mark notifications read")
		respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "All notifications marked as read",
		"updated": updated,
	})
}

type DispatchRequest struct {
	RecipientID string                 `json:"recipient_id"`
	Role        string                 `json:"role"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Category    string                 `json:"category"`
	Data        map[string]interface{} `json:"data"`
	Priority    string                 `json:"priority"`
	AlsoEmail   bool                   `json:"also_email"`
}

// Dispatch sends a notice to one user or to everyone holding a role. Staff
// only. Fan-out is per-recipient: some recipients may be notified while
// others fail, and each failure is reported against its recipient.
func (h *NotificationHandlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Title == "" || req.Message == "" {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Title and message required")
		return
	}
	if (req.RecipientID == "") == (req.Role == "") {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Exactly one of recipient_id or role required")
		return
	}

	input := service.NotifyInput{
		Title:     req.Title,
		Message:   req.Message,
		Category:  req.Category,
		Data:      req.Data,
		Priority:  req.Priority,
		AlsoEmail: req.AlsoEmail,
	}

	if req.RecipientID != "" {
		recipient, err := h.users.GetByID(r.Context(), req.RecipientID)
		if err != nil {
			respondWithError(w, http.StatusNotFound, "NOT_FOUND", "Recipient not found")
			return
		}
		notification, err := h.notifications.Notify(r.Context(), recipient, input)
		if err != nil {
			h.logger.WithError(err).Error("Failed to dispatch notification")
			respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Failed to dispatch notification")
			return
		}
		respondWithJSON(w, http.StatusCreated, map[string]interface{}{"notification": notification})
		return
	}

	if !models.ValidRole(req.Role) {
		respondWithError(w, http.StatusBadRequest, "INVALID_ROLE", "Unknown role")
		return
	}
	recipients, err := h.users.ListByRole(r.Context(), req.Role)
	if err != nil {
		h.logger.WithError(err).Error("Failed to resolve recipients")
		respondWithError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Failed to resolve recipients")
		return
	}

	failures := h.notifications.NotifyMany(r.Context(), recipients, input)
	failed := make([]string, 0, len(failures))
	for id := range failures {
		failed = append(failed, id)
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"dispatched": len(recipients) - len(failures),
		"failed":     failed,
	})
}
