package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/models"
)

// Authenticator resolves an access token into a live identity. The auth
// service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.User, error)
}

// RoomAuthorizer decides whether an identity may join a class/subject room.
type RoomAuthorizer interface {
	CanJoin(u *models.User, roomName string) bool
}

// MembershipChecker answers whether a student is assigned to a class or
// subject. The academic records live outside this subsystem.
type MembershipChecker func(u *models.User, roomName string) bool

// RolePolicy is the default join policy: staff may address any room,
// students only rooms the membership checker vouches for.
type RolePolicy struct {
	Membership MembershipChecker
}

func (p RolePolicy) CanJoin(u *models.User, roomName string) bool {
	if !strings.HasPrefix(roomName, "class:") && !strings.HasPrefix(roomName, "subject:") {
		return false
	}
	if models.IsStaff(u.Role) {
		return true
	}
	if p.Membership != nil {
		return p.Membership(u, roomName)
	}
	return false
}

// Handler upgrades authenticated HTTP requests into hub connections. The
// access token travels in the `token` query parameter; a connection that
// fails verification is refused before it is granted any room membership.
type Handler struct {
	hub       *Hub
	auth      Authenticator
	authorize RoomAuthorizer
	upgrader  websocket.Upgrader
	logger    *logrus.Logger
}

func NewHandler(hub *Hub, auth Authenticator, authorize RoomAuthorizer, logger *logrus.Logger) *Handler {
	return &Handler{
		hub:       hub,
		auth:      auth,
		authorize: authorize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		h.logger.WithError(err).Debug("Websocket handshake rejected")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Websocket upgrade failed")
		return
	}

	client := newClient(h.hub, conn, user, h.logger)
	h.hub.Register(client)
	h.hub.Join(client, UserRoom(user.ID))
	h.hub.Join(client, RoleRoom(user.Role))

	h.logger.WithFields(logrus.Fields{
		"user": user.ID,
		"role": user.Role,
	}).Info("Websocket connected")

	go client.writePump()
	go client.readPump(h.authorize)
}
