package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/config"
	"github.com/schoolport/schoolport/internal/models"
	"github.com/schoolport/schoolport/internal/repository"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testJWTConfig() *config.JWTConfig {
	return &config.JWTConfig{
		AccessSecret:  strings.Repeat("a", 32),
		RefreshSecret: strings.Repeat("b", 32),
		AccessExpiry:  time.Minute,
		RefreshExpiry: time.Hour,
	}
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
	fail  bool
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*models.User)}
}

func (s *fakeUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateUser
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *fakeUserStore) GetByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store down")
	}
	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store down")
	}
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *fakeUserStore) Update(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	s.users[user.ID] = user
	return nil
}

func (s *fakeUserStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.Active = active
	return nil
}

func (s *fakeUserStore) SetPassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *fakeUserStore) SetLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.LastLogin = &at
	return nil
}

func (s *fakeUserStore) ListByRole(_ context.Context, role string) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.User
	for _, u := range s.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeAllowlist struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
	fail bool
}

func newFakeAllowlist() *fakeAllowlist {
	return &fakeAllowlist{sets: make(map[string]map[string]struct{})}
}

func (a *fakeAllowlist) Add(_ context.Context, userID, token string, _ time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("redis down")
	}
	if a.sets[userID] == nil {
		a.sets[userID] = make(map[string]struct{})
	}
	a.sets[userID][token] = struct{}{}
	return nil
}

func (a *fakeAllowlist) Swap(_ context.Context, userID, oldToken, newToken string, _ time.Duration) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return false, errors.New("redis down")
	}
	set := a.sets[userID]
	if set == nil {
		return false, nil
	}
	if _, ok := set[oldToken]; !ok {
		return false, nil
	}
	delete(set, oldToken)
	set[newToken] = struct{}{}
	return true, nil
}

func (a *fakeAllowlist) Remove(_ context.Context, userID, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if set := a.sets[userID]; set != nil {
		delete(set, token)
	}
	return nil
}

func (a *fakeAllowlist) Clear(_ context.Context, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sets, userID)
	return nil
}

func (a *fakeAllowlist) contains(userID, token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sets[userID][token]
	return ok
}

func (a *fakeAllowlist) size(userID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sets[userID])
}

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentEmail
	fail bool
}

func (m *fakeMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, sentEmail{To: to, Subject: subject, Body: htmlBody})
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *fakeMailer) last() sentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type fakeNotificationStore struct {
	mu         sync.Mutex
	records    map[string][]*models.Notification
	failCreate bool
	failFor    string
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{records: make(map[string][]*models.Notification)}
}

func (s *fakeNotificationStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate || (s.failFor != "" && s.failFor == n.RecipientID) {
		return errors.New("store down")
	}
	clone := *n
	s.records[n.RecipientID] = append(s.records[n.RecipientID], &clone)
	return nil
}

func (s *fakeNotificationStore) ListByRecipient(_ context.Context, recipientID string, page, limit int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.records[recipientID]
	// newest first
	out := make([]*models.Notification, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	start := (page - 1) * limit
	if start >= len(out) {
		return nil, nil
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (s *fakeNotificationStore) Counts(_ context.Context, recipientID string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var unread int64
	for _, n := range s.records[recipientID] {
		if !n.IsRead {
			unread++
		}
	}
	return int64(len(s.records[recipientID])), unread, nil
}

func (s *fakeNotificationStore) MarkRead(_ context.Context, recipientID, notificationID string, at time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.records[recipientID] {
		if n.ID == notificationID {
			n.IsRead = true
			n.ReadAt = &at
			clone := *n
			return &clone, nil
		}
	}
	return nil, repository.ErrNotificationNotFound
}

func (s *fakeNotificationStore) MarkAllRead(_ context.Context, recipientID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int
	for _, n := range s.records[recipientID] {
		if !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
			updated++
		}
	}
	return updated, nil
}

func (s *fakeNotificationStore) get(recipientID, notificationID string) *models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.records[recipientID] {
		if n.ID == notificationID {
			clone := *n
			return &clone
		}
	}
	return nil
}

type emitted struct {
	Room  string
	Event string
	Data  interface{}
}

type fakePublisher struct {
	mu    sync.Mutex
	emits []emitted
	fail  bool
}

func (p *fakePublisher) EmitToRoom(roomName, event string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("emit failed")
	}
	p.emits = append(p.emits, emitted{Room: roomName, Event: event, Data: data})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.emits)
}

type fakeResetStore struct {
	mu    sync.Mutex
	codes map[string]models.ResetCodeData
}

func newFakeResetStore() *fakeResetStore {
	return &fakeResetStore{codes: make(map[string]models.ResetCodeData)}
}

func (s *fakeResetStore) Store(_ context.Context, email string, data models.ResetCodeData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[email] = data
	return nil
}

func (s *fakeResetStore) Get(_ context.Context, email string) (*models.ResetCodeData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.codes[email]
	if !ok || time.Now().After(data.ExpiresAt) {
		return nil, repository.ErrResetCodeNotFound
	}
	clone := data
	return &clone, nil
}

func (s *fakeResetStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, email)
	return nil
}
