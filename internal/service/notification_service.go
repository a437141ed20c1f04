package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/email"
	"github.com/schoolport/schoolport/internal/models"
	"github.com/schoolport/schoolport/internal/realtime"
	"github.com/schoolport/schoolport/internal/repository"
)

// NotificationStore persists notification records and their read state.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, page, limit int) ([]*models.Notification, error)
	Counts(ctx context.Context, recipientID string) (total, unread int64, err error)
	MarkRead(ctx context.Context, recipientID, notificationID string, at time.Time) (*models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error)
}

// Publisher is the realtime push surface the dispatcher needs.
type Publisher interface {
	EmitToRoom(roomName, event string, data interface{}) error
}

// NotificationService fans one logical notification out into three channels
// with independent failure domains: the persisted record (fail closed), the
// realtime push and the email (both degraded-but-non-fatal).
type NotificationService struct {
	store        NotificationStore
	pub          Publisher
	mailer       email.Mailer
	emailTimeout time.Duration
	logger       *logrus.Logger
	wg           sync.WaitGroup
}

func NewNotificationService(store NotificationStore, pub Publisher, mailer email.Mailer, emailTimeout time.Duration, logger *logrus.Logger) *NotificationService {
	return &NotificationService{
		store:        store,
		pub:          pub,
		mailer:       mailer,
		emailTimeout: emailTimeout,
		logger:       logger,
	}
}

type NotifyInput struct {
	Title     string
	Message   string
	Category  string
	Data      map[string]interface{}
	Priority  string
	AlsoEmail bool
}

// Notify persists a record for the recipient, pushes it to the recipient's
// personal room and, when asked, queues an email. Only the persistence step
// can fail the call: a notification that cannot be durably recorded is not
// delivered at all, while push and email failures are logged and swallowed.
func (s *NotificationService) Notify(ctx context.Context, recipient *models.User, in NotifyInput) (*models.Notification, error) {
	priority := in.Priority
	if !models.ValidPriority(priority) {
		priority = models.PriorityMedium
	}

	n := &models.Notification{
		ID:          uuid.New().String(),
		RecipientID: recipient.ID,
		Title:       in.Title,
		Message:     in.Message,
		Category:    in.Category,
		Data:        in.Data,
		Priority:    priority,
		CreatedAt:   time.Now(),
	}

	if err := s.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := s.pub.EmitToRoom(realtime.UserRoom(recipient.ID), "notification", n.AsEvent()); err != nil {
		s.logger.WithError(err).WithField("recipient", recipient.ID).Error("Realtime push failed")
	}

	if in.AlsoEmail {
		s.queueEmail(recipient, n)
	}

	return n, nil
}

// NotifyMany dispatches to each recipient independently and concurrently.
// There is no batch transaction: a failure is attributed to the one
// recipient that failed, while the rest go through.
func (s *NotificationService) NotifyMany(ctx context.Context, recipients []*models.User, in NotifyInput) map[string]error {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs = make(map[string]error)
	)

	for _, recipient := range recipients {
		recipient := recipient
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Notify(ctx, recipient, in); err != nil {
				mu.Lock()
				errs[recipient.ID] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return errs
}

// MarkRead marks one of the requester's notifications read. The recipient
// check is baked into the store query, so another identity's record simply
// comes back not found. Re-marking an already-read record succeeds.
func (s *NotificationService) MarkRead(ctx context.Context, requesterID, notificationID string) (*models.Notification, error) {
	n, err := s.store.MarkRead(ctx, requesterID, notificationID, time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotificationNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// MarkAllRead marks every unread notification of the requester read.
func (s *NotificationService) MarkAllRead(ctx context.Context, requesterID string) (int, error) {
	updated, err := s.store.MarkAllRead(ctx, requesterID, time.Now())
	if err != nil {
		return updated, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return updated, nil
}

// NotificationPage is one page of a recipient's notifications plus counters.
type NotificationPage struct {
	Notifications []*models.Notification `json:"notifications"`
	Page          int                    `json:"page"`
	Pages         int                    `json:"pages"`
	Total         int64                  `json:"total"`
	UnreadCount   int64                  `json:"unread_count"`
}

// List returns one page of the requester's own notifications, newest-first.
func (s *NotificationService) List(ctx context.Context, requesterID string, page, limit int) (*NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	notifications, err := s.store.ListByRecipient(ctx, requesterID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	total, unread, err := s.store.Counts(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pages := int((total + int64(limit) - 1) / int64(limit))

	return &NotificationPage{
		Notifications: notifications,
		Page:          page,
		Pages:         pages,
		Total:         total,
		UnreadCount:   unread,
	}, nil
}

// Wait blocks until queued email sends have finished. Called on shutdown.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

// queueEmail hands the rendered message to the gateway on a separate
// goroutine. Email is the most failure-tolerant channel: a failed or
// timed-out send is logged and forgotten, never retried inline.
func (s *NotificationService) queueEmail(recipient *models.User, n *models.Notification) {
	subject, body, err := email.NotificationMessage(n)
	if err != nil {
		s.logger.WithError(err).WithField("notification", n.ID).Error("Failed to render notification email")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.emailTimeout)
		defer cancel()
		if err := s.mailer.Send(ctx, recipient.Email, subject, body); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"recipient":    recipient.ID,
				"notification": n.ID,
			}).Error("Notification email failed")
		}
	}()
}
