package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/schoolport/schoolport/internal/models"
	"github.com/schoolport/schoolport/internal/realtime"
)

func newTestNotificationService() (*NotificationService, *fakeNotificationStore, *fakePublisher, *fakeMailer) {
	store := newFakeNotificationStore()
	pub := &fakePublisher{}
	mailer := &fakeMailer{}
	svc := NewNotificationService(store, pub, mailer, time.Second, testLogger())
	return svc, store, pub, mailer
}

func testRecipient(id string) *models.User {
	return &models.User{
		ID:        id,
		Email:     id + "@example.com",
		Role:      models.RoleStudent,
		FirstName: "Test",
		LastName:  "Recipient",
		Active:    true,
	}
}

func TestNotifyPersistsAndPushes(t *testing.T) {
	svc, store, pub, mailer := newTestNotificationService()
	recipient := testRecipient("u1")

	n, err := svc.Notify(context.Background(), recipient, NotifyInput{
		Title:    "Homework posted",
		Message:  "Math worksheet due Friday",
		Category: "academic",
		Priority: models.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.IsRead {
		t.Fatal("new notification must start unread")
	}
	if store.get("u1", n.ID) == nil {
		t.Fatal("record not persisted")
	}
	if pub.count() != 1 {
		t.Fatalf("expected 1 push, got %d", pub.count())
	}
	if got := pub.emits[0].Room; got != realtime.UserRoom("u1") {
		t.Fatalf("pushed to room %q", got)
	}
	if mailer.count() != 0 {
		t.Fatal("email sent without AlsoEmail")
	}
}

func TestNotifyDefaultsPriority(t *testing.T) {
	svc, _, _, _ := newTestNotificationService()

	n, err := svc.Notify(context.Background(), testRecipient("u1"), NotifyInput{
		Title:    "Reminder",
		Message:  "Fees due",
		Priority: "shouting",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.Priority != models.PriorityMedium {
		t.Fatalf("priority = %q, want %q", n.Priority, models.PriorityMedium)
	}
}

func TestNotifyFailsClosedOnStoreFailure(t *testing.T) {
	svc, store, pub, mailer := newTestNotificationService()
	store.failCreate = true

	_, err := svc.Notify(context.Background(), testRecipient("u1"), NotifyInput{
		Title:     "Lost",
		Message:   "never delivered",
		AlsoEmail: true,
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if pub.count() != 0 {
		t.Fatal("pushed a notification that was never persisted")
	}
	svc.Wait()
	if mailer.count() != 0 {
		t.Fatal("emailed a notification that was never persisted")
	}
}

func TestNotifySurvivesPushFailure(t *testing.T) {
	svc, store, pub, _ := newTestNotificationService()
	pub.fail = true

	n, err := svc.Notify(context.Background(), testRecipient("u1"), NotifyInput{
		Title:   "Notice",
		Message: "still recorded",
	})
	if err != nil {
		t.Fatalf("Notify should tolerate a failed push: %v", err)
	}
	if store.get("u1", n.ID) == nil {
		t.Fatal("record missing after push failure")
	}
}

func TestNotifySurvivesEmailFailure(t *testing.T) {
	svc, store, _, mailer := newTestNotificationService()
	mailer.fail = true

	n, err := svc.Notify(context.Background(), testRecipient("u1"), NotifyInput{
		Title:     "Notice",
		Message:   "email is best effort",
		AlsoEmail: true,
	})
	if err != nil {
		t.Fatalf("Notify should tolerate a failed email: %v", err)
	}
	svc.Wait()

	got := store.get("u1", n.ID)
	if got == nil {
		t.Fatal("record missing after email failure")
	}
	if got.IsRead {
		t.Fatal("record flipped read by email failure")
	}
}

func TestNotifySendsEmailWhenAsked(t *testing.T) {
	svc, _, _, mailer := newTestNotificationService()

	if _, err := svc.Notify(context.Background(), testRecipient("u1"), NotifyInput{
		Title:     "Fee reminder",
		Message:   "Term fees outstanding",
		AlsoEmail: true,
	}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	svc.Wait()

	if mailer.count() != 1 {
		t.Fatalf("expected 1 email, got %d", mailer.count())
	}
	if mailer.last().To != "u1@example.com" {
		t.Fatalf("email sent to %q", mailer.last().To)
	}
}

func TestNotifyManyAttributesFailures(t *testing.T) {
	svc, store, _, _ := newTestNotificationService()
	recipients := []*models.User{testRecipient("u1"), testRecipient("u2"), testRecipient("u3")}
	store.failFor = "u2"

	errs := svc.NotifyMany(context.Background(), recipients, NotifyInput{
		Title:   "Assembly",
		Message: "Hall at 9am",
	})

	if len(errs) != 1 {
		t.Fatalf("expected 1 failure, got %d: %v", len(errs), errs)
	}
	if _, ok := errs["u2"]; !ok {
		t.Fatalf("failure attributed to wrong recipient: %v", errs)
	}
	for _, id := range []string{"u1", "u3"} {
		records, err := store.ListByRecipient(context.Background(), id, 1, 10)
		if err != nil {
			t.Fatalf("ListByRecipient(%s): %v", id, err)
		}
		if len(records) != 1 {
			t.Fatalf("recipient %s has %d records, want 1", id, len(records))
		}
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	svc, _, _, _ := newTestNotificationService()
	n, err := svc.Notify(context.Background(), testRecipient("u1"), NotifyInput{
		Title:   "Once",
		Message: "read me twice",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	first, err := svc.MarkRead(context.Background(), "u1", n.ID)
	if err != nil {
		t.Fatalf("first MarkRead: %v", err)
	}
	if !first.IsRead || first.ReadAt == nil {
		t.Fatal("record not marked read")
	}

	second, err := svc.MarkRead(context.Background(), "u1", n.ID)
	if err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	if !second.IsRead {
		t.Fatal("second mark lost the read state")
	}
}

func TestMarkReadScopedToRecipient(t *testing.T) {
	svc, store, _, _ := newTestNotificationService()
	n, err := svc.Notify(context.Background(), testRecipient("u1"), NotifyInput{
		Title:   "Private",
		Message: "for u1 only",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if _, err := svc.MarkRead(context.Background(), "u2", n.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-recipient MarkRead: %v", err)
	}
	if store.get("u1", n.ID).IsRead {
		t.Fatal("cross-recipient MarkRead mutated the record")
	}
}

func TestMarkAllReadCountsUpdates(t *testing.T) {
	svc, _, _, _ := newTestNotificationService()
	recipient := testRecipient("u1")
	for i := 0; i < 3; i++ {
		if _, err := svc.Notify(context.Background(), recipient, NotifyInput{
			Title:   "Bulk",
			Message: "unread",
		}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	n, err := svc.Notify(context.Background(), recipient, NotifyInput{Title: "Pre-read", Message: "x"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if _, err := svc.MarkRead(context.Background(), "u1", n.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	updated, err := svc.MarkAllRead(context.Background(), "u1")
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if updated != 3 {
		t.Fatalf("updated = %d, want 3", updated)
	}

	page, err := svc.List(context.Background(), "u1", 1, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.UnreadCount != 0 {
		t.Fatalf("unread count = %d after MarkAllRead", page.UnreadCount)
	}
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, _, _, _ := newTestNotificationService()
	recipient := testRecipient("u1")
	for i := 0; i < 5; i++ {
		if _, err := svc.Notify(context.Background(), recipient, NotifyInput{
			Title:   "Seq",
			Message: "entry",
		}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	page, err := svc.List(context.Background(), "u1", 1, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 5 || page.Pages != 3 || page.UnreadCount != 5 {
		t.Fatalf("page counters = total %d pages %d unread %d", page.Total, page.Pages, page.UnreadCount)
	}
	if len(page.Notifications) != 2 {
		t.Fatalf("page size = %d, want 2", len(page.Notifications))
	}
	if page.Notifications[0].CreatedAt.Before(page.Notifications[1].CreatedAt) {
		t.Fatal("page not newest-first")
	}

	// Out-of-range inputs clamp rather than error.
	clamped, err := svc.List(context.Background(), "u1", 0, -3)
	if err != nil {
		t.Fatalf("List with bad inputs: %v", err)
	}
	if clamped.Page != 1 || len(clamped.Notifications) != 5 {
		t.Fatalf("clamped page = %d with %d records", clamped.Page, len(clamped.Notifications))
	}
}
