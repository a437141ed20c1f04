package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/schoolport/schoolport/internal/config"
)

var resetCodeRe = regexp.MustCompile(`<strong>(\d+)</strong>`)

func newTestResetService(t *testing.T) (*ResetService, *fakeUserStore, *fakeAllowlist, *fakeResetStore, *fakeMailer) {
	t.Helper()
	users := newFakeUserStore()
	allowlist := newFakeAllowlist()
	store := newFakeResetStore()
	mailer := &fakeMailer{}
	cfg := &config.ResetConfig{
		CodeLength:  6,
		Expiry:      15 * time.Minute,
		MaxAttempts: 3,
	}
	return NewResetService(store, users, allowlist, mailer, cfg, testLogger()), users, allowlist, store, mailer
}

func sentResetCode(t *testing.T, mailer *fakeMailer) string {
	t.Helper()
	m := resetCodeRe.FindStringSubmatch(mailer.last().Body)
	if m == nil {
		t.Fatalf("no reset code in email body: %q", mailer.last().Body)
	}
	return m[1]
}

func TestResetRequestEmailsCode(t *testing.T) {
	svc, users, _, store, mailer := newTestResetService(t)
	seedUser(t, users, "u1", "amina@example.com", "oldpass123", "student")

	if err := svc.Request(context.Background(), "amina@example.com"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if mailer.count() != 1 {
		t.Fatalf("expected 1 email, got %d", mailer.count())
	}

	code := sentResetCode(t, mailer)
	if len(code) != 6 {
		t.Fatalf("code %q has length %d, want 6", code, len(code))
	}

	data, err := store.Get(context.Background(), "amina@example.com")
	if err != nil {
		t.Fatalf("Get stored code: %v", err)
	}
	if data.CodeHash == code {
		t.Fatal("code stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(data.CodeHash), []byte(code)); err != nil {
		t.Fatalf("stored hash does not match emailed code: %v", err)
	}
}

func TestResetRequestHidesUnknownAddresses(t *testing.T) {
	svc, users, _, _, mailer := newTestResetService(t)
	u := seedUser(t, users, "u1", "amina@example.com", "oldpass123", "student")

	if err := svc.Request(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("unknown address must not error: %v", err)
	}
	u.Active = false
	if err := svc.Request(context.Background(), "amina@example.com"); err != nil {
		t.Fatalf("inactive identity must not error: %v", err)
	}
	if mailer.count() != 0 {
		t.Fatalf("sent %d emails, want 0", mailer.count())
	}
}

func TestResetConfirmReplacesPasswordAndRevokesSessions(t *testing.T) {
	svc, users, allowlist, store, mailer := newTestResetService(t)
	seedUser(t, users, "u1", "amina@example.com", "oldpass123", "student")
	allowlist.Add(context.Background(), "u1", "some-refresh-token", time.Hour)

	if err := svc.Request(context.Background(), "amina@example.com"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	code := sentResetCode(t, mailer)

	if err := svc.Confirm(context.Background(), "amina@example.com", code, "newpass456"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	user, err := users.GetByEmail(context.Background(), "amina@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("newpass456")); err != nil {
		t.Fatalf("new password not set: %v", err)
	}
	if allowlist.size("u1") != 0 {
		t.Fatal("open sessions survived the reset")
	}

	// The code is single use.
	if _, err := store.Get(context.Background(), "amina@example.com"); err == nil {
		t.Fatal("used code still stored")
	}
	if err := svc.Confirm(context.Background(), "amina@example.com", code, "again789"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("reusing a burnt code: %v", err)
	}
}

func TestResetConfirmWrongCodeBurnsAttempts(t *testing.T) {
	svc, users, _, store, mailer := newTestResetService(t)
	seedUser(t, users, "u1", "amina@example.com", "oldpass123", "student")

	if err := svc.Request(context.Background(), "amina@example.com"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	code := sentResetCode(t, mailer)
	wrong := string('0'+(code[0]-'0'+1)%10) + code[1:]

	for i := 0; i < 3; i++ {
		if err := svc.Confirm(context.Background(), "amina@example.com", wrong, "newpass456"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("wrong code attempt %d: %v", i+1, err)
		}
	}

	// Attempts exhausted, so even the right code is refused and the
	// record is gone.
	if err := svc.Confirm(context.Background(), "amina@example.com", code, "newpass456"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("exhausted code: %v", err)
	}
	if _, err := store.Get(context.Background(), "amina@example.com"); err == nil {
		t.Fatal("exhausted code still stored")
	}

	user, _ := users.GetByEmail(context.Background(), "amina@example.com")
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("oldpass123")); err != nil {
		t.Fatal("password changed without a valid code")
	}
}

func TestResetConfirmWithoutRequest(t *testing.T) {
	svc, users, _, _, _ := newTestResetService(t)
	seedUser(t, users, "u1", "amina@example.com", "oldpass123", "student")

	if err := svc.Confirm(context.Background(), "amina@example.com", "123456", "newpass456"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("confirm with no pending code: %v", err)
	}
}
