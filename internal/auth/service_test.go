package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store, newTestIssuer(t), WithBcryptCost(bcrypt.MinCost)), store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "  farmer1 ", "hunter2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.ID == "" || u.Username != "farmer1" {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.PasswordHash != "" {
		t.Fatal("register must not return the password hash")
	}
	stored, err := store.FindByUsername(ctx, "farmer1")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if stored.PasswordHash == "hunter2" || VerifyPassword(stored.PasswordHash, "hunter2") != nil {
		t.Fatal("password was not hashed with bcrypt")
	}

	tok, err := svc.Login(ctx, "farmer1", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	p, err := svc.Authenticate(ctx, tok.Value)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.UserID != u.ID || p.Username != "farmer1" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "farmer1", "a"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "farmer1", "b"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	// usernames are case-sensitive
	if _, err := svc.Register(ctx, "Farmer1", "b"); err != nil {
		t.Fatalf("expected distinct username to register, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cases := []struct{ user, pass string }{
		{"", "pw"},
		{"   ", "pw"},
		{"farmer", ""},
		{strings.Repeat("u", maxUsernameLen+1), "pw"},
		{"farmer", strings.Repeat("p", maxPasswordBytes+1)},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.user, tc.pass); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Register(%q, %d bytes): expected ErrInvalidInput, got %v", tc.user, len(tc.pass), err)
		}
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "farmer1", "right"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, errWrongPass := svc.Login(ctx, "farmer1", "wrong")
	_, errNoUser := svc.Login(ctx, "nobody", "right")
	if !errors.Is(errWrongPass, ErrUnauthorized) || !errors.Is(errNoUser, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for both, got %v / %v", errWrongPass, errNoUser)
	}
	if errWrongPass.Error() != errNoUser.Error() {
		t.Fatalf("failure messages differ: %q vs %q", errWrongPass, errNoUser)
	}

	if _, err := svc.Login(ctx, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank credentials, got %v", err)
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Authenticate(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
