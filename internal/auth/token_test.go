package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, opts ...IssuerOption) *Issuer {
	t.Helper()
	iss, err := NewIssuer("test-secret", opts...)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, WithClock(func() time.Time { return now }))

	tok, err := iss.Issue(Principal{UserID: "u-1", Username: "farmer"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := now.Add(2 * time.Hour); !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, tok.ExpiresAt)
	}

	p, err := iss.Verify(tok.Value)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.UserID != "u-1" || p.Username != "farmer" {
		t.Fatalf("unexpected principal %+v", p)
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(tok.Value, &claims); err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	if claims.ID == "" || claims.Issuer != DefaultIssuer || claims.Subject != "u-1" {
		t.Fatalf("unexpected registered claims %+v", claims.RegisteredClaims)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, WithClock(func() time.Time { return now }))
	tok, err := iss.Issue(Principal{UserID: "u-1", Username: "farmer"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	now = now.Add(2*time.Hour + time.Second)
	if _, err := iss.Verify(tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	iss := newTestIssuer(t)
	other, err := NewIssuer("other-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	foreignIssuer := newTestIssuer(t, WithIssuer("someone-else"))

	good, err := iss.Issue(Principal{UserID: "u-1", Username: "farmer"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	wrongSecret, _ := other.Issue(Principal{UserID: "u-1", Username: "farmer"})
	wrongIssuer, _ := foreignIssuer.Issue(Principal{UserID: "u-1", Username: "farmer"})

	now := time.Now().UTC()
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   DefaultIssuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"tampered":     splice(good.Value, wrongSecret.Value),
		"wrong secret": wrongSecret.Value,
		"wrong issuer": wrongIssuer.Value,
		"hs512":        hs512,
		"no user":      noUser,
		"no expiry":    noExpiry,
	}
	for name, raw := range cases {
		if _, err := iss.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer("   "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

// splice returns a's header and signature around b's payload.
func splice(a, b string) string {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	return strings.Join([]string{pa[0], pb[1], pa[2]}, ".")
}
