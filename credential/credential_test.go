package credential

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	issuer := NewIssuer("test-secret", 0).WithClock(func() time.Time { return now })

	raw, expires, err := issuer.Issue("guest@example.com", true)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expires.Equal(now.Add(DefaultTTL)) {
		t.Fatalf("expected expiry %s got %s", now.Add(DefaultTTL), expires)
	}

	claims, err := issuer.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "guest@example.com" || !claims.External || claims.Role != RoleViewer {
		t.Fatalf("unexpected claims %+v", claims)
	}

	raw, _, _ = issuer.Issue("user-1", false)
	claims, err = issuer.Verify(raw)
	if err != nil || claims.Role != RoleRecipient {
		t.Fatalf("expected recipient role, got %+v (%v)", claims, err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	issuer := NewIssuer("test-secret", time.Minute).WithClock(func() time.Time { return now })
	raw, _, _ := issuer.Issue("user-1", false)

	other := NewIssuer("other-secret", time.Minute).WithClock(func() time.Time { return now })
	if _, err := other.Verify(raw); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid for wrong secret, got %v", err)
	}

	later := NewIssuer("test-secret", time.Minute).WithClock(func() time.Time { return now.Add(2 * time.Minute) })
	if _, err := later.Verify(raw); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid after expiry, got %v", err)
	}

	if _, err := issuer.Verify("not.a.jwt"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid for garbage, got %v", err)
	}
	if _, _, err := issuer.Issue("", false); err == nil {
		t.Fatal("expected error for empty identity")
	}
}
