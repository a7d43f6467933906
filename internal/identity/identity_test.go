package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/models"
)

func TestIssueAndAuthenticate(t *testing.T) {
	j := NewJWT("secret", time.Hour)
	tok, err := j.Issue("u1", models.RoleDriver)
	if err != nil {
		t.Fatal(err)
	}
	for _, cred := range []string{tok, "Bearer " + tok, "bearer " + tok} {
		p, err := j.Authenticate(cred)
		if err != nil {
			t.Fatalf("authenticate %q: %v", cred[:10], err)
		}
		if p.ID != "u1" || p.Role != models.RoleDriver {
			t.Fatalf("unexpected principal %+v", p)
		}
	}
}

func TestAuthenticateRejects(t *testing.T) {
	j := NewJWT("secret", time.Hour)
	other := NewJWT("other-secret", time.Hour)
	forged, _ := other.Issue("u1", models.RoleAdmin)

	expiredIssuer := NewJWT("secret", time.Minute)
	expiredIssuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _ := expiredIssuer.Issue("u1", models.RoleRider)

	for name, cred := range map[string]string{
		"empty":   "",
		"garbage": "Bearer not.a.token",
		"forged":  forged,
		"expired": expired,
	} {
		if _, err := j.Authenticate(cred); !errors.Is(err, apperrors.ErrUnauthenticated) {
			t.Fatalf("%s: expected unauthenticated, got %v", name, err)
		}
	}
}

func TestPasswordHash(t *testing.T) {
	h, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(h, "s3cret") {
		t.Fatalf("expected match")
	}
	if CheckPassword(h, "wrong") || CheckPassword("", "s3cret") {
		t.Fatalf("expected mismatch")
	}
}
