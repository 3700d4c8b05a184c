package auth

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/klixlabs/klix-backend/internal/store/memstore"
)

func newTestAuth(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return NewService(st, log.New(io.Discard)), st
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	svc, st := newTestAuth(t)
	ctx := context.Background()

	userID, err := svc.Register(ctx, "Riko", "Riko@Example.com", "correct-horse")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	profile, err := st.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("expected profile created, got %v", err)
	}
	if profile.Name != "Riko" || profile.GlobalMemory != "" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	token, loginUserID, err := svc.Login(ctx, "riko@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loginUserID != userID {
		t.Fatalf("login resolved wrong user: %q vs %q", loginUserID, userID)
	}

	resolved, err := svc.Authenticate(ctx, token)
	if err != nil || resolved != userID {
		t.Fatalf("authenticate: got (%q, %v)", resolved, err)
	}

	svc.Logout(ctx, token)
	if _, err := svc.Authenticate(ctx, token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected revoked token rejected, got %v", err)
	}
}

func TestRegisterValidatesFields(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	cases := []struct {
		name, email, password string
	}{
		{"", "riko@example.com", "correct-horse"},
		{"Riko", "", "correct-horse"},
		{"Riko", "riko@example.com", ""},
		{"Riko", "not-an-email", "correct-horse"},
		{"Riko", "riko@example.com", "short"},
	}
	for _, tc := range cases {
		_, err := svc.Register(ctx, tc.name, tc.email, tc.password)
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("(%q,%q,%q): expected validation error, got %v", tc.name, tc.email, tc.password, err)
		}
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Riko", "riko@example.com", "correct-horse"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "Other", "RIKO@EXAMPLE.COM", "another-pass"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Riko", "riko@example.com", "correct-horse"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := svc.Login(ctx, "riko@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	svc, _ := newTestAuth(t)
	if _, err := svc.Authenticate(context.Background(), ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
