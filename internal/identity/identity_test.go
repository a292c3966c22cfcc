package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/identity"
	"gigline/internal/migrate"
	"gigline/internal/repo"
)

func newResolver(t *testing.T) identity.Resolver {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return identity.Resolver{
		Repo: repo.Repo{DB: conn},
		Now:  func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestResolveUnknownFailsClosed(t *testing.T) {
	r := newResolver(t)
	_, err := r.Resolve(context.Background(), "nobody")
	var rns identity.RoleNotSetError
	if !errors.As(err, &rns) {
		t.Fatalf("expected RoleNotSetError, got %v", err)
	}
	if rns.PrincipalID != "nobody" {
		t.Fatalf("wrong principal in error: %+v", rns)
	}
}

func TestResolveEmptyID(t *testing.T) {
	r := newResolver(t)
	for _, id := range []string{"", "   "} {
		_, err := r.Resolve(context.Background(), id)
		if !errors.Is(err, identity.ErrUnauthenticated) {
			t.Fatalf("id %q: expected ErrUnauthenticated, got %v", id, err)
		}
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()
	p, err := r.Register(ctx, "alice", domain.RoleClient, "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Role != domain.RoleClient || p.DisplayName != "Alice" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	got, err := r.Resolve(ctx, "alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "alice" || got.Role != domain.RoleClient {
		t.Fatalf("unexpected resolve: %+v", got)
	}
}

func TestRegisterIsWriteOnce(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()
	if _, err := r.Register(ctx, "bob", domain.RoleFreelancer, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Same role or not, a second registration is rejected.
	for _, role := range []domain.Role{domain.RoleFreelancer, domain.RoleClient} {
		_, err := r.Register(ctx, "bob", role, "")
		var ras identity.RoleAlreadySetError
		if !errors.As(err, &ras) {
			t.Fatalf("role %s: expected RoleAlreadySetError, got %v", role, err)
		}
		if ras.Role != domain.RoleFreelancer {
			t.Fatalf("error should carry the existing role, got %s", ras.Role)
		}
	}
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	r := newResolver(t)
	_, err := r.Register(context.Background(), "carol", domain.Role("admin"), "")
	var ire identity.InvalidRoleError
	if !errors.As(err, &ire) {
		t.Fatalf("expected InvalidRoleError, got %v", err)
	}
}
