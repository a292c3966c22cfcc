// Package identity resolves authenticated account ids to principals with a
// role. Roles are chosen explicitly at registration and are write-once; the
// resolver never substitutes a default.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gigline/internal/domain"
	"gigline/internal/repo"
)

// ErrUnauthenticated indicates a missing or empty principal id.
var ErrUnauthenticated = errors.New("authentication required")

// RoleNotSetError indicates an authenticated account without a role
// assignment. The account must call Register before using the service.
type RoleNotSetError struct {
	PrincipalID string
}

func (e RoleNotSetError) Error() string {
	return fmt.Sprintf("no role set for account %s; explicit role selection required", e.PrincipalID)
}

// RoleAlreadySetError indicates a second attempt to set a role.
type RoleAlreadySetError struct {
	PrincipalID string
	Role        domain.Role
}

func (e RoleAlreadySetError) Error() string {
	return fmt.Sprintf("account %s already registered as %s", e.PrincipalID, e.Role)
}

// InvalidRoleError rejects values outside the closed role set.
type InvalidRoleError struct {
	Role domain.Role
}

func (e InvalidRoleError) Error() string {
	return fmt.Sprintf("invalid role %q; must be client or freelancer", e.Role)
}

// Resolver is stateless; every Resolve reads the role mapping fresh so a
// stale cached role can never gate an authorization decision.
type Resolver struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Resolve returns the principal for an authenticated account id.
func (r Resolver) Resolve(ctx context.Context, principalID string) (domain.Principal, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return domain.Principal{}, ErrUnauthenticated
	}
	p, err := r.Repo.GetPrincipal(ctx, principalID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Principal{}, RoleNotSetError{PrincipalID: principalID}
	}
	if err != nil {
		return domain.Principal{}, err
	}
	if !domain.ValidRole(p.Role) {
		return domain.Principal{}, RoleNotSetError{PrincipalID: principalID}
	}
	return p, nil
}

// Register assigns the role for a new account. The role is write-once: a
// second registration fails regardless of whether the role matches.
func (r Resolver) Register(ctx context.Context, principalID string, role domain.Role, displayName string) (domain.Principal, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return domain.Principal{}, ErrUnauthenticated
	}
	if !domain.ValidRole(role) {
		return domain.Principal{}, InvalidRoleError{Role: role}
	}
	if existing, err := r.Repo.GetPrincipal(ctx, principalID); err == nil {
		return domain.Principal{}, RoleAlreadySetError{PrincipalID: principalID, Role: existing.Role}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Principal{}, err
	}
	p := domain.Principal{
		ID:          principalID,
		Role:        role,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   r.now().UTC().Format(time.RFC3339),
	}
	if err := r.Repo.InsertPrincipal(ctx, p); err != nil {
		if errors.Is(err, repo.ErrPrincipalExists) {
			// Raced with a concurrent registration.
			existing, getErr := r.Repo.GetPrincipal(ctx, principalID)
			if getErr == nil {
				return domain.Principal{}, RoleAlreadySetError{PrincipalID: principalID, Role: existing.Role}
			}
		}
		return domain.Principal{}, err
	}
	return p, nil
}
