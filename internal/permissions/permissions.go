// Package permissions derives what a signed-in user may post from the role
// stored for them.
package permissions

import (
	"context"
	"fmt"

	"news/internal/tags"
)

// RoleAdmin is the only role that grants anything beyond the defaults.
const RoleAdmin = "admin"

// PrivilegedCategory is the core category reserved for admins.
const PrivilegedCategory = "rka"

// RoleLookup fetches the stored role for a user. found is false when the
// user has no role record.
type RoleLookup interface {
	Role(ctx context.Context, userID string) (role string, found bool, err error)
}

// Permissions is computed per request and never cached across requests.
type Permissions struct {
	IsAdmin           bool     `json:"isAdmin"`
	CanSubmitRka      bool     `json:"canSubmitRka"`
	AllowedCategories []string `json:"allowedCategories"`
}

// Allows reports whether category is in the allowed set.
func (p Permissions) Allows(category string) bool {
	for _, c := range p.AllowedCategories {
		if c == category {
			return true
		}
	}
	return false
}

type Resolver struct {
	roles    RoleLookup
	taxonomy *tags.Taxonomy
}

func NewResolver(roles RoleLookup, taxonomy *tags.Taxonomy) *Resolver {
	return &Resolver{roles: roles, taxonomy: taxonomy}
}

// Permissions performs exactly one role lookup. A missing role record is a
// regular non-admin user.
func (r *Resolver) Permissions(ctx context.Context, userID string) (Permissions, error) {
	role, found, err := r.roles.Role(ctx, userID)
	if err != nil {
		return Permissions{}, fmt.Errorf("lookup role: %w", err)
	}
	admin := found && role == RoleAdmin
	return Permissions{
		IsAdmin:           admin,
		CanSubmitRka:      admin,
		AllowedCategories: r.allowed(admin),
	}, nil
}

func (r *Resolver) allowed(canSubmitRka bool) []string {
	core := r.taxonomy.CoreSlugs()
	out := make([]string, 0, len(core))
	for _, slug := range core {
		if slug == PrivilegedCategory && !canSubmitRka {
			continue
		}
		out = append(out, slug)
	}
	return out
}
