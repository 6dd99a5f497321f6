// Package access is the single authority for role routing and scope
// decisions. Nothing else compares role strings.
package access

import (
	"net/url"
	"path"
	"strings"

	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/models"
)

// Dashboard roots
const (
	RootDashboard         = "/dashboard"
	ShelterAdminDashboard = "/shelter-admin"
	ParticipantDashboard  = "/participant-dashboard"
	DonorDashboard        = "/donor-dashboard"
)

var dashboards = map[models.Role]string{
	models.RoleSuperAdmin:    RootDashboard,
	models.RolePlatformAdmin: RootDashboard,
	models.RoleAdmin:         ShelterAdminDashboard,
	models.RoleParticipant:   ParticipantDashboard,
	models.RoleDonor:         DonorDashboard,
}

// IsSuper reports whether role may act across every tenant
func IsSuper(role models.Role) bool {
	return role == models.RoleSuperAdmin || role == models.RolePlatformAdmin
}

// ResolveDashboard returns the canonical dashboard root for the identity
func ResolveDashboard(identity *models.Identity) (string, error) {
	if identity == nil || identity.Role == "" {
		return "", apperrors.New(apperrors.KindUnknownRole, "identity has no role")
	}
	route, ok := dashboards[identity.Role]
	if !ok {
		return "", apperrors.New(apperrors.KindUnknownRole, "unrecognised role %q", identity.Role)
	}
	return route, nil
}

// GuardPath checks a requested path against the identity's dashboard.
// Allowed paths come back unchanged. A path under another role's root
// yields the identity's own root together with a ScopeMismatch error, which
// callers treat as a redirect. Paths that are not already clean and local
// are rejected as InvalidInput.
func GuardPath(identity *models.Identity, requested string) (string, error) {
	own, err := ResolveDashboard(identity)
	if err != nil {
		return "", err
	}
	if err := checkLocalPath(requested); err != nil {
		return "", err
	}
	if IsSuper(identity.Role) {
		return requested, nil
	}

	target, ok := dashboardFor(requested)
	if !ok || target == own {
		return requested, nil
	}
	return own, apperrors.New(apperrors.KindScopeMismatch,
		"role %s may not open %s", identity.Role, target)
}

// checkLocalPath accepts an absolute path that has nothing left to decode
// or clean, apart from a trailing slash
func checkLocalPath(requested string) error {
	decoded, err := url.PathUnescape(requested)
	if err != nil || decoded != requested {
		return apperrors.New(apperrors.KindInvalidInput, "path %q is encoded", requested)
	}
	if !strings.HasPrefix(requested, "/") || strings.Contains(requested, "//") || strings.Contains(requested, "\\") {
		return apperrors.New(apperrors.KindInvalidInput, "path %q is not local", requested)
	}
	trimmed := requested
	if len(trimmed) > 1 {
		trimmed = strings.TrimSuffix(trimmed, "/")
	}
	if path.Clean(requested) != trimmed {
		return apperrors.New(apperrors.KindInvalidInput, "path %q is not canonical", requested)
	}
	return nil
}

// dashboardFor returns the dashboard root that contains path
func dashboardFor(path string) (string, bool) {
	for _, root := range dashboards {
		if path == root || strings.HasPrefix(path, root+"/") {
			return root, true
		}
	}
	return "", false
}
