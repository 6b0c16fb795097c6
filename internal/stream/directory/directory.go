// Package directory resolves the names used in scopes (account ids, group
// and organization short names) to the numeric ids the index stores, and
// answers the membership questions security filtering needs.
package directory

import (
	"context"
	"net/http"

	apperrors "github.com/lmco/activitysearch/pkg/errors"
)

// Directory is the identity service. Lookups of unknown names fail with an
// error wrapping errors.ErrNotFound.
type Directory interface {
	PersonID(ctx context.Context, accountID string) (int64, error)
	GroupID(ctx context.Context, shortName string) (int64, error)
	OrganizationID(ctx context.Context, shortName string) (int64, error)
	// ParentOrganizationID is the organization the user belongs to.
	ParentOrganizationID(ctx context.Context, user string) (int64, error)
	// PrivateGroupIDs lists the private groups the user is a member of, in
	// ascending id order. Users with no memberships get an empty slice.
	PrivateGroupIDs(ctx context.Context, user string) ([]int64, error)
}

func notFound(kind, name string) error {
	return apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "unknown %s %q", kind, name)
}
