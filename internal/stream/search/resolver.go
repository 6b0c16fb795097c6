package search

import (
	"context"
	"net/http"

	"github.com/lmco/activitysearch/internal/stream/directory"
	"github.com/lmco/activitysearch/internal/stream/query"
	"github.com/lmco/activitysearch/internal/stream/scope"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
)

var _ scope.Visitor = (*resolver)(nil)

// resolver translates one direct scope into an index filter term.
type resolver struct {
	ctx       context.Context
	directory directory.Directory
	user      string
	term      query.Term
}

func (r *resolver) All() error {
	return notFilterable("all")
}

func (r *resolver) Person(accountID string) error {
	id, err := r.directory.PersonID(r.ctx, accountID)
	if err != nil {
		return err
	}
	r.term = query.PersonRecipient(id)
	return nil
}

func (r *resolver) Group(shortName string) error {
	id, err := r.directory.GroupID(r.ctx, shortName)
	if err != nil {
		return err
	}
	r.term = query.GroupRecipient(id)
	return nil
}

func (r *resolver) Organization(shortName string) error {
	id, err := r.directory.OrganizationID(r.ctx, shortName)
	if err != nil {
		return err
	}
	r.term = query.ParentOrg(id)
	return nil
}

func (r *resolver) ParentOrganization() error {
	id, err := r.directory.ParentOrganizationID(r.ctx, r.user)
	if err != nil {
		return err
	}
	r.term = query.ParentOrg(id)
	return nil
}

func (r *resolver) FollowedStreams() error {
	return notFilterable("following")
}

func (r *resolver) Starred() error {
	return notFilterable("starred")
}

// notFilterable means a scope reached query translation that has no index
// filter form. Classification keeps these out, so hitting it is a wiring bug.
func notFilterable(name string) error {
	return apperrors.Newf(apperrors.ErrUnsupportedScope, http.StatusInternalServerError,
		"scope %s cannot be expressed as an index filter", name)
}
