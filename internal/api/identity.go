package api

import (
	"errors"
	"net/http"
)

// ErrNoIdentity is returned when a request carries no resolvable owner.
var ErrNoIdentity = errors.New("request carries no identity")

// Identity is the resolved owner of a request.
type Identity struct {
	UserID string
	Email  string
}

// IdentityResolver extracts the calling owner from a request. Real session
// or token verification lives outside this service; deployments sit behind
// a gateway that authenticates and forwards identity headers.
type IdentityResolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// HeaderIdentityResolver reads the forwarded identity headers.
type HeaderIdentityResolver struct{}

// Resolve implements IdentityResolver from X-User-ID and X-User-Email.
func (HeaderIdentityResolver) Resolve(r *http.Request) (Identity, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return Identity{}, ErrNoIdentity
	}
	return Identity{UserID: id, Email: r.Header.Get("X-User-Email")}, nil
}
