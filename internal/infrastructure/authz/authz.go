package authz

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Capability names a privileged operation the core guards.
type Capability string

const (
	CapabilityRaiseDispute Capability = "dispute.raise"
	CapabilityFinalize     Capability = "match.finalize"
)

var ErrForbidden = errors.New("caller lacks required capability")

// Authorizer is the capability-check port consulted synchronously before
// privileged operations. Identity management itself is an external
// collaborator; this core only verifies presented credentials.
type Authorizer interface {
	Allow(ctx context.Context, credential string, capability Capability) error
}

// AllowAll grants every capability. Used when no operator token is configured.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string, Capability) error { return nil }

// TokenAuthorizer grants privileged capabilities to callers presenting the
// configured operator token. The token is held only as a bcrypt hash.
type TokenAuthorizer struct {
	hash []byte
}

func NewTokenAuthorizer(token string) (*TokenAuthorizer, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &TokenAuthorizer{hash: hash}, nil
}

func (a *TokenAuthorizer) Allow(_ context.Context, credential string, _ Capability) error {
	if credential == "" {
		return ErrForbidden
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(credential)); err != nil {
		return ErrForbidden
	}
	return nil
}
