package session

import (
	"context"

	"github.com/fjod/qr_order/internal/domain"
)

// Identity is who is checking out: an authenticated user or a guest.
type Identity struct {
	Authenticated bool
	User          *domain.User
}

func Guest() Identity {
	return Identity{}
}

func Authenticated(user domain.User) Identity {
	u := user
	return Identity{Authenticated: true, User: &u}
}

func (i Identity) IsGuest() bool {
	return !i.Authenticated || i.User == nil
}

// ContactDefaults returns the phone and email used to prefill checkout.
func (i Identity) ContactDefaults() (phone, email string) {
	if i.IsGuest() {
		return "", ""
	}
	return i.User.Phone, i.User.Email
}

// Provider supplies the identity for the operation running under ctx.
type Provider interface {
	Identity(ctx context.Context) Identity
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx, or a guest.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return Guest()
}

// ContextProvider reads the identity attached by Middleware.
type ContextProvider struct{}

func (ContextProvider) Identity(ctx context.Context) Identity {
	return FromContext(ctx)
}

// Static always returns the same identity.
type Static Identity

func (s Static) Identity(context.Context) Identity {
	return Identity(s)
}
