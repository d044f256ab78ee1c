package auth

import (
	"context"

	"github.com/neighborwatch/incident-server/internal/models"
)

type contextKey int

const (
	profileKey contextKey = iota
	clientKey
)

// Client describes where a request came from, for audit rows
type Client struct {
	IP        string
	UserAgent string
}

// WithProfile stores the authenticated profile on ctx
func WithProfile(ctx context.Context, p models.Profile) context.Context {
	return context.WithValue(ctx, profileKey, p)
}

// ProfileFrom returns the authenticated profile, if any
func ProfileFrom(ctx context.Context) (models.Profile, bool) {
	p, ok := ctx.Value(profileKey).(models.Profile)
	return p, ok
}

// WithClient stores request origin details on ctx
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// ClientFrom returns the request origin, or a zero Client
func ClientFrom(ctx context.Context) Client {
	c, _ := ctx.Value(clientKey).(Client)
	return c
}
