package session

import (
	"context"
	"net/http"

	"github.com/odyssey-erp/console/internal/rbac"
)

type payloadKey struct{}

// WithPayload stores p on ctx. A nil p marks the request anonymous.
func WithPayload(ctx context.Context, p *Payload) context.Context {
	return context.WithValue(ctx, payloadKey{}, p)
}

// FromContext returns the materialized payload or nil.
func FromContext(ctx context.Context) *Payload {
	p, _ := ctx.Value(payloadKey{}).(*Payload)
	return p
}

// PrincipalFromRequest returns the authenticated user of r, nil when anonymous.
func PrincipalFromRequest(r *http.Request) rbac.Principal {
	return FromContext(r.Context()).Principal()
}
