package client

import (
	"context"
	"net/http"

	"github.com/ajitpratap0/catalog-sdk-go/pkg/auth"
	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/transport"
)

// authorizedExecutor adds the session's credentials to every call. A token
// is generated first when needed, and a 401 drops it so the next call
// generates a fresh one.
type authorizedExecutor struct {
	next transport.Executor
	auth *auth.Manager
}

func (a *authorizedExecutor) Execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if err := a.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}

	r := req.Clone()
	for key, values := range a.auth.Headers(req.Stream) {
		r.Header[key] = values
	}

	resp, err := a.next.Execute(ctx, r)
	if err != nil && apierrors.HasStatus(err, http.StatusUnauthorized) {
		a.auth.Invalidate()
	}
	return resp, err
}
