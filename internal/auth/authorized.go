package auth

import (
	"context"
	"fmt"

	"github.com/vietddude/invoker/internal/core/request"
)

// HeaderFunc turns a login result into request headers.
type HeaderFunc[R any] func(result R) []request.Header

// AuthorizedRequester decorates a Requester so every call carries the
// headers of a login result obtained through the coordinator.
type AuthorizedRequester[C, R any] struct {
	next    request.Requester
	coord   *Coordinator[C, R]
	creds   C
	headers HeaderFunc[R]
}

// NewAuthorizedRequester wraps next.
func NewAuthorizedRequester[C, R any](next request.Requester, coord *Coordinator[C, R], creds C, headers HeaderFunc[R]) *AuthorizedRequester[C, R] {
	return &AuthorizedRequester[C, R]{
		next:    next,
		coord:   coord,
		creds:   creds,
		headers: headers,
	}
}

// Do logs in, then forwards the call with the login headers appended.
func (a *AuthorizedRequester[C, R]) Do(ctx context.Context, call request.Call) (any, error) {
	result, err := a.coord.Login(ctx, a.creds)
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", call.Service, err)
	}

	headers := make([]request.Header, 0, len(call.Headers)+2)
	headers = append(headers, call.Headers...)
	headers = append(headers, a.headers(result)...)
	call.Headers = headers

	return a.next.Do(ctx, call)
}
