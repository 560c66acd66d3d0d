package provider

import (
	"errors"
	"fmt"
)

// ErrReauthRequired means the provider invalidated the grant: the user
// must reconnect the account. Never retried by this subsystem.
var ErrReauthRequired = errors.New("provider: reauthorization required")

// ErrTransientAuth wraps refresh failures that are not grant
// invalidations; the caller may retry the whole sync later.
var ErrTransientAuth = errors.New("provider: transient auth failure")

// errNotFound is internal to the fetch loop: a 404 on the location
// resource is a terminal non-error outcome, not a failed fetch.
var errNotFound = errors.New("provider: resource not found")

// FetchError is a non-retryable or retry-exhausted page fetch failure.
type FetchError struct {
	Status int
	Body   string
	Pages  int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("provider: fetch failed with status %d after %d pages: %s", e.Status, e.Pages, e.Body)
}
