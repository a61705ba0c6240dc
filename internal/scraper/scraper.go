package scraper

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds. A *FetchError always unwraps to one of these.
var (
	// ErrNetwork is a transient failure: connection errors, timeouts, 5xx,
	// or an anti-bot block that persisted through every retry.
	ErrNetwork = errors.New("network failure")

	// ErrNotFound means the page is gone (HTTP 404/410). It is never retried.
	ErrNotFound = errors.New("page not found")

	// ErrParseEmpty means the page was fetched but yielded no usable price.
	ErrParseEmpty = errors.New("no usable fields extracted")
)

// Fetcher retrieves raw page markup. It is the only network I/O boundary
// of the scrape pipeline.
type Fetcher interface {
	// Fetch returns the markup of url or a *FetchError describing why it
	// could not be retrieved.
	Fetch(ctx context.Context, url string) (string, error)
}

// FetchError describes a failed fetch.
type FetchError struct {
	URL      string
	Status   int // last HTTP status seen, 0 if none
	Attempts int
	Kind     error
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %v after %d attempt(s) (status %d): %v", e.URL, e.Kind, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *FetchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// attemptClass is how a single attempt's outcome affects the retry loop.
type attemptClass int

const (
	attemptOK attemptClass = iota
	attemptTransient
	attemptBlocked
	attemptTerminal
	attemptNotFound
)

// classifyStatus maps an HTTP status code to a retry decision.
func classifyStatus(status int) attemptClass {
	switch {
	case status >= 200 && status < 300:
		return attemptOK
	case status == 404 || status == 410:
		return attemptNotFound
	case status == 403 || status == 429:
		return attemptBlocked
	case status == 0 || status >= 500 || status == 408:
		return attemptTransient
	default:
		return attemptTerminal
	}
}
