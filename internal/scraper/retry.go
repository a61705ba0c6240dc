package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds the attempts made for one URL.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff is the base wait after a transient failure; it doubles on
	// every further attempt.
	Backoff time.Duration
	// BlockedBackoff is the wait after an anti-bot block (403/429),
	// multiplied by the attempt number.
	BlockedBackoff time.Duration
}

// DefaultRetryPolicy mirrors the production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Second, BlockedBackoff: 2 * time.Second}
}

func (p RetryPolicy) wait(class attemptClass, attempt int) time.Duration {
	if class == attemptBlocked {
		return p.BlockedBackoff * time.Duration(attempt)
	}
	return p.Backoff << (attempt - 1)
}

// attemptFunc performs one fetch attempt and reports the HTTP status seen.
type attemptFunc func(ctx context.Context) (body string, status int, err error)

// withRetries runs attempt until it succeeds, hits a terminal status, the
// attempt budget runs out, or ctx is done.
func withRetries(ctx context.Context, log logrus.FieldLogger, policy RetryPolicy, url string, attempt attemptFunc) (string, error) {
	maxAttempts := max(policy.MaxAttempts, 1)
	var lastStatus int
	var lastErr error

	for n := 1; n <= maxAttempts; n++ {
		body, status, err := attempt(ctx)
		lastStatus = status
		class := classifyStatus(status)
		if err == nil && class == attemptOK {
			return body, nil
		}
		if err == nil {
			err = errors.New(http.StatusText(status))
		}
		lastErr = err

		alog := log.WithFields(logrus.Fields{"url": url, "attempt": n, "status": status})
		switch class {
		case attemptNotFound:
			alog.Warn("Product page not found, not retrying")
			return "", &FetchError{URL: url, Status: status, Attempts: n, Kind: ErrNotFound, Err: err}
		case attemptTerminal:
			alog.WithError(err).Warn("Fetch failed with non-retryable status")
			return "", &FetchError{URL: url, Status: status, Attempts: n, Kind: ErrNetwork, Err: err}
		}

		if n == maxAttempts {
			break
		}
		delay := policy.wait(class, n)
		alog.WithError(err).WithField("retry_in", delay.String()).Warn("Fetch attempt failed, retrying")
		if err := sleep(ctx, delay); err != nil {
			return "", &FetchError{URL: url, Status: lastStatus, Attempts: n, Kind: ErrNetwork, Err: err}
		}
	}

	return "", &FetchError{URL: url, Status: lastStatus, Attempts: maxAttempts, Kind: ErrNetwork, Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// defaultUserAgents is the rotation used when none are configured.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// browserHeaders are sent with every request alongside a rotated user agent.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Cache-Control":             "max-age=0",
	"Referer":                   "https://www.google.com/",
}

func pickUserAgent(agents []string) string {
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return agents[rand.IntN(len(agents))]
}
