package scraper

import (
	"context"
	"time"

	"github.com/gocolly/colly"
	"github.com/sirupsen/logrus"
)

// HTTPFetcher fetches pages over plain HTTP with colly. Each attempt runs on
// a clone of a base collector so concurrent fetches never share callbacks.
type HTTPFetcher struct {
	base       *colly.Collector
	policy     RetryPolicy
	userAgents []string
	log        logrus.FieldLogger
}

// HTTPFetcherOptions configures an HTTPFetcher.
type HTTPFetcherOptions struct {
	RequestTimeout time.Duration
	Retry          RetryPolicy
	UserAgents     []string
}

// NewHTTPFetcher creates a fetcher that rotates user agents per attempt.
func NewHTTPFetcher(opts HTTPFetcherOptions, logger logrus.FieldLogger) *HTTPFetcher {
	base := colly.NewCollector(colly.AllowURLRevisit())
	if opts.RequestTimeout > 0 {
		base.SetRequestTimeout(opts.RequestTimeout)
	}
	return &HTTPFetcher{
		base:       base,
		policy:     opts.Retry,
		userAgents: opts.UserAgents,
		log:        logger.WithField("component", "http_fetcher"),
	}
}

// Fetch retrieves url, retrying transient failures and anti-bot blocks.
// A 404 returns immediately with ErrNotFound.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	return withRetries(ctx, f.log, f.policy, url, func(ctx context.Context) (string, int, error) {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		return f.attempt(url)
	})
}

func (f *HTTPFetcher) attempt(url string) (body string, status int, err error) {
	c := f.base.Clone()
	c.UserAgent = pickUserAgent(f.userAgents)

	c.OnRequest(func(r *colly.Request) {
		for k, v := range browserHeaders {
			r.Headers.Set(k, v)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = string(r.Body)
	})
	var cbErr error
	c.OnError(func(r *colly.Response, e error) {
		if r != nil {
			status = r.StatusCode
		}
		cbErr = e
	})

	if visitErr := c.Visit(url); visitErr != nil {
		if cbErr == nil {
			cbErr = visitErr
		}
		return "", status, cbErr
	}
	return body, status, cbErr
}
