package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/domain"
	"pricewatch/internal/parser"
	"pricewatch/internal/urlcanon"
)

// PageParser extracts product fields from markup.
type PageParser interface {
	Parse(markup, siteID string) parser.Page
}

// Outcome is the result of scraping one product. Exactly one of Page.Price
// being set or Err being non-nil holds.
type Outcome struct {
	ProductID  uint64
	URL        string
	Page       parser.Page
	ObservedAt time.Time
	Err        error
}

// OK reports whether the scrape produced a usable price.
func (o Outcome) OK() bool { return o.Err == nil }

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// Workers caps concurrent fetches across the batch.
	Workers int
	// Timeout bounds the whole fetch (all retries) of one product.
	Timeout time.Duration
	// Limiter spaces requests per host. Nil disables it.
	Limiter *HostLimiter
}

// Coordinator fans fetch+parse out across products with bounded concurrency.
type Coordinator struct {
	fetcher Fetcher
	parser  PageParser
	opts    CoordinatorOptions
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(fetcher Fetcher, p PageParser, opts CoordinatorOptions, logger logrus.FieldLogger) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Coordinator{
		fetcher: fetcher,
		parser:  p,
		opts:    opts,
		log:     logger.WithField("component", "coordinator"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ScrapeAll scrapes every product and returns one outcome per product, in
// input order. Individual failures are reported in Outcome.Err; ScrapeAll
// itself never fails.
func (c *Coordinator) ScrapeAll(ctx context.Context, products []domain.Product) []Outcome {
	outcomes := make([]Outcome, len(products))

	g := new(errgroup.Group)
	g.SetLimit(c.opts.Workers)
	for i, p := range products {
		g.Go(func() error {
			outcomes[i] = c.ScrapeOne(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.OK() {
			failed++
		}
	}
	c.log.WithFields(logrus.Fields{
		"products": len(products),
		"failed":   failed,
	}).Info("Scrape batch completed")
	return outcomes
}

// ScrapeOne fetches and parses a single product.
func (c *Coordinator) ScrapeOne(ctx context.Context, p domain.Product) Outcome {
	log := c.log.WithFields(logrus.Fields{"product_id": p.ID, "url": p.URL})
	out := Outcome{ProductID: p.ID, URL: p.URL}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	if err := c.opts.Limiter.Wait(ctx, p.URL); err != nil {
		out.Err = &FetchError{URL: p.URL, Kind: ErrNetwork, Err: err}
		log.WithError(out.Err).Warn("Scrape abandoned while waiting for host slot")
		return out
	}

	markup, err := c.fetch(ctx, p.URL)
	if err != nil {
		out.Err = err
		log.WithError(err).Warn("Fetch failed")
		return out
	}
	out.ObservedAt = c.now()

	site := p.Site
	if site == "" {
		site = urlcanon.SiteID(p.URL)
	}
	out.Page = c.parser.Parse(markup, site)
	if out.Page.Price == nil {
		out.Err = fmt.Errorf("parse %s (site %q): %w", p.URL, site, ErrParseEmpty)
		log.WithField("site", site).Warn("No price found on fetched page")
		return out
	}

	log.WithField("price", *out.Page.Price).Debug("Scraped product")
	return out
}

// fetch runs the fetcher but gives up as soon as ctx is done, even if the
// underlying transport does not honour cancellation.
func (c *Coordinator) fetch(ctx context.Context, url string) (string, error) {
	type result struct {
		markup string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		markup, err := c.fetcher.Fetch(ctx, url)
		done <- result{markup, err}
	}()

	select {
	case r := <-done:
		return r.markup, r.err
	case <-ctx.Done():
		return "", &FetchError{URL: url, Kind: ErrNetwork, Err: fmt.Errorf("scrape abandoned: %w", ctx.Err())}
	}
}
