// Package tracker runs the price check chain: scrape every product, record
// the observation, classify the change, compute advice and alert
// subscribers.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/domain"
	"pricewatch/internal/notifier"
	"pricewatch/internal/pricing"
	"pricewatch/internal/scraper"
	"pricewatch/internal/storage"
)

// Scraper fetches and parses product pages.
type Scraper interface {
	ScrapeAll(ctx context.Context, products []domain.Product) []scraper.Outcome
	ScrapeOne(ctx context.Context, p domain.Product) scraper.Outcome
}

// Alerter dispatches notifications.
type Alerter interface {
	Notify(ctx context.Context, ev notifier.Event, subs []domain.Subscriber) (int, error)
	NotifyFailure(ctx context.Context, product domain.Product, cause error, subs []domain.Subscriber) (int, error)
	Post(ctx context.Context, userID int64, productID uint64, message string, category domain.Category) error
	FormatPrice(v float64) string
}

// Options configures a Service.
type Options struct {
	// HistoryWindow is the trailing window fed to the predictor.
	HistoryWindow time.Duration
	// Workers caps concurrent per-product processing after scraping.
	Workers int
}

// Summary describes one run of the chain.
type Summary struct {
	Products int
	Recorded int
	Skipped  int
	Failed   int
	Alerts   int
	Duration time.Duration
}

// Service owns the check chain.
type Service struct {
	store   storage.Repository
	scraper Scraper
	alerter Alerter
	opts    Options
	locks   *productLocks
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewService(store storage.Repository, s Scraper, a Alerter, opts Options, logger logrus.FieldLogger) *Service {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = pricing.DefaultWindow
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Service{
		store:   store,
		scraper: s,
		alerter: a,
		opts:    opts,
		locks:   newProductLocks(),
		log:     logger.WithField("component", "tracker"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run checks every tracked product once. Scrape failures are reported to
// subscribers and counted; they are not errors. The returned error joins
// persistence and notification failures of individual products, none of
// which stop the others. If ctx ends mid-run, unchecked products are
// skipped without a failure notice and the returned error wraps ctx.Err().
func (s *Service) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list products: %w", err)
	}
	sum := Summary{Products: len(products)}
	if len(products) == 0 {
		s.log.Info("No products to check")
		return sum, nil
	}
	s.log.WithField("products", len(products)).Info("Starting price check")

	outcomes := s.scraper.ScrapeAll(ctx, products)

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Workers)
	for i, p := range products {
		o := outcomes[i]
		g.Go(func() error {
			res, err := s.process(ctx, p, o)
			mu.Lock()
			defer mu.Unlock()
			switch res.kind {
			case resultRecorded:
				sum.Recorded++
			case resultSkipped:
				sum.Skipped++
			case resultFailed:
				sum.Failed++
			}
			sum.Alerts += res.alerts
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, fmt.Errorf("price check interrupted: %w", err))
	}

	sum.Duration = time.Since(start)
	s.log.WithFields(logrus.Fields{
		"products": sum.Products,
		"recorded": sum.Recorded,
		"skipped":  sum.Skipped,
		"failed":   sum.Failed,
		"alerts":   sum.Alerts,
		"duration": sum.Duration.String(),
	}).Info("Price check completed")
	return sum, errors.Join(errs...)
}

type resultKind int

const (
	resultRecorded resultKind = iota + 1
	resultSkipped
	resultFailed
)

type processResult struct {
	kind   resultKind
	alerts int
}

func (s *Service) process(ctx context.Context, p domain.Product, o scraper.Outcome) (processResult, error) {
	unlock := s.locks.Lock(p.ID)
	defer unlock()
	log := s.log.WithFields(logrus.Fields{"product_id": p.ID, "url": p.URL})

	if !o.OK() {
		if ctx.Err() != nil {
			log.WithError(o.Err).Info("Run interrupted before product was checked, skipping")
			return processResult{kind: resultSkipped}, nil
		}
		res := processResult{kind: resultFailed}
		subs, err := s.store.ListSubscribers(ctx, p.ID)
		if err != nil {
			return res, fmt.Errorf("product %d: list subscribers: %w", p.ID, err)
		}
		if _, err := s.alerter.NotifyFailure(ctx, p, o.Err, subs); err != nil {
			return res, fmt.Errorf("product %d: %w", p.ID, err)
		}
		return res, nil
	}

	price := *o.Page.Price
	previous, updated, err := s.store.RecordObservation(ctx, p.ID, domain.Observation{
		Price:      price,
		ObservedAt: o.ObservedAt,
		Name:       o.Page.Name,
		ImageURL:   o.Page.ImageURL,
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateTick), errors.Is(err, storage.ErrStaleTick), errors.Is(err, storage.ErrConflict):
		log.WithError(err).Info("Observation already recorded by another run, skipping")
		return processResult{kind: resultSkipped}, nil
	case err != nil:
		return processResult{kind: resultFailed}, fmt.Errorf("product %d: %w", p.ID, err)
	}

	change := pricing.Detect(previous, price)
	log = log.WithFields(logrus.Fields{"price": price, "trend": change.Trend, "delta_pct": change.DeltaPct})
	switch change.Trend {
	case pricing.TrendDown:
		log.WithField("severity", change.Severity).Info("Price dropped")
	case pricing.TrendUp:
		log.Info("Price rose")
	default:
		log.Debug("No price change")
	}

	res := processResult{kind: resultRecorded}
	ev := notifier.Event{Product: updated, Change: change}
	if prediction, err := s.predict(ctx, p.ID); err != nil {
		log.WithError(err).Warn("Prediction unavailable")
	} else {
		ev.Prediction = &prediction
	}

	subs, err := s.store.ListSubscribers(ctx, p.ID)
	if err != nil {
		return res, fmt.Errorf("product %d: list subscribers: %w", p.ID, err)
	}
	n, err := s.alerter.Notify(ctx, ev, subs)
	res.alerts = n
	if err != nil {
		return res, fmt.Errorf("product %d: %w", p.ID, err)
	}
	return res, nil
}

func (s *Service) predict(ctx context.Context, productID uint64) (pricing.Prediction, error) {
	now := s.now()
	ticks, err := s.store.ListHistory(ctx, productID, now.Add(-s.opts.HistoryWindow))
	if err != nil {
		return pricing.Prediction{}, err
	}
	return pricing.Predict(pricing.InWindow(ticks, now, s.opts.HistoryWindow)), nil
}
