package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
	"pricewatch/internal/pricing"
	"pricewatch/internal/storage"
	"pricewatch/internal/urlcanon"
)

// ErrInvalidURL is returned by Track for URLs that cannot be tracked.
var ErrInvalidURL = errors.New("invalid product url")

// TrackResult is the outcome of starting to track a product.
type TrackResult struct {
	Product domain.Product
	// Created reports whether the product was new to the store.
	Created bool
	// ScrapeErr is set when the immediate first check failed. The product
	// stays tracked and is retried on the next run.
	ScrapeErr error
}

// Track subscribes userID to the product at rawURL, creating the product
// when needed, and runs one immediate check.
func (s *Service) Track(ctx context.Context, userID int64, rawURL string, target *float64) (TrackResult, error) {
	canonical, err := urlcanon.Canonicalize(rawURL)
	if err != nil {
		return TrackResult{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if target != nil && *target <= 0 {
		return TrackResult{}, fmt.Errorf("target price must be positive, got %v", *target)
	}
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "url": canonical})

	product, created, err := s.store.CreateProduct(ctx, canonical, urlcanon.SiteID(canonical))
	if err != nil {
		return TrackResult{}, err
	}

	unlock := s.locks.Lock(product.ID)
	defer unlock()

	// Re-tracking keeps the paused flag, cadence and any target not replaced.
	sub := domain.Subscription{UserID: userID, ProductID: product.ID, Frequency: domain.FrequencyDaily}
	existing, err := s.store.GetSubscription(ctx, userID, product.ID)
	switch {
	case err == nil:
		sub = existing
	case !errors.Is(err, storage.ErrNotFound):
		return TrackResult{}, err
	}
	if target != nil {
		sub.TargetPrice = target
	}
	if err := s.store.Subscribe(ctx, sub); err != nil {
		return TrackResult{}, err
	}
	res := TrackResult{Product: product, Created: created}

	o := s.scraper.ScrapeOne(ctx, product)
	if !o.OK() {
		log.WithError(o.Err).Warn("First check of new product failed")
		res.ScrapeErr = o.Err
		if err := s.alerter.Post(ctx, userID, product.ID, "Added product but price fetch failed. Will retry.", domain.CategoryError); err != nil {
			return res, err
		}
		return res, nil
	}

	price := *o.Page.Price
	_, updated, err := s.store.RecordObservation(ctx, product.ID, domain.Observation{
		Price:      price,
		ObservedAt: o.ObservedAt,
		Name:       o.Page.Name,
		ImageURL:   o.Page.ImageURL,
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateTick), errors.Is(err, storage.ErrStaleTick), errors.Is(err, storage.ErrConflict):
		updated, err = s.store.GetProduct(ctx, product.ID)
		if err != nil {
			return res, err
		}
	case err != nil:
		return res, err
	}
	res.Product = updated

	msg := fmt.Sprintf("Now tracking %q at %s", updated.DisplayName(), s.alerter.FormatPrice(price))
	if err := s.alerter.Post(ctx, userID, product.ID, msg, domain.CategoryInfo); err != nil {
		return res, err
	}
	log.WithFields(logrus.Fields{"product_id": product.ID, "price": price, "created": created}).Info("Now tracking product")
	return res, nil
}

// Untrack removes userID's subscription to productID.
func (s *Service) Untrack(ctx context.Context, userID int64, productID uint64) error {
	return s.store.Unsubscribe(ctx, userID, productID)
}

// Tracked pairs a subscription with its product.
type Tracked struct {
	Subscription domain.Subscription
	Product      domain.Product
}

// ListTracked returns the products userID is subscribed to.
func (s *Service) ListTracked(ctx context.Context, userID int64) ([]Tracked, error) {
	subs, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Tracked, 0, len(subs))
	for _, sub := range subs {
		p, err := s.store.GetProduct(ctx, sub.ProductID)
		if err != nil {
			return nil, err
		}
		out = append(out, Tracked{Subscription: sub, Product: p})
	}
	return out, nil
}

// Insight is a read-only view of one product.
type Insight struct {
	Product    domain.Product     `json:"product"`
	Stats      domain.PriceStats  `json:"stats"`
	Prediction pricing.Prediction `json:"prediction"`
}

// Insight returns the product with its derived stats and current advice.
func (s *Service) Insight(ctx context.Context, productID uint64) (Insight, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return Insight{}, err
	}
	stats, err := s.store.PriceStats(ctx, productID)
	if err != nil {
		return Insight{}, err
	}
	prediction, err := s.predict(ctx, productID)
	if err != nil {
		return Insight{}, err
	}
	return Insight{Product: p, Stats: stats, Prediction: prediction}, nil
}
