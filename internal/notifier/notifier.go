// Package notifier decides which subscribers hear about a price change and
// fans the alert out to the in-app notification store and email.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
	"pricewatch/internal/pricing"
)

// Store is the slice of the repository the notifier writes to.
type Store interface {
	CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error)
}

// Thresholds are the deployment-wide alert defaults.
type Thresholds struct {
	// MinDropPct is the smallest drop that alerts a subscriber without a
	// personal override.
	MinDropPct float64
	// RiseAlertPct is the smallest rise that alerts. Zero disables rise alerts.
	RiseAlertPct float64
}

// DefaultThresholds returns the default alert thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{MinDropPct: 1.0, RiseAlertPct: 5.0}
}

// Decision is the outcome of evaluating one subscriber against a change.
type Decision struct {
	Alert     bool
	Category  domain.Category
	Severity  domain.Severity
	TargetHit bool
}

// Decide applies the alert rules to one subscriber in order: paused
// subscriptions are silent, a reached target price always alerts, then a
// drop of at least the subscriber's minimum, then a significant rise.
func Decide(sub domain.Subscriber, change pricing.Change, th Thresholds) Decision {
	if sub.Paused {
		return Decision{}
	}
	if sub.TargetPrice != nil && change.Current <= *sub.TargetPrice {
		return Decision{Alert: true, Category: domain.CategoryDrop, Severity: change.Severity, TargetHit: true}
	}

	minDrop := th.MinDropPct
	if sub.User.MinDropPct != nil {
		minDrop = *sub.User.MinDropPct
	}
	switch {
	case change.Trend == pricing.TrendDown && change.DeltaPct >= minDrop:
		return Decision{Alert: true, Category: domain.CategoryDrop, Severity: change.Severity}
	case change.Trend == pricing.TrendUp && th.RiseAlertPct > 0 && change.DeltaPct >= th.RiseAlertPct:
		return Decision{Alert: true, Category: domain.CategoryRise, Severity: domain.SeverityNormal}
	}
	return Decision{}
}

// Event is one recorded price observation for a product.
type Event struct {
	Product domain.Product
	Change  pricing.Change
	// Prediction is optional advice included in emails.
	Prediction *pricing.Prediction
}

// Notifier dispatches alerts.
type Notifier struct {
	store      Store
	sender     Sender
	thresholds Thresholds
	currency   string
	log        logrus.FieldLogger
}

func New(store Store, sender Sender, thresholds Thresholds, currency string, logger logrus.FieldLogger) *Notifier {
	return &Notifier{
		store:      store,
		sender:     sender,
		thresholds: thresholds,
		currency:   currency,
		log:        logger.WithField("component", "notifier"),
	}
}

// Notify evaluates every subscriber and dispatches the alerts. Each alert
// writes exactly one in-app notification and attempts one email when the
// user has an address. Email failures are logged only. The returned error
// joins the in-app write failures; the count covers alerts whose in-app
// notification was written.
func (n *Notifier) Notify(ctx context.Context, ev Event, subs []domain.Subscriber) (int, error) {
	log := n.log.WithFields(logrus.Fields{"product_id": ev.Product.ID, "trend": ev.Change.Trend, "delta_pct": ev.Change.DeltaPct})

	dispatched := 0
	var errs []error
	for _, sub := range subs {
		d := Decide(sub, ev.Change, n.thresholds)
		if !d.Alert {
			continue
		}
		ulog := log.WithFields(logrus.Fields{"user_id": sub.UserID, "category": d.Category, "severity": d.Severity})

		productID := ev.Product.ID
		_, err := n.store.CreateNotification(ctx, domain.Notification{
			UserID:    sub.UserID,
			ProductID: &productID,
			Message:   n.alertMessage(ev, sub, d),
			Category:  d.Category,
			Severity:  d.Severity,
		})
		if err != nil {
			ulog.WithError(err).Error("Failed to write notification")
			errs = append(errs, fmt.Errorf("notify user %d: %w", sub.UserID, err))
			continue
		}
		dispatched++

		if sub.User.Email == "" {
			ulog.Debug("No email address on file, skipping email")
			continue
		}
		if err := n.sendAlertEmail(ctx, ev, sub, d); err != nil {
			ulog.WithError(err).Warn("Alert email not delivered")
			continue
		}
		ulog.Info("Alert dispatched")
	}
	return dispatched, errors.Join(errs...)
}

// NotifyFailure tells every subscriber, paused or not, that the check of
// product failed. No email is sent for scrape failures.
func (n *Notifier) NotifyFailure(ctx context.Context, product domain.Product, cause error, subs []domain.Subscriber) (int, error) {
	n.log.WithFields(logrus.Fields{"product_id": product.ID, "subscribers": len(subs)}).
		WithError(cause).Info("Posting check failure notifications")

	msg := fmt.Sprintf("Price check failed for %q. Will retry next cycle.", product.DisplayName())
	written := 0
	var errs []error
	for _, sub := range subs {
		if err := n.Post(ctx, sub.UserID, product.ID, msg, domain.CategoryError); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}

// Post writes a single in-app notification with normal severity.
func (n *Notifier) Post(ctx context.Context, userID int64, productID uint64, message string, category domain.Category) error {
	pid := productID
	if _, err := n.store.CreateNotification(ctx, domain.Notification{
		UserID:    userID,
		ProductID: &pid,
		Message:   message,
		Category:  category,
		Severity:  domain.SeverityNormal,
	}); err != nil {
		n.log.WithError(err).WithField("user_id", userID).Error("Failed to write notification")
		return fmt.Errorf("post notification for user %d: %w", userID, err)
	}
	return nil
}

// FormatPrice renders a price with the configured currency symbol.
func (n *Notifier) FormatPrice(v float64) string {
	return n.currency + decimal.NewFromFloat(v).StringFixed(2)
}

func (n *Notifier) alertMessage(ev Event, sub domain.Subscriber, d Decision) string {
	name := ev.Product.DisplayName()
	c := ev.Change
	switch {
	case d.TargetHit:
		return fmt.Sprintf("🎯 %s hit your target %s: now %s", name, n.FormatPrice(*sub.TargetPrice), n.FormatPrice(c.Current))
	case d.Category == domain.CategoryRise:
		return fmt.Sprintf("📈 %s: %s → %s (+%.1f%%)", name, n.FormatPrice(*c.Previous), n.FormatPrice(c.Current), c.DeltaPct)
	default:
		return fmt.Sprintf("%s %s: %s → %s (%.1f%% off)", d.Severity.Emoji(), name, n.FormatPrice(*c.Previous), n.FormatPrice(c.Current), c.DeltaPct)
	}
}

func (n *Notifier) sendAlertEmail(ctx context.Context, ev Event, sub domain.Subscriber, d Decision) error {
	c := ev.Change
	data := emailData{
		ProductName: ev.Product.DisplayName(),
		URL:         ev.Product.URL,
		ImageURL:    ev.Product.ImageURL,
		NewPrice:    n.FormatPrice(c.Current),
		DeltaPct:    c.DeltaPct,
		Emoji:       d.Severity.Emoji(),
		TargetHit:   d.TargetHit,
	}
	if c.Trend == pricing.TrendDown || (d.Category == domain.CategoryRise && c.Trend == pricing.TrendUp) {
		data.OldPrice = n.FormatPrice(*c.Previous)
		data.Delta = n.FormatPrice(c.DeltaAbs)
	}
	if d.TargetHit {
		data.TargetPrice = n.FormatPrice(*sub.TargetPrice)
	}
	if ev.Prediction != nil {
		data.Advice = ev.Prediction.Reason
	}

	tmpl, subject := dropTemplate, fmt.Sprintf("%s Price Dropped! %s now %s", data.Emoji, truncate(data.ProductName, 40), data.NewPrice)
	switch {
	case d.TargetHit:
		subject = fmt.Sprintf("🎯 Target reached: %s now %s", truncate(data.ProductName, 40), data.NewPrice)
	case d.Category == domain.CategoryRise:
		tmpl, subject = riseTemplate, fmt.Sprintf("📈 Price Rise Alert: %s now %s", truncate(data.ProductName, 40), data.NewPrice)
	}

	body, err := renderTemplate(tmpl, data)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, sub.User.Email, subject, body)
}

// truncate collapses whitespace in s and cuts it to max runes.
func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
