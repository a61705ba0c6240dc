package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
)

// BadgerRepository implements the Repository interface using BadgerDB.
type BadgerRepository struct {
	db         *badger.DB
	productSeq *badger.Sequence
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewBadgerRepository creates and initializes a new BadgerDB repository.
// It opens the database at the specified path.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}
	seq, err := db.GetSequence([]byte(keyProductSeq), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open product sequence: %w", err)
	}
	logger.Info("BadgerDB opened successfully at path: ", dbPath)

	return &BadgerRepository{
		db:         db,
		productSeq: seq,
		log:        logger.WithField("component", "repository"),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the BadgerDB database connection.
func (r *BadgerRepository) Close() error {
	r.log.Info("Closing BadgerDB...")
	if err := r.productSeq.Release(); err != nil {
		r.log.WithError(err).Warn("Failed to release product sequence")
	}
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	r.log.Info("BadgerDB closed.")
	return nil
}

// --- Products ---

func (r *BadgerRepository) CreateProduct(ctx context.Context, url, site string) (domain.Product, bool, error) {
	log := r.log.WithField("url", url)

	var product domain.Product
	created := false
	err := r.update(func(txn *badger.Txn) error {
		item, err := txn.Get(urlKey(url))
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			id, err := strconv.ParseUint(string(raw), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt url index for %s: %w", url, err)
			}
			return getJSON(txn, productKey(id), &product)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		n, err := r.productSeq.Next()
		if err != nil {
			return fmt.Errorf("allocate product id: %w", err)
		}
		product = domain.Product{ID: n + 1, URL: url, Site: site, CreatedAt: r.now()}
		created = true
		if err := setJSON(txn, productKey(product.ID), product); err != nil {
			return err
		}
		return txn.Set(urlKey(url), []byte(strconv.FormatUint(product.ID, 10)))
	})
	if err != nil {
		log.WithError(err).Error("Failed to create product")
		return domain.Product{}, false, fmt.Errorf("failed to create product %s: %w", url, err)
	}
	if created {
		log.WithField("product_id", product.ID).Info("Product created")
	}
	return product, created, nil
}

func (r *BadgerRepository) GetProduct(ctx context.Context, id uint64) (domain.Product, error) {
	var p domain.Product
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, productKey(id), &p)
	})
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	return p, nil
}

func (r *BadgerRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.View(func(txn *badger.Txn) error {
		return scanJSON(txn, []byte(prefixProduct), func(_ []byte, val []byte) error {
			var p domain.Product
			if err := json.Unmarshal(val, &p); err != nil {
				return err
			}
			products = append(products, p)
			return nil
		})
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to list products")
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (r *BadgerRepository) DeleteProduct(ctx context.Context, id uint64) error {
	log := r.log.WithField("product_id", id)
	err := r.update(func(txn *badger.Txn) error {
		var p domain.Product
		if err := getJSON(txn, productKey(id), &p); err != nil {
			return err
		}
		var subs []domain.Subscription
		if err := scanJSON(txn, subPrefix(id), func(_ []byte, val []byte) error {
			var s domain.Subscription
			if err := json.Unmarshal(val, &s); err != nil {
				return err
			}
			subs = append(subs, s)
			return nil
		}); err != nil {
			return err
		}
		for _, s := range subs {
			if err := txn.Delete(userSubKey(s.UserID, id)); err != nil {
				return err
			}
		}
		if err := deletePrefix(txn, subPrefix(id)); err != nil {
			return err
		}
		if err := deletePrefix(txn, tickPrefix(id)); err != nil {
			return err
		}
		if err := txn.Delete(urlKey(p.URL)); err != nil {
			return err
		}
		return txn.Delete(productKey(id))
	})
	if err != nil {
		log.WithError(err).Error("Failed to delete product")
		return fmt.Errorf("failed to delete product %d: %w", id, err)
	}
	log.Info("Product deleted")
	return nil
}

// --- Price history ---

func (r *BadgerRepository) GetLastPrice(ctx context.Context, productID uint64) (*float64, error) {
	p, err := r.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return p.LastPrice, nil
}

func (r *BadgerRepository) RecordObservation(ctx context.Context, productID uint64, obs domain.Observation) (*float64, domain.Product, error) {
	log := r.log.WithFields(logrus.Fields{"product_id": productID, "price": obs.Price})
	if obs.Price <= 0 {
		return nil, domain.Product{}, fmt.Errorf("invalid price %v for product %d", obs.Price, productID)
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = r.now()
	}

	var previous *float64
	var product domain.Product
	err := r.update(func(txn *badger.Txn) error {
		if err := getJSON(txn, productKey(productID), &product); err != nil {
			return err
		}
		key := tickKey(productID, obs.ObservedAt)
		if _, err := txn.Get(key); err == nil {
			return ErrDuplicateTick
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if !product.LastCheckedAt.IsZero() && !obs.ObservedAt.After(product.LastCheckedAt) {
			return ErrStaleTick
		}

		previous = product.LastPrice
		tick := domain.Tick{ProductID: productID, Price: obs.Price, ObservedAt: obs.ObservedAt}
		if err := setJSON(txn, key, tick); err != nil {
			return err
		}

		price := obs.Price
		product.LastPrice = &price
		product.LastCheckedAt = obs.ObservedAt
		if obs.Name != "" && product.NeedsName() {
			product.Name = obs.Name
		}
		if obs.ImageURL != "" && product.ImageURL == "" {
			product.ImageURL = obs.ImageURL
		}
		return setJSON(txn, productKey(productID), product)
	})
	if err != nil {
		log.WithError(err).Warn("Failed to record observation")
		return nil, domain.Product{}, fmt.Errorf("failed to record observation for product %d: %w", productID, err)
	}
	log.Debug("Observation recorded")
	return previous, product, nil
}

func (r *BadgerRepository) UpdateProductMetadata(ctx context.Context, productID uint64, name, imageURL *string) error {
	err := r.update(func(txn *badger.Txn) error {
		var p domain.Product
		if err := getJSON(txn, productKey(productID), &p); err != nil {
			return err
		}
		if name != nil {
			p.Name = *name
		}
		if imageURL != nil {
			p.ImageURL = *imageURL
		}
		return setJSON(txn, productKey(productID), p)
	})
	if err != nil {
		return fmt.Errorf("failed to update metadata for product %d: %w", productID, err)
	}
	return nil
}

// ListHistory returns ticks observed at or after since, oldest first.
func (r *BadgerRepository) ListHistory(ctx context.Context, productID uint64, since time.Time) ([]domain.Tick, error) {
	var ticks []domain.Tick
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := tickPrefix(productID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if !since.IsZero() {
			start = tickKey(productID, since)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var t domain.Tick
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return fmt.Errorf("failed to unmarshal tick %s: %w", string(it.Item().Key()), err)
			}
			ticks = append(ticks, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list history for product %d: %w", productID, err)
	}
	return ticks, nil
}

func (r *BadgerRepository) PriceStats(ctx context.Context, productID uint64) (domain.PriceStats, error) {
	ticks, err := r.ListHistory(ctx, productID, time.Time{})
	if err != nil {
		return domain.PriceStats{}, err
	}
	var stats domain.PriceStats
	for i, t := range ticks {
		if i == 0 || t.Price < stats.Lowest {
			stats.Lowest = t.Price
		}
		if t.Price > stats.Highest {
			stats.Highest = t.Price
		}
	}
	stats.Checks = len(ticks)
	return stats, nil
}

// --- Users ---

func (r *BadgerRepository) PutUser(ctx context.Context, u domain.User) error {
	err := r.update(func(txn *badger.Txn) error {
		var existing domain.User
		err := getJSON(txn, userKey(u.ID), &existing)
		switch {
		case err == nil:
			u.CreatedAt = existing.CreatedAt
		case errors.Is(err, ErrNotFound):
			if u.CreatedAt.IsZero() {
				u.CreatedAt = r.now()
			}
		default:
			return err
		}
		return setJSON(txn, userKey(u.ID), u)
	})
	if err != nil {
		return fmt.Errorf("failed to save user %d: %w", u.ID, err)
	}
	return nil
}

func (r *BadgerRepository) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	if err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &u)
	}); err != nil {
		return domain.User{}, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return u, nil
}

func (r *BadgerRepository) DeleteUser(ctx context.Context, id int64) error {
	log := r.log.WithField("user_id", id)
	err := r.update(func(txn *badger.Txn) error {
		var productIDs []uint64
		if err := scanKeys(txn, userSubPrefix(id), func(key []byte) error {
			pid, err := strconv.ParseUint(string(key[len(userSubPrefix(id)):]), 10, 64)
			if err != nil {
				return err
			}
			productIDs = append(productIDs, pid)
			return nil
		}); err != nil {
			return err
		}
		for _, pid := range productIDs {
			if err := txn.Delete(subKey(pid, id)); err != nil {
				return err
			}
		}
		if err := deletePrefix(txn, userSubPrefix(id)); err != nil {
			return err
		}
		if err := deletePrefix(txn, notificationPrefix(id)); err != nil {
			return err
		}
		return txn.Delete(userKey(id))
	})
	if err != nil {
		log.WithError(err).Error("Failed to delete user")
		return fmt.Errorf("failed to delete user %d: %w", id, err)
	}
	log.Info("User deleted")
	return nil
}

// --- Subscriptions ---

// Subscribe creates or replaces the subscription of sub.UserID to
// sub.ProductID. The product must exist.
func (r *BadgerRepository) GetSubscription(ctx context.Context, userID int64, productID uint64) (domain.Subscription, error) {
	var sub domain.Subscription
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, subKey(productID, userID), &sub)
	})
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("failed to get subscription of user %d to product %d: %w", userID, productID, err)
	}
	return sub, nil
}

func (r *BadgerRepository) Subscribe(ctx context.Context, sub domain.Subscription) error {
	if sub.Frequency == "" {
		sub.Frequency = domain.FrequencyDaily
	}
	if !sub.Frequency.Valid() {
		return fmt.Errorf("invalid alert frequency %q", sub.Frequency)
	}
	err := r.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(productKey(sub.ProductID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		var existing domain.Subscription
		err := getJSON(txn, subKey(sub.ProductID, sub.UserID), &existing)
		switch {
		case err == nil:
			sub.CreatedAt = existing.CreatedAt
		case errors.Is(err, ErrNotFound):
			sub.CreatedAt = r.now()
		default:
			return err
		}
		if err := setJSON(txn, subKey(sub.ProductID, sub.UserID), sub); err != nil {
			return err
		}
		return txn.Set(userSubKey(sub.UserID, sub.ProductID), nil)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe user %d to product %d: %w", sub.UserID, sub.ProductID, err)
	}
	r.log.WithFields(logrus.Fields{"user_id": sub.UserID, "product_id": sub.ProductID}).Info("Subscription saved")
	return nil
}

func (r *BadgerRepository) Unsubscribe(ctx context.Context, userID int64, productID uint64) error {
	err := r.update(func(txn *badger.Txn) error {
		if err := txn.Delete(subKey(productID, userID)); err != nil {
			return err
		}
		return txn.Delete(userSubKey(userID, productID))
	})
	if err != nil {
		return fmt.Errorf("failed to unsubscribe user %d from product %d: %w", userID, productID, err)
	}
	return nil
}

func (r *BadgerRepository) SetPaused(ctx context.Context, userID int64, productID uint64, paused bool) error {
	err := r.update(func(txn *badger.Txn) error {
		var s domain.Subscription
		if err := getJSON(txn, subKey(productID, userID), &s); err != nil {
			return err
		}
		s.Paused = paused
		return setJSON(txn, subKey(productID, userID), s)
	})
	if err != nil {
		return fmt.Errorf("failed to set paused for user %d product %d: %w", userID, productID, err)
	}
	return nil
}

// ListSubscribers returns the subscriptions of a product joined with their
// users. Subscriptions whose user record is missing are returned with only
// the user id set.
func (r *BadgerRepository) ListSubscribers(ctx context.Context, productID uint64) ([]domain.Subscriber, error) {
	var subs []domain.Subscriber
	err := r.db.View(func(txn *badger.Txn) error {
		return scanJSON(txn, subPrefix(productID), func(_ []byte, val []byte) error {
			var s domain.Subscriber
			if err := json.Unmarshal(val, &s.Subscription); err != nil {
				return err
			}
			err := getJSON(txn, userKey(s.UserID), &s.User)
			switch {
			case errors.Is(err, ErrNotFound):
				s.User = domain.User{ID: s.UserID}
			case err != nil:
				return err
			}
			subs = append(subs, s)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers of product %d: %w", productID, err)
	}
	return subs, nil
}

func (r *BadgerRepository) ListSubscriptions(ctx context.Context, userID int64) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := userSubPrefix(userID)
		return scanKeys(txn, prefix, func(key []byte) error {
			pid, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
			if err != nil {
				return err
			}
			var s domain.Subscription
			if err := getJSON(txn, subKey(pid, userID), &s); err != nil {
				return err
			}
			subs = append(subs, s)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions of user %d: %w", userID, err)
	}
	return subs, nil
}

// --- Notifications ---

func (r *BadgerRepository) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Notification{}, fmt.Errorf("failed to generate notification id: %w", err)
	}
	n.ID = id.String()
	n.Read = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	if n.Severity == "" {
		n.Severity = domain.SeverityNormal
	}
	if n.Category == "" {
		n.Category = domain.CategoryInfo
	}

	if err := r.update(func(txn *badger.Txn) error {
		return setJSON(txn, notificationKey(n.UserID, n.ID), n)
	}); err != nil {
		r.log.WithError(err).WithField("user_id", n.UserID).Error("Failed to save notification")
		return domain.Notification{}, fmt.Errorf("failed to create notification for user %d: %w", n.UserID, err)
	}
	return n, nil
}

// ListNotifications returns a user's notifications, newest first. A
// non-positive limit means no limit.
func (r *BadgerRepository) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	err := r.db.View(func(txn *badger.Txn) error {
		return scanJSON(txn, notificationPrefix(userID), func(_ []byte, val []byte) error {
			var n domain.Notification
			if err := json.Unmarshal(val, &n); err != nil {
				return err
			}
			if !unreadOnly || !n.Read {
				out = append(out, n)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for user %d: %w", userID, err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotificationsRead marks the given notifications of userID as read, or
// all of them when no ids are passed.
func (r *BadgerRepository) MarkNotificationsRead(ctx context.Context, userID int64, ids ...string) (int, error) {
	only := make(map[string]bool, len(ids))
	for _, id := range ids {
		only[id] = true
	}
	marked := 0
	err := r.update(func(txn *badger.Txn) error {
		marked = 0
		var unread []domain.Notification
		if err := scanJSON(txn, notificationPrefix(userID), func(_ []byte, val []byte) error {
			var n domain.Notification
			if err := json.Unmarshal(val, &n); err != nil {
				return err
			}
			if !n.Read && (len(only) == 0 || only[n.ID]) {
				unread = append(unread, n)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, n := range unread {
			n.Read = true
			if err := setJSON(txn, notificationKey(userID, n.ID), n); err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read for user %d: %w", userID, err)
	}
	return marked, nil
}

// update runs fn in a read-write transaction and maps badger conflicts.
func (r *BadgerRepository) update(fn func(txn *badger.Txn) error) error {
	err := r.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// --- BadgerDB Internal Logger ---

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
