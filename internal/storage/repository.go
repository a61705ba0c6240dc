package storage

import (
	"context"
	"errors"
	"time"

	"pricewatch/internal/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateTick is returned when a tick for the same observation
	// already exists.
	ErrDuplicateTick = errors.New("tick already recorded for this observation")

	// ErrStaleTick is returned when an observation is not newer than the
	// product's latest tick. Ticks are totally ordered per product.
	ErrStaleTick = errors.New("observation is not newer than the latest tick")

	// ErrConflict is returned when a concurrent write to the same product
	// won the race.
	ErrConflict = errors.New("concurrent write conflict")
)

// Repository defines the persistence boundary of the price tracker.
// Implementations must apply RecordObservation atomically.
type Repository interface {
	// CreateProduct returns the product stored under url, creating it when
	// absent. created reports whether a new product was inserted.
	CreateProduct(ctx context.Context, url, site string) (p domain.Product, created bool, err error)
	GetProduct(ctx context.Context, id uint64) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	// DeleteProduct removes the product with its history and subscriptions.
	DeleteProduct(ctx context.Context, id uint64) error

	GetLastPrice(ctx context.Context, productID uint64) (*float64, error)
	// RecordObservation appends a tick and mirrors it onto the product in a
	// single transaction. It returns the price the product had before.
	RecordObservation(ctx context.Context, productID uint64, obs domain.Observation) (previous *float64, updated domain.Product, err error)
	UpdateProductMetadata(ctx context.Context, productID uint64, name, imageURL *string) error
	ListHistory(ctx context.Context, productID uint64, since time.Time) ([]domain.Tick, error)
	PriceStats(ctx context.Context, productID uint64) (domain.PriceStats, error)

	PutUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id int64) (domain.User, error)
	// DeleteUser removes the user with their subscriptions and notifications.
	DeleteUser(ctx context.Context, id int64) error

	GetSubscription(ctx context.Context, userID int64, productID uint64) (domain.Subscription, error)
	Subscribe(ctx context.Context, sub domain.Subscription) error
	Unsubscribe(ctx context.Context, userID int64, productID uint64) error
	SetPaused(ctx context.Context, userID int64, productID uint64, paused bool) error
	ListSubscribers(ctx context.Context, productID uint64) ([]domain.Subscriber, error)
	ListSubscriptions(ctx context.Context, userID int64) ([]domain.Subscription, error)

	CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error)
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID int64, ids ...string) (int, error)

	// Close gracefully shuts down the repository connection.
	Close() error
}
