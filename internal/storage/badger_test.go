package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/domain"
)

// setupTestDB creates a temporary BadgerDB instance for testing.
// It returns the repository instance and a cleanup function.
func setupTestDB(t *testing.T) (*BadgerRepository, func()) {
	t.Helper()

	tempDir := t.TempDir()

	testLogger := logrus.New()
	testLogger.SetOutput(os.Stderr)        // Send logs to stderr during tests
	testLogger.SetLevel(logrus.ErrorLevel) // Only show errors by default

	repo, err := NewBadgerRepository(tempDir, testLogger)
	require.NoError(t, err, "Failed to create test BadgerDB repository")

	cleanup := func() {
		err := repo.Close()
		assert.NoError(t, err, "Failed to close test BadgerDB repository")
	}

	return repo, cleanup
}

func newProduct(t *testing.T, repo *BadgerRepository, url string) domain.Product {
	t.Helper()
	p, created, err := repo.CreateProduct(context.Background(), url, "example")
	require.NoError(t, err)
	require.True(t, created)
	return p
}

func obsAt(price float64, at time.Time) domain.Observation {
	return domain.Observation{Price: price, ObservedAt: at}
}

// TestBadgerRepository_CreateProduct tests that product URLs are unique.
func TestBadgerRepository_CreateProduct(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p1, created, err := repo.CreateProduct(ctx, "https://www.amazon.in/dp/B0TEST1234", "amazon")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, p1.ID)
	assert.Nil(t, p1.LastPrice)
	assert.Equal(t, "amazon", p1.Site)

	again, created, err := repo.CreateProduct(ctx, p1.URL, "amazon")
	require.NoError(t, err)
	assert.False(t, created, "Second create with the same URL should return the existing product")
	assert.Equal(t, p1.ID, again.ID)

	p2 := newProduct(t, repo, "https://example.com/other")
	assert.NotEqual(t, p1.ID, p2.ID)

	products, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 2)

	_, err = repo.GetProduct(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestBadgerRepository_RecordObservation tests the tick + mirror update.
func TestBadgerRepository_RecordObservation(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	p := newProduct(t, repo, "https://example.com/p")
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	prev, updated, err := repo.RecordObservation(ctx, p.ID, domain.Observation{
		Price: 600, ObservedAt: t0, Name: "Widget", ImageURL: "https://example.com/w.jpg",
	})
	require.NoError(t, err)
	assert.Nil(t, prev, "First observation has no previous price")
	require.NotNil(t, updated.LastPrice)
	assert.Equal(t, 600.0, *updated.LastPrice)
	assert.Equal(t, "Widget", updated.Name)
	assert.True(t, t0.Equal(updated.LastCheckedAt))

	prev, updated, err = repo.RecordObservation(ctx, p.ID, domain.Observation{
		Price: 480, ObservedAt: t0.Add(time.Hour), Name: "Renamed",
	})
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, 600.0, *prev)
	assert.Equal(t, 480.0, *updated.LastPrice)
	assert.Equal(t, "Widget", updated.Name, "A known name is not overwritten by scrapes")

	last, err := repo.GetLastPrice(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 480.0, *last, "Product mirror equals the latest tick")

	history, err := repo.ListHistory(ctx, p.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 600.0, history[0].Price)
	assert.Equal(t, 480.0, history[1].Price)

	recent, err := repo.ListHistory(ctx, p.ID, t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 480.0, recent[0].Price)
}

func TestBadgerRepository_RecordObservation_Rejects(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	p := newProduct(t, repo, "https://example.com/p")
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	_, _, err := repo.RecordObservation(ctx, p.ID, obsAt(100, t0))
	require.NoError(t, err)

	_, _, err = repo.RecordObservation(ctx, p.ID, obsAt(90, t0))
	assert.ErrorIs(t, err, ErrDuplicateTick)

	_, _, err = repo.RecordObservation(ctx, p.ID, obsAt(90, t0.Add(-time.Minute)))
	assert.ErrorIs(t, err, ErrStaleTick)

	_, _, err = repo.RecordObservation(ctx, p.ID, obsAt(0, t0.Add(time.Minute)))
	assert.Error(t, err, "Non-positive prices are never stored")

	_, _, err = repo.RecordObservation(ctx, 4242, obsAt(10, t0))
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := repo.ListHistory(ctx, p.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
	last, err := repo.GetLastPrice(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, *last, "Rejected observations leave the mirror untouched")
}

func TestBadgerRepository_RecordObservation_Concurrent(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	p := newProduct(t, repo, "https://example.com/p")
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := repo.RecordObservation(ctx, p.ID, obsAt(250, at))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrDuplicateTick) && !errors.Is(err, ErrStaleTick) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	history, err := repo.ListHistory(ctx, p.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, history, 1, "Concurrent writers for one observation produce a single tick")
}

func TestBadgerRepository_PriceStats(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	p := newProduct(t, repo, "https://example.com/p")
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	stats, err := repo.PriceStats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriceStats{}, stats)

	for i, price := range []float64{500, 420, 650, 480} {
		_, _, err := repo.RecordObservation(ctx, p.ID, obsAt(price, t0.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	stats, err = repo.PriceStats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriceStats{Lowest: 420, Highest: 650, Checks: 4}, stats)
}

func TestBadgerRepository_UpdateProductMetadata(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	p := newProduct(t, repo, "https://example.com/p")

	name := "Phone"
	require.NoError(t, repo.UpdateProductMetadata(ctx, p.ID, &name, nil))
	got, err := repo.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Phone", got.Name)
	assert.Empty(t, got.ImageURL)

	assert.ErrorIs(t, repo.UpdateProductMetadata(ctx, 777, &name, nil), ErrNotFound)
}

// TestBadgerRepository_Subscriptions tests subscribe, pause and the
// subscriber join.
func TestBadgerRepository_Subscriptions(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	p := newProduct(t, repo, "https://example.com/p")
	target := 500.0

	require.NoError(t, repo.PutUser(ctx, domain.User{ID: 1, Email: "a@example.com", Name: "A"}))
	require.NoError(t, repo.Subscribe(ctx, domain.Subscription{UserID: 1, ProductID: p.ID, TargetPrice: &target}))
	// User 2 has no user record yet.
	require.NoError(t, repo.Subscribe(ctx, domain.Subscription{UserID: 2, ProductID: p.ID, Frequency: domain.FrequencyInstant}))

	subs, err := repo.ListSubscribers(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, int64(1), subs[0].UserID)
	assert.Equal(t, "a@example.com", subs[0].User.Email)
	assert.Equal(t, domain.FrequencyDaily, subs[0].Frequency, "Frequency defaults to daily")
	require.NotNil(t, subs[0].TargetPrice)
	assert.Equal(t, 500.0, *subs[0].TargetPrice)
	assert.Equal(t, int64(2), subs[1].User.ID)
	assert.Empty(t, subs[1].User.Email)

	require.NoError(t, repo.SetPaused(ctx, 1, p.ID, true))
	mine, err := repo.ListSubscriptions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.True(t, mine[0].Paused)

	got, err := repo.GetSubscription(ctx, 1, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Paused)
	_, err = repo.GetSubscription(ctx, 3, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Subscribe(ctx, domain.Subscription{UserID: 1, ProductID: 999}), ErrNotFound)
	assert.Error(t, repo.Subscribe(ctx, domain.Subscription{UserID: 1, ProductID: p.ID, Frequency: "hourly"}))
	assert.ErrorIs(t, repo.SetPaused(ctx, 3, p.ID, true), ErrNotFound)

	require.NoError(t, repo.Unsubscribe(ctx, 2, p.ID))
	subs, err = repo.ListSubscribers(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

// TestBadgerRepository_DeleteCascades tests that deletes remove dependent rows.
func TestBadgerRepository_DeleteCascades(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	keep := newProduct(t, repo, "https://example.com/keep")
	drop := newProduct(t, repo, "https://example.com/drop")

	require.NoError(t, repo.PutUser(ctx, domain.User{ID: 7, Email: "u@example.com"}))
	require.NoError(t, repo.Subscribe(ctx, domain.Subscription{UserID: 7, ProductID: keep.ID}))
	require.NoError(t, repo.Subscribe(ctx, domain.Subscription{UserID: 7, ProductID: drop.ID}))
	_, _, err := repo.RecordObservation(ctx, drop.ID, obsAt(10, time.Now()))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteProduct(ctx, drop.ID))
	_, err = repo.GetProduct(ctx, drop.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	history, err := repo.ListHistory(ctx, drop.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, history)
	subs, err := repo.ListSubscriptions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, keep.ID, subs[0].ProductID)

	// The URL is free again.
	_, created, err := repo.CreateProduct(ctx, drop.URL, "example")
	require.NoError(t, err)
	assert.True(t, created)

	_, err = repo.CreateNotification(ctx, domain.Notification{UserID: 7, Message: "hi"})
	require.NoError(t, err)
	require.NoError(t, repo.DeleteUser(ctx, 7))

	_, err = repo.GetUser(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)
	remaining, err := repo.ListSubscribers(ctx, keep.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	notifs, err := repo.ListNotifications(ctx, 7, false, 0)
	require.NoError(t, err)
	assert.Empty(t, notifs)
}

func TestBadgerRepository_PutUserKeepsCreatedAt(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.PutUser(ctx, domain.User{ID: 5, Name: "first"}))
	first, err := repo.GetUser(ctx, 5)
	require.NoError(t, err)
	require.NoError(t, repo.PutUser(ctx, domain.User{ID: 5, Name: "second", Email: "s@example.com"}))
	second, err := repo.GetUser(ctx, 5)
	require.NoError(t, err)

	assert.Equal(t, "second", second.Name)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

// TestBadgerRepository_Notifications tests listing order and mark-read.
func TestBadgerRepository_Notifications(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	pid := uint64(3)

	var created []domain.Notification
	for _, msg := range []string{"one", "two", "three"} {
		n, err := repo.CreateNotification(ctx, domain.Notification{UserID: 1, ProductID: &pid, Message: msg, Category: domain.CategoryDrop})
		require.NoError(t, err)
		assert.NotEmpty(t, n.ID)
		assert.False(t, n.Read)
		assert.Equal(t, domain.SeverityNormal, n.Severity)
		created = append(created, n)
	}
	_, err := repo.CreateNotification(ctx, domain.Notification{UserID: 2, Message: "other"})
	require.NoError(t, err)

	all, err := repo.ListNotifications(ctx, 1, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "three", all[0].Message, "Newest first")
	assert.Equal(t, created[0].ID, all[2].ID)

	limited, err := repo.ListNotifications(ctx, 1, false, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	marked, err := repo.MarkNotificationsRead(ctx, 1, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	unread, err := repo.ListNotifications(ctx, 1, true, 0)
	require.NoError(t, err)
	assert.Len(t, unread, 2, "Only the listed notification is marked")

	marked, err = repo.MarkNotificationsRead(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	unread, err = repo.ListNotifications(ctx, 1, true, 0)
	require.NoError(t, err)
	assert.Empty(t, unread)

	marked, err = repo.MarkNotificationsRead(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, marked)

	other, err := repo.ListNotifications(ctx, 2, true, 0)
	require.NoError(t, err)
	assert.Len(t, other, 1, "Marking one user's notifications leaves others untouched")
}
