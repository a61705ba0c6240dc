package scraper

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/domain"
	"pricewatch/internal/parser"
)

// fakeFetcher serves canned markup or errors per URL.
type fakeFetcher struct {
	pages  map[string]string
	errs   map[string]error
	delay  time.Duration
	block  map[string]bool
	active atomic.Int32
	peak   atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.block[url] {
		select {} // never returns, like a transport that ignores ctx
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	return f.pages[url], nil
}

func TestCoordinator_ScrapeAll_IsolatesFailures(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]string{
			"https://shop.example/ok":      `<title>Good</title><meta property="product:price:amount" content="499">`,
			"https://shop.example/noprice": `<title>No price here</title>`,
		},
		errs: map[string]error{
			"https://shop.example/gone": &FetchError{URL: "https://shop.example/gone", Status: 404, Attempts: 1, Kind: ErrNotFound, Err: assert.AnError},
		},
	}
	c := NewCoordinator(fetcher, parser.New(nil), CoordinatorOptions{Workers: 2}, testLogger())

	products := []domain.Product{
		{ID: 1, URL: "https://shop.example/ok"},
		{ID: 2, URL: "https://shop.example/gone"},
		{ID: 3, URL: "https://shop.example/noprice"},
	}
	outcomes := c.ScrapeAll(context.Background(), products)
	require.Len(t, outcomes, 3)

	byID := map[uint64]Outcome{}
	for _, o := range outcomes {
		byID[o.ProductID] = o
	}

	ok := byID[1]
	require.True(t, ok.OK())
	require.NotNil(t, ok.Page.Price)
	assert.Equal(t, 499.0, *ok.Page.Price)
	assert.Equal(t, "Good", ok.Page.Name)
	assert.False(t, ok.ObservedAt.IsZero())

	assert.ErrorIs(t, byID[2].Err, ErrNotFound)
	assert.ErrorIs(t, byID[3].Err, ErrParseEmpty)
	assert.Equal(t, "No price here", byID[3].Page.Name)
}

func TestCoordinator_BoundsConcurrency(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{}, delay: 20 * time.Millisecond}
	var products []domain.Product
	for i := 1; i <= 12; i++ {
		url := "https://shop.example/" + string(rune('a'+i))
		fetcher.pages[url] = `<meta itemprop="price" content="10">`
		products = append(products, domain.Product{ID: uint64(i), URL: url})
	}

	c := NewCoordinator(fetcher, parser.New(nil), CoordinatorOptions{Workers: 3}, testLogger())
	outcomes := c.ScrapeAll(context.Background(), products)

	require.Len(t, outcomes, 12)
	for _, o := range outcomes {
		assert.True(t, o.OK(), "product %d", o.ProductID)
	}
	assert.LessOrEqual(t, fetcher.peak.Load(), int32(3))
	assert.Greater(t, fetcher.peak.Load(), int32(1), "fetches should overlap")
}

func TestCoordinator_TimeoutAbandonsOnlyThatProduct(t *testing.T) {
	fetcher := &fakeFetcher{
		pages: map[string]string{"https://fast.example/p": `<meta itemprop="price" content="42">`},
		block: map[string]bool{"https://slow.example/p": true},
	}
	c := NewCoordinator(fetcher, parser.New(nil), CoordinatorOptions{Workers: 2, Timeout: 50 * time.Millisecond}, testLogger())

	var outcomes []Outcome
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes = c.ScrapeAll(context.Background(), []domain.Product{
			{ID: 1, URL: "https://slow.example/p"},
			{ID: 2, URL: "https://fast.example/p"},
		})
	}()
	wg.Wait()

	require.Len(t, outcomes, 2)
	assert.ErrorIs(t, outcomes[0].Err, ErrNetwork)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
	assert.True(t, outcomes[1].OK())
}

func TestCoordinator_UsesSiteRules(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://www.amazon.in/dp/B0ABC12345": `<span id="productTitle">Echo</span><span class="a-price-whole">3,999</span>`,
	}}
	c := NewCoordinator(fetcher, parser.New(nil), CoordinatorOptions{Workers: 1}, testLogger())

	// Site is derived from the URL when the product has none stored.
	o := c.ScrapeOne(context.Background(), domain.Product{ID: 7, URL: "https://www.amazon.in/dp/B0ABC12345"})
	require.True(t, o.OK())
	assert.Equal(t, "Echo", o.Page.Name)
	assert.Equal(t, 3999.0, *o.Page.Price)
}

func TestHostLimiter_SpacesSameHost(t *testing.T) {
	l := NewHostLimiter(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	assert.Less(t, time.Since(start), 25*time.Millisecond, "different hosts do not wait on each other")

	require.NoError(t, l.Wait(ctx, "https://a.example/2"))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	assert.NoError(t, NewHostLimiter(0).Wait(ctx, "https://a.example"))
}
