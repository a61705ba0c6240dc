package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// BrowserFetcher renders pages in a headless browser with rod. It is used
// for sites whose prices only appear after scripts run.
type BrowserFetcher struct {
	policy      RetryPolicy
	pageTimeout time.Duration
	userAgents  []string
	log         logrus.FieldLogger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowserFetcher creates a browser-backed fetcher. The browser itself is
// launched on first use.
func NewBrowserFetcher(pageTimeout time.Duration, policy RetryPolicy, userAgents []string, logger logrus.FieldLogger) *BrowserFetcher {
	if pageTimeout <= 0 {
		pageTimeout = 30 * time.Second
	}
	return &BrowserFetcher{
		policy:      policy,
		pageTimeout: pageTimeout,
		userAgents:  userAgents,
		log:         logger.WithField("component", "browser_fetcher"),
	}
}

// Fetch renders url and returns the resulting document HTML.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	browser, err := f.connect()
	if err != nil {
		return "", &FetchError{URL: url, Attempts: 0, Kind: ErrNetwork, Err: err}
	}
	return withRetries(ctx, f.log, f.policy, url, func(ctx context.Context) (string, int, error) {
		return f.attempt(ctx, browser, url)
	})
}

func (f *BrowserFetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	path, exists := launcher.LookPath()
	if !exists {
		f.log.Error("Cannot find browser executable for rod")
		return nil, errors.New("rod browser dependency not found")
	}
	u, err := launcher.New().Bin(path).Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		f.log.WithError(err).Error("Failed to connect to rod browser")
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	f.log.Info("Headless browser started")
	f.browser = browser
	return browser, nil
}

func (f *BrowserFetcher) attempt(ctx context.Context, browser *rod.Browser, url string) (html string, status int, err error) {
	log := f.log.WithField("url", url)

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", 0, fmt.Errorf("failed to create page: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("Error closing rod page")
		}
	}()

	pageCtx, cancel := context.WithTimeout(ctx, f.pageTimeout)
	defer cancel()
	page = page.Context(pageCtx)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: pickUserAgent(f.userAgents)}); err != nil {
		return "", 0, fmt.Errorf("failed to set user agent: %w", err)
	}

	statusCh := make(chan int, 1)
	wait := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		statusCh <- e.Response.Status
		return true
	})
	go wait()

	if err := page.Navigate(url); err != nil {
		return "", 0, fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			log.WithError(pageCtx.Err()).Warn("Page load timed out")
			return "", 0, fmt.Errorf("page load timed out: %w", pageCtx.Err())
		}
		return "", 0, fmt.Errorf("failed waiting for page load: %w", err)
	}

	select {
	case status = <-statusCh:
	default:
		status = http.StatusOK
	}
	if classifyStatus(status) != attemptOK {
		return "", status, nil
	}

	html, err = page.HTML()
	if err != nil {
		return "", status, fmt.Errorf("failed to read page html: %w", err)
	}
	return html, status, nil
}

// Close shuts the browser down if it was started.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	f.log.Info("Closing headless browser")
	err := f.browser.Close()
	f.browser = nil
	return err
}
