package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/api"
	"pricewatch/internal/bot"
	"pricewatch/internal/config"
	"pricewatch/internal/notifier"
	"pricewatch/internal/parser"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/scraper"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

// fetcher is a page fetcher that may hold resources.
type fetcher interface {
	scraper.Fetcher
	Close() error
}

type nopCloser struct{ scraper.Fetcher }

func (nopCloser) Close() error { return nil }

func main() {
	// --- Configuration Loading ---
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(cfg.Level())

	log.WithFields(logrus.Fields{
		"badgerdb_path":  cfg.BadgerDBPath,
		"check_interval": cfg.CheckInterval.String(),
		"fetch_mode":     cfg.FetchMode,
		"workers":        cfg.ScrapeWorkers,
		"smtp":           cfg.SMTPEnabled(),
	}).Info("Configuration loaded successfully")

	// --- Initialize Components ---
	log.Info("Initializing components...")

	// Database
	repo, err := storage.NewBadgerRepository(cfg.BadgerDBPath, log)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		log.Info("Closing database...")
		if err := repo.Close(); err != nil {
			log.WithError(err).Error("Error closing database")
		}
	}()

	// Scraping
	policy := scraper.RetryPolicy{
		MaxAttempts:    cfg.FetchRetries,
		Backoff:        cfg.RetryBackoff,
		BlockedBackoff: cfg.BlockedBackoff,
	}
	var pages fetcher
	if cfg.FetchMode == config.FetchModeBrowser {
		pages = scraper.NewBrowserFetcher(cfg.RequestTimeout, policy, cfg.UserAgents, log)
	} else {
		pages = nopCloser{scraper.NewHTTPFetcher(scraper.HTTPFetcherOptions{
			RequestTimeout: cfg.RequestTimeout,
			Retry:          policy,
			UserAgents:     cfg.UserAgents,
		}, log)}
	}
	defer func() {
		if err := pages.Close(); err != nil {
			log.WithError(err).Error("Error closing fetcher")
		}
	}()
	coordinator := scraper.NewCoordinator(pages, parser.New(parser.MergeSites(parser.DefaultSites(), cfg.Sites)), scraper.CoordinatorOptions{
		Workers: cfg.ScrapeWorkers,
		Timeout: cfg.ScrapeTimeout,
		Limiter: scraper.NewHostLimiter(cfg.HostInterval),
	}, log)

	// Notifications
	var sender notifier.Sender = notifier.NewLogSender(log)
	if cfg.SMTPEnabled() {
		sender = notifier.NewSMTPSender(notifier.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	alerts := notifier.New(repo, sender, notifier.Thresholds{
		MinDropPct:   cfg.MinDropPct,
		RiseAlertPct: cfg.RiseAlertPct,
	}, cfg.CurrencySymbol, log)

	// Chain and scheduler
	service := tracker.NewService(repo, coordinator, alerts, tracker.Options{
		HistoryWindow: cfg.HistoryWindow,
		Workers:       cfg.ScrapeWorkers,
	}, log)
	sched := scheduler.New(func(ctx context.Context) error {
		_, err := service.Run(ctx)
		return err
	}, scheduler.Config{Interval: cfg.CheckInterval, RunOnStart: cfg.RunOnStart}, log)

	// --- Application Startup ---
	log.Info("Starting PriceWatch...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if cfg.TelegramBotToken != "" {
		botHandler, err := bot.NewHandler(cfg.TelegramBotToken, bot.Deps{
			Tracker:     service,
			Trigger:     sched,
			Users:       repo,
			FormatPrice: alerts.FormatPrice,
		}, log)
		if err != nil {
			log.WithError(err).Error("Telegram bot disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				botHandler.Start(ctx)
			}()
		}
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, Telegram bot disabled")
	}

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		if cfg.Level() < logrus.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewRouter(api.NewHandler(sched, service, repo, log)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.WithField("addr", cfg.HTTPAddr).Info("HTTP API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("HTTP server failed")
				stop()
			}
		}()
	}

	log.Info("PriceWatch is running. Press Ctrl+C to exit.")

	// --- Wait for Shutdown Signal ---
	<-ctx.Done()

	// --- Graceful Shutdown ---
	log.Info("Shutting down PriceWatch...")
	stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("HTTP server forced to shutdown")
		}
		cancel()
	}
	wg.Wait()

	log.Info("PriceWatch shut down gracefully.")
}
