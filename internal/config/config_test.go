package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "./badger_data", cfg.BadgerDBPath)
	assert.Equal(t, 6*time.Hour, cfg.CheckInterval)
	assert.True(t, cfg.RunOnStart)
	assert.Equal(t, 8, cfg.ScrapeWorkers)
	assert.Equal(t, 3, cfg.FetchRetries)
	assert.Equal(t, FetchModeHTTP, cfg.FetchMode)
	assert.Equal(t, 1.0, cfg.MinDropPct)
	assert.Equal(t, 5.0, cfg.RiseAlertPct)
	assert.Equal(t, "₹", cfg.CurrencySymbol)
	assert.Equal(t, 14*24*time.Hour, cfg.HistoryWindow)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.False(t, cfg.SMTPEnabled())
	assert.Empty(t, cfg.TelegramBotToken, "The bot is optional")
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.UserAgents)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
CHECK_INTERVAL: 30m
SCRAPE_WORKERS: 2
MIN_DROP_PCT: 5
USER_AGENTS:
  - "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko)"
SITES:
  myshop:
    price:
      - selector: "span.cost"
    title:
      - selector: "meta[name=title]"
        attr: content
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("SCRAPE_WORKERS", "12")
	t.Setenv("FETCH_MODE", "browser")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SMTP_HOST", "smtp.example.com")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.CheckInterval)
	assert.Equal(t, 12, cfg.ScrapeWorkers, "Environment beats the file")
	assert.Equal(t, 5.0, cfg.MinDropPct)
	assert.Equal(t, FetchModeBrowser, cfg.FetchMode)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.True(t, cfg.SMTPEnabled())
	assert.Equal(t, []string{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko)"}, cfg.UserAgents)

	require.Contains(t, cfg.Sites, "myshop")
	site := cfg.Sites["myshop"]
	require.Len(t, site.Price, 1)
	assert.Equal(t, "span.cost", site.Price[0].Selector)
	require.Len(t, site.Title, 1)
	assert.Equal(t, "content", site.Title[0].Attr)
}

func TestLoadConfig_EnvUserAgents(t *testing.T) {
	t.Setenv("USER_AGENTS", "Agent One (a, b)| Agent Two ")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"Agent One (a, b)", "Agent Two"}, cfg.UserAgents)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"SCRAPE_WORKERS": "0",
		"CHECK_INTERVAL": "-1s",
		"FETCH_MODE":     "carrier-pigeon",
		"LOG_LEVEL":      "loud",
		"FETCH_RETRIES":  "0",
		"MIN_DROP_PCT":   "-2",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig(t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}
