package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"

	"caption-bot/api/internal/caption"
)

type Config struct {
	Port string

	CaptionAPIURL  string
	CaptionTimeout time.Duration
	HistoryLimit   int

	TelegramBotToken string
	WebhookURL       string
	SendRate         float64 // сообщений в секунду

	LogLevel string
}

func mustEnv(k string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		log.Fatalf("missing required env %s", k)
	}
	return v
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warnf("bad %s=%q, using %s", k, v, def)
		return def
	}
	return d
}

func getInt(k string, def int) int {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("bad %s=%q, using %d", k, v, def)
		return def
	}
	return n
}

func getFloat(k string, def float64) float64 {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		log.Warnf("bad %s=%q, using %g", k, v, def)
		return def
	}
	return f
}

// Load reads an optional .env file and then the environment. Nothing here is required;
// binaries that need a value call the Must* helpers.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	return &Config{
		Port: getEnv("PORT", "8080"),

		CaptionAPIURL:  strings.TrimRight(getEnv("CAPTION_API_URL", caption.DefaultBaseURL), "/"),
		CaptionTimeout: getDuration("CAPTION_TIMEOUT", caption.DefaultTimeout),
		HistoryLimit:   caption.ClampHistoryLimit(getInt("HISTORY_LIMIT", caption.DefaultHistoryLimit)),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		SendRate:         getFloat("SEND_RATE", 20),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// MustBotToken returns TELEGRAM_BOT_TOKEN or exits.
func (c *Config) MustBotToken() string {
	if c.TelegramBotToken == "" {
		c.TelegramBotToken = mustEnv("TELEGRAM_BOT_TOKEN")
	}
	return c.TelegramBotToken
}

// SetupLogging applies LOG_LEVEL to the default apex logger.
func (c *Config) SetupLogging() {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Warnf("bad LOG_LEVEL=%q, using info", c.LogLevel)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
