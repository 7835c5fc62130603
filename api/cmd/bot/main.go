package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"caption-bot/api/internal/caption"
	"caption-bot/api/internal/config"
	"caption-bot/api/internal/httpserver"
	"caption-bot/api/internal/metrics"
	"caption-bot/api/internal/telegram"
)

func main() {
	log.SetHandler(text.New(os.Stderr))
	cfg := config.Load()
	cfg.SetupLogging()
	metrics.Register()

	client := caption.NewClient(cfg.CaptionAPIURL, caption.WithTimeout(cfg.CaptionTimeout))

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.MustBotToken())
	if err != nil {
		log.WithError(err).Fatal("telegram: init bot")
	}
	bot.Debug = false
	log.Infof("authorized as @%s, caption service %s", bot.Self.UserName, client.BaseURL)

	r := &telegram.Router{
		Bot:          bot,
		Backend:      client,
		Models:       caption.NewModelCache(client),
		HistoryLimit: cfg.HistoryLimit,
		Limiter:      rate.NewLimiter(rate.Limit(cfg.SendRate), 1),
	}

	// --- HTTP: /healthz, /metrics (+ webhook) ---
	ops := httpserver.New("caption-bot", func(ctx context.Context) error {
		h, err := client.Health(ctx)
		if err != nil {
			return err
		}
		if !h.Healthy() {
			return fmt.Errorf("status %q", h.Status)
		}
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := "0.0.0.0:" + cfg.Port

	// --- Choose mode: Webhook vs Polling ---
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		startWebhookMode(bot, r, ops, webhookURL)
	} else {
		go runPolling(ctx, bot, r.HandleUpdate)
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		serve(ctx, addr, ops, stop)
	}()

	<-ctx.Done()
	log.Info("shutting down, waiting for the http server and pending ratings")
	<-served
	r.Close()
}

func serve(ctx context.Context, addr string, h http.Handler, stop context.CancelFunc) {
	if err := httpserver.StartHTTP(ctx, addr, h); err != nil {
		log.WithError(err).Error("http server stopped")
		stop()
	}
}

// ---------------- Modes -----------------

func startWebhookMode(bot *tgbotapi.BotAPI, r *telegram.Router, ops *gin.Engine, baseURL string) {
	// секретный путь вебхука
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		log.WithError(err).Fatal("webhook: bad url")
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		log.WithError(err).Fatal("webhook: register")
	}

	ops.POST(path, func(c *gin.Context) {
		upd, err := bot.HandleUpdate(c.Request)
		if err != nil {
			log.WithError(err).Warn("webhook: bad update")
			c.Status(http.StatusBadRequest)
			return
		}
		r.HandleUpdate(*upd)
		c.Status(http.StatusOK)
	})
	log.Infof("webhook registered at %s", path)
}

// ---------------- Polling loop -----------------

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 от Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

func clampDelay(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, handle func(tgbotapi.Update)) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			log.Info("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling, сек

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := clampDelay(retryDelayFromError(err), baseDelay, maxDelay)
			log.WithError(err).Warnf("polling error, retry in %v", d)
			sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 {
			sleep(ctx, 200*time.Millisecond)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// ---------------- Helpers -----------------

func shortHash(s string) string {
	// FNV-1a, стабильный путь вебхука для токена
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return fmt.Sprintf("%016x", h)
}
