package telegram

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"caption-bot/api/internal/caption"
	"caption-bot/api/internal/workflow"
)

const maxMessageLen = 3900

// Bot is the part of *tgbotapi.BotAPI the router talks to.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Backend is the caption service as the bot sees it; *caption.Client satisfies it.
type Backend interface {
	workflow.Service
	caption.HistoryFetcher
	caption.RegistryFetcher
	FetchImageRatings(ctx context.Context, imageID string) (caption.ImageRatings, error)
	Health(ctx context.Context) (caption.HealthStatus, error)
}

// Router turns Telegram updates into workflow calls. Every chat gets its own workflow.
type Router struct {
	Bot          Bot
	Backend      Backend
	Models       *caption.ModelCache
	HistoryLimit int
	Limiter      *rate.Limiter // nil = без ограничения
	HTTP         *http.Client  // скачивание файлов Telegram

	sessions sync.Map // chatID -> *session
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(upd.CallbackQuery)
		return
	}
	msg := upd.Message
	if msg == nil {
		return
	}

	switch {
	case msg.IsCommand():
		go r.HandleCommand(msg)
	case len(msg.Photo) > 0:
		r.acceptPhoto(msg)
	case msg.Document != nil:
		r.acceptDocument(msg)
	default:
		r.send(msg.Chat.ID, hintText)
	}
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		// каждый заход в "вид" обновляет реестр моделей
		if _, err := r.Models.Refresh(ctx); err != nil {
			log.WithField("chat_id", cid).WithError(err).Warn("model registry refresh failed")
		}
		r.send(cid, startText(r.Models))

	case "models":
		reg, err := r.Models.Refresh(ctx)
		if err != nil {
			r.send(cid, "❌ "+userMessage(err))
			return
		}
		r.send(cid, modelsText(reg))

	case "history":
		limit := r.HistoryLimit
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				r.send(cid, "Usage: /history [limit]")
				return
			}
			limit = n
		}
		sum, err := r.session(cid).history.Load(ctx, limit)
		if err != nil {
			r.send(cid, "❌ "+userMessage(err))
			return
		}
		r.send(cid, historyText(sum))

	case "ratings":
		if len(args) == 0 {
			r.send(cid, "Usage: /ratings <image_id>")
			return
		}
		rs, err := r.Backend.FetchImageRatings(ctx, args[0])
		if err != nil {
			r.send(cid, "❌ "+userMessage(err))
			return
		}
		r.send(cid, ratingsText(rs))

	case "reset":
		r.session(cid).wf.Reset()
		r.send(cid, resetText)

	case "health":
		h, err := r.Backend.Health(ctx)
		if err != nil {
			r.send(cid, "❌ Caption service unavailable: "+userMessage(err))
			return
		}
		if !h.Healthy() {
			r.send(cid, "⚠️ Caption service status: "+h.Status)
			return
		}
		r.send(cid, "✅ Caption service is healthy")

	default:
		r.send(cid, "Unknown command. Try /help")
	}
}

// Close drops every chat's workflow and waits for pending rating submissions.
func (r *Router) Close() {
	r.sessions.Range(func(k, v any) bool {
		s := v.(*session)
		s.unsub()
		s.wf.Close()
		r.sessions.Delete(k)
		return true
	})
}

func (r *Router) sendMsg(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(context.Background()); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	m, err := r.Bot.Send(c)
	if err != nil {
		log.WithError(err).Warn("telegram send failed")
	}
	return m, err
}

func (r *Router) send(chatID int64, text string) {
	_, _ = r.sendMsg(tgbotapi.NewMessage(chatID, clip(text)))
}

func (r *Router) ack(callbackID, text string) {
	if _, err := r.Bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		log.WithError(err).Debug("callback ack failed")
	}
}

func clip(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	return strings.ToValidUTF8(s[:maxMessageLen], "") + "…"
}
