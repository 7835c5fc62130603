package telegram

import (
	"context"
	"errors"
	"strconv"

	"github.com/apex/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"caption-bot/api/internal/caption"
	"caption-bot/api/internal/workflow"
)

func (r *Router) handleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		r.ack(cb.ID, "")
		return
	}
	cid := cb.Message.Chat.ID
	act, ok := parseCallback(cb.Data)
	if !ok {
		log.WithFields(log.Fields{"chat_id": cid, "data": cb.Data}).Warn("unknown callback data")
		r.ack(cb.ID, "")
		return
	}
	s := r.session(cid)

	switch act.Kind {
	case cbRate:
		err := s.wf.Rate(context.Background(), act.ImageID, act.Value)
		r.ack(cb.ID, rateAckText(err, act.Value))

	case cbRetry:
		st := s.wf.State()
		if !st.CanRetry() || st.Generation != act.Generation {
			r.ack(cb.ID, "Nothing to retry")
			return
		}
		r.ack(cb.ID, "")
		go func() {
			if err := s.wf.Retry(context.Background()); err != nil {
				log.WithField("chat_id", cid).WithError(err).Debug("retry ended with error")
			}
		}()

	case cbReset:
		s.wf.Reset()
		r.ack(cb.ID, "")
		r.send(cid, resetText)
	}
}

func rateAckText(err error, v int) string {
	var ve *caption.ValidationError
	switch {
	case err == nil:
		return "Rated " + strconv.Itoa(v) + "⭐"
	case errors.Is(err, workflow.ErrAlreadyRated):
		return "You already rated this caption"
	case errors.Is(err, workflow.ErrStaleResult), errors.Is(err, workflow.ErrNoResult):
		return "This caption is no longer active"
	case errors.As(err, &ve):
		return ve.Notice()
	default:
		return err.Error()
	}
}
