package telegram

import (
	"sync"

	"github.com/apex/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"caption-bot/api/internal/caption"
	"caption-bot/api/internal/workflow"
)

// session is one chat's view: its workflow, history board and the message whose inline
// keyboard is still live.
type session struct {
	chatID  int64
	wf      *workflow.Workflow
	history *caption.HistoryBoard
	unsub   func()

	mu   sync.Mutex
	live int // message id с активной клавиатурой, 0 если нет
}

func (s *session) setLive(id int) {
	s.mu.Lock()
	s.live = id
	s.mu.Unlock()
}

func (s *session) takeLive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.live
	s.live = 0
	return id
}

func (s *session) peekLive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (r *Router) session(chatID int64) *session {
	if v, ok := r.sessions.Load(chatID); ok {
		return v.(*session)
	}
	s := &session{
		chatID:  chatID,
		wf:      workflow.New(r.Backend, workflow.WithLogger(log.WithField("chat_id", chatID))),
		history: caption.NewHistoryBoard(r.Backend),
	}
	// подписка до публикации, чтобы не пропустить первый переход
	s.unsub = s.wf.Subscribe(func(st workflow.State) { r.render(s, st) })

	if v, loaded := r.sessions.LoadOrStore(chatID, s); loaded {
		s.unsub()
		return v.(*session)
	}
	return s
}

// render is the workflow observer.
func (r *Router) render(s *session, st workflow.State) {
	cid := s.chatID

	if st.Phase == workflow.Rated {
		if st.Notice != "" {
			r.send(cid, "⚠️ "+st.Notice)
			return
		}
		if id := s.peekLive(); id != 0 {
			_, _ = r.sendMsg(tgbotapi.NewEditMessageReplyMarkup(cid, id, resetKeyboard()))
		}
		r.send(cid, ratedText(st.Rating.Value))
		return
	}

	if id := s.takeLive(); id != 0 {
		_, _ = r.sendMsg(tgbotapi.NewEditMessageReplyMarkup(cid, id, noKeyboard()))
	}

	switch st.Phase {
	case workflow.Idle:
		if st.Notice != "" {
			r.send(cid, "⚠️ "+st.Notice)
		}

	case workflow.Generating:
		r.send(cid, generatingText(r.Models.Latency()))

	case workflow.Captioned:
		msg := tgbotapi.NewMessage(cid, clip(captionText(*st.Result)))
		msg.ReplyMarkup = ratingKeyboard(st.Result.ImageID)
		if sent, err := r.sendMsg(msg); err == nil {
			s.setLive(sent.MessageID)
		}

	case workflow.Failed:
		msg := tgbotapi.NewMessage(cid, "❌ "+userMessage(st.Err))
		msg.ReplyMarkup = retryKeyboard(st.Generation)
		if sent, err := r.sendMsg(msg); err == nil {
			s.setLive(sent.MessageID)
		}
	}
}
