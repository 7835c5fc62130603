package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apex/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"caption-bot/api/internal/caption"
	"caption-bot/api/internal/util"
)

const (
	downloadTimeout = 60 * time.Second

	downloadFailedNotice = "Could not download the image from Telegram. Please send it again."
)

// acceptPhoto submits the largest size of a photo. Telegram re-encodes photos as JPEG.
func (r *Router) acceptPhoto(msg *tgbotapi.Message) {
	ph := msg.Photo[len(msg.Photo)-1]
	r.accept(msg.Chat.ID, ph.FileID, caption.ImageCandidate{
		Name:      ph.FileUniqueID + ".jpg",
		MediaType: "image/jpeg",
		Size:      int64(ph.FileSize),
	})
}

// acceptDocument submits a file sent "as a document"; its declared type decides acceptance.
func (r *Router) acceptDocument(msg *tgbotapi.Message) {
	doc := msg.Document
	r.accept(msg.Chat.ID, doc.FileID, caption.ImageCandidate{
		Name:      doc.FileName,
		MediaType: util.DeclaredMIME(doc.MimeType, doc.FileName),
		Size:      int64(doc.FileSize),
	})
}

// accept starts the chat's next cycle while the update is still being dispatched, so the
// newest message wins no matter which download finishes first.
func (r *Router) accept(chatID int64, fileID string, cand caption.ImageCandidate) {
	s := r.session(chatID)
	gen := s.wf.Begin()
	go r.submit(s, gen, fileID, cand)
}

func (r *Router) submit(s *session, gen uint64, fileID string, cand caption.ImageCandidate) {
	ctx := context.Background()
	l := log.WithFields(log.Fields{
		"chat_id":    s.chatID,
		"generation": gen,
		"file":       cand.Name,
		"type":       cand.MediaType,
	})

	// отклонённые файлы не скачиваем: SelectAt сам выставит уведомление
	if caption.Validate(cand) == nil {
		if s.wf.State().Generation != gen {
			l.Debug("selection superseded before download")
			return
		}
		data, err := r.download(ctx, fileID)
		if err != nil {
			l.WithError(err).Warn("telegram file download failed")
			s.wf.Abort(gen, downloadFailedNotice)
			return
		}
		cand.Data = data
	}

	if err := s.wf.SelectAt(ctx, gen, cand); err != nil {
		l.WithError(err).Debug("submission ended with error")
	}
}

func (r *Router) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file url: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	// на байт больше лимита, чтобы валидатор увидел превышение
	return io.ReadAll(io.LimitReader(resp.Body, caption.MaxImageBytes+1))
}

func (r *Router) httpClient() *http.Client {
	if r.HTTP != nil {
		return r.HTTP
	}
	return &http.Client{Timeout: downloadTimeout}
}
