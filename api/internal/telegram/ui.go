package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"caption-bot/api/internal/caption"
)

const (
	hintText  = "Send me a JPEG or PNG image (up to 10MB) and I'll write a caption for it."
	resetText = "🔄 Cleared. Send another image whenever you're ready."

	dateLayout = "Jan 2, 2006 15:04"
)

const (
	cbRate  = "rate"
	cbRetry = "retry"
	cbReset = "reset"
)

type callbackAction struct {
	Kind       string
	ImageID    string
	Value      int
	Generation uint64
}

func rateData(imageID string, v int) string { return cbRate + ":" + imageID + ":" + strconv.Itoa(v) }
func retryData(gen uint64) string { return cbRetry + ":" + strconv.FormatUint(gen, 10) }

// parseCallback разбирает callback_data: "rate:<image_id>:<n>", "retry:<gen>", "reset".
func parseCallback(data string) (callbackAction, bool) {
	kind, rest, _ := strings.Cut(data, ":")
	switch kind {
	case cbReset:
		return callbackAction{Kind: cbReset}, rest == ""
	case cbRetry:
		gen, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return callbackAction{}, false
		}
		return callbackAction{Kind: cbRetry, Generation: gen}, true
	case cbRate:
		i := strings.LastIndexByte(rest, ':')
		if i <= 0 {
			return callbackAction{}, false
		}
		v, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return callbackAction{}, false
		}
		return callbackAction{Kind: cbRate, ImageID: rest[:i], Value: v}, true
	}
	return callbackAction{}, false
}

func ratingKeyboard(imageID string) tgbotapi.InlineKeyboardMarkup {
	stars := make([]tgbotapi.InlineKeyboardButton, 0, caption.MaxRating)
	for v := caption.MinRating; v <= caption.MaxRating; v++ {
		stars = append(stars, tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(v)+"⭐", rateData(imageID, v)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(stars...),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Generate another", cbReset)),
	)
}

func retryKeyboard(gen uint64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔁 Try again", retryData(gen)),
		tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", cbReset),
	))
}

func resetKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔄 Generate another", cbReset),
	))
}

// noKeyboard убирает кнопки; пустой InlineKeyboardMarkup{} уходит как null и Telegram его не принимает.
func noKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
}

// userMessage is what a chat sees for err.
func userMessage(err error) string {
	var se *caption.ServiceError
	if errors.As(err, &se) {
		return se.Message
	}
	var ve *caption.ValidationError
	if errors.As(err, &ve) {
		return ve.Notice()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func startText(models *caption.ModelCache) string {
	var b strings.Builder
	b.WriteString("👋 Send me a photo or a JPEG/PNG file and I'll caption it.\n")
	b.WriteString("Rate the caption with the star buttons to help improve it.\n\n")
	b.WriteString("Commands:\n")
	b.WriteString("/history [n] - recent captions\n")
	b.WriteString("/ratings <image_id> - ratings for one image\n")
	b.WriteString("/models - available models\n")
	b.WriteString("/reset - start over\n")
	b.WriteString("/health - caption service status")
	if m, ok := models.Current(); ok {
		fmt.Fprintf(&b, "\n\nCurrent model: %s (%s)\n%s", m.Name, typeBadge(m.Type), models.Latency().Label)
	}
	return b.String()
}

func generatingText(l caption.Latency) string {
	return "⏳ Generating caption...\n" + l.Label
}

func captionText(res caption.CaptionResult) string {
	return fmt.Sprintf("📝 Caption:\n\n%s\n\nModel: %s\n\nHow accurate is this caption?", res.Caption, res.Model)
}

func ratedText(v int) string {
	s := "s"
	if v == 1 {
		s = ""
	}
	return fmt.Sprintf("✅ Thank you for your feedback!\nYou rated this caption %d star%s", v, s)
}

func typeBadge(t caption.ModelType) string {
	if t == caption.ModelRemote {
		return "☁️ API"
	}
	return "📦 Local"
}

func modelsText(reg caption.ModelRegistry) string {
	if len(reg.Models) == 0 {
		return "No models reported by the caption service."
	}
	var b strings.Builder
	b.WriteString("🤖 Models\n")
	for _, m := range reg.Models {
		mark := "•"
		if m.ID == reg.CurrentModelID {
			mark = "✅"
		}
		fmt.Fprintf(&b, "\n%s %s [%s]\n   %s", mark, m.Name, m.ID, typeBadge(m.Type))
		if m.Provider != "" {
			b.WriteString(" · " + m.Provider)
		}
		if m.RequiresAPIKey {
			b.WriteString(" · 🔑 Requires API key")
		}
		if d := strings.TrimSpace(m.Description); d != "" {
			b.WriteString("\n   " + d)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func historyText(sum caption.HistorySummary) string {
	if sum.Empty() {
		return "📚 No history yet\nStart by generating some captions!"
	}
	var b strings.Builder
	b.WriteString("📚 Caption history\n")
	if sum.HasTotal() {
		fmt.Fprintf(&b, "Total captions: %d\n", sum.TotalRecords)
	}
	if sum.HasRatings() {
		fmt.Fprintf(&b, "Average rating: %s ⭐\n", sum.AverageLabel())
	}
	for i, e := range sum.Entries {
		model := e.Model
		if model == "" {
			model = "Unknown Model"
		}
		fmt.Fprintf(&b, "\n%d. %s\n   %s", i+1, e.Caption, model)
		if !e.CreatedAt.IsZero() {
			b.WriteString(" · " + e.CreatedAt.Format(dateLayout))
		}
		b.WriteString("\n   ID: " + e.ImageID + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func ratingsText(rs caption.ImageRatings) string {
	if len(rs.Ratings) == 0 {
		return "No ratings for " + rs.ImageID + " yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⭐ Ratings for %s (%d)\n", rs.ImageID, rs.Count)
	for _, r := range rs.Ratings {
		fmt.Fprintf(&b, "\n%s %d/5", strings.Repeat("★", max(0, min(r.Rating, caption.MaxRating))), r.Rating)
		if !r.CreatedAt.IsZero() {
			b.WriteString(" · " + r.CreatedAt.Format(dateLayout))
		}
	}
	return b.String()
}
