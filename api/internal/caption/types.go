package caption

import (
	"encoding/json"
	"strings"
	"time"
)

// ImageCandidate: выбранное, но ещё не принятое изображение.
type ImageCandidate struct {
	Name      string // имя файла для multipart; может быть пустым
	MediaType string // заявленный MIME, например "image/jpeg"
	Size      int64  // заявленный размер; 0: берём len(Data)
	Data      []byte
}

// ByteSize returns the declared size, falling back to the payload length.
func (c ImageCandidate) ByteSize() int64 {
	if c.Size > 0 {
		return c.Size
	}
	return int64(len(c.Data))
}

// CaptionResult is only ever built from a generate response.
type CaptionResult struct {
	ImageID string `json:"image_id"`
	Caption string `json:"caption"`
	Model   string `json:"model"`
}

type RatingSubmission struct {
	ImageID string `json:"image_id"`
	Caption string `json:"caption"`
	Value   int    `json:"rating"`
}

const (
	MinRating = 1
	MaxRating = 5
)

// Timestamp accepts RFC 3339 as well as the zone-less ISO layout produced by the service.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			t.Time = ts
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

type HistoryEntry struct {
	ImageID   string    `json:"image_id"`
	Caption   string    `json:"caption"`
	Model     string    `json:"model_used"`
	CreatedAt Timestamp `json:"created_at"`
}

// HistoryPage: ответ /api/history как есть, порядок задаёт сервер.
type HistoryPage struct {
	Entries       []HistoryEntry `json:"history"`
	TotalRecords  int            `json:"total_records"`
	AverageRating float64        `json:"average_rating"`
}

type ImageRating struct {
	RatingID  int64     `json:"rating_id"`
	Caption   string    `json:"caption"`
	Rating    int       `json:"rating"`
	CreatedAt Timestamp `json:"created_at"`
}

type ImageRatings struct {
	ImageID string        `json:"image_id"`
	Ratings []ImageRating `json:"ratings"`
	Count   int           `json:"count"`
}

type HealthStatus struct {
	Status string `json:"status"`
}

func (h HealthStatus) Healthy() bool { return strings.EqualFold(h.Status, "healthy") }
