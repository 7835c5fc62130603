package testutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

// Upload is one multipart image received by the fake /api/caption.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type RatingRequest struct {
	ImageID string `json:"image_id"`
	Caption string `json:"caption"`
	Rating  int    `json:"rating"`
}

type (
	CaptionHandler func(ctx context.Context, n int, up Upload) (int, any)
	RateHandler    func(req RatingRequest) (int, any)
	HistoryHandler func(limit string) (int, any)
	RatingsHandler func(imageID string) (int, any)
	StaticHandler  func() (int, any)
)

// FakeService is an in-process caption service recording every call.
type FakeService struct {
	URL string

	mu      sync.Mutex
	calls   []string
	uploads []Upload
	ratings []RatingRequest
	files   map[string][]byte

	onCaption CaptionHandler
	onRate    RateHandler
	onHistory HistoryHandler
	onRatings RatingsHandler
	onModels  StaticHandler
	onHealth  StaticHandler
}

// NewFakeService starts the service; it is closed with the test.
func NewFakeService(t *testing.T) *FakeService {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &FakeService{
		files:     map[string][]byte{},
		onCaption: DefaultCaption,
		onRate: func(req RatingRequest) (int, any) {
			return http.StatusCreated, gin.H{"success": true, "rating_id": 1, "message": "Rating submitted successfully"}
		},
		onHistory: func(string) (int, any) {
			return http.StatusOK, gin.H{"success": true, "history": []any{}, "total_records": 0, "average_rating": 0}
		},
		onRatings: func(id string) (int, any) {
			return http.StatusOK, gin.H{"success": true, "image_id": id, "ratings": []any{}, "count": 0}
		},
		onModels: DefaultModels,
		onHealth: func() (int, any) { return http.StatusOK, gin.H{"status": "healthy"} },
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		f.mu.Lock()
		f.calls = append(f.calls, c.Request.Method+" "+c.Request.URL.Path)
		f.mu.Unlock()
		c.Next()
	})
	r.POST("/api/caption", f.handleCaption)
	r.POST("/api/rate", f.handleRate)
	r.GET("/api/history", func(c *gin.Context) {
		f.mu.Lock()
		h := f.onHistory
		f.mu.Unlock()
		c.JSON(h(c.Query("limit")))
	})
	r.GET("/api/history/:id/ratings", func(c *gin.Context) {
		f.mu.Lock()
		h := f.onRatings
		f.mu.Unlock()
		c.JSON(h(c.Param("id")))
	})
	r.GET("/api/models", func(c *gin.Context) {
		f.mu.Lock()
		h := f.onModels
		f.mu.Unlock()
		c.JSON(h())
	})
	r.GET("/health", func(c *gin.Context) {
		f.mu.Lock()
		h := f.onHealth
		f.mu.Unlock()
		c.JSON(h())
	})
	r.GET("/files/:name", func(c *gin.Context) {
		f.mu.Lock()
		b, ok := f.files[c.Param("name")]
		f.mu.Unlock()
		if !ok {
			c.Status(http.StatusNotFound)
			return
		}
		c.Data(http.StatusOK, "application/octet-stream", b)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	f.URL = srv.URL
	return f
}

// DefaultCaption answers like the service does for a BLIP backend.
func DefaultCaption(_ context.Context, n int, _ Upload) (int, any) {
	return http.StatusOK, gin.H{
		"success":  true,
		"caption":  "a dog on a beach",
		"image_id": fmt.Sprintf("img-%d", n),
		"model":    "blip",
	}
}

func DefaultModels() (int, any) {
	return http.StatusOK, gin.H{
		"success": true,
		"models": []gin.H{
			{
				"id":          "blip",
				"name":        "Salesforce BLIP Image Captioning",
				"full_name":   "Salesforce/blip-image-captioning-base",
				"description": "Image captioning pretrained on COCO.",
				"provider":    "Hugging Face",
				"type":        "local",
			},
			{
				"id":               "gemini",
				"name":             "Gemini 2.5 Flash",
				"full_name":        "gemini-2.5-flash",
				"description":      "Vision-language model with fast inference.",
				"provider":         "Google",
				"type":             "api",
				"requires_api_key": true,
			},
		},
		"current_model": "blip",
	}
}

func (f *FakeService) handleCaption(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided"})
		return
	}
	file, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	up := Upload{Filename: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}

	f.mu.Lock()
	f.uploads = append(f.uploads, up)
	n := len(f.uploads)
	h := f.onCaption
	f.mu.Unlock()

	c.JSON(h(c.Request.Context(), n, up))
}

func (f *FakeService) handleRate(c *gin.Context) {
	var req RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data provided"})
		return
	}
	f.mu.Lock()
	f.ratings = append(f.ratings, req)
	h := f.onRate
	f.mu.Unlock()
	c.JSON(h(req))
}

func (f *FakeService) OnCaption(h CaptionHandler) { f.mu.Lock(); f.onCaption = h; f.mu.Unlock() }
func (f *FakeService) OnRate(h RateHandler)       { f.mu.Lock(); f.onRate = h; f.mu.Unlock() }
func (f *FakeService) OnHistory(h HistoryHandler) { f.mu.Lock(); f.onHistory = h; f.mu.Unlock() }
func (f *FakeService) OnRatings(h RatingsHandler) { f.mu.Lock(); f.onRatings = h; f.mu.Unlock() }
func (f *FakeService) OnModels(h StaticHandler)   { f.mu.Lock(); f.onModels = h; f.mu.Unlock() }
func (f *FakeService) OnHealth(h StaticHandler)   { f.mu.Lock(); f.onHealth = h; f.mu.Unlock() }

// AddFile serves b at /files/<name>; returns the absolute URL.
func (f *FakeService) AddFile(name string, b []byte) string {
	f.mu.Lock()
	f.files[name] = b
	f.mu.Unlock()
	return f.URL + "/files/" + name
}

func (f *FakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts calls matching "METHOD /path".
func (f *FakeService) CallCount(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *FakeService) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

func (f *FakeService) Ratings() []RatingRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RatingRequest(nil), f.ratings...)
}

// Error is the service's error body.
func Error(msg string) gin.H { return gin.H{"error": msg} }
