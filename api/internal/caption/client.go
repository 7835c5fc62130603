package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"caption-bot/api/internal/metrics"
	"caption-bot/api/internal/util"
)

const (
	DefaultBaseURL = "http://localhost:5001"
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 4 << 20
)

// Client is a typed wrapper over the caption service. Each call is a single round trip;
// retries are the caller's decision.
type Client struct {
	BaseURL string
	httpc   *http.Client
	log     log.Interface
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpc = hc
		}
	}
}

// WithTimeout bounds every call; an expired call surfaces as KindTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			return
		}
		hc := *c.httpc
		hc.Timeout = d
		c.httpc = &hc
	}
}

func WithLogger(l log.Interface) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: DefaultTimeout},
		log:     log.Log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ----- wire types -----

type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

type generateResponse struct {
	Caption string `json:"caption"`
	ImageID string `json:"image_id"`
	Model   string `json:"model"`
}

type modelsResponse struct {
	Models  []ModelDescriptor `json:"models"`
	Current string            `json:"current_model"`
}

// GenerateCaption uploads the candidate as multipart field "image".
func (c *Client) GenerateCaption(ctx context.Context, cand ImageCandidate) (CaptionResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(uploadFilename(cand))))
	h.Set("Content-Type", cand.MediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return CaptionResult{}, newServiceError(OpGenerate, KindTransport, 0, "", fmt.Errorf("multipart: %w", err))
	}
	if _, err := part.Write(cand.Data); err != nil {
		return CaptionResult{}, newServiceError(OpGenerate, KindTransport, 0, "", fmt.Errorf("multipart: %w", err))
	}
	if err := mw.Close(); err != nil {
		return CaptionResult{}, newServiceError(OpGenerate, KindTransport, 0, "", fmt.Errorf("multipart: %w", err))
	}

	req, err := c.newRequest(ctx, OpGenerate, http.MethodPost, "/api/caption", &buf)
	if err != nil {
		return CaptionResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out generateResponse
	if err := c.do(req, OpGenerate, &out); err != nil {
		return CaptionResult{}, err
	}
	if strings.TrimSpace(out.ImageID) == "" {
		return CaptionResult{}, newServiceError(OpGenerate, KindDecode, 0, "", errors.New("response has no image_id"))
	}
	return CaptionResult{ImageID: out.ImageID, Caption: out.Caption, Model: out.Model}, nil
}

// SubmitRating returns only an acknowledgement.
func (c *Client) SubmitRating(ctx context.Context, r RatingSubmission) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return newServiceError(OpRate, KindTransport, 0, "", err)
	}
	req, err := c.newRequest(ctx, OpRate, http.MethodPost, "/api/rate", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, OpRate, nil)
}

// FetchHistory sends limit as given; use ClampHistoryLimit before calling.
func (c *Client) FetchHistory(ctx context.Context, limit int) (HistoryPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	req, err := c.newRequest(ctx, OpHistory, http.MethodGet, "/api/history?"+q.Encode(), nil)
	if err != nil {
		return HistoryPage{}, err
	}
	var out HistoryPage
	if err := c.do(req, OpHistory, &out); err != nil {
		return HistoryPage{}, err
	}
	if out.Entries == nil {
		out.Entries = []HistoryEntry{}
	}
	return out, nil
}

func (c *Client) FetchImageRatings(ctx context.Context, imageID string) (ImageRatings, error) {
	req, err := c.newRequest(ctx, OpImageRatings, http.MethodGet,
		"/api/history/"+url.PathEscape(imageID)+"/ratings", nil)
	if err != nil {
		return ImageRatings{}, err
	}
	var out ImageRatings
	if err := c.do(req, OpImageRatings, &out); err != nil {
		return ImageRatings{}, err
	}
	if out.ImageID == "" {
		out.ImageID = imageID
	}
	return out, nil
}

func (c *Client) FetchModelRegistry(ctx context.Context) (ModelRegistry, error) {
	req, err := c.newRequest(ctx, OpModels, http.MethodGet, "/api/models", nil)
	if err != nil {
		return ModelRegistry{}, err
	}
	var out modelsResponse
	if err := c.do(req, OpModels, &out); err != nil {
		return ModelRegistry{}, err
	}
	return ModelRegistry{Models: out.Models, CurrentModelID: out.Current}, nil
}

func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := c.newRequest(ctx, OpHealth, http.MethodGet, "/health", nil)
	if err != nil {
		return HealthStatus{}, err
	}
	var out HealthStatus
	if err := c.do(req, OpHealth, &out); err != nil {
		return HealthStatus{}, err
	}
	return out, nil
}

// ----- transport -----

func (c *Client) newRequest(ctx context.Context, op, method, pathAndQuery string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+pathAndQuery, body)
	if err != nil {
		return nil, newServiceError(op, KindTransport, 0, "", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	started := time.Now()
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	entry := c.log.WithFields(log.Fields{"op": op, "request_id": reqID})

	fail := func(se *ServiceError) error {
		metrics.ObserveRequest(op, string(se.Kind), started)
		entry.WithFields(log.Fields{
			"kind":        se.Kind,
			"status":      se.Status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).WithError(se).Warn("caption service call failed")
		return se
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fail(transportError(req.Context(), op, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(transportError(req.Context(), op, err))
	}

	// тело ошибки может быть не JSON (прокси, 502), тогда просто нет сообщения
	var env envelope
	_ = json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(newServiceError(op, KindHTTP, resp.StatusCode, env.Error,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 300))))
	}
	if env.Success != nil && !*env.Success {
		return fail(newServiceError(op, KindRejected, resp.StatusCode, env.Error, nil))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fail(newServiceError(op, KindDecode, resp.StatusCode, "", fmt.Errorf("decode: %w", err)))
		}
	}

	metrics.ObserveRequest(op, "ok", started)
	entry.WithFields(log.Fields{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("caption service call completed")
	return nil
}

func transportError(ctx context.Context, op string, err error) *ServiceError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newServiceError(op, KindTimeout, 0, "The caption service did not respond in time", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newServiceError(op, KindTimeout, 0, "The caption service did not respond in time", err)
	}
	return newServiceError(op, KindTransport, 0, "", err)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Сервис проверяет расширение файла, поэтому имя без расширения дополняем по MIME.
func uploadFilename(c ImageCandidate) string {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = "image"
	}
	if path.Ext(name) != "" {
		return name
	}
	if ext := util.ExtForMIME(normalizeType(c.MediaType)); ext != "" {
		return name + ext
	}
	return name + ".jpg"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// обрезка могла попасть в середину руны
	return strings.ToValidUTF8(s[:n], "") + "…"
}
