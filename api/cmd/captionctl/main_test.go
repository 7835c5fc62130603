package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caption-bot/api/internal/caption"
	"caption-bot/api/internal/config"
	"caption-bot/api/internal/testutil"
)

func runCLI(t *testing.T, svc *testutil.FakeService, args ...string) (int, string, string) {
	t.Helper()
	cfg := &config.Config{
		CaptionAPIURL:  svc.URL,
		CaptionTimeout: 5 * time.Second,
		HistoryLimit:   caption.DefaultHistoryLimit,
	}
	var out, errOut bytes.Buffer
	code := run(context.Background(), cfg, args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeFile(t *testing.T, name string, size int) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o600))
	return p
}

func TestCaptionAndRate(t *testing.T) {
	svc := testutil.NewFakeService(t)
	img := writeFile(t, "beach.png", 2048)

	code, out, _ := runCLI(t, svc, "caption", "-rate", "4", img)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "caption:  a dog on a beach")
	assert.Contains(t, out, "image_id: img-1")
	assert.Contains(t, out, "rated:    4")

	ups := svc.Uploads()
	require.Len(t, ups, 1)
	assert.Equal(t, "beach.png", ups[0].Filename)
	assert.Equal(t, "image/png", ups[0].ContentType)
	assert.Equal(t, []testutil.RatingRequest{{ImageID: "img-1", Caption: "a dog on a beach", Rating: 4}}, svc.Ratings())
}

func TestCaptionRejectsLocally(t *testing.T) {
	svc := testutil.NewFakeService(t)
	img := writeFile(t, "anim.gif", 10)

	code, _, errOut := runCLI(t, svc, "caption", img)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Please upload a JPEG or PNG image")
	assert.Zero(t, svc.CallCount("POST /api/caption"))
}

func TestCaptionRatingFailureReported(t *testing.T) {
	svc := testutil.NewFakeService(t)
	svc.OnRate(func(testutil.RatingRequest) (int, any) {
		return http.StatusInternalServerError, testutil.Error("database is locked")
	})
	img := writeFile(t, "beach.jpg", 10)

	code, out, errOut := runCLI(t, svc, "caption", "-rate", "5", img)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "image_id: img-1")
	assert.Contains(t, errOut, "database is locked")
}

func TestHistoryCommand(t *testing.T) {
	svc := testutil.NewFakeService(t)
	limits := make(chan string, 1)
	svc.OnHistory(func(limit string) (int, any) {
		limits <- limit
		return http.StatusOK, gin.H{
			"success":        true,
			"history":        []gin.H{{"image_id": "abc", "caption": "a cat", "model_used": "blip", "created_at": "2025-02-03T04:05:06"}},
			"total_records":  12,
			"average_rating": 4.25,
		}
	})

	code, out, _ := runCLI(t, svc, "history", "-limit", "0")
	require.Equal(t, 0, code)
	assert.Equal(t, "1", <-limits)
	assert.Contains(t, out, "total:   12")
	assert.Contains(t, out, "average: 4.3")
	assert.Contains(t, out, "abc\t2025-02-03 04:05:06\tblip\ta cat")
}

func TestModelsRatingsHealth(t *testing.T) {
	svc := testutil.NewFakeService(t)

	code, out, _ := runCLI(t, svc, "models")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "* blip\tlocal")
	assert.Contains(t, out, "  gemini\tremote\tGemini 2.5 Flash\trequires API key")
	assert.Contains(t, out, "This usually takes less than 5 seconds")

	code, out, _ = runCLI(t, svc, "ratings", "abc")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "abc: 0 rating(s)")

	code, out, _ = runCLI(t, svc, "health")
	require.Equal(t, 0, code)
	assert.Equal(t, "healthy\n", out)
}

func TestRateCommand(t *testing.T) {
	svc := testutil.NewFakeService(t)

	code, out, _ := runCLI(t, svc, "rate", "abc", "3", "a", "dog")
	require.Equal(t, 0, code)
	assert.Equal(t, "rated abc: 3\n", out)
	assert.Equal(t, []testutil.RatingRequest{{ImageID: "abc", Caption: "a dog", Rating: 3}}, svc.Ratings())

	code, _, _ = runCLI(t, svc, "rate", "abc", "9", "x")
	assert.Equal(t, 1, code)
	assert.Len(t, svc.Ratings(), 1)
}

func TestUsageErrors(t *testing.T) {
	svc := testutil.NewFakeService(t)

	code, _, _ := runCLI(t, svc)
	assert.Equal(t, 2, code)
	code, _, _ = runCLI(t, svc, "frobnicate")
	assert.Equal(t, 2, code)
	code, _, _ = runCLI(t, svc, "rate", "abc")
	assert.Equal(t, 2, code)
	code, _, _ = runCLI(t, svc, "ratings")
	assert.Equal(t, 2, code)
}
