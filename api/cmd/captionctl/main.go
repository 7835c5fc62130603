// Command captionctl drives the caption service from a terminal.
//
//	captionctl [-url URL] [-timeout 60s] caption [-rate N] image.jpg
//	captionctl rate <image_id> <rating> <caption...>
//	captionctl history [-limit N]
//	captionctl ratings <image_id>
//	captionctl models
//	captionctl health
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"

	"caption-bot/api/internal/caption"
	"caption-bot/api/internal/config"
	"caption-bot/api/internal/util"
	"caption-bot/api/internal/workflow"
)

var errUsage = errors.New("usage")

func main() {
	log.SetHandler(text.New(os.Stderr))
	cfg := config.Load()
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code: 0 ok, 1 operation failed, 2 bad usage.
func run(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("captionctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("url", cfg.CaptionAPIURL, "caption service base URL (env CAPTION_API_URL)")
	timeout := fs.Duration("timeout", cfg.CaptionTimeout, "per-request timeout (env CAPTION_TIMEOUT)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: captionctl [flags] caption|rate|history|ratings|models|health [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	client := caption.NewClient(*baseURL, caption.WithTimeout(*timeout))
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	var err error
	switch cmd {
	case "caption":
		err = cmdCaption(ctx, client, rest, stdout, stderr)
	case "rate":
		err = cmdRate(ctx, client, rest, stdout)
	case "history":
		err = cmdHistory(ctx, client, cfg.HistoryLimit, rest, stdout, stderr)
	case "ratings":
		err = cmdRatings(ctx, client, rest, stdout)
	case "models":
		err = cmdModels(ctx, client, stdout)
	case "health":
		err = cmdHealth(ctx, client, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stderr, err)
		return 2
	default:
		fmt.Fprintln(stderr, "error:", describe(err))
		return 1
	}
}

func cmdCaption(ctx context.Context, client *caption.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("caption", flag.ContinueOnError)
	fs.SetOutput(stderr)
	rating := fs.Int("rate", 0, "rate the caption 1..5 right away")
	mediaType := fs.String("type", "", "declared media type (default: from file extension)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: captionctl caption [-rate N] [-type MIME] <image>", errUsage)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: captionctl caption [-rate N] [-type MIME] <image>", errUsage)
	}

	path := fs.Arg(0)
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	cand := caption.ImageCandidate{
		Name:      filepath.Base(path),
		MediaType: util.DeclaredMIME(*mediaType, path),
		Size:      st.Size(),
	}
	// чтение только после проверки типа и размера
	if caption.Validate(cand) == nil {
		if cand.Data, err = os.ReadFile(path); err != nil {
			return err
		}
	}

	models := caption.NewModelCache(client)
	if _, err := models.Refresh(ctx); err == nil {
		fmt.Fprintln(stderr, models.Latency().Label)
	}

	wf := workflow.New(client)
	defer wf.Close()

	if err := wf.Select(ctx, cand); err != nil {
		return err
	}
	res := wf.State().Result
	fmt.Fprintf(stdout, "caption:  %s\nimage_id: %s\nmodel:    %s\n", res.Caption, res.ImageID, res.Model)

	if *rating == 0 {
		return nil
	}
	if err := wf.Rate(ctx, res.ImageID, *rating); err != nil {
		return err
	}
	wf.Wait()
	if s := wf.State(); s.Err != nil {
		return s.Err
	}
	fmt.Fprintf(stdout, "rated:    %d\n", *rating)
	return nil
}

func cmdRate(ctx context.Context, client *caption.Client, args []string, stdout io.Writer) error {
	if len(args) < 3 {
		return fmt.Errorf("%w: captionctl rate <image_id> <rating> <caption...>", errUsage)
	}
	v, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("%w: rating must be an integer", errUsage)
	}
	if err := caption.ValidateRating(v); err != nil {
		return err
	}
	sub := caption.RatingSubmission{ImageID: args[0], Caption: strings.Join(args[2:], " "), Value: v}
	if err := client.SubmitRating(ctx, sub); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "rated %s: %d\n", sub.ImageID, v)
	return nil
}

func cmdHistory(ctx context.Context, client *caption.Client, def int, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", def, "entries to fetch (1..100)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: captionctl history [-limit N]", errUsage)
	}

	sum, err := caption.NewHistoryBoard(client).Load(ctx, *limit)
	if err != nil {
		return err
	}
	if sum.Empty() {
		fmt.Fprintln(stdout, "No history yet")
		return nil
	}
	if sum.HasTotal() {
		fmt.Fprintf(stdout, "total:   %d\n", sum.TotalRecords)
	}
	if sum.HasRatings() {
		fmt.Fprintf(stdout, "average: %s\n", sum.AverageLabel())
	}
	for _, e := range sum.Entries {
		model := e.Model
		if model == "" {
			model = "Unknown Model"
		}
		ts := "-"
		if !e.CreatedAt.IsZero() {
			ts = e.CreatedAt.Format(time.DateTime)
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", e.ImageID, ts, model, e.Caption)
	}
	return nil
}

func cmdRatings(ctx context.Context, client *caption.Client, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: captionctl ratings <image_id>", errUsage)
	}
	rs, err := client.FetchImageRatings(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d rating(s)\n", rs.ImageID, rs.Count)
	for _, r := range rs.Ratings {
		fmt.Fprintf(stdout, "%d\t%d\t%s\n", r.RatingID, r.Rating, r.CreatedAt.Format(time.DateTime))
	}
	return nil
}

func cmdModels(ctx context.Context, client *caption.Client, stdout io.Writer) error {
	models := caption.NewModelCache(client)
	reg, err := models.Refresh(ctx)
	if err != nil {
		return err
	}
	for _, m := range reg.Models {
		mark := " "
		if m.ID == reg.CurrentModelID {
			mark = "*"
		}
		key := ""
		if m.RequiresAPIKey {
			key = "\trequires API key"
		}
		fmt.Fprintf(stdout, "%s %s\t%s\t%s%s\n", mark, m.ID, m.Type, m.Name, key)
	}
	if _, ok := models.Current(); ok {
		fmt.Fprintln(stdout, models.Latency().Label)
	}
	return nil
}

func cmdHealth(ctx context.Context, client *caption.Client, stdout io.Writer) error {
	h, err := client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, h.Status)
	if !h.Healthy() {
		return fmt.Errorf("caption service reports %q", h.Status)
	}
	return nil
}

func describe(err error) string {
	var ve *caption.ValidationError
	if errors.As(err, &ve) {
		return ve.Notice()
	}
	var se *caption.ServiceError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
