package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apex/log"

	"caption-bot/api/internal/caption"
	"caption-bot/api/internal/metrics"
)

var (
	ErrNothingToRetry = errors.New("workflow: nothing to retry")
	ErrNoResult       = errors.New("workflow: no caption to rate")
	ErrAlreadyRated   = errors.New("workflow: caption already rated")
	ErrStaleResult    = errors.New("workflow: caption is no longer current")
)

const (
	defaultRatingTimeout = 30 * time.Second

	ratingFailedNotice = "Your rating could not be saved. Please try again later."
)

// Service is the part of the caption client the workflow drives.
type Service interface {
	GenerateCaption(ctx context.Context, c caption.ImageCandidate) (caption.CaptionResult, error)
	SubmitRating(ctx context.Context, r caption.RatingSubmission) error
}

type subscriber struct {
	id int
	fn func(State)
}

// Workflow sequences validation → generation → rating → reset for one view.
//
// Every generation gets a token; a response is applied only if its token is still the
// latest when it arrives, so a slow earlier request never overwrites a newer one.
// Observers are called in transition order, one at a time, without the workflow lock held.
// They may call any method; transitions they cause are delivered after they return.
type Workflow struct {
	svc           Service
	log           log.Interface
	ratingTimeout time.Duration

	mu         sync.Mutex
	state      State
	gen        uint64
	cancel     context.CancelFunc // отмена текущего generate
	subs       []subscriber
	nextSub    int
	pending    []State // ещё не доставленные переходы
	delivering bool

	ratings sync.WaitGroup
}

type Option func(*Workflow)

func WithLogger(l log.Interface) Option {
	return func(w *Workflow) {
		if l != nil {
			w.log = l
		}
	}
}

// WithRatingTimeout bounds the background rating submission.
func WithRatingTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.ratingTimeout = d
		}
	}
}

func New(svc Service, opts ...Option) *Workflow {
	w := &Workflow{
		svc:           svc,
		log:           log.Log,
		ratingTimeout: defaultRatingTimeout,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Subscribe registers fn for every subsequent transition.
func (w *Workflow) Subscribe(fn func(State)) (cancel func()) {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs = append(w.subs, subscriber{id: id, fn: fn})
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, s := range w.subs {
			if s.id == id {
				w.subs = append(w.subs[:i:i], w.subs[i+1:]...)
				return
			}
		}
	}
}

// Select starts a new cycle for c. A rejected candidate returns *caption.ValidationError and
// leaves the workflow Idle without any request. Otherwise Select blocks for the caption call:
// it returns *caption.ServiceError on failure, or nil on success. If a newer Select, Retry or
// Reset supersedes this call before it resolves, its response is dropped and Select returns nil.
func (w *Workflow) Select(ctx context.Context, c caption.ImageCandidate) error {
	return w.SelectAt(ctx, w.Begin(), c)
}

// Begin starts a new cycle whose candidate is not available yet and returns its token.
// Whatever was in flight is superseded immediately. Finish the cycle with SelectAt or Abort.
func (w *Workflow) Begin() uint64 {
	w.mu.Lock()
	gen := w.bumpLocked()
	w.commit(State{Phase: Validating, Generation: gen})
	return gen
}

// SelectAt is Select for a cycle already started with Begin. If gen has been superseded
// it does nothing and returns nil.
func (w *Workflow) SelectAt(ctx context.Context, gen uint64, c caption.ImageCandidate) error {
	if !w.startedAt(gen) {
		w.log.WithField("generation", gen).Debug("selection superseded before submit")
		return nil
	}

	if err := caption.Validate(c); err != nil {
		notice := err.Error()
		var ve *caption.ValidationError
		if errors.As(err, &ve) {
			notice = ve.Notice()
		}
		w.log.WithFields(log.Fields{"generation": gen, "reason": notice}).Info("image rejected")

		w.mu.Lock()
		if gen != w.gen {
			w.mu.Unlock()
			return err
		}
		w.commit(State{Phase: Idle, Generation: gen, Notice: notice})
		return err
	}
	return w.generate(ctx, gen, c)
}

// Abort ends the cycle gen in Idle with notice, unless it has been superseded.
func (w *Workflow) Abort(gen uint64, notice string) {
	w.mu.Lock()
	if !w.startedAtLocked(gen) {
		w.mu.Unlock()
		return
	}
	w.commit(State{Phase: Idle, Generation: gen, Notice: notice})
}

func (w *Workflow) startedAt(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startedAtLocked(gen)
}

func (w *Workflow) startedAtLocked(gen uint64) bool {
	return gen == w.gen && w.state.Phase == Validating && w.state.Generation == gen
}

// Retry resubmits the candidate of a failed generation.
func (w *Workflow) Retry(ctx context.Context) error {
	w.mu.Lock()
	if !w.state.CanRetry() {
		w.mu.Unlock()
		return ErrNothingToRetry
	}
	cand := *w.state.Candidate
	gen := w.bumpLocked()
	w.mu.Unlock()

	return w.generate(ctx, gen, cand)
}

// Rate attaches a rating to the caption identified by imageID, which must be the one
// currently held. The workflow moves to Rated at once; the submission runs in the
// background and its failure only sets a notice.
func (w *Workflow) Rate(ctx context.Context, imageID string, value int) error {
	if err := caption.ValidateRating(value); err != nil {
		return err
	}

	w.mu.Lock()
	switch w.state.Phase {
	case Captioned:
	case Rated:
		held := w.state.Result.ImageID
		w.mu.Unlock()
		if held == imageID {
			return ErrAlreadyRated
		}
		return ErrStaleResult
	default:
		w.mu.Unlock()
		return ErrNoResult
	}
	if w.state.Result.ImageID != imageID {
		w.mu.Unlock()
		return ErrStaleResult
	}

	res := *w.state.Result
	sub := caption.RatingSubmission{ImageID: res.ImageID, Caption: res.Caption, Value: value}
	gen := w.gen
	w.ratings.Add(1)
	w.commit(State{Phase: Rated, Generation: gen, Result: &res, Rating: &sub})

	go w.submitRating(ctx, gen, sub)
	return nil
}

// Reset returns to Idle from any phase and drops any in-flight generation.
func (w *Workflow) Reset() {
	w.mu.Lock()
	gen := w.bumpLocked()
	w.commit(State{Phase: Idle, Generation: gen})
}

// Wait blocks until background rating submissions have finished.
func (w *Workflow) Wait() { w.ratings.Wait() }

// Close resets the workflow and waits for pending rating submissions.
func (w *Workflow) Close() {
	w.Reset()
	w.Wait()
}

func (w *Workflow) generate(ctx context.Context, gen uint64, c caption.ImageCandidate) error {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return nil
	}
	callCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	cand := c
	w.commit(State{Phase: Generating, Generation: gen, Candidate: &cand})

	started := time.Now()
	res, err := w.svc.GenerateCaption(callCtx, c)

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		cancel()
		metrics.StaleDiscardsTotal.Inc()
		w.log.WithField("generation", gen).Debug("discarding superseded caption response")
		return nil
	}
	w.cancel = nil
	cancel()

	entry := w.log.WithFields(log.Fields{
		"generation":  gen,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("caption generation failed")
		w.commit(State{Phase: Failed, Generation: gen, Candidate: &cand, Err: err})
		return err
	}
	entry.WithFields(log.Fields{"image_id": res.ImageID, "model": res.Model}).Info("caption generated")
	w.commit(State{Phase: Captioned, Generation: gen, Result: &res})
	return nil
}

func (w *Workflow) submitRating(ctx context.Context, gen uint64, sub caption.RatingSubmission) {
	defer w.ratings.Done()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.ratingTimeout)
	defer cancel()

	err := w.svc.SubmitRating(ctx, sub)
	if err == nil {
		w.log.WithFields(log.Fields{"image_id": sub.ImageID, "rating": sub.Value}).Info("rating submitted")
		return
	}
	metrics.RatingFailuresTotal.Inc()
	w.log.WithFields(log.Fields{"image_id": sub.ImageID, "rating": sub.Value}).WithError(err).Warn("rating submission failed")

	w.mu.Lock()
	if gen != w.gen || w.state.Phase != Rated {
		w.mu.Unlock()
		return
	}
	next := w.state
	next.Err = err
	next.Notice = ratingFailedNotice
	w.commit(next)
}

// bumpLocked issues a new generation token and cancels the in-flight call. Caller holds w.mu.
func (w *Workflow) bumpLocked() uint64 {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.gen++
	return w.gen
}

// commit stores next and queues it for subscribers. Caller holds w.mu; commit releases it.
// The first committer that finds nobody delivering drains the queue, dropping w.mu around
// each callback; later committers only enqueue, so deliveries keep transition order.
func (w *Workflow) commit(next State) {
	if w.state.Phase != next.Phase {
		metrics.WorkflowTransitionsTotal.WithLabelValues(next.Phase.String()).Inc()
	}
	w.state = next
	w.pending = append(w.pending, next)
	if w.delivering {
		w.mu.Unlock()
		return
	}

	w.delivering = true
	for len(w.pending) > 0 {
		st := w.pending[0]
		w.pending = w.pending[1:]
		subs := make([]func(State), len(w.subs))
		for i, s := range w.subs {
			subs[i] = s.fn
		}

		w.mu.Unlock()
		for _, fn := range subs {
			fn(st)
		}
		w.mu.Lock()
	}
	w.pending = nil
	w.delivering = false
	w.mu.Unlock()
}
