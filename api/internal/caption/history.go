package caption

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

const (
	MinHistoryLimit     = 1
	MaxHistoryLimit     = 100
	DefaultHistoryLimit = 50
)

// ClampHistoryLimit brings n into the range the service accepts.
func ClampHistoryLimit(n int) int {
	if n < MinHistoryLimit {
		return MinHistoryLimit
	}
	if n > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return n
}

// HistorySummary exposes the server's page verbatim. Aggregates are never recomputed
// locally: the service may aggregate over more records than the page holds.
type HistorySummary struct {
	Entries       []HistoryEntry
	TotalRecords  int
	AverageRating float64
}

func Summarize(p HistoryPage) HistorySummary {
	entries := p.Entries
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return HistorySummary{
		Entries:       entries,
		TotalRecords:  p.TotalRecords,
		AverageRating: p.AverageRating,
	}
}

func (s HistorySummary) Count() int { return len(s.Entries) }
func (s HistorySummary) Empty() bool { return len(s.Entries) == 0 }
func (s HistorySummary) HasTotal() bool { return s.TotalRecords > 0 }

func (s HistorySummary) HasRatings() bool { return s.AverageRating > 0 }

// AverageLabel renders the server average with one decimal, e.g. "4.3".
func (s HistorySummary) AverageLabel() string {
	return decimal.NewFromFloat(s.AverageRating).StringFixed(1)
}

// HistoryFetcher is satisfied by *Client.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, limit int) (HistoryPage, error)
}

// HistoryBoard holds what the history view shows. Each Load replaces the previous
// summary wholesale; a failed Load keeps it.
type HistoryBoard struct {
	src HistoryFetcher

	mu      sync.RWMutex
	summary HistorySummary
	loaded  bool
}

func NewHistoryBoard(src HistoryFetcher) *HistoryBoard {
	return &HistoryBoard{src: src}
}

func (b *HistoryBoard) Load(ctx context.Context, limit int) (HistorySummary, error) {
	page, err := b.src.FetchHistory(ctx, ClampHistoryLimit(limit))
	if err != nil {
		return HistorySummary{}, err
	}
	s := Summarize(page)
	b.mu.Lock()
	b.summary = s
	b.loaded = true
	b.mu.Unlock()
	return s, nil
}

// Summary returns the last loaded summary and whether anything was loaded yet.
func (b *HistoryBoard) Summary() (HistorySummary, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.summary, b.loaded
}
