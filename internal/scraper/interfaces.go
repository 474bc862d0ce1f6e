package scraper

import (
	"context"

	"github.com/samvad-hq/samvad-search-scraper/internal/domain"
	"github.com/samvad-hq/samvad-search-scraper/internal/progress"
	"github.com/samvad-hq/samvad-search-scraper/pkg/categories"
)

// PageFetcher performs one logical fetch with retries (httpclient.Retrier).
type PageFetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error)
}

// TextNormalizer converts item markup to plain text.
type TextNormalizer interface {
	Normalize(raw string) string
}

// ProgressTracker restores and commits page checkpoints.
type ProgressTracker interface {
	Load(category string) progress.Checkpoint
	Save(category string, page int) error
}

// FailureLedger remembers items whose record could not be written.
type FailureLedger interface {
	MarkFailed(category string, item domain.FailedItem) error
	FailedItems(category string) ([]domain.FailedItem, error)
	ClearFailed(category, objectID string) error
}

// RecordWriter persists item records and reports whether a category is already combined.
type RecordWriter interface {
	CombinedExists(cat categories.Category) (bool, error)
	WriteItem(cat categories.Category, item domain.Item) (bool, error)
}

// Metrics receives per-category counters.
type Metrics interface {
	PageFetched(category string)
	Item(category, outcome string)
	CategoryFinished(category, status string)
	Checkpoint(category string, page int)
}

type nopMetrics struct{}

func (nopMetrics) PageFetched(string)              {}
func (nopMetrics) Item(string, string)             {}
func (nopMetrics) CategoryFinished(string, string) {}
func (nopMetrics) Checkpoint(string, int)          {}
