// Package progress restores and advances per-category pagination checkpoints.
package progress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samvad-hq/samvad-search-scraper/internal/logger"
	"github.com/samvad-hq/samvad-search-scraper/internal/storage"
)

// ErrRegression is returned when a save would move a checkpoint backwards.
var ErrRegression = errors.New("progress checkpoint cannot move backwards")

// Checkpoint is the restored state of one category.
type Checkpoint struct {
	Category string
	// Page is the last completed page; meaningful only when Found.
	Page  int
	Found bool
}

// NextPage is the page a resumed run fetches first.
func (c Checkpoint) NextPage(startPage int) int {
	if !c.Found {
		return startPage
	}
	next := c.Page + 1
	if next < startPage {
		return startPage
	}
	return next
}

// Tracker wraps a storage backend with the recovery and ordering rules of
// checkpoints.
type Tracker struct {
	store storage.Store
	log   logger.Logger

	mu   sync.Mutex
	last map[string]int
}

// NewTracker builds a tracker over store.
func NewTracker(store storage.Store, log logger.Logger) *Tracker {
	return &Tracker{
		store: store,
		log:   logger.Ensure(log),
		last:  make(map[string]int),
	}
}

// Load restores the checkpoint of category. Unreadable or corrupt state is
// logged and treated as absent, so the category restarts from its first page.
func (t *Tracker) Load(category string) Checkpoint {
	page, found, err := t.store.LoadPage(category)
	if err != nil {
		t.log.WarnObj("progress state unreadable; restarting category from the beginning", "progress_error", map[string]any{
			"category": category,
			"corrupt":  errors.Is(err, storage.ErrCorruptState),
			"error":    err.Error(),
		})
		return Checkpoint{Category: category}
	}

	if found {
		t.mu.Lock()
		t.last[category] = page
		t.mu.Unlock()
	}
	return Checkpoint{Category: category, Page: page, Found: found}
}

// Save durably records page as the last completed page of category. Callers
// must only save after every item of the page has been persisted.
func (t *Tracker) Save(category string, page int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.last[category]; ok && page < prev {
		return fmt.Errorf("%w: %s at %d, got %d", ErrRegression, category, prev, page)
	}
	if err := t.store.SavePage(category, page); err != nil {
		return fmt.Errorf("save progress for %s: %w", category, err)
	}
	t.last[category] = page
	return nil
}
