package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-search-scraper/internal/domain"
	"github.com/samvad-hq/samvad-search-scraper/internal/logger"
	"github.com/samvad-hq/samvad-search-scraper/internal/metrics"
	"github.com/samvad-hq/samvad-search-scraper/pkg/categories"
	"github.com/samvad-hq/samvad-search-scraper/pkg/searchapi"
)

// Options carries the optional collaborators of a Processor.
type Options struct {
	Log       logger.Logger
	Metrics   Metrics
	PageDelay time.Duration
}

// Processor drives the pagination loop of one category at a time.
type Processor struct {
	fetcher    PageFetcher
	normalizer TextNormalizer
	tracker    ProgressTracker
	ledger     FailureLedger
	records    RecordWriter
	metrics    Metrics
	log        logger.Logger
	pageDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewProcessor wires a category processor.
func NewProcessor(fetcher PageFetcher, normalizer TextNormalizer, tracker ProgressTracker, ledger FailureLedger, records RecordWriter, opts Options) *Processor {
	var m Metrics = nopMetrics{}
	if opts.Metrics != nil {
		m = opts.Metrics
	}
	return &Processor{
		fetcher:    fetcher,
		normalizer: normalizer,
		tracker:    tracker,
		ledger:     ledger,
		records:    records,
		metrics:    m,
		log:        logger.Ensure(opts.Log),
		pageDelay:  opts.PageDelay,
		sleep:      sleepContext,
	}
}

// Run scrapes cat until the endpoint runs out of items. It returns a
// StatusSkipped result without fetching when the combined artifact exists.
// Any error returned wraps ErrCategoryAborted; the checkpoint then still points
// at the last fully persisted page.
func (p *Processor) Run(ctx context.Context, cat categories.Category) (Result, error) {
	res := Result{Category: cat.ID, LastPage: -1}

	combined, err := p.records.CombinedExists(cat)
	if err != nil {
		return p.abort(cat, &res, cat.StartPage, fmt.Errorf("check combined artifact: %w", err))
	}
	if combined {
		res.Status = StatusSkipped
		p.metrics.CategoryFinished(cat.ID, string(res.Status))
		p.log.InfoObj("combined artifact exists; skipping category", "category_skip", map[string]any{
			"category": cat.ID,
		})
		return res, nil
	}

	if err := p.retryFailed(ctx, cat, &res); err != nil {
		return p.abort(cat, &res, -1, err)
	}

	cp := p.tracker.Load(cat.ID)
	if cp.Found {
		res.LastPage = cp.Page
	}
	page := cp.NextPage(cat.StartPage)
	res.FirstPage = page
	p.log.InfoObj("category scrape starting", "category_start", map[string]any{
		"category":       cat.ID,
		"index":          cat.IndexName,
		"resume_page":    page,
		"has_checkpoint": cp.Found,
	})

	for {
		result, err := p.fetchPage(ctx, cat, page)
		if err != nil {
			return p.abort(cat, &res, page, err)
		}
		res.PagesFetched++
		p.metrics.PageFetched(cat.ID)

		if len(result.Hits) == 0 {
			break
		}

		p.persistPage(cat, page, result.Hits, &res)

		if err := p.tracker.Save(cat.ID, page); err != nil {
			return p.abort(cat, &res, page, err)
		}
		res.LastPage = page
		p.metrics.Checkpoint(cat.ID, page)
		p.log.InfoObj("page processed", "page_result", map[string]any{
			"category": cat.ID,
			"page":     page,
			"hits":     len(result.Hits),
		})

		if result.IsLast(page) {
			break
		}
		page++

		if err := p.sleep(ctx, p.pageDelay); err != nil {
			return p.abort(cat, &res, page, err)
		}
	}

	res.Status = StatusCompleted
	if outstanding := p.outstandingFailures(cat); outstanding > 0 {
		res.Status = StatusIncomplete
		res.ItemsOutstanding = outstanding
		p.log.WarnObj("category has items awaiting retry; leaving it uncombined", "category_incomplete", map[string]any{
			"category":    cat.ID,
			"outstanding": outstanding,
		})
	}
	p.metrics.CategoryFinished(cat.ID, string(res.Status))
	p.log.InfoObj("category scrape finished", "category_result", map[string]any{
		"status":            string(res.Status),
		"category":          cat.ID,
		"last_page":         res.LastPage,
		"pages_fetched":     res.PagesFetched,
		"items_written":     res.ItemsWritten,
		"items_existing":    res.ItemsExisting,
		"items_failed":      res.ItemsFailed,
		"items_quarantined": res.ItemsQuarantined,
	})
	return res, nil
}

func (p *Processor) abort(cat categories.Category, res *Result, page int, cause error) (Result, error) {
	err := fmt.Errorf("%w: %s at page %d: %w", ErrCategoryAborted, cat.ID, page, cause)
	res.Status = StatusAborted
	res.Err = err
	p.metrics.CategoryFinished(cat.ID, string(res.Status))
	p.log.ErrorObj("category scrape aborted", "category_error", map[string]any{
		"category":  cat.ID,
		"page":      page,
		"last_page": res.LastPage,
		"error":     cause.Error(),
	})
	return *res, err
}

func (p *Processor) fetchPage(ctx context.Context, cat categories.Category, page int) (searchapi.Page, error) {
	body, err := searchapi.Query{
		IndexName:   cat.IndexName,
		Page:        page,
		HitsPerPage: cat.PageSize,
		Filters:     cat.Filters,
	}.Encode()
	if err != nil {
		return searchapi.Page{}, fmt.Errorf("encode query: %w", err)
	}

	raw, err := p.fetcher.Fetch(ctx, cat.Endpoint, cat.Headers, body)
	if err != nil {
		return searchapi.Page{}, fmt.Errorf("fetch page: %w", err)
	}

	decoded, err := searchapi.Decode(raw)
	if err != nil {
		return searchapi.Page{}, fmt.Errorf("decode page: %w", err)
	}
	return decoded, nil
}

// persistPage writes every valid hit. Write failures are counted and recorded
// in the ledger; they never stop the page.
func (p *Processor) persistPage(cat categories.Category, page int, hits []searchapi.Hit, res *Result) map[string]bool {
	stored := make(map[string]bool, len(hits))
	for i, hit := range hits {
		item, ok := p.toItem(cat, page, hit)
		if !ok {
			res.ItemsQuarantined++
			p.metrics.Item(cat.ID, metrics.ItemQuarantined)
			p.log.WarnObj("item quarantined: missing objectID", "item_quarantine", map[string]any{
				"category": cat.ID,
				"page":     page,
				"position": i,
				"title":    hit.Title,
			})
			continue
		}

		written, err := p.records.WriteItem(cat, item)
		if err != nil {
			res.ItemsFailed++
			p.metrics.Item(cat.ID, metrics.ItemFailed)
			p.recordFailure(cat, page, item.ObjectID, err)
			continue
		}
		stored[item.ObjectID] = true
		if written {
			res.ItemsWritten++
			p.metrics.Item(cat.ID, metrics.ItemWritten)
		} else {
			res.ItemsExisting++
			p.metrics.Item(cat.ID, metrics.ItemExisting)
		}
	}
	return stored
}

func (p *Processor) toItem(cat categories.Category, page int, hit searchapi.Hit) (domain.Item, bool) {
	id := strings.TrimSpace(hit.ObjectID.String())
	if id == "" {
		return domain.Item{}, false
	}
	return domain.Item{
		ObjectID: id,
		Title:    strings.TrimSpace(hit.Title),
		Body:     p.normalizer.Normalize(hit.Body),
		URL:      strings.TrimSpace(hit.URL),
		Category: cat.ID,
		Page:     page,
	}, true
}

// outstandingFailures returns the number of ledger entries still pending. An
// unreadable ledger counts as one pending entry.
func (p *Processor) outstandingFailures(cat categories.Category) int {
	failed, err := p.ledger.FailedItems(cat.ID)
	if err != nil {
		p.log.WarnObj("failure ledger unreadable after run", "ledger_error", map[string]any{
			"category": cat.ID,
			"error":    err.Error(),
		})
		return 1
	}
	return len(failed)
}

func (p *Processor) recordFailure(cat categories.Category, page int, objectID string, cause error) {
	fields := map[string]any{
		"category":  cat.ID,
		"page":      page,
		"object_id": objectID,
		"error":     cause.Error(),
	}
	p.log.ErrorObj("item write failed", "item_error", fields)

	if err := p.ledger.MarkFailed(cat.ID, domain.FailedItem{ObjectID: objectID, Page: page, Reason: cause.Error()}); err != nil {
		fields["ledger_error"] = err.Error()
		p.log.ErrorObj("failed to record item failure; re-run cannot retry it automatically", "ledger_error", fields)
	}
}

// retryFailed re-fetches the pages of items recorded as failed by earlier runs
// and clears the entries whose records now exist.
func (p *Processor) retryFailed(ctx context.Context, cat categories.Category, res *Result) error {
	failed, err := p.ledger.FailedItems(cat.ID)
	if err != nil {
		p.log.WarnObj("failure ledger unreadable; skipping retry of failed items", "ledger_error", map[string]any{
			"category": cat.ID,
			"error":    err.Error(),
		})
		return nil
	}
	if len(failed) == 0 {
		return nil
	}

	byPage := make(map[int][]string)
	for _, f := range failed {
		byPage[f.Page] = append(byPage[f.Page], f.ObjectID)
	}
	pages := make([]int, 0, len(byPage))
	for page := range byPage {
		pages = append(pages, page)
	}
	sort.Ints(pages)

	p.log.InfoObj("retrying previously failed items", "retry_meta", map[string]any{
		"category": cat.ID,
		"items":    len(failed),
		"pages":    pages,
	})

	for _, page := range pages {
		result, err := p.fetchPage(ctx, cat, page)
		if err != nil {
			return fmt.Errorf("retry page %d: %w", page, err)
		}
		res.PagesFetched++
		p.metrics.PageFetched(cat.ID)

		stored := p.persistPage(cat, page, result.Hits, res)
		for _, id := range byPage[page] {
			if !stored[id] {
				p.log.WarnObj("failed item still missing after retry", "retry_miss", map[string]any{
					"category":  cat.ID,
					"page":      page,
					"object_id": id,
				})
				continue
			}
			if err := p.ledger.ClearFailed(cat.ID, id); err != nil {
				p.log.WarnObj("failed to clear recovered item from ledger", "ledger_error", map[string]any{
					"category":  cat.ID,
					"object_id": id,
					"error":     err.Error(),
				})
				continue
			}
			res.ItemsRecovered++
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsAborted reports whether err came from an aborted category.
func IsAborted(err error) bool {
	return errors.Is(err, ErrCategoryAborted)
}
