package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/samvad-hq/samvad-search-scraper/internal/logger"
	"github.com/samvad-hq/samvad-search-scraper/pkg/categories"
)

// CategoryRunner processes a single category.
type CategoryRunner interface {
	Run(ctx context.Context, cat categories.Category) (Result, error)
}

// Service runs categories strictly one after another.
type Service struct {
	runner CategoryRunner
	log    logger.Logger
}

// NewService wires a service around a category runner.
func NewService(runner CategoryRunner, log logger.Logger) *Service {
	return &Service{runner: runner, log: logger.Ensure(log)}
}

// Run processes every category in order. An aborted category does not stop
// the others; its error is joined into the returned error. Categories not
// yet started when ctx ends are left out of the results.
func (s *Service) Run(ctx context.Context, cats []categories.Category) ([]Result, error) {
	if s == nil || s.runner == nil {
		return nil, fmt.Errorf("scraper service is not initialized")
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("no categories configured for scraping")
	}

	results := make([]Result, 0, len(cats))
	var errs []error
	for _, cat := range cats {
		if ctx.Err() != nil {
			s.log.WarnObj("run cancelled; remaining categories not started", "cancel_meta", map[string]any{
				"next_category": cat.ID,
			})
			errs = append(errs, fmt.Errorf("%w: %s not started: %w", ErrCategoryAborted, cat.ID, ctx.Err()))
			break
		}
		res, err := s.runner.Run(ctx, cat)
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}
