package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/samvad-search-scraper/internal/aggregate"
	"github.com/samvad-hq/samvad-search-scraper/internal/config"
	"github.com/samvad-hq/samvad-search-scraper/internal/logger"
	"github.com/samvad-hq/samvad-search-scraper/internal/metrics"
	"github.com/samvad-hq/samvad-search-scraper/internal/normalizer"
	"github.com/samvad-hq/samvad-search-scraper/internal/progress"
	"github.com/samvad-hq/samvad-search-scraper/internal/records"
	"github.com/samvad-hq/samvad-search-scraper/internal/scraper"
	"github.com/samvad-hq/samvad-search-scraper/internal/storage"
	"github.com/samvad-hq/samvad-search-scraper/pkg/categories"
	"github.com/samvad-hq/samvad-search-scraper/pkg/httpclient"
	"github.com/samvad-hq/samvad-search-scraper/pkg/publishers"
	"github.com/spf13/afero"
)

// ErrRunIncomplete marks a run where at least one category aborted, kept
// items awaiting retry or could not be aggregated. Re-running resumes the
// unfinished work.
var ErrRunIncomplete = errors.New("scrape run incomplete")

// Deps overrides collaborators that are otherwise built from config.
type Deps struct {
	Fs         afero.Fs
	HTTPClient httpclient.Client
	Categories *categories.Registry
}

// Scraper is the one-shot scraper runtime. It processes every category,
// aggregates the finished ones and announces the outcomes.
type Scraper struct {
	cfg        *config.Config
	catReg     *categories.Registry
	service    *scraper.Service
	aggregator *aggregate.Aggregator
	records    *records.Store
	fanout     *publishers.Fanout
	metrics    *metrics.Recorder
	store      storage.Store
	log        logger.Logger
}

// NewScraper builds a scraper runtime from config.
func NewScraper(ctx context.Context, cfg *config.Config, log logger.Logger, deps Deps) (*Scraper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	catReg := deps.Categories
	if catReg == nil {
		var err error
		catReg, err = loadCategories(cfg.CategoriesFile)
		if err != nil {
			return nil, err
		}
	}
	catIDs := make([]string, 0)
	for _, c := range catReg.All() {
		catIDs = append(catIDs, c.ID)
	}
	log.InfoObj("categories registry loaded", "categories_meta", map[string]any{
		"count": len(catIDs),
		"ids":   catIDs,
		"file":  cfg.CategoriesFile,
	})

	policy, err := aggregate.ParsePolicy(cfg.AggregationPolicy)
	if err != nil {
		return nil, err
	}

	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabledPublishers := publisherReg.Enabled()
	pubClients, err := publishers.DefaultBuilders().Build(ctx, enabledPublishers, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	fanout := publishers.NewFanout(pubClients)
	publisherSummaries := make([]map[string]string, 0, len(enabledPublishers))
	for _, pubCfg := range enabledPublishers {
		publisherSummaries = append(publisherSummaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(publisherSummaries),
		"publishers": publisherSummaries,
	})

	fs := deps.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	store, err := storage.NewStore(cfg.StorageType, storage.Options{
		Fs:        fs,
		Dir:       cfg.ProgressDir,
		BBoltPath: cfg.BBoltPath,
	})
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":         cfg.StorageType,
		"progress_dir": cfg.ProgressDir,
		"bbolt_path":   cfg.BBoltPath,
	})

	recorder := metrics.New()
	client := deps.HTTPClient
	if client == nil {
		client = httpclient.NewRestyClient(cfg.RequestTimeout)
	}
	retrier := httpclient.NewRetrier(client, httpclient.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Delay:       cfg.RetryDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Multiplier:  cfg.RetryBackoffMultiplier,
	}, log).WithObserver(recorder)

	recordStore := records.New(fs, cfg.DataDir).WithLogger(log)
	processor := scraper.NewProcessor(
		retrier,
		normalizer.New(),
		progress.NewTracker(store, log),
		store,
		recordStore,
		scraper.Options{Log: log, Metrics: recorder, PageDelay: cfg.PageDelay},
	)

	return &Scraper{
		cfg:        cfg,
		catReg:     catReg,
		service:    scraper.NewService(processor, log),
		aggregator: aggregate.New(recordStore, policy, log),
		records:    recordStore,
		fanout:     fanout,
		metrics:    recorder,
		store:      store,
		log:        log,
	}, nil
}

func loadCategories(path string) (*categories.Registry, error) {
	if path == "" {
		return categories.DefaultRegistry(), nil
	}
	reg, err := categories.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load categories registry: %w", err)
	}
	return reg, nil
}

// Run performs one full pass: scrape every category, then aggregate the ones
// that completed or were already combined. It returns an error wrapping
// ErrRunIncomplete when any category aborted or failed to aggregate.
func (s *Scraper) Run(ctx context.Context) error {
	if s == nil || s.service == nil {
		return fmt.Errorf("scraper is not initialized")
	}
	defer s.close()

	cats := s.catReg.All()
	start := time.Now()
	s.log.InfoObj("scrape run started", "run_meta", map[string]any{
		"categories_count": len(cats),
		"publishers_count": s.fanout.Size(),
		"started_at":       start.UTC(),
	})

	results, runErr := s.service.Run(ctx, cats)

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	for _, res := range results {
		cat, _ := s.catReg.ByID(res.Category)
		evt := newEvent(res)

		if res.Aggregatable() {
			out, err := s.aggregator.Combine(cat)
			if err != nil {
				s.log.ErrorObj("aggregation failed", "aggregate_error", map[string]any{
					"category": cat.ID,
					"error":    err.Error(),
				})
				errs = append(errs, err)
				evt.Error = err.Error()
			} else {
				evt.Combined = true
				evt.Records = out.Records
				evt.Artifact = s.records.CombinedPath(cat)
			}
		} else {
			s.log.WarnObj("category not aggregated; re-run to resume it", "aggregate_skip", map[string]any{
				"category":          cat.ID,
				"status":            string(res.Status),
				"last_page":         res.LastPage,
				"items_outstanding": res.ItemsOutstanding,
			})
			if res.Status == scraper.StatusIncomplete {
				errs = append(errs, fmt.Errorf("%s: %d items awaiting retry", cat.ID, res.ItemsOutstanding))
			}
		}

		s.publish(ctx, evt)
	}

	s.writeMetrics()

	s.log.InfoObj("scrape run finished", "run_meta", map[string]any{
		"categories_count": len(results),
		"elapsed_ms":       time.Since(start).Milliseconds(),
		"incomplete":       len(errs) > 0,
	})
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrRunIncomplete, errors.Join(errs...))
	}
	return nil
}

func newEvent(res scraper.Result) publishers.Event {
	evt := publishers.NewEvent(res.Category, string(res.Status))
	evt.LastPage = res.LastPage
	evt.PagesFetched = res.PagesFetched
	evt.ItemsWritten = res.ItemsWritten
	evt.ItemsFailed = res.ItemsFailed
	evt.Outstanding = res.ItemsOutstanding
	if res.Err != nil {
		evt.Error = res.Err.Error()
	}
	return evt
}

// publish never fails the run; notification errors are only logged.
func (s *Scraper) publish(ctx context.Context, evt publishers.Event) {
	if s.fanout.Size() == 0 {
		return
	}
	// The run context may already be cancelled; notifications still go out.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	delivered, err := s.fanout.Publish(pubCtx, evt)
	if err != nil {
		s.log.ErrorObj("category event publish failed", "publish_error", map[string]any{
			"category":  evt.Category,
			"delivered": delivered,
			"error":     err.Error(),
		})
		return
	}
	s.log.DebugObj("category event published", "publish_meta", map[string]any{
		"category":  evt.Category,
		"delivered": delivered,
	})
}

func (s *Scraper) writeMetrics() {
	if s.cfg.MetricsTextfile == "" {
		return
	}
	if err := s.metrics.WriteTextfile(s.cfg.MetricsTextfile); err != nil {
		s.log.WarnObj("metrics textfile write failed", "metrics_error", map[string]any{
			"path":  s.cfg.MetricsTextfile,
			"error": err.Error(),
		})
	}
}

// close releases the storage backend and publisher clients.
func (s *Scraper) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.ErrorObj("storage close failed", "error", err)
		}
	}
	if err := s.fanout.Close(); err != nil {
		s.log.ErrorObj("publisher close failed", "error", err)
	}
}
