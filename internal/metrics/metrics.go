// Package metrics counts scrape activity and exports it as a Prometheus textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "search_scraper"

// Item outcomes.
const (
	ItemWritten     = "written"
	ItemExisting    = "existing"
	ItemFailed      = "failed"
	ItemQuarantined = "quarantined"
)

// Recorder holds the run's collectors on a private registry. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	registry   *prometheus.Registry
	pages      *prometheus.CounterVec
	items      *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	categories *prometheus.CounterVec
	lastPage   *prometheus.GaugeVec
}

// New registers the scraper collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Search result pages fetched and decoded.",
		}, []string{"category"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items seen, by persistence outcome.",
		}, []string{"category", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP attempts by outcome.",
		}, []string{"outcome"}),
		categories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_runs_total",
			Help:      "Category runs by final status.",
		}, []string{"category", "status"}),
		lastPage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_page",
			Help:      "Last committed page per category.",
		}, []string{"category"}),
	}
	r.registry.MustRegister(r.pages, r.items, r.attempts, r.categories, r.lastPage)
	return r
}

// Gatherer exposes the registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Recorder) PageFetched(category string) {
	if r == nil {
		return
	}
	r.pages.WithLabelValues(category).Inc()
}

func (r *Recorder) Item(category, outcome string) {
	if r == nil {
		return
	}
	r.items.WithLabelValues(category, outcome).Inc()
}

// ObserveAttempt satisfies httpclient.AttemptObserver.
func (r *Recorder) ObserveAttempt(outcome string) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(outcome).Inc()
}

func (r *Recorder) CategoryFinished(category, status string) {
	if r == nil {
		return
	}
	r.categories.WithLabelValues(category, status).Inc()
}

func (r *Recorder) Checkpoint(category string, page int) {
	if r == nil {
		return
	}
	r.lastPage.WithLabelValues(category).Set(float64(page))
}

// WriteTextfile writes the current values in the text exposition format,
// suitable for the node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
