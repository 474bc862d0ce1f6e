// Package aggregate merges the per-item records of a category into its
// combined artifact.
package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samvad-hq/samvad-search-scraper/internal/domain"
	"github.com/samvad-hq/samvad-search-scraper/internal/fsutil"
	"github.com/samvad-hq/samvad-search-scraper/internal/logger"
	"github.com/samvad-hq/samvad-search-scraper/pkg/categories"
)

// Policy decides what happens to an item record that cannot be parsed.
type Policy string

const (
	// Lenient skips malformed records and logs them.
	Lenient Policy = "lenient"
	// Strict aborts the aggregation of the category.
	Strict Policy = "strict"
)

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(v string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(v))) {
	case "", Lenient:
		return Lenient, nil
	case Strict:
		return Strict, nil
	default:
		return "", fmt.Errorf("unknown aggregation policy %q", v)
	}
}

// MalformedRecordError reports an item record that is not a valid item.
type MalformedRecordError struct {
	Category string
	Path     string
	Err      error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %s in %s: %v", e.Path, e.Category, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

var errMissingObjectID = errors.New("missing objectID")

// RecordSource lists and reads item records and stores the combined artifact.
type RecordSource interface {
	CombinedExists(cat categories.Category) (bool, error)
	ListItemFiles(cat categories.Category) ([]string, error)
	ReadFile(path string) ([]byte, error)
	WriteCombined(cat categories.Category, data []byte) error
}

// Outcome summarizes one combine call.
type Outcome struct {
	Category  string
	Skipped   bool
	Records   int
	Malformed []string
}

// Aggregator builds combined artifacts.
type Aggregator struct {
	source RecordSource
	policy Policy
	log    logger.Logger
}

// New returns an Aggregator. An empty policy means Lenient.
func New(source RecordSource, policy Policy, log logger.Logger) *Aggregator {
	if policy == "" {
		policy = Lenient
	}
	return &Aggregator{source: source, policy: policy, log: logger.Ensure(log)}
}

// Combine writes the combined artifact of cat once. When the artifact already
// exists the item records are neither listed nor read. Records are ordered by
// page, then objectID.
func (a *Aggregator) Combine(cat categories.Category) (Outcome, error) {
	out := Outcome{Category: cat.ID}

	exists, err := a.source.CombinedExists(cat)
	if err != nil {
		return out, fmt.Errorf("check combined artifact for %s: %w", cat.ID, err)
	}
	if exists {
		out.Skipped = true
		a.log.InfoObj("combined artifact exists; skipping aggregation", "aggregate_skip", map[string]any{
			"category": cat.ID,
		})
		return out, nil
	}

	paths, err := a.source.ListItemFiles(cat)
	if err != nil {
		return out, fmt.Errorf("list records for %s: %w", cat.ID, err)
	}

	items := make([]domain.Item, 0, len(paths))
	for _, path := range paths {
		item, err := a.readItem(cat, path)
		if err != nil {
			if a.policy == Strict {
				return out, err
			}
			out.Malformed = append(out.Malformed, path)
			a.log.WarnObj("skipping malformed record", "aggregate_malformed", map[string]any{
				"category": cat.ID,
				"path":     path,
				"error":    err.Error(),
			})
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Page != items[j].Page {
			return items[i].Page < items[j].Page
		}
		return items[i].ObjectID < items[j].ObjectID
	})

	data, err := fsutil.MarshalJSON(items)
	if err != nil {
		return out, fmt.Errorf("encode combined artifact for %s: %w", cat.ID, err)
	}
	if err := a.source.WriteCombined(cat, data); err != nil {
		return out, fmt.Errorf("write combined artifact for %s: %w", cat.ID, err)
	}

	out.Records = len(items)
	a.log.InfoObj("combined artifact written", "aggregate_result", map[string]any{
		"category":  cat.ID,
		"records":   out.Records,
		"malformed": len(out.Malformed),
		"policy":    string(a.policy),
	})
	return out, nil
}

func (a *Aggregator) readItem(cat categories.Category, path string) (domain.Item, error) {
	malformed := func(err error) error {
		return &MalformedRecordError{Category: cat.ID, Path: path, Err: err}
	}

	raw, err := a.source.ReadFile(path)
	if err != nil {
		return domain.Item{}, fmt.Errorf("read record %s: %w", path, err)
	}
	var item domain.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.Item{}, malformed(err)
	}
	if strings.TrimSpace(item.ObjectID) == "" {
		return domain.Item{}, malformed(errMissingObjectID)
	}
	return item, nil
}
