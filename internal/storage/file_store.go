package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/samvad-hq/samvad-search-scraper/internal/domain"
	"github.com/samvad-hq/samvad-search-scraper/internal/fsutil"
	"github.com/spf13/afero"
)

// fileStore keeps one small JSON document per category and concern:
// progress_<category>.json holds {"page": N}, failed_<category>.json the ledger.
type fileStore struct {
	fs  afero.Fs
	dir string
}

type progressDoc struct {
	Page *int `json:"page"`
}

func newFileStore(fs afero.Fs, dir string) *fileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if dir == "" {
		dir = "."
	}
	return &fileStore{fs: fs, dir: dir}
}

func (f *fileStore) progressPath(category string) string {
	return filepath.Join(f.dir, "progress_"+category+".json")
}

func (f *fileStore) ledgerPath(category string) string {
	return filepath.Join(f.dir, "failed_"+category+".json")
}

func (f *fileStore) Close() error { return nil }

func (f *fileStore) LoadPage(category string) (int, bool, error) {
	path := f.progressPath(category)
	raw, err := afero.ReadFile(f.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read %s: %w", path, err)
	}

	var doc progressDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, false, fmt.Errorf("%s: %w: %v", path, ErrCorruptState, err)
	}
	if doc.Page == nil || *doc.Page < 0 {
		return 0, false, fmt.Errorf("%s: %w: missing or negative page", path, ErrCorruptState)
	}
	return *doc.Page, true, nil
}

func (f *fileStore) SavePage(category string, page int) error {
	data, err := json.Marshal(progressDoc{Page: &page})
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return fsutil.WriteAtomic(f.fs, f.progressPath(category), data)
}

func (f *fileStore) readLedger(category string) (map[string]domain.FailedItem, error) {
	path := f.ledgerPath(category)
	raw, err := afero.ReadFile(f.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]domain.FailedItem{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	ledger := map[string]domain.FailedItem{}
	if err := json.Unmarshal(raw, &ledger); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrCorruptState, err)
	}
	return ledger, nil
}

func (f *fileStore) writeLedger(category string, ledger map[string]domain.FailedItem) error {
	path := f.ledgerPath(category)
	if len(ledger) == 0 {
		if err := f.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		return nil
	}
	data, err := fsutil.MarshalJSON(ledger)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return fsutil.WriteAtomic(f.fs, path, data)
}

func (f *fileStore) MarkFailed(category string, item domain.FailedItem) error {
	ledger, err := f.readLedger(category)
	if err != nil {
		return err
	}
	ledger[item.ObjectID] = item
	return f.writeLedger(category, ledger)
}

func (f *fileStore) FailedItems(category string) ([]domain.FailedItem, error) {
	ledger, err := f.readLedger(category)
	if err != nil {
		return nil, err
	}
	return sortedFailures(ledger), nil
}

func (f *fileStore) ClearFailed(category, objectID string) error {
	ledger, err := f.readLedger(category)
	if err != nil {
		return err
	}
	if _, ok := ledger[objectID]; !ok {
		return nil
	}
	delete(ledger, objectID)
	return f.writeLedger(category, ledger)
}

// sortedFailures orders by page then id.
func sortedFailures(ledger map[string]domain.FailedItem) []domain.FailedItem {
	out := make([]domain.FailedItem, 0, len(ledger))
	for _, item := range ledger {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].ObjectID < out[j].ObjectID
	})
	return out
}
