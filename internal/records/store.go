// Package records persists item records and combined artifacts on a filesystem.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samvad-hq/samvad-search-scraper/internal/domain"
	"github.com/samvad-hq/samvad-search-scraper/internal/fsutil"
	"github.com/samvad-hq/samvad-search-scraper/internal/logger"
	"github.com/samvad-hq/samvad-search-scraper/pkg/categories"
	"github.com/spf13/afero"
)

const recordExt = ".json"

// ErrArtifactExists is returned when a combined artifact is already present.
var ErrArtifactExists = errors.New("combined artifact already exists")

// WriteError is an item-level filesystem failure.
type WriteError struct {
	Category string
	ObjectID string
	Path     string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write item %s/%s to %s: %v", e.Category, e.ObjectID, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store reads and writes records below a data directory.
type Store struct {
	fs      afero.Fs
	dataDir string
	log     logger.Logger
}

// New returns a Store rooted at dataDir. A nil fs means the OS filesystem.
func New(fs afero.Fs, dataDir string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs, dataDir: dataDir, log: &logger.NopLogger{}}
}

// WithLogger sets the logger used for identifier collisions and returns s.
func (s *Store) WithLogger(log logger.Logger) *Store {
	s.log = logger.Ensure(log)
	return s
}

// Fs exposes the underlying filesystem.
func (s *Store) Fs() afero.Fs { return s.fs }

// ItemPath is the record path for an item identifier.
func (s *Store) ItemPath(cat categories.Category, objectID string) string {
	return filepath.Join(cat.ItemDir(s.dataDir), SanitizeFilename(objectID)+recordExt)
}

// CombinedPath is the combined artifact path for a category.
func (s *Store) CombinedPath(cat categories.Category) string {
	return cat.CombinedPath(s.dataDir)
}

// WriteItem stores item unless a record already exists at its path. It
// reports whether a new record was written; existing records are never touched.
func (s *Store) WriteItem(cat categories.Category, item domain.Item) (bool, error) {
	path := s.ItemPath(cat, item.ObjectID)
	wrap := func(err error) error {
		return &WriteError{Category: cat.ID, ObjectID: item.ObjectID, Path: path, Err: err}
	}

	exists, err := fsutil.Exists(s.fs, path)
	if err != nil {
		return false, wrap(err)
	}
	if exists {
		s.checkCollision(cat, item, path)
		return false, nil
	}

	data, err := fsutil.MarshalJSON(item)
	if err != nil {
		return false, wrap(err)
	}
	if err := fsutil.WriteAtomic(s.fs, path, data); err != nil {
		return false, wrap(err)
	}
	return true, nil
}

// checkCollision warns when the record at path belongs to another identifier
// that sanitizes to the same file name. The existing record is kept.
func (s *Store) checkCollision(cat categories.Category, item domain.Item, path string) {
	raw, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return
	}
	var existing struct {
		ObjectID string `json:"objectID"`
	}
	if err := json.Unmarshal(raw, &existing); err != nil || existing.ObjectID == item.ObjectID {
		return
	}
	s.log.WarnObj("record file already holds a different objectID; item not stored", "record_collision", map[string]any{
		"category":          cat.ID,
		"object_id":         item.ObjectID,
		"existing_objectID": existing.ObjectID,
		"path":              path,
		"page":              item.Page,
	})
}

// CombinedExists reports whether the category's combined artifact is present.
func (s *Store) CombinedExists(cat categories.Category) (bool, error) {
	return fsutil.Exists(s.fs, s.CombinedPath(cat))
}

// ListItemFiles returns the record paths of a category sorted by name. A
// missing directory yields no paths.
func (s *Store) ListItemFiles(cat categories.Category) ([]string, error) {
	dir := cat.ItemDir(s.dataDir)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadFile returns the raw content of a record.
func (s *Store) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(s.fs, path)
}

// WriteCombined writes the combined artifact once.
func (s *Store) WriteCombined(cat categories.Category, data []byte) error {
	path := s.CombinedPath(cat)
	exists, err := fsutil.Exists(s.fs, path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if exists {
		return fmt.Errorf("%s: %w", path, ErrArtifactExists)
	}
	return fsutil.WriteAtomic(s.fs, path, data)
}
