package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samvad-hq/samvad-search-scraper/internal/domain"
	"github.com/spf13/afero"
)

// Package storage persists per-category pagination progress and the ledger of
// items whose records could not be written.

// ErrCorruptState marks persisted state that exists but cannot be decoded.
var ErrCorruptState = errors.New("corrupt persisted state")

// Store keeps progress checkpoints and failed items per category.
type Store interface {
	Close() error
	// LoadPage returns the last completed page; found is false when no
	// checkpoint was ever saved.
	LoadPage(category string) (page int, found bool, err error)
	SavePage(category string, page int) error
	MarkFailed(category string, item domain.FailedItem) error
	FailedItems(category string) ([]domain.FailedItem, error)
	ClearFailed(category, objectID string) error
}

const (
	TypeFile  = "file"
	TypeBBolt = "bbolt"
)

// Options configures the concrete backends.
type Options struct {
	// Fs and Dir locate the file backend; Fs defaults to the OS filesystem.
	Fs  afero.Fs
	Dir string
	// BBoltPath is the database file of the bbolt backend.
	BBoltPath string
}

// NewStore creates the configured storage backend.
func NewStore(typ string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))

	switch typ {
	case "", TypeFile:
		return newFileStore(opts.Fs, opts.Dir), nil
	case TypeBBolt:
		if strings.TrimSpace(opts.BBoltPath) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(opts.BBoltPath)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}
