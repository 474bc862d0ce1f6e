package progress

import (
	"errors"
	"testing"

	"github.com/samvad-hq/samvad-search-scraper/internal/storage"
	"github.com/spf13/afero"
)

func newFileTracker(t *testing.T) (*Tracker, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := storage.NewStore(storage.TypeFile, storage.Options{Fs: fs, Dir: "/state"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return NewTracker(store, nil), fs
}

func TestLoadWithoutStateStartsAtStartPage(t *testing.T) {
	tracker, _ := newFileTracker(t)
	cp := tracker.Load("questions")
	if cp.Found {
		t.Fatalf("expected no checkpoint")
	}
	if got := cp.NextPage(0); got != 0 {
		t.Fatalf("NextPage(0) = %d", got)
	}
	if got := cp.NextPage(1); got != 1 {
		t.Fatalf("NextPage(1) = %d", got)
	}
}

func TestSaveThenLoadResumesAtNextPage(t *testing.T) {
	tracker, fs := newFileTracker(t)
	if err := tracker.Save("questions", 4); err != nil {
		t.Fatalf("Save: %v", err)
	}

	store, _ := storage.NewStore(storage.TypeFile, storage.Options{Fs: fs, Dir: "/state"})
	restarted := NewTracker(store, nil)
	cp := restarted.Load("questions")
	if !cp.Found || cp.Page != 4 {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
	if got := cp.NextPage(0); got != 5 {
		t.Fatalf("NextPage = %d, want 5", got)
	}
}

func TestCorruptStateIsTreatedAsAbsent(t *testing.T) {
	tracker, fs := newFileTracker(t)
	_ = afero.WriteFile(fs, "/state/progress_questions.json", []byte("{broken"), 0o644)

	cp := tracker.Load("questions")
	if cp.Found {
		t.Fatalf("corrupt state must load as absent, got %+v", cp)
	}
	if err := tracker.Save("questions", 0); err != nil {
		t.Fatalf("Save after corrupt load: %v", err)
	}
	if cp := tracker.Load("questions"); !cp.Found || cp.Page != 0 {
		t.Fatalf("expected repaired checkpoint, got %+v", cp)
	}
}

func TestSaveRejectsRegression(t *testing.T) {
	tracker, _ := newFileTracker(t)
	if err := tracker.Save("questions", 3); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := tracker.Save("questions", 3); err != nil {
		t.Fatalf("re-saving the same page must succeed: %v", err)
	}
	if err := tracker.Save("questions", 2); !errors.Is(err, ErrRegression) {
		t.Fatalf("expected ErrRegression, got %v", err)
	}
	if err := tracker.Save("articles", 0); err != nil {
		t.Fatalf("other categories are independent: %v", err)
	}
}
