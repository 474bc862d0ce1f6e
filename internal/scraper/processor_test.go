package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-search-scraper/internal/domain"
	"github.com/samvad-hq/samvad-search-scraper/internal/normalizer"
	"github.com/samvad-hq/samvad-search-scraper/internal/progress"
	"github.com/samvad-hq/samvad-search-scraper/internal/records"
	"github.com/samvad-hq/samvad-search-scraper/internal/storage"
	"github.com/samvad-hq/samvad-search-scraper/pkg/categories"
	"github.com/samvad-hq/samvad-search-scraper/pkg/httpclient"
	"github.com/samvad-hq/samvad-search-scraper/pkg/searchapi"
	"github.com/spf13/afero"
)

type fakeHit struct {
	ObjectID any    `json:"objectID,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url"`
}

type fakePage struct {
	hits    []fakeHit
	nbPages int
}

// fakeEndpoint serves canned pages keyed by the requested page number.
type fakeEndpoint struct {
	pages     map[int]fakePage
	failAt    map[int]error
	requested []int
}

func (f *fakeEndpoint) Fetch(_ context.Context, _ string, _ map[string]string, body []byte) ([]byte, error) {
	var envelopes []struct {
		IndexName string         `json:"indexName"`
		Params    map[string]any `json:"params"`
	}
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, err
	}
	page := int(envelopes[0].Params["page"].(float64))
	f.requested = append(f.requested, page)

	if err := f.failAt[page]; err != nil {
		return nil, err
	}
	p := f.pages[page]
	hits := p.hits
	if hits == nil {
		hits = []fakeHit{}
	}
	return json.Marshal(map[string]any{
		"results": []map[string]any{{"hits": hits, "nbPages": p.nbPages, "page": page}},
	})
}

func makeHits(prefix string, n int) []fakeHit {
	hits := make([]fakeHit, n)
	for i := range hits {
		hits[i] = fakeHit{
			ObjectID: fmt.Sprintf("%s-%d", prefix, i),
			Title:    fmt.Sprintf(" Title %d ", i),
			Body:     fmt.Sprintf("<p>Body <b>%d</b> {token}</p>", i),
			URL:      "https://example.test/" + prefix,
		}
	}
	return hits
}

type harness struct {
	fs      afero.Fs
	cat     categories.Category
	store   storage.Store
	records *records.Store
}

func newHarness(t *testing.T, startPage int) *harness {
	t.Helper()
	reg, err := categories.NewRegistry([]categories.Category{{
		ID:        "questions",
		IndexName: "questions",
		StartPage: startPage,
	}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cat, _ := reg.ByID("questions")

	fs := afero.NewMemMapFs()
	store, err := storage.NewStore(storage.TypeFile, storage.Options{Fs: fs, Dir: "state"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return &harness{fs: fs, cat: cat, store: store, records: records.New(fs, "data")}
}

func (h *harness) processor(fetcher PageFetcher, writer RecordWriter) *Processor {
	if writer == nil {
		writer = h.records
	}
	p := NewProcessor(fetcher, normalizer.New(), progress.NewTracker(h.store, nil), h.store, writer, Options{PageDelay: time.Second})
	p.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return p
}

func (h *harness) savedPage(t *testing.T) (int, bool) {
	t.Helper()
	page, found, err := h.store.LoadPage(h.cat.ID)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	return page, found
}

func (h *harness) recordCount(t *testing.T) int {
	t.Helper()
	files, err := h.records.ListItemFiles(h.cat)
	if err != nil {
		t.Fatalf("ListItemFiles: %v", err)
	}
	return len(files)
}

func TestProcessorStopsOnEmptyPage(t *testing.T) {
	h := newHarness(t, 1)
	endpoint := &fakeEndpoint{pages: map[int]fakePage{
		1: {hits: makeHits("a", 20)},
		2: {hits: makeHits("b", 20)},
	}}

	res, err := h.processor(endpoint, nil).Run(context.Background(), h.cat)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusCompleted || res.ItemsWritten != 40 || res.LastPage != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := fmt.Sprint(endpoint.requested); got != "[1 2 3]" {
		t.Fatalf("requested pages = %s", got)
	}
	if n := h.recordCount(t); n != 40 {
		t.Fatalf("expected 40 records, got %d", n)
	}
	if page, found := h.savedPage(t); !found || page != 2 {
		t.Fatalf("progress = %d (found=%v), want 2", page, found)
	}

	raw, err := afero.ReadFile(h.fs, h.records.ItemPath(h.cat, "a-3"))
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var item domain.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if item.Title != "Title 3" || item.Body != "Body 3 " || item.Page != 1 || item.Category != "questions" {
		t.Fatalf("unexpected record: %+v", item)
	}
}

func TestProcessorHonoursNbPages(t *testing.T) {
	h := newHarness(t, 0)
	endpoint := &fakeEndpoint{pages: map[int]fakePage{
		0: {hits: makeHits("a", 2), nbPages: 2},
		1: {hits: makeHits("b", 2), nbPages: 2},
		2: {hits: makeHits("c", 2), nbPages: 2},
	}}

	res, err := h.processor(endpoint, nil).Run(context.Background(), h.cat)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := fmt.Sprint(endpoint.requested); got != "[0 1]" {
		t.Fatalf("requested pages = %s", got)
	}
	if res.ItemsWritten != 4 || res.LastPage != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestProcessorResumesAfterCheckpoint(t *testing.T) {
	h := newHarness(t, 1)
	if err := h.store.SavePage(h.cat.ID, 5); err != nil {
		t.Fatalf("SavePage: %v", err)
	}
	endpoint := &fakeEndpoint{pages: map[int]fakePage{
		6: {hits: makeHits("f", 3)},
	}}

	res, err := h.processor(endpoint, nil).Run(context.Background(), h.cat)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if endpoint.requested[0] != 6 {
		t.Fatalf("expected resume at page 6, requested %v", endpoint.requested)
	}
	if res.FirstPage != 6 || res.LastPage != 6 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if page, _ := h.savedPage(t); page != 6 {
		t.Fatalf("progress = %d, want 6", page)
	}
}

func TestProcessorSkipsCombinedCategory(t *testing.T) {
	h := newHarness(t, 1)
	if err := h.records.WriteCombined(h.cat, []byte("[]")); err != nil {
		t.Fatalf("WriteCombined: %v", err)
	}
	endpoint := &fakeEndpoint{}

	res, err := h.processor(endpoint, nil).Run(context.Background(), h.cat)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != StatusSkipped || len(endpoint.requested) != 0 {
		t.Fatalf("expected skip without fetches, got %+v after %v", res, endpoint.requested)
	}
}

func TestProcessorAbortKeepsLastCheckpoint(t *testing.T) {
	h := newHarness(t, 1)
	exhausted := &httpclient.FetchExhaustedError{URL: "x", Attempts: 3, Last: errors.New("503")}
	endpoint := &fakeEndpoint{
		pages:  map[int]fakePage{1: {hits: makeHits("a", 4)}},
		failAt: map[int]error{2: exhausted},
	}

	res, err := h.processor(endpoint, nil).Run(context.Background(), h.cat)
	if !errors.Is(err, ErrCategoryAborted) || !errors.Is(err, httpclient.ErrFetchExhausted) {
		t.Fatalf("expected aborted exhaustion error, got %v", err)
	}
	if !IsAborted(err) || res.Status != StatusAborted || res.Aggregatable() {
		t.Fatalf("unexpected result: %+v", res)
	}
	if page, _ := h.savedPage(t); page != 1 {
		t.Fatalf("progress = %d, want 1", page)
	}

	// The next run resumes at the page that failed.
	endpoint.failAt = nil
	endpoint.requested = nil
	if _, err := h.processor(endpoint, nil).Run(context.Background(), h.cat); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if endpoint.requested[0] != 2 {
		t.Fatalf("expected resume at page 2, got %v", endpoint.requested)
	}
}

func TestProcessorAbortsOnMalformedPage(t *testing.T) {
	bodies := []string{
		`<html>`,
		`{"message":"Invalid Application-ID or API key","status":403}`,
	}
	for _, body := range bodies {
		h := newHarness(t, 1)
		fetcher := fetchFunc(func(context.Context, string, map[string]string, []byte) ([]byte, error) {
			return []byte(body), nil
		})

		res, err := h.processor(fetcher, nil).Run(context.Background(), h.cat)
		if !errors.Is(err, ErrCategoryAborted) || !errors.Is(err, searchapi.ErrMalformedResponse) {
			t.Fatalf("body %s: expected malformed-response abort, got %v", body, err)
		}
		if res.Status != StatusAborted || res.Aggregatable() {
			t.Fatalf("body %s: unexpected result %+v", body, res)
		}
		if _, found := h.savedPage(t); found {
			t.Fatalf("body %s: no checkpoint expected after a failed first page", body)
		}
	}
}

func TestProcessorQuarantinesMissingObjectID(t *testing.T) {
	h := newHarness(t, 1)
	hits := makeHits("a", 3)
	hits[1].ObjectID = nil
	endpoint := &fakeEndpoint{pages: map[int]fakePage{1: {hits: hits}}}

	res, err := h.processor(endpoint, nil).Run(context.Background(), h.cat)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ItemsQuarantined != 1 || res.ItemsWritten != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if n := h.recordCount(t); n != 2 {
		t.Fatalf("expected 2 records, got %d", n)
	}
}

func TestProcessorNumericObjectID(t *testing.T) {
	h := newHarness(t, 1)
	endpoint := &fakeEndpoint{pages: map[int]fakePage{1: {hits: []fakeHit{{ObjectID: 4821, Title: "n"}}}}}

	if _, err := h.processor(endpoint, nil).Run(context.Background(), h.cat); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ok, _ := afero.Exists(h.fs, filepath.Join("data", "questions", "4821.json")); !ok {
		t.Fatalf("expected record named after numeric id")
	}
}

// flakyWriter fails writes for selected ids.
type flakyWriter struct {
	*records.Store
	fail map[string]bool
}

func (w *flakyWriter) WriteItem(cat categories.Category, item domain.Item) (bool, error) {
	if w.fail[item.ObjectID] {
		return false, errors.New("disk full")
	}
	return w.Store.WriteItem(cat, item)
}

func TestProcessorRetriesFailedItemsOnNextRun(t *testing.T) {
	h := newHarness(t, 1)
	endpoint := &fakeEndpoint{pages: map[int]fakePage{
		1: {hits: makeHits("a", 3)},
		2: {hits: makeHits("b", 3)},
	}}

	writer := &flakyWriter{Store: h.records, fail: map[string]bool{"a-1": true}}
	res, err := h.processor(endpoint, writer).Run(context.Background(), h.cat)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ItemsFailed != 1 || res.LastPage != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Status != StatusIncomplete || res.ItemsOutstanding != 1 || res.Aggregatable() {
		t.Fatalf("category with pending failures must stay uncombined: %+v", res)
	}
	failed, err := h.store.FailedItems(h.cat.ID)
	if err != nil || len(failed) != 1 || failed[0].ObjectID != "a-1" || failed[0].Page != 1 {
		t.Fatalf("unexpected ledger: %+v (%v)", failed, err)
	}

	endpoint.requested = nil
	res, err = h.processor(endpoint, nil).Run(context.Background(), h.cat)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.ItemsRecovered != 1 || res.ItemsWritten != 1 || res.Status != StatusCompleted {
		t.Fatalf("unexpected retry result: %+v", res)
	}
	if got := fmt.Sprint(endpoint.requested); got != "[1 3]" {
		t.Fatalf("requested pages = %s", got)
	}
	if failed, _ := h.store.FailedItems(h.cat.ID); len(failed) != 0 {
		t.Fatalf("expected ledger to be cleared, got %+v", failed)
	}
	if n := h.recordCount(t); n != 6 {
		t.Fatalf("expected 6 records, got %d", n)
	}
}

func TestProcessorStopsOnCancelledContext(t *testing.T) {
	h := newHarness(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	endpoint := &fakeEndpoint{pages: map[int]fakePage{1: {hits: makeHits("a", 1)}, 2: {hits: makeHits("b", 1)}}}

	p := h.processor(endpoint, nil)
	p.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	_, err := p.Run(ctx, h.cat)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if page, _ := h.savedPage(t); page != 1 {
		t.Fatalf("progress = %d, want 1", page)
	}
}

type fetchFunc func(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error) {
	return f(ctx, url, headers, body)
}
