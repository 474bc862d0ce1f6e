package scraper

import "errors"

// ErrCategoryAborted wraps every error that stopped a category's page loop.
var ErrCategoryAborted = errors.New("category aborted")

// Status is the final state of one category run.
type Status string

const (
	// StatusSkipped means the combined artifact already existed; nothing was fetched.
	StatusSkipped Status = "skipped"
	// StatusCompleted means the endpoint signalled the end of the data.
	StatusCompleted Status = "completed"
	// StatusIncomplete means the endpoint signalled the end of the data but
	// some items are still waiting in the failure ledger for a retry.
	StatusIncomplete Status = "incomplete"
	// StatusAborted means a fetch, decode or checkpoint failure stopped the loop.
	StatusAborted Status = "aborted"
)

// Result summarizes one category run.
type Result struct {
	Category string
	Status   Status
	// FirstPage is the first page requested by the main loop.
	FirstPage int
	// LastPage is the last committed page, -1 when nothing was ever committed.
	LastPage         int
	PagesFetched     int
	ItemsWritten     int
	ItemsExisting    int
	ItemsFailed      int
	ItemsQuarantined int
	ItemsRecovered   int
	// ItemsOutstanding counts ledger entries left after the run.
	ItemsOutstanding int
	Err              error
}

// Aggregatable reports whether the category's records are complete enough to
// combine. Incomplete categories stay uncombined so the next run retries them.
func (r Result) Aggregatable() bool {
	return r.Status == StatusCompleted || r.Status == StatusSkipped
}
