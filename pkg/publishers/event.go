package publishers

import "time"

// Event announces that a category finished a run.
type Event struct {
	Category     string    `json:"category"`
	Status       string    `json:"status"`
	LastPage     int       `json:"last_page"`
	PagesFetched int       `json:"pages_fetched"`
	ItemsWritten int       `json:"items_written"`
	ItemsFailed  int       `json:"items_failed"`
	Outstanding  int       `json:"items_outstanding"`
	Combined     bool      `json:"combined"`
	Records      int       `json:"records"`
	Artifact     string    `json:"artifact_path,omitempty"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// NewEvent constructs an Event stamped with the current time.
func NewEvent(category, status string) Event {
	return Event{
		Category:   category,
		Status:     status,
		LastPage:   -1,
		FinishedAt: time.Now().UTC(),
	}
}

// attributes are the message attributes shared by queue-style sinks.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"category": e.Category,
		"status":   e.Status,
	}
}
