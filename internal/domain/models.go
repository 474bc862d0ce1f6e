package domain

// Item is one scraped search hit after normalization. It is written once per
// category and never mutated afterwards.
type Item struct {
	ObjectID string `json:"objectID"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Page     int    `json:"page"`
}

// FailedItem records an item whose record could not be written so a later
// run can retry it.
type FailedItem struct {
	ObjectID string `json:"objectID"`
	Page     int    `json:"page"`
	Reason   string `json:"reason"`
}
