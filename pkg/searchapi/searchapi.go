// Package searchapi encodes paginated multi-index search queries and decodes
// their hits.
package searchapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	highlightPreTag  = "__ais-highlight__"
	highlightPostTag = "__/ais-highlight__"
)

// ErrMalformedResponse is returned when a page body cannot be decoded.
var ErrMalformedResponse = errors.New("malformed search response")

// Query describes one page request against an index.
type Query struct {
	IndexName   string
	Page        int
	HitsPerPage int
	// Filters are merged into params and may override the defaults.
	Filters map[string]any
}

type queryEnvelope struct {
	IndexName string         `json:"indexName"`
	Params    map[string]any `json:"params"`
}

// Encode renders q as the JSON array body the endpoint expects.
func (q Query) Encode() ([]byte, error) {
	if strings.TrimSpace(q.IndexName) == "" {
		return nil, errors.New("index name is required")
	}
	params := map[string]any{
		"facets":           []string{},
		"highlightPostTag": highlightPostTag,
		"highlightPreTag":  highlightPreTag,
		"query":            "",
		"tagFilters":       "",
	}
	for k, v := range q.Filters {
		params[k] = v
	}
	params["hitsPerPage"] = q.HitsPerPage
	params["page"] = q.Page

	return json.Marshal([]queryEnvelope{{IndexName: q.IndexName, Params: params}})
}

// Hit is one raw item as returned by the endpoint.
type Hit struct {
	ObjectID ObjectID `json:"objectID"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	URL      string   `json:"url"`
}

// Page is the decoded first result set of a response.
type Page struct {
	Hits    []Hit `json:"hits"`
	NbPages int   `json:"nbPages"`
	Page    int   `json:"page"`
}

// IsLast reports whether the endpoint declared page as its final page.
func (p Page) IsLast(page int) bool {
	return p.NbPages > 0 && page >= p.NbPages-1
}

type rawPage struct {
	Hits    *[]Hit `json:"hits"`
	NbPages int    `json:"nbPages"`
	Page    int    `json:"page"`
}

type response struct {
	Results []rawPage `json:"results"`
}

// Decode parses a response body. The body must carry a results array whose
// first entry has a hits array; an empty hits array is the end of the data.
// Anything else, such as an error document served with a 2xx status, is
// ErrMalformedResponse.
func Decode(body []byte) (Page, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(resp.Results) == 0 {
		return Page{}, fmt.Errorf("%w: no results in body %s", ErrMalformedResponse, snippet(body))
	}
	first := resp.Results[0]
	if first.Hits == nil {
		return Page{}, fmt.Errorf("%w: results[0] has no hits", ErrMalformedResponse)
	}
	return Page{Hits: *first.Hits, NbPages: first.NbPages, Page: first.Page}, nil
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// ObjectID accepts both string and numeric identifiers.
type ObjectID string

func (o *ObjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = ObjectID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("objectID must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("objectID must be a string or number: %w", err)
	}
	*o = ObjectID(n.String())
	return nil
}

func (o ObjectID) String() string { return string(o) }
