package categories

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Package categories holds the per-category scrape configuration (YAML/JSON).

const (
	DefaultEndpoint    = "https://search.altibbi.com/api/all"
	DefaultHitsPerPage = 100
)

// Category is the explicit configuration of one content category.
type Category struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	IndexName    string            `json:"index_name" yaml:"index_name"`
	Endpoint     string            `json:"endpoint" yaml:"endpoint"`
	Dir          string            `json:"dir" yaml:"dir"`
	CombinedFile string            `json:"combined_file" yaml:"combined_file"`
	PageSize     int               `json:"page_size" yaml:"page_size"`
	StartPage    int               `json:"start_page" yaml:"start_page"`
	Headers      map[string]string `json:"headers" yaml:"headers"`
	Filters      map[string]any    `json:"filters" yaml:"filters"`
}

// ItemDir is the directory holding one record per item.
func (c Category) ItemDir(dataDir string) string {
	return filepath.Join(dataDir, c.Dir)
}

// CombinedPath is the location of the category's combined artifact.
func (c Category) CombinedPath(dataDir string) string {
	return filepath.Join(dataDir, c.CombinedFile)
}

type configFile struct {
	Categories []Category `json:"categories" yaml:"categories"`
}

// Registry is an ordered, validated set of categories.
type Registry struct {
	mu         sync.RWMutex
	categories []Category
	idx        map[string]Category
}

// DefaultHeaders are sent when a category declares none.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Content-Type":    "application/json",
		"Origin":          "null",
		"DNT":             "1",
		"Sec-Fetch-Dest":  "document",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "cross-site",
		"Pragma":          "no-cache",
		"Cache-Control":   "no-cache",
	}
}

// Defaults returns the built-in articles, news articles and questions categories.
func Defaults() []Category {
	return []Category{
		{ID: "articles", Name: "Articles", IndexName: "article-lists", Dir: "articles", CombinedFile: "all_articles.json"},
		{ID: "news_articles", Name: "News articles", IndexName: "news_articles", Dir: "news_articles", CombinedFile: "all_news_articles.json"},
		{ID: "questions", Name: "Questions", IndexName: "questions", Dir: "questions", CombinedFile: "all_questions.json"},
	}
}

// DefaultRegistry builds a registry from Defaults.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(Defaults())
	if err != nil {
		panic(fmt.Sprintf("default categories invalid: %v", err))
	}
	return reg
}

// NewRegistry sanitizes and validates cats, preserving their order.
func NewRegistry(cats []Category) (*Registry, error) {
	if len(cats) == 0 {
		return nil, errors.New("no categories configured")
	}
	reg := &Registry{
		categories: make([]Category, len(cats)),
		idx:        make(map[string]Category, len(cats)),
	}
	dirs := make(map[string]string, len(cats))
	for i := range cats {
		c := sanitizeCategory(cats[i])
		if err := validateCategory(c); err != nil {
			return nil, fmt.Errorf("categories[%d]: %w", i, err)
		}
		if _, exists := reg.idx[c.ID]; exists {
			return nil, fmt.Errorf("duplicate category id %q", c.ID)
		}
		if other, exists := dirs[c.Dir]; exists {
			return nil, fmt.Errorf("categories %q and %q share dir %q", other, c.ID, c.Dir)
		}
		dirs[c.Dir] = c.ID
		reg.categories[i] = c
		reg.idx[c.ID] = c
	}
	return reg, nil
}

// LoadRegistry loads categories from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("categories file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open categories file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}

	parsed, err := parseConfig(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(parsed.Categories) == 0 {
		return nil, errors.New("categories file contains no categories entries")
	}
	return NewRegistry(parsed.Categories)
}

type unmarshalFn func([]byte, any) error

func parseConfig(data []byte, ext string) (configFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var cfg configFile
		if err := d.fn(data, &cfg); err == nil {
			return cfg, nil
		}
	}
	return configFile{}, errors.New("categories file format not recognized (expected YAML or JSON)")
}

func sanitizeCategory(c Category) Category {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	c.IndexName = strings.TrimSpace(c.IndexName)
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Dir = strings.TrimSpace(c.Dir)
	c.CombinedFile = strings.TrimSpace(c.CombinedFile)

	if c.Name == "" {
		c.Name = c.ID
	}
	if c.IndexName == "" {
		c.IndexName = c.ID
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Dir == "" {
		c.Dir = c.ID
	}
	if c.CombinedFile == "" {
		c.CombinedFile = "all_" + c.Dir + ".json"
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultHitsPerPage
	}
	if c.StartPage < 0 {
		c.StartPage = 0
	}
	c.Headers = sanitizeHeaders(c.Headers)
	if len(c.Headers) == 0 {
		c.Headers = DefaultHeaders()
	}
	return c
}

func sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	return out
}

func validateCategory(c Category) error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if strings.ContainsAny(c.ID, `/\`) {
		return fmt.Errorf("id %q must not contain path separators", c.ID)
	}
	if filepath.IsAbs(c.Dir) || strings.Contains(c.Dir, "..") {
		return fmt.Errorf("dir %q for category %q must be relative to the data dir", c.Dir, c.ID)
	}
	if filepath.Ext(c.CombinedFile) != ".json" {
		return fmt.Errorf("combined_file %q for category %q must end in .json", c.CombinedFile, c.ID)
	}
	return nil
}

// All returns the categories in configured order.
func (r *Registry) All() []Category {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Category, len(r.categories))
	copy(out, r.categories)
	return out
}

// ByID returns the category with the given id.
func (r *Registry) ByID(id string) (Category, bool) {
	if r == nil {
		return Category{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.idx[strings.TrimSpace(id)]
	return c, ok
}
