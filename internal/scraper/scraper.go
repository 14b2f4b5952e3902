// Package scraper extracts recent replay links from the upstream replay page.
//
// The upstream page carries two link-list containers: the first lists featured
// replays and the second lists recent ones. Only anchors inside list items of
// the container at TargetOccurrence are returned. Anything that does not match
// that layout yields an empty list rather than an error.
package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Defaults describing the known upstream layout.
const (
	DefaultBaseURL           = "http://replay.pokemonshowdown.com"
	DefaultContainerSelector = ".linklist"
	DefaultLinkSelector      = "li > a"
	// DefaultTargetOccurrence is zero-based: the featured list sits at 0.
	DefaultTargetOccurrence = 1
)

// ReplayList is the JSON body returned to callers.
type ReplayList struct {
	Replays []string `json:"replays"`
}

// Config controls which containers and anchors are selected.
type Config struct {
	BaseURL           string
	ContainerSelector string
	LinkSelector      string
	TargetOccurrence  int
}

// DefaultConfig returns the configuration matching the upstream page.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		ContainerSelector: DefaultContainerSelector,
		LinkSelector:      DefaultLinkSelector,
		TargetOccurrence:  DefaultTargetOccurrence,
	}
}

// Scraper holds compiled selectors. It is immutable and safe for concurrent use.
type Scraper struct {
	baseURL          string
	container        cascadia.Selector
	link             cascadia.Selector
	targetOccurrence int
}

// New compiles the configured selectors.
func New(cfg Config) (*Scraper, error) {
	if cfg.TargetOccurrence < 0 {
		return nil, fmt.Errorf("target occurrence must be >= 0, got %d", cfg.TargetOccurrence)
	}
	container, err := cascadia.Compile(cfg.ContainerSelector)
	if err != nil {
		return nil, fmt.Errorf("parse container selector %q: %w", cfg.ContainerSelector, err)
	}
	link, err := cascadia.Compile(cfg.LinkSelector)
	if err != nil {
		return nil, fmt.Errorf("parse link selector %q: %w", cfg.LinkSelector, err)
	}
	return &Scraper{
		baseURL:          strings.TrimSuffix(cfg.BaseURL, "/"),
		container:        container,
		link:             link,
		targetOccurrence: cfg.TargetOccurrence,
	}, nil
}

var defaultScraper = mustNew(DefaultConfig())

func mustNew(cfg Config) *Scraper {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrape runs the default scraper over doc and returns the JSON body.
func Scrape(doc string) string {
	return defaultScraper.Scrape(doc)
}

// Extract returns the fully-qualified replay links found in doc, in document order.
// Duplicates are kept. The result is never nil.
func (s *Scraper) Extract(doc string) ReplayList {
	list := ReplayList{Replays: []string{}}

	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return list
	}

	containers := parsed.FindMatcher(s.container)
	if containers.Length() <= s.targetOccurrence {
		return list
	}

	containers.Eq(s.targetOccurrence).FindMatcher(s.link).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		list.Replays = append(list.Replays, s.baseURL+href)
	})
	return list
}

// Scrape extracts the replay links from doc and encodes them as JSON.
func (s *Scraper) Scrape(doc string) string {
	return Encode(s.Extract(doc))
}

// Encode serializes list without HTML-escaping so links appear verbatim.
func Encode(list ReplayList) string {
	if list.Replays == nil {
		list.Replays = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(list); err != nil {
		return `{"replays":[]}`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
