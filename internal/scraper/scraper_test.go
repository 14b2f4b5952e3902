package scraper

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const upstreamPage = `<!DOCTYPE html>
<html><body>
<ul class="linklist">
  <li><a href="/featured-1">Featured 1</a></li>
  <li><a href="/featured-2">Featured 2</a></li>
</ul>
<h3>Recent replays</h3>
<ul class="linklist">
  <li><a href="/gen9ou-100">gen9ou</a></li>
  <li><a>no href</a></li>
  <li><a href="/gen9randombattle-200">random</a></li>
  <li><span><a href="/nested-not-direct">skip</a></span></li>
  <li><a href="/gen9ou-100">dup</a></li>
</ul>
</body></html>`

func TestExtractSecondContainerOnly(t *testing.T) {
	t.Parallel()

	got := Scrape(upstreamPage)

	require.JSONEq(t, `{"replays":[
		"http://replay.pokemonshowdown.com/gen9ou-100",
		"http://replay.pokemonshowdown.com/gen9randombattle-200",
		"http://replay.pokemonshowdown.com/gen9ou-100"
	]}`, got)
	require.NotContains(t, got, "featured")
}

func TestExtractEmptyCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty document", doc: ""},
		{name: "no containers", doc: `<html><body><ul><li><a href="/x">x</a></li></ul></body></html>`},
		{name: "featured only", doc: `<ul class="linklist"><li><a href="/featured">f</a></li></ul>`},
		{name: "garbage markup", doc: `<<<ul class="linklist"><li><a href=>"</ul></ul></div>`},
		{name: "second container without list items", doc: `<div class="linklist"></div><div class="linklist"><a href="/x">x</a></div>`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, `{"replays":[]}`, Scrape(tt.doc))
		})
	}
}

func TestExtractJoinsHrefVerbatim(t *testing.T) {
	t.Parallel()

	doc := `<ul class="linklist"></ul><ul class="linklist">` +
		`<li><a href="/foo">a</a></li>` +
		`<li><a href="/search?user=a&amp;format=b">b</a></li>` +
		`<li><a href="">c</a></li>` +
		`</ul>`

	list := defaultScraper.Extract(doc)

	require.Equal(t, []string{
		"http://replay.pokemonshowdown.com/foo",
		"http://replay.pokemonshowdown.com/search?user=a&format=b",
		"http://replay.pokemonshowdown.com",
	}, list.Replays)
	require.Contains(t, Encode(list), `user=a&format=b`)
}

func TestExtractPreservesDocumentOrder(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(`<ul class="linklist"><li><a href="/skip">s</a></li></ul><ul class="linklist">`)
	want := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		href := "/r-" + strings.Repeat("x", i)
		b.WriteString(`<li><a href="` + href + `">r</a></li>`)
		want = append(want, DefaultBaseURL+href)
	}
	b.WriteString(`</ul>`)

	var decoded ReplayList
	require.NoError(t, json.Unmarshal([]byte(Scrape(b.String())), &decoded))
	require.Equal(t, want, decoded.Replays)
}

func TestTargetOccurrenceIsConfigurable(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TargetOccurrence = 0
	cfg.BaseURL = "https://example.com/"
	s, err := New(cfg)
	require.NoError(t, err)

	list := s.Extract(upstreamPage)
	require.Equal(t, []string{
		"https://example.com/featured-1",
		"https://example.com/featured-2",
	}, list.Replays)

	cfg.TargetOccurrence = 2
	s, err = New(cfg)
	require.NoError(t, err)
	require.Empty(t, s.Extract(upstreamPage).Replays)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ContainerSelector = "[[["
	_, err := New(cfg)
	require.ErrorContains(t, err, "container selector")

	cfg = DefaultConfig()
	cfg.LinkSelector = "li >"
	_, err = New(cfg)
	require.ErrorContains(t, err, "link selector")

	cfg = DefaultConfig()
	cfg.TargetOccurrence = -1
	_, err = New(cfg)
	require.ErrorContains(t, err, "target occurrence")
}

func TestEncodeNilList(t *testing.T) {
	t.Parallel()

	require.Equal(t, `{"replays":[]}`, Encode(ReplayList{}))
}
