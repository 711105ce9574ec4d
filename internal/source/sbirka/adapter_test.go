package sbirka

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Sbírka rozhodnutí</title>
    <item>
      <title>Rozsudek o dani z nemovitostí</title>
      <link>https://sbirka.example/rozhodnuti/ns-1234/</link>
      <pubDate>Mon, 02 Jan 2023 15:04:05 +0100</pubDate>
      <description>Výklad ustanovení o dani</description>
    </item>
    <item>
      <title>Usnesení o náhradě škody</title>
      <link>https://sbirka.example/rozhodnuti/ns-5678/</link>
      <pubDate>Tue, 03 Jan 2023 10:00:00 +0100</pubDate>
      <description>Odpovědnost za škodu</description>
    </item>
  </channel>
</rss>`

func feedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchFiltersByKeyword(t *testing.T) {
	srv := feedServer(t, http.StatusOK, sampleFeed)
	a := NewAdapter(srv.URL, "test-agent")

	candidates, err := a.Search(context.Background(), "dani", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}
	c := candidates[0]
	if c.ECLI != "CZ:NS:RSS:ns-1234" {
		t.Errorf("ecli = %q", c.ECLI)
	}
	if c.SourceURL != "https://sbirka.example/rozhodnuti/ns-1234/" {
		t.Errorf("source url = %q", c.SourceURL)
	}
	if c.Date == nil || c.Date.Day() != 2 {
		t.Errorf("date = %v", c.Date)
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	srv := feedServer(t, http.StatusOK, sampleFeed)
	a := NewAdapter(srv.URL, "test-agent")

	// Both items mention "o", limit keeps only the first.
	candidates, err := a.Search(context.Background(), "o", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(candidates) != 1 {
		t.Errorf("candidates = %d, want 1", len(candidates))
	}
}

func TestSearchFeedError(t *testing.T) {
	srv := feedServer(t, http.StatusBadGateway, "upstream down")
	a := NewAdapter(srv.URL, "test-agent")

	if _, err := a.Search(context.Background(), "dani", 0); err == nil {
		t.Error("expected error for 5xx feed response")
	}
}

func TestSearchMalformedFeed(t *testing.T) {
	srv := feedServer(t, http.StatusOK, "<not-xml")
	a := NewAdapter(srv.URL, "test-agent")

	if _, err := a.Search(context.Background(), "dani", 0); err == nil {
		t.Error("expected parse error for malformed feed")
	}
}

func TestLinkSlug(t *testing.T) {
	if got := linkSlug("https://x/a/b/"); got != "b" {
		t.Errorf("linkSlug = %q, want b", got)
	}
	if got := linkSlug(""); got != "" {
		t.Errorf("linkSlug of empty = %q", got)
	}
}
