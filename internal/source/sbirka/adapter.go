package sbirka

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vkadlec/judikat/internal/logger"
	"github.com/vkadlec/judikat/internal/source"
)

const SourceID = "sbirka"

// Adapter implements Source over the supreme court collection RSS feed.
// The feed only carries the newest publications, so it complements the
// registry source rather than replacing it.
type Adapter struct {
	client  *resty.Client
	feedURL string
}

// NewAdapter creates a new RSS feed adapter.
func NewAdapter(feedURL, userAgent string) *Adapter {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", userAgent)
	return &Adapter{client: client, feedURL: feedURL}
}

// ID returns the stable identifier for this source.
func (a *Adapter) ID() string {
	return SourceID
}

type rssFeed struct {
	XMLName xml.Name  `xml:"rss"`
	Items   []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

// Search fetches the feed and returns items whose title or description
// match any word of the keyword.
func (a *Adapter) Search(ctx context.Context, keyword string, limit int) ([]source.Candidate, error) {
	log := logger.FromContext(ctx).WithField(logger.FieldSource, SourceID)

	resp, err := a.client.R().SetContext(ctx).Get(a.feedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode())
	}

	var feed rssFeed
	if err := xml.Unmarshal(resp.Body(), &feed); err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	words := strings.Fields(strings.ToLower(keyword))
	if len(words) == 0 {
		return nil, nil
	}

	var candidates []source.Candidate
	for _, item := range feed.Items {
		if limit > 0 && len(candidates) >= limit {
			break
		}
		haystack := strings.ToLower(item.Title + " " + item.Description)
		matched := false
		for _, w := range words {
			if strings.Contains(haystack, w) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		slug := linkSlug(item.Link)
		if slug == "" {
			continue
		}
		candidates = append(candidates, source.Candidate{
			ECLI:      "CZ:NS:RSS:" + slug,
			Title:     strings.TrimSpace(item.Title),
			SourceURL: item.Link,
			Date:      parsePubDate(item.PubDate),
		})
	}

	log.WithField(logger.FieldCount, len(candidates)).Debug("feed filtered")
	return candidates, nil
}

// linkSlug extracts the last non-empty path segment of a feed link.
func linkSlug(link string) string {
	parts := strings.Split(strings.TrimSuffix(link, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func parsePubDate(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}
