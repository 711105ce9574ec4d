package regional

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"github.com/vkadlec/judikat/internal/logger"
	"github.com/vkadlec/judikat/internal/source"
)

const SourceID = "regional"

// defaultPortalURL is the central search portal covering the regional courts.
const defaultPortalURL = "https://rozhodnuti.justice.cz"

// Court identifies one regional court.
type Court struct {
	Code    string
	Name    string
	BaseURL string
}

// Courts lists the regional courts this adapter queries.
var Courts = []Court{
	{Code: "KSOS", Name: "Krajský soud v Ostravě", BaseURL: "https://www.ksos.justice.cz"},
	{Code: "KSPH", Name: "Krajský soud v Praze", BaseURL: "https://www.ksph.justice.cz"},
	{Code: "KSBR", Name: "Krajský soud v Brně", BaseURL: "https://www.ksbr.justice.cz"},
	{Code: "KSUL", Name: "Krajský soud v Ústí nad Labem", BaseURL: "https://www.ksul.justice.cz"},
	{Code: "KSHK", Name: "Krajský soud v Hradci Králové", BaseURL: "https://www.kshk.justice.cz"},
	{Code: "KSCB", Name: "Krajský soud v Českých Budějovicích", BaseURL: "https://www.kscb.justice.cz"},
	{Code: "KSPL", Name: "Krajský soud v Plzni", BaseURL: "https://www.kspl.justice.cz"},
}

// feedPaths are the usual locations of a court's own RSS feed.
var feedPaths = []string{"/feed/", "/rss/", "/rozhodnuti/feed/"}

// Adapter implements Source over the regional courts. Each court is queried
// through the central justice portal first; when the portal yields nothing
// the court's own RSS feed is tried as a fallback.
type Adapter struct {
	client *resty.Client
	portal string
	courts []Court
	delay  time.Duration
}

// Config holds the regional adapter configuration. Zero values fall back to
// the public portal and the full court list.
type Config struct {
	PortalURL string
	Courts    []Court
	Delay     time.Duration
	UserAgent string
}

// NewAdapter creates a new regional courts adapter.
func NewAdapter(cfg Config) *Adapter {
	portal := strings.TrimSuffix(cfg.PortalURL, "/")
	if portal == "" {
		portal = defaultPortalURL
	}
	courts := cfg.Courts
	if len(courts) == 0 {
		courts = Courts
	}
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", cfg.UserAgent)
	return &Adapter{
		client: client,
		portal: portal,
		courts: courts,
		delay:  cfg.Delay,
	}
}

// ID returns the stable identifier for this source.
func (a *Adapter) ID() string {
	return SourceID
}

// Search queries every configured court for the keyword. A court that fails
// is logged and skipped; the search only errors when no court answered.
func (a *Adapter) Search(ctx context.Context, keyword string, limit int) ([]source.Candidate, error) {
	log := logger.FromContext(ctx).WithField(logger.FieldSource, SourceID)

	var out []source.Candidate
	failures := 0
	for i, court := range a.courts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		if i > 0 && a.delay > 0 {
			select {
			case <-time.After(a.delay):
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}

		remaining := 0
		if limit > 0 {
			remaining = limit - len(out)
		}
		cands, err := a.searchCourt(ctx, court, keyword, remaining)
		if err != nil {
			failures++
			log.WithError(err).WithField("court", court.Code).Warn("Court search failed")
			continue
		}
		out = append(out, cands...)
	}

	if failures > 0 && failures == len(a.courts) {
		return nil, fmt.Errorf("all %d regional courts failed", failures)
	}
	log.WithField(logger.FieldCount, len(out)).Debug("regional courts searched")
	return out, nil
}

// searchCourt tries the central portal, then the court's RSS feed. An empty
// portal result that parsed cleanly stands; the feed only covers portal
// failures or silence.
func (a *Adapter) searchCourt(ctx context.Context, court Court, keyword string, limit int) ([]source.Candidate, error) {
	cands, portalErr := a.searchPortal(ctx, court, keyword, limit)
	if portalErr == nil && len(cands) > 0 {
		return cands, nil
	}

	feedCands, feedErr := a.searchFeed(ctx, court, keyword, limit)
	if feedErr != nil {
		if portalErr != nil {
			return nil, fmt.Errorf("portal: %v; feed: %v", portalErr, feedErr)
		}
		return nil, nil
	}
	return feedCands, nil
}

// searchPortal queries the central justice portal for one court.
func (a *Adapter) searchPortal(ctx context.Context, court Court, keyword string, limit int) ([]source.Candidate, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     keyword,
			"court": court.Code,
		}).
		Get(a.portal + "/search")
	if err != nil {
		return nil, fmt.Errorf("failed to query portal: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("portal returned status %d", resp.StatusCode())
	}
	return parsePortalResults(resp.Body(), court, a.portal, limit)
}

// parsePortalResults extracts candidates from the portal's result markup.
// Each result item carries a title heading, a detail link, and usually the
// ECLI; items without one get it synthesized from the court and link.
func parsePortalResults(body []byte, court Court, base string, limit int) ([]source.Candidate, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse result page: %w", err)
	}

	var out []source.Candidate
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if limit > 0 && len(out) >= limit {
			return
		}
		if hasClass(n, "search-result-item") {
			if c, ok := itemCandidate(n, court, base); ok {
				out = append(out, c)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return out, nil
}

func itemCandidate(item *html.Node, court Court, base string) (source.Candidate, bool) {
	title := strings.TrimSpace(nodeText(findNode(item, isElement("h3"))))
	link := attrVal(findNode(item, isElement("a")), "href")
	if title == "" || link == "" {
		return source.Candidate{}, false
	}
	if !strings.HasPrefix(link, "http") {
		link = base + link
	}
	ecli := strings.TrimSpace(nodeText(findNode(item, func(n *html.Node) bool {
		return hasClass(n, "ecli")
	})))
	if ecli == "" {
		ecli = "CZ:" + court.Code + ":" + linkSlug(link)
	}
	return source.Candidate{
		ECLI:      ecli,
		Title:     title,
		SourceURL: link,
		Docket:    "",
	}, true
}

type rssFeed struct {
	XMLName xml.Name  `xml:"rss"`
	Items   []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
}

// searchFeed probes the court's usual feed locations and filters the first
// parseable feed by keyword.
func (a *Adapter) searchFeed(ctx context.Context, court Court, keyword string, limit int) ([]source.Candidate, error) {
	var lastErr error
	for _, path := range feedPaths {
		resp, err := a.client.R().SetContext(ctx).Get(court.BaseURL + path)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.IsError() {
			lastErr = fmt.Errorf("feed returned status %d", resp.StatusCode())
			continue
		}
		var feed rssFeed
		if err := xml.Unmarshal(resp.Body(), &feed); err != nil {
			lastErr = fmt.Errorf("failed to parse feed: %w", err)
			continue
		}

		var out []source.Candidate
		for _, item := range feed.Items {
			if limit > 0 && len(out) >= limit {
				break
			}
			if !matchesKeyword(item.Title+" "+item.Description, keyword) {
				continue
			}
			slug := linkSlug(item.Link)
			if slug == "" {
				continue
			}
			out = append(out, source.Candidate{
				ECLI:      "CZ:" + court.Code + ":RSS:" + slug,
				Title:     strings.TrimSpace(item.Title),
				SourceURL: item.Link,
			})
		}
		return out, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no feed found for %s", court.Code)
	}
	return nil, lastErr
}

func matchesKeyword(haystack, keyword string) bool {
	words := strings.Fields(strings.ToLower(keyword))
	if len(words) == 0 {
		return false
	}
	h := strings.ToLower(haystack)
	for _, w := range words {
		if strings.Contains(h, w) {
			return true
		}
	}
	return false
}

// linkSlug extracts the last non-empty path segment of a link.
func linkSlug(link string) string {
	parts := strings.Split(strings.TrimSuffix(link, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func isElement(name string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == name
	}
}

// findNode returns the first descendant matching the predicate, depth first.
func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attrVal(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
