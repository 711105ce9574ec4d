package service

import (
	"context"
	"strings"

	"github.com/vkadlec/judikat/internal/domain"
	"github.com/vkadlec/judikat/internal/repository"
)

const snippetRadius = 120

// SearchService wraps the repository's ranked search with snippet extraction.
type SearchService struct {
	repo *repository.DecisionRepository
}

func NewSearchService(repo *repository.DecisionRepository) *SearchService {
	return &SearchService{repo: repo}
}

// Search returns ranked results with a context snippet around the first
// query-term hit in each decision's text.
func (s *SearchService) Search(ctx context.Context, query string, limit, offset int) ([]domain.SearchResult, error) {
	results, err := s.repo.Search(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	tokens := strings.Fields(strings.ToLower(query))
	for i := range results {
		results[i].Snippet = snippet(results[i].FullText, tokens)
		// Full text stays out of result payloads; the snippet carries the hit.
		results[i].FullText = ""
	}
	return results, nil
}

// snippet cuts a window around the first token occurrence, aligned to rune
// boundaries so multibyte text never gets split mid-character.
func snippet(text string, tokens []string) string {
	if text == "" || len(tokens) == 0 {
		return ""
	}
	lower := strings.ToLower(text)
	pos := -1
	for _, t := range tokens {
		if i := strings.Index(lower, t); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}
	if pos < 0 {
		if len(text) <= 2*snippetRadius {
			return text
		}
		return alignRunes(text, 0, 2*snippetRadius) + "…"
	}

	start := pos - snippetRadius
	if start < 0 {
		start = 0
	}
	end := pos + snippetRadius
	if end > len(text) {
		end = len(text)
	}
	out := alignRunes(text, start, end)
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return strings.TrimSpace(out)
}

// alignRunes clamps byte offsets outward to valid UTF-8 boundaries.
func alignRunes(s string, start, end int) string {
	for start > 0 && start < len(s) && !isRuneStart(s[start]) {
		start++
	}
	if end > len(s) {
		end = len(s)
	}
	for end > start && end < len(s) && !isRuneStart(s[end]) {
		end--
	}
	return s[start:end]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
