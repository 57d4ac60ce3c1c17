package chaptercache

import (
	"fmt"
	"slices"
	"strings"
)

// Policy decides whether a chapter may be cached for an actor.
type Policy struct {
	// MaxPages rejects chapters longer than this. Zero disables the limit.
	MaxPages int
	// AllowedContentRatings lists manga ratings that may be cached. Empty allows all.
	AllowedContentRatings []string
}

// Check returns a *ValidationError when caching is not permitted.
func (p Policy) Check(chapter ChapterMeta, manga MangaMeta, actor Actor) error {
	if actor.IsBot {
		return &ValidationError{Message: "Bots can't request chapters."}
	}
	if chapter.ExternalURL != "" {
		return &ValidationError{Message: "This chapter is hosted externally and can't be cached."}
	}
	if chapter.Pages <= 0 {
		return &ValidationError{Message: "This chapter has no pages."}
	}
	if p.MaxPages > 0 && chapter.Pages > p.MaxPages {
		return &ValidationError{
			Message: fmt.Sprintf("This chapter has %d pages, more than the %d that can be cached.", chapter.Pages, p.MaxPages),
		}
	}
	if len(p.AllowedContentRatings) > 0 {
		rating := strings.TrimSpace(manga.ContentRating)
		allowed := slices.ContainsFunc(p.AllowedContentRatings, func(candidate string) bool {
			return strings.EqualFold(candidate, rating)
		})
		if !allowed {
			return &ValidationError{Message: "This manga's content rating is not available here."}
		}
	}

	return nil
}
