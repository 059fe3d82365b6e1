package command

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
)

// RateLimitedPoster spaces out chat posts so the host never floods the
// chat, and splits replies longer than the chat's line limit.
type RateLimitedPoster struct {
	next    Poster
	limiter *rate.Limiter
	maxLen  int
}

// NewRateLimitedPoster allows perSecond posts with the given burst. maxLen
// of 0 disables splitting.
func NewRateLimitedPoster(next Poster, perSecond float64, burst, maxLen int) *RateLimitedPoster {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedPoster{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		maxLen:  maxLen,
	}
}

// Post waits for the limiter, then posts each chunk of text.
func (p *RateLimitedPoster) Post(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, p.maxLen) {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("command: rate limit: %w", err)
		}
		if err := p.next.Post(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts text into pieces of at most limit runes, preferring to cut
// at a space.
func splitText(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}
	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " "))
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
