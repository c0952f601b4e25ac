package llm

import (
	"context"
	"fmt"

	"github.com/jonathan/docpipeline/internal/ratelimit"
)

// RateLimited wraps a Client so every generation call first takes a token from
// a shared bucket. One bucket is shared by all workers of all concurrent runs.
type RateLimited struct {
	Client
	bucket *ratelimit.TokenBucket
}

// NewRateLimited wraps c. A nil bucket disables limiting.
func NewRateLimited(c Client, bucket *ratelimit.TokenBucket) *RateLimited {
	return &RateLimited{Client: c, bucket: bucket}
}

func (r *RateLimited) wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait aborted: %w", err)
	}
	return nil
}

// GenerateContent waits for a token, then delegates
func (r *RateLimited) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.Client.GenerateContent(ctx, prompt, tier)
}

// GenerateJSON waits for a token, then delegates
func (r *RateLimited) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.Client.GenerateJSON(ctx, prompt, tier)
}

// GenerateWithImages waits for a token, then delegates
func (r *RateLimited) GenerateWithImages(ctx context.Context, prompt string, images []Image, tier ModelTier) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.Client.GenerateWithImages(ctx, prompt, images, tier)
}
