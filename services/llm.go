package services

import "context"

// CompleteOptions tune a single completion call. Zero values fall back to the
// implementation's defaults.
type CompleteOptions struct {
	System      string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// LLMService is the only path to a language model. Implementations return
// *ProviderError or *RateLimitError for upstream failures so callers can pick
// a retry policy by type.
type LLMService interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)
}

// ImageService generates a visual asset for a prompt. Implementations follow
// the same error contract as LLMService.
type ImageService interface {
	Generate(ctx context.Context, req ImageRequest) (GeneratedImage, error)
}

// ImageRequest describes the asset to produce.
type ImageRequest struct {
	Prompt   string
	Style    string
	Platform string
}

// GeneratedImage is a provider-issued asset reference.
type GeneratedImage struct {
	URL    string
	Width  int
	Height int
}

// platformSizes maps social platforms to their native image dimensions.
var platformSizes = map[string][2]int{
	"instagram": {1080, 1080},
	"facebook":  {1200, 630},
	"twitter":   {1600, 900},
	"linkedin":  {1200, 627},
	"tiktok":    {1080, 1920},
}

// PlatformSize returns the native image dimensions for a platform, defaulting
// to square when the platform is unknown.
func PlatformSize(platform string) (w, h int) {
	if s, ok := platformSizes[platform]; ok {
		return s[0], s[1]
	}
	return 1024, 1024
}
