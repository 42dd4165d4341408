package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// URLImage implements ImageService by constructing a generation URL against a
// render-on-fetch image endpoint. No request is made here; the asset is
// produced when the URL is first dereferenced. This is the zero-credential
// fallback provider.
type URLImage struct {
	baseURL string
}

// DefaultImageBaseURL is the public render-on-fetch endpoint.
const DefaultImageBaseURL = "https://image.pollinations.ai/prompt"

// NewURLImage builds the provider. An empty baseURL uses the default public
// endpoint.
func NewURLImage(baseURL string) *URLImage {
	if baseURL == "" {
		baseURL = DefaultImageBaseURL
	}
	return &URLImage{baseURL: baseURL}
}

func (u *URLImage) Generate(_ context.Context, req ImageRequest) (GeneratedImage, error) {
	if req.Prompt == "" {
		return GeneratedImage{}, &ProviderError{Provider: "url-image", Op: "generate", Err: errors.New("empty prompt")}
	}
	prompt := req.Prompt
	if req.Style != "" {
		prompt = fmt.Sprintf("%s, %s style", prompt, req.Style)
	}
	w, h := PlatformSize(req.Platform)
	q := url.Values{}
	q.Set("width", strconv.Itoa(w))
	q.Set("height", strconv.Itoa(h))
	q.Set("nologo", "true")
	return GeneratedImage{
		URL:    fmt.Sprintf("%s/%s?%s", u.baseURL, url.PathEscape(prompt), q.Encode()),
		Width:  w,
		Height: h,
	}, nil
}

// HTTPImage implements ImageService against a JSON generation API: it POSTs
// the request and expects {"url": "..."} back.
type HTTPImage struct {
	endpoint string
	apiKey   string
	client   *http.Client
	log      zerolog.Logger
}

// HTTPImageOption configures an HTTPImage.
type HTTPImageOption func(*HTTPImage)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPImageOption {
	return func(h *HTTPImage) { h.client = c }
}

// WithImageLogger sets the service logger.
func WithImageLogger(log zerolog.Logger) HTTPImageOption {
	return func(h *HTTPImage) { h.log = log }
}

// NewHTTPImage builds the provider for the given endpoint.
func NewHTTPImage(endpoint, apiKey string, opts ...HTTPImageOption) *HTTPImage {
	h := &HTTPImage{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 60 * time.Second},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPImage) Generate(ctx context.Context, req ImageRequest) (GeneratedImage, error) {
	w, ht := PlatformSize(req.Platform)
	body, err := json.Marshal(map[string]any{
		"prompt": req.Prompt,
		"style":  req.Style,
		"width":  w,
		"height": ht,
	})
	if err != nil {
		return GeneratedImage{}, errors.Wrap(err, "encoding image request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return GeneratedImage{}, errors.Wrap(err, "building image request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return GeneratedImage{}, &ProviderError{Provider: "image-api", Op: "generate", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		ra := parseRetryAfter(resp.Header.Get("Retry-After"))
		return GeneratedImage{}, &RateLimitError{Provider: "image-api", RetryAfter: ra}
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return GeneratedImage{}, &ProviderError{
			Provider: "image-api",
			Op:       "generate",
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("unexpected status: %s", string(payload)),
		}
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GeneratedImage{}, &ProviderError{Provider: "image-api", Op: "generate", Err: errors.Wrap(err, "decoding response")}
	}
	if out.URL == "" {
		return GeneratedImage{}, &ProviderError{Provider: "image-api", Op: "generate", Err: errors.New("response missing url")}
	}

	h.log.Debug().Str("platform", req.Platform).Msg("[image] generated asset")
	return GeneratedImage{URL: out.URL, Width: w, Height: ht}, nil
}

// parseRetryAfter handles both Retry-After forms: delta-seconds and HTTP-date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
