// Package taste implements the provider adapter for the cultural
// recommendations service. The adapter is thin: it builds the wire
// request, decodes the response, and translates transport/HTTP failures
// into the shared error taxonomy. It never retries — that is the
// scheduler's job — and it never blocks on admission; callers reach it
// only through scheduler.Scheduler.Execute.
package taste

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/domain"
	"github.com/sabowaryan/personacraft/limiter"
	"github.com/sabowaryan/personacraft/types"
)

// Config configures the Taste adapter.
type Config struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	DefaultEntityLimit int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second, DefaultEntityLimit: 20}
}

// Adapter is the Taste provider adapter: one base URL, one credential, one
// HTTP client, shared across every category request.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Taste Adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.DefaultEntityLimit <= 0 {
		cfg.DefaultEntityLimit = DefaultConfig().DefaultEntityLimit
	}
	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Name identifies this adapter to the breaker, limiter, and health monitor.
func (a *Adapter) Name() string { return "taste" }

// Endpoint returns the admission-control key for a category fetch.
func (a *Adapter) Endpoint(cat domain.Category) string {
	return "taste.category." + string(cat)
}

// DefaultBudget is the conservative per-endpoint rate budget assumed before
// any response headers have been observed.
func DefaultBudget() limiter.Budget {
	return limiter.Budget{PerMinute: 100, PerHour: 4000, Burst: 20}
}

type entityWire struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Tags       []string `json:"tags,omitempty"`
	Confidence float64  `json:"confidence"`
}

type categoryResponse struct {
	Entities []entityWire `json:"entities"`
}

// categoryRequest is the canonical payload used both on the wire and as the
// fingerprint input for caching/single-flight.
type categoryRequest struct {
	Category  string   `json:"category"`
	Interests []string `json:"interests"`
	AgeRange  string   `json:"age_range"`
	Location  string   `json:"location,omitempty"`
	Limit     int      `json:"limit"`
}

// FetchCategory performs one category lookup. It is a producer suitable for
// scheduler.Scheduler.Execute: it does not retry and does not block on
// admission, and any failure it returns is classified per the shared error
// taxonomy. headers carries the provider's rate-limit hints, if present, so
// the caller can feed them to the limiter via UpdateFromHeaders.
func (a *Adapter) FetchCategory(ctx context.Context, cat domain.Category, brief domain.Brief) (domain.CategoryResult, limiter.Headers, error) {
	payload := categoryRequest{
		Category:  string(cat),
		Interests: brief.Interests,
		AgeRange:  string(brief.AgeRange),
		Location:  brief.Location,
		Limit:     a.cfg.DefaultEntityLimit,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.CategoryResult{}, limiter.Headers{}, types.NewError(types.ErrInvalidInput, "encode taste request").WithCause(err)
	}

	url := a.cfg.BaseURL + "/v1/entities"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.CategoryResult{}, limiter.Headers{}, types.NewError(types.ErrInvalidInput, "build taste request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return domain.CategoryResult{}, limiter.Headers{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	headers := parseHeaders(resp.Header)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.CategoryResult{}, headers, types.NewError(types.ErrNetwork, "read taste response").WithCause(err).WithProvider(a.Name())
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return domain.CategoryResult{}, headers, classifyHTTPStatus(resp.StatusCode, string(data), a.Name())
	}

	var wire categoryResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return domain.CategoryResult{}, headers, types.NewError(types.ErrParseInvalid, "decode taste response").WithCause(err).WithProvider(a.Name()).WithRetryable(false)
	}

	entities := make([]domain.Entity, 0, len(wire.Entities))
	for _, e := range wire.Entities {
		entities = append(entities, domain.Entity{ID: e.ID, Name: e.Name, Tags: e.Tags, Confidence: e.Confidence})
	}

	return domain.CategoryResult{Category: cat, Entities: entities}, headers, nil
}

// HealthCheck performs the minimal request used by the health monitor.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	url := a.cfg.BaseURL + "/v1/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("taste health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func parseHeaders(h http.Header) limiter.Headers {
	var out limiter.Headers
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			out.Remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.Reset = time.Unix(n, 0)
		}
	}
	return out
}

func classifyTransportError(err error) *types.Error {
	return types.NewError(types.ErrNetwork, "taste transport error").WithCause(err).WithProvider("taste")
}

func classifyHTTPStatus(status int, body, provider string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return types.NewError(types.ErrAuthentication, "taste rejected credentials").WithHTTPStatus(status).WithProvider(provider)
	case http.StatusForbidden:
		return types.NewError(types.ErrAuthorization, "taste denied access").WithHTTPStatus(status).WithProvider(provider)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, "taste rate limit exceeded").WithHTTPStatus(status).WithProvider(provider)
	case http.StatusRequestTimeout:
		return types.NewError(types.ErrTimeout, "taste request timed out").WithHTTPStatus(status).WithProvider(provider)
	default:
		if status >= 500 {
			return types.NewError(types.ErrUpstream5xx, "taste upstream error: "+body).WithHTTPStatus(status).WithProvider(provider)
		}
		return types.NewError(types.ErrInvalidInput, "taste rejected request: "+body).WithHTTPStatus(status).WithProvider(provider).WithRetryable(false)
	}
}
