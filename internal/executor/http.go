package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tether/internal/config"
	"tether/internal/logging"
	"tether/internal/queue"
)

const maxErrorBody = 2048

// Options configures an HTTP executor.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RatePerSecond     float64
	IdempotencyHeader string
	UserAgent         string
	Headers           map[string]string
	Client            *http.Client
	Logger            *slog.Logger
}

// OptionsFromConfig maps the executor section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:           cfg.Executor.BaseURL,
		Timeout:           cfg.ExecutorTimeout(),
		RatePerSecond:     cfg.Executor.RatePerSecond,
		IdempotencyHeader: cfg.Executor.IdempotencyHeader,
		UserAgent:         cfg.Executor.UserAgent,
		Headers:           maps.Clone(cfg.Executor.Headers),
	}
}

// HTTP executes queued requests over HTTP.
type HTTP struct {
	base        *url.URL
	client      *http.Client
	limiter     *rate.Limiter
	idempotency string
	userAgent   string
	headers     map[string]string
	logger      *slog.Logger
}

// New builds an HTTP executor. BaseURL may be empty when every queued
// resource is an absolute URL.
func New(opts Options) (*HTTP, error) {
	var base *url.URL
	if strings.TrimSpace(opts.BaseURL) != "" {
		parsed, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
		}
		base = parsed
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := max(int(opts.RatePerSecond), 1)
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &HTTP{
		base:        base,
		client:      client,
		limiter:     limiter,
		idempotency: strings.TrimSpace(opts.IdempotencyHeader),
		userAgent:   opts.UserAgent,
		headers:     maps.Clone(opts.Headers),
		logger:      logging.NewComponentLogger(opts.Logger, "executor"),
	}, nil
}

// Execute sends req and returns nil only for a 2xx response.
func (h *HTTP) Execute(ctx context.Context, req queue.Request) error {
	target, err := h.resolve(req.Resource)
	if err != nil {
		return err
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var body io.Reader
	if len(req.Payload) > 0 {
		body = bytes.NewReader(req.Payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if h.userAgent != "" {
		httpReq.Header.Set("User-Agent", h.userAgent)
	}
	for key, value := range h.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if len(req.Payload) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if h.idempotency != "" && req.ID != "" {
		httpReq.Header.Set(h.idempotency, req.ID)
	}

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     string(req.Method),
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	h.logger.Debug("upstream accepted request",
		logging.String(logging.FieldRequestID, req.ID),
		logging.String(logging.FieldMethod, string(req.Method)),
		logging.String("url", target),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (h *HTTP) resolve(resource string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(resource))
	if err != nil {
		return "", fmt.Errorf("parse resource %q: %w", resource, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if h.base == nil {
		return "", errors.New("relative resource requires executor.base_url")
	}
	// Join escaped paths so a base URL with a path prefix keeps it and
	// escaped segments such as %2F reach the upstream unchanged.
	rawPath := strings.TrimRight(h.base.EscapedPath(), "/") + "/" + strings.TrimLeft(ref.EscapedPath(), "/")
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", fmt.Errorf("join resource %q: %w", resource, err)
	}
	joined := *h.base
	joined.Path = path
	joined.RawPath = rawPath
	joined.RawQuery = ref.RawQuery
	joined.Fragment = ""
	return joined.String(), nil
}
