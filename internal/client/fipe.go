package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"fipe/lookup/internal/config"
	"fipe/lookup/internal/domain"
	"fipe/lookup/internal/proxy"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

const subscriptionTokenHeader = "X-Subscription-Token"

type FipeClient interface {
	ListBrands(ctx context.Context, category domain.VehicleCategory) ([]domain.CatalogReference, error)
	ListModels(ctx context.Context, category domain.VehicleCategory, brandCode string) ([]domain.CatalogReference, error)
	ListYears(ctx context.Context, category domain.VehicleCategory, brandCode, modelCode string) ([]domain.CatalogReference, error)
	GetDetail(ctx context.Context, category domain.VehicleCategory, brandCode, modelCode, yearCode string) (*domain.PricedDetail, error)
	Ping(ctx context.Context, category domain.VehicleCategory) error
	Close() error
}

type fipeClient struct {
	rl            ratelimit.Limiter
	config        config.FipeConfig
	baseURL       string
	format        wireFormat
	httpClient    *resty.Client
	proxySupplier proxy.ProxySupplier
	proxyURL      atomic.Pointer[url.URL]
	retryPolicy   RetryPolicy
}

// ProbeRequest returns the URL and headers of a brands lookup, for checking
// connectivity outside the client (proxy validation).
func ProbeRequest(cfg config.FipeConfig) (string, map[string]string) {
	url := cfg.ActiveBaseURL() + newWireFormat(cfg.Legacy()).brandsPath(domain.VehicleCategoryCar)
	headers := map[string]string{"Accept": "application/json"}
	if cfg.Token != "" {
		headers[subscriptionTokenHeader] = cfg.Token
	}
	return url, headers
}

func NewFipeClient(cfg config.FipeConfig, proxySupplier proxy.ProxySupplier) FipeClient {
	return newFipeClient(cfg, proxySupplier)
}

func newFipeClient(cfg config.FipeConfig, proxySupplier proxy.ProxySupplier) *fipeClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	credentialed := cfg.Token != ""
	if credentialed {
		httpClient.SetHeader(subscriptionTokenHeader, cfg.Token)
		log.Infof("🔑 FIPE subscription token configured (%d chars)", len(cfg.Token))
	} else {
		log.Warnf("⚠️ No FIPE subscription token configured, using the free request limit")
	}

	rl := ratelimit.NewUnlimited()
	if cfg.MaxRequestsPerSecond > 0 {
		rl = ratelimit.New(cfg.MaxRequestsPerSecond)
	}

	base := cfg.AnonymousRetryBaseDelay
	if credentialed {
		base = cfg.RetryBaseDelay
	}

	c := &fipeClient{
		rl:            rl,
		config:        cfg,
		baseURL:       cfg.ActiveBaseURL(),
		format:        newWireFormat(cfg.Legacy()),
		httpClient:    httpClient,
		proxySupplier: proxySupplier,
		retryPolicy: RetryPolicy{
			MaxAttempts: MaxAttempts,
			Delay:       Backoff(base),
			Retryable:   isTooManyRequests,
		},
	}

	if proxySupplier != nil && proxySupplier.Len() > 0 {
		c.installProxy()
	}

	return c
}

// installProxy routes every request through the proxy held in c.proxyURL.
// The transport hook is installed once; rotation only swaps c.proxyURL.
func (c *fipeClient) installProxy() {
	transport, err := c.httpClient.HTTPTransport()
	if err != nil {
		log.Errorf("❌ Cannot install proxy pool: %v", err)
		return
	}
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		if p := c.proxyURL.Load(); p != nil {
			return p, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	if proxyURL := c.proxySupplier.Get(); proxyURL != "" && c.useProxy(proxyURL) {
		log.Infof("🔗 Using initial proxy: %s", proxyURL)
	}
}

func (c *fipeClient) useProxy(proxyURL string) bool {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Errorf("❌ Invalid proxy URL %q: %v", proxyURL, err)
		return false
	}
	c.proxyURL.Store(parsed)
	return true
}

func (c *fipeClient) ListBrands(ctx context.Context, category domain.VehicleCategory) ([]domain.CatalogReference, error) {
	if err := validateLookup(category); err != nil {
		return nil, err
	}

	body, err := c.fetch(ctx, c.retryPolicy, c.format.brandsPath(category))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch brands for %s: %w", category, err)
	}

	brands, err := c.format.decodeBrands(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode brands: %w", ErrNetworkFailure, err)
	}

	log.Debugf("Fetched %d brands for %s", len(brands), category)
	return brands, nil
}

func (c *fipeClient) ListModels(ctx context.Context, category domain.VehicleCategory, brandCode string) ([]domain.CatalogReference, error) {
	if err := validateLookup(category, brandCode); err != nil {
		return nil, err
	}

	body, err := c.fetch(ctx, c.retryPolicy, c.format.modelsPath(category, brandCode))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch models for brand %s: %w", brandCode, err)
	}

	models, err := c.format.decodeModels(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode models: %w", ErrNetworkFailure, err)
	}

	log.Debugf("Fetched %d models for %s brand %s", len(models), category, brandCode)
	return models, nil
}

func (c *fipeClient) ListYears(ctx context.Context, category domain.VehicleCategory, brandCode, modelCode string) ([]domain.CatalogReference, error) {
	if err := validateLookup(category, brandCode, modelCode); err != nil {
		return nil, err
	}

	body, err := c.fetch(ctx, c.retryPolicy, c.format.yearsPath(category, brandCode, modelCode))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch years for model %s: %w", modelCode, err)
	}

	years, err := c.format.decodeYears(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode years: %w", ErrNetworkFailure, err)
	}

	log.Debugf("Fetched %d years for %s model %s", len(years), category, modelCode)
	return years, nil
}

func (c *fipeClient) GetDetail(ctx context.Context, category domain.VehicleCategory, brandCode, modelCode, yearCode string) (*domain.PricedDetail, error) {
	if err := validateLookup(category, brandCode, modelCode, yearCode); err != nil {
		return nil, err
	}

	body, err := c.fetch(ctx, c.retryPolicy, c.format.detailPath(category, brandCode, modelCode, yearCode))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch detail for year %s: %w", yearCode, err)
	}

	detail, err := c.format.decodeDetail(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode detail: %w", ErrNetworkFailure, err)
	}

	log.Debugf("Fetched detail %s %s %d: %s", detail.BrandName, detail.ModelName, detail.ModelYear, detail.Value)
	return detail, nil
}

// Ping issues a single brands request without retrying.
func (c *fipeClient) Ping(ctx context.Context, category domain.VehicleCategory) error {
	if err := validateLookup(category); err != nil {
		return err
	}

	policy := c.retryPolicy
	policy.MaxAttempts = 1

	if _, err := c.fetch(ctx, policy, c.format.brandsPath(category)); err != nil {
		return fmt.Errorf("fipe %s unreachable: %w", category, err)
	}
	return nil
}

func (c *fipeClient) Close() error {
	return c.httpClient.Close()
}

func (c *fipeClient) fetch(ctx context.Context, policy RetryPolicy, path string) ([]byte, error) {
	url := c.baseURL + path

	body, attempts, err := Retry(ctx, policy, func(ctx context.Context, attempt domain.RequestAttempt) ([]byte, error) {
		if attempt.Number > 1 {
			log.Infof("🔄 Attempt %d/%d after %v for: %s", attempt.Number, policy.MaxAttempts, attempt.DelayBefore, url)
		}
		return c.get(ctx, url)
	})
	if err == nil {
		if attempts > 1 {
			log.Infof("✅ Succeeded on attempt %d for: %s", attempts, url)
		}
		return body, nil
	}

	if isTooManyRequests(err) {
		rateErr := &RateLimitedError{Attempts: attempts, Credentialed: c.config.Token != ""}
		log.Warnf("🚫 %v: %s", rateErr, url)
		return nil, rateErr
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Cancelled while waiting between attempts
	if !errors.Is(err, ErrNetworkFailure) {
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	return nil, err
}

func (c *fipeClient) get(ctx context.Context, url string) ([]byte, error) {
	c.rl.Take()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(url)

	if err != nil {
		// Check if this is a context cancellation from the parent context
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: request cancelled: %w", ErrNetworkFailure, ctx.Err())
		}
		return nil, fmt.Errorf("%w: failed to fetch URL: %w", ErrNetworkFailure, err)
	}

	if !resp.IsSuccess() {
		statusErr := &httpStatusError{StatusCode: resp.StatusCode(), Status: resp.Status()}
		if isTooManyRequests(statusErr) {
			c.rotateProxy()
		}
		return nil, statusErr
	}

	return []byte(resp.String()), nil
}

// rotateProxy moves to the next pooled proxy so the following attempt leaves
// from a different address.
func (c *fipeClient) rotateProxy() {
	if c.proxySupplier == nil || c.proxySupplier.Len() == 0 {
		return
	}
	if newProxy := c.proxySupplier.Get(); newProxy != "" && c.useProxy(newProxy) {
		log.Infof("🔄 Switching to new proxy: %s", newProxy)
	}
}

func validateLookup(category domain.VehicleCategory, codes ...string) error {
	if !category.Valid() {
		return fmt.Errorf("%w: unsupported category %q", ErrInvalidRequest, category)
	}
	for i, code := range codes {
		if code == "" {
			return fmt.Errorf("%w: empty %s code", ErrInvalidRequest, domain.LookupStages[i+1])
		}
	}
	return nil
}
