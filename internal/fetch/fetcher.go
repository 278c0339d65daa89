// Package fetch implements the retrying, rate-limited HTTP client every
// crawlable adapter calls through, and the classification of which
// failures are worth retrying.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/someflydev/rhof/internal/artifact"
	"github.com/someflydev/rhof/internal/registry"
	"github.com/someflydev/rhof/internal/rherr"
)

// Result is a successfully fetched and stored document.
type Result struct {
	URL        string
	StatusCode int
	Artifact   artifact.Metadata
	FetchedAt  time.Time
}

// Fetcher performs HTTP GETs under per-host rate limiting and bounded
// concurrency, retries transient failures with backoff, and persists
// every successful response body into the Artifact Store.
type Fetcher struct {
	store  *artifact.Store
	client *http.Client

	globalSem *semaphore.Weighted

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	hostSems map[string]*semaphore.Weighted

	defaultRPS         float64
	defaultBurst       int
	defaultConcurrency int64
	maxRetries         int
	baseBackoff        time.Duration
	userAgent          string
}

// Option configures a Fetcher at construction time.
type Option func(*Fetcher)

// WithGlobalConcurrency bounds the total number of in-flight fetches
// across all hosts.
func WithGlobalConcurrency(n int64) Option {
	return func(f *Fetcher) { f.globalSem = semaphore.NewWeighted(n) }
}

// WithMaxRetries sets the default retry ceiling used when a source's
// own FetchConfig.MaxRetries is unset.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) { f.maxRetries = n }
}

// WithBaseBackoff sets the initial exponential backoff interval between
// retries.
func WithBaseBackoff(d time.Duration) Option {
	return func(f *Fetcher) { f.baseBackoff = d }
}

// New builds a Fetcher backed by store, with SSRF-safe dialing and
// redirect validation baked into the transport.
func New(store *artifact.Store, opts ...Option) *Fetcher {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           safeDialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	f := &Fetcher{
		store: store,
		client: &http.Client{
			Timeout:       30 * time.Second,
			Transport:     transport,
			CheckRedirect: safeCheckRedirect,
		},
		globalSem:          semaphore.NewWeighted(16),
		limiters:           make(map[string]*rate.Limiter),
		hostSems:           make(map[string]*semaphore.Weighted),
		defaultRPS:         1.0,
		defaultBurst:       1,
		defaultConcurrency: 2,
		maxRetries:         3,
		baseBackoff:        500 * time.Millisecond,
		userAgent:          "rhof-ingest/1.0 (+https://example.invalid/bot)",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) limiterFor(host string, cfg registry.FetchConfig) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limiters[host]; ok {
		return l
	}
	rps := f.defaultRPS
	if cfg.RateLimitRPS > 0 {
		rps = cfg.RateLimitRPS
	}
	burst := f.defaultBurst
	if cfg.Burst > 0 {
		burst = cfg.Burst
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	f.limiters[host] = l
	return l
}

func (f *Fetcher) hostSemFor(host string, cfg registry.FetchConfig) *semaphore.Weighted {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.hostSems[host]; ok {
		return s
	}
	n := f.defaultConcurrency
	if cfg.MaxConcurrency > 0 {
		n = cfg.MaxConcurrency
	}
	s := semaphore.NewWeighted(n)
	f.hostSems[host] = s
	return s
}

// isRetryable classifies a terminal HTTP status or transport error per
// the retry policy: transport errors, 408, 425, 429, and 5xx other than
// 501 are retried; everything else is not.
func isRetryable(statusCode int, err error) bool {
	if err != nil {
		return true
	}
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	case http.StatusNotImplemented:
		return false
	}
	return statusCode >= 500 && statusCode < 600
}

// Fetch retrieves rawURL for sourceID, retrying transient failures and
// persisting the body into the Artifact Store on success. No artifact
// is ever written for a response that was ultimately discarded.
func (f *Fetcher) Fetch(ctx context.Context, sourceID, rawURL string, cfg registry.FetchConfig) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, rherr.New(rherr.Transport, "fetch.Fetch", fmt.Errorf("invalid URL %q: %w", rawURL, err))
	}
	host := u.Host

	if err := f.globalSem.Acquire(ctx, 1); err != nil {
		return Result{}, rherr.New(rherr.Cancelled, "fetch.Fetch", err)
	}
	defer f.globalSem.Release(1)

	hostSem := f.hostSemFor(host, cfg)
	if err := hostSem.Acquire(ctx, 1); err != nil {
		return Result{}, rherr.New(rherr.Cancelled, "fetch.Fetch", err)
	}
	defer hostSem.Release(1)

	limiter := f.limiterFor(host, cfg)
	if err := limiter.Wait(ctx); err != nil {
		return Result{}, rherr.New(rherr.Cancelled, "fetch.Fetch", err)
	}

	maxRetries := f.maxRetries
	if cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.baseBackoff
	bo.Multiplier = 2
	bo.MaxInterval = 20 * time.Second
	bo.MaxElapsedTime = 0
	boCtx := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx)

	var result Result
	operation := func() error {
		resp, retryAfter, ferr := f.doOnce(ctx, rawURL, cfg)
		if ferr != nil {
			if rherr.Is(ferr, rherr.Transport) {
				return ferr
			}
			return backoff.Permanent(ferr)
		}
		defer resp.Body.Close()

		if isRetryable(resp.StatusCode, nil) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if retryAfter > 0 {
				select {
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				case <-time.After(retryAfter):
				}
			}
			return fmt.Errorf("retryable status %d from %s: %s", resp.StatusCode, rawURL, string(body))
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(rherr.New(rherr.Transport, "fetch.Fetch",
				fmt.Errorf("non-retryable status %d from %s", resp.StatusCode, rawURL)))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		fetchedAt := time.Now().UTC()
		meta, err := f.store.Put(sourceID, rawURL, resp.Header.Get("Content-Type"), body, fetchedAt, extFromContentType(resp.Header.Get("Content-Type")))
		if err != nil {
			return backoff.Permanent(err)
		}

		result = Result{URL: rawURL, StatusCode: resp.StatusCode, Artifact: meta, FetchedAt: fetchedAt}
		return nil
	}

	if err := backoff.Retry(operation, boCtx); err != nil {
		if rerr, ok := err.(*rherr.Error); ok {
			return Result{}, rerr
		}
		return Result{}, rherr.New(rherr.Transport, "fetch.Fetch", fmt.Errorf("exhausted retries for %s: %w", rawURL, err))
	}

	return result, nil
}

func (f *Fetcher) doOnce(ctx context.Context, rawURL string, cfg registry.FetchConfig) (*http.Response, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, rherr.New(rherr.Transport, "fetch.doOnce", err)
	}

	ua := f.userAgent
	if cfg.UserAgent != "" {
		ua = cfg.UserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, rherr.New(rherr.Transport, "fetch.doOnce", err)
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := time.ParseDuration(ra + "s"); perr == nil {
				retryAfter = secs
			}
		}
	}

	return resp, retryAfter, nil
}

func extFromContentType(ct string) string {
	ct = strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "html"):
		return ".html"
	case strings.Contains(ct, "json"):
		return ".json"
	case strings.Contains(ct, "xml"):
		return ".xml"
	default:
		return ".bin"
	}
}
