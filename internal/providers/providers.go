// Package providers fetches KiwiSaver fund fact-sheet data from external
// fund-fact sources. Lookups are cached by (provider, fund) with an
// hours-scale TTL; a failed fetch degrades to an all-null record of the
// same shape rather than an error.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brightpath-advice/advicegen/internal/config"
	"github.com/brightpath-advice/advicegen/internal/resilience"
)

// FundFacts is the fixed shape returned for every lookup. Every fee and
// performance field is independently nullable; null means the source did
// not publish the figure, never zero.
type FundFacts struct {
	Provider string `json:"provider"`
	Fund     string `json:"fund"`

	AnnualFeePct   *float64 `json:"annual_fee_pct"`
	MemberFee      *float64 `json:"member_fee"`
	Return1YrPct   *float64 `json:"return_1yr_pct"`
	Return5YrPct   *float64 `json:"return_5yr_pct"`
	Return10YrPct  *float64 `json:"return_10yr_pct"`
	RiskIndicator  *int     `json:"risk_indicator"`
	SourceURLs     []string `json:"source_urls,omitempty"`
	AsOf           string   `json:"as_of,omitempty"`
}

// Empty reports whether no figure was resolved for the fund.
func (f *FundFacts) Empty() bool {
	return f.AnnualFeePct == nil && f.MemberFee == nil &&
		f.Return1YrPct == nil && f.Return5YrPct == nil && f.Return10YrPct == nil &&
		f.RiskIndicator == nil
}

// Cache is the injected memoization layer for fund lookups. Implementations
// return (nil, nil) on a miss or expired entry.
type Cache interface {
	Get(ctx context.Context, provider, fund string) ([]byte, error)
	Set(ctx context.Context, provider, fund string, data []byte, ttl time.Duration) error
}

// Source fetches fund facts for one (provider, fund) pair. The production
// source is the HTTP fund-fact endpoint; tests substitute a stub.
type Source interface {
	Fetch(ctx context.Context, provider, fund string) (*FundFacts, error)
}

// Fetcher resolves fund facts through the cache, the source, and per-provider
// circuit breakers guarding the source. Breakers are keyed by provider so one
// flaky provider does not block lookups against the others.
type Fetcher struct {
	source   Source
	cache    Cache
	ttl      time.Duration
	breakers *resilience.BreakerGroup
}

// NewFetcher wires a fetcher around the given source and cache.
func NewFetcher(source Source, cache Cache, ttl time.Duration) *Fetcher {
	breakers := resilience.NewBreakerGroup(resilience.BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})
	return &Fetcher{source: source, cache: cache, ttl: ttl, breakers: breakers}
}

// Get returns fund facts for one (provider, fund) pair. Never returns an
// error for source failures: the degraded result is an all-null record.
func (f *Fetcher) Get(ctx context.Context, provider, fund string) *FundFacts {
	if f.cache != nil {
		if data, err := f.cache.Get(ctx, provider, fund); err == nil && data != nil {
			var facts FundFacts
			if err := json.Unmarshal(data, &facts); err == nil {
				return &facts
			}
			zap.L().Warn("corrupt provider cache entry ignored",
				zap.String("provider", provider), zap.String("fund", fund))
		}
	}

	facts, err := resilience.Guard(ctx, f.breakers.Get(provider), func(ctx context.Context) (*FundFacts, error) {
		return f.source.Fetch(ctx, provider, fund)
	})
	if err != nil {
		zap.L().Warn("fund facts fetch failed, returning null record",
			zap.String("provider", provider), zap.String("fund", fund), zap.Error(err))
		return &FundFacts{Provider: provider, Fund: fund}
	}

	if f.cache != nil {
		if data, err := json.Marshal(facts); err == nil {
			if err := f.cache.Set(ctx, provider, fund, data, f.ttl); err != nil {
				zap.L().Warn("provider cache write failed", zap.Error(err))
			}
		}
	}
	return facts
}

// GetPair resolves the current and recommended funds concurrently. Either
// side may come back all-null.
func (f *Fetcher) GetPair(ctx context.Context, currentProvider, currentFund, recommendedProvider, recommendedFund string) (current, recommended *FundFacts) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		current = f.Get(gctx, currentProvider, currentFund)
		return nil
	})
	g.Go(func() error {
		recommended = f.Get(gctx, recommendedProvider, recommendedFund)
		return nil
	})
	g.Wait() //nolint:errcheck

	return current, recommended
}

// HTTPSource fetches fund facts from the configured fund-fact endpoint.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a source against cfg.BaseURL with the configured
// request timeout.
func NewHTTPSource(cfg config.ProvidersConfig) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout()},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, provider, fund string) (*FundFacts, error) {
	endpoint := fmt.Sprintf("%s/funds/%s/%s", s.baseURL, url.PathEscape(provider), url.PathEscape(fund))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "providers: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "providers: fetch %s/%s", provider, fund)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("providers: fetch %s/%s: status %d", provider, fund, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "providers: read response")
	}

	var facts FundFacts
	if err := json.Unmarshal(body, &facts); err != nil {
		return nil, eris.Wrap(err, "providers: decode response")
	}
	facts.Provider = provider
	facts.Fund = fund
	return &facts, nil
}
