package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/domain/repository"
	"fraudScoringApp/internal/domain/useCases"
	"fraudScoringApp/internal/lib/logger/sl"
	"fraudScoringApp/internal/metrics"
)

// RefreshPolicy decides when the cached threshold is refreshed.
type RefreshPolicy string

const (
	// RefreshPerRequest refreshes before every scoring request.
	RefreshPerRequest RefreshPolicy = "per_request"
	// RefreshPeriodic refreshes on a ticker driven by Run.
	RefreshPeriodic RefreshPolicy = "periodic"
	// RefreshOnDemand only refreshes when Refresh is called explicitly.
	RefreshOnDemand RefreshPolicy = "on_demand"
)

const (
	DefaultThreshold    = 0.5
	DefaultFetchTimeout = 5 * time.Second
)

// ParseRefreshPolicy validates a configured policy name.
func ParseRefreshPolicy(s string) (RefreshPolicy, error) {
	switch p := RefreshPolicy(s); p {
	case RefreshPerRequest, RefreshPeriodic, RefreshOnDemand:
		return p, nil
	case "":
		return RefreshPeriodic, nil
	default:
		return "", fmt.Errorf("unknown threshold refresh policy %q", s)
	}
}

// ThresholdProviderConfig holds the provider settings.
type ThresholdProviderConfig struct {
	Default      float64
	Policy       RefreshPolicy
	Interval     time.Duration
	FetchTimeout time.Duration
}

// CachingThresholdProvider caches the remote threshold. Readers never block:
// the value is a single atomic word replaced wholesale on refresh.
type CachingThresholdProvider struct {
	source repository.MetadataSource
	cfg    ThresholdProviderConfig
	log    *slog.Logger

	bits atomic.Uint64
}

func NewThresholdProvider(source repository.MetadataSource, cfg ThresholdProviderConfig, log *slog.Logger) (*CachingThresholdProvider, error) {
	if math.IsNaN(cfg.Default) || !model.ValidThreshold(cfg.Default) {
		return nil, fmt.Errorf("default threshold %v outside [0,1]", cfg.Default)
	}
	if cfg.Policy == "" {
		cfg.Policy = RefreshPeriodic
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Policy == RefreshPeriodic && cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}

	p := &CachingThresholdProvider{
		source: source,
		cfg:    cfg,
		log:    log.With(sl.Component("threshold")),
	}
	p.store(cfg.Default)
	return p, nil
}

var _ useCases.ThresholdProvider = (*CachingThresholdProvider)(nil)

// Policy reports the configured refresh policy.
func (p *CachingThresholdProvider) Policy() RefreshPolicy { return p.cfg.Policy }

// Current returns the cached threshold.
func (p *CachingThresholdProvider) Current() float64 {
	return math.Float64frombits(p.bits.Load())
}

// ForRequest returns the threshold to use for one scoring request, refreshing
// first under the per_request policy.
func (p *CachingThresholdProvider) ForRequest(ctx context.Context) float64 {
	if p.cfg.Policy == RefreshPerRequest {
		v, _ := p.Refresh(ctx)
		return v
	}
	return p.Current()
}

// Refresh fetches the threshold under a bounded timeout. Any failure leaves
// the cached value in place and returns it with fresh == false.
func (p *CachingThresholdProvider) Refresh(ctx context.Context) (float64, bool) {
	v, err := p.fetch(ctx)
	if err != nil {
		cached := p.Current()
		p.log.Warn("threshold refresh failed, keeping cached value",
			slog.Float64("threshold", cached), sl.Err(err))
		metrics.ThresholdRefreshTotal.WithLabelValues("failure").Inc()
		return cached, false
	}

	if old := p.Current(); old != v {
		p.log.Info("threshold updated", slog.Float64("old", old), slog.Float64("new", v))
	}
	p.store(v)
	metrics.ThresholdRefreshTotal.WithLabelValues("success").Inc()
	return v, true
}

// Run loads the stored threshold once at startup under every policy, so the
// remote value overrides the configured default. Under periodic it then
// refreshes on every interval until ctx is done; other policies return
// after the first fetch.
func (p *CachingThresholdProvider) Run(ctx context.Context) error {
	if p.source != nil {
		p.Refresh(ctx)
	}
	if p.cfg.Policy != RefreshPeriodic {
		return nil
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

func (p *CachingThresholdProvider) fetch(ctx context.Context) (float64, error) {
	if p.source == nil {
		return 0, fmt.Errorf("%w: no metadata source configured", model.ErrThresholdFetch)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	v, err := p.source.GetThreshold(fetchCtx)
	if err != nil {
		if errors.Is(err, model.ErrThresholdFetch) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", model.ErrThresholdFetch, err)
	}
	if math.IsNaN(v) || !model.ValidThreshold(v) {
		return 0, fmt.Errorf("%w: malformed threshold %v", model.ErrThresholdFetch, v)
	}
	return v, nil
}

func (p *CachingThresholdProvider) store(v float64) {
	p.bits.Store(math.Float64bits(v))
	metrics.Threshold.Set(v)
}
