package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/vintage-storefront/api/internal/domain"
	"github.com/vintage-storefront/api/internal/repositories"
)

const defaultHealthCacheFor = 2 * time.Second

// SystemServiceDeps bundles collaborators required to construct a system service. Rates is
// optional; when set the report carries the snapshot checkout is quoting from.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Rates            RateProvider
	Clock            func() time.Time
	Build            BuildInfo
	// CacheFor reuses a collected report for this long. Zero uses two seconds; negative disables.
	CacheFor time.Duration
}

type systemService struct {
	health   repositories.HealthRepository
	rates    RateProvider
	clock    func() time.Time
	build    BuildInfo
	cacheFor time.Duration

	collect  singleflight.Group
	mu       sync.Mutex
	cached   SystemHealthReport
	cachedAt time.Time
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cacheFor := deps.CacheFor
	if cacheFor == 0 {
		cacheFor = defaultHealthCacheFor
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock().UTC()
	}
	return &systemService{
		health:   deps.HealthRepository,
		rates:    deps.Rates,
		clock:    func() time.Time { return clock().UTC() },
		build:    build,
		cacheFor: cacheFor,
	}, nil
}

// HealthReport collects dependency status, sharing one collection between concurrent callers
// and reusing it for a short window.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	now := s.clock()

	if report, ok := s.fromCache(now); ok {
		return s.decorate(ctx, report, now), nil
	}

	v, err, _ := s.collect.Do("health", func() (any, error) {
		report, err := s.health.Collect(ctx)
		if err != nil {
			return SystemHealthReport{}, err
		}
		s.store(report, now)
		return report, nil
	})
	if err != nil {
		return SystemHealthReport{}, err
	}
	return s.decorate(ctx, v.(SystemHealthReport), now), nil
}

func (s *systemService) fromCache(now time.Time) (SystemHealthReport, bool) {
	if s.cacheFor < 0 {
		return SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedAt.IsZero() || now.Sub(s.cachedAt) >= s.cacheFor {
		return SystemHealthReport{}, false
	}
	return s.cached, true
}

func (s *systemService) store(report SystemHealthReport, now time.Time) {
	if s.cacheFor < 0 {
		return
	}
	s.mu.Lock()
	s.cached, s.cachedAt = report, now
	s.mu.Unlock()
}

// decorate fills build metadata, uptime and the rates summary on a copy of report.
func (s *systemService) decorate(ctx context.Context, report SystemHealthReport, now time.Time) SystemHealthReport {
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = firstNonBlank(report.Version, s.build.Version)
	report.CommitSHA = firstNonBlank(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonBlank(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = statusOf(report.Checks)
	}
	if s.rates != nil && report.Rates == nil {
		snapshot := s.rates.GetRates(ctx)
		report.Rates = &domain.RatesStatus{
			Source:    snapshot.Source,
			Live:      snapshot.Fetched,
			FetchedAt: snapshot.FetchedAt,
		}
		if !snapshot.FetchedAt.IsZero() {
			report.Rates.Age = snapshot.Age(now)
		}
	}
	return report
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func statusOf(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusDegraded:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
