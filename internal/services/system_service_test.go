package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/vintage-storefront/api/internal/domain"
	"github.com/vintage-storefront/api/internal/platform/fxrates"
)

type stubHealthRepository struct {
	mu     sync.Mutex
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.report, s.err
}

type fixedRates struct{ snapshot fxrates.Snapshot }

func (f fixedRates) GetRates(context.Context) fxrates.Snapshot { return f.snapshot }

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	fetched := now.Add(-90 * time.Second)
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Rates:            fixedRates{snapshot: fxrates.Snapshot{Source: "frankfurter", Fetched: true, FetchedAt: fetched}},
		Clock:            func() time.Time { return now },
		Build: BuildInfo{
			Version:     "1.2.3",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Equal(t, "1.2.3", report.Version)
	assert.Equal(t, "abc123", report.CommitSHA)
	assert.Equal(t, "prod", report.Environment)
	assert.Equal(t, 5*time.Minute, report.Uptime)
	assert.Equal(t, now, report.GeneratedAt)
	require.NotNil(t, report.Rates)
	assert.Equal(t, "frankfurter", report.Rates.Source)
	assert.True(t, report.Rates.Live)
	assert.Equal(t, 90*time.Second, report.Rates.Age)
}

func TestSystemServiceFallbackRatesHaveNoAge(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{},
		Rates:            fixedRates{snapshot: fxrates.Fallback()},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Rates)
	assert.False(t, report.Rates.Live)
	assert.Zero(t, report.Rates.Age)
}

func TestSystemServiceHealthReportErrors(t *testing.T) {
	expected := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: expected}})
	require.NoError(t, err)

	_, err = svc.HealthReport(context.Background())
	assert.ErrorIs(t, err, expected)
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{})
	assert.Error(t, err)
}

func TestSystemServiceDerivesStatusWhenMissing(t *testing.T) {
	repo := &stubHealthRepository{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"exchange_rates": {Status: domain.HealthStatusDegraded},
				"firestore":      {Status: domain.HealthStatusOK},
			},
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status)
}

func TestSystemServiceReusesRecentReport(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusOK}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		CacheFor:         time.Second,
	})
	require.NoError(t, err)

	_, err = svc.HealthReport(context.Background())
	require.NoError(t, err)
	_, err = svc.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)

	now = now.Add(2 * time.Second)
	_, err = svc.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

func TestSystemServiceCacheDisabled(t *testing.T) {
	repo := &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusOK}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, CacheFor: -1})
	require.NoError(t, err)

	for range 3 {
		_, err := svc.HealthReport(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, repo.calls)
}
