package fxrates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintage-storefront/api/internal/pricing"
)

func TestFrankfurterSourceFetchRates(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"amount":1.0,"base":"EUR","date":"2024-10-10","rates":{"USD":1.0945,"GBP":0.83735,"JPY":163.2,"CHF":0.94,"CAD":-1}}`))
	}))
	defer srv.Close()

	src, err := NewFrankfurterSource(FrankfurterConfig{BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
	require.NoError(t, err)

	rates, err := src.FetchRates(context.Background(), pricing.EUR, []pricing.CurrencyCode{pricing.USD, pricing.GBP, pricing.JPY, pricing.CAD})
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "from=EUR")
	assert.Contains(t, gotQuery, "to=USD%2CGBP%2CJPY%2CCAD")
	assert.Len(t, rates, 3)
	assert.Equal(t, "1.0945", rates[pricing.USD].String())
	assert.Equal(t, "163.2", rates[pricing.JPY].String())
	_, hasCAD := rates[pricing.CAD]
	assert.False(t, hasCAD)
}

func TestFrankfurterSourceRejectsBadResponses(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error": {status: http.StatusBadGateway, body: `upstream down`},
		"wrong base":   {status: http.StatusOK, body: `{"base":"USD","rates":{"EUR":0.9}}`},
		"no rates":     {status: http.StatusOK, body: `{"base":"EUR","rates":{}}`},
		"malformed":    {status: http.StatusOK, body: `{"base":`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			src, err := NewFrankfurterSource(FrankfurterConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
			require.NoError(t, err)
			_, err = src.FetchRates(context.Background(), pricing.EUR, []pricing.CurrencyCode{pricing.USD})
			assert.Error(t, err)
		})
	}
}

func TestFrankfurterSourceOpensBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src, err := NewFrankfurterSource(FrankfurterConfig{
		BaseURL:         srv.URL,
		HTTPClient:      srv.Client(),
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := src.FetchRates(context.Background(), pricing.EUR, nil)
		require.Error(t, err)
	}
	_, err = src.FetchRates(context.Background(), pricing.EUR, nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCacheOverFrankfurterFallsBackWhenBreakerOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src, err := NewFrankfurterSource(FrankfurterConfig{BaseURL: srv.URL, HTTPClient: srv.Client(), BreakerFailures: 1})
	require.NoError(t, err)
	cache := NewCache(src, WithRetryInterval(0))

	for i := 0; i < 3; i++ {
		snap := cache.GetRates(context.Background())
		assert.False(t, snap.Fetched)
		_, ok := snap.Rate(pricing.JPY)
		assert.True(t, ok)
	}
}

func TestNewFrankfurterSourceValidatesURL(t *testing.T) {
	_, err := NewFrankfurterSource(FrankfurterConfig{BaseURL: "not a url"})
	assert.Error(t, err)

	src, err := NewFrankfurterSource(FrankfurterConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFrankfurterURL, src.baseURL)
}
