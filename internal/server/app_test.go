package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/config"
	"github.com/JakeFAU/extendspider-console/internal/spider"
)

func testConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 0, WriteTimeoutSeconds: 5, ShutdownTimeoutSeconds: 2},
		DB:       config.DBConfig{Driver: "memory"},
		Activity: config.ActivityConfig{Limit: 5},
	}
}

func TestBuildServesPluginAPI(t *testing.T) {
	app, err := Build(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	name := spider.DefaultRegistry().Names()[0]
	body := `{"spider_name":"` + name + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plugin/ExtendSpider/toggle_spider", strings.NewReader(body))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res spider.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Success)

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildEnforcesAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	app, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(context.Background())) }()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/plugin/ExtendSpider/status", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/plugin/ExtendSpider/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildPostgresRequiresDSN(t *testing.T) {
	cfg := testConfig()
	cfg.DB.Driver = "postgres"
	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	app, err := Build(context.Background(), testConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
