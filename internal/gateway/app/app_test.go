package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcbmill/internal/gateway/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port: ":0",
		Env:  "test",
		Paths: config.PathConfig{
			DataDir:           dir,
			ProjectsDir:       filepath.Join(dir, "projects"),
			DownloadsDir:      filepath.Join(dir, "downloads"),
			UploadsDir:        filepath.Join(dir, "uploads"),
			DefaultConfigFile: filepath.Join(dir, "defaultConfig.json"),
		},
		Catalog:        config.CatalogConfig{DSN: "sqlite:" + filepath.Join(dir, "catalog.db")},
		Session:        config.SessionConfig{TTL: time.Hour, Capacity: 4},
		ToolConfigFile: filepath.Join(dir, "tool.toml"),
	}
}

func TestNewWiresGateway(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Nil(t, a.stores.artifact)
	assert.Equal(t, "sqlite", a.stores.catalog.Backend())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))
}

func TestNewRejectsBadCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.DSN = "mysql://nope"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}
