// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceylonmart/concierge/services/llm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Config{
		GinMode: gin.TestMode,
		Model:   llm.NewScriptedClient(llm.TextStep("hello")),
	})
	require.NoError(t, err)
	t.Cleanup(svc.cleanup)
	return svc
}

func TestNewServiceWiresEndpoints(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/metrics/prometheus", http.StatusOK},
		{"/v1/agent/metrics", http.StatusOK},
		{"/v1/sessions/s1/history", http.StatusOK},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		svc.Router().ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, "GET %s", tc.path)
	}
}

func TestHealthEndpointShape(t *testing.T) {
	svc := newTestService(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	svc.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Contains(t, resp, "circuitBreaker")
	assert.Contains(t, resp, "metrics")
}

func TestNewServiceWithDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	svc, err := New(Config{
		GinMode: gin.TestMode,
		DataDir: dir,
		Model:   llm.NewScriptedClient(),
	})
	require.NoError(t, err)
	t.Cleanup(svc.cleanup)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id":"p1","name":"Ceylon Tea","price":1200,"currency":"LKR","category":"tea","inStock":true}
	]`), 0600))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, "p1", catalog[0].ID)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDemoCatalog(t *testing.T) {
	catalog := demoCatalog()
	require.NotEmpty(t, catalog)

	seen := make(map[string]bool, len(catalog))
	for _, p := range catalog {
		assert.NotEmpty(t, p.ID)
		assert.NotEmpty(t, p.Name)
		assert.Equal(t, "LKR", p.Currency)
		assert.Positive(t, p.Price)
		assert.False(t, seen[p.ID], "duplicate product id %s", p.ID)
		seen[p.ID] = true
	}
}
