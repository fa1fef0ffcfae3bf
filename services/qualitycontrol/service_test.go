// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package qualitycontrol

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DylanSoren/QualityControl/services/llm"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/config"
)

type scriptedClient struct{ reply string }

func (c *scriptedClient) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	return c.reply, nil
}

func (c *scriptedClient) ChatStream(_ context.Context, _ []llm.Message, _ llm.GenerationParams, cb llm.StreamCallback) error {
	for _, part := range strings.SplitAfter(c.reply, " ") {
		if err := cb(llm.StreamEvent{Type: llm.StreamEventToken, Content: part}); err != nil {
			return err
		}
	}
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.InMemory = true
	cfg.Telemetry.MetricExporter = "none"
	cfg.Server.RateLimit = 0
	seedPath, err := filepath.Abs(filepath.Join("seed", "testdata", "initialData.json"))
	require.NoError(t, err)
	cfg.Seed.Source = seedPath
	return cfg
}

func TestService_SeedsAndServes(t *testing.T) {
	ctx := context.Background()
	svc, err := New(ctx, testConfig(t), WithLLMClient(&scriptedClient{reply: "Check the reflow profile."}))
	require.NoError(t, err)
	defer svc.Close()

	st := svc.Store().Stats(ctx)
	assert.Positive(t, st.Factors)
	assert.Positive(t, st.Defects)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "qualitycontrol_graph_factors")
}

func TestService_InitDatabase(t *testing.T) {
	ctx := context.Background()
	svc, err := New(ctx, testConfig(t), WithLLMClient(&scriptedClient{}))
	require.NoError(t, err)
	defer svc.Close()

	before := svc.Store().Stats(ctx)
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/init-database", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, before, svc.Store().Stats(ctx))
}

func TestService_NoSeedSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Seed.Source = ""
	svc, err := New(context.Background(), cfg, WithLLMClient(&scriptedClient{}))
	require.NoError(t, err)
	defer svc.Close()

	assert.Nil(t, svc.Loader())
	assert.Zero(t, svc.Store().Stats(context.Background()).Factors)
}

func TestService_BadSeedFails(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

	cfg := testConfig(t)
	cfg.Seed.Source = bad
	_, err := New(context.Background(), cfg, WithLLMClient(&scriptedClient{}))
	assert.Error(t, err)
}

func TestService_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.InMemory = false
	cfg.Storage.Path = t.TempDir()

	svc, err := New(ctx, cfg, WithLLMClient(&scriptedClient{}))
	require.NoError(t, err)
	want := svc.Store().Stats(ctx)
	require.NoError(t, svc.Close())

	// The graph is no longer empty, so the seed is not re-imported.
	svc, err = New(ctx, cfg, WithLLMClient(&scriptedClient{}))
	require.NoError(t, err)
	defer svc.Close()
	assert.Equal(t, want, svc.Store().Stats(ctx))
}
