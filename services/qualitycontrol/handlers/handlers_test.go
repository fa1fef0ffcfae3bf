// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// seededStore builds: Solder paste -> Reflow temperature -> Solder bridge,
// Stencil thickness -> Solder bridge, and an uncaused defect Void.
func seededStore(t *testing.T) *graph.Store {
	t.Helper()
	ctx := context.Background()
	s := graph.New()
	std := "IPC-7530"
	for _, in := range []graph.FactorInput{
		{Name: "Solder paste"},
		{Name: "Reflow temperature", Standard: &std},
		{Name: "Stencil thickness"},
	} {
		_, err := s.UpsertFactor(ctx, in)
		require.NoError(t, err)
	}
	for _, name := range []string{"Solder bridge", "Void"} {
		_, err := s.UpsertDefect(ctx, graph.DefectInput{Name: name})
		require.NoError(t, err)
	}
	require.NoError(t, s.Relate(ctx, "Solder paste", "Reflow temperature"))
	require.NoError(t, s.Relate(ctx, "Reflow temperature", "Solder bridge"))
	require.NoError(t, s.Relate(ctx, "Stencil thickness", "Solder bridge"))
	return s
}

func doJSON(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
