// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package seed

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
	"github.com/DylanSoren/QualityControl/services/qualitycontrol/observability"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func linkSet(s graph.Snapshot) []string {
	out := make([]string, 0, len(s.Links))
	for _, l := range s.Links {
		out = append(out, l.Source+">"+l.Target)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Parse
// =============================================================================

func TestParse_JSON(t *testing.T) {
	records, err := Parse(readTestdata(t, "initialData.json"), FormatJSON)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Stencil aperture wear", records[0].Start.Properties.Name)
	require.NotNil(t, records[0].Start.Properties.Standard)
	assert.Equal(t, "IPC-7525", *records[0].Start.Properties.Standard)
	assert.Nil(t, records[1].Start.Properties.Standard)
}

func TestParse_YAML(t *testing.T) {
	records, err := Parse(readTestdata(t, "seed.yaml"), FormatYAML)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Missing component", records[0].End.Properties.Name)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{{`},
		{"not a list", `{"start_node": {}}`},
		{"missing name", `[{"start_node": {"label": "Factor", "properties": {}}, "end_node": {"label": "Defect", "properties": {"name": "D"}}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatJSON)
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("seed.yaml"))
	assert.Equal(t, FormatYAML, FormatFor("gs://b/seed.YML"))
	assert.Equal(t, FormatJSON, FormatFor("initialData.json"))
	assert.Equal(t, FormatJSON, FormatFor("noext"))
}

// =============================================================================
// Import
// =============================================================================

func TestImport(t *testing.T) {
	ctx := context.Background()
	store := graph.New()
	records, err := Parse(readTestdata(t, "initialData.json"), FormatJSON)
	require.NoError(t, err)

	res, err := Import(ctx, store, records)
	require.NoError(t, err)
	assert.Equal(t, Result{Records: 4, Factors: 4, Defects: 2, Edges: 4}, res)

	wear, ok := store.FindByName(ctx, "Stencil aperture wear")
	require.True(t, ok)
	assert.Equal(t, graph.KindFactor, wear.Kind)
	assert.Equal(t, "IPC-7525", wear.Factor.Standard)

	paste, ok := store.FindByName(ctx, "Excess solder paste volume")
	require.True(t, ok)
	assert.Equal(t, graph.KindFactor, paste.Kind, "factor-labelled end node")

	bridge, ok := store.FindByName(ctx, "Solder bridge")
	require.True(t, ok)
	assert.Equal(t, graph.KindDefect, bridge.Kind)
	assert.Equal(t, "Adjacent pins joined by solder", bridge.Defect.TypicalManifestations,
		"manifestations are only filled when absent")

	assert.Equal(t, []string{
		"Board moisture>Solder bridge",
		"Excess solder paste volume>Solder bridge",
		"Reflow peak too low>Cold joint",
		"Stencil aperture wear>Excess solder paste volume",
	}, linkSet(store.Snapshot(ctx)))

	res2, err := Import(ctx, store, records)
	require.NoError(t, err)
	assert.Equal(t, res, res2)
	assert.Equal(t, 4, store.Stats(ctx).Edges, "re-import is idempotent")
}

func TestImport_FactorAttributesOverwrite(t *testing.T) {
	ctx := context.Background()
	store := graph.New()
	old := "old"
	_, err := store.UpsertFactor(ctx, graph.FactorInput{Name: "F", Standard: &old, Description: &old})
	require.NoError(t, err)

	updated := "new"
	_, err = Import(ctx, store, []Record{{
		Start: NodeSpec{Label: "Factor", Properties: Properties{Name: "F", Standard: &updated}},
		End:   NodeSpec{Label: "Defect", Properties: Properties{Name: "D"}},
	}})
	require.NoError(t, err)

	n, ok := store.FindByName(ctx, "F")
	require.True(t, ok)
	assert.Equal(t, "new", n.Factor.Standard)
	assert.Equal(t, "old", n.Factor.Description, "absent keys keep stored values")
}

func TestImport_DefectSharesFactorName(t *testing.T) {
	ctx := context.Background()
	store := graph.New()
	_, err := store.UpsertFactor(ctx, graph.FactorInput{Name: "X"})
	require.NoError(t, err)

	manifest := "shows as X"
	_, err = Import(ctx, store, []Record{{
		Start: NodeSpec{Label: "Factor", Properties: Properties{Name: "A"}},
		End:   NodeSpec{Label: "缺陷类型", Properties: Properties{Name: "X", TypicalManifestations: &manifest}},
	}})
	require.NoError(t, err)

	causes := store.CausesOf(ctx, "X")
	require.Len(t, causes, 1)
	assert.Equal(t, "A", causes[0].Name)

	a, ok := store.FindByName(ctx, "A")
	require.True(t, ok)
	assert.Equal(t, []string{"X"}, a.Factor.CausesDefect)
	assert.Empty(t, a.Factor.CausesFactor)

	d, ok := store.FindDefect(ctx, "X")
	require.True(t, ok)
	assert.Equal(t, "shows as X", d.TypicalManifestations)
}

func TestImport_FactorEndSharesDefectName(t *testing.T) {
	ctx := context.Background()
	store := graph.New()
	_, err := store.UpsertDefect(ctx, graph.DefectInput{Name: "Y"})
	require.NoError(t, err)

	_, err = Import(ctx, store, []Record{{
		Start: NodeSpec{Label: "Factor", Properties: Properties{Name: "A"}},
		End:   NodeSpec{Label: "影响因素", Properties: Properties{Name: "Y"}},
	}})
	require.NoError(t, err)

	a, ok := store.FindByName(ctx, "A")
	require.True(t, ok)
	assert.Equal(t, []string{"Y"}, a.Factor.CausesFactor)
	assert.Empty(t, a.Factor.CausesDefect)
	assert.Empty(t, store.CausesOf(ctx, "Y"))
}

func TestImport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Import(ctx, graph.New(), []Record{{
		Start: NodeSpec{Properties: Properties{Name: "F"}},
		End:   NodeSpec{Properties: Properties{Name: "D"}},
	}})
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Sources
// =============================================================================

func TestNewSource(t *testing.T) {
	src, err := NewSource("gs://qc-seeds/data/initialData.json", "/tmp/key.json")
	require.NoError(t, err)
	gcs, ok := src.(*GCSSource)
	require.True(t, ok)
	assert.Equal(t, "qc-seeds", gcs.Bucket)
	assert.Equal(t, "data/initialData.json", gcs.Object)
	assert.Equal(t, "gs://qc-seeds/data/initialData.json", gcs.Name())

	src, err = NewSource("testdata/seed.yaml", "")
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, src)

	for _, bad := range []string{"", "gs://", "gs://bucket", "gs://bucket/"} {
		_, err := NewSource(bad, "")
		assert.Error(t, err, bad)
	}
}

func TestGCSSource_MissingCredentials(t *testing.T) {
	src := &GCSSource{Bucket: "b", Object: "o", CredentialsFile: filepath.Join(t.TempDir(), "absent.json")}
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service account key not found")
}

func TestFileSource_Missing(t *testing.T) {
	_, err := (&FileSource{Path: filepath.Join(t.TempDir(), "absent.json")}).Fetch(context.Background())
	assert.Error(t, err)
}

// =============================================================================
// Loader
// =============================================================================

func TestLoader_ClearFirst(t *testing.T) {
	ctx := context.Background()
	store := graph.New()
	_, err := store.UpsertFactor(ctx, graph.FactorInput{Name: "Stale"})
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	loader := NewLoader(store, &FileSource{Path: "testdata/seed.yaml"}, WithMetrics(metrics))

	res, err := loader.Load(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Edges)

	_, ok := store.FindByName(ctx, "Stale")
	assert.False(t, ok)
	_, ok = store.FindByName(ctx, "Nozzle clog")
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MutationsTotal.WithLabelValues("seed", "success")))
}

func TestLoader_BrokenDocumentKeepsGraph(t *testing.T) {
	ctx := context.Background()
	store := graph.New()
	_, err := store.UpsertFactor(ctx, graph.FactorInput{Name: "Keep"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("[{"), 0o600))

	_, err = NewLoader(store, &FileSource{Path: path}).Load(ctx, true)
	require.ErrorIs(t, err, ErrInvalidDocument)
	_, ok := store.FindByName(ctx, "Keep")
	assert.True(t, ok)
}

// =============================================================================
// Watcher
// =============================================================================

func TestNewWatcher_RejectsGCS(t *testing.T) {
	loader := NewLoader(graph.New(), &GCSSource{Bucket: "b", Object: "o"})
	_, err := NewWatcher(loader)
	assert.ErrorIs(t, err, ErrNotWatchable)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, readTestdata(t, "seed.yaml"), 0o600))

	store := graph.New()
	loader := NewLoader(store, &FileSource{Path: path})
	_, err := loader.Load(context.Background(), true)
	require.NoError(t, err)

	reloads := make(chan Result, 4)
	w, err := NewWatcher(loader,
		WithDebounce(20*time.Millisecond),
		WithReloadHook(func(r Result, err error) {
			if err == nil {
				reloads <- r
			}
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	updated := `
- start_node: {label: Factor, properties: {name: Feeder jam}}
  end_node: {label: Defect, properties: {name: Missing component}}
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case res := <-reloads:
		assert.Equal(t, 1, res.Edges)
	case <-time.After(5 * time.Second):
		t.Fatal("seed file change not picked up")
	}

	_, ok := store.FindByName(context.Background(), "Feeder jam")
	assert.True(t, ok)
	_, ok = store.FindByName(context.Background(), "Nozzle clog")
	assert.False(t, ok, "reload clears first by default")
}
