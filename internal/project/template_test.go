package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchTemplateReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaultConfig.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"projectConfig":{"zwork":-0.05}}`), 0o644))

	w, err := WatchTemplate(path, nil)
	require.NoError(t, err)
	defer w.Close()

	tmpl, err := w.Template()
	require.NoError(t, err)
	assert.Equal(t, -0.05, tmpl.ProjectConfig["zwork"])
	assert.Nil(t, tmpl.ProjectSetup)

	require.NoError(t, os.WriteFile(path, []byte(`{"projectSetup":{"layers":2,"millDrillDia":1,"cutterDia":1,"boardThickness":1.6}}`), 0o644))
	assert.Eventually(t, func() bool {
		tmpl, err := w.Template()
		return err == nil && tmpl.ProjectSetup != nil && tmpl.ProjectSetup.Layers == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchTemplateMissingFile(t *testing.T) {
	w, err := WatchTemplate(filepath.Join(t.TempDir(), "absent.json"), nil)
	require.NoError(t, err)
	defer w.Close()

	tmpl, err := w.Template()
	require.NoError(t, err)
	assert.Empty(t, tmpl.ProjectConfig)
	require.NoError(t, w.Close())
}
