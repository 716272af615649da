package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcbmill/internal/event"
)

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	p := filepath.Join(t.TempDir(), "upload.zip")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func TestExtractFlat(t *testing.T) {
	src := writeZip(t, map[string]string{
		"Gerber_BottomLayer.GBL": "G04*",
		"Drill_PTH.DRL":          "M48",
	})
	dst := t.TempDir()
	names, err := Extract(src, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"Drill_PTH.DRL", "Gerber_BottomLayer.GBL"}, names)
	assert.FileExists(t, filepath.Join(dst, "Drill_PTH.DRL"))
}

func TestExtractStripsSingleRootFolder(t *testing.T) {
	src := writeZip(t, map[string]string{
		"board/":                     "",
		"board/Gerber_TopLayer.GTL":  "G04*",
		"board/Drill_NPTH.DRL":       "M48",
		"__MACOSX/board/._Drill.DRL": "junk",
	})
	dst := t.TempDir()
	names, err := Extract(src, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"Drill_NPTH.DRL", "Gerber_TopLayer.GTL"}, names)
	assert.NoDirExists(t, filepath.Join(dst, "board"))
	assert.NoDirExists(t, filepath.Join(dst, "__MACOSX"))
}

func TestExtractKeepsMixedLayout(t *testing.T) {
	src := writeZip(t, map[string]string{
		"top.GTL":       "a",
		"drill/pth.DRL": "b",
	})
	dst := t.TempDir()
	names, err := Extract(src, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"drill/pth.DRL", "top.GTL"}, names)
}

func TestExtractContainsTraversal(t *testing.T) {
	parent := t.TempDir()
	dst := filepath.Join(parent, "out")
	require.NoError(t, os.Mkdir(dst, 0o755))
	src := writeZip(t, map[string]string{
		"../../evil.txt": "x",
		"ok.GBL":         "y",
	})
	// Depending on the reader the entry is either rejected or confined to
	// dst; it never lands outside.
	_, _ = Extract(src, dst)
	assert.NoFileExists(t, filepath.Join(parent, "evil.txt"))
}

func TestExtractRejectsNonZip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.zip")
	require.NoError(t, os.WriteFile(p, []byte("not a zip"), 0o644))
	_, err := Extract(p, t.TempDir())
	assert.ErrorIs(t, err, ErrNotZip)
	assert.Equal(t, event.CodeInvalidArgument, event.CodeOf(err))
}

func TestPackRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "back.ngc"), []byte("G21\nM2\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "outline.ngc"), []byte("G0\n"), 0o644))

	dst := filepath.Join(t.TempDir(), "downloads", "demo_gcodeV1_1.zip")
	require.NoError(t, PackFile(dir, dst))

	out := t.TempDir()
	names, err := Extract(dst, out)
	require.NoError(t, err)
	assert.Equal(t, []string{"back.ngc", "sub/outline.ngc"}, names)
	b, err := os.ReadFile(filepath.Join(out, "back.ngc"))
	require.NoError(t, err)
	assert.Equal(t, "G21\nM2\n", string(b))
}
