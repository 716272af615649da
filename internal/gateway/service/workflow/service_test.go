package workflow

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcbmill/internal/event"
	"pcbmill/internal/gateway/repository/artifact"
	"pcbmill/internal/gateway/repository/catalog"
	"pcbmill/internal/gateway/session"
	"pcbmill/internal/gcode"
	"pcbmill/internal/project"
	"pcbmill/internal/toolrun"
)

const program = "G21\n(Retract to tool change height)\nT1\nM3\nG1 X1\nM5\nM2\n"

type fixture struct {
	svc      *Service
	sessions *session.LRUStore
	hub      *project.Hub
	root     string
	exec     toolrun.ExecFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{root: filepath.Join(base, "projects")}
	f.hub = project.NewHub(f.root, project.Options{})
	t.Cleanup(f.hub.Close)

	f.exec = func(_ context.Context, dir, _ string, args ...string) ([]byte, error) {
		for _, name := range []string{toolrun.OutBack, toolrun.OutDrill, toolrun.OutMillDrill, toolrun.OutOutline} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(program), 0o644); err != nil {
				return nil, err
			}
		}
		return []byte("ok " + strings.Join(args, " ")), nil
	}
	runner := toolrun.NewRunner(toolrun.DefaultGlobals(), toolrun.WithExec(func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		return f.exec(ctx, dir, name, args...)
	}))

	var svc *Service
	sessions, err := session.NewLRUStore(16, time.Hour, session.OnEvict(func(s *session.Session) { svc.ReleaseSession(s) }))
	require.NoError(t, err)
	f.sessions = sessions

	svc = New(Deps{
		Hub:          f.hub,
		Sessions:     sessions,
		Runner:       runner,
		Catalog:      catalog.New(filepath.Join(base, "catalog.json")),
		Artifacts:    artifact.NewMemoryStore(),
		DownloadsDir: filepath.Join(base, "downloads"),
	})
	f.svc = svc
	return f
}

func gerberZip(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"Gerber_BottomLayer.GBL":       "G04 back*",
		"Gerber_BoardOutlineLayer.GKO": "G04 outline*",
		"Drill_PTH_Through.DRL":        "T1C0.800\nT1\nX1Y1\n",
		"Drill_NPTH_Through.DRL":       "T1C3.000\nT1\nX9Y9\n",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	p := filepath.Join(t.TempDir(), "gerber.zip")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func terminal(t *testing.T, rec *event.Recorder) event.Envelope {
	t.Helper()
	var terms []event.Envelope
	for _, e := range rec.Envelopes() {
		if e.Status.Terminal() {
			terms = append(terms, e)
		}
	}
	require.Len(t, terms, 1, "exactly one terminal envelope")
	return terms[0]
}

func (f *fixture) open(t *testing.T, name string) string {
	t.Helper()
	sess := f.svc.NewSession()
	rec := &event.Recorder{}
	require.NoError(t, f.svc.OpenProject(context.Background(), sess.ID, name, rec))
	return sess.ID
}

func TestUploadConvertDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.open(t, "blinky")

	rec := &event.Recorder{}
	require.NoError(t, f.svc.UploadGerber(ctx, sid, gerberZip(t), rec))
	done := terminal(t, rec)
	assert.Equal(t, event.StatusDone, done.Status)
	commit := done.Data.(project.Commit)
	assert.Equal(t, 1, commit.GerberVersion)
	assert.Contains(t, commit.Files, "Drill_Total.DRL")

	rec = &event.Recorder{}
	require.NoError(t, f.svc.CreateGCode(ctx, sid, true, rec))
	done = terminal(t, rec)
	res := done.Data.(ConversionResult)
	assert.Equal(t, 1, res.Commit.GCodeVersion)
	assert.Contains(t, res.Commit.Files, gcode.MergedName)
	assert.Contains(t, res.Commit.Files, "MergeBack_1.ngc")
	assert.Empty(t, res.Tool.Missing)
	assert.DirExists(t, filepath.Join(f.root, "blinky", "gcodeV1_1"))

	var statuses []event.Status
	for _, e := range rec.Envelopes() {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []event.Status{event.StatusStart, event.StatusRun, event.StatusRun, event.StatusDone}, statuses)

	rec = &event.Recorder{}
	require.NoError(t, f.svc.ListVersions(ctx, sid, rec))
	v := terminal(t, rec).Data.(Versions)
	assert.Equal(t, []int{1}, v.Gerber)
	assert.Equal(t, map[int][]int{1: {1}}, v.GCode)

	dl, err := f.svc.Download(ctx, sid, KindGCode, 0, 0, event.Discard)
	require.NoError(t, err)
	assert.Equal(t, "blinky_gcodeV1_1.zip", dl.Name)
	assert.FileExists(t, dl.Path)

	dl, err = f.svc.Download(ctx, sid, KindGerber, 1, 0, event.Discard)
	require.NoError(t, err)
	assert.Equal(t, "blinky_gerberV1.zip", dl.Name)
}

func TestCreateGCodeToolFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.open(t, "broken")
	require.NoError(t, f.svc.UploadGerber(ctx, sid, gerberZip(t), event.Discard))

	f.exec = func(context.Context, string, string, ...string) ([]byte, error) {
		return []byte("Error: invalid outline"), errors.New("exit status 1")
	}
	rec := &event.Recorder{}
	err := f.svc.CreateGCode(ctx, sid, false, rec)
	require.Error(t, err)

	env := terminal(t, rec)
	assert.Equal(t, event.StatusError, env.Status)
	data := env.Data.(event.ErrorData)
	assert.Equal(t, event.CodeToolFailed, data.Code)
	assert.Equal(t, "Error: invalid outline", data.Detail)

	v := &event.Recorder{}
	require.NoError(t, f.svc.ListVersions(ctx, sid, v))
	assert.Empty(t, terminal(t, v).Data.(Versions).GCode)
}

func TestCreateGCodeWithoutGerber(t *testing.T) {
	f := newFixture(t)
	sid := f.open(t, "empty")
	rec := &event.Recorder{}
	err := f.svc.CreateGCode(context.Background(), sid, false, rec)
	assert.ErrorIs(t, err, project.ErrNoGerberVersion)
	assert.Equal(t, event.CodeInvalidArgument, terminal(t, rec).Data.(event.ErrorData).Code)
}

func TestSetSetupUnknownKey(t *testing.T) {
	f := newFixture(t)
	sid := f.open(t, "setup")
	rec := &event.Recorder{}
	err := f.svc.SetSetup(context.Background(), sid, "bogus", 3, rec)
	assert.ErrorIs(t, err, project.ErrUnknownSetupKey)
	env := terminal(t, rec)
	assert.Equal(t, event.StatusError, env.Status)
	assert.Equal(t, event.CodeInvalidArgument, env.Data.(event.ErrorData).Code)

	rec = &event.Recorder{}
	require.NoError(t, f.svc.SetSetup(context.Background(), sid, project.SetupCutterDia, 0.8, rec))
	assert.Equal(t, 0.8, terminal(t, rec).Data.(project.Project).ProjectSetup.CutterDia)
}

func TestOperationsNeedSessionAndProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := &event.Recorder{}
	err := f.svc.Save(ctx, "nope", rec)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, event.CodeNotFound, terminal(t, rec).Data.(event.ErrorData).Code)

	sess := f.svc.NewSession()
	rec = &event.Recorder{}
	err = f.svc.Project(ctx, sess.ID, rec)
	assert.ErrorIs(t, err, ErrNoProject)
	terminal(t, rec)
}

func TestOpenProjectReopensLast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "first")
	time.Sleep(2 * time.Millisecond)
	f.open(t, "second")

	sess := f.svc.NewSession()
	rec := &event.Recorder{}
	require.NoError(t, f.svc.OpenProject(ctx, sess.ID, "", rec))
	assert.Equal(t, "second", terminal(t, rec).Data.(project.Project).Name)

	list, err := f.svc.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Name)
	assert.Equal(t, "first", list[1].Name)
}

func TestSessionsShareProjectActor(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "shared")
	b := f.open(t, "shared")
	assert.Equal(t, 1, f.hub.Active())

	f.sessions.Destroy(a)
	assert.Equal(t, 1, f.hub.Active())
	f.sessions.Destroy(b)
	assert.Equal(t, 0, f.hub.Active())
}

func TestDownloadMissingVersion(t *testing.T) {
	f := newFixture(t)
	sid := f.open(t, "dl")
	rec := &event.Recorder{}
	_, err := f.svc.Download(context.Background(), sid, KindGCode, 3, 1, rec)
	assert.ErrorIs(t, err, project.ErrVersionNotFound)
	assert.Equal(t, event.CodeNotFound, terminal(t, rec).Data.(event.ErrorData).Code)

	_, err = f.svc.Download(context.Background(), sid, "pdf", 1, 1, event.Discard)
	assert.ErrorIs(t, err, ErrUnknownKind)
}
