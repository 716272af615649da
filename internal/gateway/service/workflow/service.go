// Package workflow implements the client-facing project operations on top
// of the project actors.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"pcbmill/internal/archive"
	"pcbmill/internal/event"
	"pcbmill/internal/gateway/repository/artifact"
	"pcbmill/internal/gateway/repository/catalog"
	"pcbmill/internal/gateway/session"
	"pcbmill/internal/gcode"
	"pcbmill/internal/metrics"
	"pcbmill/internal/project"
	"pcbmill/internal/toolrun"
)

// Operation types as they appear in envelopes.
const (
	OpOpenProject  = "openProject"
	OpGetProject   = "getProject"
	OpSetConfig    = "setConfig"
	OpSetSetup     = "setSetup"
	OpSave         = "save"
	OpLoad         = "load"
	OpListVersions = "listVersions"
	OpUploadGerber = "uploadGerber"
	OpCreateGCode  = "createGCode"
	OpDownload     = "download"
)

var (
	ErrNoSession   = event.WithCode(event.CodeNotFound, errors.New("session not found"))
	ErrNoProject   = event.WithCode(event.CodeInvalidArgument, errors.New("no project open in this session"))
	ErrUnknownKind = event.WithCode(event.CodeInvalidArgument, errors.New("download kind must be gerber or gcode"))
)

// Catalog remembers opened projects.
type Catalog interface {
	Touch(ctx context.Context, name, dir string) error
	List(ctx context.Context) ([]catalog.Entry, error)
	Last(ctx context.Context) (catalog.Entry, bool, error)
}

type Deps struct {
	Hub          *project.Hub
	Sessions     session.Store
	Runner       *toolrun.Runner
	Catalog      Catalog
	Artifacts    artifact.Store
	DownloadsDir string
	Logger       *zap.Logger
}

type Service struct {
	hub          *project.Hub
	sessions     session.Store
	runner       *toolrun.Runner
	catalog      Catalog
	artifacts    artifact.Store
	downloadsDir string
	log          *zap.Logger
}

func New(d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		hub:          d.Hub,
		sessions:     d.Sessions,
		runner:       d.Runner,
		catalog:      d.Catalog,
		artifacts:    d.Artifacts,
		downloadsDir: d.DownloadsDir,
		log:          log,
	}
}

// ReleaseSession drops the project handle held by sess. It is wired as the
// session registry eviction callback.
func (s *Service) ReleaseSession(sess *session.Session) {
	if sess == nil {
		return
	}
	if a, ok := sess.Project.(*project.Actor); ok {
		s.hub.Release(a)
	}
	metrics.SessionsActive.Set(float64(s.sessions.Len()))
}

// NewSession registers a client session.
func (s *Service) NewSession() *session.Session {
	sess := s.sessions.Create()
	metrics.SessionsActive.Set(float64(s.sessions.Len()))
	return sess
}

// HasSession reports whether sid names a live session.
func (s *Service) HasSession(sid string) bool {
	_, err := s.sessions.Get(sid)
	return err == nil
}

func (s *Service) actor(sid string) (*project.Actor, error) {
	sess, err := s.sessions.Get(sid)
	if err != nil {
		return nil, ErrNoSession
	}
	a, ok := sess.Project.(*project.Actor)
	if !ok || a == nil {
		return nil, ErrNoProject
	}
	return a, nil
}

// finish emits the terminal envelope and records it.
func (s *Service) finish(op *event.Operation, msg string, data any, err error) error {
	if err != nil {
		metrics.RecordOperation(op.Type(), string(event.StatusError))
		s.log.Warn("operation failed",
			zap.String("type", op.Type()),
			zap.String("code", event.CodeOf(err)),
			zap.Error(err))
		return op.Fail(err)
	}
	metrics.RecordOperation(op.Type(), string(event.StatusDone))
	op.Done(msg, data)
	return nil
}

// do runs fn on the session's project actor inside one operation.
func (s *Service) do(ctx context.Context, sid string, obs event.Observer, typ, msg string, fn func(op *event.Operation, st *project.Store) (string, any, error)) error {
	op := event.Begin(obs, typ, msg)
	a, err := s.actor(sid)
	if err != nil {
		return s.finish(op, "", nil, err)
	}
	var (
		doneMsg string
		data    any
	)
	err = a.Do(ctx, func(st *project.Store) error {
		var ferr error
		doneMsg, data, ferr = fn(op, st)
		return ferr
	})
	return s.finish(op, doneMsg, data, err)
}

// OpenProject opens (or creates) the named project for the session. An
// empty name reopens the most recently opened project.
func (s *Service) OpenProject(ctx context.Context, sid, name string, obs event.Observer) error {
	op := event.Begin(obs, OpOpenProject, "opening project")
	if _, err := s.sessions.Get(sid); err != nil {
		return s.finish(op, "", nil, ErrNoSession)
	}

	name = strings.TrimSpace(name)
	if name == "" && s.catalog != nil {
		last, ok, err := s.catalog.Last(ctx)
		if err != nil {
			s.log.Warn("catalog lookup failed", zap.Error(err))
		}
		if ok {
			name = last.Name
		}
	}
	if name == "" {
		return s.finish(op, "", nil, event.Invalid("project name is required"))
	}

	a, err := s.hub.Acquire(name)
	if err != nil {
		return s.finish(op, "", nil, err)
	}
	var prev *project.Actor
	err = s.sessions.Update(sid, func(sess *session.Session) {
		prev, _ = sess.Project.(*project.Actor)
		sess.Project = a
	})
	if err != nil {
		s.hub.Release(a)
		return s.finish(op, "", nil, ErrNoSession)
	}
	if prev != nil {
		s.hub.Release(prev)
	}

	var snap project.Project
	var dir string
	err = a.Do(ctx, func(st *project.Store) error {
		snap, dir = st.Snapshot(), st.Dir()
		return nil
	})
	if err != nil {
		return s.finish(op, "", nil, err)
	}
	if s.catalog != nil {
		if err := s.catalog.Touch(ctx, a.Key(), dir); err != nil {
			s.log.Warn("catalog touch failed", zap.String("project", a.Key()), zap.Error(err))
		}
	}
	s.log.Info("project opened", zap.String("session", sid), zap.String("project", a.Key()))
	return s.finish(op, "project opened", snap, nil)
}

// Project returns the in-memory metadata of the session's project.
func (s *Service) Project(ctx context.Context, sid string, obs event.Observer) error {
	return s.do(ctx, sid, obs, OpGetProject, "reading project", func(_ *event.Operation, st *project.Store) (string, any, error) {
		return "project", st.Snapshot(), nil
	})
}

func (s *Service) SetConfig(ctx context.Context, sid, key string, value any, obs event.Observer) error {
	return s.do(ctx, sid, obs, OpSetConfig, "updating config", func(_ *event.Operation, st *project.Store) (string, any, error) {
		if err := st.SetConfig(key, value); err != nil {
			return "", nil, err
		}
		return "config updated", st.Snapshot(), nil
	})
}

func (s *Service) SetSetup(ctx context.Context, sid, key string, value any, obs event.Observer) error {
	return s.do(ctx, sid, obs, OpSetSetup, "updating setup", func(_ *event.Operation, st *project.Store) (string, any, error) {
		if err := st.SetSetup(key, value); err != nil {
			return "", nil, err
		}
		return "setup updated", st.Snapshot(), nil
	})
}

func (s *Service) Save(ctx context.Context, sid string, obs event.Observer) error {
	return s.do(ctx, sid, obs, OpSave, "saving project", func(_ *event.Operation, st *project.Store) (string, any, error) {
		if err := st.Save(); err != nil {
			return "", nil, err
		}
		return "project saved", st.Snapshot(), nil
	})
}

func (s *Service) Load(ctx context.Context, sid string, obs event.Observer) error {
	return s.do(ctx, sid, obs, OpLoad, "loading project", func(_ *event.Operation, st *project.Store) (string, any, error) {
		if err := st.Load(); err != nil {
			return "", nil, err
		}
		return "project loaded", st.Snapshot(), nil
	})
}

// Versions lists the committed version directories of a project.
type Versions struct {
	Gerber []int         `json:"gerber"`
	GCode  map[int][]int `json:"gcode"`
}

func (s *Service) ListVersions(ctx context.Context, sid string, obs event.Observer) error {
	return s.do(ctx, sid, obs, OpListVersions, "listing versions", func(_ *event.Operation, st *project.Store) (string, any, error) {
		v, err := listVersions(st)
		if err != nil {
			return "", nil, err
		}
		return "versions", v, nil
	})
}

func listVersions(st *project.Store) (Versions, error) {
	gerber, err := st.GerberVersions()
	if err != nil {
		return Versions{}, err
	}
	v := Versions{Gerber: gerber, GCode: make(map[int][]int, len(gerber))}
	if v.Gerber == nil {
		v.Gerber = []int{}
	}
	for _, g := range gerber {
		m, err := st.GCodeVersions(g)
		if err != nil {
			return Versions{}, err
		}
		if len(m) > 0 {
			v.GCode[g] = m
		}
	}
	return v, nil
}

// UploadGerber imports the ZIP at zipPath as the next Gerber version.
func (s *Service) UploadGerber(ctx context.Context, sid, zipPath string, obs event.Observer) error {
	return s.do(ctx, sid, obs, OpUploadGerber, "importing gerber archive", func(op *event.Operation, st *project.Store) (string, any, error) {
		scratch, err := st.NewScratch("gerber")
		if err != nil {
			return "", nil, err
		}
		files, err := archive.Extract(zipPath, scratch)
		if err != nil {
			return "", nil, err
		}
		op.Progress("archive extracted", map[string]any{"files": files})

		commit, err := st.CommitGerber(scratch)
		if err != nil {
			return "", nil, err
		}
		metrics.DrillMerges.Inc()
		metrics.VersionCommits.WithLabelValues("gerber").Inc()
		return fmt.Sprintf("gerber version %d created", commit.GerberVersion), commit, nil
	})
}

// ConversionResult is the data of a successful createGCode.
type ConversionResult struct {
	Commit project.Commit `json:"commit"`
	Tool   toolrun.Result `json:"tool"`
}

// CreateGCode runs the converter on the current Gerber version and commits
// its output. With merge set the milling programs are also stitched into
// merged files.
func (s *Service) CreateGCode(ctx context.Context, sid string, merge bool, obs event.Observer) error {
	return s.do(ctx, sid, obs, OpCreateGCode, "creating gcode", func(op *event.Operation, st *project.Store) (string, any, error) {
		g := st.GerberVersion()
		if g <= 0 {
			return "", nil, project.ErrNoGerberVersion
		}
		gdir, err := st.GerberDir(g)
		if err != nil {
			return "", nil, err
		}
		setup := st.Setup()
		inputs, err := toolrun.FindInputs(gdir, setup.Layers)
		if err != nil {
			return "", nil, err
		}
		scratch, err := st.NewScratch("gcode")
		if err != nil {
			return "", nil, err
		}
		args := toolrun.BuildArgs(inputs, setup, st.Config(), s.runner.Globals(), scratch)
		op.Progress("running converter", map[string]any{"args": args})

		res, err := s.runner.Run(ctx, toolrun.Spec{
			Dir:      scratch,
			Args:     args,
			Expected: toolrun.ExpectedOutputs(setup),
		})
		metrics.RecordToolRun(res.Duration, err)
		if err != nil {
			return "", nil, err
		}
		op.Progress("converter finished", map[string]any{"produced": res.Produced, "missing": res.Missing})

		var plan project.MergePlan
		if merge {
			plan = toolrun.MergePlan(setup)
		}
		commit, err := st.CommitConversion(scratch, plan)
		if err != nil {
			return "", nil, err
		}
		metrics.VersionCommits.WithLabelValues("gcode").Inc()
		for _, f := range commit.Files {
			if f == gcode.MergedName {
				metrics.GCodeMerges.Inc()
			}
		}
		msg := fmt.Sprintf("gcode version %d.%d created", commit.GerberVersion, commit.GCodeVersion)
		return msg, ConversionResult{Commit: commit, Tool: res}, nil
	})
}

// Download kinds.
const (
	KindGerber = "gerber"
	KindGCode  = "gcode"
)

// DownloadResult locates a packed version directory.
type DownloadResult struct {
	Name string `json:"name"`
	Path string `json:"-"`
	URL  string `json:"url,omitempty"`
}

// Download packs a version directory into a ZIP under the downloads
// directory. Zero versions select the project's current ones.
func (s *Service) Download(ctx context.Context, sid, kind string, g, m int, obs event.Observer) (DownloadResult, error) {
	var out DownloadResult
	err := s.do(ctx, sid, obs, OpDownload, "packing download", func(_ *event.Operation, st *project.Store) (string, any, error) {
		if g <= 0 {
			g = st.GerberVersion()
		}
		var (
			dir string
			err error
		)
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case KindGerber:
			dir, err = st.GerberDir(g)
			out.Name = fmt.Sprintf("%s_%s.zip", st.Key(), project.GerberDirName(g))
		case KindGCode:
			if m <= 0 {
				if g != st.GerberVersion() {
					versions, verr := st.GCodeVersions(g)
					if verr != nil {
						return "", nil, verr
					}
					if len(versions) > 0 {
						m = versions[len(versions)-1]
					}
				} else {
					m = st.GCodeVersion()
				}
			}
			dir, err = st.GCodeDir(g, m)
			out.Name = fmt.Sprintf("%s_%s.zip", st.Key(), project.GCodeDirName(g, m))
		default:
			return "", nil, ErrUnknownKind
		}
		if err != nil {
			return "", nil, err
		}

		out.Path = filepath.Join(s.downloadsDir, out.Name)
		if err := archive.PackFile(dir, out.Path); err != nil {
			return "", nil, err
		}
		if s.artifacts != nil {
			out.URL = s.publish(ctx, st.Key(), out)
		}
		return "download ready", out, nil
	})
	return out, err
}

// publish mirrors a download archive to object storage. Failures only cost
// the URL; the local file is still served.
func (s *Service) publish(ctx context.Context, key string, d DownloadResult) string {
	b, err := os.ReadFile(d.Path)
	if err != nil {
		s.log.Warn("read download for publishing", zap.Error(err))
		return ""
	}
	if err := s.artifacts.Put(ctx, key, d.Name, b); err != nil {
		s.log.Warn("publish download", zap.String("name", d.Name), zap.Error(err))
		return ""
	}
	url, err := s.artifacts.GetURL(ctx, key, d.Name)
	if err != nil {
		s.log.Warn("presign download", zap.String("name", d.Name), zap.Error(err))
		return ""
	}
	return url
}

// ProjectInfo is one entry of the project list.
type ProjectInfo struct {
	Name       string `json:"name"`
	LastOpened string `json:"lastOpened,omitempty"`
}

// ListProjects merges the catalog with the project directories on disk,
// most recently opened first.
func (s *Service) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	names, err := project.ListProjects(s.hub.Root())
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]bool, len(names))
	for _, n := range names {
		onDisk[n] = true
	}

	out := make([]ProjectInfo, 0, len(names))
	seen := make(map[string]bool, len(names))
	if s.catalog != nil {
		entries, err := s.catalog.List(ctx)
		if err != nil {
			s.log.Warn("catalog list failed", zap.Error(err))
		}
		for _, e := range entries {
			if !onDisk[e.Name] || seen[e.Name] {
				continue
			}
			seen[e.Name] = true
			out = append(out, ProjectInfo{Name: e.Name, LastOpened: e.LastOpened.Format(time.RFC3339)})
		}
	}
	rest := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	for _, n := range rest {
		out = append(out, ProjectInfo{Name: n})
	}
	return out, nil
}
