// Package project manages the on-disk version history of a PCB project: one
// directory per imported Gerber set, one per generated G-code set, and a JSON
// sidecar holding the project metadata.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pcbmill/internal/drill"
	"pcbmill/internal/event"
	"pcbmill/internal/gcode"
	"pcbmill/internal/safeio"
)

// SidecarName is the metadata file inside every project directory.
const SidecarName = "config.json"

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// SanitizeName maps a project name to its directory name.
func SanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return unsafeNameRe.ReplaceAllString(name, "_"), nil
}

// Project is the persisted metadata of a project.
type Project struct {
	Name          string         `json:"name"`
	ProjectConfig map[string]any `json:"projectConfig"`
	ProjectSetup  Setup          `json:"projectSetup"`
	GerberVersion int            `json:"gerberVersion"`
	GCodeVersion  int            `json:"gcodeVersion"`
}

func (p Project) clone() Project {
	p.ProjectConfig = maps.Clone(p.ProjectConfig)
	if p.ProjectConfig == nil {
		p.ProjectConfig = map[string]any{}
	}
	return p
}

type sidecar struct {
	Name          string         `json:"name"`
	ProjectConfig map[string]any `json:"projectConfig"`
	ProjectSetup  *Setup         `json:"projectSetup"`
	GerberVersion int            `json:"gerberVersion"`
	GCodeVersion  int            `json:"gcodeVersion"`
}

// Options configure Open.
type Options struct {
	Template TemplateSource
	Logger   *zap.Logger
}

// Store is the version store of one project. It is not safe for concurrent
// use; wrap it in an Actor to serialize access.
type Store struct {
	key   string
	dir   string
	fs    *safeio.SafeFS
	log   *zap.Logger
	state Project
}

// Commit describes a version directory made visible by a commit.
type Commit struct {
	GerberVersion int      `json:"gerberVersion"`
	GCodeVersion  int      `json:"gcodeVersion,omitempty"`
	Dir           string   `json:"dir"`
	Files         []string `json:"files"`
}

// Open opens the project called name under root, creating its directory and
// sidecar on first use.
func Open(root, name string, opts Options) (*Store, error) {
	dirName, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tmpl := opts.Template
	if tmpl == nil {
		tmpl = EmptyTemplate{}
	}

	dir := filepath.Join(root, dirName)
	s := &Store{key: dirName, dir: dir, log: log.With(zap.String("project", dirName))}

	_, statErr := os.Stat(s.sidecarPath())
	switch {
	case statErr == nil:
		if err := s.bindFS(); err != nil {
			return nil, err
		}
		if err := s.Load(); err != nil {
			return nil, err
		}
		if s.state.Name == "" {
			s.state.Name = strings.TrimSpace(name)
		}
		return s, nil
	case !errors.Is(statErr, os.ErrNotExist):
		return nil, fmt.Errorf("stat sidecar: %w", statErr)
	}

	t, err := tmpl.Template()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}
	if err := s.bindFS(); err != nil {
		return nil, err
	}
	s.state = Project{
		Name:          strings.TrimSpace(name),
		ProjectConfig: maps.Clone(t.ProjectConfig),
		ProjectSetup:  DefaultSetup(),
	}
	if s.state.ProjectConfig == nil {
		s.state.ProjectConfig = map[string]any{}
	}
	if t.ProjectSetup != nil {
		s.state.ProjectSetup = *t.ProjectSetup
	}
	if err := s.Save(); err != nil {
		return nil, err
	}
	s.log.Info("project created", zap.String("dir", dir))
	return s, nil
}

func (s *Store) bindFS() error {
	fsys, err := safeio.NewSafeFS(s.dir)
	if err != nil {
		return fmt.Errorf("project dir: %w", err)
	}
	s.fs = fsys
	s.dir = fsys.Root()
	return nil
}

func (s *Store) sidecarPath() string {
	return filepath.Join(s.dir, SidecarName)
}

// Name returns the project name.
func (s *Store) Name() string { return s.state.Name }

// Key returns the sanitized project name, which is also the directory name.
func (s *Store) Key() string { return s.key }

// Dir returns the absolute project directory.
func (s *Store) Dir() string { return s.dir }

// Snapshot returns a copy of the in-memory metadata.
func (s *Store) Snapshot() Project { return s.state.clone() }

// Config returns a copy of the pass-through tool configuration.
func (s *Store) Config() map[string]any { return s.state.clone().ProjectConfig }

// Setup returns the machining setup.
func (s *Store) Setup() Setup { return s.state.ProjectSetup }

// GerberVersion is the last committed Gerber import.
func (s *Store) GerberVersion() int { return s.state.GerberVersion }

// GCodeVersion is the last committed conversion of the current Gerber version.
func (s *Store) GCodeVersion() int { return s.state.GCodeVersion }

// SetConfig stores an arbitrary tool option and persists the project.
func (s *Store) SetConfig(key string, value any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return event.Invalid("empty config key")
	}
	prev := s.state
	s.state = s.state.clone()
	s.state.ProjectConfig[key] = value
	if err := s.Save(); err != nil {
		s.state = prev
		return err
	}
	return nil
}

// SetSetup changes one setup value and persists the project. Keys outside
// the setup schema are rejected and leave the setup unchanged.
func (s *Store) SetSetup(key string, value any) error {
	next, err := s.state.ProjectSetup.With(key, value)
	if err != nil {
		return err
	}
	prev := s.state.ProjectSetup
	s.state.ProjectSetup = next
	if err := s.Save(); err != nil {
		s.state.ProjectSetup = prev
		return err
	}
	return nil
}

// Save overwrites the sidecar with the in-memory metadata.
func (s *Store) Save() error {
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := safeio.WriteFileAtomic(s.sidecarPath(), b, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// Load replaces the in-memory metadata with the sidecar. On error the
// in-memory state is left untouched.
func (s *Store) Load() error {
	b, err := os.ReadFile(s.sidecarPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSidecarMissing, s.sidecarPath())
		}
		return fmt.Errorf("read sidecar: %w", err)
	}
	var raw sidecar
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse sidecar: %w", err)
	}
	next := Project{
		Name:          raw.Name,
		ProjectConfig: raw.ProjectConfig,
		ProjectSetup:  DefaultSetup(),
		GerberVersion: raw.GerberVersion,
		GCodeVersion:  raw.GCodeVersion,
	}
	if next.Name == "" {
		next.Name = s.state.Name
	}
	if next.ProjectConfig == nil {
		next.ProjectConfig = map[string]any{}
	}
	if raw.ProjectSetup != nil {
		next.ProjectSetup = *raw.ProjectSetup
	}
	s.state = next
	return nil
}

// NewScratch creates a uniquely named working directory inside the project.
// Scratch names never match a version pattern, so an abandoned scratch dir
// is invisible to enumeration.
func (s *Store) NewScratch(kind string) (string, error) {
	dir, err := s.fs.Join("." + kind + "-" + uuid.NewString())
	if err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

func (s *Store) checkScratch(scratch string) (string, error) {
	abs, err := filepath.Abs(scratch)
	if err != nil {
		return "", err
	}
	if filepath.Dir(abs) != s.dir {
		return "", fmt.Errorf("scratch dir %s is not inside project %s", scratch, s.dir)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("scratch dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("scratch %s is not a directory", scratch)
	}
	return abs, nil
}

// GerberVersions lists committed Gerber versions in ascending order.
func (s *Store) GerberVersions() ([]int, error) {
	return scanVersions(s.dir, ParseGerberDirName)
}

// GCodeVersions lists committed conversions of Gerber version g.
func (s *Store) GCodeVersions(g int) ([]int, error) {
	return scanVersions(s.dir, func(name string) (int, bool) {
		gv, m, ok := ParseGCodeDirName(name)
		if !ok || gv != g {
			return 0, false
		}
		return m, true
	})
}

// GerberDir returns the directory of committed Gerber version n.
func (s *Store) GerberDir(n int) (string, error) {
	return s.versionDir(GerberDirName(n))
}

// GCodeDir returns the directory of committed conversion m of Gerber
// version g.
func (s *Store) GCodeDir(g, m int) (string, error) {
	return s.versionDir(GCodeDirName(g, m))
}

func (s *Store) versionDir(name string) (string, error) {
	dir, err := s.fs.Dir(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, safeio.ErrNotDir) {
			return "", fmt.Errorf("%w: %s", ErrVersionNotFound, name)
		}
		return "", err
	}
	return dir, nil
}

// CommitGerber consolidates the drill files of an extracted Gerber set in
// scratch and publishes it as the next Gerber version.
func (s *Store) CommitGerber(scratch string) (Commit, error) {
	scratch, err := s.checkScratch(scratch)
	if err != nil {
		return Commit{}, err
	}
	existing, err := s.GerberVersions()
	if err != nil {
		return Commit{}, fmt.Errorf("scan gerber versions: %w", err)
	}
	next := nextVersion(existing)

	merged, inputs, err := drill.MergeDir(scratch)
	if err != nil {
		return Commit{}, err
	}
	if err := os.WriteFile(filepath.Join(scratch, drill.ConsolidatedName), []byte(merged), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", drill.ConsolidatedName, err)
	}

	target := filepath.Join(s.dir, GerberDirName(next))
	if err := safeio.RenameDir(scratch, target); err != nil {
		return Commit{}, fmt.Errorf("publish %s: %w", GerberDirName(next), err)
	}
	s.state.GerberVersion = next
	s.state.GCodeVersion = 0
	if err := s.Save(); err != nil {
		return Commit{}, fmt.Errorf("%s: %w: %w", GerberDirName(next), ErrMetadataNotSaved, err)
	}
	s.log.Info("gerber version committed",
		zap.Int("gerberVersion", next),
		zap.Strings("drillFiles", inputs))

	files, err := listFiles(target)
	if err != nil {
		return Commit{}, err
	}
	return Commit{GerberVersion: next, Dir: target, Files: files}, nil
}

// MergePart names one converter output and the tool diameter it is cut with.
type MergePart struct {
	Name     string
	Diameter float64
}

// MergePlan selects which converter outputs are stitched together. A zero
// plan skips merging.
type MergePlan struct {
	Parts []MergePart
	// Groups additionally writes one MergeBack_<n>.ngc per distinct diameter.
	Groups bool
}

// CommitConversion publishes the converter output in scratch as the next
// G-code version of the current Gerber version.
func (s *Store) CommitConversion(scratch string, plan MergePlan) (Commit, error) {
	g := s.state.GerberVersion
	if g <= 0 {
		return Commit{}, ErrNoGerberVersion
	}
	scratch, err := s.checkScratch(scratch)
	if err != nil {
		return Commit{}, err
	}
	existing, err := s.GCodeVersions(g)
	if err != nil {
		return Commit{}, fmt.Errorf("scan gcode versions: %w", err)
	}
	next := nextVersion(existing)

	if err := writeMerged(scratch, plan); err != nil {
		return Commit{}, err
	}

	name := GCodeDirName(g, next)
	target := filepath.Join(s.dir, name)
	if err := safeio.RenameDir(scratch, target); err != nil {
		return Commit{}, fmt.Errorf("publish %s: %w", name, err)
	}
	s.state.GCodeVersion = next
	if err := s.Save(); err != nil {
		return Commit{}, fmt.Errorf("%s: %w: %w", name, ErrMetadataNotSaved, err)
	}
	s.log.Info("gcode version committed", zap.Int("gerberVersion", g), zap.Int("gcodeVersion", next))

	files, err := listFiles(target)
	if err != nil {
		return Commit{}, err
	}
	return Commit{GerberVersion: g, GCodeVersion: next, Dir: target, Files: files}, nil
}

func writeMerged(dir string, plan MergePlan) error {
	var parts []gcode.Part
	for _, p := range plan.Parts {
		b, err := os.ReadFile(filepath.Join(dir, p.Name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("read %s: %w", p.Name, err)
		}
		parts = append(parts, gcode.Part{Name: p.Name, Diameter: p.Diameter, Content: string(b)})
	}
	if len(parts) == 0 {
		return nil
	}
	contents := make([]string, 0, len(parts))
	for _, p := range parts {
		contents = append(contents, p.Content)
	}
	if err := os.WriteFile(filepath.Join(dir, gcode.MergedName), []byte(gcode.Merge(contents)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", gcode.MergedName, err)
	}
	if !plan.Groups {
		return nil
	}
	for i, grp := range gcode.MergeGroups(parts) {
		name := fmt.Sprintf("MergeBack_%d.ngc", i+1)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(grp.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ListProjects lists the project directories under root that carry a
// sidecar.
func ListProjects(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), SidecarName)); err == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
