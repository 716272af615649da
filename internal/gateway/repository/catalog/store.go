// Package catalog keeps the list of known projects.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Entry is one known project.
type Entry struct {
	Name       string    `json:"name"`
	Dir        string    `json:"dir"`
	LastOpened time.Time `json:"last_opened"`
}

// Store remembers which projects were opened and when, so clients can offer
// a project list and reopen the last one. The file backend is used when no
// database is configured.
type Store struct {
	path string
	db   *sql.DB
	// postgres uses $N placeholders, sqlite uses ?.
	numbered bool

	loadOnce sync.Once
	mu       sync.RWMutex
	byName   map[string]Entry

	schemaMu    sync.Mutex
	schemaReady bool
}

// New returns a file backed catalog stored at path.
func New(path string) *Store {
	return &Store{
		path:   path,
		byName: make(map[string]Entry),
	}
}

func NewPostgres(dsn string) (*Store, error) {
	return openSQL("pgx", strings.TrimSpace(dsn), true)
}

func NewSQLite(path string) (*Store, error) {
	return openSQL("sqlite", strings.TrimSpace(path), false)
}

func openSQL(driver, dsn string, numbered bool) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if driver == "sqlite" {
		// One writer at a time avoids SQLITE_BUSY from concurrent touches.
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, numbered: numbered}, nil
}

// Open selects a backend from dsn: postgres:// or postgresql:// URLs use
// Postgres, sqlite:<path> uses SQLite, anything else falls back to the JSON
// file at filePath.
func Open(dsn, filePath string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(dsn)
	case strings.HasPrefix(dsn, "sqlite:"):
		return NewSQLite(strings.TrimPrefix(dsn, "sqlite:"))
	case dsn == "":
		return New(filePath), nil
	default:
		return nil, fmt.Errorf("catalog: unsupported dsn %q", dsn)
	}
}

// Backend names the storage in use, for logging.
func (s *Store) Backend() string {
	switch {
	case s.db == nil:
		return "file"
	case s.numbered:
		return "postgres"
	default:
		return "sqlite"
	}
}

// Touch records that the project name living in dir was just opened.
func (s *Store) Touch(ctx context.Context, name, dir string) error {
	e := normalizeEntry(Entry{Name: name, Dir: dir, LastOpened: time.Now().UTC()})
	if e.Name == "" {
		return nil
	}
	if s.db != nil {
		return s.touchDB(ctx, e)
	}
	return s.touchFile(e)
}

// List returns all known projects, most recently opened first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var (
		out []Entry
		err error
	)
	if s.db != nil {
		out, err = s.listDB(ctx)
	} else {
		out, err = s.listFile()
	}
	if err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

// Last returns the most recently opened project.
func (s *Store) Last(ctx context.Context) (Entry, bool, error) {
	entries, err := s.List(ctx)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[0], true, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func normalizeEntry(e Entry) Entry {
	e.Name = strings.TrimSpace(e.Name)
	e.Dir = strings.TrimSpace(e.Dir)
	return e
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].LastOpened.Equal(entries[j].LastOpened) {
			return entries[i].LastOpened.After(entries[j].LastOpened)
		}
		return entries[i].Name < entries[j].Name
	})
}
