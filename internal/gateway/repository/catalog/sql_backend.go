package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ensureSchema creates the table on first use. A failed attempt, such as
// one made with a cancelled request context, is retried by the next call.
func (s *Store) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS pcb_projects (
  name TEXT PRIMARY KEY,
  dir TEXT NOT NULL DEFAULT '',
  last_opened BIGINT NOT NULL DEFAULT 0
)`); err != nil {
		return fmt.Errorf("catalog schema: %w", err)
	}
	s.schemaReady = true
	return nil
}

// rebind rewrites ? placeholders for drivers that want $N.
func (s *Store) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) touchDB(ctx context.Context, e Entry) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO pcb_projects (name, dir, last_opened)
VALUES (?, ?, ?)
ON CONFLICT (name)
DO UPDATE SET dir=excluded.dir,
  last_opened=excluded.last_opened`),
		e.Name, e.Dir, e.LastOpened.UnixNano())
	return err
}

func (s *Store) listDB(ctx context.Context) ([]Entry, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, dir, last_opened FROM pcb_projects`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Entry, 0, 32)
	for rows.Next() {
		var (
			e  Entry
			ns int64
		)
		if err := rows.Scan(&e.Name, &e.Dir, &ns); err != nil {
			return nil, err
		}
		e.LastOpened = time.Unix(0, ns).UTC()
		out = append(out, normalizeEntry(e))
	}
	return out, rows.Err()
}
