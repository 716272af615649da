// Package artifact publishes download archives to object storage.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Store persists download archives keyed by project and file name.
type Store interface {
	Put(ctx context.Context, project, name string, content []byte) error
	Get(ctx context.Context, project, name string) ([]byte, error)
	GetURL(ctx context.Context, project, name string) (string, error)
	List(ctx context.Context, project string) ([]string, error)
}

var ErrNotFound = errors.New("artifact not found")

// Archives are stored flat under their project: "<project>/<name>".
func objectKey(project, name string) string {
	return strings.TrimSpace(project) + "/" + strings.TrimLeft(strings.TrimSpace(name), "/")
}

func projectPrefix(project string) string {
	return strings.TrimSuffix(strings.TrimSpace(project), "/") + "/"
}

func validate(project, name string) (string, string, error) {
	project = strings.TrimSpace(project)
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if project == "" {
		return "", "", fmt.Errorf("project is required")
	}
	if strings.Contains(project, "/") {
		return "", "", fmt.Errorf("project %q must not contain '/'", project)
	}
	if name == "" {
		return "", "", fmt.Errorf("name is required")
	}
	if path.Base(name) != name || name == ".." {
		return "", "", fmt.Errorf("archive name %q must be a plain file name", name)
	}
	return project, name, nil
}

func contentType(name string) string {
	if strings.EqualFold(path.Ext(name), ".zip") {
		return "application/zip"
	}
	return "application/octet-stream"
}
