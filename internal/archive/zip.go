// Package archive unpacks uploaded Gerber sets and packs version
// directories for download.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"pcbmill/internal/event"
)

// Limits applied while extracting an untrusted archive.
const (
	MaxEntries   = 1024
	MaxFileBytes = 64 << 20
	MaxTotalSize = 256 << 20
)

var (
	ErrUnsafePath = event.WithCode(event.CodeInvalidArgument, errors.New("archive entry escapes target directory"))
	ErrTooLarge   = event.WithCode(event.CodeInvalidArgument, errors.New("archive exceeds size limits"))
	ErrNotZip     = event.WithCode(event.CodeInvalidArgument, errors.New("not a zip archive"))
)

// Extract unpacks the ZIP at src into dst and returns the extracted file
// names relative to dst. When every entry lives under one top-level folder
// that folder is stripped, so layer files always land directly in dst.
func Extract(src, dst string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, ErrNotZip
		}
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if len(r.File) > MaxEntries {
		return nil, fmt.Errorf("%w: %d entries", ErrTooLarge, len(r.File))
	}

	prefix := commonRoot(r.File)
	var (
		names []string
		total int64
	)
	for _, f := range r.File {
		name := strings.TrimPrefix(normalize(f.Name), prefix)
		if name == "" || f.FileInfo().IsDir() || isJunk(name) {
			continue
		}
		target, err := safeJoin(dst, name)
		if err != nil {
			return nil, err
		}
		n, err := extractFile(f, target, MaxTotalSize-total)
		if err != nil {
			return nil, err
		}
		total += n
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func normalize(name string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, `\`, "/")), "/")
}

// isJunk skips metadata folders that desktop archivers add.
func isJunk(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || path.Base(name) == ".DS_Store"
}

func commonRoot(files []*zip.File) string {
	root := ""
	for _, f := range files {
		name := normalize(f.Name)
		if isJunk(name) {
			continue
		}
		first, _, nested := strings.Cut(name, "/")
		if !nested {
			if f.FileInfo().IsDir() {
				continue
			}
			return ""
		}
		if root == "" {
			root = first
		} else if root != first {
			return ""
		}
	}
	if root == "" {
		return ""
	}
	return root + "/"
}

func safeJoin(dst, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "../") || name == ".." || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(dst, filepath.FromSlash(name))
	rel, err := filepath.Rel(dst, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string, budget int64) (int64, error) {
	if f.Mode()&os.ModeSymlink != 0 {
		return 0, fmt.Errorf("%w: symlink %s", ErrUnsafePath, f.Name)
	}
	limit := int64(MaxFileBytes)
	if budget < limit {
		limit = budget
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(rc, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if n > limit {
		return n, fmt.Errorf("%w: %s", ErrTooLarge, f.Name)
	}
	return n, nil
}

// Pack writes every regular file below dir into a ZIP on w. Entry names are
// relative to dir, so the archive has no wrapping folder.
func Pack(w io.Writer, dir string) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(fw, src)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("pack %s: %w", dir, err)
	}
	return zw.Close()
}

// PackFile writes the ZIP of dir to dst. The archive is built under a
// temporary name and renamed into place.
func PackFile(dir, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := Pack(tmp, dir); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
