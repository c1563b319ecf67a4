// Package attach copies SOP documents into their category directories under
// timestamp-prefixed names and manages the lifecycle of those copies.
package attach

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sopdesk/internal/config"
	"sopdesk/internal/validation"
)

// TimestampLayout is the 14-digit prefix of every stored document name.
const TimestampLayout = "20060102150405"

// maxNameAttempts bounds the " (n)" suffix search for one timestamp.
const maxNameAttempts = 1000

var (
	ErrOutsideStore  = errors.New("path is not inside a document directory")
	ErrNameExhausted = errors.New("no free document name")

	ErrUnknownCategory = errors.New("unknown document category")
)

// Store owns the five category directories.
type Store struct {
	dirs map[Category]string
	Now  func() time.Time
}

// DirsFromConfig maps the configured directories to categories.
func DirsFromConfig(c config.AttachmentsConfig) map[Category]string {
	return map[Category]string{
		DipSOP:       c.DipSOP,
		AssemblySOP:  c.AssemblySOP,
		TestSOP:      c.TestSOP,
		PackagingSOP: c.PackagingSOP,
		OQCChecklist: c.OQCChecklist,
	}
}

// NewStore resolves every category directory to an absolute path and creates
// it if missing.
func NewStore(dirs map[Category]string) (*Store, error) {
	s := &Store{dirs: make(map[Category]string, len(Categories)), Now: time.Now}
	for _, c := range Categories {
		dir := dirs[c]
		if dir == "" {
			return nil, fmt.Errorf("no directory configured for %s", c)
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve %s directory: %w", c, err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", c, err)
		}
		s.dirs[c] = abs
	}
	return s, nil
}

// Dir returns the absolute directory of c.
func (s *Store) Dir(c Category) string {
	return s.dirs[c]
}

// StoredName builds the destination basename for originalName at t.
func StoredName(t time.Time, originalName string) string {
	return t.Format(TimestampLayout) + "_" + validation.SanitizeFilename(originalName)
}

// Save writes r into c's directory as "<timestamp>_<originalName>" and
// returns the absolute destination path. An existing file is never
// overwritten; a " (n)" suffix is added before the extension instead.
func (s *Store) Save(c Category, originalName string, r io.Reader) (string, error) {
	dir, ok := s.dirs[c]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownCategory, string(c))
	}
	ve := &validation.ValidationErrors{}
	validation.ValidateFilename(ve, filepath.Base(strings.ReplaceAll(originalName, "\\", "/")))
	if err := ve.Err(); err != nil {
		return "", err
	}

	base := StoredName(s.Now(), originalName)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; i < maxNameAttempts; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		dest := filepath.Join(dir, name)
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", dest, err)
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			os.Remove(dest)
			return "", fmt.Errorf("write %s: %w", dest, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(dest)
			return "", fmt.Errorf("close %s: %w", dest, err)
		}
		return dest, nil
	}
	return "", ErrNameExhausted
}

// CopyFile copies the local file src into c's directory. src is left as is.
func (s *Store) CopyFile(c Category, src string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source %s is a directory", src)
	}
	return s.Save(c, filepath.Base(src), f)
}

// Owns reports whether path is a file directly inside one of the category
// directories.
func (s *Store) Owns(path string) bool {
	if path == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	parent := filepath.Dir(abs)
	for _, dir := range s.dirs {
		if parent == dir {
			return true
		}
	}
	return false
}

// Remove deletes an owned document. A file that is already gone is not an
// error.
func (s *Store) Remove(path string) error {
	if !s.Owns(path) {
		return ErrOutsideStore
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
