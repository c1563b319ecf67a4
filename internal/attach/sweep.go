package attach

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// storedPattern matches names produced by Save.
var storedPattern = strings.Repeat("[0-9]", len(TimestampLayout)) + "_*"

// Orphan is a stored document no record references any more.
type Orphan struct {
	Category Category
	Path     string
	Size     int64
	ModTime  time.Time
}

// Sweep finds timestamp-prefixed documents in the category directories whose
// absolute path is not in referenced. When remove is true the orphans are
// deleted; files that fail to delete are reported in the returned error but
// still listed.
func (s *Store) Sweep(ctx context.Context, referenced map[string]bool, remove bool) ([]Orphan, error) {
	var orphans []Orphan
	var failed []string

	for _, c := range Categories {
		dir := s.dirs[c]
		matches, err := doublestar.Glob(os.DirFS(dir), storedPattern, doublestar.WithFilesOnly())
		if err != nil {
			return orphans, fmt.Errorf("glob %s: %w", dir, err)
		}
		for _, m := range matches {
			if err := ctx.Err(); err != nil {
				return orphans, err
			}
			path := filepath.Join(dir, filepath.FromSlash(m))
			if referenced[path] {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			orphans = append(orphans, Orphan{Category: c, Path: path, Size: info.Size(), ModTime: info.ModTime()})
			if remove {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					failed = append(failed, path)
				}
			}
		}
	}

	if len(failed) > 0 {
		return orphans, fmt.Errorf("could not remove %d orphaned file(s): %s", len(failed), strings.Join(failed, ", "))
	}
	return orphans, nil
}
