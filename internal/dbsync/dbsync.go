// Package dbsync keeps a local working copy of a database file that lives on
// a network share. The share is copied in at startup (checkout) and written
// back at shutdown (checkin). Checkin refuses to overwrite a share file that
// somebody else changed in the meantime.
package dbsync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"sopdesk/internal/metrics"
)

// ErrConflict is returned by Checkin when the share file changed after
// checkout.
var ErrConflict = errors.New("share database changed since checkout")

// ErrPendingCheckin is returned by Checkout while the local copy holds
// changes from a checkin that failed.
var ErrPendingCheckin = errors.New("local database has changes that were never checked in")

// pendingSuffix names the marker file kept beside the local copy after a
// failed checkin.
const pendingSuffix = ".pending"

// Fingerprint identifies one version of the share file.
type Fingerprint struct {
	Exists  bool
	Size    int64
	ModTime time.Time
	SHA256  [sha256.Size]byte
}

// Equal reports whether a and b describe the same file content.
func (a Fingerprint) Equal(b Fingerprint) bool {
	if a.Exists != b.Exists {
		return false
	}
	if !a.Exists {
		return true
	}
	return a.Size == b.Size && a.ModTime.Equal(b.ModTime) && bytes.Equal(a.SHA256[:], b.SHA256[:])
}

// Fingerprinted computes the fingerprint of path. A missing file yields a
// zero Fingerprint with Exists false.
func Fingerprinted(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Fingerprint{}, nil
	}
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Fingerprint{}, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Fingerprint{}, err
	}
	fp := Fingerprint{Exists: true, Size: info.Size(), ModTime: info.ModTime()}
	copy(fp.SHA256[:], h.Sum(nil))
	return fp, nil
}

// Replica pairs a share file with its local working copy.
type Replica struct {
	SharePath string
	LocalPath string
	Logger    *slog.Logger

	// Flush, when set, runs before every checkin so the local file is
	// complete on its own (a WAL checkpoint).
	Flush func(ctx context.Context) error

	mu         sync.Mutex
	base       Fingerprint
	checkedOut bool
	stale      atomic.Bool
}

// New creates a Replica.
func New(sharePath, localPath string, logger *slog.Logger) *Replica {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replica{SharePath: sharePath, LocalPath: localPath, Logger: logger}
}

// Checkout copies the share file over the local copy and remembers its
// fingerprint. A missing share file leaves the local copy as it is; the
// first checkin then creates the share file.
func (r *Replica) Checkout(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Pending() {
		metrics.SyncOperations.WithLabelValues("checkout", "pending").Inc()
		return ErrPendingCheckin
	}

	fp, err := Fingerprinted(r.SharePath)
	if err != nil {
		metrics.SyncOperations.WithLabelValues("checkout", "error").Inc()
		return fmt.Errorf("read share: %w", err)
	}
	if fp.Exists {
		// Leftover WAL files belong to the previous local copy.
		for _, suffix := range []string{"-wal", "-shm"} {
			if err := os.Remove(r.LocalPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove stale %s: %w", suffix, err)
			}
		}
		if err := copyAtomic(ctx, r.SharePath, r.LocalPath); err != nil {
			metrics.SyncOperations.WithLabelValues("checkout", "error").Inc()
			return fmt.Errorf("checkout: %w", err)
		}
		r.Logger.Info("Database checked out", "share", r.SharePath, "local", r.LocalPath, "bytes", fp.Size)
	} else {
		r.Logger.Warn("Share database not found, starting from local copy", "share", r.SharePath)
	}

	r.base = fp
	r.checkedOut = true
	r.stale.Store(false)
	metrics.SyncOperations.WithLabelValues("checkout", "ok").Inc()
	return nil
}

// Checkin copies the local file back to the share. Unless force is set, it
// fails with ErrConflict when the share no longer matches the checked-out
// version, leaving the share untouched.
func (r *Replica) Checkin(ctx context.Context, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.checkedOut {
		return errors.New("checkin before checkout")
	}
	current, err := Fingerprinted(r.SharePath)
	if err != nil {
		metrics.SyncOperations.WithLabelValues("checkin", "error").Inc()
		return r.markPending(fmt.Errorf("read share: %w", err))
	}
	if !force && !current.Equal(r.base) {
		metrics.SyncOperations.WithLabelValues("checkin", "conflict").Inc()
		return r.markPending(ErrConflict)
	}

	if r.Flush != nil {
		if err := r.Flush(ctx); err != nil {
			return r.markPending(fmt.Errorf("flush: %w", err))
		}
	}
	if err := copyAtomic(ctx, r.LocalPath, r.SharePath); err != nil {
		metrics.SyncOperations.WithLabelValues("checkin", "error").Inc()
		return r.markPending(fmt.Errorf("checkin: %w", err))
	}
	if err := os.Remove(r.pendingPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.Logger.Warn("Could not clear pending checkin marker", "path", r.pendingPath(), "error", err)
	}

	fp, err := Fingerprinted(r.SharePath)
	if err != nil {
		return fmt.Errorf("read share: %w", err)
	}
	r.base = fp
	r.stale.Store(false)
	metrics.SyncOperations.WithLabelValues("checkin", "ok").Inc()
	r.Logger.Info("Database checked in", "share", r.SharePath, "bytes", fp.Size, "forced", force)
	return nil
}

func (r *Replica) pendingPath() string {
	return r.LocalPath + pendingSuffix
}

// markPending records that the local copy was not checked in and returns
// cause.
func (r *Replica) markPending(cause error) error {
	note := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), cause)
	if err := os.WriteFile(r.pendingPath(), []byte(note), 0o644); err != nil {
		r.Logger.Error("Could not write pending checkin marker", "path", r.pendingPath(), "error", err)
	}
	return cause
}

// Pending reports whether an earlier checkin of the local copy failed and
// has not been retried successfully.
func (r *Replica) Pending() bool {
	_, err := os.Stat(r.pendingPath())
	return err == nil
}

// DiscardPending drops the pending marker so the next Checkout replaces the
// local copy with the share file.
func (r *Replica) DiscardPending() error {
	if err := os.Remove(r.pendingPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Snapshot copies the share file to dst for read-only use. It reports false
// when the share file does not exist.
func Snapshot(ctx context.Context, sharePath, dst string) (bool, error) {
	if _, err := os.Stat(sharePath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := copyAtomic(ctx, sharePath, dst); err != nil {
		return false, fmt.Errorf("snapshot share: %w", err)
	}
	return true, nil
}

// Stale reports whether the watcher saw the share file diverge from the
// checked-out version.
func (r *Replica) Stale() bool {
	return r.stale.Load()
}

// Watch follows the share directory until ctx is done, marking the replica
// stale when the share file changes underneath it.
func (r *Replica) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(r.SharePath)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(r.SharePath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				r.check()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.Logger.Warn("Share watcher error", "error", err)
		}
	}
}

func (r *Replica) check() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.checkedOut || r.stale.Load() {
		return
	}
	fp, err := Fingerprinted(r.SharePath)
	if err != nil {
		r.Logger.Warn("Could not read share database", "share", r.SharePath, "error", err)
		return
	}
	if !fp.Equal(r.base) {
		r.stale.Store(true)
		r.Logger.Warn("Share database changed by another client; checkin will be refused", "share", r.SharePath)
	}
}

// copyAtomic copies src to a temp file beside dst and renames it into place.
func copyAtomic(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, contextReader{ctx, in}); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Adopt takes the current share file as the checked-out version without
// copying it, so a local copy kept after a refused checkin can be pushed
// deliberately.
func (r *Replica) Adopt() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp, err := Fingerprinted(r.SharePath)
	if err != nil {
		return fmt.Errorf("read share: %w", err)
	}
	r.base = fp
	r.checkedOut = true
	r.stale.Store(false)
	return nil
}
