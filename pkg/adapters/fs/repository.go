package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/gluedoc/pkg/core"
)

// Repository implements core.Repository by keeping one session file per ID
// under a workspace directory.
type Repository struct {
	Path   string
	cache  *cache
	config Config

	mu            sync.RWMutex
	readOnly      bool
	watcherActive bool
	lastReconcile *time.Time
}

// Config holds the configuration for the filesystem repository.
type Config struct {
	Path      string
	AutoInit  bool // Create the system directory and ignore it in .gitignore.
	MustExist bool
	ReadOnly  bool
	Logger    *slog.Logger
	SystemDir string // e.g. ".gluedoc"

	// EventBuffer is the capacity of the channel returned by Watch.
	EventBuffer int
	// ErrorHandler receives non-fatal watcher errors. Defaults to logging.
	ErrorHandler func(error)
}

// NewRepository creates a new filesystem-backed repository.
func NewRepository(config Config) *Repository {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.SystemDir == "" {
		config.SystemDir = ".gluedoc"
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 100
	}
	return &Repository{
		Path:     config.Path,
		config:   config,
		cache:    newCache(config.Path, config.SystemDir),
		readOnly: config.ReadOnly,
	}
}

// Begin starts a new transaction.
func (r *Repository) Begin(ctx context.Context) (core.Transaction, error) {
	return NewTransaction(r), nil
}

// Initialize performs the necessary setup for the repository.
func (r *Repository) Initialize(ctx context.Context) error {
	if r.config.MustExist || r.isReadOnly() {
		info, err := os.Stat(r.Path)
		if os.IsNotExist(err) {
			return fmt.Errorf("workspace path does not exist: %s", r.Path)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("workspace path is not a directory: %s", r.Path)
		}
	} else {
		if err := os.MkdirAll(r.Path, 0755); err != nil {
			return fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}

	if r.config.AutoInit && !r.isReadOnly() {
		if err := os.MkdirAll(filepath.Join(r.Path, r.config.SystemDir), 0755); err != nil {
			return fmt.Errorf("failed to create system directory: %w", err)
		}
		if _, err := r.ensureIgnore(); err != nil {
			return fmt.Errorf("failed to ensure .gitignore: %w", err)
		}
	}

	if err := r.cache.Load(); err != nil {
		r.config.Logger.Warn("failed to load index", "error", err)
	}
	return nil
}

// ensureIgnore keeps the system directory out of version control when the
// workspace lives in a git checkout.
func (r *Repository) ensureIgnore() (bool, error) {
	if _, err := os.Stat(filepath.Join(r.Path, ".git")); err != nil {
		return false, nil
	}

	ignorePath := filepath.Join(r.Path, ".gitignore")
	ignoreEntry := r.config.SystemDir + "/"

	content, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}

	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == ignoreEntry {
			return false, nil
		}
	}

	f, err := os.OpenFile(ignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return false, err
		}
	}
	if _, err := f.WriteString(ignoreEntry + "\n"); err != nil {
		return false, err
	}
	return true, nil
}

// filename maps a session ID to its path relative to the workspace.
// IDs without a known extension get DefaultExtension.
func (r *Repository) filename(id string) (string, string) {
	ext := filepath.Ext(id)
	if _, ok := serializerFor(ext); ok {
		return id, ext
	}
	return id + DefaultExtension, DefaultExtension
}

// idFor is the inverse of filename.
func idFor(relPath string) string {
	if filepath.Ext(relPath) == DefaultExtension {
		return strings.TrimSuffix(relPath, DefaultExtension)
	}
	return relPath
}

func validID(id string) error {
	if id == "" {
		return fmt.Errorf("session has no ID")
	}
	clean := filepath.ToSlash(filepath.Clean(id))
	if filepath.IsAbs(id) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("session ID escapes the workspace: %s", id)
	}
	return nil
}

// Save serializes a session and writes it atomically.
func (r *Repository) Save(ctx context.Context, s core.Session) error {
	if r.isReadOnly() {
		return core.ErrReadOnly
	}
	if err := validID(s.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	filename, err := r.write(s)
	if err != nil {
		return err
	}
	if err := r.cache.Save(); err != nil {
		r.config.Logger.Warn("failed to save index", "error", err)
	}
	r.config.Logger.Debug("session saved", "id", s.ID, "file", filename)
	return nil
}

// write stores s and records it in the cache without flushing the cache.
func (r *Repository) write(s core.Session) (string, error) {
	filename, ext := r.filename(s.ID)
	ser, _ := serializerFor(ext)

	fullPath := filepath.Join(r.Path, filepath.FromSlash(filename))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	data, err := ser.Serialize(s)
	if err != nil {
		return "", fmt.Errorf("failed to serialize session: %w", err)
	}
	if err := writeFileAtomic(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	mtime := time.Now()
	if info, err := os.Stat(fullPath); err == nil {
		mtime = info.ModTime()
	}
	summary := s.Summarize()
	summary.ID = idFor(filename)
	r.cache.Set(filename, &indexEntry{Summary: summary, LastModified: mtime})
	return filename, nil
}

// Get reads and parses a session file. Missing sessions wrap core.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (core.Session, error) {
	if err := validID(id); err != nil {
		return core.Session{}, err
	}
	filename, ext := r.filename(id)
	ser, _ := serializerFor(ext)

	f, err := os.Open(filepath.Join(r.Path, filepath.FromSlash(filename)))
	if err != nil {
		if os.IsNotExist(err) {
			return core.Session{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}
		return core.Session{}, err
	}
	defer f.Close()

	s, err := ser.Parse(f)
	if err != nil {
		return core.Session{}, fmt.Errorf("failed to parse session %s: %w", id, err)
	}
	s.ID = id
	return s, nil
}

// List walks the workspace and returns a summary of every session file.
// Summaries of unchanged files come from the index in the system directory.
func (r *Repository) List(ctx context.Context) ([]core.Summary, error) {
	var summaries []core.Summary
	seen := make(map[string]bool)

	err := r.walk(func(relPath string, mtime time.Time) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[relPath] = true

		if entry, hit := r.cache.Get(relPath, mtime); hit {
			summaries = append(summaries, entry.Summary)
			return nil
		}

		id := idFor(relPath)
		s, err := r.Get(ctx, id)
		if err != nil {
			r.config.Logger.Debug("skipping unparseable session", "file", relPath, "error", err)
			return nil
		}
		summary := s.Summarize()
		r.cache.Set(relPath, &indexEntry{Summary: summary, LastModified: mtime})
		summaries = append(summaries, summary)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache.Prune(seen)
	if !r.isReadOnly() {
		if err := r.cache.Save(); err != nil {
			r.config.Logger.Warn("failed to save index", "error", err)
		}
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, nil
}

// walk visits every session file, skipping hidden and system directories.
func (r *Repository) walk(fn func(relPath string, mtime time.Time) error) error {
	return filepath.WalkDir(r.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != r.Path && r.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if isTempFile(d.Name()) {
			return nil
		}
		if _, ok := serializerFor(filepath.Ext(d.Name())); !ok {
			return nil
		}

		relPath, err := filepath.Rel(r.Path, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return fn(filepath.ToSlash(relPath), info.ModTime())
	})
}

func (r *Repository) skipDir(name string) bool {
	return name == ".git" || name == r.config.SystemDir || strings.HasPrefix(name, ".")
}

// Delete removes a session file. Deleting a missing session wraps core.ErrNotFound.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if r.isReadOnly() {
		return core.ErrReadOnly
	}
	if err := validID(id); err != nil {
		return err
	}
	if err := r.remove(id); err != nil {
		return err
	}
	if err := r.cache.Save(); err != nil {
		r.config.Logger.Warn("failed to save index", "error", err)
	}
	return nil
}

func (r *Repository) remove(id string) error {
	filename, _ := r.filename(id)
	if err := os.Remove(filepath.Join(r.Path, filepath.FromSlash(filename))); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", core.ErrNotFound, id)
		}
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	r.cache.Delete(filename)
	return nil
}

// Reconcile compares the index with the files on disk and returns the events
// that explain the difference. It is used after the watcher may have missed
// events, e.g. on an fsnotify queue overflow.
func (r *Repository) Reconcile(ctx context.Context) ([]core.Event, error) {
	var events []core.Event
	seen := make(map[string]bool)
	now := time.Now().Unix()

	err := r.walk(func(relPath string, mtime time.Time) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[relPath] = true
		entry, ok := r.cache.Lookup(relPath)
		switch {
		case !ok:
			events = append(events, core.Event{Type: core.EventCreate, ID: idFor(relPath), Timestamp: now})
		case !entry.LastModified.Equal(mtime):
			events = append(events, core.Event{Type: core.EventModify, ID: idFor(relPath), Timestamp: now})
		default:
			return nil
		}
		if s, err := r.Get(ctx, idFor(relPath)); err == nil {
			r.cache.Set(relPath, &indexEntry{Summary: s.Summarize(), LastModified: mtime})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.cache.Range(func(relPath string, entry *indexEntry) bool {
		if !seen[relPath] {
			events = append(events, core.Event{Type: core.EventDelete, ID: idFor(relPath), Timestamp: now})
		}
		return true
	})
	r.cache.Prune(seen)
	if !r.isReadOnly() {
		if err := r.cache.Save(); err != nil {
			r.config.Logger.Warn("failed to save index", "error", err)
		}
	}
	r.recordReconcile()

	sort.SliceStable(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

// recursiveAdd registers the workspace and its subdirectories with watcher.
func (r *Repository) recursiveAdd(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(r.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != r.Path && r.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// shouldIgnore filters out events for files that are not sessions matching pattern.
func (r *Repository) shouldIgnore(event fsnotify.Event, pattern string) bool {
	name := filepath.Base(event.Name)
	if isTempFile(name) {
		return true
	}
	rel, err := filepath.Rel(r.Path, event.Name)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	for _, seg := range strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/") {
		if seg != "." && r.skipDir(seg) {
			return true
		}
	}
	if _, ok := serializerFor(filepath.Ext(name)); !ok {
		return true
	}
	if pattern == "" {
		return false
	}
	match, err := doublestar.Match(pattern, rel)
	if err != nil || !match {
		match, _ = doublestar.Match(pattern, idFor(rel))
	}
	return !match
}

func (r *Repository) mapEventType(event fsnotify.Event) core.EventType {
	switch {
	case event.Has(fsnotify.Create):
		return core.EventCreate
	case event.Has(fsnotify.Write):
		return core.EventModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return core.EventDelete
	default:
		return ""
	}
}

func (r *Repository) resolveID(path string) (string, error) {
	rel, err := filepath.Rel(r.Path, path)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errors.New("path is outside the workspace")
	}
	return idFor(rel), nil
}

func (r *Repository) isReadOnly() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readOnly
}

// SetReadOnly toggles write protection at runtime.
func (r *Repository) SetReadOnly(readOnly bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readOnly = readOnly
}

func (r *Repository) reportError(err error) {
	if r.config.ErrorHandler != nil {
		r.config.ErrorHandler(err)
		return
	}
	r.config.Logger.Error("watcher error", "error", err)
}

var (
	_ core.TransactionalRepository = (*Repository)(nil)
	_ core.Watchable               = (*Repository)(nil)
)
