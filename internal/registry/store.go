package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sitekit/sitekit/internal/limits"
)

// Options tunes the store's locking and truncation policy. Zero values
// fall back to documented defaults; see DefaultOptions.
type Options struct {
	// LockTimeout bounds how long a mutation waits for the registry lock
	// before failing with LockTimeoutError.
	LockTimeout time.Duration
	// LockPoll is the interval between lock acquisition attempts.
	LockPoll time.Duration
	// LockStaleAfter is the age past which a lock file is treated as
	// abandoned by a dead process and forcibly reclaimed.
	LockStaleAfter time.Duration
	// TruncationFraction is the minimum plausible size of a rewritten
	// registry relative to the pre-operation size (after subtracting
	// bytes the operation legitimately removed).
	TruncationFraction float64
}

// DefaultOptions returns the documented policy defaults.
func DefaultOptions() Options {
	return Options{
		LockTimeout:        10 * time.Second,
		LockPoll:           50 * time.Millisecond,
		LockStaleAfter:     5 * time.Minute,
		TruncationFraction: 0.5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LockTimeout <= 0 {
		o.LockTimeout = d.LockTimeout
	}
	if o.LockPoll <= 0 {
		o.LockPoll = d.LockPoll
	}
	if o.LockStaleAfter <= 0 {
		o.LockStaleAfter = d.LockStaleAfter
	}
	if o.TruncationFraction <= 0 || o.TruncationFraction >= 1 {
		o.TruncationFraction = d.TruncationFraction
	}
	return o
}

// Store is a handle on one registry file and its sibling lock file. Every
// toolkit invocation constructs a fresh handle; there is no in-process
// shared state, so concurrency correctness comes entirely from the file
// lock and the atomic-rename commit.
//
// Reads (List, Get, Settings) never take the lock: the commit protocol
// renames a complete file into place, so a reader only ever observes a
// fully committed prior state.
type Store struct {
	path     string
	lockPath string
	opts     Options
}

// New creates a store handle for the registry at path. The lock file is
// path + ".lock".
func New(path string, opts Options) *Store {
	return &Store{
		path:     path,
		lockPath: path + ".lock",
		opts:     opts.withDefaults(),
	}
}

func (s *Store) Path() string     { return s.path }
func (s *Store) LockPath() string { return s.lockPath }

func (s *Store) load() (*Document, []byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("registry not found at %s (run `sitekit init` first): %w", s.path, err)
		}
		return nil, nil, fmt.Errorf("failed to read registry: %w", err)
	}
	if len(data) > limits.Registry {
		return nil, nil, &MalformedError{Path: s.path, Problems: []Problem{
			{Line: 1, Message: fmt.Sprintf("registry is %d bytes, larger than the %d byte limit", len(data), limits.Registry)},
		}}
	}
	doc, err := Parse(s.path, data)
	if err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}

// List returns all site entries in registry order, duplicates included.
func (s *Store) List() ([]*SiteEntry, error) {
	doc, _, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.List(), nil
}

// Get returns the named site entry.
func (s *Store) Get(name string) (*SiteEntry, error) {
	doc, _, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Get(name)
}

// Settings returns a read-only key/value view of the global settings block.
func (s *Store) Settings() (map[string]string, error) {
	doc, _, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Settings(), nil
}

// Add inserts a new site entry. Created is stamped now (UTC) if the caller
// left it zero.
func (s *Store) Add(ctx context.Context, entry *SiteEntry) error {
	e := entry.Clone()
	if e.Created.IsZero() {
		e.Created = time.Now().UTC().Truncate(time.Second)
	}
	if err := ValidateEntry(e); err != nil {
		return err
	}
	return s.mutate(ctx, "add", e.Name, +1, func(doc *Document) (int, error) {
		return 0, doc.Insert(e)
	})
}

// Remove deletes the named site entry. Removing a name that appears more
// than once is refused with an AmbiguousKeyError; removing an absent name
// returns ErrNotFound.
func (s *Store) Remove(ctx context.Context, name string) error {
	return s.mutate(ctx, "remove", name, -1, func(doc *Document) (int, error) {
		return doc.Remove(name)
	})
}

// Update applies mutate to the named entry. Name and Created are immutable;
// changes to them are discarded.
func (s *Store) Update(ctx context.Context, name string, mutate func(*SiteEntry) error) error {
	return s.mutate(ctx, "update", name, 0, func(doc *Document) (int, error) {
		return 0, doc.Update(name, mutate)
	})
}

// mutate runs one locked read-validate-write-rename cycle. The lock is
// released on every path out.
func (s *Store) mutate(ctx context.Context, op, name string, delta int, apply func(*Document) (int, error)) error {
	lock, err := acquireLock(ctx, s.lockPath, lockOptions{
		timeout:    s.opts.LockTimeout,
		poll:       s.opts.LockPoll,
		staleAfter: s.opts.LockStaleAfter,
	})
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, name, err)
	}
	defer lock.release()

	doc, prev, err := s.load()
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, name, err)
	}
	expect := doc.Len() + delta

	removed, err := apply(doc)
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, name, err)
	}

	return s.writeValidated(op, name, doc.Serialize(), len(prev), removed, expect)
}

// writeValidated runs the post-serialization gate and, only if it passes,
// commits the content atomically.
func (s *Store) writeValidated(op, name string, out []byte, prevSize, removedBytes, expectSites int) error {
	if err := postCheck(s.path, op, name, out, prevSize, removedBytes, expectSites, s.opts.TruncationFraction); err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, out); err != nil {
		return fmt.Errorf("%s %q: %w", op, name, err)
	}
	return nil
}

// Bootstrap creates the registry file with the given global settings and an
// empty sites section. It refuses to overwrite an existing registry.
func (s *Store) Bootstrap(settings map[string]string) error {
	var b strings.Builder
	b.WriteString("# sitekit registry. Hand-edits are preserved; keep site names unique.\n")
	b.WriteString("settings:\n")
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %s\n", k, settings[k])
	}
	b.WriteString("\nsites:\n")
	content := []byte(b.String())

	// Self-check before the file ever exists.
	if _, err := Parse(s.path, content); err != nil {
		return fmt.Errorf("bootstrap produced an unparseable registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrRegistryExists, s.path)
		}
		return fmt.Errorf("failed to create registry: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(s.path)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(s.path)
		return fmt.Errorf("failed to fsync registry: %w", err)
	}
	return f.Close()
}

// writeFileAtomic commits content via temp file + fsync + rename in the
// target's directory, so readers only ever see the old or the new file.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	// Best-effort cleanup if we fail before the rename
	defer func() {
		if tmp != "" {
			if rmErr := os.Remove(tmp); rmErr == nil {
				slog.Warn("discarded partial registry write", "temp", tmp)
			}
		}
	}()

	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to set temp file permissions: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to fsync registry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close registry file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	tmp = ""

	// Ensure directory metadata is persisted
	if dirf, err := os.Open(dir); err == nil {
		_ = dirf.Sync()
		_ = dirf.Close()
	}
	return nil
}
