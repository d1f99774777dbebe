package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, content string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.reg")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return New(path, Options{
		LockTimeout: 2 * time.Second,
		LockPoll:    10 * time.Millisecond,
	})
}

func readRegistry(t *testing.T, s *Store) []byte {
	t.Helper()
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestStore_ListAndGet(t *testing.T) {
	s := newTestStore(t, sampleRegistry)

	sites, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sites) != 3 {
		t.Fatalf("Expected 3 sites, got %d", len(sites))
	}

	fred, err := s.Get("fred")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fred.Environment != EnvStaging {
		t.Errorf("Expected staging, got %q", fred.Environment)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_MissingRegistry(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "sites.reg"), Options{})
	_, err := s.List()
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Expected fs.ErrNotExist, got %v", err)
	}
}

func TestStore_MalformedRegistry(t *testing.T) {
	s := newTestStore(t, "sites:\n\tavc:\n")
	_, err := s.List()
	var malErr *MalformedError
	if !errors.As(err, &malErr) {
		t.Fatalf("Expected MalformedError, got %v", err)
	}
}

func TestStore_AddStampsCreated(t *testing.T) {
	s := newTestStore(t, sampleRegistry)

	err := s.Add(context.Background(), &SiteEntry{
		Name:        "blog",
		Directory:   "/var/www/blog",
		Recipe:      "wordpress",
		Environment: EnvDevelopment,
		Purpose:     PurposeTemporary,
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := s.Get("blog")
	if err != nil {
		t.Fatalf("Get after add failed: %v", err)
	}
	if got.Created.IsZero() {
		t.Error("Created was not stamped")
	}
	if got.Created.Location() != time.UTC {
		t.Errorf("Created not stamped in UTC: %v", got.Created)
	}
	if time.Since(got.Created) > time.Minute {
		t.Errorf("Created stamp implausibly old: %v", got.Created)
	}
}

func TestStore_AddDuplicate(t *testing.T) {
	s := newTestStore(t, sampleRegistry)
	before := readRegistry(t, s)

	err := s.Add(context.Background(), &SiteEntry{
		Name:        "avc",
		Directory:   "/srv/other",
		Recipe:      "static",
		Environment: EnvDevelopment,
		Purpose:     PurposeTemporary,
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}
	if !bytes.Equal(readRegistry(t, s), before) {
		t.Error("Failed add modified the registry file")
	}
}

func TestStore_AddInvalidEntry(t *testing.T) {
	s := newTestStore(t, sampleRegistry)

	err := s.Add(context.Background(), &SiteEntry{
		Name:        "blog",
		Directory:   "relative/path",
		Recipe:      "static",
		Environment: EnvDevelopment,
		Purpose:     PurposeTemporary,
	})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}

	// No lock file left behind; validation rejects before locking.
	if _, err := os.Stat(s.LockPath()); !os.IsNotExist(err) {
		t.Errorf("Lock file left behind: %v", err)
	}
}

func TestStore_RemoveIdempotence(t *testing.T) {
	s := newTestStore(t, sampleRegistry)

	if err := s.Remove(context.Background(), "test"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	sites, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 2 {
		t.Fatalf("Expected 2 sites after remove, got %d", len(sites))
	}

	err = s.Remove(context.Background(), "test")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on second remove, got %v", err)
	}
}

func TestStore_Update(t *testing.T) {
	s := newTestStore(t, sampleRegistry)

	err := s.Update(context.Background(), "test", func(e *SiteEntry) error {
		e.Environment = EnvProduction
		e.Purpose = PurposePermanent
		e.SetExtra("domain", "test.example.com")
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := s.Get("test")
	if err != nil {
		t.Fatal(err)
	}
	if got.Environment != EnvProduction || got.Purpose != PurposePermanent {
		t.Errorf("Update not applied: %+v", got)
	}
	if v, _ := got.ExtraValue("domain"); v != "test.example.com" {
		t.Errorf("Extension field not applied, got %q", v)
	}

	// Untouched entries keep their exact bytes.
	data := readRegistry(t, s)
	if !bytes.Contains(data, []byte("  avc:\n    directory: /var/www/avc\n")) {
		t.Errorf("Unrelated entry changed:\n%s", data)
	}
}

// Two entries with the same name must never make an operation on one of
// them rewrite or destroy the other; targeted operations are refused and
// the file stays byte-identical.
func TestStore_DuplicateNamesRefuseTargetedOps(t *testing.T) {
	s := newTestStore(t, duplicateRegistry)
	before := readRegistry(t, s)
	ctx := context.Background()

	var ambErr *AmbiguousKeyError
	if _, err := s.Get("avc"); !errors.As(err, &ambErr) {
		t.Fatalf("Expected AmbiguousKeyError from Get, got %v", err)
	}
	if err := s.Remove(ctx, "avc"); !errors.As(err, &ambErr) {
		t.Fatalf("Expected AmbiguousKeyError from Remove, got %v", err)
	}
	err := s.Update(ctx, "avc", func(e *SiteEntry) error {
		e.Recipe = "static"
		return nil
	})
	if !errors.As(err, &ambErr) {
		t.Fatalf("Expected AmbiguousKeyError from Update, got %v", err)
	}

	if !bytes.Equal(readRegistry(t, s), before) {
		t.Error("Refused operations modified the registry file")
	}

	// Unambiguous neighbors stay fully operable.
	if _, err := s.Get("fred"); err != nil {
		t.Errorf("Get(fred) failed: %v", err)
	}
	if err := s.Remove(ctx, "test"); err != nil {
		t.Errorf("Remove(test) failed: %v", err)
	}
	sites, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 3 {
		t.Errorf("Expected 3 entries after removing test, got %d", len(sites))
	}
}

func TestStore_ConcurrentRemovals(t *testing.T) {
	content := "sites:\n"
	for _, n := range []string{"site1", "site2"} {
		content += fmt.Sprintf("  %s:\n    directory: /var/www/%s\n    recipe: static\n    environment: development\n    purpose: temporary\n    created: 2025-05-10T16:45:00Z\n", n, n)
	}
	s := newTestStore(t, content)

	// Independent handles, as two separate process invocations would have.
	s2 := New(s.Path(), Options{LockTimeout: 5 * time.Second, LockPoll: 5 * time.Millisecond})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = s.Remove(context.Background(), "site1")
	}()
	go func() {
		defer wg.Done()
		errs[1] = s2.Remove(context.Background(), "site2")
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Concurrent remove %d failed: %v", i+1, err)
		}
	}

	sites, err := s.List()
	if err != nil {
		t.Fatalf("List after concurrent removes failed: %v", err)
	}
	if len(sites) != 0 {
		t.Errorf("Expected 0 sites, got %d", len(sites))
	}

	if _, err := os.Stat(s.LockPath()); !os.IsNotExist(err) {
		t.Errorf("Lock file left behind: %v", err)
	}
}

func TestStore_LockTimeout(t *testing.T) {
	s := newTestStore(t, sampleRegistry)
	before := readRegistry(t, s)

	// A fresh foreign lock that never goes away.
	if err := os.WriteFile(s.LockPath(), []byte("pid=1\ntoken=other\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(s.LockPath())

	slow := New(s.Path(), Options{
		LockTimeout:    150 * time.Millisecond,
		LockPoll:       10 * time.Millisecond,
		LockStaleAfter: time.Hour,
	})

	err := slow.Remove(context.Background(), "test")
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Expected ErrLockTimeout, got %v", err)
	}
	if !bytes.Equal(readRegistry(t, s), before) {
		t.Error("Timed-out mutation modified the registry file")
	}
}

// A mutation whose serialized output shrinks the registry past the
// plausible floor must be refused before anything touches the file.
func TestStore_TruncationDefense(t *testing.T) {
	s := newTestStore(t, sampleRegistry)
	before := readRegistry(t, s)

	// Parseable, right entry count, but implausibly small.
	tiny := []byte("sites:\n  a:\n    x: 1\n  b:\n    x: 1\n  c:\n    x: 1\n")

	err := s.writeValidated("update", "avc", tiny, len(before), 0, 3)
	var truncErr *TruncationError
	if !errors.As(err, &truncErr) {
		t.Fatalf("Expected TruncationError, got %v", err)
	}
	if truncErr.NewSize != len(tiny) {
		t.Errorf("Expected new size %d in error, got %d", len(tiny), truncErr.NewSize)
	}
	if !bytes.Equal(readRegistry(t, s), before) {
		t.Error("Refused write still modified the registry file")
	}
}

func TestStore_SiteCountGate(t *testing.T) {
	s := newTestStore(t, sampleRegistry)
	before := readRegistry(t, s)

	// Claims to be an update (same count expected) but lost an entry.
	doc := mustParse(t, sampleRegistry)
	if _, err := doc.Remove("test"); err != nil {
		t.Fatal(err)
	}

	err := s.writeValidated("update", "avc", doc.Serialize(), len(before), 0, 3)
	if err == nil {
		t.Fatal("Expected site count gate to refuse the write")
	}
	if !bytes.Equal(readRegistry(t, s), before) {
		t.Error("Refused write still modified the registry file")
	}
}

func TestStore_Bootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sites.reg")
	s := New(path, Options{})

	if err := s.Bootstrap(map[string]string{"database": "mariadb", "php": "8.3"}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	sites, err := s.List()
	if err != nil {
		t.Fatalf("List after bootstrap failed: %v", err)
	}
	if len(sites) != 0 {
		t.Errorf("Expected empty registry, got %d sites", len(sites))
	}

	settings, err := s.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if settings["database"] != "mariadb" || settings["php"] != "8.3" {
		t.Errorf("Settings not written: %v", settings)
	}

	err = s.Bootstrap(map[string]string{"database": "mariadb"})
	if !errors.Is(err, ErrRegistryExists) {
		t.Fatalf("Expected ErrRegistryExists, got %v", err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.reg")

	if err := writeFileAtomic(path, []byte("sites:\n")); err != nil {
		t.Fatalf("writeFileAtomic failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "sites:\n" {
		t.Errorf("Unexpected content %q", data)
	}

	// Overwrite path: old content replaced wholesale, no temp files left.
	if err := writeFileAtomic(path, []byte(sampleRegistry)); err != nil {
		t.Fatalf("writeFileAtomic overwrite failed: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "sites.reg" {
		t.Errorf("Temp files left behind: %v", entries)
	}

	// Nonexistent target directory fails cleanly.
	if err := writeFileAtomic(filepath.Join(dir, "missing", "sites.reg"), []byte("x")); err == nil {
		t.Error("Expected error writing into a missing directory")
	}
}

func TestStore_MutationsPreserveUnrelatedBytes(t *testing.T) {
	s := newTestStore(t, sampleRegistry)
	ctx := context.Background()

	if err := s.Remove(ctx, "avc"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	data := readRegistry(t, s)
	// fred's hand-written comment and exact field layout survive.
	if !bytes.Contains(data, []byte("  # fred hosts the staging build\n  fred:\n")) {
		t.Errorf("Comment lost during unrelated remove:\n%s", data)
	}
	if !bytes.Contains(data, []byte("settings:\n  database: mariadb\n  php: \"8.3\"\n")) {
		t.Errorf("Settings block changed:\n%s", data)
	}
}
