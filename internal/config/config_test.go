package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.Registry == "" {
		t.Error("Expected default registry path")
	}
	if d.LockTimeout <= 0 || d.LockPoll <= 0 || d.LockStaleAfter <= 0 {
		t.Errorf("Expected positive lock defaults: %+v", d)
	}
	if d.TruncationFraction <= 0 || d.TruncationFraction >= 1 {
		t.Errorf("Expected truncation fraction in (0,1), got %v", d.TruncationFraction)
	}
	if d.Daemon.Socket == "" || d.Daemon.PIDFile == "" {
		t.Errorf("Expected daemon path defaults: %+v", d.Daemon)
	}
}

func TestStoreOptions(t *testing.T) {
	d := Defaults()
	o := d.StoreOptions()
	if o.LockTimeout != d.LockTimeout || o.TruncationFraction != d.TruncationFraction {
		t.Errorf("StoreOptions lost values: %+v vs %+v", o, d)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitekit", "config.yaml")

	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"lock_timeout", "lock_stale_after", "truncation_fraction", "daemon:"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Config template missing %q:\n%s", key, data)
		}
	}

	// Existing file is left alone.
	if err := os.WriteFile(path, []byte("registry: /custom\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig on existing file failed: %v", err)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "registry: /custom\n" {
		t.Error("WriteDefaultConfig overwrote an existing config")
	}
}
