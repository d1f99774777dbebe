package registry

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, content string) *Document {
	t.Helper()
	doc, err := Parse("sites.reg", []byte(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return doc
}

func TestDocument_GetNotFound(t *testing.T) {
	doc := mustParse(t, sampleRegistry)
	_, err := doc.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestDocument_InsertDuplicate(t *testing.T) {
	doc := mustParse(t, sampleRegistry)
	err := doc.Insert(&SiteEntry{Name: "avc", Directory: "/elsewhere"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	// A name with ambiguous duplicates counts as used too.
	dup := mustParse(t, duplicateRegistry)
	err = dup.Insert(&SiteEntry{Name: "avc", Directory: "/elsewhere"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey for ambiguous name, got %v", err)
	}
}

func TestDocument_InsertSerializesNewEntry(t *testing.T) {
	doc := mustParse(t, sampleRegistry)
	entry := &SiteEntry{
		Name:        "blog",
		Directory:   "/var/www/blog",
		Recipe:      "wordpress",
		Environment: EnvDevelopment,
		Purpose:     PurposeTemporary,
		Created:     time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
		Extra:       []Field{{Key: "domain", Value: "blog.example.test"}},
	}
	if err := doc.Insert(entry); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	out := string(doc.Serialize())
	if !strings.Contains(out, "  blog:\n") {
		t.Errorf("Serialized output missing new entry header:\n%s", out)
	}
	if !strings.Contains(out, "    created: 2025-07-01T12:00:00Z\n") {
		t.Errorf("Serialized output missing created timestamp:\n%s", out)
	}
	if !strings.Contains(out, "    domain: blog.example.test\n") {
		t.Errorf("Serialized output missing extension field:\n%s", out)
	}

	// The original content is a strict prefix: nothing else moved.
	if !strings.HasPrefix(out, sampleRegistry) {
		t.Errorf("Insert disturbed existing content:\n%s", out)
	}

	reparsed := mustParse(t, out)
	if reparsed.Len() != 4 {
		t.Errorf("Expected 4 sites after insert, got %d", reparsed.Len())
	}
}

func TestDocument_RemoveIsolation(t *testing.T) {
	doc := mustParse(t, sampleRegistry)

	removed, err := doc.Remove("avc")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed <= 0 {
		t.Errorf("Expected positive removed byte count, got %d", removed)
	}

	out := string(doc.Serialize())
	if strings.Contains(out, "avc") {
		t.Errorf("Removed entry still present:\n%s", out)
	}

	// Untouched entries keep their exact original bytes, comment included.
	fredBlock := "  # fred hosts the staging build\n  fred:\n    directory: /var/www/fred\n    recipe: laravel\n    environment: staging\n    purpose: permanent\n    created: 2025-04-02T09:30:00Z\n"
	if !strings.Contains(out, fredBlock) {
		t.Errorf("fred block changed:\n%s", out)
	}
	if !strings.Contains(out, "  test:\n    directory: /var/www/test\n") {
		t.Errorf("test block changed:\n%s", out)
	}
}

func TestDocument_RemoveDropsAttachedComment(t *testing.T) {
	doc := mustParse(t, sampleRegistry)
	if _, err := doc.Remove("fred"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	out := string(doc.Serialize())
	if strings.Contains(out, "fred hosts the staging build") {
		t.Errorf("Comment attached to removed entry survived:\n%s", out)
	}
}

func TestDocument_RemoveAmbiguous(t *testing.T) {
	doc := mustParse(t, duplicateRegistry)
	before := doc.Serialize()

	_, err := doc.Remove("avc")
	var ambErr *AmbiguousKeyError
	if !errors.As(err, &ambErr) {
		t.Fatalf("Expected AmbiguousKeyError, got %v", err)
	}
	if ambErr.Name != "avc" {
		t.Errorf("Expected ambiguous name avc, got %q", ambErr.Name)
	}

	if !bytes.Equal(doc.Serialize(), before) {
		t.Error("Refused remove still modified the document")
	}
}

func TestDocument_UpdatePreservesNameAndCreated(t *testing.T) {
	doc := mustParse(t, sampleRegistry)
	orig, _ := doc.Get("avc")

	err := doc.Update("avc", func(e *SiteEntry) error {
		e.Name = "renamed"
		e.Created = time.Now()
		e.Environment = EnvStaging
		e.SetExtra("ip", "10.0.0.5")
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := doc.Get("avc")
	if err != nil {
		t.Fatalf("Get after update failed: %v", err)
	}
	if got.Name != "avc" {
		t.Errorf("Update changed the name to %q", got.Name)
	}
	if !got.Created.Equal(orig.Created) {
		t.Errorf("Update changed created from %v to %v", orig.Created, got.Created)
	}
	if got.Environment != EnvStaging {
		t.Errorf("Expected environment staging, got %q", got.Environment)
	}
	if v, _ := got.ExtraValue("ip"); v != "10.0.0.5" {
		t.Errorf("Expected extension field ip=10.0.0.5, got %q", v)
	}
}

func TestDocument_UpdateMutatorErrorPropagates(t *testing.T) {
	doc := mustParse(t, sampleRegistry)
	sentinel := errors.New("mutator failed")
	err := doc.Update("avc", func(e *SiteEntry) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("Expected mutator error to propagate, got %v", err)
	}

	// The entry is untouched after a failed mutator.
	out := doc.Serialize()
	if !bytes.Equal(out, []byte(sampleRegistry)) {
		t.Error("Failed update modified the document")
	}
}

func TestDocument_UpdateRejectsInvalidResult(t *testing.T) {
	doc := mustParse(t, sampleRegistry)
	err := doc.Update("avc", func(e *SiteEntry) error {
		e.Environment = "prod" // not a valid enum value
		return nil
	})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if valErr.Field != "environment" {
		t.Errorf("Expected environment field to be flagged, got %q", valErr.Field)
	}
}
