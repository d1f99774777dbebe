package registry

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	namePattern     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	fieldKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// ValidateName checks that a site name is usable as a registry key.
func ValidateName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !namePattern.MatchString(name) {
		return &ValidationError{Name: name, Field: "name", Reason: "must match ^[A-Za-z0-9_-]+$"}
	}
	return nil
}

// ValidateEntry checks the structural constraints every committed entry
// must satisfy. It does not check uniqueness; the document does that.
func ValidateEntry(e *SiteEntry) error {
	if err := ValidateName(e.Name); err != nil {
		return err
	}
	if e.Directory == "" {
		return &ValidationError{Name: e.Name, Field: "directory", Reason: "must not be empty"}
	}
	if !filepath.IsAbs(e.Directory) {
		return &ValidationError{Name: e.Name, Field: "directory", Reason: "must be an absolute path"}
	}
	if e.Recipe == "" {
		return &ValidationError{Name: e.Name, Field: "recipe", Reason: "must not be empty"}
	}
	if !e.Environment.Valid() {
		return &ValidationError{Name: e.Name, Field: "environment",
			Reason: fmt.Sprintf("%q is not one of development, staging, production", e.Environment)}
	}
	if !e.Purpose.Valid() {
		return &ValidationError{Name: e.Name, Field: "purpose",
			Reason: fmt.Sprintf("%q is not one of temporary, permanent", e.Purpose)}
	}
	for _, f := range e.Extra {
		if !fieldKeyPattern.MatchString(f.Key) {
			return &ValidationError{Name: e.Name, Field: f.Key, Reason: "extension field key must match ^[A-Za-z0-9_.-]+$"}
		}
		if isReservedField(f.Key) {
			return &ValidationError{Name: e.Name, Field: f.Key, Reason: "extension field shadows a core field"}
		}
		if strings.ContainsAny(f.Value, "\n\r") {
			return &ValidationError{Name: e.Name, Field: f.Key, Reason: "extension field value must be a single line"}
		}
	}
	return nil
}

func isReservedField(key string) bool {
	switch key {
	case "directory", "recipe", "environment", "purpose", "created":
		return true
	}
	return false
}

// postCheck gates the serialized document right before it is committed.
// The reserialized content must parse, must contain exactly the expected
// number of sites, and must not be implausibly smaller than the original.
// The size floor is the pre-operation size minus the bytes the operation
// legitimately removed, scaled by fraction. This is the defense against a
// mutation bug that would flush the whole registry to disk as an empty or
// truncated file.
func postCheck(path, op, name string, out []byte, prevSize, removedBytes, expectSites int, fraction float64) error {
	doc, err := Parse(path, out)
	if err != nil {
		return fmt.Errorf("%s of %q produced an unparseable registry, write aborted: %w", op, name, err)
	}
	if doc.Len() != expectSites {
		return fmt.Errorf("%s of %q would leave %d sites where %d were expected, write aborted", op, name, doc.Len(), expectSites)
	}
	min := int(float64(prevSize-removedBytes) * fraction)
	if len(out) < min {
		return &TruncationError{Op: op, Name: name, PrevSize: prevSize, NewSize: len(out), MinSize: min}
	}
	return nil
}
