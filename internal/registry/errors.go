package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the site name doesn't exist in the registry
	ErrNotFound = errors.New("site not found")
	// ErrDuplicateKey indicates an add targeted an already-used site name
	ErrDuplicateKey = errors.New("site already exists")
	// ErrLockTimeout indicates the registry lock could not be acquired in
	// time. This is the only retryable error in the taxonomy.
	ErrLockTimeout = errors.New("registry lock timeout")
	// ErrRegistryExists indicates Bootstrap found an existing registry file
	ErrRegistryExists = errors.New("registry already exists")
)

// Span is a byte/line range within the registry file.
type Span struct {
	StartLine int `json:"start_line"` // 1-based, inclusive
	EndLine   int `json:"end_line"`   // 1-based, inclusive
	StartByte int `json:"start_byte"`
	EndByte   int `json:"end_byte"`
}

func (s Span) String() string {
	if s.StartLine == s.EndLine {
		return fmt.Sprintf("line %d", s.StartLine)
	}
	return fmt.Sprintf("lines %d-%d", s.StartLine, s.EndLine)
}

// Problem is one structural anomaly found while parsing.
type Problem struct {
	Line    int
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("line %d: %s", p.Line, p.Message)
}

// MalformedError reports a registry file that does not parse. The file is
// never rewritten while it is in this state; it needs a manual edit.
type MalformedError struct {
	Path     string
	Problems []Problem
}

func (e *MalformedError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return fmt.Sprintf("malformed registry %s: %s", e.Path, strings.Join(msgs, "; "))
}

// AmbiguousKeyError reports a site name that appears more than once in the
// registry file. Targeted mutation of such a name is refused; all
// occurrences are reported so an operator can resolve the duplicate.
type AmbiguousKeyError struct {
	Name        string
	Occurrences []Span
}

func (e *AmbiguousKeyError) Error() string {
	locs := make([]string, len(e.Occurrences))
	for i, s := range e.Occurrences {
		locs[i] = s.String()
	}
	return fmt.Sprintf("site %q appears %d times in the registry (%s); resolve the duplicate manually",
		e.Name, len(e.Occurrences), strings.Join(locs, ", "))
}

// ValidationError reports an entry field failing a structural constraint.
type ValidationError struct {
	Name   string // site name, if known
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("invalid site %q: %s: %s", e.Name, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid site entry: %s: %s", e.Field, e.Reason)
}

// TruncationError reports that a serialized document failed the
// post-mutation sanity check: it was implausibly smaller than the
// pre-operation file. The write is aborted and the original preserved.
type TruncationError struct {
	Op       string
	Name     string
	PrevSize int
	NewSize  int
	MinSize  int
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("refusing to commit %s of %q: new registry is %d bytes, expected at least %d (was %d); original left untouched",
		e.Op, e.Name, e.NewSize, e.MinSize, e.PrevSize)
}

// LockTimeoutError reports that the exclusive registry lock could not be
// acquired within the configured bound. Matches ErrLockTimeout via
// errors.Is; callers may retry.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not acquire registry lock %s within %s (another sitekit command may be running)", e.Path, e.Timeout)
}

func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }
