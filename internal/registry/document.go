package registry

import (
	"fmt"
	"strings"
	"time"
)

// Document is the in-memory form of a parsed registry file. Untouched
// entries keep their original lines and reserialize byte for byte; only
// entries created or modified through the document are re-rendered.
type Document struct {
	path     string
	segments []segment
	settings *rawSection
	sites    *sitesSection

	index       map[string][]*siteNode
	trailingNL  bool
	entryIndent int
	fieldIndent int
}

type segment interface {
	write(b *strings.Builder, d *Document)
}

// rawSection is an opaque block of lines (prologue, settings, epilogue).
type rawSection struct {
	lines []string
}

func (r *rawSection) write(b *strings.Builder, _ *Document) {
	for _, l := range r.lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

type sitesSection struct {
	header  string
	entries []*siteNode
	tail    []string
}

func (s *sitesSection) write(b *strings.Builder, d *Document) {
	b.WriteString(s.header)
	b.WriteByte('\n')
	for _, n := range s.entries {
		for _, l := range n.lead {
			b.WriteString(l)
			b.WriteByte('\n')
		}
		if n.dirty {
			d.renderEntry(b, n.entry)
		} else {
			for _, l := range n.raw {
				b.WriteString(l)
				b.WriteByte('\n')
			}
		}
	}
	for _, l := range s.tail {
		b.WriteString(l)
		b.WriteByte('\n')
	}
}

// siteNode is one site entry block: its parsed form plus the verbatim
// lines it came from. lead holds the comment/blank lines attached above it.
type siteNode struct {
	name   string
	entry  *SiteEntry
	lead   []string
	raw    []string
	span   Span
	dirty  bool
	issues []string
	seen   map[string]bool // parser scratch
}

func (d *Document) buildIndex() {
	d.index = make(map[string][]*siteNode)
	if d.sites == nil {
		return
	}
	for _, n := range d.sites.entries {
		d.index[n.name] = append(d.index[n.name], n)
	}
}

// Len returns the number of site entries, counting duplicates.
func (d *Document) Len() int {
	if d.sites == nil {
		return 0
	}
	return len(d.sites.entries)
}

// List returns all entries in file order. Duplicated names appear once per
// occurrence so callers can see the ambiguity instead of silently getting
// one of the two.
func (d *Document) List() []*SiteEntry {
	if d.sites == nil {
		return nil
	}
	out := make([]*SiteEntry, 0, len(d.sites.entries))
	for _, n := range d.sites.entries {
		out = append(out, n.entry.Clone())
	}
	return out
}

// AmbiguousNames returns the site names that appear more than once.
func (d *Document) AmbiguousNames() []string {
	var names []string
	if d.sites == nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, n := range d.sites.entries {
		if len(d.index[n.name]) > 1 && !seen[n.name] {
			names = append(names, n.name)
			seen[n.name] = true
		}
	}
	return names
}

func (d *Document) ambiguityErr(name string) error {
	nodes := d.index[name]
	spans := make([]Span, len(nodes))
	for i, n := range nodes {
		spans[i] = n.span
	}
	return &AmbiguousKeyError{Name: name, Occurrences: spans}
}

// Get returns a copy of the named entry. An ambiguous name is an error:
// there is no single entry to return.
func (d *Document) Get(name string) (*SiteEntry, error) {
	nodes := d.index[name]
	switch len(nodes) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	case 1:
		return nodes[0].entry.Clone(), nil
	default:
		return nil, d.ambiguityErr(name)
	}
}

// Insert appends a new entry. The name must be entirely unused; a name with
// ambiguous duplicates counts as used.
func (d *Document) Insert(entry *SiteEntry) error {
	if len(d.index[entry.Name]) > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, entry.Name)
	}
	n := &siteNode{name: entry.Name, entry: entry.Clone(), dirty: true}
	d.sites.entries = append(d.sites.entries, n)
	d.index[entry.Name] = append(d.index[entry.Name], n)
	return nil
}

// Remove deletes the named entry along with its attached comment lines and
// returns how many bytes of original text the removal dropped, for the
// truncation defense. Ambiguous names are refused.
func (d *Document) Remove(name string) (int, error) {
	nodes := d.index[name]
	switch len(nodes) {
	case 0:
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	case 1:
	default:
		return 0, d.ambiguityErr(name)
	}
	target := nodes[0]
	removed := 0
	for _, l := range append(append([]string{}, target.lead...), target.raw...) {
		removed += len(l) + 1
	}
	for i, n := range d.sites.entries {
		if n == target {
			d.sites.entries = append(d.sites.entries[:i], d.sites.entries[i+1:]...)
			break
		}
	}
	delete(d.index, name)
	return removed, nil
}

// Update applies mutate to a copy of the named entry and, if it returns
// nil, replaces the entry. Name and Created are restored afterwards: the
// name is the registry key and the creation timestamp is set once for the
// lifetime of the site.
func (d *Document) Update(name string, mutate func(*SiteEntry) error) error {
	nodes := d.index[name]
	switch len(nodes) {
	case 0:
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	case 1:
	default:
		return d.ambiguityErr(name)
	}
	n := nodes[0]
	if len(n.issues) > 0 {
		return &ValidationError{Name: name, Field: "entry", Reason: strings.Join(n.issues, "; ")}
	}
	next := n.entry.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	next.Name = name
	next.Created = n.entry.Created
	if err := ValidateEntry(next); err != nil {
		return err
	}
	n.entry = next
	n.dirty = true
	return nil
}

// Settings returns a loose key/value view of the settings block. The block
// itself is opaque pass-through; this is a convenience for callers that
// read global defaults (database engine, runtime version).
func (d *Document) Settings() map[string]string {
	out := make(map[string]string)
	if d.settings == nil {
		return out
	}
	for _, line := range d.settings.lines[1:] {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		colon := strings.Index(t, ":")
		if colon <= 0 {
			continue
		}
		out[t[:colon]] = unquote(strings.TrimSpace(t[colon+1:]))
	}
	return out
}

// Serialize renders the document back to registry file content. Sections
// and entries the caller never touched come out byte for byte as parsed.
func (d *Document) Serialize() []byte {
	var b strings.Builder
	for _, seg := range d.segments {
		seg.write(&b, d)
	}
	out := b.String()
	if !d.trailingNL {
		out = strings.TrimSuffix(out, "\n")
	}
	return []byte(out)
}

func (d *Document) renderEntry(b *strings.Builder, e *SiteEntry) {
	ei := d.entryIndent
	if ei == 0 {
		ei = defaultEntryIndent
	}
	fi := d.fieldIndent
	if fi == 0 {
		fi = defaultFieldIndent
		if ei != defaultEntryIndent {
			fi = ei * 2
		}
	}
	entryPad := strings.Repeat(" ", ei)
	fieldPad := strings.Repeat(" ", fi)

	b.WriteString(entryPad)
	b.WriteString(e.Name)
	b.WriteString(":\n")
	writeField := func(key, value string) {
		b.WriteString(fieldPad)
		b.WriteString(key)
		b.WriteByte(':')
		if value != "" {
			b.WriteByte(' ')
			b.WriteString(value)
		}
		b.WriteByte('\n')
	}
	writeField("directory", e.Directory)
	writeField("recipe", e.Recipe)
	writeField("environment", string(e.Environment))
	writeField("purpose", string(e.Purpose))
	writeField("created", e.Created.UTC().Format(time.RFC3339))
	for _, f := range e.Extra {
		writeField(f.Key, f.Value)
	}
}
