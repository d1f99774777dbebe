package registry

import (
	"fmt"
	"strings"
	"time"
)

// The registry is a fixed, hand-editable text format:
//
//	settings:
//	  database: mariadb
//
//	sites:
//	  avc:
//	    directory: /var/www/avc
//	    recipe: wordpress
//	    ...
//
// Parse keeps every line it does not understand structurally as opaque
// pass-through, so that reserializing an untouched document reproduces the
// input byte for byte. Comments and blank lines attach to the nearest
// following site entry; anything before the first section or after the last
// entry is kept as a raw block in place.
//
// Duplicate site names are NOT a parse failure: the document parses, the
// name is marked ambiguous, and every mutation targeting it is refused with
// an AmbiguousKeyError listing all occurrences. Naive line-based rewriting
// of such a file is exactly how a registry gets emptied by accident.

const (
	defaultEntryIndent = 2
	defaultFieldIndent = 4
)

type parser struct {
	path  string
	lines []string
	offs  []int // byte offset of each line start
	size  int

	doc      *Document
	problems []Problem

	state       int // stTop, stSettings, stSites
	cur         *rawSection
	sites       *sitesSection
	node        *siteNode
	pending     []string // blank/comment lines awaiting their owner
	settingsSet bool
}

const (
	stTop = iota
	stSettings
	stSites
)

// Parse converts raw registry file content into a Document. The path is
// used in error messages only. Parse never touches disk.
func Parse(path string, data []byte) (*Document, error) {
	p := &parser{path: path, size: len(data)}
	p.splitLines(data)
	p.doc = &Document{
		path:        path,
		trailingNL:  len(data) == 0 || data[len(data)-1] == '\n',
		entryIndent: 0,
		fieldIndent: 0,
	}
	p.run()

	if p.sites == nil {
		p.problem(len(p.lines), "missing sites section")
	}
	if len(p.problems) > 0 {
		return nil, &MalformedError{Path: path, Problems: p.problems}
	}
	p.doc.buildIndex()
	return p.doc, nil
}

func (p *parser) splitLines(data []byte) {
	s := string(data)
	off := 0
	for {
		p.offs = append(p.offs, off)
		i := strings.IndexByte(s[off:], '\n')
		if i < 0 {
			p.lines = append(p.lines, s[off:])
			break
		}
		p.lines = append(p.lines, s[off:off+i])
		off += i + 1
		if off == len(s) {
			break
		}
	}
	if len(data) == 0 {
		p.lines = nil
		p.offs = nil
	}
}

func (p *parser) problem(line int, format string, args ...any) {
	p.problems = append(p.problems, Problem{Line: line, Message: fmt.Sprintf(format, args...)})
}

func (p *parser) run() {
	i := 0
	for i < len(p.lines) {
		line := p.lines[i]
		lineNo := i + 1

		ind, hasTab := indentOf(line)
		if hasTab {
			p.problem(lineNo, "tab indentation is not allowed")
			i++
			continue
		}
		trimmed := strings.TrimSpace(line)
		blank := trimmed == ""
		comment := strings.HasPrefix(trimmed, "#")

		switch p.state {
		case stTop:
			switch {
			case blank || comment:
				p.addRaw(line)
			case ind == 0 && line == "settings:":
				if p.settingsSet {
					p.problem(lineNo, "duplicate settings section")
				}
				p.flushRaw()
				p.cur = &rawSection{lines: []string{line}}
				p.doc.settings = p.cur
				p.settingsSet = true
				p.state = stSettings
			case ind == 0 && line == "sites:":
				if p.sites != nil {
					p.problem(lineNo, "duplicate sites section")
					break
				}
				p.flushRaw()
				p.sites = &sitesSection{header: line}
				p.doc.segments = append(p.doc.segments, p.sites)
				p.doc.sites = p.sites
				p.state = stSites
			default:
				p.problem(lineNo, "unexpected top-level line %q", trimmed)
			}
		case stSettings:
			if blank || comment || ind > 0 {
				p.cur.lines = append(p.cur.lines, line)
				break
			}
			// Column-zero key ends the settings block; reprocess.
			p.flushRaw()
			p.state = stTop
			continue
		case stSites:
			if ind == 0 && !blank && !comment {
				// Section over; pending lines belong to whatever follows.
				p.closeEntry(i)
				p.flushPendingToRaw()
				p.state = stTop
				continue
			}
			if blank || comment {
				p.pending = append(p.pending, line)
				break
			}
			p.siteLine(i, line, ind, trimmed)
		}
		i++
	}

	p.closeEntry(len(p.lines))
	if p.state == stSites {
		p.sites.tail = append(p.sites.tail, p.pending...)
		p.pending = nil
	} else {
		p.flushPendingToRaw()
	}
	p.flushRaw()
}

func (p *parser) siteLine(i int, line string, ind int, trimmed string) {
	lineNo := i + 1

	if p.doc.entryIndent == 0 {
		p.doc.entryIndent = ind
	}
	switch {
	case ind == p.doc.entryIndent:
		name, ok := parseEntryHeader(trimmed)
		if !ok {
			p.problem(lineNo, "expected a site entry header (name followed by a colon), got %q", trimmed)
			return
		}
		p.closeEntry(i)
		p.node = &siteNode{
			name:  name,
			entry: &SiteEntry{Name: name},
			lead:  p.pending,
			raw:   []string{line},
			span:  Span{StartLine: lineNo, StartByte: p.offs[i]},
			seen:  make(map[string]bool),
		}
		p.pending = nil
	case ind > p.doc.entryIndent:
		if p.node == nil {
			p.problem(lineNo, "field outside a site entry")
			return
		}
		if p.doc.fieldIndent == 0 {
			p.doc.fieldIndent = ind
		}
		if ind != p.doc.fieldIndent {
			p.problem(lineNo, "inconsistent indentation in site entry %q", p.node.name)
			return
		}
		// Blank/comment lines buffered inside the entry stay with it.
		p.node.raw = append(p.node.raw, p.pending...)
		p.pending = nil
		p.node.raw = append(p.node.raw, line)
		p.parseField(lineNo, trimmed)
	default:
		p.problem(lineNo, "inconsistent indentation")
	}
}

func (p *parser) parseField(lineNo int, trimmed string) {
	n := p.node
	colon := strings.Index(trimmed, ":")
	if colon <= 0 {
		p.problem(lineNo, "malformed field line in site entry %q", n.name)
		return
	}
	key := trimmed[:colon]
	value := unquote(strings.TrimSpace(trimmed[colon+1:]))
	if strings.ContainsAny(key, " \t") {
		p.problem(lineNo, "malformed field key %q in site entry %q", key, n.name)
		return
	}
	if n.seen[key] {
		n.issues = append(n.issues, fmt.Sprintf("duplicate field %q", key))
		return
	}
	n.seen[key] = true

	switch key {
	case "directory":
		n.entry.Directory = value
	case "recipe":
		n.entry.Recipe = value
	case "environment":
		n.entry.Environment = Environment(value)
	case "purpose":
		n.entry.Purpose = Purpose(value)
	case "created":
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			n.issues = append(n.issues, fmt.Sprintf("unparseable created timestamp %q", value))
			return
		}
		n.entry.Created = t.UTC()
	default:
		n.entry.Extra = append(n.entry.Extra, Field{Key: key, Value: value})
	}
}

// closeEntry finalizes the current node before line index i.
func (p *parser) closeEntry(i int) {
	n := p.node
	if n == nil {
		return
	}
	p.node = nil
	if len(n.raw) == 1 {
		p.problem(n.span.StartLine, "site entry %q is empty", n.name)
		return
	}
	n.span.EndLine = n.span.StartLine + len(n.raw) - 1
	if i < len(p.lines) {
		n.span.EndByte = p.offs[n.span.EndLine-1] + len(p.lines[n.span.EndLine-1])
	} else {
		n.span.EndByte = p.size
	}
	n.seen = nil
	p.sites.entries = append(p.sites.entries, n)
}

func (p *parser) addRaw(line string) {
	if p.cur == nil {
		p.cur = &rawSection{}
	}
	p.cur.lines = append(p.cur.lines, line)
}

func (p *parser) flushRaw() {
	if p.cur != nil && len(p.cur.lines) > 0 {
		p.doc.segments = append(p.doc.segments, p.cur)
	}
	p.cur = nil
}

func (p *parser) flushPendingToRaw() {
	for _, l := range p.pending {
		p.addRaw(l)
	}
	p.pending = nil
}

func indentOf(line string) (n int, hasTab bool) {
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			return n, strings.TrimSpace(line) != ""
		default:
			return n, false
		}
	}
	return n, false
}

func parseEntryHeader(trimmed string) (string, bool) {
	if !strings.HasSuffix(trimmed, ":") {
		return "", false
	}
	name := strings.TrimSuffix(trimmed, ":")
	if name == "" || strings.ContainsAny(name, ": \t") {
		return "", false
	}
	return name, true
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}
