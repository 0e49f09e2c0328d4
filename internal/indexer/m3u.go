package indexer

import (
	"bufio"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/snapetech/tvcollector/internal/metrics"
)

const maxLineSize = 1 << 20 // 1 MiB per line

// Entry is one playable item: a descriptor paired with the URL that followed it.
type Entry struct {
	Meta   Metadata
	URL    string
	Source string
}

// ParseOptions controls defaults applied to parsed entries.
type ParseOptions struct {
	Source      string // recorded on every entry
	DefaultLogo string // used when a descriptor has no tvg-logo
}

// ParseStats counts what the parser produced and what it dropped.
type ParseStats struct {
	Entries      int
	Orphaned     int // URL lines with no pending descriptor
	Unterminated int // descriptors never followed by a URL
	Unclassified int // lines that are neither descriptor, URL, comment nor blank
}

// Skipped is the total number of dropped lines.
func (s ParseStats) Skipped() int {
	return s.Orphaned + s.Unterminated + s.Unclassified
}

// Parser reads an extended-M3U playlist one line at a time. Entries are produced
// lazily, so a caller that stops early never reads the rest of the input.
type Parser struct {
	sc    *bufio.Scanner
	opts  ParseOptions
	stats ParseStats
	err   error
}

func NewParser(r io.Reader, opts ParseOptions) *Parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)
	return &Parser{sc: sc, opts: opts}
}

// Entries yields complete entries in input order. Iterate it once.
func (p *Parser) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		var pending string
		hasPending := false
		first := true
		for p.sc.Scan() {
			line := strings.TrimSpace(p.sc.Text())
			if first {
				line = strings.TrimPrefix(line, "\ufeff")
				first = false
			}
			switch {
			case line == "":
			case isDescriptor(line):
				if hasPending {
					p.skip("unterminated")
				}
				pending, hasPending = line, true
			case strings.HasPrefix(line, "#"):
			case isURLLine(line):
				if !hasPending {
					p.skip("orphaned")
					continue
				}
				e := p.entry(pending, line)
				hasPending = false
				p.stats.Entries++
				metrics.EntriesParsedTotal.Inc()
				if !yield(e) {
					return
				}
			default:
				p.skip("unclassified")
			}
		}
		if hasPending {
			p.skip("unterminated")
		}
		p.err = p.sc.Err()
	}
}

// Err returns the reader error that ended iteration, if any.
func (p *Parser) Err() error { return p.err }

// Stats returns counts accumulated so far.
func (p *Parser) Stats() ParseStats { return p.stats }

func (p *Parser) skip(reason string) {
	switch reason {
	case "orphaned":
		p.stats.Orphaned++
	case "unterminated":
		p.stats.Unterminated++
	default:
		p.stats.Unclassified++
	}
	metrics.ParseSkippedLinesTotal.WithLabelValues(reason).Inc()
}

func (p *Parser) entry(descriptor, url string) Entry {
	m := ParseEXTINF(descriptor)
	if m.Name == "" {
		m.Name = "Channel " + strconv.Itoa(p.stats.Entries+1)
		m.NameGenerated = true
	}
	if m.Logo == "" && p.opts.DefaultLogo != "" {
		m = m.WithLogo(p.opts.DefaultLogo)
	}
	if m.Group == "" {
		m.Group = DefaultGroup
	}
	return Entry{Meta: m, URL: url, Source: p.opts.Source}
}

// ParseAll parses r fully and returns every entry.
func ParseAll(r io.Reader, opts ParseOptions) ([]Entry, ParseStats, error) {
	p := NewParser(r, opts)
	var out []Entry
	for e := range p.Entries() {
		out = append(out, e)
	}
	return out, p.Stats(), p.Err()
}

func isDescriptor(line string) bool {
	return len(line) >= len(extinfPrefix) && strings.EqualFold(line[:len(extinfPrefix)], extinfPrefix)
}

// isURLLine reports whether line starts with an RFC 3986 scheme followed by "://".
func isURLLine(line string) bool {
	i := strings.Index(line, "://")
	if i <= 0 {
		return false
	}
	for j := 0; j < i; j++ {
		c := line[j]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case j > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// StatusError is returned when a source answers with a non-200 status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return "unexpected status " + strconv.Itoa(e.Code) + " from " + e.URL
}
