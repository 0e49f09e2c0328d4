package indexer

import (
	"strings"
)

const (
	extinfPrefix = "#EXTINF:"

	// DefaultGroup is used when a descriptor has no group-title.
	DefaultGroup = "Uncategorized"
)

// Attr is one key="value" pair from a descriptor line, kept in source order.
type Attr struct {
	Key   string
	Value string
}

// Metadata is the structured form of an #EXTINF descriptor line.
type Metadata struct {
	Duration string
	Attrs    []Attr
	// Name is the display name. When the descriptor has none, the parser fills a
	// placeholder and sets NameGenerated.
	Name          string
	NameGenerated bool
	Logo          string
	Group         string
	TVGID         string
}

// Attr returns the value of the first attribute named key (case-insensitive).
func (m Metadata) Attr(key string) (string, bool) {
	for _, a := range m.Attrs {
		if strings.EqualFold(a.Key, key) {
			return a.Value, true
		}
	}
	return "", false
}

// WithAttr returns a copy of m with key set to value, replacing an existing
// attribute in place or appending a new one.
func (m Metadata) WithAttr(key, value string) Metadata {
	attrs := make([]Attr, 0, len(m.Attrs)+1)
	found := false
	for _, a := range m.Attrs {
		if strings.EqualFold(a.Key, key) {
			if found {
				continue
			}
			a.Value = value
			found = true
		}
		attrs = append(attrs, a)
	}
	if !found {
		attrs = append(attrs, Attr{Key: key, Value: value})
	}
	m.Attrs = attrs
	return m
}

// WithLogo returns a copy of m whose logo (and tvg-logo attribute) is logo.
func (m Metadata) WithLogo(logo string) Metadata {
	m = m.WithAttr("tvg-logo", logo)
	m.Logo = logo
	return m
}

// ParseEXTINF tokenizes a descriptor line. It never fails: malformed input
// yields whatever fields could be recognized. No defaults are applied.
//
//	#EXTINF:-1 tvg-id="a.b" tvg-logo="http://x/l.png" group-title="News, Local",Channel One
func ParseEXTINF(line string) Metadata {
	body := line
	if len(body) >= len(extinfPrefix) && strings.EqualFold(body[:len(extinfPrefix)], extinfPrefix) {
		body = body[len(extinfPrefix):]
	}

	head, name := body, ""
	if i := lastUnquotedComma(body); i >= 0 {
		head, name = body[:i], body[i+1:]
	}

	var m Metadata
	m.Name = strings.TrimSpace(name)
	t := tokenizer{s: head}
	t.skipSpace()
	if tok := t.bare(); !strings.Contains(tok, "=") {
		m.Duration = tok
	} else {
		// No duration token; reparse from the start as attributes.
		t = tokenizer{s: head}
	}
	for {
		t.skipSpace()
		if t.done() {
			break
		}
		key, value, ok := t.attr()
		if !ok {
			continue
		}
		m.Attrs = append(m.Attrs, Attr{Key: key, Value: value})
	}

	m.Logo, _ = m.Attr("tvg-logo")
	m.Group, _ = m.Attr("group-title")
	m.TVGID, _ = m.Attr("tvg-id")
	if m.Name == "" {
		if n, ok := m.Attr("tvg-name"); ok {
			m.Name = strings.TrimSpace(n)
		}
	}
	return m
}

// EXTINF renders m back into a descriptor line. Attribute order is preserved;
// commas in the display name are replaced with spaces so the line re-parses to
// the same name.
func (m Metadata) EXTINF() string {
	var b strings.Builder
	b.WriteString(extinfPrefix)
	if m.Duration != "" {
		b.WriteString(m.Duration)
	} else {
		b.WriteString("-1")
	}
	for _, a := range m.Attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(strings.ReplaceAll(a.Value, `"`, "'"))
		b.WriteByte('"')
	}
	b.WriteByte(',')
	b.WriteString(strings.TrimSpace(strings.ReplaceAll(m.Name, ",", " ")))
	return b.String()
}

// lastUnquotedComma finds the comma that starts the display name. A quote
// that never closes does not hide commas: the last comma in s is used instead.
func lastUnquotedComma(s string) int {
	idx := -1
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case (c == '"' || c == '\'') && i > 0 && s[i-1] == '=':
			quote = c
		case c == ',':
			idx = i
		}
	}
	if quote != 0 {
		return strings.LastIndexByte(s, ',')
	}
	return idx
}

type tokenizer struct {
	s   string
	pos int
}

func (t *tokenizer) done() bool { return t.pos >= len(t.s) }

func (t *tokenizer) skipSpace() {
	for t.pos < len(t.s) && isSpace(t.s[t.pos]) {
		t.pos++
	}
}

// bare reads up to the next whitespace.
func (t *tokenizer) bare() string {
	start := t.pos
	for t.pos < len(t.s) && !isSpace(t.s[t.pos]) {
		t.pos++
	}
	return t.s[start:t.pos]
}

// attr reads key=value, key="value" or key='value'. A token without '=' is
// consumed and reported as not ok.
func (t *tokenizer) attr() (key, value string, ok bool) {
	start := t.pos
	for t.pos < len(t.s) && t.s[t.pos] != '=' && !isSpace(t.s[t.pos]) {
		t.pos++
	}
	key = t.s[start:t.pos]
	if t.done() || t.s[t.pos] != '=' || key == "" {
		if t.pos == start {
			t.pos++
		}
		return "", "", false
	}
	t.pos++ // '='
	if t.done() {
		return key, "", true
	}
	if q := t.s[t.pos]; q == '"' || q == '\'' {
		t.pos++
		vstart := t.pos
		for t.pos < len(t.s) && t.s[t.pos] != q {
			t.pos++
		}
		value = t.s[vstart:t.pos]
		if !t.done() {
			t.pos++
		}
		return key, value, true
	}
	return key, t.bare(), true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}
