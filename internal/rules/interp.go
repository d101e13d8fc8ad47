package rules

import (
	"fmt"
	"strings"

	"github.com/reujab/ramon/internal/event"
)

// Template is a parsed `${name}` interpolation string, used for titles,
// push values, and membership operands. References are extracted at load
// time so rule compilation can validate them.
type Template struct {
	src   string
	parts []templatePart
}

// templatePart is either a literal (ref == "") or a field reference.
type templatePart struct {
	literal string
	ref     string
}

// ParseTemplate parses src, rejecting unterminated `${` sequences.
func ParseTemplate(src string) (*Template, error) {
	t := &Template{src: src}
	rest := src
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return nil, fmt.Errorf("unterminated ${ in %q", src)
		}
		name := rest[start+2 : start+end]
		if name == "" {
			return nil, fmt.Errorf("empty ${} reference in %q", src)
		}
		if start > 0 {
			t.parts = append(t.parts, templatePart{literal: rest[:start]})
		}
		t.parts = append(t.parts, templatePart{ref: name})
		rest = rest[start+end+1:]
	}
	if rest != "" {
		t.parts = append(t.parts, templatePart{literal: rest})
	}
	return t, nil
}

// Refs returns the referenced field names, in order of appearance.
func (t *Template) Refs() []string {
	var refs []string
	for _, p := range t.parts {
		if p.ref != "" {
			refs = append(refs, p.ref)
		}
	}
	return refs
}

// Render substitutes context fields into the template. A missing field
// renders empty.
func (t *Template) Render(ctx *event.MatchContext) string {
	var b strings.Builder
	for _, p := range t.parts {
		if p.ref == "" {
			b.WriteString(p.literal)
			continue
		}
		if v, ok := ctx.Get(p.ref); ok {
			b.WriteString(v)
		}
	}
	return b.String()
}

// String returns the source string.
func (t *Template) String() string {
	return t.src
}
