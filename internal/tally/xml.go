// Package tally speaks the Tally XML protocol: typed request builders, the
// HTTP transport and the tag-scanning parsers for Tally responses.
package tally

import "strings"

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape replaces the five XML metacharacters with their entities.
func Escape(s string) string {
	return xmlEscaper.Replace(s)
}

type attr struct {
	name  string
	value string
}

// Element is a node of an outgoing Tally document. Values are stored raw and
// escaped only when rendered, so no caller can bypass escaping.
type Element struct {
	name     string
	text     string
	hasText  bool
	attrs    []attr
	children []*Element
}

// Elem creates a container element. Nil children are ignored which keeps
// optional blocks readable at the call site.
func Elem(name string, children ...*Element) *Element {
	e := &Element{name: name}
	return e.Add(children...)
}

// Text creates a leaf element holding character data.
func Text(name, value string) *Element {
	return &Element{name: name, text: value, hasText: true}
}

// TextIf returns a leaf only when value is non-empty.
func TextIf(name, value string) *Element {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return Text(name, value)
}

// YesNo renders a Tally logical field.
func YesNo(name string, v bool) *Element {
	if v {
		return Text(name, "Yes")
	}
	return Text(name, "No")
}

// Attr appends an attribute and returns the element for chaining.
func (e *Element) Attr(name, value string) *Element {
	e.attrs = append(e.attrs, attr{name: name, value: value})
	return e
}

// Add appends children in order.
func (e *Element) Add(children ...*Element) *Element {
	for _, c := range children {
		if c != nil {
			e.children = append(e.children, c)
		}
	}
	return e
}

// Render serialises the element tree.
func (e *Element) Render() string {
	var b strings.Builder
	e.write(&b)
	return b.String()
}

func (e *Element) write(b *strings.Builder) {
	b.WriteByte('<')
	b.WriteString(e.name)
	for _, a := range e.attrs {
		b.WriteByte(' ')
		b.WriteString(a.name)
		b.WriteString(`="`)
		b.WriteString(Escape(a.value))
		b.WriteByte('"')
	}
	if !e.hasText && len(e.children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	if e.hasText {
		b.WriteString(Escape(e.text))
	}
	for _, c := range e.children {
		c.write(b)
	}
	b.WriteString("</")
	b.WriteString(e.name)
	b.WriteByte('>')
}
