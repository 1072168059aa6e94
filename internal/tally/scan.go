package tally

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Tally's responses are not schema friendly (dotted tag names, stray
// entities, mixed empty forms), so values are pulled out by tag scanning.

var tagToken = regexp.MustCompile(`<(/?)([A-Za-z][A-Za-z0-9_.:]*)\b[^>]*?(/?)>`)

type node struct {
	name  string
	inner string
}

// children returns the direct child elements of body in document order.
func children(body string) []node {
	var (
		out        []node
		depth      int
		openName   string
		innerStart int
	)
	for _, m := range tagToken.FindAllStringSubmatchIndex(body, -1) {
		closing := m[3] > m[2]
		name := body[m[4]:m[5]]
		selfClosing := m[7] > m[6]
		switch {
		case selfClosing:
			if depth == 0 {
				out = append(out, node{name: name})
			}
		case closing:
			depth--
			if depth == 0 && name == openName {
				out = append(out, node{name: name, inner: body[innerStart:m[0]]})
			}
			if depth < 0 {
				depth = 0
			}
		default:
			if depth == 0 {
				openName = name
				innerStart = m[1]
			}
			depth++
		}
	}
	return out
}

// field returns the decoded text of the first direct child named tag.
func field(nodes []node, tag string) string {
	for _, n := range nodes {
		if n.name == tag {
			return decodeText(n.inner)
		}
	}
	return ""
}

func named(nodes []node, tags ...string) []node {
	var out []node
	for _, n := range nodes {
		for _, t := range tags {
			if n.name == t {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// decodeText trims and decodes HTML/XML entities such as &amp; and &#13;.
func decodeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(s))
}

func tagPattern(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(tag) + `>\s*(.*?)\s*</` + regexp.QuoteMeta(tag) + `>`)
}

func firstInt(re *regexp.Regexp, body string) (int, bool) {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(m[1]))
	if err != nil {
		return 0, false
	}
	return n, true
}
