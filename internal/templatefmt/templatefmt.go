package templatefmt

import "strings"

// Placeholder names understood by alarm message templates.
const (
	PlaceholderName = "name"
	PlaceholderID   = "id"
)

type segmentKind uint8

const (
	segmentText segmentKind = iota
	segmentName
	segmentID
)

type segment struct {
	kind segmentKind
	text string
}

// MessageTemplate is a pre-split alarm message template.
// Params: template text compiled once per rule.
// Returns: renderer substituting {name} and {id}.
type MessageTemplate struct {
	raw      string
	segments []segment
}

// Compile splits template into literal and placeholder segments.
// Params: template text; unknown placeholders and stray braces stay literal.
// Returns: compiled template.
func Compile(text string) *MessageTemplate {
	tmpl := &MessageTemplate{raw: text}
	var literal strings.Builder
	flush := func() {
		if literal.Len() == 0 {
			return
		}
		tmpl.segments = append(tmpl.segments, segment{kind: segmentText, text: literal.String()})
		literal.Reset()
	}

	rest := text
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			literal.WriteString(rest)
			break
		}
		literal.WriteString(rest[:open])
		rest = rest[open:]
		closing := strings.IndexByte(rest, '}')
		if closing < 0 {
			literal.WriteString(rest)
			break
		}
		switch rest[1:closing] {
		case PlaceholderName:
			flush()
			tmpl.segments = append(tmpl.segments, segment{kind: segmentName})
		case PlaceholderID:
			flush()
			tmpl.segments = append(tmpl.segments, segment{kind: segmentID})
		default:
			// Keep "{" and re-scan after it so "{{name}" still resolves the inner placeholder.
			literal.WriteByte('{')
			rest = rest[1:]
			continue
		}
		rest = rest[closing+1:]
	}
	flush()
	return tmpl
}

// Format renders template for one entity.
// Params: entity display name and primary id.
// Returns: rendered message text.
func (t *MessageTemplate) Format(name, id string) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	b.Grow(len(t.raw) + len(name) + len(id))
	for _, seg := range t.segments {
		switch seg.kind {
		case segmentName:
			b.WriteString(name)
		case segmentID:
			b.WriteString(id)
		default:
			b.WriteString(seg.text)
		}
	}
	return b.String()
}

// String returns original template text.
func (t *MessageTemplate) String() string {
	if t == nil {
		return ""
	}
	return t.raw
}
