// Package document models a mission order body as text interleaved with
// locked fields whose content is owned by the system, not the editor.
package document

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

type Kind string

const (
	KindText  Kind = "text"
	KindField Kind = "field"
)

type Field string

const (
	FieldInspectors      Field = "inspectors"
	FieldBusinessName    Field = "business_name"
	FieldBusinessAddress Field = "business_address"
)

// Fields lists every locked field in the order the fallback block renders them.
var Fields = []Field{FieldInspectors, FieldBusinessName, FieldBusinessAddress}

func (f Field) Valid() bool {
	switch f {
	case FieldInspectors, FieldBusinessName, FieldBusinessAddress:
		return true
	}
	return false
}

type Node struct {
	Kind  Kind   `json:"kind" enum:"text,field"`
	Field Field  `json:"field,omitempty" enum:"inspectors,business_name,business_address"`
	Text  string `json:"text"`
}

type Document struct {
	Nodes []Node `json:"nodes"`
}

// Facts are the current values the locked fields must show.
type Facts struct {
	InspectorNames  []string
	BusinessName    string
	BusinessAddress string
}

func (f Facts) value(field Field) string {
	switch field {
	case FieldInspectors:
		return strings.Join(f.InspectorNames, ", ")
	case FieldBusinessName:
		return f.BusinessName
	case FieldBusinessAddress:
		return f.BusinessAddress
	}
	return ""
}

var anchorLabels = map[Field][]string{
	FieldInspectors:      {"Inspector(s):", "Inspectors:", "Inspector:"},
	FieldBusinessName:    {"Business Name:", "Name of Business:"},
	FieldBusinessAddress: {"Business Address:", "Address:"},
}

var fallbackLabels = map[Field]string{
	FieldInspectors:      "Inspector(s): ",
	FieldBusinessName:    "Business Name: ",
	FieldBusinessAddress: "Business Address: ",
}

var placeholderRe = regexp.MustCompile(`(?i)\[(inspectors?|business[ _]name|business[ _]address)\]`)

func placeholderField(token string) Field {
	t := strings.ToLower(strings.Trim(token, "[]"))
	t = strings.ReplaceAll(t, " ", "_")
	switch t {
	case "inspector", "inspectors":
		return FieldInspectors
	case "business_name":
		return FieldBusinessName
	default:
		return FieldBusinessAddress
	}
}

// FromText wraps hand-typed text in a document with no locked fields.
func FromText(s string) Document {
	if s == "" {
		return Document{}
	}
	return Document{Nodes: []Node{{Kind: KindText, Text: s}}}
}

// Plain returns the rendered text, locked field content included.
func Plain(doc Document) string {
	var b strings.Builder
	for _, n := range doc.Nodes {
		b.WriteString(n.Text)
	}
	return b.String()
}

// Has reports whether the document holds at least one node for field.
func (d Document) Has(field Field) bool {
	for _, n := range d.Nodes {
		if n.Kind == KindField && n.Field == field {
			return true
		}
	}
	return false
}

// Span is a locked field's position in rune offsets of Plain.
type Span struct {
	Field Field `json:"field"`
	Start int   `json:"start"`
	End   int   `json:"end"`
}

func Spans(doc Document) []Span {
	var spans []Span
	pos := 0
	for _, n := range doc.Nodes {
		l := utf8.RuneCountInString(n.Text)
		if n.Kind == KindField {
			spans = append(spans, Span{Field: n.Field, Start: pos, End: pos + l})
		}
		pos += l
	}
	return spans
}

// Resync brings every locked field in line with facts. Legacy placeholders
// become fields, existing fields are rewritten in place, missing fields are
// injected after their label or, failing that, in a block at the top.
// Resync(Resync(d, f), f) equals Resync(d, f).
func Resync(doc Document, facts Facts) Document {
	nodes := expandPlaceholders(doc.Nodes)

	var missing []Field
	for _, f := range Fields {
		if (Document{Nodes: nodes}).Has(f) {
			continue
		}
		var ok bool
		nodes, ok = injectAtAnchor(nodes, f)
		if !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		nodes = prependBlock(nodes, missing)
	}
	for i := range nodes {
		if nodes[i].Kind == KindField {
			nodes[i].Text = facts.value(nodes[i].Field)
		}
	}
	return Document{Nodes: merge(nodes)}
}

func expandPlaceholders(in []Node) []Node {
	out := make([]Node, 0, len(in))
	for _, n := range in {
		if n.Kind != KindText {
			out = append(out, n)
			continue
		}
		locs := placeholderRe.FindAllStringIndex(n.Text, -1)
		if len(locs) == 0 {
			out = append(out, n)
			continue
		}
		last := 0
		for _, loc := range locs {
			if loc[0] > last {
				out = append(out, Node{Kind: KindText, Text: n.Text[last:loc[0]]})
			}
			out = append(out, Node{Kind: KindField, Field: placeholderField(n.Text[loc[0]:loc[1]])})
			last = loc[1]
		}
		if last < len(n.Text) {
			out = append(out, Node{Kind: KindText, Text: n.Text[last:]})
		}
	}
	return out
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// injectAtAnchor finds the first line starting with one of field's labels and
// replaces the rest of that line with the field.
func injectAtAnchor(nodes []Node, field Field) ([]Node, bool) {
	labels := anchorLabels[field]
	atLineStart := true
	for i, n := range nodes {
		if n.Kind != KindText {
			if n.Text != "" {
				atLineStart = strings.HasSuffix(n.Text, "\n")
			}
			continue
		}
		text := n.Text
		lineStart := 0
		for {
			nl := strings.IndexByte(text[lineStart:], '\n')
			lineEnd := len(text)
			if nl >= 0 {
				lineEnd = lineStart + nl
			}
			if lineStart > 0 || atLineStart {
				line := text[lineStart:lineEnd]
				indent := len(line) - len(strings.TrimLeft(line, " \t"))
				for _, label := range labels {
					if !hasPrefixFold(line[indent:], label) {
						continue
					}
					head := text[:lineStart+indent+len(label)] + " "
					repl := []Node{
						{Kind: KindText, Text: head},
						{Kind: KindField, Field: field},
						{Kind: KindText, Text: text[lineEnd:]},
					}
					out := make([]Node, 0, len(nodes)+2)
					out = append(out, nodes[:i]...)
					out = append(out, repl...)
					out = append(out, nodes[i+1:]...)
					return out, true
				}
			}
			if nl < 0 {
				break
			}
			lineStart = lineEnd + 1
		}
		if text != "" {
			atLineStart = strings.HasSuffix(text, "\n")
		}
	}
	return nodes, false
}

func prependBlock(nodes []Node, missing []Field) []Node {
	block := make([]Node, 0, len(missing)*3+1+len(nodes))
	for _, f := range missing {
		block = append(block,
			Node{Kind: KindText, Text: fallbackLabels[f]},
			Node{Kind: KindField, Field: f},
			Node{Kind: KindText, Text: "\n"},
		)
	}
	if len(nodes) > 0 {
		block = append(block, Node{Kind: KindText, Text: "\n"})
	}
	return append(block, nodes...)
}

func merge(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Kind == KindText {
			if n.Text == "" {
				continue
			}
			if len(out) > 0 && out[len(out)-1].Kind == KindText {
				out[len(out)-1].Text += n.Text
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

// Marshal encodes the document for the body_json column.
func Marshal(doc Document) (string, error) {
	if doc.Nodes == nil {
		doc.Nodes = []Node{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Unmarshal decodes a body_json column. Bodies stored as bare text are
// accepted and wrapped with FromText.
func Unmarshal(raw string) (Document, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Document{}, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return FromText(raw), nil
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}
