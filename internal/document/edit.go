package document

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrLockedField    = errors.New("edit touches a locked field")
	ErrEditOutOfRange = errors.New("edit out of range")
)

// Edit replaces Length runes at Offset of Plain(doc) with Text.
type Edit struct {
	Offset int    `json:"offset" minimum:"0"`
	Length int    `json:"length" minimum:"0"`
	Text   string `json:"text"`
}

// ValidateEdit rejects edits that would change locked content: an insertion
// strictly inside a field, or a selection overlapping or enclosing one.
func ValidateEdit(doc Document, e Edit) error {
	total := utf8.RuneCountInString(Plain(doc))
	if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > total {
		return fmt.Errorf("%w: offset=%d length=%d size=%d", ErrEditOutOfRange, e.Offset, e.Length, total)
	}
	a, b := e.Offset, e.Offset+e.Length
	for _, s := range Spans(doc) {
		if e.Length == 0 {
			if s.Start < a && a < s.End {
				return fmt.Errorf("%w: %s", ErrLockedField, s.Field)
			}
			continue
		}
		if s.Start == s.End {
			if a < s.Start && s.Start < b {
				return fmt.Errorf("%w: %s", ErrLockedField, s.Field)
			}
			continue
		}
		if a < s.End && s.Start < b {
			return fmt.Errorf("%w: %s", ErrLockedField, s.Field)
		}
	}
	return nil
}

// Apply validates and applies edits in order; each offset refers to the
// document produced by the previous edit.
func Apply(doc Document, edits []Edit) (Document, error) {
	nodes := append([]Node(nil), doc.Nodes...)
	for i, e := range edits {
		if err := ValidateEdit(Document{Nodes: nodes}, e); err != nil {
			return Document{}, fmt.Errorf("edit %d: %w", i, err)
		}
		nodes = applyOne(nodes, e)
	}
	return Document{Nodes: merge(nodes)}, nil
}

func applyOne(nodes []Node, e Edit) []Node {
	a, b := e.Offset, e.Offset+e.Length

	pos := 0
	for i := range nodes {
		r := []rune(nodes[i].Text)
		start, end := pos, pos+len(r)
		pos = end
		if nodes[i].Kind != KindText || b <= start || end <= a {
			continue
		}
		from := max(a, start) - start
		to := min(b, end) - start
		nodes[i].Text = string(r[:from]) + string(r[to:])
	}
	if e.Text == "" {
		return nodes
	}

	pos = 0
	for i := range nodes {
		r := []rune(nodes[i].Text)
		start, end := pos, pos+len(r)
		pos = end
		if nodes[i].Kind == KindText && start <= a && a <= end {
			off := a - start
			nodes[i].Text = string(r[:off]) + e.Text + string(r[off:])
			return nodes
		}
	}

	// No text node borders the insertion point; add one before the first
	// field that starts at or after it.
	pos = 0
	idx := len(nodes)
	for i := range nodes {
		if pos >= a {
			idx = i
			break
		}
		pos += utf8.RuneCountInString(nodes[i].Text)
	}
	out := make([]Node, 0, len(nodes)+1)
	out = append(out, nodes[:idx]...)
	out = append(out, Node{Kind: KindText, Text: e.Text})
	return append(out, nodes[idx:]...)
}
