package document

import (
	"bytes"
	"html"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

// markdown keeps goldmark's safe defaults: raw HTML is dropped and
// javascript:/vbscript:/data: link targets are blanked.
func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		)
	})
	return markdownInstance
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// RenderHTML renders the body for print and export. Text nodes are treated
// as markdown; locked fields become <span data-field="..."> elements.
//
// Fields enter the markdown source as alphanumeric tokens carrying a
// per-render nonce and are swapped for their spans after conversion.
func RenderHTML(doc Document) (string, error) {
	prefix := "ilf" + strings.ReplaceAll(uuid.NewString(), "-", "") + "n"
	var fields []Node
	var src strings.Builder
	for _, n := range doc.Nodes {
		if n.Kind == KindField {
			src.WriteString(prefix)
			src.WriteString(strconv.Itoa(len(fields)))
			src.WriteByte('z')
			fields = append(fields, n)
			continue
		}
		src.WriteString(textEscaper.Replace(n.Text))
	}
	var buf bytes.Buffer
	if err := markdown().Convert([]byte(src.String()), &buf); err != nil {
		return "", err
	}
	return substituteFields(buf.String(), prefix, fields), nil
}

// substituteFields replaces field tokens in rendered HTML. Outside tags a
// token becomes a span; inside a tag (a link target, say) it becomes the
// escaped field text so no markup lands in an attribute.
func substituteFields(out, prefix string, fields []Node) string {
	var b strings.Builder
	inTag := false
	for i := 0; i < len(out); {
		if strings.HasPrefix(out[i:], prefix) {
			j := i + len(prefix)
			k := j
			for k < len(out) && out[k] >= '0' && out[k] <= '9' {
				k++
			}
			if k > j && k < len(out) && out[k] == 'z' {
				if idx, err := strconv.Atoi(out[j:k]); err == nil && idx < len(fields) {
					n := fields[idx]
					if inTag {
						b.WriteString(html.EscapeString(n.Text))
					} else {
						b.WriteString(`<span class="locked-field" data-field="`)
						b.WriteString(string(n.Field))
						b.WriteString(`">`)
						b.WriteString(html.EscapeString(n.Text))
						b.WriteString(`</span>`)
					}
					i = k + 1
					continue
				}
			}
		}
		switch out[i] {
		case '<':
			inTag = true
		case '>':
			inTag = false
		}
		b.WriteByte(out[i])
		i++
	}
	return b.String()
}
