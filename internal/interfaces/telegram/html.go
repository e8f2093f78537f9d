package telegram

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// RenderHTML converts assistant markdown into the HTML subset Telegram
// accepts: <b>, <i>, <s>, <code>, <pre>, <a>. Everything else degrades to
// plain text, so a reply never fails to parse.
func RenderHTML(markdown string) string {
	if markdown == "" {
		return ""
	}
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	r := htmlRenderer{src: src}
	r.children(&buf, doc)
	return strings.TrimRight(buf.String(), "\n")
}

type htmlRenderer struct {
	src []byte
}

func (r htmlRenderer) children(w *bytes.Buffer, node ast.Node) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		r.node(w, child)
	}
}

func (r htmlRenderer) node(w *bytes.Buffer, node ast.Node) {
	switch n := node.(type) {
	case *ast.Paragraph:
		r.children(w, n)
		w.WriteString("\n\n")
	case *ast.Heading:
		// Telegram has no heading tags; bold stands in.
		w.WriteString("<b>")
		r.children(w, n)
		w.WriteString("</b>\n\n")
	case *ast.Emphasis:
		tag := "i"
		if n.Level == 2 {
			tag = "b"
		}
		fmt.Fprintf(w, "<%s>", tag)
		r.children(w, n)
		fmt.Fprintf(w, "</%s>", tag)
	case *ast.CodeSpan:
		w.WriteString("<code>")
		w.WriteString(html.EscapeString(string(n.Text(r.src))))
		w.WriteString("</code>")
	case *ast.FencedCodeBlock:
		w.WriteString("<pre>")
		w.WriteString(html.EscapeString(r.lines(n)))
		w.WriteString("</pre>\n")
	case *ast.CodeBlock:
		w.WriteString("<pre>")
		w.WriteString(html.EscapeString(r.lines(n)))
		w.WriteString("</pre>\n")
	case *ast.Link:
		fmt.Fprintf(w, `<a href="%s">`, html.EscapeString(string(n.Destination)))
		r.children(w, n)
		w.WriteString("</a>")
	case *ast.List:
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			w.WriteString("• ")
			r.children(w, item)
			w.WriteString("\n")
		}
		w.WriteString("\n")
	case *ast.TextBlock:
		r.children(w, n)
	case *ast.Blockquote:
		r.children(w, n)
	case *ast.ThematicBreak:
		w.WriteString("———\n")
	case *ast.Text:
		w.WriteString(html.EscapeString(string(n.Segment.Value(r.src))))
		if n.SoftLineBreak() || n.HardLineBreak() {
			w.WriteString("\n")
		}
	case *ast.String:
		w.WriteString(html.EscapeString(string(n.Value)))
	default:
		r.children(w, node)
	}
}

func (r htmlRenderer) lines(node ast.Node) string {
	var sb strings.Builder
	l := node.Lines()
	for i := 0; i < l.Len(); i++ {
		seg := l.At(i)
		sb.Write(seg.Value(r.src))
	}
	return sb.String()
}
