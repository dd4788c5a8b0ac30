// Package bulletin extracts plain text from alert bulletins published as
// HTML fragments or PDF documents.
package bulletin

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MaxPDFSize bounds the PDF bulletins accepted for extraction.
const MaxPDFSize = 20 << 20

// StripHTML returns the visible text of an HTML fragment with whitespace
// collapsed. Script and style contents are dropped. Input without markup
// is returned with whitespace collapsed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapse(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return collapse(s)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Head:
				return
			case atom.Br, atom.P, atom.Div, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3, atom.H4:
				b.WriteByte(' ')
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return collapse(b.String())
}

// TextFromPDF extracts the plain text of a PDF document.
func TextFromPDF(r io.ReaderAt, size int64) (string, error) {
	if size > MaxPDFSize {
		return "", fmt.Errorf("pdf is %d bytes, limit is %d", size, MaxPDFSize)
	}
	pr, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	txt, err := pr.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, txt); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return collapse(buf.String()), nil
}

// TextFromPDFBytes is TextFromPDF for an in-memory document.
func TextFromPDFBytes(data []byte) (string, error) {
	return TextFromPDF(bytes.NewReader(data), int64(len(data)))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
