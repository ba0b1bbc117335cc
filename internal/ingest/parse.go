package ingest

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// UnsupportedTypeError reports a document type the parser cannot handle,
// carrying a suggestion the API layer forwards to the client verbatim.
type UnsupportedTypeError struct {
	DocumentType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported document type %q", e.DocumentType)
}

// Suggestion is a human-readable hint for fixing the request.
func (e *UnsupportedTypeError) Suggestion() string {
	return "supported document types are: text, markdown, html"
}

var collapseWhitespace = regexp.MustCompile(`[ \t]+`)

// Parse converts a raw document into plain text ready for chunking.
// Text and markdown pass through as-is; HTML is stripped to its visible text.
func Parse(raw []byte, documentType string) (string, error) {
	switch strings.ToLower(documentType) {
	case "text", "txt", "plain":
		return string(raw), nil
	case "markdown", "md":
		return string(raw), nil
	case "html", "htm":
		return parseHTML(raw)
	default:
		return "", &UnsupportedTypeError{DocumentType: documentType}
	}
}

// parseHTML strips markup and non-content elements, keeping block structure
// as line breaks so the chunker can find boundaries.
func parseHTML(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}
	doc.Find("script, style, noscript, iframe, svg").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, pre, td, th, blockquote").Each(func(_ int, sel *goquery.Selection) {
		// Skip elements that contain another block element; their text would
		// otherwise appear twice.
		if sel.Find("p, li, pre, blockquote").Length() > 0 {
			return
		}
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	})

	text := b.String()
	if strings.TrimSpace(text) == "" {
		// Markup without block elements. Fall back to the whole document text.
		text = root.Text()
	}
	return strings.TrimSpace(collapseWhitespace.ReplaceAllString(text, " ")), nil
}
