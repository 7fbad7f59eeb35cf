package history

import (
	"bytes"
	"fmt"
	"html"
	"io"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ExportHTML writes a standalone HTML transcript. Message bodies are
// rendered as Markdown; raw HTML inside them is not passed through.
func ExportHTML(w io.Writer, title string, entries []Entry) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; }
.entry { border-bottom: 1px solid #ddd; padding: .5rem 0; }
.meta { color: #666; font-size: .85rem; }
</style>
</head>
<body>
<h1>%s</h1>
`, html.EscapeString(title), html.EscapeString(title))

	for _, e := range entries {
		ts := ""
		if !e.Timestamp.IsZero() {
			ts = e.Timestamp.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "<div class=\"entry\">\n<div class=\"meta\"><strong>%s</strong> %s</div>\n",
			html.EscapeString(e.Sender), html.EscapeString(ts))
		if err := markdown.Convert([]byte(e.Message), &b); err != nil {
			return fmt.Errorf("render message: %w", err)
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</body>\n</html>\n")

	_, err := w.Write(b.Bytes())
	return err
}
