package markdown

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// ApproxTokens estimates the token count of s at four runes per token.
func ApproxTokens(s string) int {
	if s == "" {
		return 0
	}
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Title returns the first H1 of a markdown document, or a title derived from
// the file name when there is none.
func Title(source []byte, filePath string) string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))
	tree, err := toc.Inspect(doc, source, toc.MinDepth(1), toc.MaxDepth(1))
	if err == nil {
		for _, item := range tree.Items {
			if t := strings.TrimSpace(string(item.Title)); t != "" {
				return t
			}
		}
	}
	return titleFromPath(filePath)
}

// titleFromPath turns "guides/getting-started.md" into "Getting started".
func titleFromPath(p string) string {
	base := strings.TrimSuffix(path.Base(p), path.Ext(p))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == "/" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(base)
	return string(unicode.ToUpper(r)) + base[size:]
}

// DocType classifies a file by extension.
func DocType(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".md", ".markdown", ".mdx":
		return "markdown"
	case ".rst":
		return "restructuredtext"
	case ".txt":
		return "text"
	default:
		return "other"
	}
}
