package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// DefaultMaxTokens is the section size above which a section is split at
// paragraph boundaries.
const DefaultMaxTokens = 800

// Chunk represents a section of a markdown document with header context.
type Chunk struct {
	Index      int    // Position in document (0, 1, 2...)
	HeaderPath string // Hierarchy: "# Doc Title > ## Section Name"
	Content    string // Chunk content WITH header path prepended
	RawContent string // Original content without header prefix
	TokenCount int    // Estimated tokens of Content
}

// Chunker splits markdown documents at H1/H2 boundaries while preserving context.
type Chunker struct {
	parser    goldmark.Markdown
	maxTokens int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxTokens sets the split threshold. Zero or less disables splitting.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) { c.maxTokens = n }
}

// NewChunker creates a new markdown chunker configured with goldmark parser.
func NewChunker(opts ...Option) *Chunker {
	c := &Chunker{
		parser: goldmark.New(
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		),
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// section is one H1/H2 heading and where its text starts in the source.
type section struct {
	path  string
	start int
}

// ChunkDocument splits markdown at H1 and H2 boundaries. Text before the first
// heading becomes a chunk with an empty header path. A whitespace-only
// document has no chunks.
func (c *Chunker) ChunkDocument(source []byte) ([]Chunk, error) {
	if len(bytes.TrimSpace(source)) == 0 {
		return nil, nil
	}

	doc := c.parser.Parser().Parse(text.NewReader(source))
	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	headings := headingStarts(doc, source)
	var sections []section
	flattenItems(tree.Items, nil, headings, &sections)

	var chunks []Chunk
	preambleEnd := len(source)
	if len(sections) > 0 {
		preambleEnd = sections[0].start
	}
	c.appendChunks(&chunks, "", string(source[:preambleEnd]))

	for i, s := range sections {
		end := len(source)
		if i+1 < len(sections) {
			end = sections[i+1].start
		}
		c.appendChunks(&chunks, s.path, string(source[s.start:end]))
	}
	return chunks, nil
}

// appendChunks adds raw under headerPath, split into paragraph groups when it
// exceeds the token threshold. Empty text adds nothing unless it carries a heading.
func (c *Chunker) appendChunks(chunks *[]Chunk, headerPath, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" && headerPath == "" {
		return
	}
	for _, part := range c.split(raw) {
		content := part
		if headerPath != "" {
			content = fmt.Sprintf("%s\n\n%s", headerPath, part)
		}
		*chunks = append(*chunks, Chunk{
			Index:      len(*chunks),
			HeaderPath: headerPath,
			Content:    content,
			RawContent: part,
			TokenCount: ApproxTokens(content),
		})
	}
}

// split groups paragraphs greedily so each group stays under maxTokens.
// A single paragraph larger than the limit is kept whole.
func (c *Chunker) split(raw string) []string {
	if c.maxTokens <= 0 || ApproxTokens(raw) <= c.maxTokens {
		return []string{raw}
	}
	var (
		parts   []string
		current strings.Builder
	)
	for _, para := range strings.Split(raw, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && ApproxTokens(current.String())+ApproxTokens(para) > c.maxTokens {
			parts = append(parts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// flattenItems lists TOC items in document order with their header paths.
func flattenItems(items toc.Items, ancestors []string, starts map[string]int, out *[]section) {
	for _, item := range items {
		path := append(append([]string(nil), ancestors...), string(item.Title))
		if start, ok := starts[string(item.ID)]; ok && len(item.Title) > 0 {
			*out = append(*out, section{path: formatHeaderPath(path), start: start})
		}
		flattenItems(item.Items, path, starts, out)
	}
}

// headingStarts maps the id of every H1/H2 to the offset of the line it starts on.
func headingStarts(doc ast.Node, source []byte) map[string]int {
	starts := make(map[string]int)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		heading := n.(*ast.Heading)
		if heading.Level > 2 || heading.Lines().Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		id, ok := heading.AttributeString("id")
		if !ok {
			return ast.WalkSkipChildren, nil
		}
		idBytes, ok := id.([]byte)
		if !ok {
			return ast.WalkSkipChildren, nil
		}
		starts[string(idBytes)] = lineStart(source, heading.Lines().At(0).Start)
		return ast.WalkSkipChildren, nil
	})
	return starts
}

func lineStart(source []byte, offset int) int {
	if i := bytes.LastIndexByte(source[:offset], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	parts := make([]string, len(path))
	for i, segment := range path {
		parts[i] = strings.Repeat("#", i+1) + " " + segment
	}
	return strings.Join(parts, " > ")
}
