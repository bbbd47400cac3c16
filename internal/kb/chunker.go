package kb

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const defaultChunkTokenBudget = 400

// chunkMarkdown splits a document into embedding-sized pieces along
// markdown block boundaries. Each chunk carries the nearest heading as
// context; code blocks are never merged with prose.
func chunkMarkdown(content string, tokenBudget int) []string {
	if tokenBudget <= 0 {
		tokenBudget = defaultChunkTokenBudget
	}
	source := []byte(content)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var chunks []string
	var current []string
	var currentTokens int
	var heading string

	flush := func() {
		if len(current) == 0 {
			return
		}
		body := strings.Join(current, "\n\n")
		if heading != "" {
			body = "Heading: " + heading + "\n" + body
		}
		chunks = append(chunks, body)
		current = nil
		currentTokens = 0
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			flush()
			heading = string(n.Text(source))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			flush()
			block := blockText(node, source)
			if block != "" {
				current = append(current, block)
				flush()
			}
		default:
			block := blockText(node, source)
			if block == "" {
				continue
			}
			tokens := estimateTokens(block)
			if currentTokens > 0 && currentTokens+tokens > tokenBudget {
				flush()
			}
			current = append(current, block)
			currentTokens += tokens
		}
	}
	flush()

	if len(chunks) == 0 {
		trimmed := strings.TrimSpace(content)
		if trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}
	return chunks
}

func blockText(node ast.Node, source []byte) string {
	var sb strings.Builder
	if node.Type() == ast.TypeBlock {
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			sb.Write(segment.Value(source))
		}
	}
	if sb.Len() == 0 {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			sb.WriteString(blockText(child, source))
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

// estimateTokens is a rough character-based heuristic, good enough for
// budgeting chunk sizes.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
