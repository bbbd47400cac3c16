package kb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkMarkdownEmptyInput(t *testing.T) {
	require.Empty(t, chunkMarkdown("", 100))
	require.Empty(t, chunkMarkdown("   \n\t ", 100))
}

func TestChunkMarkdownCarriesHeadingContext(t *testing.T) {
	doc := `# Setup

Install the dependencies first.

# Usage

Run the binary with a config file.`
	chunks := chunkMarkdown(doc, 100)
	require.Len(t, chunks, 2)
	require.True(t, strings.HasPrefix(chunks[0], "Heading: Setup"))
	require.Contains(t, chunks[0], "Install the dependencies")
	require.True(t, strings.HasPrefix(chunks[1], "Heading: Usage"))
	require.Contains(t, chunks[1], "Run the binary")
}

func TestChunkMarkdownIsolatesCodeBlocks(t *testing.T) {
	doc := "Some intro text.\n\n```go\nfunc main() {}\n```\n\nSome outro text."
	chunks := chunkMarkdown(doc, 1000)
	require.Len(t, chunks, 3)
	require.Contains(t, chunks[1], "func main() {}")
	require.NotContains(t, chunks[0], "func main")
	require.NotContains(t, chunks[2], "func main")
}

func TestChunkMarkdownSplitsOnBudget(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("This is a paragraph with enough words to cost some tokens.\n\n")
	}
	chunks := chunkMarkdown(sb.String(), 40)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		require.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestChunkMarkdownPlainTextFallback(t *testing.T) {
	chunks := chunkMarkdown("just a single plain line", 100)
	require.Len(t, chunks, 1)
	require.Contains(t, chunks[0], "just a single plain line")
}
