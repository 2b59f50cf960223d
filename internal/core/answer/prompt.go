package answer

import (
	"fmt"
	"strings"

	"github.com/hayasaka/kb-rag/internal/core/search"
)

// BuildAnswerPrompt はナレッジベース質問応答用のグラウンディングプロンプトを構築する
func BuildAnswerPrompt(query string, contexts []search.SearchResult) string {
	var sb strings.Builder

	sb.WriteString("You are a helpful assistant that answers questions based on the provided knowledge base context.\n\n")

	sb.WriteString("## Guidelines\n")
	sb.WriteString("- Use ONLY the information provided in the context to answer the question\n")
	sb.WriteString("- If the context does not contain enough information, say so clearly\n")
	sb.WriteString("- Cite specific information from the context when possible\n")
	sb.WriteString("- Keep your answer concise but comprehensive\n")
	sb.WriteString("- If multiple sources provide information, synthesize them\n\n")

	sb.WriteString("## Context\n")
	for i, c := range contexts {
		sb.WriteString(fmt.Sprintf("### [Source %d] %s (relevance: %.3f)\n", i+1, c.Title, c.Score))
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("## Answer\n")

	return sb.String()
}
