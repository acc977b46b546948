package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/neurofetch/neurofetch-go/internal/providers"
)

// StructuredAgent extracts structured data (tables, chat transcripts) from
// documents by prompting the model. File parsing itself is the document
// pipeline's job; this agent works on a query or an already-extracted text
// path reference.
type StructuredAgent struct {
	Base
	provider providers.LLMProvider
}

// NewStructuredAgent creates the structured-data-extraction agent.
func NewStructuredAgent(provider providers.LLMProvider) *StructuredAgent {
	return &StructuredAgent{
		Base: Base{
			AgentID:   "structured_data_extraction",
			AgentKind: "structured_extraction",
			Caps:      []string{"table_extraction", "chat_extraction"},
		},
		provider: provider,
	}
}

// Process extracts structured data for input["query"] or input["pdf_path"].
// data_type selects the extraction mode ("table" or "chat", default "table");
// pages optionally narrows the page range.
func (a *StructuredAgent) Process(ctx context.Context, input map[string]any) Result {
	query, _ := input["query"].(string)
	pdfPath, _ := input["pdf_path"].(string)
	if query == "" && pdfPath == "" {
		return a.Fail("missing required field: query or pdf_path")
	}

	dataType, _ := input["data_type"].(string)
	if dataType == "" {
		dataType = "table"
	}
	if dataType != "table" && dataType != "chat" {
		return a.Fail("unsupported data_type: %s", dataType)
	}

	var prompt strings.Builder
	switch dataType {
	case "table":
		prompt.WriteString("Extract the requested data as a markdown table.\n")
	case "chat":
		prompt.WriteString("Extract the requested conversation turns as a speaker-labelled transcript.\n")
	}
	if query != "" {
		fmt.Fprintf(&prompt, "Request: %s\n", query)
	}
	if pdfPath != "" {
		fmt.Fprintf(&prompt, "Document: %s\n", pdfPath)
	}
	if pages, ok := input["pages"].(string); ok && pages != "" {
		fmt.Fprintf(&prompt, "Pages: %s\n", pages)
	}

	content, err := a.provider.Complete(ctx, prompt.String())
	if err != nil {
		return a.Fail("extraction failed: %v", err)
	}

	return a.Succeed(map[string]any{
		"data_type": dataType,
		"content":   content,
	})
}
