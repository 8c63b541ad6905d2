// ABOUTME: MCP prompt handlers for calendar sync troubleshooting
// ABOUTME: Builds a diagnosis prompt from an issue's recorded sync operations
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/issuecal/db"
)

const diagnoseSyncPrompt = "diagnose-sync"

type PromptHandlers struct {
	history HistoryLister
}

func NewPromptHandlers(history HistoryLister) *PromptHandlers {
	return &PromptHandlers{history: history}
}

// Register adds the prompts to server.
func (h *PromptHandlers) Register(server *mcp.Server) {
	server.AddPrompt(&mcp.Prompt{
		Name:        diagnoseSyncPrompt,
		Description: "Explain why an issue's calendar event is missing or out of date",
		Arguments: []*mcp.PromptArgument{
			{Name: "issue_id", Description: "Tracker issue ID, e.g. PROJ-12", Required: true},
		},
	}, h.GetPrompt)
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case diagnoseSyncPrompt:
		return h.getDiagnoseSyncPrompt(ctx, request.Params.Arguments)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func (h *PromptHandlers) getDiagnoseSyncPrompt(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
	issueID := strings.TrimSpace(args["issue_id"])
	if issueID == "" {
		return nil, fmt.Errorf("issue_id is required")
	}

	entries, err := h.history.List(ctx, db.SyncLogFilter{IssueID: issueID, Limit: 20})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sync history: %w", err)
	}

	var promptText strings.Builder
	promptText.WriteString(fmt.Sprintf("Issue %s is synchronized to its assignee's Google Calendar.\n", issueID))
	if len(entries) == 0 {
		promptText.WriteString("No calendar operations have been recorded for it.\n")
	} else {
		promptText.WriteString("Recorded calendar operations, newest first:\n\n")
		for _, e := range entries {
			promptText.WriteString(fmt.Sprintf("- %s %s for %s (rule %s): %s",
				e.CreatedAt.UTC().Format("2006-01-02 15:04:05"), e.Operation, e.UserID, e.Rule, e.Status))
			if e.EventID != "" {
				promptText.WriteString(fmt.Sprintf(", event %s", e.EventID))
			}
			if e.Error != "" {
				promptText.WriteString(fmt.Sprintf(", error: %s", e.Error))
			}
			promptText.WriteString("\n")
		}
	}

	promptText.WriteString("\nPlease explain:")
	promptText.WriteString("\n1. Whether the issue currently has a calendar event")
	promptText.WriteString("\n2. The most likely cause of any failure (authorization, calendar setup, relay, provider)")
	promptText.WriteString("\n3. What the user should do to fix it")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Sync diagnosis for issue: %s", issueID),
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText.String()},
			},
		},
	}, nil
}
