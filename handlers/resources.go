// ABOUTME: MCP resource handlers exposing recorded sync history
// ABOUTME: Serves issuecal://history and issuecal://history/{issue_id} as JSON
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/issuecal/db"
)

const (
	historyURI         = "issuecal://history"
	historyURITemplate = "issuecal://history/{issue_id}"
	recentHistoryLimit = 100
)

type ResourceHandlers struct {
	history HistoryLister
}

func NewResourceHandlers(history HistoryLister) *ResourceHandlers {
	return &ResourceHandlers{history: history}
}

// Register adds the history resource and its per-issue template to server.
func (h *ResourceHandlers) Register(server *mcp.Server) {
	server.AddResource(&mcp.Resource{
		URI:         historyURI,
		Name:        "sync-history",
		Description: "Most recent calendar sync operations",
		MIMEType:    "application/json",
	}, h.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: historyURITemplate,
		Name:        "issue-sync-history",
		Description: "Calendar sync operations for one issue",
		MIMEType:    "application/json",
	}, h.ReadResource)
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, historyURI) {
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}

	filter := db.SyncLogFilter{Limit: recentHistoryLimit}
	if rest := strings.TrimPrefix(uri, historyURI); rest != "" {
		issueID := strings.TrimPrefix(rest, "/")
		if issueID == "" || !strings.HasPrefix(rest, "/") {
			return nil, fmt.Errorf("unknown resource: %s", uri)
		}
		filter.IssueID = issueID
	}

	entries, err := h.history.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync history: %w", err)
	}

	out := make([]HistoryEntryOutput, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToOutput(e))
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}

	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
