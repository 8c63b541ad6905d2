// ABOUTME: MCP server subcommand
// ABOUTME: Starts the MCP server exposing calendar sync tools, history resources and prompts
package cli

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/issuecal/handlers"
)

// NewMCPServer registers every tool, resource and prompt on a new server.
func NewMCPServer(app *App, version string) *mcp.Server {
	syncHandlers := handlers.NewSyncHandlers(app.Controller, app.Tokens, app.Credentials, app.History, app.Config.Fields)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "issuecal",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "apply_issue_change",
		Description: "Apply one issue change notification to the assignee's Google Calendar",
	}, syncHandlers.ApplyIssueChange)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_calendars",
		Description: "List the calendars a user can choose as sync target",
	}, syncHandlers.ListCalendars)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "credential_status",
		Description: "Show a user's authorization state, target calendar and transport",
	}, syncHandlers.CredentialStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_history",
		Description: "List recorded calendar operations, filtered by issue, user or status",
	}, syncHandlers.SyncHistory)

	handlers.NewResourceHandlers(app.History).Register(server)
	handlers.NewPromptHandlers(app.History).Register(server)

	return server
}

// MCPCommand starts the MCP server on stdio
func MCPCommand(app *App, version string) error {
	app.Logger.Info("starting issuecal MCP server")
	return NewMCPServer(app, version).Run(context.Background(), &mcp.StdioTransport{})
}
