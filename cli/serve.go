// ABOUTME: HTTP server subcommand
// ABOUTME: Serves OAuth setup routes, the tracker webhook and metrics until interrupted
package cli

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/harperreed/issuecal/web"
)

// ServeCommand starts the HTTP surface.
func ServeCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", app.Config.Listen, "Listen address")
	_ = fs.Parse(args)

	if app.Config.APIKey == "" {
		app.Logger.Warn("no api_key configured; webhook, OAuth and user routes will refuse requests")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := web.NewServer(web.ServerOptions{
		Engine: app.Controller,
		Tokens: app.Tokens,
		Fields: app.Config.Fields,
		Logger: app.Logger,
		APIKey: app.Config.APIKey,
	})
	return server.Start(ctx, *addr)
}
