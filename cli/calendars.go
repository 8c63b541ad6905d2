// ABOUTME: Calendar discovery and relay connectivity CLI commands
// ABOUTME: Lists a user's writable calendars and pings the relay endpoint
package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	isync "github.com/harperreed/issuecal/sync"
)

// CalendarsCommand lists the calendars a user can pick as a sync target.
func CalendarsCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("calendars", flag.ExitOnError)
	user := fs.String("user", "", "Tracker user ID (required)")
	_ = fs.Parse(args)

	if *user == "" {
		return fmt.Errorf("--user is required")
	}

	calendars, err := app.Controller.ListCalendars(context.Background(), *user)
	if err != nil {
		return fmt.Errorf("failed to list calendars: %w", err)
	}

	if len(calendars) == 0 {
		app.println(mutedStyle.Render("No calendars found."))
		return nil
	}

	w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tACCESS\tPRIMARY")
	for _, c := range calendars {
		primary := ""
		if c.Primary {
			primary = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, orDash(c.AccessRole), primary)
	}
	return w.Flush()
}

// RelayTestCommand sends the relay's test action. Stored settings are used
// unless --url and --key are given.
func RelayTestCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("relay test", flag.ExitOnError)
	user := fs.String("user", "", "Tracker user ID whose relay settings to test")
	relayURL := fs.String("url", "", "Relay endpoint URL")
	relayKey := fs.String("key", "", "Relay API key")
	_ = fs.Parse(args)

	ctx := context.Background()
	auth := isync.Auth{RelayURL: *relayURL, RelayAPIKey: *relayKey}
	if *user != "" {
		creds, err := app.Credentials.Get(ctx, *user)
		if err != nil {
			return fmt.Errorf("failed to read credentials: %w", err)
		}
		if auth.RelayURL == "" {
			auth.RelayURL = creds.RelayURL
		}
		if auth.RelayAPIKey == "" {
			auth.RelayAPIKey = creds.RelayAPIKey
		}
	}

	msg, err := app.Relay.Ping(ctx, auth)
	if err != nil {
		app.printf("%s Relay test failed\n", failMark())
		return err
	}
	if msg == "" {
		msg = "connection ok"
	}
	app.printf("%s Relay answered: %s\n", okMark(), msg)
	return nil
}
