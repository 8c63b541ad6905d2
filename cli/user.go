// ABOUTME: Per-user calendar settings CLI commands
// ABOUTME: Sets the target calendar and relay endpoint; shows settings with secrets masked
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/harperreed/issuecal/models"
)

// UserSetCommand updates a user's calendar id and relay settings.
func UserSetCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("user set", flag.ExitOnError)
	user := fs.String("user", "", "Tracker user ID (required)")
	calendar := fs.String("calendar", "", "Calendar ID events are written to (e.g. primary or an address)")
	relayURL := fs.String("relay-url", "", "Relay script endpoint URL")
	relayKey := fs.String("relay-key", "", "Relay API key")
	promptKey := fs.Bool("relay-key-prompt", false, "Read the relay API key from the terminal without echo")
	clearRelay := fs.Bool("clear-relay", false, "Remove relay settings and use the direct API")
	_ = fs.Parse(args)

	if *user == "" {
		return fmt.Errorf("--user is required")
	}

	if *promptKey {
		fmt.Print("Relay API key: ")
		keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read relay key: %w", err)
		}
		fmt.Println() // New line after hidden input
		*relayKey = strings.TrimSpace(string(keyBytes))
	}

	var patch models.CredentialPatch
	if *calendar != "" {
		patch.CalendarID = calendar
	}
	if *relayURL != "" {
		patch.RelayURL = relayURL
	}
	if *relayKey != "" {
		patch.RelayAPIKey = relayKey
	}
	if *clearRelay {
		empty := ""
		patch.RelayURL = &empty
		patch.RelayAPIKey = &empty
	}
	if patch == (models.CredentialPatch{}) {
		return fmt.Errorf("nothing to update: pass --calendar, --relay-url, --relay-key or --clear-relay")
	}

	if err := app.Credentials.Put(context.Background(), *user, patch); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	app.printf("%s Updated settings for %s\n", okMark(), *user)
	return nil
}

// UserShowCommand prints a user's settings.
func UserShowCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("user show", flag.ExitOnError)
	user := fs.String("user", "", "Tracker user ID (required)")
	_ = fs.Parse(args)

	if *user == "" {
		return fmt.Errorf("--user is required")
	}

	ctx := context.Background()
	creds, err := app.Credentials.Get(ctx, *user)
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	state, err := app.Tokens.State(ctx, *user)
	if err != nil {
		return err
	}

	app.println(titleStyle.Render("User " + *user))
	app.println(field("Calendar", orDash(creds.CalendarID)))
	app.println(field("Transport", transportOf(creds)))
	app.println(field("Token", tokenStateText(state)))
	if !creds.TokenExpiry.IsZero() {
		app.println(field("Expires", creds.TokenExpiry.Local().Format(time.RFC1123)))
	}
	if creds.RelayURL != "" {
		app.println(field("Relay URL", creds.RelayURL))
	}
	if creds.RelayAPIKey != "" {
		app.println(field("Relay key", mask(creds.RelayAPIKey)))
	}
	return nil
}

// mask keeps the last four characters of a secret.
func mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("•", len(secret))
	}
	return strings.Repeat("•", 8) + secret[len(secret)-4:]
}
