// ABOUTME: OAuth CLI commands for per-user Google Calendar authorization
// ABOUTME: Consent URL, browser login with a local callback, manual code exchange, revoke and status
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/issuecal/models"
	isync "github.com/harperreed/issuecal/sync"
)

const loginTimeout = 5 * time.Minute

// AuthURLCommand prints the consent URL for a user.
func AuthURLCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("auth url", flag.ExitOnError)
	user := fs.String("user", "", "Tracker user ID (required)")
	_ = fs.Parse(args)

	if *user == "" {
		return fmt.Errorf("--user is required")
	}

	authURL, err := app.Tokens.AuthCodeURL(*user)
	if err != nil {
		return err
	}
	app.println(authURL)
	return nil
}

// AuthLoginCommand runs the browser consent flow against a local callback server.
func AuthLoginCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("auth login", flag.ExitOnError)
	user := fs.String("user", "", "Tracker user ID (required)")
	noBrowser := fs.Bool("no-browser", false, "Print the URL instead of opening a browser")
	_ = fs.Parse(args)

	if *user == "" {
		return fmt.Errorf("--user is required")
	}

	redirect := app.Config.OAuth.RedirectURL
	if redirect == "" {
		redirect = isync.DefaultRedirectURL
	}
	callback, err := url.Parse(redirect)
	if err != nil {
		return fmt.Errorf("invalid redirect URL: %w", err)
	}

	state := uuid.NewString()
	authURL, err := app.Tokens.AuthCodeURL(state)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(callback.Path, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		switch {
		case query.Get("error") != "":
			errChan <- fmt.Errorf("authorization denied: %s", query.Get("error"))
		case query.Get("state") != state:
			errChan <- errors.New("state mismatch in OAuth callback")
		case query.Get("code") == "":
			errChan <- errors.New("no authorization code received")
		default:
			codeChan <- query.Get("code")
			_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
			return
		}
		http.Error(w, "Authorization failed", http.StatusBadRequest)
	})

	listener, err := net.Listen("tcp", callback.Host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", callback.Host, err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	defer func() { _ = server.Shutdown(context.Background()) }()

	app.println("Opening browser for Google OAuth...")
	app.printf("\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)
	if !*noBrowser {
		_ = openBrowser(authURL)
	}

	select {
	case code := <-codeChan:
		if _, err := app.Tokens.Authorize(ctx, *user, code); err != nil {
			return err
		}
		app.printf("%s Authorized calendar access for %s\n", okMark(), *user)
		return nil
	case err := <-errChan:
		return fmt.Errorf("OAuth flow failed: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("OAuth flow timed out after %s", loginTimeout)
	}
}

// AuthExchangeCommand stores tokens for a code obtained out of band.
func AuthExchangeCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("auth exchange", flag.ExitOnError)
	user := fs.String("user", "", "Tracker user ID (required)")
	code := fs.String("code", "", "Authorization code (required)")
	_ = fs.Parse(args)

	if *user == "" || *code == "" {
		return fmt.Errorf("--user and --code are required")
	}

	grant, err := app.Tokens.Authorize(context.Background(), *user, *code)
	if err != nil {
		return err
	}
	app.printf("%s Authorized %s (access token valid until %s)\n", okMark(), *user, grant.Expiry.Local().Format(time.RFC1123))
	return nil
}

// AuthRevokeCommand clears every stored token for a user.
func AuthRevokeCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("auth revoke", flag.ExitOnError)
	user := fs.String("user", "", "Tracker user ID (required)")
	_ = fs.Parse(args)

	if *user == "" {
		return fmt.Errorf("--user is required")
	}

	if err := app.Tokens.Revoke(context.Background(), *user); err != nil {
		return err
	}
	app.printf("%s Revoked calendar access for %s\n", okMark(), *user)
	return nil
}

// AuthStatusCommand shows the authorization state of one or all users.
func AuthStatusCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("auth status", flag.ExitOnError)
	user := fs.String("user", "", "Tracker user ID (default: all users)")
	_ = fs.Parse(args)

	ctx := context.Background()
	users := []string{*user}
	if *user == "" {
		var err error
		users, err = app.Credentials.ListUsers(ctx)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
	}

	if len(users) == 0 {
		app.println(mutedStyle.Render("No users configured. Run 'issuecal user set --user <id> --calendar <id>'."))
		return nil
	}

	w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "USER\tTOKEN\tCALENDAR\tTRANSPORT")
	for _, id := range users {
		creds, err := app.Credentials.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read credentials for %s: %w", id, err)
		}
		state, err := app.Tokens.State(ctx, id)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, tokenStateText(state), orDash(creds.CalendarID), transportOf(creds))
	}
	return w.Flush()
}

func transportOf(creds *models.Credentials) string {
	switch {
	case creds.UsesRelay():
		return "relay"
	case creds.RelayURL != "" || creds.RelayAPIKey != "":
		return "relay (incomplete)"
	default:
		return "direct"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// openBrowser attempts to open URL in default browser
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	command := exec.Command(cmd, args...)
	return command.Start()
}
