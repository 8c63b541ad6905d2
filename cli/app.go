// ABOUTME: Wires configuration, storage backend, token manager and controller for CLI commands
// ABOUTME: SQLite always holds sync history; credentials live in SQLite or Charm KV per config
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"

	"github.com/harperreed/issuecal/charm"
	"github.com/harperreed/issuecal/config"
	"github.com/harperreed/issuecal/db"
	isync "github.com/harperreed/issuecal/sync"
)

// UserStore is a credential store that can enumerate its users.
type UserStore interface {
	isync.CredentialStore
	ListUsers(ctx context.Context) ([]string, error)
}

// App holds everything a command needs.
type App struct {
	Config *config.Config
	Logger *log.Logger
	Out    io.Writer

	DB    *sql.DB
	Charm *charm.Client

	Credentials UserStore
	Refs        isync.EventRefStore
	History     *db.SyncLog
	HTTP        *http.Client
	Tokens      *isync.TokenManager
	Relay       *isync.RelayCalendar
	Controller  *isync.Controller
}

// NewApp opens the configured stores and builds the sync engine.
func NewApp(cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}

	database, err := db.OpenDatabase(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Out:     os.Stdout,
		DB:      database,
		History: db.NewSyncLog(database),
	}

	sealer := db.NewSealer(cfg.Store.SealingKey)

	switch cfg.Store.Backend {
	case config.BackendCharm:
		client, err := charm.Open(cfg.Store.Charm)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		app.Charm = client
		var charmSealer charm.Sealer
		if sealer != nil {
			charmSealer = sealer
		}
		app.Credentials = charm.NewCredentialStore(client, charmSealer)
		app.Refs = charm.NewEventRefStore(client)
	default:
		app.Credentials = db.NewCredentialStore(database, sealer)
		app.Refs = db.NewEventRefStore(database)
	}

	app.wire()
	return app, nil
}

// wire builds the engine on top of the stores already set on a.
func (a *App) wire() {
	a.HTTP = &http.Client{Timeout: a.Config.HTTPTimeout}

	oauthCfg := isync.NewOAuthConfig(isync.OAuthSettings{
		ClientID:     a.Config.OAuth.ClientID,
		ClientSecret: a.Config.OAuth.ClientSecret,
		RedirectURL:  a.Config.OAuth.RedirectURL,
		AuthURL:      a.Config.OAuth.AuthURL,
		TokenURL:     a.Config.OAuth.TokenURL,
	})
	a.Tokens = isync.NewTokenManager(oauthCfg, a.Credentials, a.HTTP, a.Logger.WithPrefix("tokens"))
	a.Relay = isync.NewRelayCalendar(a.HTTP)
	a.Controller = isync.NewController(isync.ControllerOptions{
		Credentials: a.Credentials,
		Tokens:      a.Tokens,
		Direct:      isync.NewDirectCalendar(a.HTTP, a.Config.CalendarEndpoint),
		Relay:       a.Relay,
		Refs:        a.Refs,
		History:     a.History,
		Logger:      a.Logger.WithPrefix("sync"),
	})
}

// Close releases the stores.
func (a *App) Close() error {
	var errs []error
	if a.Charm != nil {
		errs = append(errs, a.Charm.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func (a *App) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.Out, format, args...)
}

func (a *App) println(args ...any) {
	_, _ = fmt.Fprintln(a.Out, args...)
}
