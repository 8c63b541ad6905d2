// ABOUTME: Entry point for the issuecal CLI, HTTP server and MCP server
// ABOUTME: Loads config, opens the configured store and routes to subcommands
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/harperreed/issuecal/charm"
	"github.com/harperreed/issuecal/cli"
	"github.com/harperreed/issuecal/config"
)

const version = "0.1.0"

type command func(app *cli.App, args []string) error

var groups = map[string]map[string]command{
	"auth": {
		"url":      cli.AuthURLCommand,
		"login":    cli.AuthLoginCommand,
		"exchange": cli.AuthExchangeCommand,
		"revoke":   cli.AuthRevokeCommand,
		"status":   cli.AuthStatusCommand,
	},
	"user": {
		"set":  cli.UserSetCommand,
		"show": cli.UserShowCommand,
	},
	"relay": {
		"test": cli.RelayTestCommand,
	},
}

var single = map[string]command{
	"calendars": cli.CalendarsCommand,
	"apply":     cli.ApplyCommand,
	"log":       cli.LogCommand,
	"serve":     cli.ServeCommand,
	"dashboard": cli.DashboardCommand,
	"mcp": func(app *cli.App, _ []string) error {
		return cli.MCPCommand(app, version)
	},
}

var storeCommands = map[string]func(c *charm.Client, args []string) error{
	"link":   charm.StoreLinkCommand,
	"status": charm.StoreStatusCommand,
	"now":    charm.StoreNowCommand,
	"wipe":   charm.StoreWipeCommand,
}

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "", "Config file (default: ~/.config/issuecal/config.yaml)")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/issuecal/issuecal.db)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")

	// Parse global flags but don't fail on unknown (for subcommands)
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("issuecal version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", "err", err)
	}
	if *dbPath != "" {
		cfg.Store.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal("invalid log level", "level", cfg.LogLevel)
	}
	logger.SetLevel(level)

	name, rest := args[0], args[1:]

	if name == "store" {
		runStore(cfg, logger, rest)
		return
	}

	run, runArgs, ok := lookup(name, rest)
	if !ok {
		fmt.Printf("Unknown command: %s\n\n", joinArgs(args))
		printUsage()
		os.Exit(1)
	}

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", "err", err)
	}

	err = run(app, runArgs)
	_ = app.Close()
	if err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

// lookup resolves a command and the arguments left for its flag set.
func lookup(name string, rest []string) (command, []string, bool) {
	if cmd, ok := single[name]; ok {
		return cmd, rest, true
	}
	group, ok := groups[name]
	if !ok || len(rest) == 0 {
		return nil, nil, false
	}
	cmd, ok := group[rest[0]]
	return cmd, rest[1:], ok
}

func runStore(cfg *config.Config, logger *log.Logger, args []string) {
	if cfg.Store.Backend != config.BackendCharm {
		logger.Fatal("store commands need the charm backend", "backend", cfg.Store.Backend)
	}
	if len(args) == 0 {
		fmt.Println("Error: store requires a subcommand")
		printUsage()
		os.Exit(1)
	}
	cmd, ok := storeCommands[args[0]]
	if !ok {
		fmt.Printf("Unknown store command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	client, err := charm.Open(cfg.Store.Charm)
	if err != nil {
		logger.Fatal("failed to open charm store", "err", err)
	}
	err = cmd(client, args[1:])
	_ = client.Close()
	if err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func joinArgs(args []string) string {
	return strings.Join(args[:min(len(args), 2)], " ")
}

func printUsage() {
	fmt.Printf(`issuecal v%s - keep issue schedules in the assignee's Google Calendar

USAGE:
  issuecal [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --config <path>        Config file (default: ~/.config/issuecal/config.yaml)
  --db-path <path>       Database path (default: ~/.local/share/issuecal/issuecal.db)
  --log-level <level>    debug, info, warn or error

AUTHORIZATION:
  issuecal auth url --user <id>           Print the consent URL
  issuecal auth login --user <id>         Authorize in the browser via a local callback
    --no-browser                            Print the URL only
  issuecal auth exchange --user <id> --code <code>
                                          Store tokens for a code obtained elsewhere
  issuecal auth revoke --user <id>        Forget a user's tokens
  issuecal auth status [--user <id>]      Show authorization state

USER SETTINGS:
  issuecal user set --user <id>           Update settings
    --calendar <id>                         Target calendar (primary or an address)
    --relay-url <url>                       Relay endpoint
    --relay-key <key>                       Relay API key
    --relay-key-prompt                      Read the relay key without echo
    --clear-relay                           Use the direct API again
  issuecal user show --user <id>          Show settings (secrets masked)

CALENDAR:
  issuecal calendars --user <id>          List calendars the user can target
  issuecal relay test [--user <id>] [--url <url> --key <key>]
                                          Ping the relay endpoint

SYNC:
  issuecal apply [--file <path>]          Apply one change notification (stdin by default)
  issuecal log                            Show sync history
    --issue <id> --user <id> --status <ok|failed> --limit <n>
  issuecal dashboard [--limit <n>]        Interactive view of users and history

SERVERS:
  issuecal serve [--addr <addr>]          HTTP: OAuth routes, webhook, metrics
  issuecal mcp                            MCP server on stdio

CHARM STORE (store.backend: charm):
  issuecal store link                     Link this device to Charm
  issuecal store status                   Show server and stored counts
  issuecal store now                      Sync immediately
  issuecal store wipe --confirm           Delete all stored data

EXAMPLES:
  # Configure and authorize a user
  issuecal user set --user u-alice --calendar primary
  issuecal auth login --user u-alice

  # Replay a change notification
  issuecal apply --file change.json

  # Serve the webhook for the tracker
  issuecal serve --addr :8080

`, version)
}
