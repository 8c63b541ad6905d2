// ABOUTME: CLI commands to apply one issue change and review sync history
// ABOUTME: Reads a change notification from a file or stdin and prints the controller's result
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/harperreed/issuecal/db"
	isync "github.com/harperreed/issuecal/sync"
)

// ApplyCommand runs one change notification through the controller.
func ApplyCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	file := fs.String("file", "-", "Change notification JSON file (- for stdin)")
	_ = fs.Parse(args)

	var in io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("failed to open change file: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read change: %w", err)
	}
	change, err := app.Config.Fields.DecodeChange(data)
	if err != nil {
		return err
	}

	res := app.Controller.HandleChange(context.Background(), change)
	printResult(app, res)
	return res.Err
}

func printResult(app *App, res isync.Result) {
	app.println(titleStyle.Render(fmt.Sprintf("Issue %s", res.IssueID)))
	app.println(field("Rule", string(res.Rule)))
	app.println(field("Run", res.RunID))

	for _, op := range res.Operations {
		mark := okMark()
		if op.Err != nil {
			mark = failMark()
		}
		line := fmt.Sprintf("%s %s for %s", mark, op.Name, op.UserID)
		if op.EventID != "" {
			line += " " + mutedStyle.Render("("+op.EventID+")")
		}
		if op.Err != nil {
			line += ": " + op.Err.Error()
			if op.BestEffort {
				line += " " + mutedStyle.Render("(ignored)")
			}
		}
		app.println(line)
	}

	if len(res.Operations) == 0 {
		app.println(mutedStyle.Render("No calendar changes needed."))
	}
	if res.EventIDChanged {
		app.println(field("Event", orDash(res.EventID)))
	}
}

// LogCommand lists recorded sync operations.
func LogCommand(app *App, args []string) error {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	issue := fs.String("issue", "", "Filter by issue ID")
	user := fs.String("user", "", "Filter by user ID")
	status := fs.String("status", "", "Filter by status (ok, failed)")
	limit := fs.Int("limit", 20, "Maximum entries")
	_ = fs.Parse(args)

	entries, err := app.History.List(context.Background(), db.SyncLogFilter{
		IssueID: *issue,
		UserID:  *user,
		Status:  *status,
		Limit:   *limit,
	})
	if err != nil {
		return fmt.Errorf("failed to read sync history: %w", err)
	}

	if len(entries) == 0 {
		app.println(mutedStyle.Render("No sync history."))
		return nil
	}

	w := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tISSUE\tUSER\tRULE\tOP\tSTATUS\tEVENT\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.IssueID, e.UserID, e.Rule, e.Operation, e.Status,
			orDash(e.EventID), truncate(e.Error, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
