// Command rgsx downloads games from the RGSX catalog into a Batocera-style roms tree.
// Usage: rgsx <command> [flags]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"rgsx/internal/app"
	"rgsx/internal/config"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"platforms", "list catalog platforms", cmdPlatforms},
	{"games", "list or search the games of a platform", cmdGames},
	{"download", "download a game and wait for it", cmdDownload},
	{"history", "show download history", cmdHistory},
	{"clear-history", "remove finished history entries", cmdClearHistory},
	{"cancel", "cancel a task on a running server", cmdCancel},
	{"serve", "run the web API", cmdServe},
	{"watch", "live download table", cmdWatch},
	{"stats", "download statistics and disk usage", cmdStats},
	{"settings", "show or change download settings", cmdSettings},
	{"speedtest", "measure the connection", cmdSpeedTest},
	{"check-update", "look for a newer RGSX release", cmdCheckUpdate},
	{"version", "print the version", cmdVersion},
}

// errUsage makes main exit with status 2
var errUsage = errors.New("usage error")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := os.Args[1]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(ctx, os.Args[2:])
		switch {
		case err == nil:
			return
		case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
			os.Exit(2)
		default:
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
	printUsage()
	os.Exit(2)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: rgsx <command> [flags]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-14s %s\n", c.name, c.summary)
	}
}

// commonFlags are accepted by every command that opens the app
type commonFlags struct {
	userData string
	verbose  bool
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	c := &commonFlags{}
	fs.StringVar(&c.userData, "userdata", "", "user data root (default $"+config.EnvUserData+", /userdata or the user config dir)")
	fs.BoolVar(&c.verbose, "verbose", false, "log debug messages to stderr")
	return fs, c
}

func (c *commonFlags) paths() config.Paths {
	if c.userData != "" {
		return config.NewPaths(c.userData, "")
	}
	return config.DefaultPaths()
}

// open starts the engine and takes ownership of the history. It fails with
// history.ErrOwned while a server or another download runs.
func (c *commonFlags) open() (*app.App, error) {
	return c.newApp(false)
}

// openReadOnly leaves the history and any running server untouched
func (c *commonFlags) openReadOnly() (*app.App, error) {
	return c.newApp(true)
}

func (c *commonFlags) newApp(readOnly bool) (*app.App, error) {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return app.New(app.Options{Paths: c.paths(), Console: os.Stderr, LogLevel: level, ReadOnly: readOnly})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
