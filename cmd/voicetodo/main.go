// voicetodo is a voice-controlled to-do list.
//
// "voicetodo serve" runs the backend: it issues ephemeral Realtime
// credentials, serves the browser client and relays board snapshots.
// "voicetodo listen" is a terminal client that talks to the Realtime API
// over WebRTC and keeps the list on screen.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/teslashibe/voicetodo/internal/config"
	"github.com/teslashibe/voicetodo/internal/log"
)

// Version is the application version (set via ldflags).
var Version = "dev"

// Command is one CLI subcommand.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand holds global flags and instances shared by every command.
type RootCommand struct {
	ConfigPath string
	LogLevel   string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	Cfg    config.Config
}

// NewRootCommand registers global flags.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}
	app.Flag("config", "Path to a YAML config file.").Short('c').StringVar(&c.ConfigPath)
	app.Flag("log-level", "Log level (debug, info, warn, error).").StringVar(&c.LogLevel)
	return c
}

// loadConfig loads the config file and environment, then applies global flags.
func (c *RootCommand) loadConfig() (config.Config, error) {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	return cfg, nil
}

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	app := kingpin.New("voicetodo", "Voice-controlled to-do list.")
	app.Version(Version)
	app.DefaultEnvars()
	rootCmd := NewRootCommand(app)

	serveCmd := NewServeCommand(rootCmd, app)
	listenCmd := NewListenCommand(rootCmd, app)

	cmds := map[string]Command{
		serveCmd.Name():  serveCmd,
		listenCmd.Name(): listenCmd,
	}

	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	cfg, err := rootCmd.loadConfig()
	if err != nil {
		return err
	}
	rootCmd.Cfg = cfg
	// Logs go to stderr so they do not interleave with the board on stdout.
	rootCmd.Logger = log.Init(stderr, cfg.LogLevel).With("version", Version)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debug("termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				if err := cmds[cmdName].Run(ctx); err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func main() {
	ctx := context.Background()
	if err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
