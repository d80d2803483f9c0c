package main

import (
	"context"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/teslashibe/voicetodo/pkg/broker"
	"github.com/teslashibe/voicetodo/pkg/hub"
	"github.com/teslashibe/voicetodo/pkg/web"
)

// ServeCommand runs the backend.
type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	port      string
	publicDir string
	debug     bool
}

// NewServeCommand registers the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	cmd := app.Command("serve", "Run the credential broker and serve the browser client.")
	c.Cmd = cmd
	cmd.Flag("port", "Port to listen on (overrides PORT).").StringVar(&c.port)
	cmd.Flag("public-dir", "Directory of static files served at / (overrides PUBLIC_DIR).").StringVar(&c.publicDir)
	cmd.Flag("debug", "Log every request.").BoolVar(&c.debug)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	srv := c.rootCmd.Cfg.Server
	if c.port != "" {
		srv.Port = c.port
	}
	if c.publicDir != "" {
		srv.PublicDir = c.publicDir
	}
	srv.Debug = srv.Debug || c.debug
	if err := srv.Validate(); err != nil {
		return err
	}

	logger := c.rootCmd.Logger
	issuer, err := broker.New(
		broker.WithAPIKey(srv.APIKey),
		broker.WithBaseURL(srv.OpenAIURL),
		broker.WithModel(srv.Model),
		broker.WithVoice(srv.Voice),
		broker.WithModalities(srv.Modalities...),
		broker.WithInstructions(srv.Instructions),
		broker.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	board := hub.New("board", logger)
	server := web.NewServer(issuer, board, web.Config{
		PublicDir: srv.PublicDir,
		Version:   Version,
		Debug:     srv.Debug,
	}, logger)

	var g run.Group

	// Board relay.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				board.Run(ctx)
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// HTTP server.
	{
		g.Add(
			func() error {
				return server.Listen(":" + srv.Port)
			},
			func(_ error) {
				_ = server.Shutdown()
			},
		)
	}

	// Parent context.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				<-ctx.Done()
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}
