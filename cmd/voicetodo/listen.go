package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/teslashibe/voicetodo/internal/config"
	"github.com/teslashibe/voicetodo/pkg/broker"
	"github.com/teslashibe/voicetodo/pkg/controller"
	"github.com/teslashibe/voicetodo/pkg/realtime"
	"github.com/teslashibe/voicetodo/pkg/session"
	"github.com/teslashibe/voicetodo/pkg/todo"
	"github.com/teslashibe/voicetodo/pkg/view"
)

// ListenCommand runs the terminal client.
type ListenCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	server      string
	input       string
	output      string
	mirror      bool
	mirrorURL   string
	resumeDelay time.Duration
	noAutostart bool
}

// NewListenCommand registers the listen command.
func NewListenCommand(rootCmd *RootCommand, app *kingpin.Application) *ListenCommand {
	c := &ListenCommand{rootCmd: rootCmd}

	cmd := app.Command("listen", "Start a voice session and show the to-do list in the terminal.")
	c.Cmd = cmd
	cmd.Flag("server", "Backend URL that issues credentials (overrides VOICETODO_SERVER).").StringVar(&c.server)
	cmd.Flag("input", "Ogg/Opus file used as the microphone. Silence when empty.").StringVar(&c.input)
	cmd.Flag("output", "Ogg file the model's audio is written to. Dropped when empty.").StringVar(&c.output)
	cmd.Flag("mirror", "Mirror the board to the backend's /ws/board relay.").BoolVar(&c.mirror)
	cmd.Flag("mirror-url", "Board relay URL. Derived from --server when empty.").StringVar(&c.mirrorURL)
	cmd.Flag("resume-delay", "Delay before listening again after a command.").DurationVar(&c.resumeDelay)
	cmd.Flag("no-autostart", "Wait for 'start' instead of connecting immediately.").BoolVar(&c.noAutostart)

	return c
}

func (c ListenCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListenCommand) Run(ctx context.Context) error {
	lc := c.rootCmd.Cfg.Listener
	if c.server != "" {
		lc.ServerURL = c.server
	}
	if c.input != "" {
		lc.Input = c.input
	}
	if c.output != "" {
		lc.Output = c.output
	}
	if c.mirrorURL != "" {
		lc.MirrorURL = c.mirrorURL
	}
	if c.resumeDelay > 0 {
		lc.ResumeDelay = c.resumeDelay
	}
	logger := c.rootCmd.Logger

	creds, err := broker.NewClient(broker.WithServerURL(lc.ServerURL), broker.WithLogger(logger))
	if err != nil {
		return err
	}

	var mic realtime.Microphone = realtime.SilentMicrophone{}
	if lc.Input != "" {
		mic = realtime.OggMicrophone{Path: lc.Input}
	}
	var speaker realtime.Speaker = realtime.DiscardSpeaker{}
	if lc.Output != "" {
		speaker = realtime.OggSpeaker{
			Path:    lc.Output,
			OnError: func(err error) { logger.Warn("record model audio", "error", err) },
		}
	}
	dialer := &realtime.Dialer{
		BaseURL: lc.RealtimeURL,
		Model:   lc.Model,
		Speaker: speaker,
		Logger:  logger,
	}

	boardOpts := []view.Option{view.WithToastTimeout(lc.ToastTimeout), view.WithLogger(logger)}
	var mirror *view.WebSocketMirror
	if c.mirror || lc.MirrorURL != "" {
		url := lc.MirrorURL
		if url == "" {
			url = relayURL(lc.ServerURL)
		}
		mirror = view.NewWebSocketMirror(url, logger)
		boardOpts = append(boardOpts, view.WithMirror(mirror))
	}
	board := view.NewBoard(c.rootCmd.Stdout, boardOpts...)
	defer board.Close()

	ctrl := controller.New(board, todo.Interpreter{}, logger)

	mgr, err := session.New(creds, mic, dialer, ctrl,
		session.WithResumeDelay(lc.ResumeDelay),
		session.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer mgr.Close()
	mgr.OnStateChange(func(ch session.Change) {
		board.SetStatus(ch.Status)
	})

	if !c.noAutostart {
		mgr.Start(ctx)
	}

	var g run.Group

	// Board mirror.
	if mirror != nil {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return mirror.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Console.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return c.console(ctx, mgr, ctrl, board)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// console reads commands from stdin until quit or ctx is done.
func (c ListenCommand) console(ctx context.Context, mgr *session.Manager, ctrl *controller.Controller, board *view.Board) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.rootCmd.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	out := c.rootCmd.Stdout
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return err
			}
			// stdin closed: keep the session running until a signal.
			<-ctx.Done()
			return nil
		case line := <-lines:
			cmd, err := parseConsole(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			switch cmd.verb {
			case "":
			case verbStart:
				if !mgr.Start(ctx) {
					fmt.Fprintln(out, "already running")
				}
			case verbStop:
				mgr.Stop()
			case verbToggle:
				mgr.Toggle(ctx)
			case verbRemove:
				ctrl.RemoveAt(cmd.position)
			case verbSay:
				if err := mgr.SendText(cmd.text); err != nil {
					fmt.Fprintln(out, err)
				}
			case verbDo:
				ctrl.HandleTranscript(cmd.text)
			case verbList:
				board.Render(ctrl.Tasks())
			case verbHelp:
				fmt.Fprintln(out, consoleHelp)
			case verbQuit:
				return nil
			}
		}
	}
}

// relayURL turns the backend URL into its board relay websocket URL.
func relayURL(server string) string {
	if server == "" {
		server = config.DefaultServerURL
	}
	u := strings.TrimSuffix(server, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/board"
}
