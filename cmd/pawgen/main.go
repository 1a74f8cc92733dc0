package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/petsphoto/pawgen/internal/api"
	"github.com/petsphoto/pawgen/internal/auth"
	"github.com/petsphoto/pawgen/internal/config"
	"github.com/petsphoto/pawgen/internal/image"
	"github.com/petsphoto/pawgen/internal/poll"
	"github.com/petsphoto/pawgen/internal/store"
)

var (
	version = "dev"
	commit  = "none"
)

type App struct {
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	LoadConfig func() (*config.Config, error)

	// stdin buffers In exactly once. Sharing one reader keeps a
	// second prompt in the same invocation from losing lines the
	// first prompt's buffer already consumed.
	stdin *bufio.Reader
}

func (app *App) reader() *bufio.Reader {
	if app.stdin == nil {
		app.stdin = bufio.NewReader(app.In)
	}
	return app.stdin
}

func DefaultApp() *App {
	return &App{
		In:         os.Stdin,
		Out:        os.Stdout,
		Err:        os.Stderr,
		LoadConfig: config.Load,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "pawgen",
		Short: "Turn pet photos into AI-styled avatars",
		Long: `pawgen is a client for the PetsPhoto avatar service: upload a pet
photo, pick a style and generate a styled avatar.

Examples:
  pawgen register --email you@example.com
  pawgen login --email you@example.com
  pawgen generate ./rex.jpg --style style-cartoon -o rex-cartoon.png
  pawgen history --local
  pawgen shell`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newRegisterCmd(app, &verbose),
		newLoginCmd(app, &verbose),
		newLogoutCmd(app, &verbose),
		newWhoamiCmd(app, &verbose),
		newStylesCmd(app, &verbose),
		newUploadCmd(app, &verbose),
		newGenerateCmd(app, &verbose),
		newBatchCmd(app, &verbose),
		newStatusCmd(app, &verbose),
		newHistoryCmd(app, &verbose),
		newCreditsCmd(app, &verbose),
		newShellCmd(app, &verbose),
	)

	return cmd
}

// runtime bundles the wired client stack for one command invocation.
type runtime struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   *store.Store
	api     *api.Client
	session *auth.Manager
	poller  *poll.Poller
	saver   *image.Saver
}

func (app *App) bootstrap(ctx context.Context, verbose bool) (*runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := newLogger(app.Err, cfg.LogLevel, verbose)

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	client, err := api.New(&api.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.APITimeout,
		Logger:  logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	mgr := auth.NewManager(client, st, logger)
	client.SetTokenSource(mgr)

	if err := mgr.Restore(ctx); err != nil {
		st.Close()
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		log:     logger,
		store:   st,
		api:     client,
		session: mgr,
		poller:  poll.New(client, cfg.PollInterval, logger),
		saver:   image.NewSaver(),
	}, nil
}

func (rt *runtime) Close() {
	rt.session.Close()
	rt.store.Close()
}

func newLogger(w io.Writer, level string, verbose bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(lvl).With().Timestamp().Logger()
}

// promptPassword reads a password without echo when stdin is a
// terminal, and as a plain line otherwise (pipes, tests).
func promptPassword(app *App, prompt string) (string, error) {
	fmt.Fprint(app.Out, prompt)

	if f, ok := app.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(app.Out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := app.reader().ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
