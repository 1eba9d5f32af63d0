// Package cli is the collaboard command-line client: it signs in through a
// Collaboard server, renders ordered board columns as text, moves tasks and
// follows realtime changes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/collaboard/internal/boardview"
	"github.com/gosuda/collaboard/internal/client"
	"github.com/gosuda/collaboard/internal/order"
	"github.com/gosuda/collaboard/internal/store/sqlite"
)

const sessionFile = "session"

var errNoSession = errors.New("not signed in; run `collaboard-cli login` first")

type App struct {
	ServerURL    string
	DataDir      string
	Timeout      time.Duration
	RemoteOrders bool
	Verbose      bool
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "collaboard-cli",
		Short:        "Headless Collaboard board client",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Sign in once; the session is kept in the data directory
  collaboard-cli login --user alice

  # Render a board and follow changes
  collaboard-cli boards show <board-id>
  collaboard-cli boards watch <board-id>

  # Move a task to the top of another column
  collaboard-cli tasks move <board-id> <task-id> Done --index 0
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		level := zerolog.WarnLevel
		if app.Verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.ServerURL, "server", envOr("COLLABOARD_URL", "http://localhost:8080"), "Collaboard server URL")
	cmd.PersistentFlags().StringVar(&app.DataDir, "data-dir", envOr("COLLABOARD_DATA_DIR", defaultDataDir()), "Directory holding the session and local board orders")
	cmd.PersistentFlags().DurationVar(&app.Timeout, "timeout", 15*time.Second, "Request timeout")
	cmd.PersistentFlags().BoolVar(&app.RemoteOrders, "remote-orders", false, "Keep board orders on the server instead of the local database")
	cmd.PersistentFlags().BoolVarP(&app.Verbose, "verbose", "v", false, "Debug logging on stderr")

	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	cmd.AddCommand(newBoardsCmd(app))
	cmd.AddCommand(newTasksCmd(app))

	return cmd
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".collaboard"
	}
	return filepath.Join(dir, "collaboard")
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}

// client returns an API client carrying the saved session.
func (app *App) client() (*client.Client, error) {
	c := client.New(app.ServerURL, app.Timeout)
	raw, err := os.ReadFile(filepath.Join(app.DataDir, sessionFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("cli.client: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return nil, errNoSession
	}
	c.SetToken(token)
	return c, nil
}

func (app *App) saveSession(token string) error {
	if err := os.MkdirAll(app.DataDir, 0o700); err != nil {
		return fmt.Errorf("cli.saveSession: %w", err)
	}
	if err := os.WriteFile(filepath.Join(app.DataDir, sessionFile), []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("cli.saveSession: %w", err)
	}
	return nil
}

// orders opens the order backend: the server's sync endpoint with
// --remote-orders, the local database otherwise.
func (app *App) orders(ctx context.Context, c *client.Client) (order.Backend, func(), error) {
	if app.RemoteOrders {
		return c.Orders(), func() {}, nil
	}
	db, err := sqlite.Open(ctx, filepath.Join(app.DataDir, "orders.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("cli.orders: %w", err)
	}
	return db, func() { _ = db.Close() }, nil
}

// openView loads a board into a view model. rt may be nil for one-shot
// commands.
func (app *App) openView(ctx context.Context, cmd *cobra.Command, boardID string, rt boardview.Realtime) (*boardview.ViewModel, func(), error) {
	c, err := app.client()
	if err != nil {
		return nil, nil, err
	}
	backend, closeOrders, err := app.orders(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	vm := boardview.New(boardview.Deps{
		Boards:   c,
		Tasks:    c,
		Realtime: rt,
		Orders:   order.NewStore(backend),
		Notifier: boardview.NotifierFunc(func(msg string) {
			fmt.Fprintln(cmd.ErrOrStderr(), msg)
		}),
	})
	if err := vm.Open(ctx, boardID); err != nil {
		closeOrders()
		return nil, nil, err
	}

	return vm, func() {
		if err := vm.Close(context.Background()); err != nil {
			log.Debug().Err(err).Msg("cli: close board")
		}
		closeOrders()
	}, nil
}

// render prints the board with its columns in stored order.
func render(w io.Writer, vm *boardview.ViewModel) {
	board := vm.Board()
	if board == nil {
		return
	}
	fmt.Fprintf(w, "%s (%s)\n", board.Name, board.ID)
	for _, col := range vm.Columns() {
		fmt.Fprintf(w, "== %s (%d)\n", col.Column.Name, len(col.Tasks))
		for _, t := range col.Tasks {
			line := fmt.Sprintf("  %s  %s", t.ID, t.Title)
			if t.Priority != "" {
				line += fmt.Sprintf("  [%s]", t.Priority)
			}
			fmt.Fprintln(w, line)
		}
	}
}
