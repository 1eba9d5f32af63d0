package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/collaboard/internal/domain"
	"github.com/gosuda/collaboard/internal/realtime"
)

func newBoardsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boards",
		Short: "Board commands",
	}
	cmd.AddCommand(newBoardsListCmd(app))
	cmd.AddCommand(newBoardsShowCmd(app))
	cmd.AddCommand(newBoardsWatchCmd(app))
	return cmd
}

func newBoardsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List boards visible to you",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := app.client()
			if err != nil {
				return writeErr(cmd, err)
			}
			boards, err := c.ListBoards(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			for _, b := range boards {
				star := " "
				if b.Favourite {
					star = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\n", star, b.ID, b.Name)
			}
			return nil
		},
	}
}

func newBoardsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <board-id>",
		Short: "Render a board's columns in stored order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vm, done, err := app.openView(cmd.Context(), cmd, args[0], nil)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()

			render(cmd.OutOrStdout(), vm)
			return nil
		},
	}
}

func newBoardsWatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <board-id>",
		Short: "Render a board and re-render on every realtime change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := watch(cmd.Context(), app, cmd, args[0]); err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
}

func watch(ctx context.Context, app *App, cmd *cobra.Command, boardID string) error {
	c, err := app.client()
	if err != nil {
		return err
	}

	bridge := realtime.New(realtime.Options{
		URL:    c.PushURL(),
		Tokens: realtime.NewCachedTokenSource(c),
	})
	if err := bridge.Open(ctx); err != nil {
		return err
	}
	defer bridge.Close()

	vm, done, err := app.openView(ctx, cmd, boardID, bridge)
	if err != nil {
		return err
	}
	defer done()

	dirty := make(chan struct{}, 1)
	mark := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	// Registered after the view model's own handlers, so a render sees the
	// applied change.
	unsubs := []func(){
		bridge.OnTaskCreated(func(domain.TaskEvent) { mark() }),
		bridge.OnTaskUpdated(func(domain.TaskEvent) { mark() }),
		bridge.OnBoardUpdated(func(domain.Board) { mark() }),
		bridge.OnBoardsUpdate(func() {
			log.Info().Msg("cli: board list changed")
		}),
		bridge.OnGroupsUpdate(func() {
			fmt.Fprintln(cmd.ErrOrStderr(), "group boards changed")
			mark()
		}),
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	out := cmd.OutOrStdout()
	render(out, vm)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-dirty:
				fmt.Fprintln(out)
				render(out, vm)
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		last := bridge.State()
		for {
			select {
			case <-gctx.Done():
				log.Debug().Str("board_id", boardID).Msg("cli: stop watching")
				return nil
			case <-ticker.C:
				if s := bridge.State(); s != last {
					fmt.Fprintf(cmd.ErrOrStderr(), "push channel %s\n", s)
					last = s
				}
			}
		}
	})
	return g.Wait()
}
