package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gosuda/collaboard/internal/domain"
)

func newTasksCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Task commands",
	}
	cmd.AddCommand(newTasksMoveCmd(app))
	return cmd
}

func newTasksMoveCmd(app *App) *cobra.Command {
	var index int

	cmd := &cobra.Command{
		Use:   "move <board-id> <task-id> <column>",
		Short: "Move a task within or across columns",
		Long: "Drops the task at --index in the target column, as a drag would. " +
			"A move across columns changes the task's status on the server and " +
			"is rolled back locally if the server refuses it.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, taskID, target := args[0], args[1], args[2]

			vm, done, err := app.openView(cmd.Context(), cmd, boardID, nil)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer done()

			board := vm.Board()
			i := board.TaskIndex(taskID)
			if i < 0 {
				return writeErr(cmd, fmt.Errorf("%s: %w", taskID, domain.ErrUnknownTask))
			}
			src, ok := board.ColumnFor(board.Tasks[i].Status)
			if !ok {
				return writeErr(cmd, fmt.Errorf("task %s has status %q outside every column: %w", taskID, board.Tasks[i].Status, domain.ErrUnknownColumn))
			}
			dst, ok := resolveColumn(board, target)
			if !ok {
				return writeErr(cmd, fmt.Errorf("%s (columns: %s): %w", target, strings.Join(board.ColumnKeys(), ", "), domain.ErrUnknownColumn))
			}

			if err := vm.DragEnd(cmd.Context(), src.Key(), dst.Key(), taskID, index); err != nil {
				return writeErr(cmd, err)
			}
			render(cmd.OutOrStdout(), vm)
			return nil
		},
	}

	cmd.Flags().IntVar(&index, "index", 0, "Position in the target column (0 is the top)")
	return cmd
}

// resolveColumn accepts a column key or its display name.
func resolveColumn(b *domain.Board, name string) (domain.Column, bool) {
	if c, ok := b.Column(name); ok {
		return c, true
	}
	return b.ColumnFor(name)
}
