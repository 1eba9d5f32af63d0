// Package boardview holds the state of one opened board: the fetched board,
// its per-column order and the reconciliation between local drags and the
// changes other users push over the realtime channel.
package boardview

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/collaboard/internal/domain"
	"github.com/gosuda/collaboard/internal/order"
)

// State is the lifecycle state of a ViewModel.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateReconciling
	StateRollingBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateReconciling:
		return "reconciling"
	case StateRollingBack:
		return "rolling_back"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrNotOpen = errors.New("boardview: no board open")

// BoardSource fetches a board with its columns and tasks.
// *client.Client satisfies this interface.
type BoardSource interface {
	GetBoard(ctx context.Context, boardID string) (*domain.Board, error)
}

// TaskPatcher sends a partial task update. correlationID is echoed back in
// the realtime event the change produces.
// *client.Client satisfies this interface.
type TaskPatcher interface {
	PatchTask(ctx context.Context, taskID string, patch domain.TaskPatch, correlationID string) (*domain.Task, error)
}

// Realtime is the subset of *realtime.Bridge the view model needs.
type Realtime interface {
	JoinBoard(ctx context.Context, boardID string) error
	LeaveBoard(ctx context.Context, boardID string) error
	JoinGroup(ctx context.Context, groupID string) error
	LeaveGroup(ctx context.Context, groupID string) error
	OnTaskCreated(fn func(domain.TaskEvent)) func()
	OnTaskUpdated(fn func(domain.TaskEvent)) func()
	OnBoardUpdated(fn func(domain.Board)) func()
}

// Notifier surfaces user-facing messages such as a failed move.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// ColumnView is one rendered column.
type ColumnView struct {
	Column domain.Column
	Tasks  []domain.Task
}

// Deps bundles the collaborators of a ViewModel.
type Deps struct {
	Boards   BoardSource
	Tasks    TaskPatcher
	Realtime Realtime
	Orders   *order.Store
	Notifier Notifier
	Pending  *PendingSet
}

// ViewModel is the state behind one board screen. Realtime callbacks may run
// on the bridge's read goroutine; every method is safe for concurrent use.
type ViewModel struct {
	boards   BoardSource
	tasks    TaskPatcher
	rt       Realtime
	orders   *order.Store
	notifier Notifier
	pending  *PendingSet

	mu       sync.Mutex
	state    State
	board    *domain.Board
	session  uint64
	inflight int
	ctx      context.Context
	cancel   context.CancelFunc
	unsubs   []func()
}

func New(deps Deps) *ViewModel {
	if deps.Pending == nil {
		deps.Pending = NewPendingSet(DefaultPendingTTL)
	}
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(msg string) {
			log.Warn().Str("notice", msg).Msg("boardview: notice")
		})
	}
	return &ViewModel{
		boards:   deps.Boards,
		tasks:    deps.Tasks,
		rt:       deps.Realtime,
		orders:   deps.Orders,
		notifier: deps.Notifier,
		pending:  deps.Pending,
		ctx:      context.Background(),
	}
}

func (vm *ViewModel) State() State {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.state
}

// Board returns a copy of the opened board, or nil.
func (vm *ViewModel) Board() *domain.Board {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.board == nil {
		return nil
	}
	b := *vm.board
	b.Columns = slices.Clone(b.Columns)
	b.Tasks = slices.Clone(b.Tasks)
	return &b
}

// Open loads a board, merges its stored order with the current tasks and
// subscribes to its realtime room. A realtime failure is logged and the board
// still opens; local state stays authoritative.
func (vm *ViewModel) Open(ctx context.Context, boardID string) error {
	if err := vm.Close(ctx); err != nil {
		return fmt.Errorf("boardview.Open: %w", err)
	}

	vm.mu.Lock()
	vm.session++
	session := vm.session
	vm.state = StateLoading
	vm.mu.Unlock()

	board, err := vm.boards.GetBoard(ctx, boardID)
	if err != nil {
		vm.resetIfCurrent(session)
		return fmt.Errorf("boardview.Open: %w", err)
	}

	if _, err := vm.orders.Load(ctx, board.ID); err != nil {
		log.Warn().Err(err).Str("board_id", board.ID).Msg("boardview: load stored order")
	}
	if _, err := vm.orders.InitializeOrder(ctx, board.ID, board.Columns, board.Tasks); err != nil {
		log.Warn().Err(err).Str("board_id", board.ID).Msg("boardview: persist initial order")
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	vm.mu.Lock()
	if vm.session != session {
		vm.mu.Unlock()
		cancel()
		return nil
	}
	vm.board = board
	vm.ctx, vm.cancel = loopCtx, cancel
	vm.state = StateReady
	vm.mu.Unlock()

	if vm.rt != nil {
		if err := vm.rt.JoinBoard(ctx, board.ID); err != nil {
			log.Warn().Err(err).Str("board_id", board.ID).Msg("boardview: join realtime room")
		}
		if g := groupOf(board); g != "" {
			if err := vm.rt.JoinGroup(ctx, g); err != nil {
				log.Warn().Err(err).Str("group_id", g).Msg("boardview: join group room")
			}
		}
		unsubs := []func(){
			vm.rt.OnTaskCreated(vm.HandleTaskCreated),
			vm.rt.OnTaskUpdated(vm.HandleTaskUpdated),
			vm.rt.OnBoardUpdated(vm.HandleBoardUpdated),
		}
		vm.mu.Lock()
		vm.unsubs = unsubs
		vm.mu.Unlock()
	}

	log.Info().Str("board_id", board.ID).Int("tasks", len(board.Tasks)).Msg("boardview: board opened")
	return nil
}

// Close leaves the board's realtime room and drops pending tags. Responses to
// requests still in flight are ignored afterwards.
func (vm *ViewModel) Close(ctx context.Context) error {
	vm.mu.Lock()
	board := vm.board
	unsubs := vm.unsubs
	cancel := vm.cancel
	vm.unsubs = nil
	vm.board = nil
	vm.cancel = nil
	vm.ctx = context.Background()
	vm.inflight = 0
	vm.session++
	vm.state = StateIdle
	vm.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	vm.pending.Clear()

	if board == nil {
		return nil
	}
	vm.orders.Forget(board.ID)
	if vm.rt != nil {
		if g := groupOf(board); g != "" {
			if err := vm.rt.LeaveGroup(ctx, g); err != nil {
				log.Debug().Err(err).Str("group_id", g).Msg("boardview: leave group room")
			}
		}
		if err := vm.rt.LeaveBoard(ctx, board.ID); err != nil {
			return fmt.Errorf("boardview.Close: %w", err)
		}
	}
	return nil
}

func groupOf(b *domain.Board) string {
	if b.Group == nil {
		return ""
	}
	return b.Group.ID
}

// Columns renders the board: per column, the tasks whose status matches it,
// listed tasks in stored order followed by unlisted ones in board order.
func (vm *ViewModel) Columns() []ColumnView {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.board == nil {
		return nil
	}
	om := vm.orders.Order(vm.board.ID)

	views := make([]ColumnView, 0, len(vm.board.Columns))
	for _, col := range vm.board.Columns {
		views = append(views, ColumnView{
			Column: col,
			Tasks:  arrange(vm.board.TasksIn(col), om[col.Key()]),
		})
	}
	return views
}

func arrange(tasks []domain.Task, ids []string) []domain.Task {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := pos[id]; !dup {
			pos[id] = i
		}
	}

	var listed, unlisted []domain.Task
	for _, t := range tasks {
		if _, ok := pos[t.ID]; ok {
			listed = append(listed, t)
		} else {
			unlisted = append(unlisted, t)
		}
	}
	slices.SortStableFunc(listed, func(a, b domain.Task) int {
		return pos[a.ID] - pos[b.ID]
	})

	out := make([]domain.Task, 0, len(tasks))
	out = append(out, listed...)
	return append(out, unlisted...)
}

// DragEnd applies a drop of taskID from column src to position index in
// column dst. A reorder within one column only touches the local order. A
// move across columns updates the task's status optimistically, tags it as
// pending and sends the patch; on failure the status and order are rolled
// back and the user notified.
func (vm *ViewModel) DragEnd(ctx context.Context, src, dst, taskID string, index int) error {
	vm.mu.Lock()
	if vm.board == nil {
		vm.mu.Unlock()
		return ErrNotOpen
	}
	board := vm.board
	boardID := board.ID

	ti := board.TaskIndex(taskID)
	if ti < 0 {
		vm.mu.Unlock()
		return fmt.Errorf("boardview.DragEnd: %s: %w", taskID, domain.ErrUnknownTask)
	}
	dstCol, ok := board.Column(dst)
	if !ok {
		vm.mu.Unlock()
		return fmt.Errorf("boardview.DragEnd: %s: %w", dst, domain.ErrUnknownColumn)
	}
	if _, ok := board.Column(src); !ok {
		vm.mu.Unlock()
		return fmt.Errorf("boardview.DragEnd: %s: %w", src, domain.ErrUnknownColumn)
	}
	// The task's status decides where it is rendered; a drag reported from
	// another column is stale.
	if home, ok := board.ColumnFor(board.Tasks[ti].Status); ok && home.Key() != src {
		log.Debug().Str("board_id", boardID).Str("task_id", taskID).
			Str("src", src).Str("home", home.Key()).Msg("boardview: correcting drag source")
		src = home.Key()
	}
	index = storedIndex(board, dstCol, vm.orders.Order(boardID)[dst], taskID, index)

	if src == dst {
		_, err := vm.orders.MoveTask(vm.ctx, boardID, src, dst, taskID, index)
		vm.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Str("board_id", boardID).Str("task_id", taskID).Msg("boardview: persist reorder")
		}
		return nil
	}

	snapshot := vm.orders.Order(boardID)
	prevStatus := board.Tasks[ti].Status
	board.Tasks[ti].Status = dstCol.Name

	if _, err := vm.orders.MoveTask(vm.ctx, boardID, src, dst, taskID, index); err != nil {
		log.Warn().Err(err).Str("board_id", boardID).Str("task_id", taskID).Msg("boardview: persist move")
	}

	token := vm.pending.Tag(taskID)
	session := vm.session
	vm.inflight++
	vm.state = StateReconciling
	vm.mu.Unlock()

	status := dstCol.Name
	_, err := vm.tasks.PatchTask(ctx, taskID, domain.TaskPatch{Status: &status}, token)

	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.session != session {
		log.Debug().Str("task_id", taskID).Msg("boardview: ignoring response for closed board")
		return nil
	}
	vm.inflight--

	if err == nil {
		vm.settle()
		return nil
	}

	vm.state = StateRollingBack
	vm.pending.Discard(taskID, token)
	if i := vm.board.TaskIndex(taskID); i >= 0 {
		vm.board.Tasks[i].Status = prevStatus
	}
	if _, rerr := vm.orders.Restore(vm.ctx, boardID, snapshot); rerr != nil {
		log.Warn().Err(rerr).Str("board_id", boardID).Msg("boardview: persist rollback")
	}
	vm.settle()

	log.Error().Err(err).Str("board_id", boardID).Str("task_id", taskID).Str("status", status).Msg("boardview: move rejected, rolled back")
	vm.notifier.Notify("Failed to update task status")
	return fmt.Errorf("boardview.DragEnd: %w", err)
}

// storedIndex maps a drop position in the rendered column to a position in
// its stored list, which may still hold IDs of tasks no longer on the board.
// The dragged task is left out of both, as MoveTask removes it before the
// insert.
func storedIndex(board *domain.Board, col domain.Column, ids []string, taskID string, index int) int {
	stored := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != taskID {
			stored = append(stored, id)
		}
	}
	rendered := arrange(board.TasksIn(col), stored)
	rendered = slices.DeleteFunc(rendered, func(t domain.Task) bool { return t.ID == taskID })

	if index < 0 {
		index = 0
	}
	if index >= len(rendered) {
		return len(stored)
	}
	if i := slices.Index(stored, rendered[index].ID); i >= 0 {
		return i
	}
	// The anchor is not listed yet; listed tasks render first.
	return len(stored)
}

// settle returns to Ready once no patch is in flight. Caller holds vm.mu.
func (vm *ViewModel) settle() {
	if vm.inflight > 0 {
		vm.state = StateReconciling
		return
	}
	vm.state = StateReady
}

// HandleTaskCreated applies a CREATE pushed by the realtime channel.
func (vm *ViewModel) HandleTaskCreated(ev domain.TaskEvent) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if !vm.accepts(ev) {
		return
	}
	if vm.pending.Consume(ev) {
		return
	}

	vm.upsert(ev.Task)
	col, ok := vm.board.ColumnFor(ev.Task.Status)
	if !ok {
		return
	}
	if _, err := vm.orders.AddTask(vm.ctx, vm.board.ID, col.Key(), ev.Task, vm.board.Tasks); err != nil {
		log.Warn().Err(err).Str("board_id", vm.board.ID).Str("task_id", ev.Task.ID).Msg("boardview: persist created task")
	}
}

// HandleTaskUpdated applies an UPDATE pushed by the realtime channel. The
// task is always replaced; unless the event echoes a local change, the task
// is surfaced at the top of its column.
func (vm *ViewModel) HandleTaskUpdated(ev domain.TaskEvent) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if !vm.accepts(ev) {
		return
	}
	echo := vm.pending.Consume(ev)
	vm.upsert(ev.Task)
	if echo {
		return
	}

	// Orphaned tasks stay in memory but have no column to surface in.
	col, ok := vm.board.ColumnFor(ev.Task.Status)
	if !ok {
		return
	}
	if _, err := vm.orders.Surface(vm.ctx, vm.board.ID, col.Key(), ev.Task.ID); err != nil {
		log.Warn().Err(err).Str("board_id", vm.board.ID).Str("task_id", ev.Task.ID).Msg("boardview: persist surfaced task")
	}
}

// HandleBoardUpdated replaces the board's metadata, columns and tasks and
// merges the order with the new task set.
func (vm *ViewModel) HandleBoardUpdated(board domain.Board) {
	vm.mu.Lock()
	if vm.board == nil || board.ID != vm.board.ID {
		vm.mu.Unlock()
		return
	}
	if board.Tasks == nil {
		board.Tasks = vm.board.Tasks
	}
	prevGroup, nextGroup := groupOf(vm.board), groupOf(&board)
	vm.board = &board
	ctx := vm.ctx
	if _, err := vm.orders.InitializeOrder(ctx, board.ID, board.Columns, board.Tasks); err != nil {
		log.Warn().Err(err).Str("board_id", board.ID).Msg("boardview: persist order after board update")
	}
	vm.mu.Unlock()

	if vm.rt == nil || prevGroup == nextGroup {
		return
	}
	// The board moved to another group; follow it.
	if prevGroup != "" {
		if err := vm.rt.LeaveGroup(ctx, prevGroup); err != nil {
			log.Debug().Err(err).Str("group_id", prevGroup).Msg("boardview: leave group room")
		}
	}
	if nextGroup != "" {
		if err := vm.rt.JoinGroup(ctx, nextGroup); err != nil {
			log.Warn().Err(err).Str("group_id", nextGroup).Msg("boardview: join group room")
		}
	}
}

// accepts reports whether ev targets the open board. Caller holds vm.mu.
func (vm *ViewModel) accepts(ev domain.TaskEvent) bool {
	if vm.board == nil {
		return false
	}
	b := ev.BoardOf()
	return b == "" || b == vm.board.ID
}

// upsert replaces the task with the same ID or appends it. Caller holds vm.mu.
func (vm *ViewModel) upsert(t domain.Task) {
	if i := vm.board.TaskIndex(t.ID); i >= 0 {
		vm.board.Tasks[i] = t
		return
	}
	vm.board.Tasks = append(vm.board.Tasks, t)
}

func (vm *ViewModel) resetIfCurrent(session uint64) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.session == session {
		vm.state = StateIdle
	}
}
