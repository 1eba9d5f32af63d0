package v1

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/collaboard/internal/domain"
	"github.com/gosuda/collaboard/internal/realtime"
	"github.com/gosuda/collaboard/internal/upstream"
)

// ListTasksInput forwards its whole query string to the backend, which owns
// the filter vocabulary.
type ListTasksInput struct {
	query url.Values
}

func (i *ListTasksInput) Resolve(ctx huma.Context) []error {
	u := ctx.URL()
	i.query = u.Query()
	return nil
}

type ListTasksOutput struct {
	Body []domain.Task
}

type GetTaskInput struct {
	ID string `path:"id" minLength:"1" doc:"Task ID"`
}

type TaskOutput struct {
	Body *domain.Task
}

// NewTask is the body of a task creation request.
type NewTask struct {
	Title       string             `json:"title" minLength:"1" maxLength:"255"`
	Description string             `json:"description,omitempty" maxLength:"10000"`
	Status      string             `json:"status" minLength:"1"`
	Board       string             `json:"board" minLength:"1"`
	Assignees   []string           `json:"assignees,omitempty"`
	Priority    domain.Priority    `json:"priority,omitempty"`
	DueDate     *time.Time         `json:"dueDate,omitempty"`
	Checklists  []domain.Checklist `json:"checklists,omitempty"`
}

type CreateTaskInput struct {
	CorrelationID string `header:"X-Correlation-ID" doc:"Echoed in the realtime event this change causes"`
	Body          NewTask
}

type UpdateTaskInput struct {
	ID            string `path:"id" minLength:"1" doc:"Task ID"`
	CorrelationID string `header:"X-Correlation-ID" doc:"Echoed in the realtime event this change causes"`
	Body          domain.TaskPatch
}

func RegisterTaskRoutes(api huma.API, up Upstream, pub Publisher) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
		tasks := make([]domain.Task, 0)
		err := forward(ctx, up, upstream.Request{
			Method: http.MethodGet,
			Path:   "/tasks",
			Query:  input.query,
		}, "Failed to fetch tasks", &tasks)
		if err != nil {
			return nil, err
		}
		return &ListTasksOutput{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-task",
		Method:      http.MethodPost,
		Path:        "/tasks",
		Summary:     "Create a task",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *CreateTaskInput) (*TaskOutput, error) {
		task := &domain.Task{}
		err := forward(ctx, up, upstream.Request{
			Method:        http.MethodPost,
			Path:          "/tasks",
			Body:          input.Body,
			CorrelationID: input.CorrelationID,
		}, "Failed to create task", task)
		if err != nil {
			return nil, err
		}
		if task.Board == "" {
			task.Board = input.Body.Board
		}

		publishTask(ctx, pub, domain.OperationCreate, task, input.CorrelationID)
		return &TaskOutput{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a task",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *GetTaskInput) (*TaskOutput, error) {
		task := &domain.Task{}
		err := forward(ctx, up, upstream.Request{
			Method: http.MethodGet,
			Path:   "/tasks/" + url.PathEscape(input.ID),
		}, "Failed to fetch task", task)
		if err != nil {
			return nil, err
		}
		return &TaskOutput{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update a task",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *UpdateTaskInput) (*TaskOutput, error) {
		task := &domain.Task{}
		err := forward(ctx, up, upstream.Request{
			Method:        http.MethodPatch,
			Path:          "/tasks/" + url.PathEscape(input.ID),
			Body:          input.Body,
			CorrelationID: input.CorrelationID,
		}, "Failed to update task", task)
		if err != nil {
			return nil, err
		}
		if task.ID == "" {
			task.ID = input.ID
		}

		publishTask(ctx, pub, domain.OperationUpdate, task, input.CorrelationID)
		return &TaskOutput{Body: task}, nil
	})
}

// publishTask announces a task change to its board's room. Tasks without a
// board have no room to notify.
func publishTask(ctx context.Context, pub Publisher, op domain.Operation, task *domain.Task, correlationID string) {
	if task.Board == "" {
		return
	}
	publish(ctx, pub, realtime.EventTaskUpdate, domain.TaskEvent{
		Operation:     op,
		Task:          *task,
		BoardID:       task.Board,
		CorrelationID: correlationID,
	}, boardRoom(task.Board))
}
