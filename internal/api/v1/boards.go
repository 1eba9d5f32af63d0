package v1

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/collaboard/internal/domain"
	"github.com/gosuda/collaboard/internal/realtime"
	redisstore "github.com/gosuda/collaboard/internal/store/redis"
	"github.com/gosuda/collaboard/internal/upstream"
)

type ListBoardsInput struct {
	IDs []string `query:"ids" doc:"Restrict to these board IDs"`
}

type ListBoardsOutput struct {
	Body []domain.Board
}

type GetBoardInput struct {
	ID string `path:"id" minLength:"1" doc:"Board ID"`
}

type GetBoardByNameInput struct {
	Name string `path:"name" minLength:"1" doc:"Board name"`
}

type BoardOutput struct {
	Body *domain.Board
}

// BoardPatch is a partial board update. Nil fields are left unchanged.
type BoardPatch struct {
	Name        *string         `json:"name,omitempty" minLength:"1" maxLength:"255"`
	Description *string         `json:"description,omitempty" maxLength:"4096"`
	Color       *string         `json:"color,omitempty"`
	Columns     []domain.Column `json:"columns,omitempty"`
	Members     []string        `json:"members,omitempty"`
	Favourite   *bool           `json:"favourite,omitempty"`
}

type UpdateBoardInput struct {
	ID   string `path:"id" minLength:"1" doc:"Board ID"`
	Body BoardPatch
}

func RegisterBoardRoutes(api huma.API, up Upstream, pub Publisher) {
	huma.Register(api, huma.Operation{
		OperationID: "list-boards",
		Method:      http.MethodGet,
		Path:        "/boards",
		Summary:     "List boards visible to the caller",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *ListBoardsInput) (*ListBoardsOutput, error) {
		req := upstream.Request{Method: http.MethodGet, Path: "/boards"}
		if len(input.IDs) > 0 {
			req.Query = url.Values{"ids": {strings.Join(input.IDs, ",")}}
		}

		boards := make([]domain.Board, 0)
		if err := forward(ctx, up, req, "Failed to fetch boards", &boards); err != nil {
			return nil, err
		}
		return &ListBoardsOutput{Body: boards}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/boards/{id}",
		Summary:     "Get a board with its columns and tasks",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *GetBoardInput) (*BoardOutput, error) {
		board := &domain.Board{}
		err := forward(ctx, up, upstream.Request{
			Method: http.MethodGet,
			Path:   "/boards/" + url.PathEscape(input.ID),
		}, "Failed to fetch board", board)
		if err != nil {
			return nil, err
		}
		return &BoardOutput{Body: board}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board-by-name",
		Method:      http.MethodGet,
		Path:        "/boards/name/{name}",
		Summary:     "Get a board by name",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *GetBoardByNameInput) (*BoardOutput, error) {
		board := &domain.Board{}
		err := forward(ctx, up, upstream.Request{
			Method: http.MethodGet,
			Path:   "/boards/name/" + url.PathEscape(input.Name),
		}, "Failed to fetch board", board)
		if err != nil {
			return nil, err
		}
		return &BoardOutput{Body: board}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-board",
		Method:      http.MethodPatch,
		Path:        "/boards/{id}",
		Summary:     "Update board settings",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *UpdateBoardInput) (*BoardOutput, error) {
		board := &domain.Board{}
		err := forward(ctx, up, upstream.Request{
			Method: http.MethodPatch,
			Path:   "/boards/" + url.PathEscape(input.ID),
			Body:   input.Body,
		}, "Failed to update board", board)
		if err != nil {
			return nil, err
		}
		if board.ID == "" {
			board.ID = input.ID
		}

		publish(ctx, pub, realtime.EventBoardUpdated, board, boardRoom(board.ID))
		publish(ctx, pub, realtime.EventBoardsUpdate, nil, redisstore.BoardsChannel)
		if board.Group != nil && board.Group.ID != "" {
			publish(ctx, pub, realtime.EventGroupsUpdate, nil, groupRoom(board.Group.ID))
		}
		return &BoardOutput{Body: board}, nil
	})
}
