package v1

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/collaboard/internal/domain"
	"github.com/gosuda/collaboard/internal/order"
	"github.com/gosuda/collaboard/internal/server/middleware"
)

type GetOrderInput struct {
	ID string `path:"id" minLength:"1" doc:"Board ID"`
}

type OrderBody struct {
	Orders domain.OrderMap `json:"orders" doc:"Task IDs per column key, top to bottom"`
}

type OrderOutput struct {
	Body OrderBody
}

type PutOrderInput struct {
	ID   string `path:"id" minLength:"1" doc:"Board ID"`
	Body OrderBody
}

// RegisterOrderRoutes mounts per-user column order sync. Orders are keyed by
// the session owner so two users of one board never see each other's
// arrangement.
func RegisterOrderRoutes(api huma.API, orders order.Backend) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board-order",
		Method:      http.MethodGet,
		Path:        "/boards/{id}/order",
		Summary:     "Get the caller's saved column order for a board",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *GetOrderInput) (*OrderOutput, error) {
		key, err := orderKey(ctx, input.ID)
		if err != nil {
			return nil, err
		}

		m, err := orders.Load(ctx, key)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load board order", err)
		}
		if m == nil {
			m = domain.OrderMap{}
		}
		return &OrderOutput{Body: OrderBody{Orders: m}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-board-order",
		Method:      http.MethodPut,
		Path:        "/boards/{id}/order",
		Summary:     "Replace the caller's saved column order for a board",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *PutOrderInput) (*OrderOutput, error) {
		key, err := orderKey(ctx, input.ID)
		if err != nil {
			return nil, err
		}

		m := input.Body.Orders
		if m == nil {
			m = domain.OrderMap{}
		}
		if err := validateOrder(m); err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}

		if err := orders.Save(ctx, key, m); err != nil {
			return nil, huma.Error500InternalServerError("failed to save board order", err)
		}
		return &OrderOutput{Body: OrderBody{Orders: m}}, nil
	})
}

func orderKey(ctx context.Context, boardID string) (string, error) {
	owner, ok := middleware.OwnerFromContext(ctx)
	if !ok {
		return "", huma.Error401Unauthorized("Unauthorized")
	}
	return owner + ":" + order.StorageKey(boardID), nil
}

// validateOrder rejects maps that list a task in more than one place.
func validateOrder(m domain.OrderMap) error {
	seen := make(map[string]string)
	for column, ids := range m {
		for _, id := range ids {
			if id == "" {
				return fmt.Errorf("column %q lists an empty task id", column)
			}
			if prev, dup := seen[id]; dup {
				if prev == column {
					return fmt.Errorf("task %q is listed twice in %q", id, column)
				}
				return fmt.Errorf("task %q is listed in both %q and %q", id, prev, column)
			}
			seen[id] = column
		}
	}
	return nil
}
