package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/collaboard/internal/domain"
	"github.com/gosuda/collaboard/internal/upstream"
)

type ListGroupsOutput struct {
	Body []domain.Group
}

type UserOutput struct {
	Body *domain.User
}

// UserPatch is a profile update. Nil fields are left unchanged.
type UserPatch struct {
	Name     *string `json:"name,omitempty" minLength:"1" maxLength:"255"`
	Email    *string `json:"email,omitempty" minLength:"3" maxLength:"255"`
	Avatar   *string `json:"avatar,omitempty"`
	Password *string `json:"password,omitempty" minLength:"1" maxLength:"128"` //nolint:gosec // G117: profile update DTO
}

type UpdateUserInput struct {
	Body UserPatch
}

// RegisterUserRoutes mounts the group listing and the caller's profile.
func RegisterUserRoutes(api huma.API, up Upstream) {
	huma.Register(api, huma.Operation{
		OperationID: "list-groups",
		Method:      http.MethodGet,
		Path:        "/groups",
		Summary:     "List groups the caller belongs to",
		Tags:        []string{"Groups"},
	}, func(ctx context.Context, _ *struct{}) (*ListGroupsOutput, error) {
		groups := make([]domain.Group, 0)
		err := forward(ctx, up, upstream.Request{
			Method: http.MethodGet,
			Path:   "/groups",
		}, "Failed to fetch groups", &groups)
		if err != nil {
			return nil, err
		}
		return &ListGroupsOutput{Body: groups}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/user",
		Summary:     "Get the caller's profile",
		Tags:        []string{"Users"},
	}, func(ctx context.Context, _ *struct{}) (*UserOutput, error) {
		user := &domain.User{}
		err := forward(ctx, up, upstream.Request{
			Method: http.MethodGet,
			Path:   "/user",
		}, "Failed to fetch user", user)
		if err != nil {
			return nil, err
		}
		return &UserOutput{Body: user}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPut,
		Path:        "/user",
		Summary:     "Update the caller's profile",
		Tags:        []string{"Users"},
	}, func(ctx context.Context, input *UpdateUserInput) (*UserOutput, error) {
		user := &domain.User{}
		err := forward(ctx, up, upstream.Request{
			Method: http.MethodPut,
			Path:   "/user",
			Body:   input.Body,
		}, "Failed to update user", user)
		if err != nil {
			return nil, err
		}
		return &UserOutput{Body: user}, nil
	})
}
