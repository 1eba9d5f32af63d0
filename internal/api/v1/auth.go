package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/collaboard/internal/server/middleware"
	"github.com/gosuda/collaboard/internal/upstream"
)

// CookieConfig controls the session cookie issued on sign-in.
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

type SigninInput struct {
	Body struct {
		Login    string `json:"login" minLength:"1" maxLength:"255" doc:"Login name"`
		Password string `json:"password" minLength:"1" maxLength:"128" doc:"Password"` //nolint:gosec // G117: login credential DTO
	}
}

type SigninOutput struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      SuccessBody
}

type SignupInput struct {
	Body struct {
		Login    string `json:"login" minLength:"1" maxLength:"255" doc:"Login name"`
		Password string `json:"password" minLength:"1" maxLength:"128" doc:"Password"` //nolint:gosec // G117: signup credential DTO
		Email    string `json:"email" minLength:"3" maxLength:"255" doc:"User email"`
		Name     string `json:"name" minLength:"1" maxLength:"255" doc:"Display name"`
	}
}

type SignupOutput struct {
	Body SuccessBody
}

type SignoutOutput struct {
	SetCookie http.Cookie `header:"Set-Cookie"`
	Body      SuccessBody
}

type TokenOutput struct {
	Body struct {
		Token string `json:"token" doc:"Bearer token for the push channel"`
	}
}

type SuccessBody struct {
	Success bool `json:"success"`
}

// RegisterAuthRoutes mounts the unauthenticated sign-in routes.
func RegisterAuthRoutes(api huma.API, up Upstream, cookie CookieConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "signin",
		Method:      http.MethodPost,
		Path:        "/auth/signin",
		Summary:     "Sign in and set the session cookie",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *SigninInput) (*SigninOutput, error) {
		var session struct {
			AccessToken string `json:"accessToken"` //nolint:gosec // G117: upstream auth response
		}
		err := call(ctx, up, upstream.Request{
			Method: http.MethodPost,
			Path:   "/auth/signin",
			Body:   input.Body,
		}, "Login failed", &session)
		if err != nil {
			return nil, err
		}
		if session.AccessToken == "" {
			return nil, huma.Error502BadGateway("Login failed: backend returned no token")
		}

		out := &SigninOutput{}
		out.SetCookie = sessionCookie(session.AccessToken, cookie)
		out.Body.Success = true
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "signup",
		Method:      http.MethodPost,
		Path:        "/auth/signup",
		Summary:     "Register a new account",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *SignupInput) (*SignupOutput, error) {
		err := call(ctx, up, upstream.Request{
			Method: http.MethodPost,
			Path:   "/auth/signup",
			Body:   input.Body,
		}, "Registration failed", nil)
		if err != nil {
			return nil, err
		}

		out := &SignupOutput{}
		out.Body.Success = true
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "signout",
		Method:      http.MethodPost,
		Path:        "/auth/signout",
		Summary:     "Clear the session cookie",
		Tags:        []string{"Auth"},
	}, func(_ context.Context, _ *struct{}) (*SignoutOutput, error) {
		out := &SignoutOutput{}
		out.SetCookie = sessionCookie("", cookie)
		out.SetCookie.MaxAge = -1
		out.Body.Success = true
		return out, nil
	})
}

// RegisterSessionRoutes mounts routes that read the established session.
func RegisterSessionRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-token",
		Method:      http.MethodGet,
		Path:        "/auth/token",
		Summary:     "Return the session token for the push channel",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, _ *struct{}) (*TokenOutput, error) {
		token, ok := middleware.TokenFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("No token found")
		}

		out := &TokenOutput{}
		out.Body.Token = token
		return out, nil
	})
}

func sessionCookie(value string, cfg CookieConfig) http.Cookie {
	return http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(cfg.MaxAge.Seconds()),
	}
}
