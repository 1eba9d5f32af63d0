// Package client is the command-line side of the Collaboard server API. It
// supplies the board view model with boards, task patches, synced orders and
// the push channel token.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gosuda/collaboard/internal/domain"
	"github.com/gosuda/collaboard/internal/order"
	"github.com/gosuda/collaboard/internal/server/middleware"
	"github.com/gosuda/collaboard/internal/upstream"
)

// Client calls a Collaboard server on behalf of one signed-in user.
type Client struct {
	serverURL string
	api       *upstream.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for the server at serverURL, e.g. http://localhost:8080.
func New(serverURL string, timeout time.Duration) *Client {
	serverURL = strings.TrimRight(serverURL, "/")
	return &Client{
		serverURL: serverURL,
		api:       upstream.New(serverURL+"/api", timeout),
	}
}

// SetToken installs a previously saved session token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// PushURL is the WebSocket endpoint of the server.
func (c *Client) PushURL() string {
	u := c.serverURL + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

// Login signs in and keeps the session token the server sets as a cookie.
func (c *Client) Login(ctx context.Context, login, password string) (string, error) {
	resp, err := c.api.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   "/auth/signin",
		Body:   map[string]string{"login": login, "password": password},
	})
	if err != nil {
		return "", fmt.Errorf("client.Login: %w", err)
	}
	if err := check(resp, "Login failed"); err != nil {
		return "", fmt.Errorf("client.Login: %w", err)
	}

	for _, ck := range (&http.Response{Header: resp.Header}).Cookies() {
		if ck.Name == middleware.SessionCookie && ck.Value != "" {
			c.SetToken(ck.Value)
			return ck.Value, nil
		}
	}
	return "", fmt.Errorf("client.Login: server set no session cookie: %w", domain.ErrUnauthorized)
}

// Token asks the server for the push channel token of the current session.
// It satisfies realtime.TokenSource.
func (c *Client) Token(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, upstream.Request{Method: http.MethodGet, Path: "/auth/token"}, "Failed to get token", &out); err != nil {
		return "", fmt.Errorf("client.Token: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("client.Token: %w", domain.ErrUnauthorized)
	}
	return out.Token, nil
}

func (c *Client) ListBoards(ctx context.Context) ([]domain.Board, error) {
	var boards []domain.Board
	if err := c.call(ctx, upstream.Request{Method: http.MethodGet, Path: "/boards"}, "Failed to fetch boards", &boards); err != nil {
		return nil, fmt.Errorf("client.ListBoards: %w", err)
	}
	return boards, nil
}

func (c *Client) GetBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	board := &domain.Board{}
	err := c.call(ctx, upstream.Request{
		Method: http.MethodGet,
		Path:   "/boards/" + url.PathEscape(boardID),
	}, "Failed to fetch board", board)
	if err != nil {
		return nil, fmt.Errorf("client.GetBoard: %w", err)
	}
	return board, nil
}

// PatchTask sends a partial update tagged with correlationID.
func (c *Client) PatchTask(ctx context.Context, taskID string, patch domain.TaskPatch, correlationID string) (*domain.Task, error) {
	task := &domain.Task{}
	err := c.call(ctx, upstream.Request{
		Method:        http.MethodPatch,
		Path:          "/tasks/" + url.PathEscape(taskID),
		Body:          patch,
		CorrelationID: correlationID,
	}, "Failed to update task", task)
	if err != nil {
		return nil, fmt.Errorf("client.PatchTask: %w", err)
	}
	return task, nil
}

// Orders returns an order.Backend that syncs through the server, so a user's
// column arrangement follows them across machines.
func (c *Client) Orders() *RemoteOrders {
	return &RemoteOrders{c: c}
}

func (c *Client) call(ctx context.Context, req upstream.Request, fallback string, out any) error {
	req.Token = c.session()
	if req.Token == "" {
		return domain.ErrUnauthorized
	}
	resp, err := c.api.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := check(resp, fallback); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// check maps a non-2xx status to a domain sentinel carrying the server's
// message.
func check(resp *upstream.Response, fallback string) error {
	if resp.OK() {
		return nil
	}
	msg := upstream.ErrorMessage(resp.Body, fallback)
	switch resp.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, domain.ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	default:
		return fmt.Errorf("%s (status %d): %w", msg, resp.Status, domain.ErrUpstream)
	}
}

// RemoteOrders stores order maps under /api/boards/{id}/order.
type RemoteOrders struct {
	c *Client
}

var errForeignKey = errors.New("client: not a board order key")

func boardIDFromKey(key string) (string, error) {
	id, ok := strings.CutPrefix(key, order.StorageKey(""))
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %q", errForeignKey, key)
	}
	return id, nil
}

func (r *RemoteOrders) Load(ctx context.Context, key string) (domain.OrderMap, error) {
	boardID, err := boardIDFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("client.RemoteOrders.Load: %w", err)
	}

	var out struct {
		Orders domain.OrderMap `json:"orders"`
	}
	err = r.c.call(ctx, upstream.Request{
		Method: http.MethodGet,
		Path:   "/boards/" + url.PathEscape(boardID) + "/order",
	}, "Failed to load order", &out)
	if err != nil {
		return nil, fmt.Errorf("client.RemoteOrders.Load: %w", err)
	}
	if out.Orders == nil {
		out.Orders = domain.OrderMap{}
	}
	return out.Orders, nil
}

func (r *RemoteOrders) Save(ctx context.Context, key string, m domain.OrderMap) error {
	boardID, err := boardIDFromKey(key)
	if err != nil {
		return fmt.Errorf("client.RemoteOrders.Save: %w", err)
	}
	if m == nil {
		m = domain.OrderMap{}
	}

	err = r.c.call(ctx, upstream.Request{
		Method: http.MethodPut,
		Path:   "/boards/" + url.PathEscape(boardID) + "/order",
		Body:   map[string]domain.OrderMap{"orders": m},
	}, "Failed to save order", nil)
	if err != nil {
		return fmt.Errorf("client.RemoteOrders.Save: %w", err)
	}
	return nil
}
