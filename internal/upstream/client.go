// Package upstream talks to the backend that owns boards, tasks, groups and
// users. The server forwards browser requests through it, swapping the
// session cookie for a bearer token.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/collaboard/internal/domain"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	cacheControl        = "no-store, must-revalidate"
	maxResponseBytes    = 10 << 20
)

// Request is one call to the backend. Body is sent as JSON; a json.RawMessage
// or []byte is sent verbatim.
type Request struct {
	Method        string
	Path          string
	Query         url.Values
	Token         string
	Body          any
	CorrelationID string
}

// Response is the backend's reply. Non-2xx statuses are not errors; callers
// reshape them with ErrorMessage.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("upstream.Response.Decode: %w", err)
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Do sends req and reads the whole response. Transport failures wrap
// domain.ErrUpstream.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	switch b := req.Body.(type) {
	case nil:
	case json.RawMessage:
		body = bytes.NewReader(b)
	case []byte:
		body = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("upstream.Client.Do: marshal body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("upstream.Client.Do: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Cache-Control", cacheControl)
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.CorrelationID != "" {
		httpReq.Header.Set(HeaderCorrelationID, req.CorrelationID)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream.Client.Do: %s %s: %w", req.Method, req.Path, errors.Join(domain.ErrUpstream, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("upstream.Client.Do: read body: %w", errors.Join(domain.ErrUpstream, err))
	}

	log.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("upstream: request")

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// ErrorMessage extracts the backend's "error" (or "message") field, falling
// back to fallback when the body carries neither. Problem documents are read
// by their "detail" field.
func ErrorMessage(body []byte, fallback string) string {
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fallback
	}
	if len(payload.Error) > 0 {
		var s string
		if err := json.Unmarshal(payload.Error, &s); err == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return fallback
}
