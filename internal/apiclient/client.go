// Package apiclient talks to the classroom HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aura-classroom/backend/internal/models"
)

// Client calls the classroom API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for baseURL (e.g. http://localhost:8080).
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Unwrap maps the status onto the domain sentinels so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return models.ErrValidation
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusConflict:
		return models.ErrInvalidState
	case http.StatusBadGateway:
		return models.ErrChannel
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// Get fetches a recording. It satisfies recordings.Getter.
func (c *Client) Get(ctx context.Context, id string) (models.Recording, error) {
	var rec models.Recording
	err := c.do(ctx, http.MethodGet, "/recordings/"+url.PathEscape(id), nil, &rec)
	return rec, err
}

// ListRecordings lists the recordings of a course, or all when courseID is empty.
func (c *Client) ListRecordings(ctx context.Context, courseID string) ([]models.Recording, error) {
	path := "/recordings"
	if courseID != "" {
		path = "/courses/" + url.PathEscape(courseID) + "/recordings"
	}
	var list []models.Recording
	err := c.do(ctx, http.MethodGet, path, nil, &list)
	return list, err
}

// StartSession starts a live session for a course.
func (c *Client) StartSession(ctx context.Context, courseID, title string) (models.Session, error) {
	var sess models.Session
	err := c.do(ctx, http.MethodPost, "/courses/"+url.PathEscape(courseID)+"/sessions", map[string]string{"title": title}, &sess)
	return sess, err
}

// SubmitAction submits a classroom action to a live session.
func (c *Client) SubmitAction(ctx context.Context, sessionID string, typ models.EventType, payload json.RawMessage) (models.SessionEvent, error) {
	var ev models.SessionEvent
	body := map[string]any{"type": typ}
	if len(payload) > 0 {
		body["payload"] = payload
	}
	err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/actions", body, &ev)
	return ev, err
}

// EndResult is the outcome of ending a session.
type EndResult struct {
	Session   models.Session    `json:"session"`
	Recording *models.Recording `json:"recording"`
}

// EndSession ends a live session.
func (c *Client) EndSession(ctx context.Context, sessionID string) (EndResult, error) {
	var res EndResult
	err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/end", nil, &res)
	return res, err
}

// SessionEvents returns the event log of a session.
func (c *Client) SessionEvents(ctx context.Context, sessionID string) ([]models.SessionEvent, error) {
	var events []models.SessionEvent
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/events", nil, &events)
	return events, err
}
