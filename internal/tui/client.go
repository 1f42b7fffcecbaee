package tui

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

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/stream"
	"golang.org/x/sync/errgroup"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// Client wraps HTTP calls to the dealdesk API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
	}
}

// do sends a request and decodes the JSON answer into out. It reports
// false when the daemon answered 204, meaning the request changed nothing.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (bool, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return false, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Board fetches stages and deals concurrently.
func (c *Client) Board(ctx context.Context) ([]models.Stage, []models.Deal, error) {
	var (
		stages []models.Stage
		deals  []models.Deal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.do(gctx, http.MethodGet, "/stages", nil, &stages)
		return err
	})
	g.Go(func() error {
		_, err := c.do(gctx, http.MethodGet, "/deals", nil, &deals)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return stages, deals, nil
}

// Activity fetches a deal's messages and tasks concurrently and merges them.
func (c *Client) Activity(ctx context.Context, dealID string) ([]stream.Entry, error) {
	var (
		messages []models.Message
		tasks    []models.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.do(gctx, http.MethodGet, "/deals/"+url.PathEscape(dealID)+"/messages", nil, &messages)
		return err
	})
	g.Go(func() error {
		_, err := c.do(gctx, http.MethodGet, "/tasks?deal_id="+url.QueryEscape(dealID), nil, &tasks)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stream.Compose(messages, tasks).Entries(), nil
}

// Submit sends one input block for a deal. A nil result means nothing was created.
func (c *Client) Submit(ctx context.Context, dealID, text string) (*SubmitResult, error) {
	var res SubmitResult
	ok, err := c.do(ctx, http.MethodPost, "/deals/"+url.PathEscape(dealID)+"/input", map[string]string{"text": text}, &res)
	if err != nil || !ok {
		return nil, err
	}
	return &res, nil
}

// MoveDeal assigns a deal to a stage.
func (c *Client) MoveDeal(ctx context.Context, dealID, stageID string) error {
	_, err := c.do(ctx, http.MethodPost, "/deals/"+url.PathEscape(dealID)+"/move", map[string]string{"stage_id": stageID}, nil)
	return err
}

// ToggleDone completes or reopens a task.
func (c *Client) ToggleDone(ctx context.Context, taskID, comment string) error {
	return c.taskAction(ctx, taskID, "done", map[string]string{"comment": comment})
}

// SetInProgress flips a task's in-progress flag.
func (c *Client) SetInProgress(ctx context.Context, taskID string) error {
	return c.taskAction(ctx, taskID, "progress", nil)
}

// ToggleSubtask flips one checklist item.
func (c *Client) ToggleSubtask(ctx context.Context, taskID string, index int) error {
	return c.taskAction(ctx, taskID, "subtask", map[string]int{"index": index})
}

func (c *Client) taskAction(ctx context.Context, taskID, action string, body any) error {
	_, err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/"+action, body, nil)
	return err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(taskID), nil, nil)
	return err
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
	return err
}

// Preferences loads display preferences.
func (c *Client) Preferences(ctx context.Context) (models.Preferences, error) {
	var p models.Preferences
	_, err := c.do(ctx, http.MethodGet, "/prefs", nil, &p)
	return p, err
}

// SavePreferences stores display preferences and returns what was saved.
func (c *Client) SavePreferences(ctx context.Context, p models.Preferences) (models.Preferences, error) {
	var out models.Preferences
	_, err := c.do(ctx, http.MethodPut, "/prefs", p, &out)
	return out, err
}

// CheckHealth checks if the daemon is healthy.
func (c *Client) CheckHealth(ctx context.Context) (bool, error) {
	var health struct {
		OK bool `json:"ok"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return false, err
	}
	return health.OK, nil
}
