package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/convosync/internal/retry"
)

// ErrRunTimeout is returned when a run does not reach a terminal status
// within the polling budget.
var ErrRunTimeout = errors.New("run polling timed out")

const defaultRequestTimeout = 30 * time.Second

// Client is a minimal OpenAI Assistants API client covering the thread
// mirroring surface: create thread, post message, start run, poll run.
// Requests are throttled by a process-wide limiter so webhook bursts do not
// trip the upstream rate limits.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
}

// NewClient creates a client for the given API base URL and key.
func NewClient(baseURL, apiKey string, requestsPerSecond float64) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Thread is a remote conversational session.
type Thread struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Run is one execution of an assistant over a thread.
type Run struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// CreateThread creates a new thread and returns its id.
func (c *Client) CreateThread(ctx context.Context, metadata map[string]string) (string, error) {
	body := map[string]any{}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}

	var thread Thread
	if err := c.do(ctx, http.MethodPost, "/threads", body, &thread); err != nil {
		return "", err
	}
	return thread.ID, nil
}

// AddMessage appends a message to a thread. The Assistants API only accepts
// user and assistant roles on thread messages.
func (c *Client) AddMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]any{
		"role":    role,
		"content": content,
	}
	return c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, nil)
}

// CreateRun starts an assistant run over a thread and returns the run id.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (string, error) {
	body := map[string]any{"assistant_id": assistantID}

	var run Run
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body, &run); err != nil {
		return "", err
	}
	return run.ID, nil
}

// GetRun fetches the current status of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// WaitForRun polls a run until it reaches a terminal status or the timeout
// expires. The polling loop is cancellable through ctx.
func (c *Client) WaitForRun(ctx context.Context, threadID, runID string, timeout time.Duration) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last *Run
	result := retry.RetryWithBackoff(ctx, retry.PollConfig(), func() error {
		run, err := c.GetRun(ctx, threadID, runID)
		if err != nil {
			return err
		}
		last = run
		switch run.Status {
		case "completed", "failed", "cancelled", "expired":
			return nil
		}
		return fmt.Errorf("run %s still %s", runID, run.Status)
	})

	if !result.Success {
		if errors.Is(result.LastError, context.DeadlineExceeded) || errors.Is(result.LastError, context.Canceled) {
			return last, ErrRunTimeout
		}
		if last != nil {
			return last, ErrRunTimeout
		}
		return nil, result.LastError
	}
	return last, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Error.Message, apiErr.Error.Type)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
