package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/book-translator/pkg/log"
)

const maxErrorBody = 512

// Client talks to one model on an OpenAI-compatible endpoint. Safe for
// concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	endpoint   string
}

func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config:   config,
		endpoint: strings.TrimRight(config.APIURL, "/") + "/chat/completions",
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

func (c *Client) Model() string {
	return c.config.Model
}

// Complete sends a system prompt and one user message. Rate limits, 5xx
// answers and transport failures are retried with exponential backoff,
// honoring Retry-After when the endpoint sends one.
func (c *Client) Complete(ctx context.Context, systemPrompt, prompt string) (*Completion, error) {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	backoff := c.config.backoff()
	for attempt := 0; ; attempt++ {
		resp, wait, err := c.do(ctx, payload)
		if err == nil {
			return resp, nil
		}
		if attempt >= c.config.MaxRetries || !retryable(ctx, err) {
			return nil, err
		}
		if wait <= 0 {
			wait = backoff << attempt
		}
		log.Warn("LLM call to %s failed (attempt %d), retrying in %s: %v", c.config.Model, attempt+1, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// SimpleChat returns the content of the first choice. A truncated answer is
// an error wrapping ErrTruncated.
func (c *Client) SimpleChat(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	resp, err := c.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return "", err
	}
	if resp.FinishReason == "length" {
		return "", fmt.Errorf("model %s: %w", c.config.Model, ErrTruncated)
	}
	return resp.Content, nil
}

// do performs one attempt. The duration is the server requested wait before
// the next attempt, zero when none was given.
func (c *Client) do(ctx context.Context, payload []byte) (*Completion, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create chat request: %w", err)
	}
	c.config.setHeaders(req.Header)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &transportError{err: fmt.Errorf("chat request: %w", err)}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, 0, &transportError{err: fmt.Errorf("read chat response: %w", err)}
	}

	var parsed chatResponse
	parseErr := json.Unmarshal(body, &parsed)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Message: truncate(string(body))}
		if parseErr == nil && parsed.Error != nil {
			apiErr.Message = parsed.Error.Message
			apiErr.Type = parsed.Error.Type
		}
		return nil, retryAfter(httpResp.Header.Get("Retry-After")), apiErr
	}
	if parseErr != nil {
		return nil, 0, fmt.Errorf("parse chat response: %w", parseErr)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, 0, &APIError{StatusCode: httpResp.StatusCode, Message: parsed.Error.Message, Type: parsed.Error.Type}
	}
	if len(parsed.Choices) == 0 {
		return nil, 0, errors.New("no choices in chat response")
	}

	first := parsed.Choices[0]
	log.Debug("LLM %s used %d prompt and %d completion tokens", c.config.Model,
		parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	return &Completion{
		Content:      first.Message.Content,
		FinishReason: first.FinishReason,
		Model:        parsed.Model,
		Usage:        parsed.Usage,
	}, 0, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var te *transportError
	return errors.As(err, &te)
}

// transportError marks network failures and timeouts.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// retryAfter understands the delay-seconds form only.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
