package llm

import (
	"net/http"
	"time"

	"github.com/MimeLyc/book-translator/internal/errs"
)

const defaultRetryBackoff = time.Second

// Config describes an OpenAI-compatible chat completions endpoint, e.g.
// OpenRouter, OpenAI or a local vLLM or Ollama gateway.
type Config struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	// Timeout bounds one HTTP attempt, in seconds.
	Timeout int    `json:"timeout"`
	SiteURL string `json:"site_url"`
	AppName string `json:"app_name"`
	// MaxRetries is how many times a rate limited or 5xx call is repeated.
	MaxRetries   int           `json:"max_retries"`
	RetryBackoff time.Duration `json:"retry_backoff"`
}

func (c *Config) Validate() error {
	switch {
	case c.APIKey == "":
		return errs.New(errs.KindConfig, "LLM API key is required")
	case c.APIURL == "":
		return errs.New(errs.KindConfig, "LLM API URL is required")
	case c.Model == "":
		return errs.New(errs.KindConfig, "LLM model is required")
	case c.MaxTokens < 1:
		return errs.New(errs.KindConfig, "LLM max tokens must be greater than 0")
	case c.Temperature < 0 || c.Temperature > 2:
		return errs.New(errs.KindConfig, "LLM temperature must be between 0 and 2")
	case c.Timeout < 1:
		return errs.New(errs.KindConfig, "LLM timeout must be greater than 0")
	case c.MaxRetries < 0:
		return errs.New(errs.KindConfig, "LLM max retries must not be negative")
	}
	return nil
}

// WithModel returns a copy targeting another model on the same endpoint.
func (c Config) WithModel(model string) *Config {
	c.Model = model
	return &c
}

func (c *Config) setHeaders(h http.Header) {
	h.Set("Authorization", "Bearer "+c.APIKey)
	h.Set("Content-Type", "application/json")
	if c.SiteURL != "" {
		h.Set("HTTP-Referer", c.SiteURL)
	}
	if c.AppName != "" {
		h.Set("X-Title", c.AppName)
	}
}

func (c *Config) backoff() time.Duration {
	if c.RetryBackoff > 0 {
		return c.RetryBackoff
	}
	return defaultRetryBackoff
}
