package openai

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

type Config struct {
	APIKey                string
	APIHost               string
	Model                 string
	Timeout               time.Duration
	MaxRetries            int
	RetryDelay            time.Duration
	MaxTokens             int
	Temperature           float64
	MaxConcurrentRequests int
	RateLimit             int
	RateUnit              time.Duration
}

// DefaultConfig returns every default except the mandatory API key.
func DefaultConfig() Config {
	return Config{
		APIHost:               "https://api.openai.com/v1",
		Model:                 "gpt-3.5-turbo",
		Timeout:               30 * time.Second,
		MaxRetries:            3,
		RetryDelay:            time.Second,
		MaxTokens:             2048,
		Temperature:           0.7,
		MaxConcurrentRequests: 10,
		RateLimit:             60,
		RateUnit:              time.Minute,
	}
}

// WithDefaults fills unset fields. MaxRetries and Temperature keep their
// zero values since both are meaningful.
func (c Config) WithDefaults() Config {
	out := c
	def := DefaultConfig()
	if strings.TrimSpace(out.APIHost) == "" {
		out.APIHost = def.APIHost
	}
	if strings.TrimSpace(out.Model) == "" {
		out.Model = def.Model
	}
	if out.Timeout == 0 {
		out.Timeout = def.Timeout
	}
	if out.RetryDelay == 0 {
		out.RetryDelay = def.RetryDelay
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = def.MaxTokens
	}
	if out.MaxConcurrentRequests == 0 {
		out.MaxConcurrentRequests = def.MaxConcurrentRequests
	}
	if out.RateLimit == 0 {
		out.RateLimit = def.RateLimit
	}
	if out.RateUnit == 0 {
		out.RateUnit = def.RateUnit
	}
	out.APIHost = strings.TrimRight(out.APIHost, "/")
	return out
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, errors.New("api key is required"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.RetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("retry delay must be positive, got %s", c.RetryDelay))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %v", c.Temperature))
	}
	if c.MaxConcurrentRequests <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent requests must be positive, got %d", c.MaxConcurrentRequests))
	}
	if c.RateLimit <= 0 || c.RateUnit <= 0 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got %d per %s", c.RateLimit, c.RateUnit))
	}
	if len(errs) > 0 {
		return domain.WrapError(domain.ErrInvalidRequest, "openai config", errors.Join(errs...))
	}
	return nil
}
