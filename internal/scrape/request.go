package scrape

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Request is the configuration file handed to the worker binary.
type Request struct {
	JobID          string `json:"jobId"`
	Source         string `json:"source"`
	OutputName     string `json:"outputName"`
	OutputPath     string `json:"outputPath"`
	UserAgent      string `json:"userAgent"`
	Render         bool   `json:"render"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// Validate checks the fields the worker cannot run without.
func (r Request) Validate() error {
	switch {
	case r.Source == "":
		return errors.New("source is required")
	case r.OutputPath == "":
		return errors.New("outputPath is required")
	case r.TimeoutSeconds < 0:
		return errors.New("timeoutSeconds must be >= 0")
	}
	return nil
}

// Timeout converts TimeoutSeconds, defaulting to one minute.
func (r Request) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// WriteRequest serializes r to path with owner-only permissions.
func WriteRequest(path string, r Request) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scrape request: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write scrape request: %w", err)
	}
	return nil
}

// ReadRequest loads and validates a request file.
func ReadRequest(path string) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Request{}, fmt.Errorf("read scrape request: %w", err)
	}
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("decode scrape request: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Request{}, fmt.Errorf("invalid scrape request: %w", err)
	}
	return r, nil
}
