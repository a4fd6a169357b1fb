package scrape

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Raw is the artifact the worker binary writes to Request.OutputPath and the
// converter reads back.
type Raw struct {
	JobID      string    `json:"jobId"`
	Source     string    `json:"source"`
	OutputName string    `json:"outputName"`
	FinalURL   string    `json:"finalUrl"`
	StatusCode int       `json:"statusCode"`
	Rendered   bool      `json:"rendered"`
	FetchedAt  time.Time `json:"fetchedAt"`
	Tables     []Table   `json:"tables"`
}

// Items counts data rows across all tables.
func (r Raw) Items() int {
	n := 0
	for _, t := range r.Tables {
		n += len(t.Rows)
	}
	return n
}

// WriteRaw writes raw to path through a temp file so a killed worker never
// leaves a truncated artifact behind.
func WriteRaw(path string, raw Raw) error {
	if raw.Tables == nil {
		raw.Tables = []Table{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal raw artifact: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".raw-*")
	if err != nil {
		return fmt.Errorf("create raw artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write raw artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close raw artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish raw artifact: %w", err)
	}
	return nil
}

// ReadRaw loads a raw artifact.
func ReadRaw(path string) (Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Raw{}, fmt.Errorf("read raw artifact: %w", err)
	}
	var raw Raw
	if err := json.Unmarshal(data, &raw); err != nil {
		return Raw{}, fmt.Errorf("decode raw artifact: %w", err)
	}
	return raw, nil
}
