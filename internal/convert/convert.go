// Package convert normalizes a raw scrape artifact into one CSV file per
// table and a JSON Lines file with every row of every table.
package convert

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/scrape-queue/internal/scrape"
)

// Row is one line of the JSON Lines artifact.
type Row struct {
	JobID   string            `json:"jobId,omitempty"`
	Source  string            `json:"source"`
	Table   int               `json:"table"`
	Caption string            `json:"caption,omitempty"`
	Row     int               `json:"row"`
	Values  map[string]string `json:"values"`
}

// Result lists the files written, in write order.
type Result struct {
	Files []string
	Rows  int
}

// TableFileName is the CSV artifact name for the table at index.
func TableFileName(name string, index int) string {
	return fmt.Sprintf("%s_table-%d.csv", name, index+1)
}

// RowsFileName is the JSON Lines artifact name.
func RowsFileName(name string) string {
	return name + ".jsonl"
}

// Convert writes the artifacts for raw into outDir using name as the file stem.
func Convert(raw scrape.Raw, outDir, name string) (Result, error) {
	if err := validateName(name); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	var res Result
	for _, t := range raw.Tables {
		path := filepath.Join(outDir, TableFileName(name, t.Index))
		if err := writeCSV(path, t); err != nil {
			return Result{}, err
		}
		res.Files = append(res.Files, path)
	}

	path := filepath.Join(outDir, RowsFileName(name))
	n, err := writeRows(path, raw)
	if err != nil {
		return Result{}, err
	}
	res.Files = append(res.Files, path)
	res.Rows = n
	return res, nil
}

// ConvertFile reads the raw artifact at in and converts it.
func ConvertFile(in, outDir, name string) (Result, error) {
	raw, err := scrape.ReadRaw(in)
	if err != nil {
		return Result{}, err
	}
	return Convert(raw, outDir, name)
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("output name is required")
	case name == "." || name == ".." || strings.ContainsAny(name, `/\`):
		return fmt.Errorf("output name %q must be a plain file stem", name)
	}
	return nil
}

func writeCSV(path string, t scrape.Table) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close csv: %w", cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(t.Headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

func writeRows(path string, raw scrape.Raw) (n int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create jsonl: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close jsonl: %w", cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	for _, t := range raw.Tables {
		for i, cells := range t.Rows {
			values := make(map[string]string, len(t.Headers))
			for c, header := range t.Headers {
				if c < len(cells) {
					values[header] = cells[c]
				}
			}
			row := Row{
				JobID:   raw.JobID,
				Source:  raw.Source,
				Table:   t.Index,
				Caption: t.Caption,
				Row:     i,
				Values:  values,
			}
			if err := enc.Encode(row); err != nil {
				return n, fmt.Errorf("write jsonl row: %w", err)
			}
			n++
		}
	}
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("flush jsonl: %w", err)
	}
	return n, nil
}
