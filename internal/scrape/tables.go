package scrape

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxColspan = 64

// Table is one HTML table flattened to a header row and text cells.
// Every row has exactly len(Headers) cells.
type Table struct {
	Index   int        `json:"index"`
	ID      string     `json:"id,omitempty"`
	Caption string     `json:"caption,omitempty"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// ExtractTables returns every non-empty table in body in document order.
// Nested tables are extracted on their own and do not leak rows into their parent.
func ExtractTables(body []byte) ([]Table, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	tables := make([]Table, 0)
	doc.Find("table").Each(func(_ int, sel *goquery.Selection) {
		if t, ok := extractTable(sel); ok {
			t.Index = len(tables)
			tables = append(tables, t)
		}
	})
	return tables, nil
}

func extractTable(sel *goquery.Selection) (Table, bool) {
	rows := sel.ChildrenFiltered("thead, tbody, tfoot").ChildrenFiltered("tr").
		AddSelection(sel.ChildrenFiltered("tr"))

	var (
		headers []string
		data    [][]string
	)
	rows.Each(func(i int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("th, td")
		values := cellValues(cells)
		if len(values) == 0 {
			return
		}
		inHead := row.ParentFiltered("thead").Length() > 0
		allTH := cells.Length() == cells.Filter("th").Length()
		if headers == nil && (inHead || (i == 0 && allTH)) {
			headers = values
			return
		}
		if inHead {
			return
		}
		data = append(data, values)
	})
	if len(data) == 0 {
		return Table{}, false
	}

	width := len(headers)
	for _, r := range data {
		width = max(width, len(r))
	}
	for i, r := range data {
		for len(r) < width {
			r = append(r, "")
		}
		data[i] = r
	}

	id, _ := sel.Attr("id")
	return Table{
		ID:      strings.TrimSpace(id),
		Caption: cleanText(sel.ChildrenFiltered("caption").First().Text()),
		Headers: normalizeHeaders(headers, width),
		Rows:    data,
	}, true
}

func cellValues(cells *goquery.Selection) []string {
	var out []string
	cells.Each(func(_ int, cell *goquery.Selection) {
		text := cleanText(cell.Text())
		span := 1
		if raw, ok := cell.Attr("colspan"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 1 {
				span = min(n, maxColspan)
			}
		}
		for range span {
			out = append(out, text)
		}
	})
	return out
}

// normalizeHeaders pads headers to width and makes every name non-empty and unique.
func normalizeHeaders(headers []string, width int) []string {
	out := make([]string, width)
	seen := make(map[string]int, width)
	for i := range width {
		name := ""
		if i < len(headers) {
			name = headers[i]
		}
		if name == "" {
			name = "col_" + strconv.Itoa(i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = name + "_" + strconv.Itoa(n)
		}
		out[i] = name
	}
	return out
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
