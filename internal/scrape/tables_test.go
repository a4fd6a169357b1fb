package scrape

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const standingsHTML = `<html><body>
<table id="standings">
  <caption> Group  A </caption>
  <thead><tr><th>Team</th><th>Played</th><th></th><th>Team</th></tr></thead>
  <tbody>
    <tr><td>Alpha</td><td>3</td><td>W</td><td>x</td></tr>
    <tr><td>Bravo</td><td colspan="2">n/a</td></tr>
  </tbody>
</table>
<table><tr><th>only header</th></tr></table>
<table>
  <tr><td>k</td><td>
    <table><tr><td>inner</td></tr></table>
  </td></tr>
</table>
</body></html>`

func TestExtractTables(t *testing.T) {
	t.Parallel()

	tables, err := ExtractTables([]byte(standingsHTML))
	require.NoError(t, err)
	require.Len(t, tables, 3)

	first := tables[0]
	require.Equal(t, 0, first.Index)
	require.Equal(t, "standings", first.ID)
	require.Equal(t, "Group A", first.Caption)
	require.Equal(t, []string{"Team", "Played", "col_3", "Team_2"}, first.Headers)
	require.Equal(t, [][]string{
		{"Alpha", "3", "W", "x"},
		{"Bravo", "n/a", "n/a", ""},
	}, first.Rows)

	outer := tables[1]
	require.Equal(t, 1, outer.Index)
	require.Equal(t, []string{"col_1", "col_2"}, outer.Headers)
	require.Len(t, outer.Rows, 1)
	require.Equal(t, "k", outer.Rows[0][0])

	inner := tables[2]
	require.Equal(t, [][]string{{"inner"}}, inner.Rows)
}

func TestExtractTablesHeaderFromFirstRow(t *testing.T) {
	t.Parallel()

	tables, err := ExtractTables([]byte(`<table>
		<tr><th>Player</th><th>Rating</th></tr>
		<tr><td>ana</td><td>1.21</td></tr>
		<tr><th>bob</th><td>0.98</td></tr>
	</table>`))
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Equal(t, []string{"Player", "Rating"}, tables[0].Headers)
	require.Equal(t, [][]string{{"ana", "1.21"}, {"bob", "0.98"}}, tables[0].Rows)
}

func TestExtractTablesEmptyDocument(t *testing.T) {
	t.Parallel()

	tables, err := ExtractTables([]byte("<p>no data</p>"))
	require.NoError(t, err)
	require.NotNil(t, tables)
	require.Empty(t, tables)
}
