package importer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Leads": {
			{"First Name", "Last Name", "Title", "Company", "Domain"},
			{"Jane", "Doe", "CEO", "Acme", "acme.com"},
			{"Bob", "Smith", "CFO", "Widgets", "widgets.io"},
		},
	})

	leads, err := ReadXLSX(path, "")
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "Jane", leads[0].FirstName)
	assert.Equal(t, "acme.com", leads[0].CompanyDomain)
	assert.Equal(t, "Widgets", leads[1].CompanyName)
}

func TestReadXLSXNamedSheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Ignore": {{"Email"}, {"wrong@x.com"}},
		"Import": {{"Email"}, {"right@x.com"}},
	})

	leads, err := ReadXLSX(path, "Import")
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "right@x.com", leads[0].Email)
}

func TestReadXLSXMissingSheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Leads": {{"Email"}, {"a@x.com"}},
	})

	_, err := ReadXLSX(path, "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadXLSXMissingFile(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "missing.xlsx"), "")
	require.Error(t, err)
}
