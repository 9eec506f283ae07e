// Package importer reads lead lists from CSV and XLSX files and writes
// result exports.
package importer

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/model"
)

// headerAliases maps the column spellings seen in the wild onto lead fields.
var headerAliases = map[string]string{
	"id":             "id",
	"lead id":        "id",
	"email":          "email",
	"email address":  "email",
	"work email":     "email",
	"linkedin":       "linkedin",
	"linkedin url":   "linkedin",
	"first name":     "first_name",
	"firstname":      "first_name",
	"last name":      "last_name",
	"lastname":       "last_name",
	"title":          "title",
	"job title":      "title",
	"company":        "company_name",
	"company name":   "company_name",
	"organization":   "company_name",
	"domain":         "company_domain",
	"company domain": "company_domain",
	"website":        "company_domain",
	"company url":    "company_domain",
}

// ReadCSV reads a lead list from a CSV file. The first row is the header.
func ReadCSV(path string) ([]model.Lead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "importer: read csv")
	}

	return ParseRows(records)
}

// ParseRows converts raw header-plus-data rows into leads. Column names are
// matched case-insensitively through the alias table; unrecognized columns
// are ignored. Rows with no usable field are dropped.
func ParseRows(rows [][]string) ([]model.Lead, error) {
	if len(rows) < 2 {
		return nil, eris.New("importer: no data rows")
	}

	fieldIdx := make(map[string]int)
	for i, col := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(col, "_", " ")))
		if field, ok := headerAliases[key]; ok {
			if _, dup := fieldIdx[field]; !dup {
				fieldIdx[field] = i
			}
		}
	}
	if len(fieldIdx) == 0 {
		return nil, eris.New("importer: no recognized columns in header")
	}

	var leads []model.Lead
	for _, row := range rows[1:] {
		lead := model.Lead{
			ID:            cell(row, fieldIdx, "id"),
			Email:         cell(row, fieldIdx, "email"),
			LinkedInURL:   cell(row, fieldIdx, "linkedin"),
			FirstName:     cell(row, fieldIdx, "first_name"),
			LastName:      cell(row, fieldIdx, "last_name"),
			Title:         cell(row, fieldIdx, "title"),
			CompanyName:   cell(row, fieldIdx, "company_name"),
			CompanyDomain: cell(row, fieldIdx, "company_domain"),
		}
		if emptyLead(lead) {
			continue
		}
		leads = append(leads, lead)
	}
	if len(leads) == 0 {
		return nil, eris.New("importer: no usable leads")
	}
	return leads, nil
}

func emptyLead(l model.Lead) bool {
	return l.ID == "" && l.Email == "" && l.LinkedInURL == "" &&
		l.FirstName == "" && l.LastName == "" && l.Title == "" &&
		l.CompanyName == "" && l.CompanyDomain == ""
}

func cell(row []string, fieldIdx map[string]int, field string) string {
	idx, ok := fieldIdx[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
