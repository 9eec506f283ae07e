package importer

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/model"
)

// exportColumns defines the ordered output columns.
var exportColumns = []string{
	"ID",
	"First Name",
	"Last Name",
	"Title",
	"Title Category",
	"Company Name",
	"Company Domain",
	"Industry",
	"Employee Count",
	"Annual Revenue",
	"Email",
	"Email Status",
	"LinkedIn URL",
	"Tag",
}

// ExportCSV writes the run's leads, enriched attributes included, to a CSV
// file. Tagged leads are written too; the Tag column carries the exclusion
// reason, so a cancelled or failed run still yields everything learned so far.
func ExportCSV(path string, leads []model.Lead) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "importer: create export file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(exportColumns); err != nil {
		return eris.Wrap(err, "importer: write export header")
	}

	for i := range leads {
		if err := w.Write(exportRow(&leads[i])); err != nil {
			return eris.Wrap(err, "importer: write export row")
		}
	}

	w.Flush()
	return eris.Wrap(w.Error(), "importer: flush export")
}

// ActiveOnly returns only the untagged leads.
func ActiveOnly(leads []model.Lead) []model.Lead {
	var out []model.Lead
	for i := range leads {
		if leads[i].Active() {
			out = append(out, leads[i])
		}
	}
	return out
}

func exportRow(lead *model.Lead) []string {
	email := lead.Email
	if email == "" {
		email = lead.StringAttr("email")
	}

	return []string{
		lead.ID,
		lead.FirstName,
		lead.LastName,
		lead.Title,
		lead.StringAttr("titleCategory"),
		lead.CompanyName,
		lead.CompanyDomain,
		lead.StringAttr("industry"),
		attrNum(lead, "employeeCount", "%.0f"),
		attrNum(lead, "annualRevenue", "%.0f"),
		email,
		lead.StringAttr("emailStatus"),
		lead.LinkedInURL,
		lead.Tag,
	}
}

func attrNum(lead *model.Lead, key, format string) string {
	n, ok := lead.NumberAttr(key)
	if !ok {
		return ""
	}
	return fmt.Sprintf(format, n)
}
