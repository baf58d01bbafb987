package reporting

import (
	"fmt"
	"strings"
	"time"
)

func checkmark(ok bool) string {
	if ok {
		return "pass"
	}

	return "FAIL"
}

// ValidationReport renders the per-table validation artifact
func ValidationReport(table string, totalRows int, missingPK, dataTypesMatch, nullCheckPassed bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Data Validation Results for %s\n", table)
	fmt.Fprintf(&b, "- Total Rows: %d\n", totalRows)
	fmt.Fprintf(&b, "- PK Validation: %s\n", checkmark(!missingPK))
	fmt.Fprintf(&b, "- Data Types: %s\n", checkmark(dataTypesMatch))
	fmt.Fprintf(&b, "- Null Check: %s\n", checkmark(nullCheckPassed))

	return b.String()
}

// QualityReport renders the data-quality artifact for a flagged table
func QualityReport(table string, at time.Time) string {
	var b strings.Builder

	b.WriteString("# Data Quality Report\n")
	fmt.Fprintf(&b, "Table: %s\n", table)
	fmt.Fprintf(&b, "Time: %s\n", at.UTC().Format(time.RFC3339))
	b.WriteString("Status: issues detected\n")

	return b.String()
}

// ValidationKey returns the artifact key for a table's validation report
func ValidationKey(table string) string {
	return "validation-" + table
}

// QualityKey returns the artifact key for a table's quality report
func QualityKey(table string) string {
	return "dq-report-" + table
}
