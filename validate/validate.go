// Package validate runs the per-table conformance checks: schema columns,
// categorical vocabularies, date/timestamp formats, and id uniqueness.
// Checks are simple per-column scans; the wide-dataset pipeline does not
// depend on them.
package validate

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"time"

	"cliftool/engine"
	"cliftool/table"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name    string
	Passed  bool
	Details []string
}

// Report aggregates the check results for one table.
type Report struct {
	Table   string
	Results []CheckResult
}

// Passed reports whether every check passed.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Print narrates the report to the log.
func (r *Report) Print() {
	log.Printf("=== %s table checks ===", r.Table)
	for _, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		log.Printf("%s %s", status, res.Name)
		for _, d := range res.Details {
			log.Printf("  %s", d)
		}
	}
}

// Run executes every applicable check for the table. sess may be nil; the
// duplicate-id check then runs in memory instead of through the engine.
func Run(ctx context.Context, sess *engine.Session, t *table.Table, spec *TableSpec) *Report {
	report := &Report{Table: spec.Table}
	if len(spec.BaseColumns) > 0 {
		report.Results = append(report.Results, CheckMissingColumns(t, spec))
	}
	if spec.IDColumn != "" {
		report.Results = append(report.Results, CheckIDDuplicates(ctx, sess, t, spec.IDColumn))
	}
	if len(spec.CategoryColumns) > 0 {
		report.Results = append(report.Results, CheckCategories(t, spec))
	}
	if len(spec.TemporalColumns) > 0 || len(spec.DateColumns) > 0 {
		report.Results = append(report.Results, CheckDateTimeFormat(t, spec))
	}
	return report
}

// CheckMissingColumns compares the table's columns against the standard
// column set, reporting both missing and non-standard columns. Only missing
// columns fail the check.
func CheckMissingColumns(t *table.Table, spec *TableSpec) CheckResult {
	res := CheckResult{Name: "check_missing_columns", Passed: true}
	standard := make(map[string]bool, len(spec.BaseColumns))
	for _, c := range spec.BaseColumns {
		standard[c] = true
		if !t.HasColumn(c) {
			res.Passed = false
			res.Details = append(res.Details, fmt.Sprintf("missing column: %s", c))
		}
	}
	for _, c := range t.ColumnNames() {
		if !standard[c] {
			res.Details = append(res.Details, fmt.Sprintf("non-standard column: %s", c))
		}
	}
	return res
}

// CheckIDDuplicates verifies the id column has no duplicate values. With a
// session, the check runs as a grouped SQL query on a working table;
// otherwise it scans in memory.
func CheckIDDuplicates(ctx context.Context, sess *engine.Session, t *table.Table, idCol string) CheckResult {
	res := CheckResult{Name: "check_id_duplicate", Passed: true}
	if !t.HasColumn(idCol) {
		res.Passed = false
		res.Details = append(res.Details, fmt.Sprintf("missing column: %s", idCol))
		return res
	}

	if sess != nil {
		if err := sess.CreateTableFromRows(ctx, "validate_ids", t); err == nil {
			defer sess.DropTable(ctx, "validate_ids")
			dupes, err := sess.QueryTable(ctx, fmt.Sprintf(
				`SELECT %s, COUNT(*) AS n FROM "validate_ids" GROUP BY 1 HAVING COUNT(*) > 1 ORDER BY n DESC`,
				engine.QuoteIdent(idCol)))
			if err == nil {
				for _, row := range dupes.Rows {
					res.Passed = false
					res.Details = append(res.Details, fmt.Sprintf("duplicate %s: %v (%v rows)", idCol, row[0], row[1]))
				}
				return res
			}
		}
		// Engine path failed; fall through to the in-memory scan.
	}

	idx := t.ColumnIndex(idCol)
	counts := make(map[string]int)
	for _, row := range t.Rows {
		if s, ok := row[idx].(string); ok {
			counts[s]++
		}
	}
	var dupes []string
	for id, n := range counts {
		if n > 1 {
			dupes = append(dupes, fmt.Sprintf("duplicate %s: %s (%d rows)", idCol, id, n))
		}
	}
	if len(dupes) > 0 {
		sort.Strings(dupes)
		res.Passed = false
		res.Details = dupes
	}
	return res
}

// CheckCategories verifies each category column only carries permissible
// values.
func CheckCategories(t *table.Table, spec *TableSpec) CheckResult {
	res := CheckResult{Name: "check_category", Passed: true}
	cols := make([]string, 0, len(spec.CategoryColumns))
	for c := range spec.CategoryColumns {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	for _, col := range cols {
		if !t.HasColumn(col) {
			res.Passed = false
			res.Details = append(res.Details, fmt.Sprintf("missing column: %s", col))
			continue
		}
		permitted := make(map[string]bool, len(spec.CategoryColumns[col]))
		for _, v := range spec.CategoryColumns[col] {
			permitted[v] = true
		}
		var invalid []string
		for _, v := range t.DistinctStrings(col) {
			if !permitted[v] {
				invalid = append(invalid, v)
			}
		}
		if len(invalid) > 0 {
			res.Passed = false
			res.Details = append(res.Details, fmt.Sprintf("invalid values in %s: %v", col, invalid))
		}
	}
	return res
}

// CheckDateTimeFormat verifies temporal columns parse as timestamps and date
// columns match YYYY-MM-DD exactly. NULLs are skipped.
func CheckDateTimeFormat(t *table.Table, spec *TableSpec) CheckResult {
	res := CheckResult{Name: "check_date_time_format", Passed: true}

	for _, col := range spec.TemporalColumns {
		idx := t.ColumnIndex(col)
		if idx < 0 {
			res.Passed = false
			res.Details = append(res.Details, fmt.Sprintf("missing column: %s", col))
			continue
		}
		bad := 0
		for _, row := range t.Rows {
			switch v := row[idx].(type) {
			case nil, time.Time:
			case string:
				if !parseableTimestamp(v) {
					bad++
				}
			default:
				bad++
			}
		}
		if bad > 0 {
			res.Passed = false
			res.Details = append(res.Details, fmt.Sprintf("%s: %d values not parsable as timestamps", col, bad))
		}
	}

	for _, col := range spec.DateColumns {
		idx := t.ColumnIndex(col)
		if idx < 0 {
			res.Passed = false
			res.Details = append(res.Details, fmt.Sprintf("missing column: %s", col))
			continue
		}
		bad := 0
		for _, row := range t.Rows {
			switch v := row[idx].(type) {
			case nil, time.Time:
			case string:
				if !datePattern.MatchString(v) {
					bad++
				}
			default:
				bad++
			}
		}
		if bad > 0 {
			res.Passed = false
			res.Details = append(res.Details, fmt.Sprintf("%s: %d values do not match YYYY-MM-DD", col, bad))
		}
	}
	return res
}

func parseableTimestamp(v string) bool {
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}
