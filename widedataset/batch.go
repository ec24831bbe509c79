package widedataset

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"cliftool/engine"
	"cliftool/table"
)

// buildBatch runs the full pipeline for one chunk of hospitalization ids:
// register base tables, filter and pivot each requested event table, union
// event times, and assemble the joined wide table. Working tables from a
// previous chunk are replaced, never assumed absent.
func buildBatch(ctx context.Context, sess *engine.Session, tables map[string]*table.Table,
	hosp, patient, adt *table.Table, ids []string, opts Options) (*table.Table, error) {

	batchHosp := hosp.FilterByIDs("hospitalization_id", ids)
	if err := sess.CreateTableFromRows(ctx, "base_hosp", batchHosp); err != nil {
		return nil, err
	}
	if err := sess.CreateTableFromRows(ctx, "base_patient", patient); err != nil {
		return nil, err
	}
	if err := sess.CreateTableAs(ctx, "base_cohort",
		`SELECT h.* FROM "base_hosp" h INNER JOIN "base_patient" p ON h.patient_id = p.patient_id`); err != nil {
		return nil, err
	}

	var sources []eventSource
	haveADT := false
	if adt != nil {
		batchADT := adt.FilterByIDs("hospitalization_id", ids)
		if err := sess.CreateTableFromRows(ctx, "adt", batchADT); err != nil {
			return nil, err
		}
		haveADT = true
		if batchADT.HasColumn("in_dttm") {
			sources = append(sources, eventSource{tableName: "adt", tsCol: "in_dttm"})
		}
	}

	windows := cohortWindows(opts.Cohort)

	pivoted := make(map[string]string)
	var wides []wideJoin

	for _, kind := range sortedKeys(opts.CategoryFilters) {
		log.Printf("Processing %s...", kind)

		if !table.IsPivotKind(kind) && !table.IsWideKind(kind) {
			log.Printf("Warning: %s is not an event table, skipping", kind)
			continue
		}
		src := tables[kind]
		if src == nil {
			log.Printf("Warning: %s not loaded, skipping", kind)
			continue
		}
		src = src.FilterByIDs("hospitalization_id", ids)
		if src.NumRows() == 0 {
			log.Printf("No %s data for selected hospitalizations", kind)
			continue
		}

		if table.IsWideKind(kind) && len(opts.CategoryFilters[kind]) > 0 {
			src = trimWideColumns(kind, src, opts.CategoryFilters[kind])
		}
		log.Printf("Loaded %d records from %s", src.NumRows(), kind)

		tsCol, ok := table.ResolveTimestamp(kind, src.ColumnNames())
		if !ok {
			log.Printf("Warning: no timestamp column found for %s, skipping", kind)
			continue
		}

		if windows != nil {
			before := src.NumRows()
			src = filterToWindows(src, tsCol, windows)
			log.Printf("  Time filtering: %d -> %d records", before, src.NumRows())
		}

		rawName := kind + "_raw"
		if err := sess.CreateTableFromRows(ctx, rawName, src); err != nil {
			return nil, fmt.Errorf("register %s: %w", rawName, err)
		}

		if table.IsPivotKind(kind) {
			name, err := pivotTable(ctx, sess, kind, rawName, tsCol, opts.CategoryFilters[kind])
			if err != nil {
				log.Printf("Warning: could not pivot %s: %v", kind, err)
				continue
			}
			pivoted[kind] = name
			// Event times come from the raw table; pivoting collapses
			// timestamps into the combo key.
			sources = append(sources, eventSource{tableName: rawName, tsCol: tsCol})
		} else {
			wides = append(wides, wideJoin{kind: kind, tableName: rawName, tsCol: tsCol})
			sources = append(sources, eventSource{tableName: rawName, tsCol: tsCol})
		}
	}

	if len(sources) == 0 {
		log.Println("No event times found, returning base cohort only")
		result, err := sess.QueryTable(ctx, `SELECT * FROM "base_cohort"`)
		if err != nil {
			return nil, err
		}
		addMissingCategoryColumns(result, opts.CategoryFilters)
		return result, nil
	}

	result, err := assembleWide(ctx, sess, sources, pivoted, wides, haveADT, opts.IncludeEventless)
	if err != nil {
		return nil, err
	}
	addMissingCategoryColumns(result, opts.CategoryFilters)
	return result, nil
}

// trimWideColumns keeps the id, the timestamp candidates, and the caller's
// requested value columns of an already-wide table.
func trimWideColumns(kind string, src *table.Table, wanted []string) *table.Table {
	keep := []string{"hospitalization_id"}
	if ts, ok := table.ResolveTimestamp(kind, src.ColumnNames()); ok {
		keep = append(keep, ts)
	}
	var missing []string
	for _, c := range wanted {
		if src.HasColumn(c) {
			keep = append(keep, c)
		} else {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		log.Printf("Warning: columns not found in %s: %v", kind, missing)
	}
	out, _ := src.SelectColumns(keep...)
	log.Printf("Filtered %s to %d columns", kind, len(out.Columns))
	return out
}

type window struct{ start, end time.Time }

func cohortWindows(cohort *table.Table) map[string][]window {
	if cohort == nil {
		return nil
	}
	idIdx := cohort.ColumnIndex("hospitalization_id")
	startIdx := cohort.ColumnIndex("start_time")
	endIdx := cohort.ColumnIndex("end_time")
	out := make(map[string][]window)
	for _, row := range cohort.Rows {
		id, ok := row[idIdx].(string)
		if !ok {
			continue
		}
		start, ok1 := row[startIdx].(time.Time)
		end, ok2 := row[endIdx].(time.Time)
		if !ok1 || !ok2 {
			continue
		}
		out[id] = append(out[id], window{start: start, end: end})
	}
	return out
}

// filterToWindows keeps rows whose timestamp falls inside any of the
// encounter's cohort windows, inclusive on both ends.
func filterToWindows(src *table.Table, tsCol string, windows map[string][]window) *table.Table {
	idIdx := src.ColumnIndex("hospitalization_id")
	tsIdx := src.ColumnIndex(tsCol)
	out := &table.Table{Columns: src.Columns}
	for _, row := range src.Rows {
		id, ok := row[idIdx].(string)
		if !ok {
			continue
		}
		ts, ok := row[tsIdx].(time.Time)
		if !ok {
			continue
		}
		for _, w := range windows[id] {
			if !ts.Before(w.start) && !ts.After(w.end) {
				out.Rows = append(out.Rows, row)
				break
			}
		}
	}
	return out
}

// addMissingCategoryColumns synthesizes an all-NULL column for every
// requested category that had zero observations, so downstream consumers see
// a stable schema regardless of cohort contents. Requested kinds with no rows
// at all still contribute their requested columns.
func addMissingCategoryColumns(result *table.Table, filters map[string][]string) {
	for _, kind := range sortedKeys(filters) {
		if !table.IsPivotKind(kind) && !table.IsWideKind(kind) {
			continue
		}
		for _, category := range filters[kind] {
			if !result.HasColumn(category) {
				result.AddNullColumn(category, table.Float)
				log.Printf("Added missing column: %s", category)
			}
		}
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
