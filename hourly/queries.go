package hourly

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cliftool/engine"
	"cliftool/table"
)

const (
	verbMax     = "max"
	verbMin     = "min"
	verbMean    = "mean"
	verbMedian  = "median"
	verbFirst   = "first"
	verbLast    = "last"
	verbBoolean = "boolean"
	verbOneHot  = "one_hot_encode"
)

// verbOrder fixes execution order for stable narration and output layout.
var verbOrder = []string{verbMax, verbMin, verbMean, verbMedian, verbFirst, verbLast, verbBoolean, verbOneHot}

// oneHotValueCap bounds indicator columns per one-hot column.
const oneHotValueCap = 100

// oneHotWarnThreshold triggers a cardinality warning.
const oneHotWarnThreshold = 50

type verbStep struct {
	verb    string
	columns []string
	// defaulted marks columns auto-assigned to first; they take the _c
	// suffix instead of _first.
	defaulted map[string]bool
}

// planVerbs resolves the config against the input schema: drops config
// columns the input lacks, and assigns every unmapped column to first with
// the _c suffix, recording the decision in the report.
func planVerbs(wide *table.Table, cfg Config, report *Report) []verbStep {
	mapped := make(map[string]bool)
	for _, cols := range cfg {
		for _, c := range cols {
			mapped[c] = true
		}
	}
	skip := map[string]bool{
		"hospitalization_id": true,
		"event_time":         true,
		"patient_id":         true,
		"day_number":         true,
		"event_time_hour":    true,
		"nth_hour":           true,
		"hour_bucket":        true,
		"first_event_hour":   true,
	}

	var defaulted []string
	for _, c := range wide.Columns {
		if !mapped[c.Name] && !skip[c.Name] {
			defaulted = append(defaulted, c.Name)
		}
	}
	if len(defaulted) > 0 {
		log.Printf("Columns not in aggregation config, defaulting to first with _c suffix: %v", defaulted)
		report.AutoDefaulted = append(report.AutoDefaulted, defaulted...)
	}

	defaultedSet := make(map[string]bool, len(defaulted))
	for _, c := range defaulted {
		defaultedSet[c] = true
	}

	var plan []verbStep
	for _, verb := range verbOrder {
		cols := append([]string(nil), cfg[verb]...)
		if verb == verbFirst {
			cols = append(cols, defaulted...)
		}
		var valid []string
		for _, c := range cols {
			if wide.HasColumn(c) {
				valid = append(valid, c)
			}
		}
		if len(valid) == 0 {
			continue
		}
		plan = append(plan, verbStep{verb: verb, columns: valid, defaulted: defaultedSet})
	}
	return plan
}

func groupBySuffix() string {
	quoted := make([]string, len(groupColumns))
	for i, c := range groupColumns {
		quoted[i] = engine.QuoteIdent(c)
	}
	return fmt.Sprintf("FROM \"hourly_data\"\nGROUP BY %s\nORDER BY hospitalization_id, nth_hour, event_time_hour",
		strings.Join(quoted, ", "))
}

// buildBaseQuery extracts the grouping keys plus the per-bucket patient id
// and day number.
func buildBaseQuery(wide *table.Table) string {
	sel := make([]string, len(groupColumns))
	for i, c := range groupColumns {
		sel[i] = engine.QuoteIdent(c)
	}
	if wide.HasColumn("patient_id") {
		sel = append(sel, firstAgg("patient_id")+" AS patient_id")
	}
	sel = append(sel, firstAgg("day_number")+" AS day_number")
	return "SELECT " + strings.Join(sel, ", ") + "\n" + groupBySuffix()
}

// firstAgg is the engine's FIRST-equivalent: earliest non-null value in the
// bucket ordered by event time.
func firstAgg(col string) string {
	q := engine.QuoteIdent(col)
	return fmt.Sprintf("(array_agg(%s ORDER BY event_time) FILTER (WHERE %s IS NOT NULL))[1]", q, q)
}

func lastAgg(col string) string {
	q := engine.QuoteIdent(col)
	return fmt.Sprintf("(array_agg(%s ORDER BY event_time DESC) FILTER (WHERE %s IS NOT NULL))[1]", q, q)
}

func buildVerbQuery(step verbStep) string {
	sel := make([]string, len(groupColumns))
	for i, c := range groupColumns {
		sel[i] = engine.QuoteIdent(c)
	}
	for _, col := range step.columns {
		q := engine.QuoteIdent(col)
		switch step.verb {
		case verbMax:
			sel = append(sel, fmt.Sprintf("MAX(%s) AS %s", q, engine.QuoteIdent(col+"_max")))
		case verbMin:
			sel = append(sel, fmt.Sprintf("MIN(%s) AS %s", q, engine.QuoteIdent(col+"_min")))
		case verbMean:
			sel = append(sel, fmt.Sprintf("AVG(%s) AS %s", q, engine.QuoteIdent(col+"_mean")))
		case verbMedian:
			sel = append(sel, fmt.Sprintf("percentile_cont(0.5) WITHIN GROUP (ORDER BY %s) AS %s", q, engine.QuoteIdent(col+"_median")))
		case verbFirst:
			suffix := "_first"
			if step.defaulted[col] {
				suffix = "_c"
			}
			sel = append(sel, firstAgg(col)+" AS "+engine.QuoteIdent(col+suffix))
		case verbLast:
			sel = append(sel, lastAgg(col)+" AS "+engine.QuoteIdent(col+"_last"))
		case verbBoolean:
			sel = append(sel, fmt.Sprintf("CASE WHEN COUNT(%s) > 0 THEN 1 ELSE 0 END AS %s", q, engine.QuoteIdent(col+"_boolean")))
		}
	}
	return "SELECT " + strings.Join(sel, ",\n  ") + "\n" + groupBySuffix()
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// buildOneHotQuery probes each column's distinct values and expands them
// into indicator columns. A failed probe skips that column; zero usable
// columns yields an empty query string.
func buildOneHotQuery(ctx context.Context, sess *engine.Session, columns []string, report *Report) string {
	sel := make([]string, len(groupColumns))
	for i, c := range groupColumns {
		sel[i] = engine.QuoteIdent(c)
	}
	nIndicators := 0

	cols := append([]string(nil), columns...)
	sort.Strings(cols)
	for _, col := range cols {
		q := engine.QuoteIdent(col)
		probe := fmt.Sprintf(`SELECT DISTINCT %s FROM "hourly_data" WHERE %s IS NOT NULL ORDER BY 1 LIMIT %d`, q, q, oneHotValueCap)
		values, err := sess.QueryTable(ctx, probe)
		if err != nil {
			log.Printf("Warning: could not one-hot encode %s: %v", col, err)
			report.SkippedOneHot = append(report.SkippedOneHot, col)
			continue
		}
		if values.NumRows() > oneHotWarnThreshold {
			log.Printf("Warning: %s has %d distinct values; one-hot encoding will create many columns", col, values.NumRows())
		}
		for _, row := range values.Rows {
			if row[0] == nil {
				continue
			}
			name := col + "_" + nonAlnum.ReplaceAllString(formatValueName(row[0]), "_")
			if engine.IdentTooLong(name) {
				log.Printf("Warning: indicator name %q exceeds %d bytes; the column name will be truncated and may collide", name, engine.MaxIdentLen)
			}
			sel = append(sel, fmt.Sprintf("MAX(CASE WHEN %s = %s THEN 1 ELSE 0 END) AS %s",
				q, renderLiteral(row[0]), engine.QuoteIdent(name)))
			nIndicators++
		}
	}
	if nIndicators == 0 {
		return ""
	}
	return "SELECT " + strings.Join(sel, ",\n  ") + "\n" + groupBySuffix()
}

// formatValueName renders a value for use in an indicator column name. One
// canonical form per type so mixed-type columns name deterministically.
func formatValueName(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// renderLiteral renders a value as a SQL literal for the indicator
// predicate. Strings pass through the engine's literal quoting.
func renderLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return engine.QuoteLiteral(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return engine.QuoteLiteral(val.UTC().Format(time.RFC3339)) + "::timestamptz"
	default:
		return engine.QuoteLiteral(fmt.Sprint(val))
	}
}
