package widedataset

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"cliftool/engine"
	"cliftool/table"
)

// eventSource names a working table and the column contributing event
// timestamps to the union of output rows.
type eventSource struct {
	tableName string
	tsCol     string
}

// wideJoin describes an already-wide table joined by a combo key computed
// from its own timestamp column.
type wideJoin struct {
	kind      string
	tableName string
	tsCol     string
}

// selectColumn is one structured fragment of the assembled select list;
// fragments are compiled to SQL only through the engine quoting layer.
type selectColumn struct {
	qualifier string
	name      string
}

func (c selectColumn) render() string {
	return engine.QuoteIdent(c.qualifier) + "." + engine.QuoteIdent(c.name)
}

// assembleWide builds and runs the denormalizing join: base cohort expanded
// by the union of event times, left-joined against the admission/transfer
// table and every pivoted and wide table on the combo key, with day-number
// derivation and scratch columns excluded from the output.
func assembleWide(ctx context.Context, sess *engine.Session, sources []eventSource,
	pivoted map[string]string, wides []wideJoin, haveADT, includeEventless bool) (*table.Table, error) {

	unionParts := make([]string, len(sources))
	for i, src := range sources {
		unionParts[i] = fmt.Sprintf(
			"SELECT DISTINCT hospitalization_id, %s AS event_time FROM %s WHERE %s IS NOT NULL",
			engine.QuoteIdent(src.tsCol), engine.QuoteIdent(src.tableName), engine.QuoteIdent(src.tsCol))
	}
	unionSQL := strings.Join(unionParts, "\nUNION ALL\n")

	cohortJoin := "INNER JOIN"
	if includeEventless {
		cohortJoin = "LEFT JOIN"
	}

	baseCols, err := sess.TableColumns(ctx, "base_cohort")
	if err != nil {
		return nil, err
	}

	// First occurrence wins when multiple join sources would contribute the
	// same column name.
	seen := make(map[string]bool)
	var sel []string
	addCol := func(c selectColumn) {
		if seen[c.name] {
			return
		}
		seen[c.name] = true
		sel = append(sel, c.render())
	}

	for _, c := range baseCols {
		addCol(selectColumn{qualifier: "ec", name: c})
	}
	addCol(selectColumn{qualifier: "ec", name: "event_time"})
	seen["combo_id"] = true // scratch key, never selected

	var joins []string

	if haveADT {
		adtCols, err := sess.TableColumns(ctx, "adt")
		if err != nil {
			return nil, err
		}
		var sub []string
		hasIn := false
		for _, c := range adtCols {
			if c == "in_dttm" {
				hasIn = true
			}
			if c != "hospitalization_id" {
				sub = append(sub, engine.QuoteIdent(c))
			}
		}
		if hasIn && len(sub) > 0 {
			for _, c := range adtCols {
				if c != "hospitalization_id" {
					addCol(selectColumn{qualifier: "adt_combo", name: c})
				}
			}
			joins = append(joins, fmt.Sprintf(
				`LEFT JOIN (
					SELECT %s AS combo_id, %s
					FROM "adt" WHERE "in_dttm" IS NOT NULL
				) "adt_combo" USING (combo_id)`,
				comboKeyExpr("hospitalization_id", `"in_dttm"`), strings.Join(sub, ", ")))
		}
	}

	for _, kind := range sortedKeysString(pivoted) {
		name := pivoted[kind]
		cols, err := sess.TableColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, c := range cols {
			if c != "combo_id" {
				addCol(selectColumn{qualifier: name, name: c})
			}
		}
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s USING (combo_id)", engine.QuoteIdent(name)))
	}

	for _, w := range wides {
		cols, err := sess.TableColumns(ctx, w.tableName)
		if err != nil {
			return nil, err
		}
		var sub []string
		alias := w.kind + "_combo"
		for _, c := range cols {
			if c == "hospitalization_id" || c == w.tsCol {
				continue
			}
			sub = append(sub, engine.QuoteIdent(c))
			addCol(selectColumn{qualifier: alias, name: c})
		}
		if len(sub) == 0 {
			continue
		}
		joins = append(joins, fmt.Sprintf(
			`LEFT JOIN (
				SELECT %s AS combo_id, %s
				FROM %s WHERE %s IS NOT NULL
			) %s USING (combo_id)`,
			comboKeyExpr("hospitalization_id", engine.QuoteIdent(w.tsCol)), strings.Join(sub, ", "),
			engine.QuoteIdent(w.tableName), engine.QuoteIdent(w.tsCol), engine.QuoteIdent(alias)))
	}

	dayRank := "DENSE_RANK() OVER (PARTITION BY hospitalization_id ORDER BY event_time::date)"
	query := fmt.Sprintf(`WITH all_events AS (
	SELECT DISTINCT hospitalization_id, event_time FROM (
%s
	) uni_time
),
expanded_cohort AS (
	SELECT b.*, e.event_time, %s AS combo_id
	FROM "base_cohort" b
	%s all_events e ON b.hospitalization_id = e.hospitalization_id
),
joined AS (
	SELECT %s
	FROM expanded_cohort ec
	%s
)
SELECT joined.*,
	%s AS day_number,
	hospitalization_id || '_day_' || (%s)::text AS hosp_id_day_key
FROM joined
ORDER BY hospitalization_id, event_time`,
		unionSQL,
		comboKeyExpr("b.hospitalization_id", "e.event_time"),
		cohortJoin,
		strings.Join(sel, ",\n\t\t"),
		strings.Join(joins, "\n\t"),
		dayRank, dayRank)

	log.Println("Executing join query...")
	return sess.QueryTable(ctx, query)
}

func sortedKeysString(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
