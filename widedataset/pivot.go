package widedataset

import (
	"context"
	"fmt"
	"log"
	"strings"

	"cliftool/engine"
	"cliftool/table"
)

// comboTimeFormat floors event timestamps to the minute when deriving the
// combo key. Every contributor to a combo key must use this exact format or
// rows silently fail to align across tables.
const comboTimeFormat = "YYYYMMDDHH24MI"

// comboKeyExpr renders the combo-key expression for a qualified id column
// and timestamp column.
func comboKeyExpr(idExpr, tsExpr string) string {
	return fmt.Sprintf("%s || '_' || to_char(%s, '%s')", idExpr, tsExpr, comboTimeFormat)
}

// pivotTable reshapes a long-format raw table into one row per combo key and
// one column per retained distinct category, taking the first-seen value
// (ordered by event timestamp) when the natural key is duplicated. The
// pivoted table replaces any previous table of the same name.
func pivotTable(ctx context.Context, sess *engine.Session, kind, rawName, tsCol string, allow []string) (string, error) {
	catCol, ok := table.CategoryColumn(kind)
	if !ok {
		return "", fmt.Errorf("no pivot configuration for %s", kind)
	}
	valCol, _ := table.ValueColumn(kind)

	rawCols, err := sess.TableColumns(ctx, rawName)
	if err != nil {
		return "", err
	}
	if !contains(rawCols, catCol) || !contains(rawCols, valCol) {
		return "", fmt.Errorf("required columns %s or %s not found in %s", catCol, valCol, kind)
	}

	var allowClause string
	if len(allow) > 0 {
		lits := make([]string, len(allow))
		for i, v := range allow {
			lits[i] = engine.QuoteLiteral(v)
		}
		allowClause = fmt.Sprintf(" AND %s IN (%s)", engine.QuoteIdent(catCol), strings.Join(lits, ", "))
		log.Printf("Filtering %s categories to %v", kind, allow)
	}

	distinctSQL := fmt.Sprintf(
		`SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL%s ORDER BY 1`,
		engine.QuoteIdent(catCol), engine.QuoteIdent(rawName),
		engine.QuoteIdent(tsCol), engine.QuoteIdent(catCol), allowClause)
	cats, err := sess.QueryTable(ctx, distinctSQL)
	if err != nil {
		return "", fmt.Errorf("discover %s categories: %w", kind, err)
	}

	// One conditional aggregate per category; the PIVOT-equivalent the
	// engine supports. No cap on the number of emitted columns here.
	sel := []string{"combo_id"}
	for _, row := range cats.Rows {
		cat, ok := row[0].(string)
		if !ok {
			continue
		}
		if engine.IdentTooLong(cat) {
			log.Printf("Warning: category %q exceeds %d bytes; the column name will be truncated and may collide", cat, engine.MaxIdentLen)
		}
		sel = append(sel, fmt.Sprintf(
			"(array_agg(%s ORDER BY %s) FILTER (WHERE %s = %s))[1] AS %s",
			engine.QuoteIdent(valCol), engine.QuoteIdent(tsCol),
			engine.QuoteIdent(catCol), engine.QuoteLiteral(cat),
			engine.QuoteIdent(cat)))
	}

	pivotedName := kind + "_pivoted"
	query := fmt.Sprintf(
		`SELECT %s FROM (
			SELECT %s AS combo_id, %s, %s, %s
			FROM %s
			WHERE %s IS NOT NULL%s
		) src GROUP BY combo_id`,
		strings.Join(sel, ",\n  "),
		comboKeyExpr("hospitalization_id", engine.QuoteIdent(tsCol)),
		engine.QuoteIdent(catCol), engine.QuoteIdent(valCol), engine.QuoteIdent(tsCol),
		engine.QuoteIdent(rawName),
		engine.QuoteIdent(tsCol), allowClause)

	if err := sess.CreateTableAs(ctx, pivotedName, query); err != nil {
		return "", fmt.Errorf("pivot %s: %w", kind, err)
	}

	count, err := sess.QueryTable(ctx, "SELECT COUNT(*) FROM "+engine.QuoteIdent(pivotedName))
	if err == nil && count.NumRows() == 1 {
		log.Printf("Pivoted %s: %v combo keys with %d category columns", kind, count.Rows[0][0], len(sel)-1)
	}
	return pivotedName, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
