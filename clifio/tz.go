package clifio

import (
	"fmt"
	"log"
	"strings"
	"time"

	"cliftool/table"
)

// ConvertToSiteTZ rewrites every *dttm* timestamp column to the site's
// timezone. Wall-clock instants are preserved; only the presentation zone
// changes, so combo keys and hour buckets computed downstream in UTC are
// unaffected by the site setting unless the caller formats in local time.
func ConvertToSiteTZ(t *table.Table, tz string) error {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", tz, err)
	}
	for ci, c := range t.Columns {
		if !strings.Contains(c.Name, "dttm") {
			continue
		}
		if c.Type != table.Timestamp {
			log.Printf("Warning: %s is not a timestamp column, skipping timezone conversion", c.Name)
			continue
		}
		for ri := range t.Rows {
			if ts, ok := t.Rows[ri][ci].(time.Time); ok {
				t.Rows[ri][ci] = ts.In(loc)
			}
		}
	}
	return nil
}
