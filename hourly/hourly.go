// Package hourly re-buckets the event-level wide dataset into one row per
// (hospitalization, hour offset from the encounter's first event), applying
// caller-chosen aggregation verbs per column. Each verb runs as its own
// grouped query so a failing verb only costs its columns.
package hourly

import (
	"context"
	"errors"
	"fmt"
	"log"

	"cliftool/engine"
	"cliftool/table"
)

// Config maps an aggregation verb to the columns it applies to. Verbs: max,
// min, mean, median, first, last, boolean, one_hot_encode.
type Config map[string][]string

// Limits tunes batching. Memory ceilings and thread counts belong to the
// engine session configuration, not here.
type Limits struct {
	// BatchSize in hospitalizations. 0 lets large inputs pick their own
	// sub-batch size; negative disables sub-batching.
	BatchSize int
}

// Report records the observable decisions made during aggregation.
type Report struct {
	// AutoDefaulted lists columns absent from the config that were
	// aggregated with first and suffixed _c.
	AutoDefaulted []string
	// FailedVerbs lists verbs whose query failed; their columns are absent
	// from the result.
	FailedVerbs []string
	// SkippedOneHot lists one-hot columns dropped because their cardinality
	// probe failed.
	SkippedOneHot []string
}

func (r *Report) merge(other *Report) {
	r.AutoDefaulted = appendNew(r.AutoDefaulted, other.AutoDefaulted)
	r.FailedVerbs = appendNew(r.FailedVerbs, other.FailedVerbs)
	r.SkippedOneHot = appendNew(r.SkippedOneHot, other.SkippedOneHot)
}

func appendNew(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

// ErrNoBatches is returned when every sub-batch fails.
var ErrNoBatches = errors.New("no sub-batches aggregated successfully")

var requiredColumns = []string{"event_time", "hospitalization_id", "day_number"}

// groupColumns key every per-verb aggregation; all per-verb queries order by
// them so results merge positionally.
var groupColumns = []string{"hospitalization_id", "event_time_hour", "nth_hour", "hour_bucket"}

const (
	autoBatchRows       = 1_000_000
	autoBatchEncounters = 10_000
	maxSubBatch         = 5000
)

// Aggregate buckets the wide dataset hourly. It fails fast if the input
// lacks the required columns, before any engine work.
func Aggregate(ctx context.Context, sess *engine.Session, wide *table.Table, cfg Config, limits Limits) (*table.Table, *Report, error) {
	log.Println("Starting hourly aggregation...")
	log.Printf("Input dataset: %d rows, %d columns", wide.NumRows(), len(wide.Columns))

	for _, col := range requiredColumns {
		if !wide.HasColumn(col) {
			return nil, nil, fmt.Errorf("wide dataset must contain %q column", col)
		}
	}

	encounters := wide.DistinctStrings("hospitalization_id")
	batchSize := limits.BatchSize
	if batchSize == 0 && (wide.NumRows() > autoBatchRows || len(encounters) > autoBatchEncounters) {
		batchSize = min(maxSubBatch, len(encounters)/4)
		if batchSize < 1 {
			batchSize = 1
		}
		log.Printf("Large dataset (%d rows, %d hospitalizations); sub-batching by %d", wide.NumRows(), len(encounters), batchSize)
	}

	if batchSize > 0 && len(encounters) > batchSize {
		return aggregateInBatches(ctx, sess, wide, cfg, encounters, batchSize)
	}
	return aggregateSingle(ctx, sess, wide, cfg)
}

func aggregateInBatches(ctx context.Context, sess *engine.Session, wide *table.Table, cfg Config, encounters []string, batchSize int) (*table.Table, *Report, error) {
	report := &Report{}
	var combined *table.Table
	var succeeded int
	nBatches := (len(encounters) + batchSize - 1) / batchSize

	for i := 0; i < len(encounters); i += batchSize {
		end := min(i+batchSize, len(encounters))
		batchNum := i/batchSize + 1
		log.Printf("Aggregating sub-batch %d/%d (%d hospitalizations)", batchNum, nBatches, end-i)

		batch := wide.FilterByIDs("hospitalization_id", encounters[i:end])
		result, batchReport, err := aggregateSingle(ctx, sess, batch, cfg)
		if err != nil {
			log.Printf("Warning: sub-batch %d/%d failed: %v", batchNum, nBatches, err)
			continue
		}
		combined, err = table.Append(combined, result)
		if err != nil {
			log.Printf("Warning: sub-batch %d/%d dropped: %v", batchNum, nBatches, err)
			continue
		}
		// A dropped sub-batch contributes nothing, including its report.
		report.merge(batchReport)
		succeeded++
	}
	if succeeded == 0 {
		return nil, nil, ErrNoBatches
	}
	combined.SortBy("hospitalization_id", "nth_hour")
	log.Printf("Hourly aggregation complete: %d rows from %d sub-batches", combined.NumRows(), succeeded)
	return combined, report, nil
}

func aggregateSingle(ctx context.Context, sess *engine.Session, wide *table.Table, cfg Config) (*table.Table, *Report, error) {
	report := &Report{}

	if err := sess.CreateTableFromRows(ctx, "wide_data", wide); err != nil {
		return nil, nil, err
	}
	defer sess.DropTable(ctx, "wide_data")

	// nth_hour counts whole hours from the encounter's first hour bucket;
	// gaps stay gaps, the sequence is not densified.
	if err := sess.CreateTableAs(ctx, "hourly_data", `
		WITH hourly_base AS (
			SELECT *,
				date_trunc('hour', event_time) AS event_time_hour,
				EXTRACT(hour FROM event_time)::int AS hour_bucket
			FROM "wide_data"
		),
		first_events AS (
			SELECT hospitalization_id, MIN(event_time_hour) AS first_event_hour
			FROM hourly_base GROUP BY hospitalization_id
		)
		SELECT hb.*, (EXTRACT(EPOCH FROM (hb.event_time_hour - fe.first_event_hour)) / 3600)::int AS nth_hour
		FROM hourly_base hb
		JOIN first_events fe USING (hospitalization_id)`); err != nil {
		return nil, nil, err
	}
	defer sess.DropTable(ctx, "hourly_data")

	plan := planVerbs(wide, cfg, report)

	result, err := sess.QueryTable(ctx, buildBaseQuery(wide))
	if err != nil {
		return nil, nil, fmt.Errorf("base aggregation: %w", err)
	}

	skip := make(map[string]bool, len(groupColumns))
	for _, c := range groupColumns {
		skip[c] = true
	}

	for _, step := range plan {
		var query string
		if step.verb == verbOneHot {
			query = buildOneHotQuery(ctx, sess, step.columns, report)
			if query == "" {
				continue
			}
		} else {
			query = buildVerbQuery(step)
		}
		log.Printf("- Processing %s aggregation...", step.verb)
		verbResult, err := sess.QueryTable(ctx, query)
		if err == nil && verbResult.NumRows() != result.NumRows() {
			err = fmt.Errorf("row count %d does not match base %d", verbResult.NumRows(), result.NumRows())
		}
		if err != nil {
			log.Printf("  %s failed: %v", step.verb, err)
			report.FailedVerbs = append(report.FailedVerbs, step.verb)
			continue
		}
		mergeColumns(result, verbResult, skip)
	}

	result.SortBy("hospitalization_id", "nth_hour")
	log.Printf("Hourly aggregation complete: %d hourly records, %d columns", result.NumRows(), len(result.Columns))
	return result, report, nil
}

// mergeColumns appends src's non-group columns onto dst. Row cardinality and
// order are guaranteed by the shared GROUP BY and ORDER BY of every query.
func mergeColumns(dst, src *table.Table, skip map[string]bool) {
	for i, c := range src.Columns {
		if skip[c.Name] || dst.HasColumn(c.Name) {
			continue
		}
		dst.Columns = append(dst.Columns, c)
		for r := range dst.Rows {
			dst.Rows[r] = append(dst.Rows[r], src.Rows[r][i])
		}
	}
}
