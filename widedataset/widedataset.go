// Package widedataset builds the event-level wide dataset: one row per
// (hospitalization, event timestamp) pair across every requested CLIF table,
// with long-format tables pivoted into one column per category. The heavy
// lifting runs as dynamically assembled SQL on an engine.Session; large
// cohorts are processed in fixed-size batches on one session.
package widedataset

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"cliftool/clifio"
	"cliftool/engine"
	"cliftool/table"
)

// DefaultBatchSize is the number of hospitalizations per batch.
const DefaultBatchSize = 1000

const sampleSize = 20

// ErrNoBatches is returned when every batch fails.
var ErrNoBatches = errors.New("no batches processed successfully")

// cohortColumns are required on Options.Cohort.
var cohortColumns = []string{"hospitalization_id", "start_time", "end_time"}

// OutputOptions controls optional persistence of the result.
type OutputOptions struct {
	// Format is "csv" or "parquet". Empty means return-only.
	Format string
	// Dir receives the output file.
	Dir string
	// Filename without extension. Defaults to wide_dataset_<timestamp>.
	Filename string
}

// Options selects the cohort and the tables to include.
type Options struct {
	// CategoryFilters maps table kind to the category values to retain.
	// Presence of a kind (even with an empty list) requests that table; an
	// empty list keeps every observed category. For wide kinds the list
	// names value columns to keep instead of categories.
	CategoryFilters map[string][]string

	// Cohort selection, first match wins: explicit HospitalizationIDs, a
	// Cohort table with per-encounter time windows, a random sample of 20,
	// or every hospitalization.
	HospitalizationIDs []string
	Cohort             *table.Table
	Sample             bool

	// BatchSize caps hospitalizations per batch. 0 selects the default;
	// negative disables batching.
	BatchSize int

	// IncludeEventless keeps encounters with zero events across all
	// requested tables as a single row with a NULL event_time. The default
	// (false) preserves the historical behavior of dropping them.
	IncludeEventless bool

	Output OutputOptions
}

// Build assembles the wide dataset from the given CLIF tables. tables is
// keyed by table kind; hospitalization and patient are required, adt is
// strongly recommended, and event tables are consulted per CategoryFilters.
func Build(ctx context.Context, sess *engine.Session, tables map[string]*table.Table, opts Options) (*table.Table, error) {
	log.Println("Starting wide dataset creation...")

	switch opts.Output.Format {
	case "", clifio.FormatCSV, clifio.FormatParquet:
	default:
		return nil, fmt.Errorf("unsupported output format %q", opts.Output.Format)
	}

	hosp := tables[table.KindHospitalization]
	if hosp == nil {
		return nil, errors.New("hospitalization table is required")
	}
	if !hosp.HasColumn("hospitalization_id") || !hosp.HasColumn("patient_id") {
		return nil, errors.New("hospitalization table must have hospitalization_id and patient_id columns")
	}
	patient := tables[table.KindPatient]
	if patient == nil {
		return nil, errors.New("patient table is required")
	}
	if !patient.HasColumn("patient_id") {
		return nil, errors.New("patient table must have a patient_id column")
	}

	if opts.Cohort != nil {
		var missing []string
		for _, c := range cohortColumns {
			if !opts.Cohort.HasColumn(c) {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("cohort table must contain columns %v, missing %v", cohortColumns, missing)
		}
		log.Printf("Using cohort time windows for %d rows", opts.Cohort.NumRows())
	}

	requiredIDs := resolveIDs(hosp, opts)
	if len(requiredIDs) == 0 {
		return nil, errors.New("no hospitalization ids selected")
	}

	// Trim base tables to the columns the wide dataset carries.
	hospCols := []string{"hospitalization_id", "patient_id"}
	if hosp.HasColumn("age_at_admission") {
		hospCols = append(hospCols, "age_at_admission")
	}
	hosp, _ = hosp.SelectColumns(hospCols...)
	hosp = hosp.FilterByIDs("hospitalization_id", requiredIDs)
	patient, _ = patient.SelectColumns("patient_id")

	adt := tables[table.KindADT]
	if adt == nil {
		log.Println("Warning: adt table not loaded; admission/transfer attributes and event times unavailable")
	} else {
		adt = trimADT(adt).FilterByIDs("hospitalization_id", requiredIDs)
	}
	log.Printf("Base tables filtered - hospitalization: %d, patient: %d, adt: %d",
		hosp.NumRows(), patient.NumRows(), adtRows(adt))

	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	var chunks [][]string
	if batchSize < 0 || len(requiredIDs) <= batchSize {
		chunks = [][]string{requiredIDs}
	} else {
		for i := 0; i < len(requiredIDs); i += batchSize {
			end := min(i+batchSize, len(requiredIDs))
			chunks = append(chunks, requiredIDs[i:end])
		}
		log.Printf("Processing %d hospitalizations in %d batches of up to %d", len(requiredIDs), len(chunks), batchSize)
	}

	var combined *table.Table
	var succeeded int
	for i, chunk := range chunks {
		if len(chunks) > 1 {
			log.Printf("Processing batch %d/%d (%d hospitalizations)", i+1, len(chunks), len(chunk))
		}
		result, err := buildBatch(ctx, sess, tables, hosp, patient, adt, chunk, opts)
		// The engine retains per-batch working tables until dropped, whether
		// or not the chunk succeeded; the GC pass reclaims the Go-side batch
		// copies between iterations.
		sess.DropWorkingTables(ctx)
		runtime.GC()
		if err != nil {
			log.Printf("Warning: batch %d/%d failed: %v", i+1, len(chunks), err)
			continue
		}
		if result.NumRows() > 0 || combined == nil {
			combined, err = table.Append(combined, result)
			if err != nil {
				log.Printf("Warning: batch %d/%d dropped: %v", i+1, len(chunks), err)
				continue
			}
		}
		succeeded++
	}
	if succeeded == 0 {
		return nil, ErrNoBatches
	}

	log.Printf("Wide dataset created: %d rows, %d columns", combined.NumRows(), len(combined.Columns))

	if opts.Output.Format != "" {
		name := opts.Output.Filename
		if name == "" {
			name = "wide_dataset_" + time.Now().Format("20060102_150405")
		}
		path, err := clifio.Save(combined, opts.Output.Dir, name, opts.Output.Format)
		if err != nil {
			return nil, fmt.Errorf("save wide dataset: %w", err)
		}
		log.Printf("Wide dataset saved to %s", path)
	}
	return combined, nil
}

func resolveIDs(hosp *table.Table, opts Options) []string {
	switch {
	case len(opts.HospitalizationIDs) > 0:
		log.Printf("Filtering to %d explicit hospitalization ids", len(opts.HospitalizationIDs))
		return opts.HospitalizationIDs
	case opts.Cohort != nil:
		ids := opts.Cohort.DistinctStrings("hospitalization_id")
		log.Printf("Using %d hospitalization ids from cohort table", len(ids))
		return ids
	case opts.Sample:
		all := hosp.DistinctStrings("hospitalization_id")
		rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		n := min(sampleSize, len(all))
		ids := all[:n]
		sort.Strings(ids)
		log.Printf("Sampled %d random hospitalizations", n)
		return ids
	default:
		ids := hosp.DistinctStrings("hospitalization_id")
		log.Printf("Processing all %d hospitalizations", len(ids))
		return ids
	}
}

// trimADT drops display-name columns and the patient id, which duplicate
// information already carried by the base cohort.
func trimADT(adt *table.Table) *table.Table {
	var drop []string
	for _, c := range adt.Columns {
		if c.Name == "patient_id" || hasSuffix(c.Name, "_name") {
			drop = append(drop, c.Name)
		}
	}
	return adt.DropColumns(drop...)
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func adtRows(adt *table.Table) int {
	if adt == nil {
		return 0
	}
	return adt.NumRows()
}
