// Command widetool builds the wide and hourly CLIF datasets from a data
// directory (or the built-in demo dataset) and writes them as CSV or
// Parquet.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cliftool/clifio"
	"cliftool/demo"
	"cliftool/engine"
	"cliftool/hourly"
	"cliftool/table"
	"cliftool/widedataset"
)

func main() {
	dataDir := flag.String("data", "", "Directory holding clif_<table>.<format> files")
	inFormat := flag.String("format", "parquet", "Input file format: csv or parquet")
	useDemo := flag.Bool("demo", false, "Use the built-in demo dataset instead of -data")
	filtersFile := flag.String("filters", "", "YAML file mapping table name to category list")
	idList := flag.String("ids", "", "Comma-separated hospitalization ids to include")
	sample := flag.Bool("sample", false, "Randomly sample 20 hospitalizations")
	batchSize := flag.Int("batch", widedataset.DefaultBatchSize, "Hospitalizations per batch")
	includeEventless := flag.Bool("include-eventless", false, "Keep encounters with zero events as a NULL-event row")
	outDir := flag.String("out", ".", "Output directory")
	outFormat := flag.String("out-format", "csv", "Output format: csv or parquet")
	outName := flag.String("out-name", "", "Output filename without extension (default: timestamped)")
	hourlyFile := flag.String("hourly", "", "YAML file mapping aggregation verb to column list; enables hourly aggregation")
	siteTZ := flag.String("tz", "", "Site timezone for dttm columns, e.g. America/Chicago")
	memoryMB := flag.Int("memory", 0, "Engine work_mem in MB")
	threads := flag.Int("threads", 0, "Engine parallel workers per query")
	port := flag.Uint("port", 15432, "Port for the embedded engine")

	flag.Parse()

	if *dataDir == "" && !*useDemo {
		fmt.Println("Usage: widetool -data <dir> [options]  or  widetool -demo [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx := context.Background()

	var tables map[string]*table.Table
	var err error
	if *useDemo {
		log.Println("Using built-in demo dataset")
		tables = demo.Dataset()
	} else {
		tables, err = clifio.LoadDir(*dataDir, *inFormat)
		if err != nil {
			log.Fatalf("Failed to load tables: %v", err)
		}
	}
	log.Printf("Loaded %d tables", len(tables))

	if *siteTZ != "" {
		for kind, t := range tables {
			if err := clifio.ConvertToSiteTZ(t, *siteTZ); err != nil {
				log.Fatalf("Failed to convert %s timestamps: %v", kind, err)
			}
		}
	}

	filters := map[string][]string{table.KindVitals: {}, table.KindLabs: {}}
	if *filtersFile != "" {
		filters, err = loadYAMLMap(*filtersFile)
		if err != nil {
			log.Fatalf("Failed to load category filters: %v", err)
		}
	}

	sess, err := engine.StartEmbedded(ctx, engine.Config{
		Port:          uint32(*port),
		MemoryLimitMB: *memoryMB,
		Threads:       *threads,
	})
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer sess.Close()
	log.Println("Engine started")

	opts := widedataset.Options{
		CategoryFilters:  filters,
		Sample:           *sample,
		BatchSize:        *batchSize,
		IncludeEventless: *includeEventless,
		Output: widedataset.OutputOptions{
			Format:   *outFormat,
			Dir:      *outDir,
			Filename: *outName,
		},
	}
	if *idList != "" {
		opts.HospitalizationIDs = strings.Split(*idList, ",")
	}

	start := time.Now()
	wide, err := widedataset.Build(ctx, sess, tables, opts)
	if err != nil {
		log.Fatalf("Failed to build wide dataset: %v", err)
	}
	log.Printf("Wide dataset done in %s", time.Since(start).Round(time.Millisecond))

	if *hourlyFile == "" {
		return
	}

	cfg, err := loadYAMLMap(*hourlyFile)
	if err != nil {
		log.Fatalf("Failed to load aggregation config: %v", err)
	}
	result, report, err := hourly.Aggregate(ctx, sess, wide, hourly.Config(cfg), hourly.Limits{})
	if err != nil {
		log.Fatalf("Failed to aggregate hourly: %v", err)
	}
	if len(report.AutoDefaulted) > 0 {
		log.Printf("Auto-defaulted columns (first/_c): %v", report.AutoDefaulted)
	}
	if len(report.FailedVerbs) > 0 {
		log.Printf("Failed verbs: %v", report.FailedVerbs)
	}

	name := *outName
	if name == "" {
		name = "hourly_dataset_" + time.Now().Format("20060102_150405")
	} else {
		name += "_hourly"
	}
	path, err := clifio.Save(result, *outDir, name, *outFormat)
	if err != nil {
		log.Fatalf("Failed to save hourly dataset: %v", err)
	}
	log.Printf("Hourly dataset saved to %s", path)
}

func loadYAMLMap(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}
