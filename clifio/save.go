package clifio

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"cliftool/table"
)

// Save writes a table under dir as <filename>.<format> and returns the full
// path. The format must be csv or parquet.
func Save(t *table.Table, dir, filename, fileFormat string) (string, error) {
	if filename == "" {
		filename = "wide_dataset_" + time.Now().Format("20060102_150405")
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}
	path := filepath.Join(dir, filename+"."+fileFormat)

	switch fileFormat {
	case FormatCSV:
		if err := writeCSV(t, path); err != nil {
			return "", err
		}
	case FormatParquet:
		if err := writeParquet(t, path); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unsupported output format %q, only csv and parquet are supported", fileFormat)
	}
	return path, nil
}

func writeCSV(t *table.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			rec[i] = formatCSVValue(v)
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatCSVValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// writeParquet builds the schema at runtime since wide-dataset columns are
// discovered per cohort. Every column is optional; the writer configuration
// follows the analytical-query tuning used for charge exports (zstd, 8KB
// pages, page statistics).
func writeParquet(t *table.Table, path string) error {
	group := parquet.Group{}
	for _, c := range t.Columns {
		group[c.Name] = parquet.Optional(parquetNode(c.Type))
	}
	schema := parquet.NewSchema("clif_dataset", group)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}

	writer := parquet.NewGenericWriter[map[string]any](f, schema,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}),
		parquet.PageBufferSize(8*1024),
		parquet.DataPageStatistics(true),
		parquet.CreatedBy("cliftool", "1.0", ""),
	)

	const batch = 4096
	rows := make([]map[string]any, 0, batch)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := writer.Write(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		rows = rows[:0]
		return nil
	}

	for _, row := range t.Rows {
		m := make(map[string]any, len(t.Columns))
		for i, c := range t.Columns {
			if row[i] != nil {
				m[c.Name] = row[i]
			}
		}
		rows = append(rows, m)
		if len(rows) == batch {
			if err := flush(); err != nil {
				f.Close()
				return err
			}
		}
	}
	if err := flush(); err != nil {
		f.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}

func parquetNode(t table.Type) parquet.Node {
	switch t {
	case table.Int:
		return parquet.Int(64)
	case table.Float:
		return parquet.Leaf(parquet.DoubleType)
	case table.Bool:
		return parquet.Leaf(parquet.BooleanType)
	case table.Timestamp:
		return parquet.Timestamp(parquet.Microsecond)
	default:
		return parquet.String()
	}
}
