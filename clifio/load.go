// Package clifio reads and writes CLIF tables as delimited text or Parquet
// files and provides the timezone normalization applied after loading.
package clifio

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"cliftool/table"
)

// Supported file formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// timestampLayouts tried in order when sniffing CSV values.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

const dateLayout = "2006-01-02"

// LoadTable reads one CLIF table from a CSV or Parquet file. Columns ending
// in _id are always typed as text, matching identifiers across tables even
// when a site exports numeric-looking ids.
func LoadTable(path string) (*table.Table, error) {
	log.Printf("Loading %s", filepath.Base(path))
	var t *table.Table
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		t, err = readCSV(path)
	case ".parquet":
		t, err = readParquet(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q, only csv and parquet are supported", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	coerceIDColumns(t)
	return t, nil
}

// LoadDir loads every clif_<kind>.<format> file found in dir, keyed by kind.
func LoadDir(dir, fileFormat string) (map[string]*table.Table, error) {
	switch fileFormat {
	case FormatCSV, FormatParquet:
	default:
		return nil, fmt.Errorf("unsupported file format %q, only csv and parquet are supported", fileFormat)
	}
	kinds := []string{
		table.KindPatient, table.KindHospitalization, table.KindADT,
		table.KindVitals, table.KindLabs, table.KindMedicationAdminCont,
		table.KindPatientAssessments, table.KindRespiratorySupport, table.KindPosition,
	}
	out := make(map[string]*table.Table)
	for _, kind := range kinds {
		path := filepath.Join(dir, "clif_"+kind+"."+fileFormat)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		t, err := LoadTable(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", kind, err)
		}
		out[kind] = t
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no clif_*.%s files found in %s", fileFormat, dir)
	}
	return out, nil
}

func readCSV(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	buf := bufio.NewReaderSize(f, 256*1024)
	// Skip UTF-8 BOM if present.
	if bom, err := buf.Peek(3); err == nil && len(bom) >= 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		buf.Discard(3)
	}

	r := csv.NewReader(buf)
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		records = append(records, rec)
	}

	cols := make([]table.Column, len(header))
	for i, name := range header {
		cols[i] = table.Column{Name: strings.TrimSpace(name), Type: sniffColumnType(records, i)}
	}
	out := &table.Table{Columns: cols, Rows: make([][]any, 0, len(records))}
	for _, rec := range records {
		row := make([]any, len(cols))
		for i := range cols {
			if i >= len(rec) {
				continue
			}
			row[i] = parseCSVValue(rec[i], cols[i].Type)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func sniffColumnType(records [][]string, col int) table.Type {
	seen := false
	candidate := table.Int
	for _, rec := range records {
		if col >= len(rec) {
			continue
		}
		v := strings.TrimSpace(rec[col])
		if v == "" || strings.EqualFold(v, "null") {
			continue
		}
		t := sniffValueType(v)
		if !seen {
			candidate = t
			seen = true
			continue
		}
		candidate = widen(candidate, t)
	}
	if !seen {
		return table.Text
	}
	return candidate
}

func sniffValueType(v string) table.Type {
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return table.Int
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return table.Float
	}
	if strings.EqualFold(v, "true") || strings.EqualFold(v, "false") {
		return table.Bool
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return table.Timestamp
		}
	}
	if _, err := time.Parse(dateLayout, v); err == nil {
		return table.Timestamp
	}
	return table.Text
}

// widen reconciles two observed value types for one column.
func widen(a, b table.Type) table.Type {
	if a == b {
		return a
	}
	if (a == table.Int && b == table.Float) || (a == table.Float && b == table.Int) {
		return table.Float
	}
	return table.Text
}

func parseCSVValue(raw string, t table.Type) any {
	v := strings.TrimSpace(raw)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	switch t {
	case table.Int:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case table.Float:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case table.Bool:
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	case table.Timestamp:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC()
			}
		}
		if ts, err := time.Parse(dateLayout, v); err == nil {
			return ts.UTC()
		}
	}
	return v
}

func readParquet(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat parquet: %w", err)
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[map[string]any](pf, pf.Schema())
	defer reader.Close()

	schema := reader.Schema()
	fields := schema.Fields()
	cols := make([]table.Column, len(fields))
	for i, fld := range fields {
		cols[i] = table.Column{Name: fld.Name(), Type: typeFromParquet(fld)}
	}
	out := &table.Table{Columns: cols}

	buf := make([]map[string]any, 1024)
	for i := range buf {
		buf[i] = make(map[string]any, len(cols))
	}
	for {
		n, readErr := reader.Read(buf)
		for i := 0; i < n; i++ {
			row := make([]any, len(cols))
			for ci, c := range cols {
				row[ci] = normalizeParquetValue(buf[i][c.Name], c.Type)
			}
			out.Rows = append(out.Rows, row)
			buf[i] = make(map[string]any, len(cols))
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return nil, fmt.Errorf("read parquet: %w", readErr)
		}
	}
	return out, nil
}

func typeFromParquet(fld parquet.Field) table.Type {
	lt := fld.Type().LogicalType()
	if lt != nil {
		switch {
		case lt.UTF8 != nil:
			return table.Text
		case lt.Timestamp != nil:
			return table.Timestamp
		case lt.Date != nil:
			return table.Timestamp
		}
	}
	switch fld.Type().Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return table.Text
	case parquet.Double, parquet.Float:
		return table.Float
	case parquet.Int32, parquet.Int64:
		if lt != nil && lt.Timestamp != nil {
			return table.Timestamp
		}
		return table.Int
	case parquet.Boolean:
		return table.Bool
	}
	return table.Text
}

func normalizeParquetValue(v any, t table.Type) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return val
	case int32:
		return int64(val)
	case int64:
		if t == table.Timestamp {
			return time.UnixMicro(val).UTC()
		}
		return val
	case float32:
		return float64(val)
	case float64:
		return val
	case time.Time:
		return val.UTC()
	default:
		return fmt.Sprint(val)
	}
}

// coerceIDColumns forces *_id columns to text.
func coerceIDColumns(t *table.Table) {
	for ci, c := range t.Columns {
		if !strings.HasSuffix(c.Name, "_id") || c.Type == table.Text {
			continue
		}
		t.Columns[ci].Type = table.Text
		for ri := range t.Rows {
			if t.Rows[ri][ci] != nil {
				t.Rows[ri][ci] = idToString(t.Rows[ri][ci])
			}
		}
	}
}

func idToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
