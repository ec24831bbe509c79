package clifio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cliftool/table"
)

func vitalsTable() *table.Table {
	t := table.New(
		table.Column{Name: "hospitalization_id", Type: table.Text},
		table.Column{Name: "recorded_dttm", Type: table.Timestamp},
		table.Column{Name: "vital_category", Type: table.Text},
		table.Column{Name: "vital_value", Type: table.Float},
	)
	base := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	t.MustAppendRow("H1", base, "heart_rate", 80.5)
	t.MustAppendRow("H1", base.Add(3*time.Minute), "spo2", 97.25)
	t.MustAppendRow("H2", base.Add(10*time.Minute), "heart_rate", nil)
	return t
}

func TestCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := vitalsTable()

	path, err := Save(src, dir, "clif_vitals", FormatCSV)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if got.NumRows() != src.NumRows() {
		t.Fatalf("expected %d rows, got %d", src.NumRows(), got.NumRows())
	}
	for i, c := range src.Columns {
		if got.Columns[i].Name != c.Name {
			t.Errorf("column %d: expected %s, got %s", i, c.Name, got.Columns[i].Name)
		}
		if got.Columns[i].Type != c.Type {
			t.Errorf("column %s: expected type %v, got %v", c.Name, c.Type, got.Columns[i].Type)
		}
	}

	ts := got.Rows[0][1].(time.Time)
	want := src.Rows[0][1].(time.Time)
	if !ts.Equal(want) {
		t.Errorf("timestamp round trip: expected %v, got %v", want, ts)
	}
	if v := got.Rows[0][3].(float64); v != 80.5 {
		t.Errorf("expected 80.5, got %v", v)
	}
	if got.Rows[2][3] != nil {
		t.Errorf("empty cell should load as NULL, got %v", got.Rows[2][3])
	}
}

func TestParquetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := vitalsTable()

	path, err := Save(src, dir, "clif_vitals", FormatParquet)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if got.NumRows() != src.NumRows() {
		t.Fatalf("expected %d rows, got %d", src.NumRows(), got.NumRows())
	}
	idIdx := got.ColumnIndex("hospitalization_id")
	valIdx := got.ColumnIndex("vital_value")
	tsIdx := got.ColumnIndex("recorded_dttm")
	if idIdx < 0 || valIdx < 0 || tsIdx < 0 {
		t.Fatalf("missing columns in %v", got.ColumnNames())
	}
	rowFor := func(id string, category string) []any {
		catIdx := got.ColumnIndex("vital_category")
		for _, row := range got.Rows {
			if row[idIdx] == id && row[catIdx] == category {
				return row
			}
		}
		t.Fatalf("row %s/%s not found", id, category)
		return nil
	}

	r := rowFor("H1", "heart_rate")
	if v := r[valIdx].(float64); v != 80.5 {
		t.Errorf("expected 80.5, got %v", v)
	}
	ts := r[tsIdx].(time.Time)
	if !ts.Equal(time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)) {
		t.Errorf("timestamp round trip gave %v", ts)
	}
	if r := rowFor("H2", "heart_rate"); r[valIdx] != nil {
		t.Errorf("NULL value should survive round trip, got %v", r[valIdx])
	}
}

func TestSniffColumnTypes(t *testing.T) {
	cases := []struct {
		values []string
		want   table.Type
	}{
		{[]string{"1", "2", "3"}, table.Int},
		{[]string{"1", "2.5"}, table.Float},
		{[]string{"true", "false"}, table.Bool},
		{[]string{"2024-01-01T00:05:00Z"}, table.Timestamp},
		{[]string{"2024-01-01"}, table.Timestamp},
		{[]string{"icu", "ward"}, table.Text},
		{[]string{"1", "icu"}, table.Text},
		{[]string{"", "NULL"}, table.Text},
	}
	for _, c := range cases {
		records := make([][]string, len(c.values))
		for i, v := range c.values {
			records[i] = []string{v}
		}
		if got := sniffColumnType(records, 0); got != c.want {
			t.Errorf("sniffColumnType(%v) = %v, want %v", c.values, got, c.want)
		}
	}
}

func TestIDColumnsCoercedToText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clif_hospitalization.csv")
	data := "hospitalization_id,patient_id,age_at_admission\n1001,7,64\n1002,8,71\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	for _, name := range []string{"hospitalization_id", "patient_id"} {
		idx := got.ColumnIndex(name)
		if got.Columns[idx].Type != table.Text {
			t.Errorf("%s should be text, got %v", name, got.Columns[idx].Type)
		}
		if _, ok := got.Rows[0][idx].(string); !ok {
			t.Errorf("%s values should be strings, got %T", name, got.Rows[0][idx])
		}
	}
	ageIdx := got.ColumnIndex("age_at_admission")
	if got.Columns[ageIdx].Type != table.Int {
		t.Errorf("age_at_admission should stay int, got %v", got.Columns[ageIdx].Type)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"clif_patient.csv": "patient_id,sex_category\nP001,female\n",
		"clif_vitals.csv":  "hospitalization_id,recorded_dttm,vital_category,vital_value\nH1,2024-01-01T00:05:00Z,heart_rate,80\n",
		"notes.txt":        "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tables, err := LoadDir(dir, FormatCSV)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables, got %d: %v", len(tables), tables)
	}
	if _, ok := tables[table.KindPatient]; !ok {
		t.Error("patient table not loaded")
	}
	if _, ok := tables[table.KindVitals]; !ok {
		t.Error("vitals table not loaded")
	}

	if _, err := LoadDir(t.TempDir(), FormatCSV); err == nil {
		t.Error("expected error for empty directory")
	}
	if _, err := LoadDir(dir, "xlsx"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestSaveDefaultFilename(t *testing.T) {
	dir := t.TempDir()
	path, err := Save(vitalsTable(), dir, "", FormatCSV)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "wide_dataset_") || !strings.HasSuffix(base, ".csv") {
		t.Errorf("unexpected default filename %s", base)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("saved file missing: %v", err)
	}
}

func TestConvertToSiteTZ(t *testing.T) {
	tbl := vitalsTable()
	orig := tbl.Rows[0][1].(time.Time)

	if err := ConvertToSiteTZ(tbl, "America/Chicago"); err != nil {
		t.Fatalf("ConvertToSiteTZ: %v", err)
	}
	got := tbl.Rows[0][1].(time.Time)
	if !got.Equal(orig) {
		t.Errorf("conversion must not shift the instant: %v vs %v", got, orig)
	}
	if got.Location().String() != "America/Chicago" {
		t.Errorf("expected America/Chicago location, got %v", got.Location())
	}

	if err := ConvertToSiteTZ(tbl, "Not/AZone"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
