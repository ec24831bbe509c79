package table

import (
	"testing"
	"time"
)

func sampleTable() *Table {
	t := New(
		Column{Name: "hospitalization_id", Type: Text},
		Column{Name: "recorded_dttm", Type: Timestamp},
		Column{Name: "vital_category", Type: Text},
		Column{Name: "vital_value", Type: Float},
	)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t.MustAppendRow("H1", base, "heart_rate", 80.0)
	t.MustAppendRow("H1", base.Add(time.Hour), "spo2", 97.0)
	t.MustAppendRow("H2", base.Add(2*time.Hour), "heart_rate", 100.0)
	t.MustAppendRow("H3", base.Add(3*time.Hour), "sbp", nil)
	return t
}

func TestFilterByIDs(t *testing.T) {
	tbl := sampleTable()
	got := tbl.FilterByIDs("hospitalization_id", []string{"H1", "H3"})
	if got.NumRows() != 3 {
		t.Fatalf("expected 3 rows, got %d", got.NumRows())
	}
	for _, row := range got.Rows {
		id := row[0].(string)
		if id != "H1" && id != "H3" {
			t.Errorf("unexpected id %q in filtered rows", id)
		}
	}

	empty := tbl.FilterByIDs("missing_column", []string{"H1"})
	if empty.NumRows() != 0 {
		t.Errorf("filter on missing column should yield no rows, got %d", empty.NumRows())
	}
}

func TestSelectAndDropColumns(t *testing.T) {
	tbl := sampleTable()

	sel, err := tbl.SelectColumns("vital_category", "hospitalization_id")
	if err != nil {
		t.Fatalf("SelectColumns: %v", err)
	}
	if len(sel.Columns) != 2 || sel.Columns[0].Name != "vital_category" {
		t.Errorf("unexpected columns %v", sel.ColumnNames())
	}
	if sel.Rows[0][1].(string) != "H1" {
		t.Errorf("column reorder lost row values: %v", sel.Rows[0])
	}

	if _, err := tbl.SelectColumns("nope"); err == nil {
		t.Error("expected error selecting unknown column")
	}

	dropped := tbl.DropColumns("vital_value", "not_there")
	if dropped.HasColumn("vital_value") {
		t.Error("vital_value should be dropped")
	}
	if len(dropped.Columns) != 3 {
		t.Errorf("expected 3 columns after drop, got %d", len(dropped.Columns))
	}
}

func TestDistinctStrings(t *testing.T) {
	tbl := sampleTable()
	got := tbl.DistinctStrings("hospitalization_id")
	want := []string{"H1", "H2", "H3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func TestAppendPadsSchemaUnion(t *testing.T) {
	a := New(Column{Name: "id", Type: Text}, Column{Name: "x", Type: Float})
	a.MustAppendRow("A", 1.0)
	b := New(Column{Name: "id", Type: Text}, Column{Name: "y", Type: Float})
	b.MustAppendRow("B", 2.0)

	out, err := Append(a, b)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(out.Columns) != 3 {
		t.Fatalf("expected union of 3 columns, got %v", out.ColumnNames())
	}
	yIdx := out.ColumnIndex("y")
	if out.Rows[0][yIdx] != nil {
		t.Errorf("row from a should have NULL y, got %v", out.Rows[0][yIdx])
	}
	xIdx := out.ColumnIndex("x")
	if out.Rows[1][xIdx] != nil {
		t.Errorf("row from b should have NULL x, got %v", out.Rows[1][xIdx])
	}
}

func TestAppendTypeConflict(t *testing.T) {
	a := New(Column{Name: "v", Type: Float})
	b := New(Column{Name: "v", Type: Text})
	if _, err := Append(a, b); err == nil {
		t.Error("expected type conflict error")
	}
}

func TestSortBy(t *testing.T) {
	tbl := New(Column{Name: "id", Type: Text}, Column{Name: "n", Type: Int})
	tbl.MustAppendRow("B", int64(2))
	tbl.MustAppendRow("A", int64(9))
	tbl.MustAppendRow("A", nil)
	tbl.MustAppendRow("A", int64(3))

	tbl.SortBy("id", "n")
	if tbl.Rows[0][0].(string) != "A" || tbl.Rows[0][1] != nil {
		t.Errorf("NULL should sort first within A: %v", tbl.Rows[0])
	}
	if tbl.Rows[1][1].(int64) != 3 || tbl.Rows[2][1].(int64) != 9 {
		t.Errorf("ints out of order: %v %v", tbl.Rows[1], tbl.Rows[2])
	}
	if tbl.Rows[3][0].(string) != "B" {
		t.Errorf("B should sort last: %v", tbl.Rows[3])
	}
}

func TestResolveTimestamp(t *testing.T) {
	cases := []struct {
		kind    string
		columns []string
		want    string
		ok      bool
	}{
		{KindVitals, []string{"hospitalization_id", "recorded_dttm"}, "recorded_dttm", true},
		{KindVitals, []string{"hospitalization_id", "recorded_dttm_min"}, "recorded_dttm_min", true},
		{KindLabs, []string{"lab_result_dttm", "lab_collect_dttm"}, "lab_result_dttm", true},
		{KindLabs, []string{"lab_collect_dttm", "lab_order_dttm"}, "lab_collect_dttm", true},
		{KindLabs, []string{"lab_order_dttm"}, "lab_order_dttm", true},
		{KindLabs, []string{"hospitalization_id"}, "", false},
		{KindMedicationAdminCont, []string{"admin_dttm"}, "admin_dttm", true},
		{"unknown_kind", []string{"recorded_dttm"}, "", false},
	}
	for _, c := range cases {
		got, ok := ResolveTimestamp(c.kind, c.columns)
		if got != c.want || ok != c.ok {
			t.Errorf("ResolveTimestamp(%s, %v) = %q,%v; want %q,%v", c.kind, c.columns, got, ok, c.want, c.ok)
		}
	}
}

func TestKindClassification(t *testing.T) {
	for _, kind := range []string{KindVitals, KindLabs, KindMedicationAdminCont, KindPatientAssessments} {
		if !IsPivotKind(kind) {
			t.Errorf("%s should be a pivot kind", kind)
		}
		if _, ok := CategoryColumn(kind); !ok {
			t.Errorf("%s should have a category column", kind)
		}
		if _, ok := ValueColumn(kind); !ok {
			t.Errorf("%s should have a value column", kind)
		}
	}
	if !IsWideKind(KindRespiratorySupport) {
		t.Error("respiratory_support should be a wide kind")
	}
	if IsPivotKind(KindRespiratorySupport) {
		t.Error("respiratory_support should not be a pivot kind")
	}
}

func TestAddNullColumn(t *testing.T) {
	tbl := sampleTable()
	tbl.AddNullColumn("temp_c", Float)
	idx := tbl.ColumnIndex("temp_c")
	if idx != len(tbl.Columns)-1 {
		t.Fatalf("temp_c should be the last column")
	}
	for _, row := range tbl.Rows {
		if row[idx] != nil {
			t.Errorf("synthesized column should be all NULL, got %v", row[idx])
		}
	}
}
