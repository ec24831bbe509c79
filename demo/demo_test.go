package demo

import (
	"testing"

	"cliftool/table"
)

func TestDatasetShapes(t *testing.T) {
	tables := Dataset()

	wantKinds := []string{
		table.KindPatient, table.KindHospitalization, table.KindADT,
		table.KindVitals, table.KindLabs, table.KindMedicationAdminCont,
		table.KindPatientAssessments, table.KindRespiratorySupport, table.KindPosition,
	}
	for _, kind := range wantKinds {
		tbl, ok := tables[kind]
		if !ok {
			t.Errorf("missing table %s", kind)
			continue
		}
		if tbl.NumRows() == 0 {
			t.Errorf("%s table is empty", kind)
		}
	}

	if n := tables[table.KindPatient].NumRows(); n != numPatients {
		t.Errorf("expected %d patients, got %d", numPatients, n)
	}
	if n := tables[table.KindHospitalization].NumRows(); n != numHospitalizations {
		t.Errorf("expected %d hospitalizations, got %d", numHospitalizations, n)
	}

	// Every hospitalization references an existing patient.
	patients := make(map[string]bool)
	for _, id := range tables[table.KindPatient].DistinctStrings("patient_id") {
		patients[id] = true
	}
	for _, id := range tables[table.KindHospitalization].DistinctStrings("patient_id") {
		if !patients[id] {
			t.Errorf("hospitalization references unknown patient %s", id)
		}
	}

	// Event tables carry the expected columns for their kind.
	for _, kind := range []string{table.KindVitals, table.KindLabs, table.KindMedicationAdminCont, table.KindPatientAssessments} {
		tbl := tables[kind]
		cat, _ := table.CategoryColumn(kind)
		val, _ := table.ValueColumn(kind)
		if !tbl.HasColumn(cat) || !tbl.HasColumn(val) {
			t.Errorf("%s missing %s/%s: %v", kind, cat, val, tbl.ColumnNames())
		}
		if _, ok := table.ResolveTimestamp(kind, tbl.ColumnNames()); !ok {
			t.Errorf("%s has no resolvable timestamp column", kind)
		}
	}
}

func TestDatasetDeterministic(t *testing.T) {
	a := Dataset()
	b := Dataset()

	for kind, at := range a {
		bt := b[kind]
		if at.NumRows() != bt.NumRows() {
			t.Errorf("%s: row counts differ across runs (%d vs %d)", kind, at.NumRows(), bt.NumRows())
			continue
		}
		for ri := range at.Rows {
			for ci := range at.Rows[ri] {
				if at.Rows[ri][ci] != bt.Rows[ri][ci] {
					t.Errorf("%s row %d col %d differs: %v vs %v", kind, ri, ci, at.Rows[ri][ci], bt.Rows[ri][ci])
					return
				}
			}
		}
	}
}
