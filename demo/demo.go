// Package demo builds a small deterministic CLIF dataset for tests and for
// running the toolchain without site data.
package demo

import (
	"fmt"
	"math/rand"
	"time"

	"cliftool/table"
)

const (
	numPatients         = 5
	numHospitalizations = 8
	seed                = 42
)

var vitalCategories = []string{"heart_rate", "sbp", "spo2", "respiratory_rate", "temp_c"}
var labCategories = []string{"sodium", "glucose", "lactate", "creatinine"}
var medCategories = []string{"norepinephrine", "propofol"}
var assessmentCategories = []string{"gcs_total", "rass"}
var locationCategories = []string{"ed", "ward", "icu"}
var deviceCategories = []string{"room air", "nasal cannula", "imv"}

// Dataset returns the demo tables keyed by table kind. The contents are
// deterministic across runs.
func Dataset() map[string]*table.Table {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

	patient := table.New(
		table.Column{Name: "patient_id", Type: table.Text},
		table.Column{Name: "sex_category", Type: table.Text},
	)
	for p := 1; p <= numPatients; p++ {
		sex := "female"
		if rng.Intn(2) == 0 {
			sex = "male"
		}
		patient.MustAppendRow(patientID(p), sex)
	}

	hosp := table.New(
		table.Column{Name: "hospitalization_id", Type: table.Text},
		table.Column{Name: "patient_id", Type: table.Text},
		table.Column{Name: "age_at_admission", Type: table.Int},
		table.Column{Name: "admission_dttm", Type: table.Timestamp},
		table.Column{Name: "discharge_dttm", Type: table.Timestamp},
	)
	adt := table.New(
		table.Column{Name: "hospitalization_id", Type: table.Text},
		table.Column{Name: "in_dttm", Type: table.Timestamp},
		table.Column{Name: "out_dttm", Type: table.Timestamp},
		table.Column{Name: "location_category", Type: table.Text},
	)
	vitals := eventTable("recorded_dttm", "vital_category", "vital_value")
	labs := eventTable("lab_result_dttm", "lab_category", "lab_value_numeric")
	meds := eventTable("admin_dttm", "med_category", "med_dose")
	assessments := eventTable("recorded_dttm", "assessment_category", "assessment_value")

	resp := table.New(
		table.Column{Name: "hospitalization_id", Type: table.Text},
		table.Column{Name: "recorded_dttm", Type: table.Timestamp},
		table.Column{Name: "device_category", Type: table.Text},
		table.Column{Name: "fio2_set", Type: table.Float},
		table.Column{Name: "peep_set", Type: table.Float},
	)
	position := table.New(
		table.Column{Name: "hospitalization_id", Type: table.Text},
		table.Column{Name: "recorded_dttm", Type: table.Timestamp},
		table.Column{Name: "position_category", Type: table.Text},
	)

	for h := 1; h <= numHospitalizations; h++ {
		hid := hospitalizationID(h)
		pid := patientID(1 + rng.Intn(numPatients))
		admit := base.Add(time.Duration(rng.Intn(96)) * time.Hour)
		stayHours := 24 + rng.Intn(96)
		discharge := admit.Add(time.Duration(stayHours) * time.Hour)
		hosp.MustAppendRow(hid, pid, int64(30+rng.Intn(60)), admit, discharge)

		// One ADT segment per location, chained.
		segs := 1 + rng.Intn(3)
		in := admit
		for s := 0; s < segs; s++ {
			out := in.Add(time.Duration(stayHours/segs) * time.Hour)
			adt.MustAppendRow(hid, in, out, locationCategories[rng.Intn(len(locationCategories))])
			in = out
		}

		for hr := 0; hr < stayHours; hr += 1 + rng.Intn(4) {
			ts := admit.Add(time.Duration(hr)*time.Hour + time.Duration(rng.Intn(60))*time.Minute)
			cat := vitalCategories[rng.Intn(len(vitalCategories))]
			vitals.MustAppendRow(hid, ts, cat, vitalValue(rng, cat))
		}
		for hr := 0; hr < stayHours; hr += 6 + rng.Intn(12) {
			ts := admit.Add(time.Duration(hr) * time.Hour)
			cat := labCategories[rng.Intn(len(labCategories))]
			labs.MustAppendRow(hid, ts, cat, 1+10*rng.Float64())
		}
		if rng.Intn(2) == 0 {
			for hr := 0; hr < stayHours; hr += 2 {
				ts := admit.Add(time.Duration(hr) * time.Hour)
				meds.MustAppendRow(hid, ts, medCategories[rng.Intn(len(medCategories))], rng.Float64()*10)
			}
		}
		for hr := 0; hr < stayHours; hr += 8 {
			ts := admit.Add(time.Duration(hr) * time.Hour)
			cat := assessmentCategories[rng.Intn(len(assessmentCategories))]
			assessments.MustAppendRow(hid, ts, cat, float64(rng.Intn(15)))
		}
		for hr := 0; hr < stayHours; hr += 4 {
			ts := admit.Add(time.Duration(hr) * time.Hour)
			resp.MustAppendRow(hid, ts,
				deviceCategories[rng.Intn(len(deviceCategories))],
				21+rng.Float64()*79, float64(rng.Intn(15)))
			position.MustAppendRow(hid, ts, []string{"supine", "prone"}[rng.Intn(2)])
		}
	}

	return map[string]*table.Table{
		table.KindPatient:             patient,
		table.KindHospitalization:     hosp,
		table.KindADT:                 adt,
		table.KindVitals:              vitals,
		table.KindLabs:                labs,
		table.KindMedicationAdminCont: meds,
		table.KindPatientAssessments:  assessments,
		table.KindRespiratorySupport:  resp,
		table.KindPosition:            position,
	}
}

func eventTable(tsCol, catCol, valCol string) *table.Table {
	return table.New(
		table.Column{Name: "hospitalization_id", Type: table.Text},
		table.Column{Name: tsCol, Type: table.Timestamp},
		table.Column{Name: catCol, Type: table.Text},
		table.Column{Name: valCol, Type: table.Float},
	)
}

func vitalValue(rng *rand.Rand, category string) float64 {
	switch category {
	case "heart_rate":
		return 60 + rng.Float64()*60
	case "sbp":
		return 90 + rng.Float64()*60
	case "spo2":
		return 88 + rng.Float64()*12
	case "respiratory_rate":
		return 10 + rng.Float64()*20
	case "temp_c":
		return 36 + rng.Float64()*3
	}
	return rng.Float64() * 100
}

func patientID(n int) string         { return fmt.Sprintf("P%03d", n) }
func hospitalizationID(n int) string { return fmt.Sprintf("H%03d", n) }
