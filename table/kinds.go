package table

// CLIF table kind names.
const (
	KindPatient             = "patient"
	KindHospitalization     = "hospitalization"
	KindADT                 = "adt"
	KindVitals              = "vitals"
	KindLabs                = "labs"
	KindMedicationAdminCont = "medication_admin_continuous"
	KindPatientAssessments  = "patient_assessments"
	KindRespiratorySupport  = "respiratory_support"
	KindPosition            = "position"
)

// pivotKinds are long-format event tables reshaped to one column per
// category. wideKinds already carry named value columns and join as-is.
var pivotKinds = map[string]bool{
	KindVitals:              true,
	KindLabs:                true,
	KindMedicationAdminCont: true,
	KindPatientAssessments:  true,
}

var wideKinds = map[string]bool{
	KindRespiratorySupport: true,
}

// IsPivotKind reports whether the kind is pivoted before joining.
func IsPivotKind(kind string) bool { return pivotKinds[kind] }

// IsWideKind reports whether the kind joins without pivoting.
func IsWideKind(kind string) bool { return wideKinds[kind] }

var categoryColumns = map[string]string{
	KindVitals:              "vital_category",
	KindLabs:                "lab_category",
	KindMedicationAdminCont: "med_category",
	KindPatientAssessments:  "assessment_category",
}

var valueColumns = map[string]string{
	KindVitals:              "vital_value",
	KindLabs:                "lab_value_numeric",
	KindMedicationAdminCont: "med_dose",
	KindPatientAssessments:  "assessment_value",
}

// CategoryColumn returns the category label column for a pivotable kind.
func CategoryColumn(kind string) (string, bool) {
	c, ok := categoryColumns[kind]
	return c, ok
}

// ValueColumn returns the observation value column for a pivotable kind.
func ValueColumn(kind string) (string, bool) {
	c, ok := valueColumns[kind]
	return c, ok
}

var primaryTimestamps = map[string]string{
	KindVitals:              "recorded_dttm",
	KindLabs:                "lab_result_dttm",
	KindMedicationAdminCont: "admin_dttm",
	KindPatientAssessments:  "recorded_dttm",
	KindRespiratorySupport:  "recorded_dttm",
}

// Fallbacks tried in order when the primary timestamp column is absent.
var fallbackTimestamps = map[string][]string{
	KindLabs:   {"lab_collect_dttm", "recorded_dttm", "lab_order_dttm"},
	KindVitals: {"recorded_dttm_min", "recorded_dttm"},
}

// ResolveTimestamp returns the event-timestamp column for a table kind given
// the columns actually present, trying the kind's primary column first and
// then its documented fallbacks. ok is false when no candidate is present.
func ResolveTimestamp(kind string, columns []string) (string, bool) {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}
	if primary, ok := primaryTimestamps[kind]; ok && have[primary] {
		return primary, true
	}
	for _, alt := range fallbackTimestamps[kind] {
		if have[alt] {
			return alt, true
		}
	}
	return "", false
}
