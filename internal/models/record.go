package models

// Vitals is a snapshot of the patient's vital signs.
type Vitals struct {
	BloodPressure string  `json:"blood_pressure,omitempty"`
	HeartRate     int     `json:"heart_rate,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	Weight        float64 `json:"weight,omitempty"`
}

// MedicalRecord is the document the dashboards write into the vault.
// The vault itself treats it as opaque JSON.
type MedicalRecord struct {
	PatientName      string   `json:"patient_name,omitempty"`
	Diagnosis        string   `json:"diagnosis"`
	Vitals           Vitals   `json:"vitals"`
	Medications      []string `json:"medications,omitempty"`
	Allergies        []string `json:"allergies,omitempty"`
	TreatmentSummary string   `json:"treatment_summary,omitempty"`
	Doctor           string   `json:"doctor,omitempty"`
	Date             string   `json:"date"`
	RiskScore        int      `json:"risk_score,omitempty"`
}

// Title is a short one-line description used in listings.
func (r MedicalRecord) Title() string {
	switch {
	case r.Diagnosis != "" && r.Date != "":
		return r.Date + " " + r.Diagnosis
	case r.Diagnosis != "":
		return r.Diagnosis
	default:
		return r.Date
	}
}
