package cli

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dmitrijs2005/medvault/internal/models"
	"github.com/dmitrijs2005/medvault/internal/session"
)

// Add prompts for the fields of a medical record and stores it encrypted.
func (a *App) Add(ctx context.Context) error {
	if !a.vaultState().IsUnlocked() {
		return a.fail(session.ErrVaultLocked)
	}
	r, err := a.readRecord()
	if err != nil {
		return a.fail(err)
	}
	id, err := a.controller().PutRecord(ctx, "", r)
	if err != nil {
		return a.fail(err)
	}
	a.say("Record saved: %s", id)
	return nil
}

func (a *App) readRecord() (*models.MedicalRecord, error) {
	var (
		r   = &models.MedicalRecord{}
		err error
	)
	if r.Date, err = GetSimpleText(a.reader, "Date (YYYY-MM-DD)", a.out); err != nil {
		return nil, err
	}
	if r.Diagnosis, err = GetSimpleText(a.reader, "Diagnosis", a.out); err != nil {
		return nil, err
	}
	if r.Doctor, err = GetSimpleText(a.reader, "Doctor", a.out); err != nil {
		return nil, err
	}
	if r.Vitals.BloodPressure, err = GetSimpleText(a.reader, "Blood pressure", a.out); err != nil {
		return nil, err
	}
	if r.Vitals.HeartRate, err = GetInt(a.reader, "Heart rate", a.out); err != nil {
		return nil, err
	}
	if r.Vitals.Temperature, err = GetFloat(a.reader, "Temperature", a.out); err != nil {
		return nil, err
	}
	if r.Vitals.Weight, err = GetFloat(a.reader, "Weight", a.out); err != nil {
		return nil, err
	}
	if r.Medications, err = GetList(a.reader, "Medications", a.out); err != nil {
		return nil, err
	}
	if r.Allergies, err = GetList(a.reader, "Allergies", a.out); err != nil {
		return nil, err
	}
	if r.TreatmentSummary, err = GetMultiline(a.reader, "Treatment summary", a.out); err != nil {
		return nil, err
	}
	if r.RiskScore, err = GetInt(a.reader, "Risk score", a.out); err != nil {
		return nil, err
	}
	r.PatientName = a.id.Name
	return r, nil
}

func (a *App) List(ctx context.Context) error {
	recs, err := a.controller().ListRecords(ctx)
	if err != nil {
		return a.fail(err)
	}
	if len(recs) == 0 {
		a.say("No records")
		return nil
	}
	for _, rec := range recs {
		var r models.MedicalRecord
		title := "(unreadable record)"
		if json.Unmarshal(rec.Data, &r) == nil {
			title = r.Title()
		}
		a.say("%s  %s", rec.ID, title)
	}
	return nil
}

func (a *App) Show(ctx context.Context) error {
	id, err := GetSimpleText(a.reader, "Enter record id to show", a.out)
	if err != nil {
		return a.fail(err)
	}

	var r models.MedicalRecord
	if err := a.controller().GetRecord(ctx, id, &r); err != nil {
		return a.fail(err)
	}

	a.say("%s", r.Title())
	a.say("Patient: %s", r.PatientName)
	a.say("Doctor: %s", r.Doctor)
	if r.Vitals.BloodPressure != "" {
		a.say("Blood pressure: %s", r.Vitals.BloodPressure)
	}
	if r.Vitals.HeartRate != 0 {
		a.say("Heart rate: %d", r.Vitals.HeartRate)
	}
	if r.Vitals.Temperature != 0 {
		a.say("Temperature: %.1f", r.Vitals.Temperature)
	}
	if r.Vitals.Weight != 0 {
		a.say("Weight: %.1f", r.Vitals.Weight)
	}
	if len(r.Medications) > 0 {
		a.say("Medications: %s", strings.Join(r.Medications, ", "))
	}
	if len(r.Allergies) > 0 {
		a.say("Allergies: %s", strings.Join(r.Allergies, ", "))
	}
	if r.TreatmentSummary != "" {
		a.say("Treatment:\n%s", r.TreatmentSummary)
	}
	if r.RiskScore != 0 {
		a.say("Risk score: %d", r.RiskScore)
	}
	return nil
}

func (a *App) Delete(ctx context.Context) error {
	id, err := GetSimpleText(a.reader, "Enter record id to delete", a.out)
	if err != nil {
		return a.fail(err)
	}
	if err := a.confirm("Delete record " + id + "?"); err != nil {
		a.say("Nothing deleted")
		return nil
	}
	if err := a.controller().DeleteRecord(ctx, id); err != nil {
		return a.fail(err)
	}
	a.say("Record deleted")
	return nil
}
