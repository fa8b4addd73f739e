// Package consultation implements the doctor's live consultation workspace:
// the canonical session store, the activity guards, the event reconciler
// that arbitrates between queue polls, push events and user edits, the
// durable session cache, and the save protocol that turns a draft into a
// backend consultation plus prescription.
package consultation

import (
	"strconv"
	"strings"
	"time"

	"github.com/healiinn/consult/internal/domain/patient"
	"github.com/healiinn/consult/internal/domain/queue"
)

// Status is the lifecycle state of a consultation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in-progress"
	StatusCalled     Status = "called"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusPending:    true,
	StatusWaiting:    true,
	StatusInProgress: true,
	StatusCalled:     true,
	StatusCompleted:  true,
	StatusCancelled:  true,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return validStatuses[s] }

// Live reports whether a consultation in this status is the one the doctor
// is actively working: only live consultations are cached and restorable.
func (s Status) Live() bool {
	return s == StatusInProgress || s == StatusCalled
}

// Vitals is the structured vital-signs record. Fields are kept as entered
// (strings) because they mirror form inputs; BMI is derived.
type Vitals struct {
	BPSystolic       string `json:"bp_systolic,omitempty"`
	BPDiastolic      string `json:"bp_diastolic,omitempty"`
	Temperature      string `json:"temperature,omitempty"`
	Pulse            string `json:"pulse,omitempty"`
	RespiratoryRate  string `json:"respiratory_rate,omitempty"`
	OxygenSaturation string `json:"oxygen_saturation,omitempty"`
	Weight           string `json:"weight,omitempty"`
	Height           string `json:"height,omitempty"`
	BMI              string `json:"bmi,omitempty"`
}

// IsZero reports whether no vital has been entered. The derived BMI does
// not count as input.
func (v Vitals) IsZero() bool {
	return v.BPSystolic == "" && v.BPDiastolic == "" && v.Temperature == "" &&
		v.Pulse == "" && v.RespiratoryRate == "" && v.OxygenSaturation == "" &&
		v.Weight == "" && v.Height == ""
}

// CalculateBMI recomputes the derived BMI from weight (kg) and height (cm):
// weight / (height/100)^2 rounded to one decimal. When either input is
// missing or non-positive the BMI is cleared.
func (v *Vitals) CalculateBMI() {
	w, werr := strconv.ParseFloat(strings.TrimSpace(v.Weight), 64)
	h, herr := strconv.ParseFloat(strings.TrimSpace(v.Height), 64)
	if werr != nil || herr != nil || w <= 0 || h <= 0 {
		v.BMI = ""
		return
	}
	m := h / 100
	v.BMI = strconv.FormatFloat(w/(m*m), 'f', 1, 64)
}

// Medication is one drug line on the consultation. LocalID is assigned
// client-side for list targeting before a save and is never a server id.
type Medication struct {
	LocalID      int64  `json:"local_id,omitempty"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Duration     string `json:"duration,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Investigation is one ordered test.
type Investigation struct {
	LocalID int64  `json:"local_id,omitempty"`
	Name    string `json:"name"`
	Notes   string `json:"notes,omitempty"`
}

// Attachment is an uploaded file descriptor. Attachments stay local to the
// workspace in this slice; they are not pushed to the backend.
type Attachment struct {
	LocalID     int64  `json:"local_id,omitempty"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Consultation is the central entity of the workspace: an appointment's
// clinical working record with a denormalized patient snapshot.
type Consultation struct {
	ID             string          `json:"id"`
	AppointmentID  string          `json:"appointment_id,omitempty"`
	PatientID      patient.Ref     `json:"patient_id"`
	PatientName    string          `json:"patient_name,omitempty"`
	Age            *int            `json:"age,omitempty"`
	Gender         string          `json:"gender,omitempty"`
	PatientImage   string          `json:"patient_image,omitempty"`
	PatientPhone   string          `json:"patient_phone,omitempty"`
	PatientEmail   string          `json:"patient_email,omitempty"`
	PatientAddress string          `json:"patient_address,omitempty"`
	Status         Status          `json:"status"`
	Diagnosis      string          `json:"diagnosis,omitempty"`
	Symptoms       string          `json:"symptoms,omitempty"`
	Advice         string          `json:"advice,omitempty"`
	FollowUpDate   string          `json:"follow_up_date,omitempty"`
	Vitals         Vitals          `json:"vitals,omitempty"`
	Medications    []Medication    `json:"medications,omitempty"`
	Investigations []Investigation `json:"investigations,omitempty"`
	Attachments    []Attachment    `json:"attachments,omitempty"`
	PrescriptionID string          `json:"prescription_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at,omitempty"`
}

// Live reports whether this consultation is the active one.
func (c *Consultation) Live() bool { return c.Status.Live() }

// PatientKey returns the normalized patient id for identity comparisons.
func (c *Consultation) PatientKey() string { return c.PatientID.ID }

// SamePatient compares two consultations by normalized patient id. Empty
// ids never match.
func (c *Consultation) SamePatient(other *Consultation) bool {
	if c == nil || other == nil {
		return false
	}
	return c.PatientKey() != "" && c.PatientKey() == other.PatientKey()
}

const syntheticPrefix = "cons-"

// NewSyntheticID builds the locally-generated stand-in id used before the
// backend assigns a stable one: cons-{appointmentId}-{timestamp}.
func NewSyntheticID(appointmentID string) string {
	return syntheticPrefix + appointmentID + "-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// IsSyntheticID reports whether id was generated by NewSyntheticID.
func IsSyntheticID(id string) bool {
	return strings.HasPrefix(id, syntheticPrefix)
}

// AppointmentIDFromSynthetic extracts the appointment id embedded in a
// synthetic consultation id. The appointment id may itself contain dashes,
// so only a trailing all-digit segment is treated as the timestamp.
func AppointmentIDFromSynthetic(id string) string {
	if !IsSyntheticID(id) {
		return ""
	}
	rest := strings.TrimPrefix(id, syntheticPrefix)
	i := strings.LastIndex(rest, "-")
	if i <= 0 {
		return rest
	}
	if _, err := strconv.ParseInt(rest[i+1:], 10, 64); err != nil {
		return rest
	}
	return rest[:i]
}

// NewFromAppointment synthesizes a fresh live consultation from a queue
// appointment. The patient snapshot holds whatever the appointment payload
// carried; ApplyProfile enriches it when the full lookup succeeds.
func NewFromAppointment(a *queue.Appointment) *Consultation {
	now := time.Now().UTC()
	return &Consultation{
		ID:            NewSyntheticID(a.ID),
		AppointmentID: a.ID,
		PatientID:     a.Patient,
		PatientName:   a.PatientName,
		Age:           a.PatientAge,
		Gender:        a.PatientGender,
		PatientImage:  a.PatientImage,
		PatientPhone:  a.PatientPhone,
		Status:        StatusInProgress,
		SessionID:     a.SessionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ApplyProfile merges a full patient profile into the consultation's
// patient snapshot. Profile fields win when present; the appointment
// payload's values remain as fallbacks.
func (c *Consultation) ApplyProfile(p *patient.Profile) {
	if p == nil {
		return
	}
	if p.Name != "" {
		c.PatientName = p.Name
	}
	if p.Gender != "" {
		c.Gender = p.Gender
	}
	if p.Phone != "" {
		c.PatientPhone = p.Phone
	}
	if p.Email != "" {
		c.PatientEmail = p.Email
	}
	if p.Image != "" {
		c.PatientImage = p.Image
	}
	if !p.Address.IsZero() {
		c.PatientAddress = p.Address.Format()
	} else if c.PatientAddress == "" {
		c.PatientAddress = patient.Address{}.Format()
	}
	if age := patient.AgeFromDOB(p.DateOfBirth, time.Now()); age != nil {
		c.Age = age
	} else if p.Age != nil {
		c.Age = p.Age
	}
}

// mergeFrom folds the fields of in into c. Identity and status follow the
// dedup rules (stable ids stick, completed never downgrades to live);
// patient snapshot fields refresh opportunistically; clinical fields are
// only overwritten by non-empty incoming values, so a merge can never
// erase captured work.
func (c *Consultation) mergeFrom(in *Consultation) {
	if IsSyntheticID(c.ID) && in.ID != "" && !IsSyntheticID(in.ID) {
		c.ID = in.ID
	}
	if c.AppointmentID == "" {
		c.AppointmentID = in.AppointmentID
	}
	if in.Status != "" {
		if !(c.Status == StatusCompleted && in.Status.Live()) {
			c.Status = in.Status
		}
	}
	if in.PatientID.ID != "" {
		c.PatientID = in.PatientID
	}
	if in.PatientName != "" {
		c.PatientName = in.PatientName
	}
	if in.Age != nil {
		c.Age = in.Age
	}
	if in.Gender != "" {
		c.Gender = in.Gender
	}
	if in.PatientImage != "" {
		c.PatientImage = in.PatientImage
	}
	if in.PatientPhone != "" {
		c.PatientPhone = in.PatientPhone
	}
	if in.PatientEmail != "" {
		c.PatientEmail = in.PatientEmail
	}
	if in.PatientAddress != "" {
		c.PatientAddress = in.PatientAddress
	}
	if in.Diagnosis != "" {
		c.Diagnosis = in.Diagnosis
	}
	if in.Symptoms != "" {
		c.Symptoms = in.Symptoms
	}
	if in.Advice != "" {
		c.Advice = in.Advice
	}
	if in.FollowUpDate != "" {
		c.FollowUpDate = in.FollowUpDate
	}
	if !in.Vitals.IsZero() {
		c.Vitals = in.Vitals
	}
	if len(in.Medications) > 0 {
		c.Medications = in.Medications
	}
	if len(in.Investigations) > 0 {
		c.Investigations = in.Investigations
	}
	if len(in.Attachments) > 0 {
		c.Attachments = in.Attachments
	}
	if in.PrescriptionID != "" {
		c.PrescriptionID = in.PrescriptionID
	}
	if in.SessionID != "" {
		c.SessionID = in.SessionID
	}
	if !in.UpdatedAt.IsZero() {
		c.UpdatedAt = in.UpdatedAt
	} else {
		c.UpdatedAt = time.Now().UTC()
	}
}

// Clone returns a deep copy safe to hand outside the store's lock.
func (c *Consultation) Clone() *Consultation {
	if c == nil {
		return nil
	}
	out := *c
	if c.Age != nil {
		age := *c.Age
		out.Age = &age
	}
	out.Medications = append([]Medication(nil), c.Medications...)
	out.Investigations = append([]Investigation(nil), c.Investigations...)
	out.Attachments = append([]Attachment(nil), c.Attachments...)
	return &out
}
