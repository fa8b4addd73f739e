// Package queue models the doctor's appointment queue as reported by the
// clinic backend, either through periodic snapshots or push events.
package queue

import (
	"time"

	"github.com/healiinn/consult/internal/domain/patient"
)

// Appointment statuses observed in queue snapshots and push events. The
// backend is not consistent about the separator in "in consultation", so
// both spellings are recognized.
const (
	StatusScheduled      = "scheduled"
	StatusWaiting        = "waiting"
	StatusCalled         = "called"
	StatusInConsultation = "in-consultation"
	StatusInProgress     = "in_progress"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
	StatusNoShow         = "no-show"
)

// activeStatuses are the statuses that mean "this patient is with the
// doctor right now".
var activeStatuses = map[string]bool{
	StatusCalled:         true,
	StatusInConsultation: true,
	StatusInProgress:     true,
}

// IsActive reports whether an appointment status means the patient is
// currently called or in consultation.
func IsActive(status string) bool {
	return activeStatuses[status]
}

// IsFinished reports whether an appointment status is terminal.
func IsFinished(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// Appointment is one entry in the doctor's queue. The patient snapshot
// fields are denormalized by the backend and may be partial; the full
// profile comes from a separate patient lookup.
type Appointment struct {
	ID            string      `json:"id"`
	Patient       patient.Ref `json:"patient_id"`
	PatientName   string      `json:"patient_name,omitempty"`
	PatientAge    *int        `json:"patient_age,omitempty"`
	PatientGender string      `json:"patient_gender,omitempty"`
	PatientImage  string      `json:"patient_image,omitempty"`
	PatientPhone  string      `json:"patient_phone,omitempty"`
	Status        string      `json:"status"`
	Date          string      `json:"date,omitempty"`
	SlotTime      string      `json:"slot_time,omitempty"`
	TokenNumber   int         `json:"token_number,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at,omitempty"`
}

// PatientID returns the normalized patient identifier.
func (a *Appointment) PatientID() string {
	return a.Patient.ID
}

// Session is the clinic session an appointment belongs to. A session must
// be live for a cached consultation to be restorable.
type Session struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Date   string `json:"date,omitempty"`
}

// Live reports whether the session is currently running.
func (s *Session) Live() bool {
	if s == nil {
		return false
	}
	return s.Status == "live" || s.Status == "active" || s.Status == "in-progress"
}

// FirstActive returns the first appointment in snapshot order whose status
// is called/in-consultation/in_progress, or nil when the queue has none.
func FirstActive(appointments []Appointment) *Appointment {
	for i := range appointments {
		if IsActive(appointments[i].Status) {
			return &appointments[i]
		}
	}
	return nil
}

// FindByID returns the appointment with the given id, or nil.
func FindByID(appointments []Appointment, id string) *Appointment {
	for i := range appointments {
		if appointments[i].ID == id {
			return &appointments[i]
		}
	}
	return nil
}
