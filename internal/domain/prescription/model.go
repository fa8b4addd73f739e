// Package prescription models the immutable prescription snapshot the
// backend stores for a finished consultation. At most one prescription
// exists per consultation; the backend rejects duplicate creation.
package prescription

import "time"

// Medication is one prescribed drug line.
type Medication struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	Duration     string `json:"duration,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Investigation is one ordered test or study.
type Investigation struct {
	Name  string `json:"name"`
	Notes string `json:"notes,omitempty"`
}

// Prescription is the saved snapshot of a consultation's clinical outcome.
type Prescription struct {
	ID             string          `json:"id,omitempty"`
	ConsultationID string          `json:"consultation_id"`
	PatientID      string          `json:"patient_id,omitempty"`
	DoctorID       string          `json:"doctor_id,omitempty"`
	Diagnosis      string          `json:"diagnosis,omitempty"`
	Medications    []Medication    `json:"medications"`
	Investigations []Investigation `json:"investigations,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	FollowUpDate   string          `json:"follow_up_date,omitempty"`
	ExpiryDate     *time.Time      `json:"expiry_date,omitempty"`
	CreatedAt      time.Time       `json:"created_at,omitempty"`
}

// Filter narrows a prescription listing.
type Filter struct {
	ConsultationID string
	PatientID      string
	DoctorID       string
}

// DefaultExpiry is how long a prescription stays valid after issue.
const DefaultExpiry = 30 * 24 * time.Hour

// ExpiryFrom returns the standard expiry for a prescription issued at t.
func ExpiryFrom(t time.Time) time.Time {
	return t.Add(DefaultExpiry)
}
