package consultation

import (
	"context"
	"time"

	"github.com/healiinn/consult/internal/domain/patient"
	"github.com/healiinn/consult/internal/domain/prescription"
	"github.com/healiinn/consult/internal/domain/queue"
)

// ClinicalFields is the writable slice of a consultation sent to the
// backend on create/update.
type ClinicalFields struct {
	Diagnosis      string          `json:"diagnosis,omitempty"`
	Symptoms       string          `json:"symptoms,omitempty"`
	Advice         string          `json:"advice,omitempty"`
	FollowUpDate   string          `json:"follow_up_date,omitempty"`
	Vitals         Vitals          `json:"vitals,omitempty"`
	Medications    []Medication    `json:"medications,omitempty"`
	Investigations []Investigation `json:"investigations,omitempty"`
	Status         Status          `json:"status,omitempty"`
}

// Backend is the clinic REST API as seen by the workspace. Implementations
// map failures to the package error taxonomy: ErrNotFound, ErrAlreadyExists
// and ErrConnectivity via errors.Is.
type Backend interface {
	FetchConsultationsForDoctor(ctx context.Context) ([]*Consultation, error)
	FetchConsultationByID(ctx context.Context, id string) (*Consultation, error)
	// CreateConsultation fails with ErrAlreadyExists when the appointment
	// already has a consultation record.
	CreateConsultation(ctx context.Context, appointmentID string, fields ClinicalFields) (*Consultation, error)
	UpdateConsultation(ctx context.Context, id string, fields ClinicalFields) (*Consultation, error)

	FetchPatientByID(ctx context.Context, id string) (*patient.Profile, error)
	// FetchPatientHistory fails with ErrNotFound when the patient or their
	// appointments no longer resolve.
	FetchPatientHistory(ctx context.Context, id string) (*patient.History, error)

	FetchQueueSnapshot(ctx context.Context, date time.Time) ([]queue.Appointment, error)

	// CreatePrescription fails with ErrAlreadyExists when the consultation
	// already has one.
	CreatePrescription(ctx context.Context, consultationID string, rx prescription.Prescription) (*prescription.Prescription, error)
	UpdatePrescription(ctx context.Context, id string, rx prescription.Prescription) (*prescription.Prescription, error)
	FetchPrescriptions(ctx context.Context, filter prescription.Filter) ([]*prescription.Prescription, error)
}
