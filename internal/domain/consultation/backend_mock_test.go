package consultation

import (
	"context"
	"sync"
	"time"

	"github.com/healiinn/consult/internal/domain/patient"
	"github.com/healiinn/consult/internal/domain/prescription"
	"github.com/healiinn/consult/internal/domain/queue"
)

// mockBackend is the in-memory clinic API used across the package tests.
// Error fields, when set, are returned by the matching operation; the call
// counters let tests assert which network operations ran.
type mockBackend struct {
	mu sync.Mutex

	consultations []*Consultation
	queue         []queue.Appointment
	patients      map[string]*patient.Profile
	prescriptions []*prescription.Prescription

	queueErr         error
	patientErr       error
	historyErr       error
	createConsErr    error
	updateConsErr    error
	createRxErr      error
	updateRxErr      error
	fetchRxErr       error
	fetchConsErr     error

	nextConsultationID string
	nextPrescriptionID string

	calls map[string]int
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		patients: make(map[string]*patient.Profile),
		calls:    make(map[string]int),
	}
}

func (m *mockBackend) record(op string) {
	m.mu.Lock()
	m.calls[op]++
	m.mu.Unlock()
}

func (m *mockBackend) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockBackend) FetchConsultationsForDoctor(_ context.Context) ([]*Consultation, error) {
	m.record("fetch_consultations")
	if m.fetchConsErr != nil {
		return nil, m.fetchConsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Consultation, 0, len(m.consultations))
	for _, c := range m.consultations {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (m *mockBackend) FetchConsultationByID(_ context.Context, id string) (*Consultation, error) {
	m.record("fetch_consultation")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.consultations {
		if c.ID == id {
			return c.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockBackend) CreateConsultation(_ context.Context, appointmentID string, fields ClinicalFields) (*Consultation, error) {
	m.record("create_consultation")
	if m.createConsErr != nil {
		return nil, m.createConsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextConsultationID
	if id == "" {
		id = "cons-srv-1"
	}
	c := &Consultation{
		ID:            id,
		AppointmentID: appointmentID,
		Status:        fields.Status,
		Diagnosis:     fields.Diagnosis,
	}
	m.consultations = append(m.consultations, c)
	return c.Clone(), nil
}

func (m *mockBackend) UpdateConsultation(_ context.Context, id string, fields ClinicalFields) (*Consultation, error) {
	m.record("update_consultation")
	if m.updateConsErr != nil {
		return nil, m.updateConsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.consultations {
		if c.ID == id {
			c.Diagnosis = fields.Diagnosis
			c.Status = fields.Status
			return c.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockBackend) FetchPatientByID(_ context.Context, id string) (*patient.Profile, error) {
	m.record("fetch_patient")
	if m.patientErr != nil {
		return nil, m.patientErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.patients[id]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

func (m *mockBackend) FetchPatientHistory(_ context.Context, id string) (*patient.History, error) {
	m.record("fetch_history")
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[id]; ok {
		return &patient.History{PatientID: id}, nil
	}
	return nil, ErrNotFound
}

func (m *mockBackend) FetchQueueSnapshot(_ context.Context, _ time.Time) ([]queue.Appointment, error) {
	m.record("fetch_queue")
	if m.queueErr != nil {
		return nil, m.queueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]queue.Appointment(nil), m.queue...), nil
}

func (m *mockBackend) CreatePrescription(_ context.Context, consultationID string, rx prescription.Prescription) (*prescription.Prescription, error) {
	m.record("create_prescription")
	if m.createRxErr != nil {
		return nil, m.createRxErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rx.ConsultationID = consultationID
	rx.ID = m.nextPrescriptionID
	if rx.ID == "" {
		rx.ID = "rx-srv-1"
	}
	stored := rx
	m.prescriptions = append(m.prescriptions, &stored)
	return &rx, nil
}

func (m *mockBackend) UpdatePrescription(_ context.Context, id string, rx prescription.Prescription) (*prescription.Prescription, error) {
	m.record("update_prescription")
	if m.updateRxErr != nil {
		return nil, m.updateRxErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prescriptions {
		if p.ID == id {
			rx.ID = id
			*p = rx
			out := rx
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockBackend) FetchPrescriptions(_ context.Context, filter prescription.Filter) ([]*prescription.Prescription, error) {
	m.record("fetch_prescriptions")
	if m.fetchRxErr != nil {
		return nil, m.fetchRxErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*prescription.Prescription
	for _, p := range m.prescriptions {
		if filter.ConsultationID != "" && p.ConsultationID != filter.ConsultationID {
			continue
		}
		if filter.PatientID != "" && p.PatientID != filter.PatientID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
