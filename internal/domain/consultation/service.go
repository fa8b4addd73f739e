package consultation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/healiinn/consult/internal/domain/prescription"
	"github.com/healiinn/consult/internal/domain/queue"
	"github.com/healiinn/consult/internal/platform/metrics"
)

// ReadModel is the snapshot the UI renders from.
type ReadModel struct {
	SelectedConsultation *Consultation   `json:"selected_consultation"`
	Consultations        []*Consultation `json:"consultations"`
	FormDraft            *Draft          `json:"form_draft"`
	EditingActive        bool            `json:"editing_active"`
	ManuallySelected     bool            `json:"manually_selected"`
}

// DraftPatch is a partial update to the form draft. Nil fields are left
// untouched; vitals replace wholesale because the form posts the full
// sub-object on any vital change.
type DraftPatch struct {
	Diagnosis    *string `json:"diagnosis,omitempty"`
	Symptoms     *string `json:"symptoms,omitempty"`
	Advice       *string `json:"advice,omitempty"`
	FollowUpDate *string `json:"follow_up_date,omitempty"`
	Vitals       *Vitals `json:"vitals,omitempty"`
}

// Service is the command facade the UI layer drives. It owns the form
// draft; all store mutations from user actions flow through here so the
// editing guard is recomputed synchronously on every change.
type Service struct {
	store    *Store
	tracker  *ActivityTracker
	bridge   *Bridge
	backend  Backend
	doctorID string
	log      zerolog.Logger

	mu                    sync.Mutex
	draft                 Draft
	editingPrescriptionID string
}

// NewService wires the command facade.
func NewService(store *Store, tracker *ActivityTracker, bridge *Bridge, backend Backend, doctorID string, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		tracker:  tracker,
		bridge:   bridge,
		backend:  backend,
		doctorID: doctorID,
		log:      logger,
	}
}

// ReadModel returns the current render snapshot.
func (s *Service) ReadModel() ReadModel {
	s.mu.Lock()
	draft := s.draft.Clone()
	s.mu.Unlock()
	return ReadModel{
		SelectedConsultation: s.store.Selected(),
		Consultations:        s.store.List(),
		FormDraft:            draft,
		EditingActive:        s.tracker.EditingActive(),
		ManuallySelected:     s.tracker.ManuallySelected(),
	}
}

// SelectConsultation pins the consultation with the given id as the active
// one. An explicit user click always wins, including reopening a completed
// consultation. Switching consultations discards the previous draft and
// preloads the form from the newly selected record.
func (s *Service) SelectConsultation(ctx context.Context, id string) (*Consultation, error) {
	c := s.store.Find(id)
	if c == nil {
		return nil, fmt.Errorf("consultation %s: %w", id, ErrNotFound)
	}
	s.store.Select(c)
	s.tracker.SetManual(true)

	s.mu.Lock()
	if s.tracker.LastReconciledID() != c.ID {
		s.draft.Reset()
		s.preloadDraftLocked(c)
		s.tracker.SetLastReconciledID(c.ID)
	}
	s.editingPrescriptionID = c.PrescriptionID
	s.tracker.SetEditing(s.draft.NonEmpty())
	s.mu.Unlock()

	s.mirror(ctx)
	return c, nil
}

// preloadDraftLocked seeds the form from a consultation's saved fields so
// reopening shows the captured state. Caller holds s.mu.
func (s *Service) preloadDraftLocked(c *Consultation) {
	s.draft.Diagnosis = c.Diagnosis
	s.draft.Symptoms = c.Symptoms
	s.draft.Advice = c.Advice
	s.draft.FollowUpDate = c.FollowUpDate
	s.draft.Vitals = c.Vitals
	s.draft.Medications = append([]Medication(nil), c.Medications...)
	s.draft.Investigations = append([]Investigation(nil), c.Investigations...)
}

// ClearSelection drops the active consultation and invalidates the cache.
func (s *Service) ClearSelection(ctx context.Context) {
	s.store.Select(nil)
	s.tracker.Reset()
	s.mu.Lock()
	s.draft.Reset()
	s.editingPrescriptionID = ""
	s.mu.Unlock()
	if err := s.bridge.Invalidate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("cache invalidation failed")
	}
}

// UpdateDraft applies a partial form update. The editing flag is
// recomputed synchronously before returning so any reconciliation pass
// that runs after this call sees the up-to-date guard.
func (s *Service) UpdateDraft(ctx context.Context, patch DraftPatch) *Draft {
	s.mu.Lock()
	if patch.Diagnosis != nil {
		s.draft.Diagnosis = *patch.Diagnosis
	}
	if patch.Symptoms != nil {
		s.draft.Symptoms = *patch.Symptoms
	}
	if patch.Advice != nil {
		s.draft.Advice = *patch.Advice
	}
	if patch.FollowUpDate != nil {
		s.draft.FollowUpDate = *patch.FollowUpDate
	}
	if patch.Vitals != nil {
		s.draft.Vitals = *patch.Vitals
		s.draft.Vitals.CalculateBMI()
	}
	out := s.draft.Clone()
	s.mu.Unlock()

	s.tracker.SetEditing(out.NonEmpty())
	s.mirror(ctx)
	return out
}

// AddMedication appends a drug line to the draft.
func (s *Service) AddMedication(ctx context.Context, m Medication) (Medication, error) {
	if m.Name == "" {
		return Medication{}, &ValidationError{Field: "name", Reason: "medication name is required"}
	}
	s.mu.Lock()
	added := s.draft.AddMedication(m)
	s.mu.Unlock()
	s.tracker.SetEditing(true)
	s.mirror(ctx)
	return added, nil
}

// RemoveMedication removes the draft line with the given local id.
func (s *Service) RemoveMedication(ctx context.Context, localID int64) bool {
	s.mu.Lock()
	ok := s.draft.RemoveMedication(localID)
	nonEmpty := s.draft.NonEmpty()
	s.mu.Unlock()
	s.tracker.SetEditing(nonEmpty)
	s.mirror(ctx)
	return ok
}

// AddInvestigation appends an investigation line to the draft.
func (s *Service) AddInvestigation(ctx context.Context, inv Investigation) (Investigation, error) {
	if inv.Name == "" {
		return Investigation{}, &ValidationError{Field: "name", Reason: "investigation name is required"}
	}
	s.mu.Lock()
	added := s.draft.AddInvestigation(inv)
	s.mu.Unlock()
	s.tracker.SetEditing(true)
	s.mirror(ctx)
	return added, nil
}

// RemoveInvestigation removes the draft line with the given local id.
func (s *Service) RemoveInvestigation(ctx context.Context, localID int64) bool {
	s.mu.Lock()
	ok := s.draft.RemoveInvestigation(localID)
	nonEmpty := s.draft.NonEmpty()
	s.mu.Unlock()
	s.tracker.SetEditing(nonEmpty)
	s.mirror(ctx)
	return ok
}

// CalculateBMI recomputes the derived BMI from the draft's vitals.
func (s *Service) CalculateBMI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.CalculateBMI()
}

// mirror re-serializes the merged consultation to the durable cache while
// an edit is in progress, so a crash loses at most the last keystroke.
func (s *Service) mirror(ctx context.Context) {
	sel := s.store.Selected()
	if sel == nil {
		return
	}
	s.mu.Lock()
	draft := s.draft.Clone()
	s.mu.Unlock()
	if err := s.bridge.PersistSelected(ctx, sel, draft); err != nil {
		s.log.Warn().Err(err).Msg("draft mirroring failed")
	}
}

// Save commits the draft: validates locally, resolves or creates the
// backend consultation record, then creates or updates the prescription —
// exactly once per logical save. On success the draft clears and the
// editing guard unpins; on any failure the draft is preserved unchanged.
func (s *Service) Save(ctx context.Context) (*prescription.Prescription, error) {
	start := time.Now()
	rx, err := s.save(ctx)
	metrics.SaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case IsValidation(err):
			metrics.SavesTotal.WithLabelValues("validation_failed").Inc()
		default:
			metrics.SavesTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}
	metrics.SavesTotal.WithLabelValues("success").Inc()
	return rx, nil
}

func (s *Service) save(ctx context.Context) (*prescription.Prescription, error) {
	sel := s.store.Selected()
	if sel == nil {
		return nil, &ValidationError{Field: "consultation", Reason: "no consultation selected"}
	}

	s.mu.Lock()
	draft := s.draft.Clone()
	editingRxID := s.editingPrescriptionID
	s.mu.Unlock()

	merged := sel.Clone()
	draft.ApplyTo(merged)

	// Local validation happens before any network call.
	if merged.Diagnosis == "" {
		return nil, &ValidationError{Field: "diagnosis", Reason: "diagnosis is required"}
	}
	if len(merged.Medications) == 0 {
		return nil, &ValidationError{Field: "medications", Reason: "at least one medication is required"}
	}

	fields := ClinicalFields{
		Diagnosis:      merged.Diagnosis,
		Symptoms:       merged.Symptoms,
		Advice:         merged.Advice,
		FollowUpDate:   merged.FollowUpDate,
		Vitals:         merged.Vitals,
		Medications:    merged.Medications,
		Investigations: merged.Investigations,
		Status:         merged.Status,
	}

	consultationID, err := s.resolveConsultationID(ctx, merged, fields)
	if err != nil {
		return nil, err
	}

	rx, err := s.commitPrescription(ctx, consultationID, merged, editingRxID)
	if err != nil {
		return nil, err
	}

	// Adopt the stable id and prescription reference into the store.
	merged.ID = consultationID
	merged.PrescriptionID = rx.ID
	stored := s.store.Upsert(merged)
	s.store.Select(stored)

	s.mu.Lock()
	s.draft.Reset()
	s.editingPrescriptionID = rx.ID
	s.mu.Unlock()
	s.tracker.SetEditing(false)
	s.tracker.SetLastReconciledID(stored.ID)

	if err := s.bridge.PersistSelected(ctx, stored, nil); err != nil {
		s.log.Warn().Err(err).Msg("post-save persistence failed")
	}
	if err := s.bridge.PersistList(ctx); err != nil {
		s.log.Warn().Err(err).Msg("post-save list persistence failed")
	}

	s.log.Info().
		Str("consultation_id", consultationID).
		Str("prescription_id", rx.ID).
		Msg("consultation saved")
	return rx, nil
}

// resolveConsultationID ensures a stable backend consultation id exists
// for the selection, creating the record from its appointment when the id
// is still synthetic. A duplicate-create conflict resolves by looking up
// and reusing the existing record instead of failing the save.
func (s *Service) resolveConsultationID(ctx context.Context, c *Consultation, fields ClinicalFields) (string, error) {
	if c.ID != "" && !IsSyntheticID(c.ID) {
		if _, err := s.backend.UpdateConsultation(ctx, c.ID, fields); err != nil {
			metrics.BackendErrors.WithLabelValues("update consultation", errorKind(err)).Inc()
			return "", fmt.Errorf("update consultation: %w", err)
		}
		return c.ID, nil
	}

	appointmentID := c.AppointmentID
	if appointmentID == "" {
		appointmentID = AppointmentIDFromSynthetic(c.ID)
	}
	if appointmentID == "" {
		appointmentID = s.appointmentFromQueue(ctx, c.PatientKey())
	}
	if appointmentID == "" {
		return "", &ValidationError{Field: "appointment_id", Reason: "cannot resolve appointment for consultation"}
	}

	created, err := s.backend.CreateConsultation(ctx, appointmentID, fields)
	if err == nil {
		return created.ID, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		metrics.BackendErrors.WithLabelValues("create consultation", errorKind(err)).Inc()
		return "", fmt.Errorf("create consultation: %w", err)
	}

	// The backend already has a record for this appointment: reuse it.
	existing, err := s.findExistingConsultation(ctx, appointmentID, c.PatientKey())
	if err != nil {
		return "", fmt.Errorf("consultation exists but lookup failed: %w", err)
	}
	if _, err := s.backend.UpdateConsultation(ctx, existing.ID, fields); err != nil {
		metrics.BackendErrors.WithLabelValues("update consultation", errorKind(err)).Inc()
		return "", fmt.Errorf("update existing consultation: %w", err)
	}
	return existing.ID, nil
}

// appointmentFromQueue derives the appointment id for a patient from the
// active queue when neither the record nor its synthetic id carries one.
func (s *Service) appointmentFromQueue(ctx context.Context, patientID string) string {
	if patientID == "" {
		return ""
	}
	appts, err := s.backend.FetchQueueSnapshot(ctx, time.Now())
	if err != nil {
		metrics.BackendErrors.WithLabelValues("fetch queue", errorKind(err)).Inc()
		return ""
	}
	for i := range appts {
		if appts[i].PatientID() == patientID && queue.IsActive(appts[i].Status) {
			return appts[i].ID
		}
	}
	return ""
}

func (s *Service) findExistingConsultation(ctx context.Context, appointmentID, patientID string) (*Consultation, error) {
	list, err := s.backend.FetchConsultationsForDoctor(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		if c.AppointmentID == appointmentID {
			return c, nil
		}
	}
	for _, c := range list {
		if c.Live() && patientID != "" && c.PatientKey() == patientID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no consultation for appointment %s: %w", appointmentID, ErrNotFound)
}

// commitPrescription creates the prescription, or updates the one being
// edited. A duplicate-create conflict is only recoverable in edit mode;
// otherwise it surfaces as an error. Before reusing an edited prescription
// id the consultation it belongs to is cross-checked so a stray filter
// match can never silently edit another record.
func (s *Service) commitPrescription(ctx context.Context, consultationID string, c *Consultation, editingRxID string) (*prescription.Prescription, error) {
	rx := prescription.Prescription{
		ConsultationID: consultationID,
		PatientID:      c.PatientKey(),
		DoctorID:       s.doctorID,
		Diagnosis:      c.Diagnosis,
		Notes:          c.Advice,
		FollowUpDate:   c.FollowUpDate,
		Medications:    toPrescriptionMeds(c.Medications),
		Investigations: toPrescriptionInvs(c.Investigations),
	}
	expiry := prescription.ExpiryFrom(time.Now().UTC())
	rx.ExpiryDate = &expiry

	if editingRxID != "" {
		if err := s.verifyPrescriptionOwnership(ctx, editingRxID, consultationID); err != nil {
			return nil, err
		}
		out, err := s.backend.UpdatePrescription(ctx, editingRxID, rx)
		if err != nil {
			metrics.BackendErrors.WithLabelValues("update prescription", errorKind(err)).Inc()
			return nil, fmt.Errorf("update prescription: %w", err)
		}
		return out, nil
	}

	out, err := s.backend.CreatePrescription(ctx, consultationID, rx)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		metrics.BackendErrors.WithLabelValues("create prescription", errorKind(err)).Inc()
		return nil, fmt.Errorf("create prescription: %w", err)
	}
	return nil, fmt.Errorf("prescription already exists for consultation %s: %w", consultationID, ErrAlreadyExists)
}

// verifyPrescriptionOwnership confirms the prescription being edited
// actually belongs to this consultation.
func (s *Service) verifyPrescriptionOwnership(ctx context.Context, rxID, consultationID string) error {
	list, err := s.backend.FetchPrescriptions(ctx, prescription.Filter{ConsultationID: consultationID})
	if err != nil {
		metrics.BackendErrors.WithLabelValues("fetch prescriptions", errorKind(err)).Inc()
		return fmt.Errorf("verify prescription: %w", err)
	}
	for _, p := range list {
		if p.ID == rxID {
			return nil
		}
	}
	return fmt.Errorf("prescription %s does not belong to consultation %s", rxID, consultationID)
}

func toPrescriptionMeds(meds []Medication) []prescription.Medication {
	out := make([]prescription.Medication, 0, len(meds))
	for _, m := range meds {
		out = append(out, prescription.Medication{
			Name:         m.Name,
			Dosage:       m.Dosage,
			Frequency:    m.Frequency,
			Duration:     m.Duration,
			Instructions: m.Instructions,
		})
	}
	return out
}

func toPrescriptionInvs(invs []Investigation) []prescription.Investigation {
	out := make([]prescription.Investigation, 0, len(invs))
	for _, inv := range invs {
		out = append(out, prescription.Investigation{Name: inv.Name, Notes: inv.Notes})
	}
	return out
}
