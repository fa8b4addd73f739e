package consultation

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/healiinn/consult/internal/domain/patient"
	"github.com/healiinn/consult/internal/domain/prescription"
	"github.com/healiinn/consult/internal/domain/queue"
)

func newTestService(backend Backend) (*Service, *Store, *ActivityTracker) {
	store := NewStore()
	tracker := NewActivityTracker()
	bridge := NewBridge(NewMemoryCache(), store, tracker, backend, zerolog.Nop())
	svc := NewService(store, tracker, bridge, backend, "doc-1", zerolog.Nop())
	return svc, store, tracker
}

func TestService_SelectConsultation(t *testing.T) {
	svc, store, tracker := newTestService(newMockBackend())
	c := liveConsultation("c1", "pat-1")
	c.Diagnosis = "saved diagnosis"
	store.Upsert(c)

	sel, err := svc.SelectConsultation(context.Background(), "c1")
	if err != nil {
		t.Fatalf("SelectConsultation: %v", err)
	}
	if sel.ID != "c1" {
		t.Fatalf("selected %+v", sel)
	}
	if !tracker.ManuallySelected() {
		t.Error("explicit selection should pin")
	}

	rm := svc.ReadModel()
	if rm.FormDraft == nil || rm.FormDraft.Diagnosis != "saved diagnosis" {
		t.Errorf("draft not preloaded from the record: %+v", rm.FormDraft)
	}
}

func TestService_SelectConsultationUnknown(t *testing.T) {
	svc, _, _ := newTestService(newMockBackend())
	_, err := svc.SelectConsultation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestService_SwitchingDiscardsDraft(t *testing.T) {
	svc, store, _ := newTestService(newMockBackend())
	store.Upsert(liveConsultation("c1", "pat-1"))
	done := liveConsultation("c2", "pat-2")
	done.Status = StatusCompleted
	store.Upsert(done)
	ctx := context.Background()

	svc.SelectConsultation(ctx, "c1")
	diag := "half-typed"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})

	// Reopening a completed consultation is allowed and loads its state.
	if _, err := svc.SelectConsultation(ctx, "c2"); err != nil {
		t.Fatalf("selecting completed consultation: %v", err)
	}

	rm := svc.ReadModel()
	if rm.FormDraft.Diagnosis == "half-typed" {
		t.Error("switching consultations must discard the previous draft")
	}
}

func TestService_UpdateDraftSetsEditingSynchronously(t *testing.T) {
	svc, store, tracker := newTestService(newMockBackend())
	store.Upsert(liveConsultation("c1", "pat-1"))
	ctx := context.Background()
	svc.SelectConsultation(ctx, "c1")

	diag := "fever"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})
	if !tracker.EditingActive() {
		t.Error("editing guard must be up before UpdateDraft returns")
	}

	empty := ""
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &empty})
	if tracker.EditingActive() {
		t.Error("clearing the only field must drop the editing guard")
	}
}

func TestService_UpdateDraftRecomputesBMI(t *testing.T) {
	svc, store, _ := newTestService(newMockBackend())
	store.Upsert(liveConsultation("c1", "pat-1"))
	ctx := context.Background()
	svc.SelectConsultation(ctx, "c1")

	draft := svc.UpdateDraft(ctx, DraftPatch{Vitals: &Vitals{Weight: "70", Height: "175"}})
	if draft.Vitals.BMI != "22.9" {
		t.Errorf("BMI = %q, want 22.9", draft.Vitals.BMI)
	}

	draft = svc.UpdateDraft(ctx, DraftPatch{Vitals: &Vitals{Weight: "70"}})
	if draft.Vitals.BMI != "" {
		t.Errorf("BMI = %q, want cleared without height", draft.Vitals.BMI)
	}
}

func TestService_AddMedicationRequiresName(t *testing.T) {
	svc, _, tracker := newTestService(newMockBackend())
	_, err := svc.AddMedication(context.Background(), Medication{Dosage: "500mg"})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if tracker.EditingActive() {
		t.Error("rejected line must not raise the editing guard")
	}

	added, err := svc.AddMedication(context.Background(), Medication{Name: "Drug A"})
	if err != nil {
		t.Fatalf("AddMedication: %v", err)
	}
	if added.LocalID == 0 {
		t.Error("accepted line must get a local id")
	}
	if !tracker.EditingActive() {
		t.Error("accepted line must raise the editing guard")
	}
}

func TestService_RemoveLastLineDropsEditing(t *testing.T) {
	svc, _, tracker := newTestService(newMockBackend())
	ctx := context.Background()
	added, _ := svc.AddMedication(ctx, Medication{Name: "Drug A"})

	if !svc.RemoveMedication(ctx, added.LocalID) {
		t.Fatal("removal failed")
	}
	if tracker.EditingActive() {
		t.Error("empty draft must drop the editing guard")
	}
}

func TestService_SaveValidatesBeforeNetwork(t *testing.T) {
	backend := newMockBackend()
	svc, store, _ := newTestService(backend)
	ctx := context.Background()

	// No selection at all.
	if _, err := svc.Save(ctx); !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}

	store.Upsert(liveConsultation("cons-a1-100", "pat-1"))
	svc.SelectConsultation(ctx, "cons-a1-100")

	// No diagnosis.
	if _, err := svc.Save(ctx); !IsValidation(err) {
		t.Fatalf("err = %v, want validation error for missing diagnosis", err)
	}

	diag := "fever"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})

	// No medications.
	if _, err := svc.Save(ctx); !IsValidation(err) {
		t.Fatalf("err = %v, want validation error for missing medications", err)
	}

	if backend.callCount("create_consultation") != 0 || backend.callCount("create_prescription") != 0 {
		t.Error("validation failures must not reach the network")
	}

	// Draft survives the failed saves.
	if rm := svc.ReadModel(); rm.FormDraft.Diagnosis != "fever" {
		t.Errorf("draft lost after failed save: %+v", rm.FormDraft)
	}
}

func TestService_SaveCreatesConsultationAndPrescription(t *testing.T) {
	backend := newMockBackend()
	backend.nextConsultationID = "srv-c1"
	backend.nextPrescriptionID = "srv-rx1"
	svc, store, tracker := newTestService(backend)
	ctx := context.Background()

	c := liveConsultation("cons-a1-100", "pat-1")
	c.AppointmentID = "a1"
	store.Upsert(c)
	svc.SelectConsultation(ctx, "cons-a1-100")

	diag := "fever"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})
	svc.AddMedication(ctx, Medication{Name: "Drug A", Dosage: "500mg"})

	rx, err := svc.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rx.ID != "srv-rx1" || rx.ConsultationID != "srv-c1" {
		t.Fatalf("prescription %+v", rx)
	}
	if rx.DoctorID != "doc-1" {
		t.Errorf("doctor id = %q", rx.DoctorID)
	}
	if rx.ExpiryDate == nil {
		t.Error("expiry date not stamped")
	}

	// The stable id replaced the synthetic one in the store.
	sel := store.Selected()
	if sel == nil || sel.ID != "srv-c1" {
		t.Fatalf("selection after save = %+v", sel)
	}
	if sel.PrescriptionID != "srv-rx1" {
		t.Errorf("prescription id not adopted: %q", sel.PrescriptionID)
	}

	// Draft cleared, guard dropped.
	if tracker.EditingActive() {
		t.Error("editing guard should drop after save")
	}
	if rm := svc.ReadModel(); rm.FormDraft.NonEmpty() {
		t.Errorf("draft not cleared: %+v", rm.FormDraft)
	}
}

func TestService_SaveStableIDUpdatesInPlace(t *testing.T) {
	backend := newMockBackend()
	backend.consultations = []*Consultation{{ID: "srv-c1", AppointmentID: "a1", Status: StatusInProgress}}
	backend.nextPrescriptionID = "srv-rx1"
	svc, store, _ := newTestService(backend)
	ctx := context.Background()

	c := liveConsultation("srv-c1", "pat-1")
	store.Upsert(c)
	svc.SelectConsultation(ctx, "srv-c1")

	diag := "fever"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})
	svc.AddMedication(ctx, Medication{Name: "Drug A"})

	if _, err := svc.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if backend.callCount("create_consultation") != 0 {
		t.Error("stable id must update, never create")
	}
	if backend.callCount("update_consultation") != 1 {
		t.Errorf("update_consultation called %d times", backend.callCount("update_consultation"))
	}
}

func TestService_SaveReusesExistingOnConflict(t *testing.T) {
	backend := newMockBackend()
	backend.createConsErr = ErrAlreadyExists
	backend.consultations = []*Consultation{{ID: "srv-c9", AppointmentID: "a1", Status: StatusInProgress}}
	backend.nextPrescriptionID = "srv-rx1"
	svc, store, _ := newTestService(backend)
	ctx := context.Background()

	c := liveConsultation("cons-a1-100", "pat-1")
	c.AppointmentID = "a1"
	store.Upsert(c)
	svc.SelectConsultation(ctx, "cons-a1-100")

	diag := "fever"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})
	svc.AddMedication(ctx, Medication{Name: "Drug A"})

	rx, err := svc.Save(ctx)
	if err != nil {
		t.Fatalf("Save should recover from a duplicate-create conflict: %v", err)
	}
	if rx.ConsultationID != "srv-c9" {
		t.Errorf("conflict resolution should reuse srv-c9, got %q", rx.ConsultationID)
	}
	if sel := store.Selected(); sel == nil || sel.ID != "srv-c9" {
		t.Fatalf("selection after conflict save = %+v", sel)
	}
}

func TestService_SaveAppointmentFromSyntheticID(t *testing.T) {
	backend := newMockBackend()
	backend.nextConsultationID = "srv-c1"
	svc, store, _ := newTestService(backend)
	ctx := context.Background()

	// No AppointmentID field: it must be recovered from the synthetic id.
	c := liveConsultation("cons-a7-1718000000000", "pat-1")
	store.Upsert(c)
	svc.SelectConsultation(ctx, "cons-a7-1718000000000")

	diag := "fever"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})
	svc.AddMedication(ctx, Medication{Name: "Drug A"})

	if _, err := svc.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	backend.mu.Lock()
	created := backend.consultations[len(backend.consultations)-1]
	backend.mu.Unlock()
	if created.AppointmentID != "a7" {
		t.Errorf("created with appointment %q, want a7 from synthetic id", created.AppointmentID)
	}
}

func TestService_SaveAppointmentFromQueueFallback(t *testing.T) {
	backend := newMockBackend()
	backend.nextConsultationID = "srv-c1"
	backend.queue = []queue.Appointment{calledAppointment("a3", "pat-1")}
	svc, store, _ := newTestService(backend)
	ctx := context.Background()

	// Neither an id nor an appointment to mine it from: queue lookup.
	c := &Consultation{PatientID: patient.Ref{ID: "pat-1"}, Status: StatusInProgress}
	store.Select(c)

	diag := "fever"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})
	svc.AddMedication(ctx, Medication{Name: "Drug A"})

	if _, err := svc.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if backend.callCount("fetch_queue") == 0 {
		t.Error("expected queue fallback for the appointment id")
	}
}

func TestService_SavePrescriptionConflictIsError(t *testing.T) {
	backend := newMockBackend()
	backend.nextConsultationID = "srv-c1"
	backend.createRxErr = ErrAlreadyExists
	svc, store, tracker := newTestService(backend)
	ctx := context.Background()

	c := liveConsultation("cons-a1-100", "pat-1")
	c.AppointmentID = "a1"
	store.Upsert(c)
	svc.SelectConsultation(ctx, "cons-a1-100")

	diag := "fever"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})
	svc.AddMedication(ctx, Medication{Name: "Drug A"})

	_, err := svc.Save(ctx)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}

	// Failure preserves the draft and the editing guard.
	if !tracker.EditingActive() {
		t.Error("failed save must keep the editing guard up")
	}
	if rm := svc.ReadModel(); !rm.FormDraft.NonEmpty() {
		t.Error("failed save must preserve the draft")
	}
}

func TestService_SaveEditModeUpdatesPrescription(t *testing.T) {
	backend := newMockBackend()
	backend.consultations = []*Consultation{{ID: "srv-c1", AppointmentID: "a1", Status: StatusInProgress}}
	backend.prescriptions = []*prescription.Prescription{{ID: "rx-1", ConsultationID: "srv-c1"}}
	svc, store, _ := newTestService(backend)
	ctx := context.Background()

	c := liveConsultation("srv-c1", "pat-1")
	c.PrescriptionID = "rx-1"
	store.Upsert(c)
	svc.SelectConsultation(ctx, "srv-c1")

	diag := "revised diagnosis"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})
	svc.AddMedication(ctx, Medication{Name: "Drug B"})

	rx, err := svc.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rx.ID != "rx-1" {
		t.Errorf("edit mode should keep the prescription id, got %q", rx.ID)
	}
	if backend.callCount("create_prescription") != 0 {
		t.Error("edit mode must update, never create")
	}
	if backend.callCount("update_prescription") != 1 {
		t.Errorf("update_prescription called %d times", backend.callCount("update_prescription"))
	}
}

func TestService_SaveEditModeRejectsForeignPrescription(t *testing.T) {
	backend := newMockBackend()
	backend.consultations = []*Consultation{{ID: "srv-c1", AppointmentID: "a1", Status: StatusInProgress}}
	// rx-1 belongs to a different consultation.
	backend.prescriptions = []*prescription.Prescription{{ID: "rx-1", ConsultationID: "srv-other"}}
	svc, store, _ := newTestService(backend)
	ctx := context.Background()

	c := liveConsultation("srv-c1", "pat-1")
	c.PrescriptionID = "rx-1"
	store.Upsert(c)
	svc.SelectConsultation(ctx, "srv-c1")

	diag := "fever"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})
	svc.AddMedication(ctx, Medication{Name: "Drug A"})

	if _, err := svc.Save(ctx); err == nil {
		t.Fatal("expected ownership cross-check to fail the save")
	}
	if backend.callCount("update_prescription") != 0 {
		t.Error("foreign prescription must never be updated")
	}
}

func TestService_ClearSelection(t *testing.T) {
	svc, store, tracker := newTestService(newMockBackend())
	ctx := context.Background()
	store.Upsert(liveConsultation("c1", "pat-1"))
	svc.SelectConsultation(ctx, "c1")
	diag := "x"
	svc.UpdateDraft(ctx, DraftPatch{Diagnosis: &diag})

	svc.ClearSelection(ctx)

	if store.Selected() != nil {
		t.Error("selection not cleared")
	}
	if tracker.EditingActive() || tracker.ManuallySelected() {
		t.Error("guards not cleared")
	}
	if rm := svc.ReadModel(); rm.FormDraft.NonEmpty() {
		t.Error("draft not cleared")
	}
}
