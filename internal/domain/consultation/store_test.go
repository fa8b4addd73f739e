package consultation

import (
	"testing"

	"github.com/healiinn/consult/internal/domain/patient"
)

func liveConsultation(id, patientID string) *Consultation {
	return &Consultation{
		ID:        id,
		PatientID: patient.Ref{ID: patientID},
		Status:    StatusInProgress,
	}
}

func TestStore_UpsertInsertsAndFinds(t *testing.T) {
	s := NewStore()
	stored := s.Upsert(liveConsultation("c1", "pat-1"))
	if stored == nil || stored.ID != "c1" {
		t.Fatalf("Upsert returned %+v", stored)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if got := s.Find("c1"); got == nil || got.PatientKey() != "pat-1" {
		t.Fatalf("Find = %+v", got)
	}
}

func TestStore_UpsertDeduplicatesLivePatient(t *testing.T) {
	s := NewStore()
	s.Upsert(liveConsultation("cons-appt-1-100", "pat-1"))

	// Same patient, different id, still live: one entry, merged.
	in := liveConsultation("cons-appt-1-200", "pat-1")
	in.Diagnosis = "fever"
	s.Upsert(in)

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 entry for one live patient", s.Len())
	}
	got := s.Find("cons-appt-1-100")
	if got == nil {
		t.Fatal("original entry gone")
	}
	if got.Diagnosis != "fever" {
		t.Errorf("merge did not carry diagnosis: %q", got.Diagnosis)
	}
}

func TestStore_UpsertAdoptsStableID(t *testing.T) {
	s := NewStore()
	s.Upsert(liveConsultation("cons-appt-1-100", "pat-1"))

	s.Upsert(liveConsultation("64f1c9", "pat-1"))

	got := s.Find("64f1c9")
	if got == nil {
		t.Fatal("stable id not adopted")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	// A later synthetic id must not displace the stable one.
	s.Upsert(liveConsultation("cons-appt-1-300", "pat-1"))
	if s.Find("64f1c9") == nil {
		t.Error("stable id displaced by synthetic")
	}
}

func TestStore_UpsertNeverDowngradesCompleted(t *testing.T) {
	s := NewStore()
	done := liveConsultation("c1", "pat-1")
	done.Status = StatusCompleted
	s.Upsert(done)

	in := liveConsultation("c1", "pat-1")
	s.Upsert(in)

	got := s.Find("c1")
	if got.Status != StatusCompleted {
		t.Errorf("completed entry downgraded to %s", got.Status)
	}
}

func TestStore_UpsertEmptyFieldsDoNotClobber(t *testing.T) {
	s := NewStore()
	c := liveConsultation("c1", "pat-1")
	c.Diagnosis = "captured work"
	c.Medications = []Medication{{Name: "Drug A"}}
	s.Upsert(c)

	// A bare status-sync upsert carries no clinical fields.
	s.Upsert(liveConsultation("c1", "pat-1"))

	got := s.Find("c1")
	if got.Diagnosis != "captured work" || len(got.Medications) != 1 {
		t.Errorf("merge erased clinical fields: %+v", got)
	}
}

func TestStore_CompletedPatientAllowsNewLiveEntry(t *testing.T) {
	s := NewStore()
	done := liveConsultation("c1", "pat-1")
	done.Status = StatusCompleted
	s.Upsert(done)

	// A new live consultation for the same patient is a distinct visit.
	s.Upsert(liveConsultation("c2", "pat-1"))

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (finished visit plus new live one)", s.Len())
	}
}

func TestStore_SelectAndClear(t *testing.T) {
	s := NewStore()
	c := s.Upsert(liveConsultation("c1", "pat-1"))
	s.Select(c)

	sel := s.Selected()
	if sel == nil || sel.ID != "c1" {
		t.Fatalf("Selected = %+v", sel)
	}

	s.Select(nil)
	if s.Selected() != nil {
		t.Error("selection not cleared")
	}
}

func TestStore_SelectInsertsUnknown(t *testing.T) {
	s := NewStore()
	s.Select(liveConsultation("c9", "pat-9"))
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want selection to be stored", s.Len())
	}
	if sel := s.Selected(); sel == nil || sel.ID != "c9" {
		t.Fatalf("Selected = %+v", sel)
	}
}

func TestStore_RemoveClearsSelection(t *testing.T) {
	s := NewStore()
	c := s.Upsert(liveConsultation("c1", "pat-1"))
	s.Upsert(liveConsultation("c2", "pat-2"))
	s.Select(c)

	removed := s.Remove(func(e *Consultation) bool { return e.ID == "c1" })
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if s.Selected() != nil {
		t.Error("removing the selected entry should clear the selection")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStore_FindByPatientPrefersLive(t *testing.T) {
	s := NewStore()
	done := liveConsultation("c1", "pat-1")
	done.Status = StatusCompleted
	s.Upsert(done)
	s.Upsert(liveConsultation("c2", "pat-1"))

	got := s.FindByPatient("pat-1")
	if got == nil || got.ID != "c2" {
		t.Fatalf("FindByPatient = %+v, want live c2", got)
	}
	if s.FindByPatient("") != nil {
		t.Error("empty patient id should find nothing")
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	s.Upsert(liveConsultation("c1", "pat-1"))

	got := s.Find("c1")
	got.Diagnosis = "mutated outside"

	if s.Find("c1").Diagnosis != "" {
		t.Error("Find must return a copy, not the stored entry")
	}
}

func TestStore_OnChangeFires(t *testing.T) {
	s := NewStore()
	fired := 0
	s.SetOnChange(func() { fired++ })

	s.Upsert(liveConsultation("c1", "pat-1"))
	c := s.Find("c1")
	s.Select(c)
	s.Remove(func(e *Consultation) bool { return e.ID == "c1" })

	if fired != 3 {
		t.Errorf("onChange fired %d times, want 3", fired)
	}

	// A no-op remove must not notify.
	s.Remove(func(e *Consultation) bool { return false })
	if fired != 3 {
		t.Errorf("no-op remove notified: fired = %d", fired)
	}
}
