package consultation

import "testing"

func TestActivityTracker_EditingFlag(t *testing.T) {
	tr := NewActivityTracker()
	if tr.EditingActive() {
		t.Error("fresh tracker should not be editing")
	}
	tr.SetEditing(true)
	if !tr.EditingActive() {
		t.Error("editing flag not set")
	}
	tr.SetEditing(false)
	if tr.EditingActive() {
		t.Error("editing flag not cleared")
	}
}

func TestActivityTracker_ClearManualForDifferentPatient(t *testing.T) {
	tr := NewActivityTracker()
	tr.SetManual(true)

	// Same patient or missing patient never unpins.
	if tr.ClearManualForDifferentPatient("pat-1", "pat-1") {
		t.Error("same patient must not clear the pin")
	}
	if tr.ClearManualForDifferentPatient("pat-1", "") {
		t.Error("unknown incoming patient must not clear the pin")
	}
	if !tr.ManuallySelected() {
		t.Fatal("pin should still be set")
	}

	if !tr.ClearManualForDifferentPatient("pat-1", "pat-2") {
		t.Error("a different patient should clear the pin")
	}
	if tr.ManuallySelected() {
		t.Error("pin should be cleared")
	}

	// Clearing when not pinned is a no-op.
	if tr.ClearManualForDifferentPatient("pat-1", "pat-2") {
		t.Error("unpinned tracker should report false")
	}
}

func TestActivityTracker_LastReconciledID(t *testing.T) {
	tr := NewActivityTracker()
	if tr.LastReconciledID() != "" {
		t.Error("fresh tracker should have no reconciled id")
	}
	tr.SetLastReconciledID("c1")
	if tr.LastReconciledID() != "c1" {
		t.Errorf("got %q", tr.LastReconciledID())
	}
}

func TestActivityTracker_Reset(t *testing.T) {
	tr := NewActivityTracker()
	tr.SetEditing(true)
	tr.SetManual(true)
	tr.SetLastReconciledID("c1")

	tr.Reset()

	if tr.EditingActive() || tr.ManuallySelected() || tr.LastReconciledID() != "" {
		t.Error("reset should clear every guard")
	}
}
