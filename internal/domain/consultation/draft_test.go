package consultation

import "testing"

func TestDraft_NonEmpty(t *testing.T) {
	var d Draft
	if d.NonEmpty() {
		t.Error("zero draft should be empty")
	}
	d.Diagnosis = "   "
	if d.NonEmpty() {
		t.Error("whitespace-only diagnosis should still count as empty")
	}
	d.Diagnosis = "viral fever"
	if !d.NonEmpty() {
		t.Error("diagnosis should make the draft non-empty")
	}

	d = Draft{Vitals: Vitals{Pulse: "72"}}
	if !d.NonEmpty() {
		t.Error("a vital should make the draft non-empty")
	}

	d = Draft{Medications: []Medication{{Name: "Drug A"}}}
	if !d.NonEmpty() {
		t.Error("a medication should make the draft non-empty")
	}

	var nilDraft *Draft
	if nilDraft.NonEmpty() {
		t.Error("nil draft should be empty")
	}
}

func TestDraft_LocalIDsAreUnique(t *testing.T) {
	var d Draft
	m1 := d.AddMedication(Medication{Name: "Drug A"})
	m2 := d.AddMedication(Medication{Name: "Drug B"})
	i1 := d.AddInvestigation(Investigation{Name: "CBC"})

	if m1.LocalID == 0 || m2.LocalID == 0 || i1.LocalID == 0 {
		t.Fatal("local ids must be assigned")
	}
	if m1.LocalID == m2.LocalID || m2.LocalID == i1.LocalID {
		t.Fatalf("local ids must be unique: %d %d %d", m1.LocalID, m2.LocalID, i1.LocalID)
	}
}

func TestDraft_RemoveByLocalID(t *testing.T) {
	var d Draft
	m1 := d.AddMedication(Medication{Name: "Drug A"})
	m2 := d.AddMedication(Medication{Name: "Drug B"})

	if !d.RemoveMedication(m1.LocalID) {
		t.Fatal("expected removal to succeed")
	}
	if len(d.Medications) != 1 || d.Medications[0].LocalID != m2.LocalID {
		t.Fatalf("wrong line removed: %+v", d.Medications)
	}
	if d.RemoveMedication(m1.LocalID) {
		t.Error("removing an already-removed id should report false")
	}

	inv := d.AddInvestigation(Investigation{Name: "CBC"})
	if !d.RemoveInvestigation(inv.LocalID) {
		t.Fatal("expected investigation removal to succeed")
	}
	if d.RemoveInvestigation(inv.LocalID) {
		t.Error("double removal should report false")
	}
}

func TestDraft_ApplyToSkipsEmptyFields(t *testing.T) {
	c := &Consultation{
		Diagnosis: "existing diagnosis",
		Symptoms:  "existing symptoms",
	}
	d := Draft{Diagnosis: "updated diagnosis"}
	d.ApplyTo(c)

	if c.Diagnosis != "updated diagnosis" {
		t.Errorf("diagnosis = %q", c.Diagnosis)
	}
	if c.Symptoms != "existing symptoms" {
		t.Errorf("empty draft field clobbered symptoms: %q", c.Symptoms)
	}
}

func TestDraft_ApplyToCopiesSlices(t *testing.T) {
	var d Draft
	d.AddMedication(Medication{Name: "Drug A"})

	c := &Consultation{}
	d.ApplyTo(c)
	d.Medications[0].Name = "Changed"

	if c.Medications[0].Name != "Drug A" {
		t.Error("ApplyTo should copy medication lines, not alias them")
	}
}

func TestDraft_Reset(t *testing.T) {
	d := Draft{Diagnosis: "x", Medications: []Medication{{Name: "Drug A"}}}
	d.Reset()
	if d.NonEmpty() {
		t.Errorf("draft not cleared: %+v", d)
	}
}
