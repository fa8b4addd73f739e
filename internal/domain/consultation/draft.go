package consultation

import (
	"strings"
	"sync/atomic"
	"time"
)

// localIDCounter seeds locally-unique ids for draft list entries. Seeding
// from the clock keeps ids from colliding across process restarts while a
// cached draft is still around; the atomic increment keeps them monotonic
// within a process.
var localIDCounter atomic.Int64

func init() {
	localIDCounter.Store(time.Now().UnixMilli())
}

func nextLocalID() int64 {
	return localIDCounter.Add(1)
}

// Draft is the editable form state for the selected consultation. It is an
// independent value object: nothing in it touches the session store until
// the doctor saves.
type Draft struct {
	Vitals         Vitals          `json:"vitals"`
	Diagnosis      string          `json:"diagnosis,omitempty"`
	Symptoms       string          `json:"symptoms,omitempty"`
	Advice         string          `json:"advice,omitempty"`
	FollowUpDate   string          `json:"follow_up_date,omitempty"`
	Medications    []Medication    `json:"medications,omitempty"`
	Investigations []Investigation `json:"investigations,omitempty"`
}

// NonEmpty reports whether any field holds content. This is the signal
// that drives the editing-active guard, so it must stay a cheap
// synchronous computation over current values.
func (d *Draft) NonEmpty() bool {
	if d == nil {
		return false
	}
	if strings.TrimSpace(d.Diagnosis) != "" || strings.TrimSpace(d.Symptoms) != "" ||
		strings.TrimSpace(d.Advice) != "" || strings.TrimSpace(d.FollowUpDate) != "" {
		return true
	}
	if len(d.Medications) > 0 || len(d.Investigations) > 0 {
		return true
	}
	return !d.Vitals.IsZero()
}

// AddMedication appends a medication line, assigning it a local id used
// only for removal targeting before a save.
func (d *Draft) AddMedication(m Medication) Medication {
	m.LocalID = nextLocalID()
	d.Medications = append(d.Medications, m)
	return m
}

// RemoveMedication removes the line with the given local id.
func (d *Draft) RemoveMedication(localID int64) bool {
	for i, m := range d.Medications {
		if m.LocalID == localID {
			d.Medications = append(d.Medications[:i], d.Medications[i+1:]...)
			return true
		}
	}
	return false
}

// AddInvestigation appends an investigation line with a fresh local id.
func (d *Draft) AddInvestigation(inv Investigation) Investigation {
	inv.LocalID = nextLocalID()
	d.Investigations = append(d.Investigations, inv)
	return inv
}

// RemoveInvestigation removes the line with the given local id.
func (d *Draft) RemoveInvestigation(localID int64) bool {
	for i, inv := range d.Investigations {
		if inv.LocalID == localID {
			d.Investigations = append(d.Investigations[:i], d.Investigations[i+1:]...)
			return true
		}
	}
	return false
}

// CalculateBMI recomputes the draft's derived BMI and returns it.
func (d *Draft) CalculateBMI() string {
	d.Vitals.CalculateBMI()
	return d.Vitals.BMI
}

// ApplyTo folds the draft's non-empty fields into a consultation. Used
// when mirroring to the cache mid-edit and when committing a save.
func (d *Draft) ApplyTo(c *Consultation) {
	if d == nil || c == nil {
		return
	}
	if d.Diagnosis != "" {
		c.Diagnosis = d.Diagnosis
	}
	if d.Symptoms != "" {
		c.Symptoms = d.Symptoms
	}
	if d.Advice != "" {
		c.Advice = d.Advice
	}
	if d.FollowUpDate != "" {
		c.FollowUpDate = d.FollowUpDate
	}
	if !d.Vitals.IsZero() {
		c.Vitals = d.Vitals
	}
	if len(d.Medications) > 0 {
		c.Medications = append([]Medication(nil), d.Medications...)
	}
	if len(d.Investigations) > 0 {
		c.Investigations = append([]Investigation(nil), d.Investigations...)
	}
}

// Clone returns a deep copy of the draft.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	out := *d
	out.Medications = append([]Medication(nil), d.Medications...)
	out.Investigations = append([]Investigation(nil), d.Investigations...)
	return &out
}

// Reset clears all draft content.
func (d *Draft) Reset() {
	*d = Draft{}
}
