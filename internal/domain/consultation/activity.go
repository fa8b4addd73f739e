package consultation

import "sync/atomic"

// ActivityTracker answers "is it currently unsafe to overwrite the form or
// the selection?". The flags live in atomic cells rather than captured
// values so a reconciliation pass started from any goroutine reads the
// value as of this instant, never a stale snapshot.
type ActivityTracker struct {
	editing        atomic.Bool
	manual         atomic.Bool
	lastReconciled atomic.Value // string: consultation id vitals were last loaded for
}

// NewActivityTracker returns a tracker with all guards cleared.
func NewActivityTracker() *ActivityTracker {
	t := &ActivityTracker{}
	t.lastReconciled.Store("")
	return t
}

// EditingActive reports whether the doctor has unsaved form content.
func (t *ActivityTracker) EditingActive() bool { return t.editing.Load() }

// SetEditing records the editing flag. Callers recompute it synchronously
// from draft content on every field change.
func (t *ActivityTracker) SetEditing(active bool) { t.editing.Store(active) }

// ManuallySelected reports whether the current selection was pinned by an
// explicit user click.
func (t *ActivityTracker) ManuallySelected() bool { return t.manual.Load() }

// SetManual pins or unpins the manual-selection guard.
func (t *ActivityTracker) SetManual(pinned bool) { t.manual.Store(pinned) }

// ClearManualForDifferentPatient clears the manual pin only when the
// incoming patient differs from the pinned one. A re-call of the same
// patient or a background verification pass never unpins.
func (t *ActivityTracker) ClearManualForDifferentPatient(currentPatient, incomingPatient string) bool {
	if !t.manual.Load() {
		return false
	}
	if incomingPatient == "" || incomingPatient == currentPatient {
		return false
	}
	t.manual.Store(false)
	return true
}

// LastReconciledID returns the consultation id the form was last loaded
// for, used to skip redundant resets.
func (t *ActivityTracker) LastReconciledID() string {
	s, _ := t.lastReconciled.Load().(string)
	return s
}

// SetLastReconciledID records the consultation id just loaded.
func (t *ActivityTracker) SetLastReconciledID(id string) {
	t.lastReconciled.Store(id)
}

// Reset clears every guard; used when the session is torn down.
func (t *ActivityTracker) Reset() {
	t.editing.Store(false)
	t.manual.Store(false)
	t.lastReconciled.Store("")
}
