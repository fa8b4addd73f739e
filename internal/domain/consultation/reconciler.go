package consultation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/healiinn/consult/internal/domain/queue"
	"github.com/healiinn/consult/internal/platform/metrics"
)

// defaultDebounceDelay coalesces bursts of low-information queue-updated
// events into a single refresh.
const defaultDebounceDelay = 500 * time.Millisecond

// SignalKind identifies what a consultation-affecting signal carries.
type SignalKind string

const (
	// KindQueueSnapshot is a full appointment list from a poll.
	KindQueueSnapshot SignalKind = "queue_snapshot"
	// KindPatientCalled is the push event announcing the next patient,
	// carrying the appointment and session inline.
	KindPatientCalled SignalKind = "patient_called"
	// KindQueueUpdated is the generic low-information push event.
	KindQueueUpdated SignalKind = "queue_updated"
	// KindNavigation is a consultation payload handed over by the UI when
	// the doctor navigates into a specific patient.
	KindNavigation SignalKind = "navigation"
)

// Signal is one consultation-affecting input. Exactly the fields relevant
// to its Kind are populated.
type Signal struct {
	Kind   SignalKind
	Source string // "poll", "push", "navigation", "debounce"

	Appointments  []queue.Appointment // KindQueueSnapshot
	Appointment   *queue.Appointment  // KindPatientCalled, optionally KindQueueUpdated
	Session       *queue.Session      // KindPatientCalled
	AppointmentID string              // KindQueueUpdated
	Consultation  *Consultation       // KindNavigation
}

// patientKey extracts the normalized patient id the signal refers to, for
// the identity comparisons the guards need even when the signal is dropped.
func (s *Signal) patientKey() string {
	switch {
	case s.Appointment != nil:
		return s.Appointment.PatientID()
	case s.Consultation != nil:
		return s.Consultation.PatientKey()
	case s.Kind == KindQueueSnapshot:
		if a := queue.FirstActive(s.Appointments); a != nil {
			return a.PatientID()
		}
	}
	return ""
}

// Reconciler is the single entry point for every consultation-affecting
// signal. Poll results and push events both funnel through Handle so the
// store's dedup makes whichever arrives first win and the other a no-op.
type Reconciler struct {
	store   *Store
	tracker *ActivityTracker
	bridge  *Bridge
	backend Backend
	log     zerolog.Logger

	inFlight atomic.Bool

	// DebounceDelay and PollInterval may be overridden before Run.
	DebounceDelay time.Duration
	PollInterval  time.Duration

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewReconciler wires a reconciler over the session collaborators.
func NewReconciler(store *Store, tracker *ActivityTracker, bridge *Bridge, backend Backend, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:         store,
		tracker:       tracker,
		bridge:        bridge,
		backend:       backend,
		log:           logger,
		DebounceDelay: defaultDebounceDelay,
		PollInterval:  15 * time.Second,
	}
}

// Run polls the queue until ctx is done, routing every snapshot through
// Handle. Poll failures are logged and the next tick retries; the backend
// client already throttles repeated connectivity warnings.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	r.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Reconciler) pollOnce(ctx context.Context) {
	appts, err := r.backend.FetchQueueSnapshot(ctx, time.Now())
	if err != nil {
		metrics.BackendErrors.WithLabelValues("fetch queue", errorKind(err)).Inc()
		r.log.Debug().Err(err).Msg("queue poll failed")
		return
	}
	r.Handle(ctx, Signal{Kind: KindQueueSnapshot, Source: "poll", Appointments: appts})
}

// Handle runs one reconciliation pass for the signal. Queue-updated
// signals are debounced into a snapshot refresh; everything else runs
// immediately under the in-flight guard — a pass that starts while
// another is running is dropped, not queued, because the next signal
// re-runs the same deterministic logic.
func (r *Reconciler) Handle(ctx context.Context, sig Signal) {
	if sig.Kind == KindQueueUpdated {
		r.handleQueueUpdated(sig)
		return
	}

	if !r.inFlight.CompareAndSwap(false, true) {
		metrics.ReconcilerDropped.WithLabelValues("in_flight").Inc()
		r.log.Debug().Str("kind", string(sig.Kind)).Msg("reconciliation already in flight, dropping signal")
		return
	}
	defer r.inFlight.Store(false)

	r.pass(ctx, sig)
}

// handleQueueUpdated implements the low-information event path: identical
// to the current selection it is a duplicate; otherwise bursts are
// coalesced and a fresh snapshot drives the normal algorithm.
func (r *Reconciler) handleQueueUpdated(sig Signal) {
	if sel := r.store.Selected(); sel != nil {
		id := sig.AppointmentID
		if id == "" && sig.Appointment != nil {
			id = sig.Appointment.ID
		}
		if id != "" && id == sel.AppointmentID {
			metrics.ReconcilerDropped.WithLabelValues("duplicate").Inc()
			return
		}
	}

	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.DebounceDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		appts, err := r.backend.FetchQueueSnapshot(ctx, time.Now())
		if err != nil {
			metrics.BackendErrors.WithLabelValues("fetch queue", errorKind(err)).Inc()
			r.log.Debug().Err(err).Msg("debounced queue refresh failed")
			return
		}
		r.Handle(ctx, Signal{Kind: KindQueueSnapshot, Source: "debounce", Appointments: appts})
	})
}

// pass applies the priority algorithm: editing wins over everything, a
// manual pin absorbs duplicates of itself, then the signal-specific logic
// mutates the store.
func (r *Reconciler) pass(ctx context.Context, sig Signal) {
	metrics.ReconcilerPasses.WithLabelValues(sig.Source).Inc()

	// Guards read fresh state at pass start, never captured values.
	editing := r.tracker.EditingActive()
	sel := r.store.Selected()
	incoming := sig.patientKey()

	if editing {
		if sel != nil && incoming != "" && incoming == sel.PatientKey() {
			metrics.ReconcilerDropped.WithLabelValues("editing_same_patient").Inc()
			r.log.Debug().Str("patient_id", incoming).Msg("signal for patient already on screen, editing in progress")
		} else {
			metrics.ReconcilerDropped.WithLabelValues("editing").Inc()
			r.log.Info().
				Str("kind", string(sig.Kind)).
				Str("patient_id", incoming).
				Msg("doctor is editing, signal ignored")
		}
		return
	}

	pinned := r.tracker.ManuallySelected()
	if pinned && sel != nil && sig.Kind != KindNavigation {
		if incoming != "" && incoming == sel.PatientKey() {
			metrics.ReconcilerDropped.WithLabelValues("manual_duplicate").Inc()
			return
		}
		// A genuinely new patient outranks a manual pin.
		r.tracker.ClearManualForDifferentPatient(sel.PatientKey(), incoming)
	}

	// A queue-driven switch to a different patient supersedes an unpinned
	// live selection: the prior entry leaves the working set. A pinned one
	// stays listed even after the pin clears, and navigation never evicts.
	if sel != nil && !pinned && sel.Live() &&
		incoming != "" && incoming != sel.PatientKey() &&
		(sig.Kind == KindQueueSnapshot || sig.Kind == KindPatientCalled) {
		id := sel.ID
		r.store.Remove(func(e *Consultation) bool { return e.ID == id })
		r.log.Info().
			Str("patient_id", sel.PatientKey()).
			Str("superseded_by", incoming).
			Msg("unpinned consultation superseded by new patient")
	}

	switch sig.Kind {
	case KindQueueSnapshot:
		r.applySnapshot(ctx, sig.Appointments)
	case KindPatientCalled:
		r.applyCalled(ctx, sig.Appointment, sig.Session)
	case KindNavigation:
		r.applyNavigation(ctx, sig.Consultation)
	}
}

// applySnapshot reconciles a full queue snapshot: the first active
// appointment becomes the selection; a finished appointment tears the
// stale selection down; an appointment merely absent from the snapshot is
// not authoritative and leaves the selection alone.
func (r *Reconciler) applySnapshot(ctx context.Context, appts []queue.Appointment) {
	active := queue.FirstActive(appts)
	sel := r.store.Selected()

	if active != nil {
		if sel != nil && sel.PatientKey() == active.PatientID() {
			// Same patient: sync status/appointment metadata in place.
			r.store.Upsert(&Consultation{
				ID:            sel.ID,
				AppointmentID: active.ID,
				PatientID:     active.Patient,
				Status:        statusFromAppointment(active.Status),
				SessionID:     active.SessionID,
			})
			r.persist(ctx)
			return
		}
		c := r.buildConsultation(ctx, active, nil)
		stored := r.store.Upsert(c)
		r.store.Select(stored)
		r.tracker.SetLastReconciledID(stored.ID)
		r.persist(ctx)
		r.log.Info().
			Str("patient_id", stored.PatientKey()).
			Str("appointment_id", stored.AppointmentID).
			Msg("queue snapshot selected active patient")
		return
	}

	if sel == nil {
		return
	}
	appt := queue.FindByID(appts, sel.AppointmentID)
	if appt == nil {
		// Absent from this snapshot (possibly another session's queue):
		// presence is not authoritative for deletion.
		return
	}
	if queue.IsFinished(appt.Status) {
		id := sel.ID
		r.store.Remove(func(e *Consultation) bool { return e.ID == id })
		r.store.Select(nil)
		r.tracker.SetLastReconciledID("")
		if err := r.bridge.Invalidate(ctx); err != nil {
			r.log.Warn().Err(err).Msg("cache invalidation failed")
		}
		r.log.Info().
			Str("appointment_id", appt.ID).
			Str("status", appt.Status).
			Msg("appointment finished, cleared selection")
	}
}

// applyCalled consumes the next-patient push event using its embedded
// appointment directly, with no extra queue fetch.
func (r *Reconciler) applyCalled(ctx context.Context, appt *queue.Appointment, session *queue.Session) {
	if appt == nil {
		return
	}
	c := r.buildConsultation(ctx, appt, session)
	stored := r.store.Upsert(c)
	r.store.Select(stored)
	r.tracker.SetLastReconciledID(stored.ID)
	r.persist(ctx)
	r.log.Info().
		Str("patient_id", stored.PatientKey()).
		Str("appointment_id", stored.AppointmentID).
		Msg("patient called")
}

// applyNavigation ingests a consultation the doctor navigated into. An
// explicit navigation pins the selection like a manual click.
func (r *Reconciler) applyNavigation(ctx context.Context, c *Consultation) {
	if c == nil {
		return
	}
	stored := r.store.Upsert(c)
	r.store.Select(stored)
	r.tracker.SetManual(true)
	r.tracker.SetLastReconciledID(stored.ID)
	r.persist(ctx)
}

// buildConsultation synthesizes a consultation from an appointment and
// opportunistically enriches it with the full patient profile. A failed
// lookup degrades to the appointment payload's snapshot and never aborts
// creation.
func (r *Reconciler) buildConsultation(ctx context.Context, appt *queue.Appointment, session *queue.Session) *Consultation {
	c := NewFromAppointment(appt)
	c.Status = statusFromAppointment(appt.Status)
	if session != nil {
		c.SessionID = session.ID
	}

	if pid := appt.PatientID(); pid != "" {
		profile, err := r.backend.FetchPatientByID(ctx, pid)
		if err != nil {
			metrics.BackendErrors.WithLabelValues("fetch patient", errorKind(err)).Inc()
			r.log.Debug().Err(err).Str("patient_id", pid).Msg("patient enrichment failed, using appointment snapshot")
		} else {
			c.ApplyProfile(profile)
		}
	}
	return c
}

func (r *Reconciler) persist(ctx context.Context) {
	if err := r.bridge.PersistSelected(ctx, r.store.Selected(), nil); err != nil {
		r.log.Warn().Err(err).Msg("session persistence failed")
	}
	if err := r.bridge.PersistList(ctx); err != nil {
		r.log.Warn().Err(err).Msg("list persistence failed")
	}
}

// statusFromAppointment maps queue appointment statuses onto consultation
// statuses.
func statusFromAppointment(status string) Status {
	switch status {
	case queue.StatusCalled:
		return StatusCalled
	case queue.StatusInConsultation, queue.StatusInProgress:
		return StatusInProgress
	case queue.StatusCompleted:
		return StatusCompleted
	case queue.StatusCancelled:
		return StatusCancelled
	case queue.StatusWaiting:
		return StatusWaiting
	default:
		return StatusPending
	}
}

// errorKind labels an error for metrics.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	default:
		return "unknown"
	}
}
