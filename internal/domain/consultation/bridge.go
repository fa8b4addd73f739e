package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/healiinn/consult/internal/platform/metrics"
)

// defaultVerifyDelay postpones the post-restore patient verification so the
// first paint serves cached data without blocking on the network.
const defaultVerifyDelay = time.Second

// sessionMarker is the "live session" stamp stored alongside the cached
// consultation. A cached consultation without an active marker is stale
// and must not be resurrected.
type sessionMarker struct {
	Active         bool      `json:"active"`
	SessionID      string    `json:"session_id,omitempty"`
	ConsultationID string    `json:"consultation_id,omitempty"`
	SavedAt        time.Time `json:"saved_at"`
}

// Bridge mirrors the session store and the in-flight draft to the durable
// cache so a workstation reload resumes mid-consultation, and restores
// from it at startup subject to the live-session marker.
type Bridge struct {
	cache   SessionCache
	store   *Store
	tracker *ActivityTracker
	backend Backend
	log     zerolog.Logger

	// VerifyDelay is how long after a restore the background existence
	// check fires. Tests shorten it.
	VerifyDelay time.Duration
}

// NewBridge wires a persistence bridge over the given collaborators.
func NewBridge(cache SessionCache, store *Store, tracker *ActivityTracker, backend Backend, logger zerolog.Logger) *Bridge {
	return &Bridge{
		cache:       cache,
		store:       store,
		tracker:     tracker,
		backend:     backend,
		log:         logger,
		VerifyDelay: defaultVerifyDelay,
	}
}

// PersistSelected mirrors the selected consultation merged with the
// current draft. Only live consultations are cached; anything else clears
// the entry and the session marker.
func (b *Bridge) PersistSelected(ctx context.Context, c *Consultation, draft *Draft) error {
	if c == nil || !c.Live() {
		return b.Invalidate(ctx)
	}

	merged := c.Clone()
	draft.ApplyTo(merged)

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode cached consultation: %w", err)
	}
	if err := b.cache.SetItem(ctx, KeySelectedConsultation, string(payload)); err != nil {
		return fmt.Errorf("cache selected consultation: %w", err)
	}

	marker, err := json.Marshal(sessionMarker{
		Active:         true,
		SessionID:      merged.SessionID,
		ConsultationID: merged.ID,
		SavedAt:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode session marker: %w", err)
	}
	if err := b.cache.SetItem(ctx, KeyCurrentSession, string(marker)); err != nil {
		return fmt.Errorf("cache session marker: %w", err)
	}
	return nil
}

// PersistList mirrors the full consultation list.
func (b *Bridge) PersistList(ctx context.Context) error {
	payload, err := json.Marshal(b.store.List())
	if err != nil {
		return fmt.Errorf("encode cached list: %w", err)
	}
	if err := b.cache.SetItem(ctx, KeyConsultations, string(payload)); err != nil {
		return fmt.Errorf("cache consultation list: %w", err)
	}
	return nil
}

// Invalidate removes the cached selection and the session marker. Called
// whenever the selection clears or leaves the live state.
func (b *Bridge) Invalidate(ctx context.Context) error {
	if err := b.cache.RemoveItem(ctx, KeySelectedConsultation); err != nil {
		return fmt.Errorf("clear cached consultation: %w", err)
	}
	if err := b.cache.RemoveItem(ctx, KeyCurrentSession); err != nil {
		return fmt.Errorf("clear session marker: %w", err)
	}
	return nil
}

// Restore loads the cached session at startup. A consultation is only
// restored when the session marker is present and active and the cached
// record is still live; otherwise both entries are discarded. On success
// the restored consultation is upserted, selected, and scheduled for a
// delayed existence check against the patient lookup.
func (b *Bridge) Restore(ctx context.Context) (*Consultation, error) {
	rawMarker, ok, err := b.cache.GetItem(ctx, KeyCurrentSession)
	if err != nil {
		return nil, fmt.Errorf("read session marker: %w", err)
	}
	var marker sessionMarker
	if ok {
		if err := json.Unmarshal([]byte(rawMarker), &marker); err != nil {
			b.log.Warn().Err(err).Msg("discarding unreadable session marker")
			marker = sessionMarker{}
		}
	}
	if !marker.Active {
		metrics.CacheRestores.WithLabelValues("no_session").Inc()
		_ = b.Invalidate(ctx)
		return nil, nil
	}

	raw, ok, err := b.cache.GetItem(ctx, KeySelectedConsultation)
	if err != nil {
		return nil, fmt.Errorf("read cached consultation: %w", err)
	}
	if !ok {
		metrics.CacheRestores.WithLabelValues("empty").Inc()
		_ = b.Invalidate(ctx)
		return nil, nil
	}

	var c Consultation
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		metrics.CacheRestores.WithLabelValues("corrupt").Inc()
		_ = b.Invalidate(ctx)
		return nil, fmt.Errorf("decode cached consultation: %w", err)
	}
	if !c.Live() {
		metrics.CacheRestores.WithLabelValues("not_live").Inc()
		_ = b.Invalidate(ctx)
		return nil, nil
	}

	if list, ok, err := b.cache.GetItem(ctx, KeyConsultations); err == nil && ok {
		var cached []*Consultation
		if err := json.Unmarshal([]byte(list), &cached); err == nil {
			for _, entry := range cached {
				b.store.Upsert(entry)
			}
		}
	}

	stored := b.store.Upsert(&c)
	b.store.Select(stored)
	b.tracker.SetLastReconciledID(stored.ID)
	metrics.CacheRestores.WithLabelValues("restored").Inc()

	b.log.Info().
		Str("consultation_id", stored.ID).
		Str("patient_id", stored.PatientKey()).
		Msg("restored consultation from cache")

	b.scheduleVerify(stored.Clone())
	return stored, nil
}

// scheduleVerify fires the decoupled existence check once, after the
// configured delay, so restore never blocks on the network.
func (b *Bridge) scheduleVerify(c *Consultation) {
	time.AfterFunc(b.VerifyDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.verifyRestored(ctx, c)
	})
}

// verifyRestored confirms the restored patient still resolves. Only a
// definitive NotFound tears the session down; connectivity failures keep
// the cached state and are logged.
func (b *Bridge) verifyRestored(ctx context.Context, c *Consultation) {
	_, err := b.backend.FetchPatientHistory(ctx, c.PatientKey())
	if err == nil {
		return
	}
	if !errors.Is(err, ErrNotFound) {
		b.log.Warn().Err(err).
			Str("patient_id", c.PatientKey()).
			Msg("restore verification inconclusive, keeping cached session")
		return
	}

	metrics.CacheRestores.WithLabelValues("verify_failed").Inc()
	b.log.Info().
		Str("patient_id", c.PatientKey()).
		Msg("restored patient no longer exists, clearing session")

	patientKey := c.PatientKey()
	b.store.Remove(func(e *Consultation) bool {
		return e.ID == c.ID || (patientKey != "" && e.PatientKey() == patientKey)
	})
	b.store.Select(nil)
	b.tracker.Reset()
	_ = b.Invalidate(ctx)
}
