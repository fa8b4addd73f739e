package consultation

import "sync"

// Store owns the canonical in-memory list of consultations and the single
// selected one. All mutation goes through de-duplicating primitives so a
// poll-triggered and an event-triggered ingestion of the same patient
// resolve to one entry regardless of arrival order.
type Store struct {
	mu       sync.RWMutex
	list     []*Consultation
	selected *Consultation
	onChange func()
}

// NewStore returns an empty session store.
func NewStore() *Store {
	return &Store{}
}

// SetOnChange registers a hook invoked after every mutation, outside the
// store lock. Used to push read-model updates to the UI.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Upsert inserts the consultation or merges it into an existing entry.
// An entry matches by id, or — for live consultations — by normalized
// patient id, which suppresses duplicate live entries for one patient.
// The merge never downgrades a completed entry back to live and keeps the
// first stable (non-synthetic) id seen. Returns a copy of the stored entity.
func (s *Store) Upsert(c *Consultation) *Consultation {
	if c == nil {
		return nil
	}
	s.mu.Lock()
	existing := s.findLocked(c)
	var stored *Consultation
	if existing != nil {
		existing.mergeFrom(c)
		stored = existing
	} else {
		stored = c.Clone()
		s.list = append(s.list, stored)
	}
	out := stored.Clone()
	s.mu.Unlock()
	s.notify()
	return out
}

func (s *Store) findLocked(c *Consultation) *Consultation {
	for _, e := range s.list {
		if c.ID != "" && e.ID == c.ID {
			return e
		}
	}
	if !c.Live() {
		return nil
	}
	key := c.PatientKey()
	if key == "" {
		return nil
	}
	for _, e := range s.list {
		if e.Live() && e.PatientKey() == key {
			return e
		}
	}
	return nil
}

// Remove deletes every entry matching pred and clears the selection if it
// was removed. Returns the number of entries removed.
func (s *Store) Remove(pred func(*Consultation) bool) int {
	s.mu.Lock()
	kept := s.list[:0]
	removed := 0
	for _, e := range s.list {
		if pred(e) {
			removed++
			if s.selected == e {
				s.selected = nil
			}
			continue
		}
		kept = append(kept, e)
	}
	s.list = kept
	s.mu.Unlock()
	if removed > 0 {
		s.notify()
	}
	return removed
}

// Select sets the active consultation, or clears it when c is nil. When c
// is not yet stored it is inserted first so selection always points at a
// stored entry.
func (s *Store) Select(c *Consultation) {
	s.mu.Lock()
	if c == nil {
		s.selected = nil
		s.mu.Unlock()
		s.notify()
		return
	}
	entry := s.findLocked(c)
	if entry == nil {
		entry = c.Clone()
		s.list = append(s.list, entry)
	}
	s.selected = entry
	s.mu.Unlock()
	s.notify()
}

// Selected returns a copy of the active consultation, or nil.
func (s *Store) Selected() *Consultation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected.Clone()
}

// Find returns a copy of the entry with the given id, or nil.
func (s *Store) Find(id string) *Consultation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.list {
		if e.ID == id {
			return e.Clone()
		}
	}
	return nil
}

// FindByPatient returns a copy of an entry for the given normalized
// patient id, preferring a live one.
func (s *Store) FindByPatient(patientID string) *Consultation {
	if patientID == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var fallback *Consultation
	for _, e := range s.list {
		if e.PatientKey() != patientID {
			continue
		}
		if e.Live() {
			return e.Clone()
		}
		if fallback == nil {
			fallback = e
		}
	}
	return fallback.Clone()
}

// List returns copies of all entries in insertion order.
func (s *Store) List() []*Consultation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Consultation, 0, len(s.list))
	for _, e := range s.list {
		out = append(out, e.Clone())
	}
	return out
}

// Len returns the number of stored consultations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}
