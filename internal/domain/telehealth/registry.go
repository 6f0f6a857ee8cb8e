package telehealth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const idAttempts = 3

// entry is the registry-owned mutable state of one session. All fields
// below mu are guarded by it.
type entry struct {
	mu           sync.Mutex
	removed      bool
	id           string
	doctorID     int64
	patientID    int64
	offer        *string
	answer       *string
	candidates   map[CandidateKey]string
	createdAt    time.Time
	lastActivity time.Time
}

// snapshot must be called with e.mu held.
func (e *entry) snapshot() *Session {
	s := &Session{
		ID:           e.id,
		DoctorID:     e.doctorID,
		PatientID:    e.patientID,
		Candidates:   copyCandidates(e.candidates),
		CreatedAt:    e.createdAt,
		LastActivity: e.lastActivity,
		Active:       !e.removed,
	}
	if e.offer != nil {
		v := *e.offer
		s.Offer = &v
	}
	if e.answer != nil {
		v := *e.answer
		s.Answer = &v
	}
	return s
}

func copyCandidates(in map[CandidateKey]string) map[CandidateKey]string {
	out := make(map[CandidateKey]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Registry owns every live signaling session. The id map has its own lock
// and each session is guarded by a per-entry mutex, so traffic on one
// session never blocks another beyond the short map lookup.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	idleTimeout time.Duration
	now         func() time.Time
	newID       func() (string, error)
	onExpire    func(id string)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdleTimeout expires sessions that have not been addressed for d.
// Zero or negative disables expiry.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides the session id source.
func WithIDGenerator(gen func() (string, error)) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

// WithExpireHook is called once for every session removed due to idleness,
// whether found lazily on access or by Sweep.
func WithExpireHook(fn func(id string)) RegistryOption {
	return func(r *Registry) { r.onExpire = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*entry),
		now:      time.Now,
		newID:    randomID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func randomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Create allocates a new session between a doctor and a patient and returns
// its id.
func (r *Registry) Create(doctorID, patientID int64) (string, error) {
	for attempt := 0; attempt < idAttempts; attempt++ {
		id, err := r.newID()
		if err != nil {
			return "", err
		}
		now := r.now()

		r.mu.Lock()
		if _, exists := r.sessions[id]; exists {
			r.mu.Unlock()
			continue
		}
		r.sessions[id] = &entry{
			id:           id,
			doctorID:     doctorID,
			patientID:    patientID,
			candidates:   make(map[CandidateKey]string),
			createdAt:    now,
			lastActivity: now,
		}
		r.mu.Unlock()
		return id, nil
	}
	return "", ErrIDExhausted
}

// Get returns a snapshot of the session.
func (r *Registry) Get(id string) (*Session, error) {
	var s *Session
	if !r.withEntry(id, func(e *entry) { s = e.snapshot() }) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// SetOffer stores the offer, replacing any previous one. It reports false
// when the session does not exist.
func (r *Registry) SetOffer(id, offer string) bool {
	return r.withEntry(id, func(e *entry) { e.offer = &offer })
}

// SetAnswer stores the answer, replacing any previous one. It reports false
// when the session does not exist.
func (r *Registry) SetAnswer(id, answer string) bool {
	return r.withEntry(id, func(e *entry) { e.answer = &answer })
}

// AddCandidate inserts or overwrites the candidate at key. It reports false
// when the session does not exist.
func (r *Registry) AddCandidate(id string, key CandidateKey, candidate string) bool {
	return r.withEntry(id, func(e *entry) { e.candidates[key] = candidate })
}

// Offer returns the current offer, ErrSessionNotFound, or ErrOfferNotSet.
func (r *Registry) Offer(id string) (string, error) {
	var v *string
	if !r.withEntry(id, func(e *entry) { v = e.offer }) {
		return "", ErrSessionNotFound
	}
	if v == nil {
		return "", ErrOfferNotSet
	}
	return *v, nil
}

// Answer returns the current answer, ErrSessionNotFound, or ErrAnswerNotSet.
func (r *Registry) Answer(id string) (string, error) {
	var v *string
	if !r.withEntry(id, func(e *entry) { v = e.answer }) {
		return "", ErrSessionNotFound
	}
	if v == nil {
		return "", ErrAnswerNotSet
	}
	return *v, nil
}

// Candidates returns a copy of the session's candidate map.
func (r *Registry) Candidates(id string) (map[CandidateKey]string, error) {
	var out map[CandidateKey]string
	if !r.withEntry(id, func(e *entry) { out = copyCandidates(e.candidates) }) {
		return nil, ErrSessionNotFound
	}
	return out, nil
}

// Remove deletes the session. It is safe to call repeatedly and reports
// whether anything was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	wasLive := !e.removed
	e.removed = true
	return wasLive
}

// FindActiveByParticipants returns the most recently created live session
// between the two participants.
func (r *Registry) FindActiveByParticipants(doctorID, patientID int64) (*Session, error) {
	now := r.now()
	var best *Session
	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.removed && !r.expired(e, now) && e.doctorID == doctorID && e.patientID == patientID {
			if best == nil || e.createdAt.After(best.CreatedAt) {
				best = e.snapshot()
			}
		}
		e.mu.Unlock()
	}
	if best == nil {
		return nil, ErrSessionNotFound
	}
	return best, nil
}

// Sweep removes every session idle since before now minus the idle timeout
// and returns their ids.
func (r *Registry) Sweep(now time.Time) []string {
	if r.idleTimeout <= 0 {
		return nil
	}
	var expired []string
	for _, e := range r.entries() {
		e.mu.Lock()
		if e.removed || !r.expired(e, now) {
			e.mu.Unlock()
			continue
		}
		e.removed = true
		e.mu.Unlock()
		r.drop(e)
		expired = append(expired, e.id)
	}
	return expired
}

// Len returns the number of sessions held, including idle ones not yet swept.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// withEntry runs fn under the entry lock if the session is live, refreshing
// its activity time first.
func (r *Registry) withEntry(id string, fn func(e *entry)) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	now := r.now()
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return false
	}
	if r.expired(e, now) {
		e.removed = true
		e.mu.Unlock()
		r.drop(e)
		return false
	}
	e.lastActivity = now
	fn(e)
	e.mu.Unlock()
	return true
}

func (r *Registry) expired(e *entry, now time.Time) bool {
	return r.idleTimeout > 0 && now.Sub(e.lastActivity) > r.idleTimeout
}

// drop unlinks an entry that has already been marked removed for expiry.
func (r *Registry) drop(e *entry) {
	r.mu.Lock()
	if cur, ok := r.sessions[e.id]; ok && cur == e {
		delete(r.sessions, e.id)
	}
	r.mu.Unlock()
	if r.onExpire != nil {
		r.onExpire(e.id)
	}
}

func (r *Registry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e)
	}
	return out
}
