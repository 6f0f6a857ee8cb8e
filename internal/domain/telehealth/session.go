package telehealth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Domain errors. The NotFound variants all wrap ErrNotFound so callers that
// only care about "nothing there" can match once.
var (
	ErrNotFound        = errors.New("not found")
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)
	ErrOfferNotSet     = fmt.Errorf("offer %w", ErrNotFound)
	ErrAnswerNotSet    = fmt.Errorf("answer %w", ErrNotFound)
	ErrUnauthorized    = errors.New("caller is not authorized for this session")
	ErrInvalidPayload  = errors.New("invalid signaling payload")
	ErrIDExhausted     = errors.New("could not allocate a unique session id")
)

// State is the client-observable phase of a session.
type State string

const (
	StateCreated  State = "created"
	StateOffered  State = "offered"
	StateAnswered State = "answered"
)

// CandidateKey identifies an ICE candidate slot within a session. Two
// candidates with the same media id and line index overwrite each other.
type CandidateKey struct {
	Mid       string
	LineIndex int
}

// String renders the key in its wire form, "<mid>_<index>".
func (k CandidateKey) String() string {
	return k.Mid + "_" + strconv.Itoa(k.LineIndex)
}

// ParseCandidateKey is the inverse of CandidateKey.String. The media id may
// itself contain underscores; the index is everything after the last one.
func ParseCandidateKey(s string) (CandidateKey, error) {
	i := strings.LastIndexByte(s, '_')
	if i < 0 {
		return CandidateKey{}, fmt.Errorf("candidate key %q: missing separator", s)
	}
	idx, err := strconv.Atoi(s[i+1:])
	if err != nil || idx < 0 {
		return CandidateKey{}, fmt.Errorf("candidate key %q: bad line index", s)
	}
	return CandidateKey{Mid: s[:i], LineIndex: idx}, nil
}

// Session is a point-in-time copy of a signaling session. Mutating it has no
// effect on the registry.
type Session struct {
	ID           string
	DoctorID     int64
	PatientID    int64
	Offer        *string
	Answer       *string
	Candidates   map[CandidateKey]string
	CreatedAt    time.Time
	LastActivity time.Time
	Active       bool
}

// State derives the session phase from which payloads have been posted.
func (s *Session) State() State {
	switch {
	case s.Answer != nil:
		return StateAnswered
	case s.Offer != nil:
		return StateOffered
	default:
		return StateCreated
	}
}

// HasParticipant reports whether the given role ids identify one side of
// the session. Nil ids never match.
func (s *Session) HasParticipant(doctorID, patientID *int64) bool {
	if doctorID != nil && *doctorID == s.DoctorID {
		return true
	}
	return patientID != nil && *patientID == s.PatientID
}

// WireCandidates converts the candidate map to its JSON form.
func WireCandidates(c map[CandidateKey]string) map[string]string {
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k.String()] = v
	}
	return out
}
