package telehealth

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/healthsphere/healthsphere/internal/domain/identity"
)

// IdentityResolver maps an authenticated subject to a directory identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, subject string) (*identity.Identity, error)
}

// Metrics receives relay activity. telemetry.SignalingMetrics implements it.
type Metrics interface {
	SessionCreated()
	SessionEnded()
	SessionExpired()
	DescriptionPosted(kind string)
	CandidatePosted(stored bool)
	Rejected(operation string)
}

type nopMetrics struct{}

func (nopMetrics) SessionCreated()          {}
func (nopMetrics) SessionEnded()            {}
func (nopMetrics) SessionExpired()          {}
func (nopMetrics) DescriptionPosted(string) {}
func (nopMetrics) CandidatePosted(bool)     {}
func (nopMetrics) Rejected(string)          {}

// Service is the signaling relay. It stores whatever the two participants
// post and hands it to whoever asks; it never pushes anything.
type Service struct {
	sessions  *Registry
	ids       IdentityResolver
	validator PayloadValidator
	metrics   Metrics
	logger    zerolog.Logger
}

type ServiceOption func(*Service)

// WithPayloadValidator enables validation of posted descriptions and
// candidates.
func WithPayloadValidator(v PayloadValidator) ServiceOption {
	return func(s *Service) { s.validator = v }
}

func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func NewService(sessions *Registry, ids IdentityResolver, opts ...ServiceOption) *Service {
	s := &Service{
		sessions: sessions,
		ids:      ids,
		metrics:  nopMetrics{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "signaling").Logger()
	return s
}

// CreateSession opens a session between doctorID and patientID. The caller
// must be one of the two.
func (s *Service) CreateSession(ctx context.Context, caller string, doctorID, patientID int64) (string, error) {
	ident, err := s.resolve(ctx, caller)
	if err != nil {
		return "", err
	}
	if !ident.IsParticipant(doctorID, patientID) {
		s.metrics.Rejected("create_session")
		s.logger.Warn().
			Str("caller", caller).
			Int64("doctor_id", doctorID).
			Int64("patient_id", patientID).
			Msg("session create rejected: caller is not a participant")
		return "", ErrUnauthorized
	}

	id, err := s.sessions.Create(doctorID, patientID)
	if err != nil {
		return "", err
	}
	s.metrics.SessionCreated()
	s.logger.Info().
		Str("session_id", id).
		Int64("doctor_id", doctorID).
		Int64("patient_id", patientID).
		Str("role", string(ident.Role)).
		Msg("signaling session created")
	return id, nil
}

// PostOffer stores the offer, replacing any earlier one.
func (s *Service) PostOffer(ctx context.Context, caller, sessionID, offer string) error {
	return s.postDescription(ctx, caller, sessionID, webrtc.SDPTypeOffer, offer, s.sessions.SetOffer)
}

// PostAnswer stores the answer, replacing any earlier one.
func (s *Service) PostAnswer(ctx context.Context, caller, sessionID, answer string) error {
	return s.postDescription(ctx, caller, sessionID, webrtc.SDPTypeAnswer, answer, s.sessions.SetAnswer)
}

func (s *Service) postDescription(ctx context.Context, caller, sessionID string, kind webrtc.SDPType, payload string, store func(id, v string) bool) error {
	op := "post_" + kind.String()
	if _, err := s.authorize(ctx, op, caller, sessionID); err != nil {
		return err
	}
	if s.validator != nil {
		if err := s.validator.ValidateDescription(kind, payload); err != nil {
			return err
		}
	}
	if !store(sessionID, payload) {
		// Ended between the check and the write.
		return ErrSessionNotFound
	}
	s.metrics.DescriptionPosted(kind.String())
	s.logger.Debug().Str("session_id", sessionID).Str("kind", kind.String()).Int("bytes", len(payload)).Msg("description stored")
	return nil
}

// GetOffer returns the current offer.
func (s *Service) GetOffer(_ context.Context, _ string, sessionID string) (string, error) {
	v, err := s.sessions.Offer(sessionID)
	if err != nil {
		s.logger.Debug().Str("session_id", sessionID).Err(err).Msg("offer unavailable")
	}
	return v, err
}

// GetAnswer returns the current answer.
func (s *Service) GetAnswer(_ context.Context, _ string, sessionID string) (string, error) {
	v, err := s.sessions.Answer(sessionID)
	if err != nil {
		s.logger.Debug().Str("session_id", sessionID).Err(err).Msg("answer unavailable")
	}
	return v, err
}

// AddICECandidate stores a candidate under (mid, lineIndex). Posting to a
// session that does not exist is acknowledged and dropped.
func (s *Service) AddICECandidate(ctx context.Context, caller, sessionID, candidate, mid string, lineIndex int) error {
	_, err := s.authorize(ctx, "add_candidate", caller, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		s.metrics.CandidatePosted(false)
		s.logger.Debug().Str("session_id", sessionID).Msg("candidate for unknown session dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if s.validator != nil {
		if err := s.validator.ValidateCandidate(candidate); err != nil {
			return err
		}
	}

	key := CandidateKey{Mid: mid, LineIndex: lineIndex}
	stored := s.sessions.AddCandidate(sessionID, key, candidate)
	s.metrics.CandidatePosted(stored)
	return nil
}

// GetICECandidates returns a copy of every candidate posted so far.
func (s *Service) GetICECandidates(_ context.Context, _ string, sessionID string) (map[CandidateKey]string, error) {
	return s.sessions.Candidates(sessionID)
}

// EndSession removes the session. Ending a session that does not exist
// succeeds.
func (s *Service) EndSession(ctx context.Context, caller, sessionID string) error {
	_, err := s.authorize(ctx, "end_session", caller, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if s.sessions.Remove(sessionID) {
		s.metrics.SessionEnded()
		s.logger.Info().Str("session_id", sessionID).Str("caller", caller).Msg("signaling session ended")
	}
	return nil
}

// FindActiveSession returns the newest live session between the pair. The
// caller must be one of them.
func (s *Service) FindActiveSession(ctx context.Context, caller string, doctorID, patientID int64) (*Session, error) {
	ident, err := s.resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !ident.IsParticipant(doctorID, patientID) {
		s.metrics.Rejected("find_session")
		return nil, ErrUnauthorized
	}
	return s.sessions.FindActiveByParticipants(doctorID, patientID)
}

// SessionStatus returns a snapshot of the session for one of its
// participants.
func (s *Service) SessionStatus(ctx context.Context, caller, sessionID string) (*Session, error) {
	return s.authorize(ctx, "session_status", caller, sessionID)
}

// authorize loads the session and checks the caller is one of its
// participants.
func (s *Service) authorize(ctx context.Context, op, caller, sessionID string) (*Session, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	ident, err := s.resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !sess.HasParticipant(ident.DoctorID, ident.PatientID) {
		s.metrics.Rejected(op)
		s.logger.Warn().Str("session_id", sessionID).Str("caller", caller).Str("op", op).Msg("caller is not a participant")
		return nil, ErrUnauthorized
	}
	return sess, nil
}

func (s *Service) resolve(ctx context.Context, caller string) (*identity.Identity, error) {
	ident, err := s.ids.Resolve(ctx, caller)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return ident, nil
}

// ActiveSessions returns the number of sessions currently held.
func (s *Service) ActiveSessions() int {
	return s.sessions.Len()
}
