package telehealth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// PayloadValidator checks signaling payloads before they are stored. The
// relay stores payloads verbatim either way.
type PayloadValidator interface {
	ValidateDescription(want webrtc.SDPType, payload string) error
	ValidateCandidate(candidate string) error
}

// SDPValidator parses descriptions and candidates with pion. Descriptions
// may arrive as a JSON RTCSessionDescription or as bare SDP text; candidates
// as a JSON RTCIceCandidateInit or as a bare candidate line.
type SDPValidator struct{}

func (SDPValidator) ValidateDescription(want webrtc.SDPType, payload string) error {
	desc := webrtc.SessionDescription{Type: want, SDP: payload}
	if trimmed := strings.TrimSpace(payload); strings.HasPrefix(trimmed, "{") {
		desc = webrtc.SessionDescription{}
		if err := json.Unmarshal([]byte(trimmed), &desc); err != nil {
			return fmt.Errorf("%w: decode session description: %v", ErrInvalidPayload, err)
		}
		if !typeAccepted(want, desc.Type) {
			return fmt.Errorf("%w: expected %s, got %s", ErrInvalidPayload, want, desc.Type)
		}
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return fmt.Errorf("%w: empty sdp", ErrInvalidPayload)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: parse sdp: %v", ErrInvalidPayload, err)
	}
	return nil
}

func typeAccepted(want, got webrtc.SDPType) bool {
	if want == webrtc.SDPTypeAnswer {
		return got == webrtc.SDPTypeAnswer || got == webrtc.SDPTypePranswer
	}
	return got == want
}

func (SDPValidator) ValidateCandidate(candidate string) error {
	line := strings.TrimSpace(candidate)
	if strings.HasPrefix(line, "{") {
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(line), &init); err != nil {
			return fmt.Errorf("%w: decode candidate: %v", ErrInvalidPayload, err)
		}
		line = strings.TrimSpace(init.Candidate)
	}
	// An empty candidate signals end-of-candidates.
	if line == "" {
		return nil
	}
	line = strings.TrimPrefix(line, "a=")
	line = strings.TrimPrefix(line, "candidate:")
	if _, err := ice.UnmarshalCandidate(line); err != nil {
		return fmt.Errorf("%w: parse candidate: %v", ErrInvalidPayload, err)
	}
	return nil
}
