package telehealth

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/healthsphere/healthsphere/internal/platform/auth"
)

type Handler struct {
	svc        *Service
	iceServers []webrtc.ICEServer
}

func NewHandler(svc *Service, iceServers []webrtc.ICEServer) *Handler {
	return &Handler{svc: svc, iceServers: iceServers}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webrtc")
	g.POST("/session", h.CreateSession)
	g.GET("/session", h.FindActiveSession)
	g.GET("/session/:sessionId", h.GetSession)
	g.POST("/offer", h.PostOffer)
	g.GET("/offer/:sessionId", h.GetOffer)
	g.POST("/answer", h.PostAnswer)
	g.GET("/answer/:sessionId", h.GetAnswer)
	g.POST("/ice", h.AddICECandidate)
	g.GET("/ice/:sessionId", h.GetICECandidates)
	g.POST("/end/:sessionId", h.EndSession)
	g.GET("/ice-servers", h.ICEServers)
}

// RegisterAdminRoutes mounts operator endpoints; only admins may call them.
func (h *Handler) RegisterAdminRoutes(admin *echo.Group) {
	admin.GET("/signaling/stats", h.Stats, auth.RequireRole("admin"))
}

type createSessionRequest struct {
	DoctorID  *int64 `json:"doctorId"`
	PatientID *int64 `json:"patientId"`
}

type offerRequest struct {
	SessionID string `json:"sessionId"`
	Offer     string `json:"offer"`
}

type answerRequest struct {
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
}

type candidateRequest struct {
	SessionID     string  `json:"sessionId"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *int    `json:"sdpMLineIndex"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type sessionResponse struct {
	SessionID      string    `json:"sessionId"`
	DoctorID       int64     `json:"doctorId"`
	PatientID      int64     `json:"patientId"`
	State          State     `json:"state"`
	HasOffer       bool      `json:"hasOffer"`
	HasAnswer      bool      `json:"hasAnswer"`
	CandidateCount int       `json:"candidateCount"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivity   time.Time `json:"lastActivity"`
}

func newSessionResponse(s *Session) sessionResponse {
	return sessionResponse{
		SessionID:      s.ID,
		DoctorID:       s.DoctorID,
		PatientID:      s.PatientID,
		State:          s.State(),
		HasOffer:       s.Offer != nil,
		HasAnswer:      s.Answer != nil,
		CandidateCount: len(s.Candidates),
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.LastActivity,
	}
}

func caller(c echo.Context) (string, error) {
	sub := auth.UserIDFromContext(c.Request().Context())
	if sub == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return sub, nil
}

// toHTTPError maps relay errors onto status codes. Absent sessions and
// unset values share one message per resource.
func toHTTPError(err error, notFoundMsg string) error {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return echo.NewHTTPError(http.StatusForbidden, "not a participant of this session")
	case errors.Is(err, ErrInvalidPayload):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFoundMsg)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) CreateSession(c echo.Context) error {
	sub, err := caller(c)
	if err != nil {
		return err
	}
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DoctorID == nil || *req.DoctorID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "doctorId is required")
	}
	if req.PatientID == nil || *req.PatientID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "patientId is required")
	}

	id, err := h.svc.CreateSession(c.Request().Context(), sub, *req.DoctorID, *req.PatientID)
	if err != nil {
		return toHTTPError(err, "session not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"sessionId": id})
}

func (h *Handler) PostOffer(c echo.Context) error {
	sub, err := caller(c)
	if err != nil {
		return err
	}
	var req offerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionId is required")
	}
	if req.Offer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "offer is required")
	}

	if err := h.svc.PostOffer(c.Request().Context(), sub, req.SessionID, req.Offer); err != nil {
		return toHTTPError(err, "session not found")
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "offer_received"})
}

func (h *Handler) GetOffer(c echo.Context) error {
	sub, err := caller(c)
	if err != nil {
		return err
	}
	offer, err := h.svc.GetOffer(c.Request().Context(), sub, c.Param("sessionId"))
	if err != nil {
		return toHTTPError(err, "offer not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"offer": offer})
}

func (h *Handler) PostAnswer(c echo.Context) error {
	sub, err := caller(c)
	if err != nil {
		return err
	}
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionId is required")
	}
	if req.Answer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "answer is required")
	}

	if err := h.svc.PostAnswer(c.Request().Context(), sub, req.SessionID, req.Answer); err != nil {
		return toHTTPError(err, "session not found")
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "answer_received"})
}

func (h *Handler) GetAnswer(c echo.Context) error {
	sub, err := caller(c)
	if err != nil {
		return err
	}
	answer, err := h.svc.GetAnswer(c.Request().Context(), sub, c.Param("sessionId"))
	if err != nil {
		return toHTTPError(err, "answer not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"answer": answer})
}

func (h *Handler) AddICECandidate(c echo.Context) error {
	sub, err := caller(c)
	if err != nil {
		return err
	}
	var req candidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionId is required")
	}
	if req.Candidate == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "candidate is required")
	}
	if req.SDPMLineIndex == nil || *req.SDPMLineIndex < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "sdpMLineIndex is required")
	}
	mid := ""
	if req.SDPMid != nil {
		mid = *req.SDPMid
	}

	err = h.svc.AddICECandidate(c.Request().Context(), sub, req.SessionID, req.Candidate, mid, *req.SDPMLineIndex)
	if err != nil {
		return toHTTPError(err, "session not found")
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "ice_candidate_received"})
}

func (h *Handler) GetICECandidates(c echo.Context) error {
	sub, err := caller(c)
	if err != nil {
		return err
	}
	candidates, err := h.svc.GetICECandidates(c.Request().Context(), sub, c.Param("sessionId"))
	if err != nil {
		return toHTTPError(err, "session not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"candidates": WireCandidates(candidates)})
}

func (h *Handler) EndSession(c echo.Context) error {
	sub, err := caller(c)
	if err != nil {
		return err
	}
	if err := h.svc.EndSession(c.Request().Context(), sub, c.Param("sessionId")); err != nil {
		return toHTTPError(err, "session not found")
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "session_ended"})
}

func (h *Handler) GetSession(c echo.Context) error {
	sub, err := caller(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.SessionStatus(c.Request().Context(), sub, c.Param("sessionId"))
	if err != nil {
		return toHTTPError(err, "session not found")
	}
	return c.JSON(http.StatusOK, newSessionResponse(sess))
}

func (h *Handler) FindActiveSession(c echo.Context) error {
	sub, err := caller(c)
	if err != nil {
		return err
	}
	doctorID, err := strconv.ParseInt(c.QueryParam("doctorId"), 10, 64)
	if err != nil || doctorID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctorId")
	}
	patientID, err := strconv.ParseInt(c.QueryParam("patientId"), 10, 64)
	if err != nil || patientID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patientId")
	}

	sess, err := h.svc.FindActiveSession(c.Request().Context(), sub, doctorID, patientID)
	if err != nil {
		return toHTTPError(err, "no active session")
	}
	return c.JSON(http.StatusOK, newSessionResponse(sess))
}

// ICEServers returns the STUN/TURN configuration clients should hand to
// their peer connection.
func (h *Handler) ICEServers(c echo.Context) error {
	servers := h.iceServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"iceServers": servers})
}

// Stats reports registry occupancy.
func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"activeSessions": h.svc.ActiveSessions()})
}
