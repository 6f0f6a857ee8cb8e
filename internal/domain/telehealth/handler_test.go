package telehealth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/healthsphere/healthsphere/internal/domain/identity"
	"github.com/healthsphere/healthsphere/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc := NewService(NewRegistry(), identity.NewService(testDirectory()))
	ice := []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}
	return NewHandler(svc, ice), echo.New()
}

func newContext(e *echo.Echo, method, path, body, subject string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if subject != "" {
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, subject))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d, got nil error", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T: %v", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return body
}

func createViaHandler(t *testing.T, h *Handler, e *echo.Echo) string {
	t.Helper()
	c, rec := newContext(e, http.MethodPost, "/api/webrtc/session", `{"doctorId":1,"patientId":2}`, doctorSub)
	if err := h.CreateSession(c); err != nil {
		t.Fatalf("create session: %v", err)
	}
	id, _ := decode(t, rec)["sessionId"].(string)
	if id == "" {
		t.Fatal("expected a sessionId")
	}
	return id
}

func TestHandler_CreateSession(t *testing.T) {
	h, e := newTestHandler()
	createViaHandler(t, h, e)
}

func TestHandler_CreateSession_Errors(t *testing.T) {
	h, e := newTestHandler()

	tests := []struct {
		name    string
		body    string
		subject string
		code    int
	}{
		{"unauthenticated", `{"doctorId":1,"patientId":2}`, "", http.StatusUnauthorized},
		{"missing doctor", `{"patientId":2}`, doctorSub, http.StatusBadRequest},
		{"missing patient", `{"doctorId":1}`, doctorSub, http.StatusBadRequest},
		{"malformed", `{"doctorId":`, doctorSub, http.StatusBadRequest},
		{"not a participant", `{"doctorId":1,"patientId":2}`, strangerSub, http.StatusForbidden},
		{"unknown user", `{"doctorId":1,"patientId":2}`, "ghost", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext(e, http.MethodPost, "/api/webrtc/session", tt.body, tt.subject)
			expectHTTPError(t, h.CreateSession(c), tt.code)
		})
	}
}

func TestHandler_OfferRoundTrip(t *testing.T) {
	h, e := newTestHandler()
	id := createViaHandler(t, h, e)

	// Before anything is posted the offer reads as not found.
	c, _ := newContext(e, http.MethodGet, "/api/webrtc/offer/"+id, "", patientSub)
	c.SetParamNames("sessionId")
	c.SetParamValues(id)
	expectHTTPError(t, h.GetOffer(c), http.StatusNotFound)

	offer := `{"type":"offer","sdp":"v=0\r\n"}`
	body, _ := json.Marshal(map[string]string{"sessionId": id, "offer": offer})
	c, rec := newContext(e, http.MethodPost, "/api/webrtc/offer", string(body), doctorSub)
	if err := h.PostOffer(c); err != nil {
		t.Fatalf("post offer: %v", err)
	}
	if got := decode(t, rec)["status"]; got != "offer_received" {
		t.Errorf("expected offer_received, got %v", got)
	}

	c, rec = newContext(e, http.MethodGet, "/api/webrtc/offer/"+id, "", patientSub)
	c.SetParamNames("sessionId")
	c.SetParamValues(id)
	if err := h.GetOffer(c); err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got := decode(t, rec)["offer"]; got != offer {
		t.Errorf("expected offer stored verbatim, got %v", got)
	}
}

func TestHandler_AnswerRoundTrip(t *testing.T) {
	h, e := newTestHandler()
	id := createViaHandler(t, h, e)

	c, rec := newContext(e, http.MethodPost, "/api/webrtc/answer", `{"sessionId":"`+id+`","answer":"ans"}`, patientSub)
	if err := h.PostAnswer(c); err != nil {
		t.Fatalf("post answer: %v", err)
	}
	if got := decode(t, rec)["status"]; got != "answer_received" {
		t.Errorf("expected answer_received, got %v", got)
	}

	c, rec = newContext(e, http.MethodGet, "/api/webrtc/answer/"+id, "", doctorSub)
	c.SetParamNames("sessionId")
	c.SetParamValues(id)
	if err := h.GetAnswer(c); err != nil {
		t.Fatalf("get answer: %v", err)
	}
	if got := decode(t, rec)["answer"]; got != "ans" {
		t.Errorf("expected ans, got %v", got)
	}
}

func TestHandler_PostOffer_Errors(t *testing.T) {
	h, e := newTestHandler()
	id := createViaHandler(t, h, e)

	tests := []struct {
		name    string
		body    string
		subject string
		code    int
	}{
		{"missing session id", `{"offer":"x"}`, doctorSub, http.StatusBadRequest},
		{"missing offer", `{"sessionId":"` + id + `"}`, doctorSub, http.StatusBadRequest},
		{"unknown session", `{"sessionId":"nope","offer":"x"}`, doctorSub, http.StatusNotFound},
		{"stranger", `{"sessionId":"` + id + `","offer":"x"}`, strangerSub, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext(e, http.MethodPost, "/api/webrtc/offer", tt.body, tt.subject)
			expectHTTPError(t, h.PostOffer(c), tt.code)
		})
	}
}

func TestHandler_ICECandidates(t *testing.T) {
	h, e := newTestHandler()
	id := createViaHandler(t, h, e)

	posts := []string{
		`{"sessionId":"` + id + `","candidate":"first","sdpMid":"0","sdpMLineIndex":0}`,
		`{"sessionId":"` + id + `","candidate":"second","sdpMid":"0","sdpMLineIndex":0}`,
		`{"sessionId":"` + id + `","candidate":"video","sdpMid":"1","sdpMLineIndex":0}`,
		`{"sessionId":"` + id + `","candidate":"nomid","sdpMLineIndex":1}`,
	}
	for _, body := range posts {
		c, rec := newContext(e, http.MethodPost, "/api/webrtc/ice", body, patientSub)
		if err := h.AddICECandidate(c); err != nil {
			t.Fatalf("post candidate: %v", err)
		}
		if got := decode(t, rec)["status"]; got != "ice_candidate_received" {
			t.Errorf("expected ice_candidate_received, got %v", got)
		}
	}

	c, rec := newContext(e, http.MethodGet, "/api/webrtc/ice/"+id, "", doctorSub)
	c.SetParamNames("sessionId")
	c.SetParamValues(id)
	if err := h.GetICECandidates(c); err != nil {
		t.Fatalf("get candidates: %v", err)
	}
	got, _ := decode(t, rec)["candidates"].(map[string]interface{})
	want := map[string]string{"0_0": "second", "1_0": "video", "_1": "nomid"}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %v", len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("candidate %s: expected %q, got %v", k, v, got[k])
		}
	}
}

func TestHandler_ICECandidate_Validation(t *testing.T) {
	h, e := newTestHandler()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing line index", `{"sessionId":"s","candidate":"c","sdpMid":"0"}`, http.StatusBadRequest},
		{"negative line index", `{"sessionId":"s","candidate":"c","sdpMLineIndex":-1}`, http.StatusBadRequest},
		{"missing candidate", `{"sessionId":"s","sdpMLineIndex":0}`, http.StatusBadRequest},
		{"missing session", `{"candidate":"c","sdpMLineIndex":0}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext(e, http.MethodPost, "/api/webrtc/ice", tt.body, doctorSub)
			expectHTTPError(t, h.AddICECandidate(c), tt.code)
		})
	}
}

func TestHandler_ICECandidate_UnknownSessionAcknowledged(t *testing.T) {
	h, e := newTestHandler()

	c, rec := newContext(e, http.MethodPost, "/api/webrtc/ice", `{"sessionId":"gone","candidate":"c","sdpMid":"0","sdpMLineIndex":0}`, doctorSub)
	if err := h.AddICECandidate(c); err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_EndSession(t *testing.T) {
	h, e := newTestHandler()
	id := createViaHandler(t, h, e)

	for i := 0; i < 2; i++ {
		c, rec := newContext(e, http.MethodPost, "/api/webrtc/end/"+id, "", doctorSub)
		c.SetParamNames("sessionId")
		c.SetParamValues(id)
		if err := h.EndSession(c); err != nil {
			t.Fatalf("end session (call %d): %v", i+1, err)
		}
		if got := decode(t, rec)["status"]; got != "session_ended" {
			t.Errorf("expected session_ended, got %v", got)
		}
	}

	c, _ := newContext(e, http.MethodGet, "/api/webrtc/ice/"+id, "", doctorSub)
	c.SetParamNames("sessionId")
	c.SetParamValues(id)
	expectHTTPError(t, h.GetICECandidates(c), http.StatusNotFound)
}

func TestHandler_SessionStatus(t *testing.T) {
	h, e := newTestHandler()
	id := createViaHandler(t, h, e)

	c, rec := newContext(e, http.MethodGet, "/api/webrtc/session/"+id, "", patientSub)
	c.SetParamNames("sessionId")
	c.SetParamValues(id)
	if err := h.GetSession(c); err != nil {
		t.Fatalf("get session: %v", err)
	}
	body := decode(t, rec)
	if body["state"] != "created" {
		t.Errorf("expected state created, got %v", body["state"])
	}
	if body["sessionId"] != id {
		t.Errorf("expected sessionId %s, got %v", id, body["sessionId"])
	}

	c, _ = newContext(e, http.MethodGet, "/api/webrtc/session/"+id, "", strangerSub)
	c.SetParamNames("sessionId")
	c.SetParamValues(id)
	expectHTTPError(t, h.GetSession(c), http.StatusForbidden)
}

func TestHandler_FindActiveSession(t *testing.T) {
	h, e := newTestHandler()

	c, _ := newContext(e, http.MethodGet, "/api/webrtc/session?doctorId=1&patientId=2", "", doctorSub)
	expectHTTPError(t, h.FindActiveSession(c), http.StatusNotFound)

	id := createViaHandler(t, h, e)
	c, rec := newContext(e, http.MethodGet, "/api/webrtc/session?doctorId=1&patientId=2", "", patientSub)
	if err := h.FindActiveSession(c); err != nil {
		t.Fatalf("find session: %v", err)
	}
	if got := decode(t, rec)["sessionId"]; got != id {
		t.Errorf("expected %s, got %v", id, got)
	}

	c, _ = newContext(e, http.MethodGet, "/api/webrtc/session?doctorId=abc&patientId=2", "", doctorSub)
	expectHTTPError(t, h.FindActiveSession(c), http.StatusBadRequest)
}

func TestHandler_ICEServers(t *testing.T) {
	h, e := newTestHandler()

	c, rec := newContext(e, http.MethodGet, "/api/webrtc/ice-servers", "", doctorSub)
	if err := h.ICEServers(c); err != nil {
		t.Fatalf("ice servers: %v", err)
	}
	servers, _ := decode(t, rec)["iceServers"].([]interface{})
	if len(servers) != 1 {
		t.Fatalf("expected 1 ice server, got %v", servers)
	}
	first, _ := servers[0].(map[string]interface{})
	urls, _ := first["urls"].([]interface{})
	if len(urls) != 1 || urls[0] != "stun:stun.example.org:3478" {
		t.Errorf("unexpected urls %v", first["urls"])
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api"))

	req := httptest.NewRequest(http.MethodGet, "/api/webrtc/offer/unknown", nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, doctorSub))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 through the router, got %d", rec.Code)
	}
}

func TestHandler_AdminStats(t *testing.T) {
	h, e := newTestHandler()
	h.RegisterAdminRoutes(e.Group("/api/admin"))
	createViaHandler(t, h, e)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/signaling/stats", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "admin")
	req = req.WithContext(context.WithValue(ctx, auth.UserRolesKey, []string{"admin"}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decode(t, rec); body["activeSessions"] != float64(1) {
		t.Errorf("expected 1 active session, got %v", body["activeSessions"])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/signaling/stats", nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, doctorSub))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without the admin role, got %d", rec.Code)
	}
}
