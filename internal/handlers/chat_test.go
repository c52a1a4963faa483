package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/services"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("failed to build test logger: %v", err)
	}
	return log
}

type stubMessageHandler struct {
	resp *services.HandleResponse
	got  services.HandleRequest
}

func (s *stubMessageHandler) Handle(ctx context.Context, req services.HandleRequest) *services.HandleResponse {
	s.got = req
	return s.resp
}

func newChatTestRouter(t *testing.T, stub *stubMessageHandler) (*gin.Engine, services.JobRegistry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := testLogger(t)
	jobs := services.NewJobRegistry(log, nil)
	locks := services.NewLockManager(log, services.NewFailoverLockBackend(log, nil, services.NewMemoryLockBackend()))
	h := NewChatHandler(log, stub, jobs, locks, nil, nil)

	r := gin.New()
	r.POST("/api/v1/chat/message", h.PostMessage)
	r.GET("/api/v1/chat/job/:id", h.GetJob)
	r.GET("/api/v1/chat/health", h.Health)
	return r, jobs
}

func TestPostMessageAccepted(t *testing.T) {
	stub := &stubMessageHandler{resp: &services.HandleResponse{
		Success:        true,
		Status:         services.HandleStatusStarted,
		AIJobID:        "job-1",
		LockID:         "100",
		ConversationID: "conv-1",
	}}
	r, _ := newChatTestRouter(t, stub)

	body := `{"conversation_id":"conv-1","history":"<USER>hi</USER>","resources":{"page":"x"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp services.HandleResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.AIJobID != "job-1" || resp.Status != services.HandleStatusStarted {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if stub.got.History != "<USER>hi</USER>" || stub.got.Resources["page"] != "x" {
		t.Fatalf("request not forwarded: %+v", stub.got)
	}
}

func TestPostMessageRequiresHistory(t *testing.T) {
	stub := &stubMessageHandler{resp: &services.HandleResponse{Success: true}}
	r, _ := newChatTestRouter(t, stub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", strings.NewReader(`{"conversation_id":"c"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestPostMessageOrchestratorFailure(t *testing.T) {
	stub := &stubMessageHandler{resp: &services.HandleResponse{
		Success: false,
		Status:  services.HandleStatusFailed,
		Error:   "failed to create AI job: store down",
	}}
	r, _ := newChatTestRouter(t, stub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", strings.NewReader(`{"history":"<USER>hi</USER>"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestGetJob(t *testing.T) {
	stub := &stubMessageHandler{resp: &services.HandleResponse{Success: true}}
	r, jobs := newChatTestRouter(t, stub)

	jobID, err := jobs.CreateJob(context.Background(), services.JobPayload{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/chat/job/"+jobID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/chat/job/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
