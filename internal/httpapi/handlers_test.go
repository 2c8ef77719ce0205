package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"call-platform/internal/auth"
	"call-platform/internal/calls"
	"call-platform/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fixture struct {
	router *gin.Engine
	mgr    *auth.Manager
	svc    *calls.Service
	bus    *calls.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := calls.NewBus()
	svc := calls.NewService(calls.NewMemoryStore(), calls.NewMemoryUserLocker(), bus, log)

	h := Handlers{Auth: mgr, Calls: svc, Watcher: bus}

	r := gin.New()
	r.POST("/v1/auth/login", h.Login)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(mgr))
	{
		v1.POST("/calls", h.InitiateCall)
		v1.GET("/calls/active", h.GetActiveCall)
		v1.GET("/calls/:call_id", h.GetCall)
		v1.GET("/calls/:call_id/watch", h.WatchCall)
		v1.POST("/calls/:call_id/answer", h.AnswerCall)
		v1.POST("/calls/:call_id/connected", h.MarkConnected)
		v1.POST("/calls/:call_id/candidates", h.SendCandidate)
		v1.POST("/calls/:call_id/decline", h.DeclineCall)
		v1.POST("/calls/:call_id/end", h.EndCall)
	}

	return &fixture{router: r, mgr: mgr, svc: svc, bus: bus}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	pair, err := f.mgr.IssuePair(time.Now(), userID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return pair.AccessToken
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) initiate(t *testing.T, caller, callee string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/calls", caller, gin.H{
		"callee_id": callee,
		"offer":     gin.H{"type": "offer", "sdp": "v=0 offer"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.CallID == "" {
		t.Fatalf("initiate response: %s (%v)", w.Body.String(), err)
	}
	return resp.CallID
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["access_token"] == "" || resp["refresh_token"] == "" {
		t.Fatalf("missing tokens: %v", resp)
	}

	w = f.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("login without user = %d", w.Code)
	}
}

func TestRequiresToken(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/calls/active", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", w.Code)
	}
}

func TestCallFlowOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := f.initiate(t, "alice", "bob")

	w := f.do(t, http.MethodGet, "/v1/calls/"+id, "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d: %s", w.Code, w.Body.String())
	}
	var got calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	if got.Status != calls.StatusRinging || got.Offer == nil {
		t.Fatalf("unexpected call: %+v", got)
	}

	w = f.do(t, http.MethodPost, "/v1/calls/"+id+"/answer", "bob", gin.H{
		"answer": gin.H{"type": "answer", "sdp": "v=0 answer"},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("answer = %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/v1/calls/"+id+"/candidates", "alice", gin.H{
		"role":      "caller",
		"candidate": gin.H{"candidate": "candidate:1"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("candidate = %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/v1/calls/"+id+"/connected", "alice", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "true") {
		t.Fatalf("connected = %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/v1/calls/"+id+"/end", "bob", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("end = %d: %s", w.Code, w.Body.String())
	}

	// Ending again is idempotent at the API surface too.
	w = f.do(t, http.MethodPost, "/v1/calls/"+id+"/end", "alice", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("repeat end = %d: %s", w.Code, w.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	id := f.initiate(t, "alice", "bob")

	// Stranger reads are forbidden.
	if w := f.do(t, http.MethodGet, "/v1/calls/"+id, "carol", nil); w.Code != http.StatusForbidden {
		t.Fatalf("stranger get = %d, want 403", w.Code)
	}
	// Unknown call id.
	if w := f.do(t, http.MethodGet, "/v1/calls/nope", "alice", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing get = %d, want 404", w.Code)
	}
	// Busy callee.
	w := f.do(t, http.MethodPost, "/v1/calls", "carol", gin.H{
		"callee_id": "bob",
		"offer":     gin.H{"type": "offer", "sdp": "v=0"},
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("busy initiate = %d, want 409", w.Code)
	}
	// Self call.
	w = f.do(t, http.MethodPost, "/v1/calls", "dave", gin.H{
		"callee_id": "dave",
		"offer":     gin.H{"type": "offer", "sdp": "v=0"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("self call = %d, want 400", w.Code)
	}
	// Decline after answer is a state conflict.
	if w := f.do(t, http.MethodPost, "/v1/calls/"+id+"/answer", "bob", gin.H{
		"answer": gin.H{"type": "answer", "sdp": "v=0"},
	}); w.Code != http.StatusNoContent {
		t.Fatalf("answer = %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/v1/calls/"+id+"/decline", "bob", nil); w.Code != http.StatusConflict {
		t.Fatalf("late decline = %d, want 409", w.Code)
	}
	// Bad role string.
	if w := f.do(t, http.MethodPost, "/v1/calls/"+id+"/candidates", "alice", gin.H{
		"role":      "observer",
		"candidate": gin.H{"candidate": "candidate:1"},
	}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad role = %d, want 400", w.Code)
	}
}

func TestGetActiveCall(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodGet, "/v1/calls/active", "alice", nil); w.Code != http.StatusNoContent {
		t.Fatalf("idle active = %d, want 204", w.Code)
	}

	id := f.initiate(t, "alice", "bob")
	w := f.do(t, http.MethodGet, "/v1/calls/active", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("active = %d: %s", w.Code, w.Body.String())
	}
	var got calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil || got.ID != id {
		t.Fatalf("active call = %s (%v)", w.Body.String(), err)
	}
}

func TestWatchCallStreamsUpdates(t *testing.T) {
	f := newFixture(t)
	id := f.initiate(t, "alice", "bob")

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/calls/" + id + "/watch"
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+f.token(t, "alice"))

	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v (resp=%v)", err, resp)
	}
	defer conn.Close()

	var snap calls.Call
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("initial snapshot: %v", err)
	}
	if snap.ID != id || snap.Status != calls.StatusRinging {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	// Mutate through the API and expect the change on the socket.
	if w := f.do(t, http.MethodPost, "/v1/calls/"+id+"/decline", "bob", nil); w.Code != http.StatusNoContent {
		t.Fatalf("decline = %d", w.Code)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("update snapshot: %v", err)
	}
	if snap.Status != calls.StatusDeclined || snap.EndedReason != calls.ReasonDeclinedByCallee {
		t.Fatalf("update snapshot = %+v", snap)
	}
}

func TestWatchCallRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	id := f.initiate(t, "alice", "bob")

	w := f.do(t, http.MethodGet, fmt.Sprintf("/v1/calls/%s/watch", id), "carol", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("stranger watch = %d, want 403", w.Code)
	}
}
