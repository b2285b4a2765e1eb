package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"sos-guardian/internal/audit"
	"sos-guardian/internal/auth"
	"sos-guardian/internal/dispatch"
	"sos-guardian/internal/hub"
	"sos-guardian/internal/identity"
	"sos-guardian/internal/ingest"
	"sos-guardian/internal/model"
	"sos-guardian/internal/signal"
)

type recordingSink struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *recordingSink) Notify(_ context.Context, _ model.SosEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testEnv struct {
	router   *gin.Engine
	registry *identity.Registry
	store    signal.Store
	sink     *recordingSink
	tokenCfg auth.TokenConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := identity.NewRegistry(identity.NewMemoryStore())
	store := signal.NewMemoryStore()
	sink := &recordingSink{}
	wsHub := hub.New()

	cfg := dispatch.DefaultConfig()
	cfg.Sleep = func(context.Context, time.Duration) error { return nil }

	auditSink := audit.MultiSink{
		audit.NewMemorySink(),
		&hub.StatusSink{Hub: wsHub, Resolver: registry},
	}
	engine := dispatch.New(store, sink, auditSink, cfg)
	t.Cleanup(engine.Close)

	ing := &ingest.Service{Store: store, Dispatcher: engine, ReplayWindow: 5 * time.Minute}
	tokenCfg := auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

	return &testEnv{
		router: NewRouter(Deps{
			Registry:    registry,
			SignalStore: store,
			Engine:      engine,
			Ingest:      ing,
			Hub:         wsHub,
			TokenConfig: tokenCfg,
		}),
		registry: registry,
		store:    store,
		sink:     sink,
		tokenCfg: tokenCfg,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) register(t *testing.T, username, deviceID string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/register", "", map[string]any{
		"username":         username,
		"device_id":        deviceID,
		"identity_key_pub": "pubkey123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatalf("register response has no token: %s", w.Body.String())
	}
	return token
}

func validBlob(t *testing.T) string {
	t.Helper()
	data, _ := json.Marshal(map[string]any{
		"lat":       48.2,
		"lon":       16.37,
		"message":   "help",
		"timestamp": time.Now().Unix(),
	})
	return base64.StdEncoding.EncodeToString(data)
}

func (e *testEnv) waitForStatus(t *testing.T, token, sessionID string, want model.EventStatus) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		w := e.do(t, http.MethodGet, "/v1/sos/"+sessionID, token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var ev map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev["status"] == string(want) {
			return ev
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last: %s", want, w.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSosEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "alice", "dev-1")
	blob := validBlob(t)

	w := env.do(t, http.MethodPost, "/v1/sos/init", token, map[string]any{
		"creator_device_id":      "dev-1",
		"encrypted_session_blob": blob,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("init: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var initResp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &initResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	sessionID, _ := initResp["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("init response has no session_id: %s", w.Body.String())
	}

	env.waitForStatus(t, token, sessionID, model.StatusDispatched)
	if got := env.sink.count(); got != 1 {
		t.Fatalf("expected 1 sink notification, got %d", got)
	}

	// Replay of the same blob lands on the existing session and does not
	// notify again.
	w = env.do(t, http.MethodPost, "/v1/sos/init", token, map[string]any{
		"creator_device_id":      "dev-1",
		"encrypted_session_blob": blob,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("replay: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var replayResp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &replayResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if replayResp["session_id"] != sessionID {
		t.Fatalf("replay must reuse session %s, got %v", sessionID, replayResp["session_id"])
	}
	if got := env.sink.count(); got != 1 {
		t.Fatalf("replay must not re-notify, got %d calls", got)
	}

	// Retry of a delivered session is refused.
	w = env.do(t, http.MethodPost, "/v1/sos/"+sessionID+"/retry", token, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("retry: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/sos?device_id=dev-1", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("device list: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var deviceResp struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &deviceResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(deviceResp.Events) != 1 || deviceResp.Events[0]["session_id"] != sessionID {
		t.Fatalf("expected the session under dev-1, got %s", w.Body.String())
	}
}

func TestSosFailureSweepAndRetry(t *testing.T) {
	env := newTestEnv(t)
	env.sink.err = fmt.Errorf("provider down")
	token := env.register(t, "alice", "dev-1")

	w := env.do(t, http.MethodPost, "/v1/sos/init", token, map[string]any{
		"creator_device_id":      "dev-1",
		"encrypted_session_blob": validBlob(t),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("init: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var initResp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &initResp)
	sessionID := initResp["session_id"].(string)

	env.waitForStatus(t, token, sessionID, model.StatusDispatchFailed)

	w = env.do(t, http.MethodGet, "/v1/sos?status=DispatchFailed", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var listResp struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(listResp.Events) != 1 || listResp.Events[0]["session_id"] != sessionID {
		t.Fatalf("expected failed session in sweep, got %s", w.Body.String())
	}

	// Manual retry against a recovered sink delivers.
	env.sink.mu.Lock()
	env.sink.err = nil
	env.sink.mu.Unlock()

	w = env.do(t, http.MethodPost, "/v1/sos/"+sessionID+"/retry", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	env.waitForStatus(t, token, sessionID, model.StatusDispatched)
}

func TestSosCancel(t *testing.T) {
	env := newTestEnv(t)
	env.sink.err = fmt.Errorf("provider down")
	token := env.register(t, "alice", "dev-1")

	w := env.do(t, http.MethodPost, "/v1/sos/init", token, map[string]any{
		"creator_device_id":      "dev-1",
		"encrypted_session_blob": validBlob(t),
	})
	var initResp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &initResp)
	sessionID := initResp["session_id"].(string)

	w = env.do(t, http.MethodPost, "/v1/sos/"+sessionID+"/cancel", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	ev := env.waitForStatus(t, token, sessionID, model.StatusDispatchFailed)
	if ev["cancelled"] != true {
		t.Fatalf("expected cancelled event, got %v", ev)
	}

	// Cancelled sessions must stay down even via manual retry.
	w = env.do(t, http.MethodPost, "/v1/sos/"+sessionID+"/retry", token, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("retry after cancel: expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "dev-1")

	w := env.do(t, http.MethodPost, "/v1/register", "", map[string]any{
		"username":         "alice",
		"device_id":        "dev-2",
		"identity_key_pub": "pubkey123",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate username: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/v1/register", "", map[string]any{
		"username":         "ab",
		"device_id":        "dev-3",
		"identity_key_pub": "pubkey123",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("short username: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/v1/register", "", map[string]any{
		"username":         "carol",
		"identity_key_pub": "pubkey123",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing device_id: expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/sos/init", "", map[string]any{
		"creator_device_id":      "dev-1",
		"encrypted_session_blob": validBlob(t),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/sos/SOS-abc", "garbage", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSosNotFoundAndBadQuery(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "alice", "dev-1")

	w := env.do(t, http.MethodGet, "/v1/sos/SOS-missing", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/v1/sos?status=Bogus", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestEd25519ReAuth(t *testing.T) {
	env := newTestEnv(t)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	w := env.do(t, http.MethodPost, "/v1/register", "", map[string]any{
		"username":         "alice",
		"device_id":        "dev-1",
		"identity_key_pub": base64.StdEncoding.EncodeToString(pub),
		"key_type":         "ed25519",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	challenge := []byte("challenge-1")
	sig := ed25519.Sign(priv, challenge)
	w = env.do(t, http.MethodPost, "/v1/auth", "", map[string]any{
		"username":  "alice",
		"challenge": base64.StdEncoding.EncodeToString(challenge),
		"signature": base64.StdEncoding.EncodeToString(sig),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("auth: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["token"] == "" {
		t.Fatalf("auth response has no token: %s", w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/v1/auth", "", map[string]any{
		"username":  "alice",
		"challenge": base64.StdEncoding.EncodeToString(challenge),
		"signature": base64.StdEncoding.EncodeToString(make([]byte, ed25519.SignatureSize)),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("forged auth: expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServiceBanner(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["service"] != "sos-guardian" || resp["status"] != "operational" {
		t.Fatalf("unexpected banner: %s", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
