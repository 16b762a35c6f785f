package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"survey-caller/internal/audit"
	"survey-caller/internal/auth"
	"survey-caller/internal/callflow"
	"survey-caller/internal/calls"
	"survey-caller/internal/config"
	"survey-caller/internal/correlation"
	"survey-caller/internal/dispatch"
	"survey-caller/internal/questions"
	"survey-caller/internal/rbac"
	"survey-caller/internal/records"
	"survey-caller/internal/reporting"
	"survey-caller/pkg/logger"

	"github.com/gin-gonic/gin"
)

type apiFixture struct {
	router *gin.Engine
	engine *callflow.Engine
	log    *audit.Service
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := records.NewMemoryRepo()
	e := callflow.New(callflow.Options{
		Cache:          correlation.NewCache(correlation.NewMemoryStore(), repo, time.Minute),
		Records:        repo,
		Dispatchers:    dispatch.NewRegistry(dispatch.DemoDispatcher{}),
		IDs:            calls.NewSequence(0),
		DefaultBackend: calls.BackendDemo,
		Logger:         logger.Discard(),
	})
	authCfg := config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour, OperatorAPIKey: "op-key", ViewerAPIKey: "view-key"}
	m, err := auth.NewManager(authCfg)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	presets, err := questions.ParsePresets([]byte("question_sets:\n  - name: intake\n    questions:\n      - Do you have insurance?\n      - Are you over 18?\n"))
	if err != nil {
		t.Fatalf("presets: %v", err)
	}
	logSvc := audit.NewService(audit.NewMemoryRepo(), logger.Discard())

	h := Handlers{
		Auth:     m,
		Keys:     auth.NewKeyStore(authCfg),
		Calls:    e,
		Records:  repo,
		Reports:  reporting.NewService(repo, e),
		Webhooks: logSvc,
		Presets:  presets,
		Health:   &Health{DefaultBackend: "demo"},
	}

	r := gin.New()
	r.GET("/health", h.Health.Handle)
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)
	v1 := r.Group("/v1", auth.RequireAccessToken(m))
	v1.GET("/me", h.Me)
	read := v1.Group("", rbac.RequireAtLeast(rbac.RoleViewer))
	read.GET("/calls", h.ListCalls)
	read.GET("/calls/:id", h.GetCall)
	read.GET("/calls/:id/results", h.GetResults)
	read.GET("/calls/:id/webhooks", h.GetWebhooks)
	read.GET("/question-sets", h.ListQuestionSets)
	v1.POST("/calls", rbac.RequireAnyRole(rbac.RoleOperator), h.StartCall)
	return apiFixture{router: r, engine: e, log: logSvc}
}

func (f apiFixture) call(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func (f apiFixture) login(t *testing.T, key string) (string, string) {
	t.Helper()
	code, out := f.call(t, http.MethodPost, "/v1/auth/login", "", gin.H{"api_key": key})
	if code != http.StatusOK {
		t.Fatalf("login %q: expected 200, got %d %v", key, code, out)
	}
	return out["access_token"].(string), out["refresh_token"].(string)
}

func TestLoginAndRefresh(t *testing.T) {
	f := newAPIFixture(t)

	if code, _ := f.call(t, http.MethodPost, "/v1/auth/login", "", gin.H{"api_key": "wrong"}); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d", code)
	}

	_, refresh := f.login(t, "op-key")
	code, out := f.call(t, http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": refresh})
	if code != http.StatusOK || out["access_token"] == "" {
		t.Fatalf("expected refreshed pair, got %d %v", code, out)
	}
	code, me := f.call(t, http.MethodGet, "/v1/me", out["access_token"].(string), nil)
	if code != http.StatusOK || me["role"] != rbac.RoleOperator {
		t.Fatalf("unexpected identity %d %v", code, me)
	}
}

func TestStartCall_WithPresetAndResults(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.login(t, "op-key")

	code, out := f.call(t, http.MethodPost, "/v1/calls", token, gin.H{"phone_number": "+1 (555) 000-0001", "question_set": "intake"})
	if code != http.StatusOK || out["success"] != true || out["call_id"] != float64(1) || out["call_sid"] != "DEMO-1" {
		t.Fatalf("unexpected start response %d %v", code, out)
	}

	ctx := context.Background()
	if _, err := f.engine.RecordAnswer(ctx, callflow.AnswerEvent{Identifier: "1", FreeText: "yes"}); err != nil {
		t.Fatalf("record answer: %v", err)
	}

	code, res := f.call(t, http.MethodGet, "/v1/calls/1/results", token, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	qs := res["questions"].([]any)
	first := qs[0].(map[string]any)
	if len(qs) != 2 || first["question"] != "Do you have insurance?" || first["answer"] != "yes" {
		t.Fatalf("unexpected results %v", res)
	}
	if sum := res["summary"].(map[string]any); sum["yes_count"] != float64(1) || sum["total_questions"] != float64(2) {
		t.Fatalf("unexpected summary %v", sum)
	}

	code, list := f.call(t, http.MethodGet, "/v1/calls?limit=10", token, nil)
	if code != http.StatusOK || list["count"] != float64(1) || list["summary"] == nil {
		t.Fatalf("unexpected list %d %v", code, list)
	}

	code, detail := f.call(t, http.MethodGet, "/v1/calls/1", token, nil)
	if code != http.StatusOK || detail["pointer"] != float64(1) {
		t.Fatalf("unexpected detail %d %v", code, detail)
	}
}

func TestStartCall_Errors(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.login(t, "op-key")

	cases := []struct {
		body gin.H
		want int
	}{
		{gin.H{"phone_number": "abc", "questions": []string{"Q?"}}, http.StatusBadRequest},
		{gin.H{"phone_number": "+15550000001", "questions": []string{"  "}}, http.StatusBadRequest},
		{gin.H{"phone_number": "+15550000001", "question_set": "nope"}, http.StatusBadRequest},
		{gin.H{"phone_number": "+15550000001", "questions": []string{"Q?"}, "question_set": "intake"}, http.StatusBadRequest},
		{gin.H{"phone_number": "+15550000001", "questions": []string{"Q?"}, "backend": "fax"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if code, out := f.call(t, http.MethodPost, "/v1/calls", token, tc.body); code != tc.want || out["success"] != false {
			t.Fatalf("%v: expected %d, got %d %v", tc.body, tc.want, code, out)
		}
	}
}

func TestStartCall_ViewerForbidden(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.login(t, "view-key")

	if code, _ := f.call(t, http.MethodPost, "/v1/calls", token, gin.H{"phone_number": "+15550000001", "questions": []string{"Q?"}}); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code, _ := f.call(t, http.MethodGet, "/v1/question-sets", token, nil); code != http.StatusOK {
		t.Fatalf("viewer should read question sets, got %d", code)
	}
	if code, _ := f.call(t, http.MethodGet, "/v1/calls", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
}

func TestGetCall_NotFoundAndWebhooks(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.login(t, "op-key")

	if code, _ := f.call(t, http.MethodGet, "/v1/calls/42", token, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code, _ := f.call(t, http.MethodGet, "/v1/calls/x", token, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if code, _ := f.call(t, http.MethodGet, "/v1/calls/42/results", token, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 results, got %d", code)
	}

	f.log.Record(context.Background(), audit.Event{Source: audit.SourceTwilio, Kind: "status", CallID: 42, Outcome: audit.OutcomeUnknownCall})
	code, out := f.call(t, http.MethodGet, "/v1/calls/42/webhooks", token, nil)
	if code != http.StatusOK || len(out["events"].([]any)) != 1 {
		t.Fatalf("unexpected webhooks %d %v", code, out)
	}
}

func TestStartErrorStatus(t *testing.T) {
	if startErrorStatus(dispatch.ErrNoCapacity) != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for capacity")
	}
	if startErrorStatus(errors.Join(callflow.ErrDispatch, errors.New("twilio down"))) != http.StatusBadGateway {
		t.Fatalf("expected 502 for dispatch")
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &Health{
		Database:         func(context.Context) error { return nil },
		Redis:            func(context.Context) error { return errors.New("connection refused") },
		TwilioConfigured: true,
	}
	r.GET("/health", h.Handle)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	if w.Code != http.StatusServiceUnavailable || out["status"] != "degraded" || out["database"] != "connected" || out["twilio"] != "configured" {
		t.Fatalf("unexpected health %d %v", w.Code, out)
	}

	f := newAPIFixture(t)
	code, body := f.call(t, http.MethodGet, "/health", "", nil)
	if code != http.StatusOK || body["database"] != "memory" || body["voice_agent"] != "not_configured" {
		t.Fatalf("unexpected health %d %v", code, body)
	}
}
