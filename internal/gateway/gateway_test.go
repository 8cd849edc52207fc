package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/undoable/undoable/internal/actionlog"
	"github.com/undoable/undoable/internal/checkpoint"
	"github.com/undoable/undoable/internal/config"
	"github.com/undoable/undoable/internal/eventbus"
	"github.com/undoable/undoable/internal/executor"
	"github.com/undoable/undoable/internal/plan"
	"github.com/undoable/undoable/internal/run"
	"github.com/undoable/undoable/internal/tool"
	"github.com/undoable/undoable/internal/undo"
)

type stubProducer struct{}

func (stubProducer) Plan(instruction string, context map[string]any) (*plan.Graph, error) {
	return &plan.Graph{SchemaVersion: plan.CurrentSchemaVersion, Instruction: instruction, Steps: nil}, nil
}

func newTestGateway(t *testing.T, token string) *Gateway {
	t.Helper()
	dir := t.TempDir()

	bus := eventbus.New()
	mgr, err := run.New(bus, run.BackendOff, "")
	require.NoError(t, err)

	alog, err := actionlog.Open(filepath.Join(dir, "action-log.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { alog.Close() })

	cps := checkpoint.New(filepath.Join(dir, "checkpoints"))
	broker := NewApprovalBroker(bus)

	exec := executor.New(executor.Deps{
		Runs:        mgr,
		ActionLog:   alog,
		Checkpoints: cps,
		Tools:       tool.NewRegistry(),
		Bus:         bus,
		Prompter:    broker,
	})

	launcher := NewLauncher(mgr, exec, func(string) plan.PlanProducer { return stubProducer{} }, nil)

	settings := config.DefaultSettings()
	g := New(Deps{
		Runs:      mgr,
		Launcher:  launcher,
		Approvals: broker,
		ActionLog: alog,
		Checkpoints: cps,
		Undo:      undo.New(alog),
		Bus:       bus,
		Token:     token,
		Settings:  func() config.Settings { return settings },
		SaveSettings: func(s config.Settings) error { settings = s; return nil },
		StartedAt: time.Now(),
	})
	return g
}

func doRequest(g *Gateway, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "127.0.0.1:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthIsAlwaysReachable(t *testing.T) {
	g := newTestGateway(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.5:1111" // non-loopback, no token
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoopbackAdmittedWithoutToken(t *testing.T) {
	g := newTestGateway(t, "")
	rec := doRequest(g, http.MethodGet, "/runs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNonLoopbackRejectedWithoutToken(t *testing.T) {
	g := newTestGateway(t, "")
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.RemoteAddr = "203.0.113.5:1111"
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerTokenRequiredWhenConfigured(t *testing.T) {
	g := newTestGateway(t, "s3cr3t")

	rec := doRequest(g, http.MethodGet, "/runs", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(g, http.MethodGet, "/runs", "wrong", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(g, http.MethodGet, "/runs", "s3cr3t", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRunAndGetRun(t *testing.T) {
	g := newTestGateway(t, "")

	rec := doRequest(g, http.MethodPost, "/runs", "", createRunRequest{Instruction: "do it", AgentID: "agent-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created run.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = doRequest(g, http.MethodGet, "/runs/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOperationModeBlocksRunCreation(t *testing.T) {
	g := newTestGateway(t, "")

	rec := doRequest(g, http.MethodPatch, "/control/operation", "", patchOperationRequest{Mode: "paused", Reason: "maintenance"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(g, http.MethodPost, "/runs", "", createRunRequest{Instruction: "do it"})
	require.Equal(t, http.StatusLocked, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "DAEMON_OPERATION_MODE_BLOCK", body.Code)
}

func TestUnknownRunActionIsValidationError(t *testing.T) {
	g := newTestGateway(t, "")
	rec := doRequest(g, http.MethodPost, "/runs", "", createRunRequest{Instruction: "x"})
	var created run.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(g, http.MethodPost, "/runs/"+created.ID+"/frobnicate", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStepApprovalResolvesPendingPrompt(t *testing.T) {
	g := newTestGateway(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultCh := make(chan bool, 1)
	go func() {
		approved, _ := g.approvals.RequestApproval(ctx, "run-1", "step-1", "tool", nil)
		resultCh <- approved
	}()

	require.Eventually(t, func() bool {
		rec := doRequest(g, http.MethodPost, "/runs/run-1/steps/step-1/approval", "", stepApprovalRequest{Approved: true})
		return rec.Code == http.StatusNoContent
	}, time.Second, 5*time.Millisecond)

	select {
	case approved := <-resultCh:
		require.True(t, approved)
	case <-ctx.Done():
		t.Fatal("approval never resolved")
	}
}
