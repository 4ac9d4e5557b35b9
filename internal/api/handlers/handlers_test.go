package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uicp/runtime/internal/policy"
	"github.com/uicp/runtime/internal/rollout"
	"github.com/uicp/runtime/pkg/uicp"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	p := policy.NewStore(context.Background(), nil, uicp.PresetBalanced)
	rc := rollout.New(nil, uicp.RolloutCanary)
	return New(p, rc, nil, nil, nil, "test-version")
}

func TestHealth_ReportsHealthy(t *testing.T) {
	h := newTestHandlers(t)
	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestGetPolicy_ReturnsCurrentPreset(t *testing.T) {
	h := newTestHandlers(t)
	rr := httptest.NewRecorder()
	h.GetPolicy(rr, httptest.NewRequest(http.MethodGet, "/api/v1/policy", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var p uicp.Policy
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, uicp.PresetBalanced, p.Preset)
}

func TestPutPolicy_ReplacesAndPersistsInMemory(t *testing.T) {
	h := newTestHandlers(t)
	body, _ := json.Marshal(uicp.Policy{Preset: uicp.PresetLocked, AllowPrivate: false})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/policy", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.PutPolicy(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, uicp.PresetLocked, h.Policy.Get().Preset)
}

func TestPutPolicy_RejectsMalformedBody(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/policy", bytes.NewReader([]byte("not json")))
	rr := httptest.NewRecorder()

	h.PutPolicy(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetRollout_ReturnsCurrentStage(t *testing.T) {
	h := newTestHandlers(t)
	rr := httptest.NewRecorder()
	h.GetRollout(rr, httptest.NewRequest(http.MethodGet, "/api/v1/rollout", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var s uicp.RolloutState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, uicp.RolloutCanary, s.Stage)
}

func TestPostIntent_NotConfiguredReturnsNotFound(t *testing.T) {
	h := newTestHandlers(t)
	body, _ := json.Marshal(intentRequest{Message: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intent", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.LLM = nil // exercise the "not configured" branch explicitly first
	h.PostIntent(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
