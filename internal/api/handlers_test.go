package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/JSONRemodeler/internal/config"
	"github.com/router-for-me/JSONRemodeler/internal/store"
	"github.com/router-for-me/JSONRemodeler/sdk/remodel"
)

// byteLenSizer makes extraction decisions depend only on serialized length,
// so tests can force extractions with small token budgets.
var byteLenSizer = remodel.SizerFunc(func(text, _ string) int { return len(text) })

func newTestServer(t *testing.T, mutate func(*config.Config), opts ...ServerOption) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	zero := 0
	cfg.OutputIndent = &zero
	if mutate != nil {
		mutate(cfg)
	}

	base := []ServerOption{
		WithProcessor(remodel.EchoProcessor{}),
		WithSizer(byteLenSizer),
	}
	return NewServer(cfg, "", append(base, opts...)...)
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleRemodelEchoRoundTrip(t *testing.T) {
	srv := newTestServer(t, nil)

	body := `{"json":{"title":"t","items":["aaaaaaaaaa","bbbbbbbbbb"]},"instructions":"keep everything","token-budget":20}`
	w := doRequest(srv, http.MethodPost, "/v1/remodel", body)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, `{"title":"t","items":["aaaaaaaaaa","bbbbbbbbbb"]}`, w.Body.String())
}

func TestHandleRemodelArrayRoot(t *testing.T) {
	srv := newTestServer(t, nil)

	body := `{"json":[{"id":1},{"id":2}],"instructions":"keep everything","token-budget":10}`
	w := doRequest(srv, http.MethodPost, "/v1/remodel", body)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `[{"id":1},{"id":2}]`, w.Body.String())
}

func TestHandleRemodelValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "empty body", body: "", wantErr: "empty request body"},
		{name: "invalid json", body: "{nope", wantErr: "not valid JSON"},
		{name: "non-object body", body: `[1,2]`, wantErr: "must be a JSON object"},
		{name: "missing document", body: `{"instructions":"x"}`, wantErr: `missing "json" field`},
		{name: "missing instructions", body: `{"json":{}}`, wantErr: `missing "instructions" field`},
		{name: "non-positive budget", body: `{"json":{},"instructions":"x","token-budget":0}`, wantErr: "token-budget must be positive"},
		{name: "empty model override falls back", body: `{"json":{},"instructions":"x","model":""}`, wantErr: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(srv, http.MethodPost, "/v1/remodel", tt.body)
			if tt.wantErr == "" {
				assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
				return
			}
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, gjson.Get(w.Body.String(), "error").String(), tt.wantErr)
		})
	}
}

func TestHandleRemodelPlaceholderCollision(t *testing.T) {
	srv := newTestServer(t, nil)

	body := `{"json":{"note":"` + remodel.DefaultPlaceholder + `"},"instructions":"x"}`
	w := doRequest(srv, http.MethodPost, "/v1/remodel", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error").String(), "collides")
}

func TestHandleDecompose(t *testing.T) {
	srv := newTestServer(t, nil)

	body := `{"json":{"title":"t","items":["aaaaaaaaaa","bbbbbbbbbb"]},"token-budget":20}`
	w := doRequest(srv, http.MethodPost, "/v1/decompose", body)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := gjson.Parse(w.Body.String())
	assert.Equal(t, "gpt-4o", resp.Get("model").String())

	extractions := resp.Get("extractions").Array()
	assert.Len(t, extractions, 1)
	assert.Equal(t, "items", extractions[0].String())

	assert.Equal(t, remodel.DefaultPlaceholder, resp.Get("working.items").String(),
		"the working document must carry the placeholder")

	units := resp.Get("units").Array()
	assert.Len(t, units, 3)
	assert.Equal(t, "/", units[0].Get("address").String())
	assert.Equal(t, "items/0", units[1].Get("address").String())
	assert.Equal(t, int64(12), units[1].Get("payload_bytes").Int())
	assert.Equal(t, int64(36), units[1].Get("size_budget").Int())
}

func TestHandleDecomposeHonorsModelOverride(t *testing.T) {
	srv := newTestServer(t, nil)

	body := `{"json":{},"model":"gpt-4o-mini"}`
	w := doRequest(srv, http.MethodPost, "/v1/decompose", body)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "gpt-4o-mini", gjson.Get(w.Body.String(), "model").String())
}

func TestHandleRunsWithoutLedger(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doRequest(srv, http.MethodGet, "/v1/runs", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "run ledger is disabled")
}

func TestHandleRuns(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	assert.NoError(t, err)
	defer func() { _ = st.Close() }()

	id, err := st.RecordStart(context.Background(), store.Run{Mode: "remodel", Model: "gpt-4o", UnitCount: 3})
	assert.NoError(t, err)
	assert.NoError(t, st.RecordFinish(context.Background(), id, nil))

	srv := newTestServer(t, nil, WithLedger(st))

	w := doRequest(srv, http.MethodGet, "/v1/runs", "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	runs := gjson.Get(w.Body.String(), "runs").Array()
	assert.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].Get("id").String())
	assert.Equal(t, "completed", runs[0].Get("status").String())
	assert.Equal(t, int64(3), runs[0].Get("unit_count").Int())

	w = doRequest(srv, http.MethodGet, "/v1/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(srv, http.MethodGet, "/v1/runs?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunsRecordedForServeRequests(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	assert.NoError(t, err)
	defer func() { _ = st.Close() }()

	srv := newTestServer(t, nil, WithLedger(st))

	body := `{"json":{"items":["aaaaaaaaaa","bbbbbbbbbb"]},"instructions":"keep","token-budget":20}`
	w := doRequest(srv, http.MethodPost, "/v1/remodel", body)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	runs, err := st.Recent(context.Background(), 5)
	assert.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, "serve", runs[0].Mode)
	assert.Equal(t, store.StatusCompleted, runs[0].Status)
	assert.Equal(t, 3, runs[0].UnitCount)
	assert.Equal(t, 1, runs[0].ExtractionCount)
	assert.NotZero(t, runs[0].PromptTokens)
}

func TestRootLevelMirrors(t *testing.T) {
	srv := newTestServer(t, nil)

	body := `{"json":{"a":1},"instructions":"keep"}`
	w := doRequest(srv, http.MethodPost, "/remodel", body)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `{"a":1}`, w.Body.String())

	w = doRequest(srv, http.MethodPost, "/decompose", `{"json":{"a":1}}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestClassifyPipelineError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{
			name:       "malformed recovery",
			err:        &remodel.MalformedRecoveryError{Raw: "x"},
			wantStatus: http.StatusBadGateway,
			wantKind:   "malformed",
		},
		{
			name:       "incomplete results",
			err:        &remodel.IncompleteResultsError{},
			wantStatus: http.StatusBadGateway,
			wantKind:   "incomplete",
		},
		{
			name:       "deadline exceeded",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantKind:   "timeout",
		},
		{
			name:       "canceled",
			err:        context.Canceled,
			wantStatus: 499,
			wantKind:   "",
		},
		{
			name:       "anything else",
			err:        errors.New("socket sadness"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   "upstream",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := classifyPipelineError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestPlanPromptTokens(t *testing.T) {
	plan := &remodel.Plan{Units: []remodel.WorkUnit{
		{SizeBudget: 30},
		{SizeBudget: 60},
	}}
	assert.Equal(t, 30, planPromptTokens(plan, 3))
	assert.Equal(t, 90, planPromptTokens(plan, 0))
}
