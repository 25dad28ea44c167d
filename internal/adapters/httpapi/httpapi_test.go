package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/mailstore"
	"github.com/mikey/sortana/internal/adapters/store"
	"github.com/mikey/sortana/internal/config"
	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/metrics"
	"github.com/mikey/sortana/internal/settings"
	"github.com/mikey/sortana/internal/sorter"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if strings.Contains(req.Prompt, "invoice") {
		return "<think>has an amount due</think>{\"match\": true}", nil
	}
	return `{"match": false}`, nil
}

type fixture struct {
	router *gin.Engine
	mail   *mailstore.MemoryStore
	svc    *sorter.Service
	reg    *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mail := mailstore.NewMemoryStore(nil, mailstore.MemoryOptions{Folders: []string{"Billing"}})

	svc := sorter.New(mail, store.NewMemoryStore(nil), &fakeCompleter{}, nil, sorter.Options{
		Defaults: settings.Defaults(config.NewFromViper(config.NewEmptyViper())),
		Metrics:  m,
	})
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	return &fixture{
		router: NewRouter(svc, nil, Options{Gatherer: reg, Recorder: m}),
		mail:   mail,
		svc:    svc,
		reg:    reg,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) deliver(t *testing.T, subject string) core.MessageID {
	t.Helper()
	raw := "From: billing@example.org\r\nSubject: " + subject + "\r\n\r\nPlease pay.\r\n"
	id, err := f.mail.Deliver(context.Background(), []byte(raw), "INBOX")
	require.NoError(t, err)
	return id
}

var invoiceRules = map[string]any{
	"rules": []map[string]any{{
		"criterion": "is an invoice",
		"enabled":   true,
		"actions":   []map[string]any{{"type": "move", "folder": "Billing"}},
	}},
}

func TestClassify(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/classify", map[string]string{"text": "Amount due: $40", "criterion": "is an invoice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"match": true, "reason": "has an amount due"}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/v1/classify", map[string]string{"text": "x", "criterion": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRulesRoundTrip(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/v1/rules", invoiceRules)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Rules []core.Rule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Rules, 1)
	assert.Equal(t, core.ActionList{core.MoveAction{Folder: "Billing"}}, got.Rules[0].Actions)

	w = f.do(t, http.MethodPut, "/v1/rules", map[string]any{"rules": []map[string]any{{"criterion": ""}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSavedRuleIsEnabledByDefault(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"rules": []map[string]any{{
		"criterion": "is an invoice",
		"actions":   []map[string]any{{"type": "move", "folder": "Billing"}},
	}}}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/v1/rules", body).Code)

	w := f.do(t, http.MethodGet, "/v1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Rules []core.Rule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Rules, 1)
	assert.True(t, got.Rules[0].Enabled)

	id := f.deliver(t, "Invoice #7")
	w = f.do(t, http.MethodPost, "/v1/apply?wait=true", map[string]any{"messageIds": []core.MessageID{id}})
	require.Equal(t, http.StatusOK, w.Code)

	h, err := f.mail.GetHeader(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Billing", h.Folder)
}

func TestApplyAndDetails(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/v1/rules", invoiceRules).Code)
	id := f.deliver(t, "Invoice #12")

	w := f.do(t, http.MethodPost, "/v1/apply?wait=true", map[string]any{"messageIds": []core.MessageID{id}})
	require.Equal(t, http.StatusOK, w.Code)

	h, err := f.mail.GetHeader(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Billing", h.Folder)

	w = f.do(t, http.MethodGet, "/v1/messages/"+string(id)+"/details", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subject": "Invoice #12", "results": [
		{"criterion": "is an invoice", "matched": true, "reason": "has an amount due"}
	]}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/v1/cache/clear", map[string]any{"messageIds": []core.MessageID{id}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed": 1}`, w.Body.String())
}

func TestApplyFolder(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, "one")
	f.deliver(t, "two")

	w := f.do(t, http.MethodPost, "/v1/apply/folder", map[string]string{"folder": "INBOX"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"queued": 2}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/v1/apply/folder", map[string]string{"folder": "Nowhere"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/v1/apply/folder", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetailsUnknownMessage(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/messages/999/details", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueAndStats(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"depth": 0, "processing": false, "state": "idle"}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.ElementsMatch(t, []string{"count", "mean", "stddev", "total", "last", "current"}, keys(stats))
}

func TestExportImport(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/v1/rules", invoiceRules).Code)

	w := f.do(t, http.MethodGet, "/v1/export?groups=rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Contains(t, doc, "aiRules")
	assert.NotContains(t, doc, "endpoint")

	other := newFixture(t)
	w = other.do(t, http.MethodPost, "/v1/import?groups=rules,settings", doc)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"imported": 1}`, w.Body.String())
	assert.Len(t, other.svc.Rules(context.Background()), 1)

	w = other.do(t, http.MethodGet, "/v1/export?groups=secrets", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = other.do(t, http.MethodPost, "/v1/import?groups=rules",
		map[string]any{"aiRules": map[string]any{"version": 9, "rules": []any{}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, other.svc.Rules(context.Background()), 1)
}

func TestReloadSettings(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/settings/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"template":"openai"`)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/v1/queue", nil)

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `sortana_http_request_duration_seconds_count{method="GET",path="/v1/queue",status="200"} 1`)
}

func TestRecoveryMiddleware(t *testing.T) {
	r := NewRouter(nil, nil, Options{})
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServerStartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewRouter(nil, nil, Options{}), zap.NewNop())
	require.NoError(t, s.Start())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
