package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"lm-go/internal/controller"
	"lm-go/internal/service"
	"lm-go/internal/service/corpus"
	"lm-go/pkg/mcp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func setupTestRouter(t *testing.T, useUnknown bool) *gin.Engine {
	t.Helper()
	logger := zap.NewNop()
	store, err := corpus.OpenSQLiteStore(filepath.Join(t.TempDir(), "lm.db"), logger)
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	opts := service.DefaultOptions()
	opts.Model.Order = 2
	opts.Model.Smoothing = "WB"
	opts.Model.UseUnknown = useUnknown
	opts.Model.Estimator.MaxIterations = 20
	opts.WindowSize = 2
	lmService, err := service.NewLMService(store, nil, opts, logger)
	if err != nil {
		t.Fatalf("NewLMService failed: %v", err)
	}
	return SetupRouter(controller.NewCorpusController(lmService, logger), mcp.NewLMServer(lmService, logger), "/mcp", logger)
}

func do(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestHealth(t *testing.T) {
	router := setupTestRouter(t, true)
	w, body := do(t, router, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("unexpected health response: %d %v", w.Code, body)
	}
}

func TestCorpusLifecycle(t *testing.T) {
	router := setupTestRouter(t, true)

	w, _ := do(t, router, http.MethodPost, "/api/v1/corpora", gin.H{"name": "cats"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w, body := do(t, router, http.MethodPost, "/api/v1/corpora/cats/lines", gin.H{"lines": []string{
		"the cat sat on the mat", "the cat ran", "the dog ran",
	}})
	if w.Code != http.StatusOK || body["lines_added"] != float64(3) {
		t.Fatalf("append: unexpected response %d %v", w.Code, body)
	}

	w, body = do(t, router, http.MethodPost, "/api/v1/corpora/cats/score", gin.H{"lines": []string{"the cat ran"}})
	if w.Code != http.StatusOK {
		t.Fatalf("score: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body["tokens"] != float64(4) || body["model_id"] == "" {
		t.Errorf("score: unexpected body %v", body)
	}
	if ce, ok := body["cross_entropy"].(float64); !ok || ce <= 0 {
		t.Errorf("score: bad cross entropy %v", body["cross_entropy"])
	}

	w, body = do(t, router, http.MethodPost, "/api/v1/corpora/cats/windows", gin.H{"tokens": []string{"the", "cat", "mat", "ran"}, "top": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("windows: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if windows, ok := body["windows"].([]any); !ok || len(windows) != 1 {
		t.Errorf("windows: unexpected body %v", body)
	}

	w, body = do(t, router, http.MethodPost, "/api/v1/corpora/cats/estimate", nil)
	if w.Code != http.StatusOK || body["smoothing"] != "WittenBell" {
		t.Errorf("estimate: unexpected response %d %v", w.Code, body)
	}

	w, body = do(t, router, http.MethodGet, "/api/v1/corpora/cats/stats", nil)
	if w.Code != http.StatusOK || body["sources"] != float64(3) {
		t.Errorf("stats: unexpected response %d %v", w.Code, body)
	}

	w, body = do(t, router, http.MethodGet, "/api/v1/corpora", nil)
	if list, ok := body["corpora"].([]any); w.Code != http.StatusOK || !ok || len(list) != 1 {
		t.Errorf("list: unexpected response %d %v", w.Code, body)
	}

	w, _ = do(t, router, http.MethodDelete, "/api/v1/corpora/cats", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", w.Code)
	}
}

func TestErrorStatusCodes(t *testing.T) {
	router := setupTestRouter(t, false)

	w, body := do(t, router, http.MethodPost, "/api/v1/corpora/nope/score", gin.H{"lines": []string{"a"}})
	if w.Code != http.StatusNotFound || body["error"] == nil || body["details"] == nil {
		t.Errorf("missing corpus: unexpected response %d %v", w.Code, body)
	}

	w, _ = do(t, router, http.MethodPost, "/api/v1/corpora", gin.H{"language": "go"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name: expected 400, got %d", w.Code)
	}

	do(t, router, http.MethodPost, "/api/v1/corpora", gin.H{"name": "c"})

	w, _ = do(t, router, http.MethodPost, "/api/v1/corpora/c/score", gin.H{"lines": []string{"a"}})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty corpus: expected 422, got %d", w.Code)
	}

	do(t, router, http.MethodPost, "/api/v1/corpora/c/lines", gin.H{"lines": []string{"a b", "b a"}})

	w, _ = do(t, router, http.MethodPost, "/api/v1/corpora/c/score", gin.H{"lines": []string{""}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty input: expected 400, got %d", w.Code)
	}

	w, body = do(t, router, http.MethodPost, "/api/v1/corpora/c/score", gin.H{"lines": []string{"a zebra"}})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown token: expected 422, got %d %v", w.Code, body)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CustomRecoveryMiddleware(zap.NewNop()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w, body := do(t, router, http.MethodGet, "/panic", nil)
	if w.Code != http.StatusInternalServerError || body["error"] != "Internal server error" || body["details"] != "boom" {
		t.Errorf("unexpected recovery response: %d %v", w.Code, body)
	}
}

func TestMCPMounted(t *testing.T) {
	router := setupTestRouter(t, true)
	w, _ := do(t, router, http.MethodPost, "/mcp", gin.H{"jsonrpc": "2.0"})
	if w.Code == http.StatusNotFound {
		t.Error("expected MCP transport to be mounted")
	}
}
