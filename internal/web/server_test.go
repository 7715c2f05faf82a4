package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pngoo-go/internal/batch"
	"pngoo-go/internal/compressor"
	"pngoo-go/internal/config"
	"pngoo-go/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// halver returns the first half of its input and can be held at a gate.
type halver struct {
	gate chan struct{}
}

func (halver) Name() string                { return "halver" }
func (halver) Extension() string           { return "png" }
func (halver) Recognizes(data []byte) bool { return compressor.IsPNG(data) }
func (h halver) Compress(_ context.Context, input []byte, _ compressor.Settings) ([]byte, error) {
	if h.gate != nil {
		<-h.gate
	}
	return append([]byte(nil), input[:len(input)/2]...), nil
}

func newTestServer(t *testing.T, s compressor.Strategy) (*Server, *batch.Dispatcher) {
	t.Helper()
	registry := compressor.NewRegistry()
	registry.Register(compressor.KindIndexed, s)
	d := batch.NewDispatcher(registry, logger.Discard())

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())
	return NewServer(cfg, logger.Discard(), d, nil), d
}

func writePNGs(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	files := make([]string, n)
	for i := range files {
		files[i] = filepath.Join(dir, fmt.Sprintf("img-%d.png", i))
		f, err := os.Create(files[i])
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 8+i, 8))))
		require.NoError(t, f.Close())
	}
	return files
}

func do(t *testing.T, s *Server, method, target string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, &buf))

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestStatusIdle(t *testing.T) {
	s, _ := newTestServer(t, halver{})

	rec, resp := do(t, s, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "idle", data["state"])
}

func TestStartBatchRejectsEmptyFileList(t *testing.T) {
	s, _ := newTestServer(t, halver{})

	rec, resp := do(t, s, http.MethodPost, "/api/batches", BatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no files")
}

func TestStartBatchRejectsEmptyOutputDirectory(t *testing.T) {
	s, _ := newTestServer(t, halver{})
	empty := ""

	rec, resp := do(t, s, http.MethodPost, "/api/batches", BatchRequest{Files: writePNGs(t, 1), OutputDirectory: &empty})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "output directory required")
}

func TestStartBatchRejectsBadBody(t *testing.T) {
	s, _ := newTestServer(t, halver{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/batches", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartBatchRuns(t *testing.T) {
	s, d := newTestServer(t, halver{})
	out := t.TempDir()

	rec, resp := do(t, s, http.MethodPost, "/api/batches", BatchRequest{Files: writePNGs(t, 3), OutputDirectory: &out})
	require.Equal(t, http.StatusAccepted, rec.Code, resp.Error)

	result := d.Wait()
	assert.Equal(t, 3, result.Succeeded())
	assert.Equal(t, result.BatchID, resp.Data.(map[string]interface{})["batch_id"])

	_, resp = do(t, s, http.MethodGet, "/api/status", nil)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "completed", data["state"])
	stats := data["statistics"].(map[string]interface{})
	assert.Equal(t, float64(3), stats["compressed"])

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestStartBatchConflictAndCancel(t *testing.T) {
	gate := make(chan struct{})
	s, d := newTestServer(t, halver{gate: gate})
	files := writePNGs(t, 6)

	rec, _ := do(t, s, http.MethodPost, "/api/batches", BatchRequest{Files: files, Workers: 2})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/batches", BatchRequest{Files: files})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/batches/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, batch.StateCancelling, d.State())

	close(gate)
	result := d.Wait()
	assert.True(t, result.Cancelled)
	assert.Less(t, result.Processed, len(files))
}

func TestInspectEndpoint(t *testing.T) {
	s, _ := newTestServer(t, halver{})

	rec, _ := do(t, s, http.MethodGet, "/api/inspect", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	file := writePNGs(t, 1)[0]
	rec, resp := do(t, s, http.MethodGet, "/api/inspect?path="+file, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "png", data["format"])
	assert.Equal(t, float64(8), data["width"])

	junk := filepath.Join(t.TempDir(), "junk.png")
	require.NoError(t, os.WriteFile(junk, []byte("junk"), 0o644))
	rec, _ = do(t, s, http.MethodGet, "/api/inspect?path="+junk, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWebSocketStreamsOutcomes(t *testing.T) {
	s, _ := newTestServer(t, halver{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.clientCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	files := writePNGs(t, 4)
	body, err := json.Marshal(BatchRequest{Files: files, Workers: 2})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/batches", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	seen := map[int]bool{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))

		if msg.Type == "outcome" {
			var o OutcomeMessage
			require.NoError(t, json.Unmarshal(msg.Data, &o))
			assert.True(t, o.Success, o.ErrorMessage)
			seen[o.Index] = true
		}
		if msg.Type == "batch_completed" {
			break
		}
	}
	assert.Len(t, seen, len(files))
}

func TestBatchConfigAppliesRequestOverrides(t *testing.T) {
	s, _ := newTestServer(t, halver{})
	files := []string{"a.png"}

	cfg := s.batchConfig(BatchRequest{Colours: 16, SkipIfLarger: true, Workers: 2}, files)
	require.NotNil(t, cfg.Settings.Indexed)
	assert.Equal(t, 16, cfg.Settings.Indexed.Colours)
	assert.True(t, cfg.Settings.Indexed.SkipIfLarger)
	assert.False(t, cfg.Settings.Indexed.OrderedDither)
	assert.Equal(t, 2, cfg.Workers)

	plain := s.batchConfig(BatchRequest{}, files)
	assert.False(t, plain.Settings.Indexed.SkipIfLarger)
	assert.Equal(t, compressor.DefaultColours, plain.Settings.Indexed.Colours)
}
