package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hummel22/bambuQueue/internal/config"
	"github.com/hummel22/bambuQueue/internal/db"
	"github.com/hummel22/bambuQueue/internal/importer"
	"github.com/hummel22/bambuQueue/internal/watcher"
)

func newTestRouter(t *testing.T) (*gin.Engine, *db.Store, *config.Config) {
	t.Helper()

	base := t.TempDir()
	cfg := &config.Config{
		Paths: config.PathsConfig{
			DataDir:      base,
			JobsDir:      filepath.Join(base, "jobs"),
			CompletedDir: filepath.Join(base, "completed"),
			ImportDir:    filepath.Join(base, "import"),
		},
	}
	for _, dir := range []string{cfg.Paths.JobsDir, cfg.Paths.CompletedDir, cfg.Paths.ImportDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	store, err := db.Open(cfg.Paths.DataDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	imp := importer.New(cfg.Paths, store, nil)
	w := watcher.New(cfg.Paths.ImportDir, time.Second, imp)

	return NewRouter(cfg, store, w), store, cfg
}

func TestGetReadyImportsEmpty(t *testing.T) {
	router, _, _ := newTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/imports/ready", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var body struct {
		Count      int               `json:"count"`
		Candidates []json.RawMessage `json:"candidates"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 0 || len(body.Candidates) != 0 {
		t.Errorf("unexpected body: %s", recorder.Body.String())
	}
}

func TestImportFilesRejectsBadBody(t *testing.T) {
	router, _, _ := newTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/imports",
		bytes.NewBufferString(`{"nope":true}`)))

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestJobStatusEndpointQueuesImportedJob(t *testing.T) {
	router, store, cfg := newTestRouter(t)
	ctx := context.Background()

	path := filepath.Join(cfg.Paths.JobsDir, "web.gcode.3mf")
	if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	jobID, err := store.InsertImportedJob(ctx, "web - Plate 1", path, "", "",
		[]db.PlateDefinition{{PlateIndex: 1, Name: "Plate 1"}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	recorder := httptest.NewRecorder()
	url := "/api/v1/jobs/" + strconv.FormatInt(jobID, 10) + "/status"
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, url,
		bytes.NewBufferString(`{"status":"queued"}`)))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", recorder.Code, recorder.Body.String())
	}
	var job db.Job
	if err := json.Unmarshal(recorder.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.StatusName != "queued" {
		t.Errorf("job status = %q, want queued", job.StatusName)
	}
}

func TestJobStatusEndpointUnknownJob(t *testing.T) {
	router, _, _ := newTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/4242/status",
		bytes.NewBufferString(`{"status":"queued"}`)))

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}

func TestListCompletedJobs(t *testing.T) {
	router, store, cfg := newTestRouter(t)
	ctx := context.Background()

	path := filepath.Join(cfg.Paths.JobsDir, "hist.gcode.3mf")
	if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	jobID, err := store.InsertImportedJob(ctx, "hist - Plate 1", path, "", "",
		[]db.PlateDefinition{{PlateIndex: 1, Name: "Plate 1"}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.UpdateJobStatus(ctx, jobID, "completed", cfg.Paths.JobsDir, cfg.Paths.CompletedDir); err != nil {
		t.Fatalf("complete: %v", err)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/completed", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	var body struct {
		Jobs []db.Job `json:"jobs"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].Name != "hist - Plate 1" {
		t.Errorf("unexpected jobs: %s", recorder.Body.String())
	}
}
