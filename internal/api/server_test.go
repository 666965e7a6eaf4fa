package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/eargollo/imgdup/internal/api"
	"github.com/eargollo/imgdup/internal/config"
	internaldb "github.com/eargollo/imgdup/internal/db"
	"github.com/eargollo/imgdup/internal/scan"
	"github.com/eargollo/imgdup/internal/scheduler"
	"github.com/eargollo/imgdup/internal/trash"
)

type env struct {
	srv  *httptest.Server
	db   *sql.DB
	mgr  *scan.Manager
	cfg  *config.Config
	root string
}

func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	db, err := internaldb.OpenAndMigrate(filepath.Join(tb.TempDir(), "test.db"))
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

// writeImage writes a 16x16 PNG of c with the first marks pixels white.
func writeImage(tb testing.TB, path string, c color.NRGBA, marks int) string {
	tb.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < 16*16; i++ {
		px := c
		if i < marks {
			px = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
		}
		img.SetNRGBA(i%16, i/16, px)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		tb.Fatal(err)
	}
	return path
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	red := color.NRGBA{R: 200, G: 20, B: 20, A: 255}
	writeImage(t, filepath.Join(root, "red1.png"), red, 0)
	writeImage(t, filepath.Join(root, "red2.png"), red, 0)
	writeImage(t, filepath.Join(root, "red3.png"), red, 2)
	writeImage(t, filepath.Join(root, "blue.png"), color.NRGBA{B: 200, A: 255}, 0)
	if err := os.WriteFile(filepath.Join(root, "broken.jpg"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.ScanPaths = []string{root}
	cfg.Threshold = 100
	cfg.Workers = 2
	cfg.TrashDir = filepath.Join(t.TempDir(), "trash")

	db := mustOpenDB(t)
	mgr := scan.NewManager(db, cfg.ScanConfig())
	srv := httptest.NewServer(api.NewRouter(api.Deps{
		DB:      db,
		Cfg:     cfg,
		Manager: mgr,
		Trash:   trash.New(db, cfg.TrashDir),
		Sched:   scheduler.New(),
		ScanJob: func() {},
		Version: "test",
	}))
	t.Cleanup(srv.Close)
	return &env{srv: srv, db: db, mgr: mgr, cfg: cfg, root: root}
}

func (e *env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

type errorBody struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	expectStatus(t, resp, status)
	if got := decode[errorBody](t, resp).Error.Code; got != code {
		t.Errorf("error code: got %q, want %q", got, code)
	}
}

// runScan starts a scan over the API and waits for it to finish.
func (e *env) runScan(t *testing.T) {
	t.Helper()
	expectStatus(t, e.do(t, http.MethodPost, "/api/scans", nil), http.StatusAccepted)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.mgr.Wait(ctx); err != nil {
		t.Fatalf("wait for scan: %v", err)
	}
}

type groupList struct {
	Items []struct {
		ID        int      `json:"id"`
		FileCount int      `json:"file_count"`
		Paths     []string `json:"paths"`
	} `json:"items"`
	Total int `json:"total"`
}

func TestBeforeAnyScan(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/api/status", nil)
	expectStatus(t, resp, http.StatusOK)
	status := decode[map[string]any](t, resp)
	if status["active_scan"] != nil || status["last_result"] != nil || status["version"] != "test" {
		t.Errorf("status: got %v", status)
	}

	expectError(t, e.do(t, http.MethodGet, "/api/groups", nil), http.StatusNotFound, "NO_RESULT")
	expectError(t, e.do(t, http.MethodDelete, "/api/scans/current", nil), http.StatusNotFound, "NO_ACTIVE_SCAN")
	expectError(t, e.do(t, http.MethodPost, "/api/trash", map[string]string{"path": "x"}), http.StatusNotFound, "NO_RESULT")
}

func TestScanWithoutPathsRejected(t *testing.T) {
	e := newEnv(t)
	e.mgr.UpdateConfig(scan.Config{})
	expectError(t, e.do(t, http.MethodPost, "/api/scans", nil), http.StatusBadRequest, "NO_SCAN_PATHS")
}

func TestScanAndBrowseGroups(t *testing.T) {
	e := newEnv(t)
	e.runScan(t)

	resp := e.do(t, http.MethodGet, "/api/groups", nil)
	expectStatus(t, resp, http.StatusOK)
	groups := decode[groupList](t, resp)
	if groups.Total != 1 || len(groups.Items) != 1 || groups.Items[0].FileCount != 3 {
		t.Fatalf("groups: got %+v", groups)
	}

	resp = e.do(t, http.MethodGet, "/api/groups/1", nil)
	expectStatus(t, resp, http.StatusOK)
	detail := decode[struct {
		Members []struct {
			Path    string `json:"path"`
			Missing bool   `json:"missing"`
		} `json:"members"`
		Pairs []scan.PairDiff `json:"pairs"`
	}](t, resp)
	if len(detail.Members) != 3 || len(detail.Pairs) != 3 {
		t.Errorf("group detail: got %+v", detail)
	}

	expectError(t, e.do(t, http.MethodGet, "/api/groups/2", nil), http.StatusNotFound, "NOT_FOUND")
	expectError(t, e.do(t, http.MethodGet, "/api/groups/abc", nil), http.StatusBadRequest, "INVALID_ID")

	resp = e.do(t, http.MethodGet, "/api/records/errors", nil)
	expectStatus(t, resp, http.StatusOK)
	errs := decode[struct {
		Items []struct {
			Path string `json:"path"`
		} `json:"items"`
	}](t, resp)
	if len(errs.Items) != 1 || filepath.Base(errs.Items[0].Path) != "broken.jpg" {
		t.Errorf("decode errors: got %+v", errs)
	}

	member := groups.Items[0].Paths[0]
	resp = e.do(t, http.MethodGet, "/api/thumbnail?path="+url.QueryEscape(member), nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("thumbnail content type: %q", ct)
	}
	expectError(t, e.do(t, http.MethodGet, "/api/thumbnail?path="+url.QueryEscape("/etc/passwd"), nil),
		http.StatusNotFound, "NOT_FOUND")
	expectError(t, e.do(t, http.MethodGet, "/api/thumbnail", nil), http.StatusBadRequest, "MISSING_PATH")

	resp = e.do(t, http.MethodGet, "/api/records/info?path="+url.QueryEscape(member), nil)
	expectStatus(t, resp, http.StatusOK)
	info := decode[map[string]any](t, resp)
	if info["decoded"] != true || info["group_id"] != float64(1) {
		t.Errorf("record info: got %v", info)
	}

	resp = e.do(t, http.MethodGet, "/api/scans", nil)
	expectStatus(t, resp, http.StatusOK)
	history := decode[struct {
		Items []scan.HistoryEntry `json:"items"`
		Total int                 `json:"total"`
	}](t, resp)
	if history.Total != 1 || history.Items[0].Status != "completed" || history.Items[0].DuplicateGroups != 1 {
		t.Errorf("history: got %+v", history)
	}

	resp = e.do(t, http.MethodGet, "/api/status", nil)
	expectStatus(t, resp, http.StatusOK)
	status := decode[struct {
		LastResult *struct {
			Records      int `json:"records"`
			DecodeErrors int `json:"decode_errors"`
			Groups       int `json:"duplicate_groups"`
		} `json:"last_result"`
	}](t, resp)
	if status.LastResult == nil || status.LastResult.Records != 5 ||
		status.LastResult.DecodeErrors != 1 || status.LastResult.Groups != 1 {
		t.Errorf("status last_result: got %+v", status.LastResult)
	}
}

func TestTrashKeepsOneMember(t *testing.T) {
	e := newEnv(t)
	e.runScan(t)

	red1 := filepath.Join(e.root, "red1.png")
	red2 := filepath.Join(e.root, "red2.png")
	red3 := filepath.Join(e.root, "red3.png")

	expectError(t, e.do(t, http.MethodPost, "/api/trash", map[string]string{"path": filepath.Join(e.root, "blue.png")}),
		http.StatusNotFound, "NOT_IN_GROUP")

	resp := e.do(t, http.MethodPost, "/api/trash", map[string]string{"path": red3})
	expectStatus(t, resp, http.StatusCreated)
	first := decode[struct {
		TrashID int64 `json:"trash_id"`
	}](t, resp)
	expectStatus(t, e.do(t, http.MethodPost, "/api/trash", map[string]string{"path": red2}), http.StatusCreated)
	expectError(t, e.do(t, http.MethodPost, "/api/trash", map[string]string{"path": red1}),
		http.StatusConflict, "NO_KEEPER")
	if _, err := os.Stat(red1); err != nil {
		t.Fatalf("last member was removed: %v", err)
	}

	resp = e.do(t, http.MethodGet, "/api/trash", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[struct {
		Total int `json:"total"`
	}](t, resp); list.Total != 2 {
		t.Errorf("trash total: got %d, want 2", list.Total)
	}

	restorePath := "/api/trash/" + strconv.FormatInt(first.TrashID, 10) + "/restore"
	expectStatus(t, e.do(t, http.MethodPost, restorePath, nil), http.StatusOK)
	if _, err := os.Stat(red3); err != nil {
		t.Errorf("restored file missing: %v", err)
	}
	expectError(t, e.do(t, http.MethodPost, restorePath, nil), http.StatusNotFound, "NOT_FOUND")

	resp = e.do(t, http.MethodDelete, "/api/trash", nil)
	expectStatus(t, resp, http.StatusOK)
	if purged := decode[struct {
		Files int64 `json:"files_purged"`
	}](t, resp); purged.Files != 1 {
		t.Errorf("files_purged: got %d, want 1", purged.Files)
	}

	resp = e.do(t, http.MethodGet, "/api/stats", nil)
	expectStatus(t, resp, http.StatusOK)
	stats := decode[struct {
		Totals struct {
			DeletedFiles int64 `json:"deleted_files"`
		} `json:"totals"`
		Threshold *uint64 `json:"threshold"`
	}](t, resp)
	if stats.Totals.DeletedFiles != 1 || stats.Threshold == nil || *stats.Threshold != 100 {
		t.Errorf("stats: got %+v", stats)
	}
}

func TestPatchConfig(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPatch, "/api/config", map[string]any{
		"threshold": 5,
		"schedule":  "0 3 * * *",
	})
	expectStatus(t, resp, http.StatusOK)
	if got := e.mgr.Config().Threshold; got != 5 {
		t.Errorf("manager threshold: got %d, want 5", got)
	}
	if e.cfg.Schedule != "0 3 * * *" {
		t.Errorf("schedule: got %q", e.cfg.Schedule)
	}

	expectError(t, e.do(t, http.MethodPatch, "/api/config", map[string]any{"trash_retention_days": 0}),
		http.StatusBadRequest, "INVALID_CONFIG")
	expectError(t, e.do(t, http.MethodPatch, "/api/config", map[string]any{"schedule": "bogus"}),
		http.StatusBadRequest, "INVALID_CONFIG")
	expectError(t, e.do(t, http.MethodPatch, "/api/config", map[string]any{"workers": -1}),
		http.StatusBadRequest, "INVALID_CONFIG")
	if e.cfg.Schedule != "0 3 * * *" || e.cfg.Workers != 2 {
		t.Errorf("rejected patch was applied: %+v", e.cfg)
	}
}
