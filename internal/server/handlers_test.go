package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/banux/nxt-gallery/internal/catalog"
	"github.com/banux/nxt-gallery/internal/gallery"
	"github.com/banux/nxt-gallery/internal/serve"
	"github.com/banux/nxt-gallery/internal/store"
)

const (
	testAdminUser = "admin"
	testAdminPass = "secret"
)

var testFallback = serve.Asset{ContentType: "image/svg+xml", Data: []byte("<svg>missing</svg>")}

type testEnv struct {
	srv     *Server
	store   *store.Store
	uploads string
	def     *catalog.Category
}

// newTestServer creates a bootstrapped Server backed by a temp-dir store.
func newTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	st, err := store.Open(ctx, filepath.Join(root, "gallery.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uploads := filepath.Join(root, "uploads")
	svc := gallery.New(st, uploads, logger)
	def, err := svc.Bootstrap(ctx, gallery.BootstrapOptions{
		AdminUsername:   testAdminUser,
		AdminPassword:   testAdminPass,
		DefaultCategory: "default",
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if opts.Fallback.Data == nil {
		opts.Fallback = testFallback
	}
	opts.Logger = logger
	return &testEnv{srv: New(svc, st, opts), store: st, uploads: uploads, def: def}
}

// do runs a request against the server, authenticating as admin when
// admin is true.
func (e *testEnv) do(method, target string, body io.Reader, contentType string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if admin {
		req.SetBasicAuth(testAdminUser, testAdminPass)
	}
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode JSON %q: %v", rr.Body.String(), err)
	}
	return m
}

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// writeDefaultImage places a file in the default category folder and
// rescans it.
func (e *testEnv) writeDefaultImage(t *testing.T, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(e.def.FolderPath, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
	rr := e.do(http.MethodPost, "/admin/scan_folder/"+itoa(e.def.ID), nil, "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("scan: %d %s", rr.Code, rr.Body.String())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestHealth(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := env.do(http.MethodGet, "/health", nil, "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeJSON(t, rr)["status"]; got != "ok" {
		t.Errorf("status: %v", got)
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestMetrics(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := env.do(http.MethodGet, "/metrics", nil, "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "gallery_reconcile_runs_total") {
		t.Error("reconcile metrics not exported")
	}
}

func TestListCategories(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := env.do(http.MethodGet, "/api/categories", nil, "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	cats, _ := decodeJSON(t, rr)["categories"].([]any)
	if len(cats) != 1 {
		t.Fatalf("expected 1 category, got %d", len(cats))
	}
	c := cats[0].(map[string]any)
	if c["name"] != "default" || c["is_default"] != true {
		t.Errorf("category: %v", c)
	}
}

func TestListImages(t *testing.T) {
	env := newTestServer(t, Options{})
	env.writeDefaultImage(t, "a.png", pngFixture(t, 5, 7))
	env.writeDefaultImage(t, "b.png", pngFixture(t, 1, 1))

	rr := env.do(http.MethodGet, "/api/categories/"+itoa(env.def.ID)+"/images?page=0&per_page=1&sort=asc", nil, "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	m := decodeJSON(t, rr)
	if m["current_page"] != float64(1) || m["total_count"] != float64(2) || m["total_pages"] != float64(2) {
		t.Errorf("pagination: %v", m)
	}
	images := m["images"].([]any)
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}
	img := images[0].(map[string]any)
	if img["sort_index"] != float64(1) {
		t.Errorf("asc listing should start at sort index 1: %v", img)
	}
	if !strings.HasPrefix(img["url"].(string), "/uploads/default/") {
		t.Errorf("url: %v", img["url"])
	}

	rr = env.do(http.MethodGet, "/api/categories/"+itoa(env.def.ID)+"/images?search=A.PNG", nil, "", false)
	m = decodeJSON(t, rr)
	if m["total_count"] != float64(1) {
		t.Errorf("search total: %v", m["total_count"])
	}
	hit := m["images"].([]any)[0].(map[string]any)
	if hit["width"] != float64(5) || hit["height"] != float64(7) {
		t.Errorf("dimensions: %v x %v", hit["width"], hit["height"])
	}
}

func TestListImages_UnknownCategory(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := env.do(http.MethodGet, "/api/categories/999/images", nil, "", false)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if decodeJSON(t, rr)["success"] != false {
		t.Error("expected success=false")
	}
}

func TestGetImage(t *testing.T) {
	env := newTestServer(t, Options{})
	env.writeDefaultImage(t, "x.png", pngFixture(t, 2, 2))
	img, err := env.store.ImageByFilename(context.Background(), "x.png")
	if err != nil {
		t.Fatal(err)
	}

	rr := env.do(http.MethodGet, "/api/images/"+itoa(img.ID), nil, "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	got := decodeJSON(t, rr)["image"].(map[string]any)
	if got["filename"] != "x.png" || got["category"] != "default" {
		t.Errorf("image: %v", got)
	}

	if rr := env.do(http.MethodGet, "/api/images/424242", nil, "", false); rr.Code != http.StatusNotFound {
		t.Errorf("missing image: expected 404, got %d", rr.Code)
	}
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	env := newTestServer(t, Options{})
	tests := []struct {
		method, target string
	}{
		{http.MethodDelete, "/api/images/1"},
		{http.MethodPost, "/api/categories"},
		{http.MethodDelete, "/api/categories/1"},
		{http.MethodPost, "/admin/add_category"},
		{http.MethodPost, "/admin/delete_category/1"},
		{http.MethodPost, "/admin/scan_folder/1"},
		{http.MethodPost, "/admin/upload"},
	}
	for _, tt := range tests {
		rr := env.do(tt.method, tt.target, nil, "", false)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tt.method, tt.target, rr.Code)
		}
	}
}

func TestAddAndDeleteCategory(t *testing.T) {
	env := newTestServer(t, Options{})
	folder := filepath.Join(t.TempDir(), "trips")
	body := `{"name":"trips","folder_path":` + jsonString(folder) + `}`

	rr := env.do(http.MethodPost, "/api/categories", strings.NewReader(body), "application/json", true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	cat := decodeJSON(t, rr)["category"].(map[string]any)
	if _, err := os.Stat(folder); err != nil {
		t.Errorf("folder not created: %v", err)
	}

	rr = env.do(http.MethodPost, "/api/categories", strings.NewReader(body), "application/json", true)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate: expected 409, got %d", rr.Code)
	}

	form := url.Values{"name": {""}, "folder_path": {""}}
	rr = env.do(http.MethodPost, "/admin/add_category", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", true)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty name: expected 400, got %d", rr.Code)
	}

	id := itoa(int64(cat["id"].(float64)))
	rr = env.do(http.MethodDelete, "/api/categories/"+id, nil, "", true)
	if rr.Code != http.StatusOK {
		t.Errorf("delete: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, err := os.Stat(folder); err != nil {
		t.Errorf("folder removed with category: %v", err)
	}
}

func TestDeleteDefaultCategoryForbidden(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := env.do(http.MethodPost, "/admin/delete_category/"+itoa(env.def.ID), nil, "", true)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestDeleteImage(t *testing.T) {
	env := newTestServer(t, Options{})
	env.writeDefaultImage(t, "del.png", pngFixture(t, 1, 1))
	img, err := env.store.ImageByFilename(context.Background(), "del.png")
	if err != nil {
		t.Fatal(err)
	}

	rr := env.do(http.MethodDelete, "/api/images/"+itoa(img.ID), nil, "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, err := os.Stat(img.FilePath); !os.IsNotExist(err) {
		t.Errorf("file still on disk: %v", err)
	}
	rr = env.do(http.MethodDelete, "/api/images/"+itoa(img.ID), nil, "", true)
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rr.Code)
	}
}

func TestServeUploads(t *testing.T) {
	env := newTestServer(t, Options{})
	data := pngFixture(t, 3, 3)
	env.writeDefaultImage(t, "shown.png", data)

	rr := env.do(http.MethodGet, "/uploads/default/shown.png", nil, "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), data) {
		t.Error("served bytes differ from file")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type: %q", ct)
	}

	rr = env.do(http.MethodGet, "/uploads/missing.png", nil, "", false)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", rr.Code)
	}
	if rr.Body.String() != string(testFallback.Data) {
		t.Errorf("missing: expected fallback body, got %q", rr.Body.String())
	}
}

func TestStaticFS(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>gallery</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	env := newTestServer(t, Options{StaticFS: os.DirFS(dir)})

	rr := env.do(http.MethodGet, "/", nil, "", false)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "gallery") {
		t.Errorf("index: %d %q", rr.Code, rr.Body.String())
	}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestCategoryFeed(t *testing.T) {
	env := newTestServer(t, Options{})
	env.writeDefaultImage(t, "sunset.png", pngFixture(t, 2, 2))

	rr := env.do(http.MethodGet, "/feeds/categories/"+itoa(env.def.ID), nil, "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/atom+xml") {
		t.Errorf("content type: %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "<title>sunset.png</title>") {
		t.Errorf("feed missing entry: %s", body)
	}
	if !strings.Contains(body, `href="http://example.com/uploads/default/sunset.png"`) {
		t.Errorf("feed missing absolute image link: %s", body)
	}

	if rr := env.do(http.MethodGet, "/feeds/categories/999", nil, "", false); rr.Code != http.StatusNotFound {
		t.Errorf("unknown category: expected 404, got %d", rr.Code)
	}
}

func TestCategoryFeed_NewestFirst(t *testing.T) {
	env := newTestServer(t, Options{})
	ctx := context.Background()
	now := time.Now()
	if _, err := env.store.InsertImage(ctx, env.def.ID, "old.png", filepath.Join(env.def.FolderPath, "old.png"), now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.InsertImage(ctx, env.def.ID, "new.png", filepath.Join(env.def.FolderPath, "new.png"), now); err != nil {
		t.Fatal(err)
	}

	rr := env.do(http.MethodGet, "/feeds/categories/"+itoa(env.def.ID), nil, "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	newAt := strings.Index(body, "<title>new.png</title>")
	oldAt := strings.Index(body, "<title>old.png</title>")
	if newAt < 0 || oldAt < 0 {
		t.Fatalf("feed missing entries: %s", body)
	}
	if newAt > oldAt {
		t.Error("newest image should be the first entry")
	}
}
