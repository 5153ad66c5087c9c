package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
)

type formFile struct {
	field, filename string
	data            []byte
}

// buildMultipartBody creates a multipart/form-data body with the given
// plain fields and files.
func buildMultipartBody(t *testing.T, fields map[string]string, files []formFile) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(f.data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func TestUpload_CollisionInOneBatch(t *testing.T) {
	env := newTestServer(t, Options{})
	data := pngFixture(t, 2, 2)
	body, ct := buildMultipartBody(t,
		map[string]string{"category_id": itoa(env.def.ID)},
		[]formFile{
			{"images[]", "photo.png", data},
			{"images[]", "photo.png", data},
			{"images[]", "notes.txt", []byte("x")},
		})

	rr := env.do(http.MethodPost, "/admin/upload", body, ct, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	m := decodeJSON(t, rr)
	uploaded := m["uploaded"].([]any)
	if len(uploaded) != 2 || uploaded[0] != "photo.png" || uploaded[1] != "photo_1.png" {
		t.Errorf("uploaded: %v", uploaded)
	}
	if skipped := m["skipped"].([]any); len(skipped) != 1 {
		t.Errorf("skipped: %v", skipped)
	}

	ctx := context.Background()
	a, errA := env.store.ImageByFilename(ctx, "photo.png")
	b, errB := env.store.ImageByFilename(ctx, "photo_1.png")
	if errA != nil || errB != nil {
		t.Fatalf("lookup: %v / %v", errA, errB)
	}
	if a.ID == b.ID {
		t.Error("expected distinct ids")
	}
	for _, p := range []string{a.FilePath, b.FilePath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s not on disk: %v", p, err)
		}
	}
}

func TestUpload_SingleFileField(t *testing.T) {
	env := newTestServer(t, Options{})
	body, ct := buildMultipartBody(t,
		map[string]string{"category_id": itoa(env.def.ID)},
		[]formFile{{"file", "single.gif", []byte("GIF89a")}})

	rr := env.do(http.MethodPost, "/admin/upload", body, ct, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUpload_NothingAccepted(t *testing.T) {
	env := newTestServer(t, Options{})
	body, ct := buildMultipartBody(t,
		map[string]string{"category_id": itoa(env.def.ID)},
		[]formFile{{"images[]", "doc.pdf", []byte("%PDF")}})

	rr := env.do(http.MethodPost, "/admin/upload", body, ct, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if decodeJSON(t, rr)["success"] != false {
		t.Error("expected success=false")
	}
}

func TestUpload_MissingCategory(t *testing.T) {
	env := newTestServer(t, Options{})
	data := pngFixture(t, 1, 1)

	body, ct := buildMultipartBody(t, nil, []formFile{{"images[]", "a.png", data}})
	if rr := env.do(http.MethodPost, "/admin/upload", body, ct, true); rr.Code != http.StatusBadRequest {
		t.Errorf("no category: expected 400, got %d", rr.Code)
	}

	body, ct = buildMultipartBody(t, map[string]string{"category_id": "777"}, []formFile{{"images[]", "a.png", data}})
	if rr := env.do(http.MethodPost, "/admin/upload", body, ct, true); rr.Code != http.StatusNotFound {
		t.Errorf("unknown category: expected 404, got %d", rr.Code)
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := env.do(http.MethodPost, "/admin/upload", bytes.NewReader([]byte("x")), "text/plain", true)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestServer(t, Options{MaxUploadBytes: 1024})
	body, ct := buildMultipartBody(t,
		map[string]string{"category_id": itoa(env.def.ID)},
		[]formFile{{"images[]", "big.png", bytes.Repeat([]byte("x"), 4096)}})

	rr := env.do(http.MethodPost, "/admin/upload", body, ct, true)
	if rr.Code != http.StatusRequestEntityTooLarge && rr.Code != http.StatusBadRequest {
		t.Errorf("expected 413 or 400, got %d", rr.Code)
	}
	if _, err := env.store.ImageByFilename(context.Background(), "big.png"); err == nil {
		t.Error("oversized upload was indexed")
	}
}
