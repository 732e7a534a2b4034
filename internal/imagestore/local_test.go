package imagestore_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"MiniShop/internal/catalog"
	"MiniShop/internal/imagestore"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func pngUpload(name string) catalog.ImageUpload {
	data := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)
	return catalog.ImageUpload{
		Filename:    name,
		ContentType: "image/png",
		Extension:   ".png",
		Data:        data,
	}
}

func newUploadsTS(t *testing.T, l *imagestore.Local) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/uploads/{filename}", l.Handler())
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func TestLocal_UploadServeDelete(t *testing.T) {
	dir := t.TempDir()
	l, err := imagestore.NewLocal(dir, "")
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	img, err := l.Upload(context.Background(), pngUpload("photo.PNG"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(img.URL, "/uploads/") || !strings.HasSuffix(img.Key, ".png") {
		t.Fatalf("unexpected stored image: %+v", img)
	}

	ts := newUploadsTS(t, l)

	resp, err := http.Get(ts.URL + img.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
	}
	if got := resp.Header.Get("Content-Type"); got != "image/png" {
		t.Fatalf("expected image/png, got %q", got)
	}
	if !bytes.HasPrefix(body, pngHeader) {
		t.Fatalf("served bytes differ from upload")
	}

	if err := l.Delete(context.Background(), img.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, img.Key)); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}

	// second delete of the same key is a no-op
	if err := l.Delete(context.Background(), img.Key); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestLocal_SameFilenameNeverOverwrites(t *testing.T) {
	l, err := imagestore.NewLocal(t.TempDir(), "/img")
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	a, err := l.Upload(context.Background(), pngUpload("same.png"))
	if err != nil {
		t.Fatalf("upload a: %v", err)
	}
	b, err := l.Upload(context.Background(), pngUpload("same.png"))
	if err != nil {
		t.Fatalf("upload b: %v", err)
	}

	if a.Key == b.Key {
		t.Fatalf("expected distinct keys, both %q", a.Key)
	}
	if !strings.HasPrefix(a.URL, "/img/") {
		t.Fatalf("expected url prefix /img/, got %q", a.URL)
	}
}

func TestLocal_HandlerRejectsUnknownAndTraversal(t *testing.T) {
	dir := t.TempDir()
	l, err := imagestore.NewLocal(filepath.Join(dir, "uploads"), "")
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	ts := newUploadsTS(t, l)

	for _, p := range []string{
		"/uploads/missing.png",
		"/uploads/..%2Fsecret.txt",
		"/uploads/.hidden",
	} {
		resp, err := http.Get(ts.URL + p)
		if err != nil {
			t.Fatalf("get %s: %v", p, err)
		}
		_ = resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", p, resp.StatusCode)
		}
	}
}

func TestLocal_DeleteRejectsPathKeys(t *testing.T) {
	l, err := imagestore.NewLocal(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new local: %v", err)
	}

	if err := l.Delete(context.Background(), "../products.json"); err == nil {
		t.Fatalf("expected error for path key")
	}
}
