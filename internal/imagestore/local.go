package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"MiniShop/internal/catalog"
	"MiniShop/pkg/kit"
)

var _ catalog.ImageStore = (*Local)(nil)

const DefaultURLPrefix = "/uploads/"

var ErrInvalidKey = errors.New("invalid image key")

// Local writes images under dir and addresses them as URLPrefix+key.
type Local struct {
	dir       string
	urlPrefix string
}

func NewLocal(dir, urlPrefix string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("image directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = DefaultURLPrefix
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Local{dir: dir, urlPrefix: urlPrefix}, nil
}

func (l *Local) Upload(ctx context.Context, img catalog.ImageUpload) (catalog.StoredImage, error) {
	if err := ctx.Err(); err != nil {
		return catalog.StoredImage{}, err
	}

	key := newKey(img)
	path := filepath.Join(l.dir, key)

	// O_EXCL: an upload never replaces an existing file.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return catalog.StoredImage{}, fmt.Errorf("create image file: %w", err)
	}
	if _, err := f.Write(img.Data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return catalog.StoredImage{}, fmt.Errorf("write image file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return catalog.StoredImage{}, fmt.Errorf("close image file: %w", err)
	}

	return catalog.StoredImage{URL: l.urlPrefix + key, Key: key}, nil
}

// Delete removes the file; an already missing file is not an error.
func (l *Local) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	err := os.Remove(filepath.Join(l.dir, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Handler serves GET /uploads/{filename}.
func (l *Local) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		if !validKey(name) {
			kit.WriteError(w, r, http.StatusNotFound, "not found", nil)
			return
		}

		path := filepath.Join(l.dir, name)
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			kit.WriteError(w, r, http.StatusNotFound, "not found", nil)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeFile(w, r, path)
	})
}

func validKey(key string) bool {
	return key != "" &&
		!strings.HasPrefix(key, ".") &&
		!strings.ContainsAny(key, `/\`) &&
		filepath.Base(key) == key
}
