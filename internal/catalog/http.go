package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"MiniShop/pkg/kit"
)

const (
	defaultMaxUpload = 10 << 20
	multipartMemory  = 1 << 20

	msgAdded   = "Product added successfully!"
	msgDeleted = "Product deleted successfully!"
)

type Server struct {
	Service *Service
	Log     *zap.Logger

	// MaxUploadBytes caps the multipart body of POST /api/products.
	MaxUploadBytes int64
}

type addResponse struct {
	Message string  `json:"message"`
	Product Product `json:"product"`
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()

	if err := s.Service.Ping(ctx); err != nil {
		s.logger().Warn("readyz failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusServiceUnavailable, "not ready", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	products, err := s.Service.List(r.Context())
	if err != nil {
		s.logger().Error("list products failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, products)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	limit := s.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			kit.WriteError(w, r, http.StatusRequestEntityTooLarge, "upload too large", map[string]any{"limit_bytes": tooLarge.Limit})
			return
		}
		kit.WriteError(w, r, http.StatusBadRequest, "expected multipart form", map[string]any{"cause": err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	in := NewProduct{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Price:       r.FormValue("price"),
		Category:    r.FormValue("category"),
	}

	img, err := readImage(r)
	if err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "could not read image", nil)
		return
	}
	in.Image = img

	p, err := s.Service.Add(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	kit.WriteJSON(w, http.StatusOK, addResponse{Message: msgAdded, Product: p})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		kit.WriteError(w, r, http.StatusNotFound, ErrNotFound.Error(), map[string]any{"id": raw})
		return
	}

	if err := s.Service.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	kit.WriteJSON(w, http.StatusOK, kit.MessageResponse{Message: msgDeleted})
}

// readImage returns an empty upload when the form has no image part; the
// service reports that as a validation error.
func readImage(r *http.Request) (ImageUpload, error) {
	f, hdr, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return ImageUpload{}, nil
	}
	if err != nil {
		return ImageUpload{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return ImageUpload{}, err
	}
	return ImageUpload{Filename: hdr.Filename, Data: data}, nil
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError

	switch {
	case errors.As(err, &verr):
		kit.WriteError(w, r, http.StatusBadRequest, verr.Error(), map[string]any{"field": verr.Field})
	case errors.Is(err, ErrNotFound):
		kit.WriteError(w, r, http.StatusNotFound, ErrNotFound.Error(), nil)
	case errors.Is(err, ErrUpload):
		kit.WriteError(w, r, http.StatusInternalServerError, "image upload failed", nil)
	case errors.Is(err, ErrStorage):
		s.logger().Error("catalog storage error", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "could not save catalog", nil)
	default:
		s.logger().Error("unexpected catalog error", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
	}
}
