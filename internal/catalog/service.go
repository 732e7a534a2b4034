package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const cleanupTimeout = 5 * time.Second

var (
	maxPrice    = decimal.New(1, 10) // NUMERIC(12,2) upper bound
	priceFormat = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`)
)

const maxPriceLen = 32

// NewProduct is the raw admin input. Price stays a string so that malformed
// input is rejected instead of coerced.
type NewProduct struct {
	Name        string `form:"name" validate:"required,max=100"`
	Description string `form:"description" validate:"max=300"`
	Price       string `form:"price" validate:"required"`
	Category    string `form:"category" validate:"max=100"`
	Image       ImageUpload
}

type Service struct {
	store    Store
	images   ImageStore
	log      *zap.Logger
	metrics  *Metrics
	validate *validator.Validate

	// mu orders catalog mutations within the process.
	mu sync.Mutex
}

type ServiceOption func(*Service)

func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, images ImageStore, opts ...ServiceOption) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	s := &Service{
		store:    store,
		images:   images,
		log:      zap.NewNop(),
		validate: v,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) List(ctx context.Context) ([]Product, error) {
	products, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return products, nil
}

// Add validates the input, uploads the image and only then persists the
// record. A record is never written without a stored image.
func (s *Service) Add(ctx context.Context, in NewProduct) (Product, error) {
	p, upload, err := s.prepare(in)
	if err != nil {
		return Product{}, err
	}

	img, err := s.images.Upload(ctx, upload)
	if err != nil {
		s.metrics.upload(uploadError)
		s.log.Error("image upload failed",
			zap.Error(err),
			zap.String("filename", upload.Filename),
			zap.Int("bytes", len(upload.Data)),
		)
		return Product{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	s.metrics.upload(uploadOK)

	p.ImageURL = img.URL
	p.ImageKey = img.Key

	s.mu.Lock()
	created, err := s.store.Create(ctx, p)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("persist product failed", zap.Error(err), zap.String("name", p.Name))
		s.cleanupImage(ctx, img.Key, 0)
		return Product{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	s.metrics.created()
	s.log.Info("product added",
		zap.Int64("id", created.ID),
		zap.String("name", created.Name),
		zap.String("image_url", created.ImageURL),
	)
	return created, nil
}

// Delete removes the record. The backing image is removed best-effort: a
// failed image deletion is logged and never blocks the metadata delete.
func (s *Service) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	p, ok, err := s.store.Get(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if !ok {
		return ErrNotFound
	}

	// The image call runs outside mu.
	s.cleanupImage(ctx, p.ImageKey, id)

	s.mu.Lock()
	deleted, err := s.store.Delete(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if !deleted {
		return ErrNotFound
	}

	s.metrics.deleted()
	s.log.Info("product deleted", zap.Int64("id", id))
	return nil
}

func (s *Service) cleanupImage(ctx context.Context, key string, productID int64) {
	if key == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.images.Delete(ctx, key); err != nil {
		s.metrics.cleanupFailed()
		s.log.Warn("image cleanup failed",
			zap.Error(err),
			zap.String("image_key", key),
			zap.Int64("product_id", productID),
		)
	}
}

func (s *Service) prepare(in NewProduct) (Product, ImageUpload, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Price = strings.TrimSpace(in.Price)
	in.Category = strings.TrimSpace(in.Category)

	if err := s.validate.Struct(in); err != nil {
		return Product{}, ImageUpload{}, toValidationError(err)
	}

	price, err := parsePrice(in.Price)
	if err != nil {
		return Product{}, ImageUpload{}, err
	}

	upload, err := sniffImage(in.Image)
	if err != nil {
		return Product{}, ImageUpload{}, err
	}

	return Product{
		Name:        in.Name,
		Description: in.Description,
		Price:       price,
		Category:    in.Category,
	}, upload, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	if strings.HasPrefix(raw, "-") {
		return decimal.Decimal{}, &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	// Plain digits only: exponent forms like 1e1000000000 are expensive to
	// expand and never a real price.
	if len(raw) > maxPriceLen || !priceFormat.MatchString(raw) {
		return decimal.Decimal{}, &ValidationError{Field: "price", Reason: "must be a number with at most 2 decimal places"}
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, &ValidationError{Field: "price", Reason: "must be a number"}
	}
	if price.GreaterThanOrEqual(maxPrice) {
		return decimal.Decimal{}, &ValidationError{Field: "price", Reason: "is too large"}
	}
	return price, nil
}

func sniffImage(img ImageUpload) (ImageUpload, error) {
	if len(img.Data) == 0 {
		return ImageUpload{}, &ValidationError{Field: "image", Reason: "is required"}
	}

	mt := mimetype.Detect(img.Data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return ImageUpload{}, &ValidationError{Field: "image", Reason: "must be an image, got " + mt.String()}
	}

	if name := strings.TrimSpace(img.Filename); name != "" {
		img.Filename = filepath.Base(name)
	}
	img.ContentType = mt.String()
	img.Extension = mt.Extension()
	return img, nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "input", Reason: err.Error()}
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: fe.Field(), Reason: "is required"}
	case "max":
		return &ValidationError{Field: fe.Field(), Reason: "must be at most " + fe.Param() + " characters"}
	default:
		return &ValidationError{Field: fe.Field(), Reason: "is invalid"}
	}
}
