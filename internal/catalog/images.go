package catalog

import "context"

type ImageUpload struct {
	Filename    string
	ContentType string
	Extension   string // from the sniffed content type, e.g. ".png"
	Data        []byte
}

type StoredImage struct {
	URL string
	Key string
}

// ImageStore holds product images. Key is an opaque handle later passed back
// to Delete.
type ImageStore interface {
	Upload(ctx context.Context, img ImageUpload) (StoredImage, error)
	Delete(ctx context.Context, key string) error
}
