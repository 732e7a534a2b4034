package imagestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"MiniShop/internal/catalog"
)

var _ catalog.ImageStore = (*Host)(nil)

var (
	ErrHostUnavailable = errors.New("image host unavailable")
	ErrHostBadStatus   = errors.New("image host bad status")
	ErrHostRejected    = errors.New("image host rejected upload")
)

const maxHostResponse = 1 << 20

// Host uploads to an imgbb-style hosting API: multipart field "image", API key
// in the "key" query parameter, JSON reply carrying data.url and
// data.delete_url. The delete URL is kept as the image key.
type Host struct {
	UploadURL string
	APIKey    string
	Client    *http.Client
}

type hostResponse struct {
	Success bool `json:"success"`
	Data    struct {
		URL       string `json:"url"`
		DeleteURL string `json:"delete_url"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewHost(uploadURL, apiKey string, timeout time.Duration) (*Host, error) {
	u, err := url.Parse(uploadURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid image host url %q", uploadURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Host{
		UploadURL: uploadURL,
		APIKey:    apiKey,
		Client:    &http.Client{Timeout: timeout},
	}, nil
}

func (h *Host) Upload(ctx context.Context, img catalog.ImageUpload) (catalog.StoredImage, error) {
	body, contentType, err := multipartImage(img)
	if err != nil {
		return catalog.StoredImage{}, err
	}

	target, err := url.Parse(h.UploadURL)
	if err != nil {
		return catalog.StoredImage{}, err
	}
	if h.APIKey != "" {
		q := target.Query()
		q.Set("key", h.APIKey)
		target.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), body)
	if err != nil {
		return catalog.StoredImage{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return catalog.StoredImage{}, fmt.Errorf("%w: %w", ErrHostUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHostResponse))
	if err != nil {
		return catalog.StoredImage{}, fmt.Errorf("%w: %w", ErrHostUnavailable, err)
	}

	var hr hostResponse
	decodeErr := json.Unmarshal(raw, &hr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && hr.Error.Message != "" {
			return catalog.StoredImage{}, fmt.Errorf("%w: status=%d: %s", ErrHostBadStatus, resp.StatusCode, hr.Error.Message)
		}
		return catalog.StoredImage{}, fmt.Errorf("%w: status=%d", ErrHostBadStatus, resp.StatusCode)
	}
	if decodeErr != nil {
		return catalog.StoredImage{}, fmt.Errorf("decode image host response: %w", decodeErr)
	}
	if !hr.Success || hr.Data.URL == "" {
		return catalog.StoredImage{}, ErrHostRejected
	}

	return catalog.StoredImage{URL: hr.Data.URL, Key: hr.Data.DeleteURL}, nil
}

// Delete calls the delete URL handed out at upload. An empty handle means the
// host gave none and there is nothing to do.
func (h *Host) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, key, nil)
	if err != nil {
		return err
	}
	// The key only goes back to the host it was configured for.
	if h.APIKey != "" && h.sameHost(req.URL) {
		q := req.URL.Query()
		q.Set("key", h.APIKey)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHostUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("%w: status=%d", ErrHostBadStatus, resp.StatusCode)
	}
}

func (h *Host) sameHost(u *url.URL) bool {
	up, err := url.Parse(h.UploadURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(up.Scheme, u.Scheme) && strings.EqualFold(up.Host, u.Host)
}

func multipartImage(img catalog.ImageUpload) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := img.Filename
	if name == "" {
		name = newKey(img)
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, name))
	hdr.Set("Content-Type", contentType)

	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
