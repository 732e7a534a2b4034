// Package imagestore implements catalog.ImageStore over a local directory, an
// S3-compatible bucket and an HTTP image hosting API.
package imagestore

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"MiniShop/internal/catalog"
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// newKey returns a random object name. Client filenames only contribute an
// extension, and only when the content type gave none.
func newKey(img catalog.ImageUpload) string {
	ext := strings.ToLower(img.Extension)
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(img.Filename))
	}
	if !safeExt.MatchString(ext) {
		ext = ""
	}
	return uuid.NewString() + ext
}
